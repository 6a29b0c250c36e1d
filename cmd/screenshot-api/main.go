package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	// Application
	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/internal/application/usecase"

	// Infrastructure
	natsMessaging "github.com/dreschagin/screenshot-api/internal/infrastructure/messaging/nats"
	"github.com/dreschagin/screenshot-api/internal/infrastructure/observability/cloudwatch"
	"github.com/dreschagin/screenshot-api/internal/infrastructure/observability/metrics"
	memoryLimiter "github.com/dreschagin/screenshot-api/internal/infrastructure/ratelimit/memory"
	redisLimiter "github.com/dreschagin/screenshot-api/internal/infrastructure/ratelimit/redis"
	"github.com/dreschagin/screenshot-api/internal/infrastructure/render/browserless"
	cloudinaryStorage "github.com/dreschagin/screenshot-api/internal/infrastructure/storage/cloudinary"
	s3storage "github.com/dreschagin/screenshot-api/internal/infrastructure/storage/s3"

	// Interfaces
	httpInterface "github.com/dreschagin/screenshot-api/internal/interfaces/http"
	"github.com/dreschagin/screenshot-api/internal/interfaces/http/handler"

	// Shared
	"github.com/dreschagin/screenshot-api/pkg/config"
	"github.com/dreschagin/screenshot-api/pkg/logger"
)

func main() {
	// 1. Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализируем logger
	log := logger.NewWithFile(cfg.Log.Level, logger.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	log.Info("Starting Screenshot API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Observability: CloudWatch Logs, CloudWatch Metrics, Prometheus

	var logsPublisher *cloudwatch.LogsPublisher
	if cfg.CloudWatch.LogsEnabled {
		logsPublisher, err = cloudwatch.NewLogsPublisher(ctx, cloudwatch.LogsPublisherConfig{
			LogGroupName:    cfg.CloudWatch.LogGroupName,
			LogStreamName:   cfg.CloudWatch.LogStreamName,
			Region:          cfg.CloudWatch.Region,
			Endpoint:        cfg.CloudWatch.Endpoint,
			AccessKeyID:     cfg.CloudWatch.AccessKeyID,
			SecretAccessKey: cfg.CloudWatch.SecretAccessKey,
			BufferSize:      cfg.CloudWatch.LogsBufferSize,
			FlushInterval:   cfg.CloudWatch.LogsFlushInterval,
			AutoCreate:      true,
		})
		if err != nil {
			log.Error("Failed to initialize CloudWatch logs publisher", err)
			os.Exit(1)
		}
		log.SetLogPublisher(logsPublisher)
		log.Info("CloudWatch logs enabled", "log_group", cfg.CloudWatch.LogGroupName)
	}

	var metricsPublisher port.MetricsPublisher
	var cloudwatchMetrics *cloudwatch.MetricsPublisher
	if cfg.CloudWatch.MetricsEnabled {
		cloudwatchMetrics, err = cloudwatch.NewMetricsPublisher(ctx, cloudwatch.MetricsPublisherConfig{
			Namespace:         cfg.CloudWatch.MetricsNamespace,
			Region:            cfg.CloudWatch.Region,
			Endpoint:          cfg.CloudWatch.Endpoint,
			AccessKeyID:       cfg.CloudWatch.AccessKeyID,
			SecretAccessKey:   cfg.CloudWatch.SecretAccessKey,
			DefaultDimensions: cfg.CloudWatch.MetricsDimensions,
			BufferSize:        cfg.CloudWatch.MetricsBufferSize,
			FlushInterval:     cfg.CloudWatch.MetricsFlushInterval,
		}, log)
		if err != nil {
			log.Error("Failed to initialize CloudWatch metrics publisher", err)
			os.Exit(1)
		}
		metricsPublisher = cloudwatchMetrics
		log.Info("CloudWatch metrics enabled", "namespace", cfg.CloudWatch.MetricsNamespace)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMetrics := metrics.New(registry)

	// 4. Dependency Injection - Infrastructure Layer

	var eventPublisher port.EventPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err := natsMessaging.NewNATSPublisher(natsMessaging.Config{
			URL:       cfg.NATS.URL,
			Name:      "screenshot-api",
			JetStream: cfg.NATS.JetStream,
		}, log)
		if err != nil {
			// События не критичны: сервис продолжает работать без них.
			log.Warn("NATS unavailable, capture events disabled", "error", err.Error())
		} else {
			eventPublisher = natsPublisher
		}
	}

	var assetStorage port.AssetStorage
	switch cfg.Storage.Provider {
	case config.StorageProviderCloudinary:
		store, err := cloudinaryStorage.NewAssetStorage(cloudinaryStorage.Config{
			URL:    cfg.Cloudinary.URL,
			Folder: cfg.Cloudinary.Folder,
		})
		if err != nil {
			log.Error("Failed to initialize Cloudinary storage", err)
			os.Exit(1)
		}
		assetStorage = store
	case config.StorageProviderS3:
		store, err := s3storage.NewAssetStorage(ctx, s3storage.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
			KeyPrefix:       cfg.S3.KeyPrefix,
			URLMode:         s3storage.URLMode(cfg.S3.URLMode),
			PresignedTTL:    cfg.S3.PresignedTTL,
			JPEGQuality:     cfg.S3.JPEGQuality,
		})
		if err != nil {
			log.Error("Failed to initialize S3 storage", err)
			os.Exit(1)
		}
		assetStorage = store
	default:
		log.Warn("Storage provider is disabled, captures will fail at persistence")
	}
	log.Info("Storage configured", "provider", string(cfg.Storage.Provider))

	if cfg.Browserless.BaseURL == "" || cfg.Browserless.Token == "" {
		log.Warn("Browserless is not configured, captures will be rejected")
	}
	renderer := browserless.NewClient(browserless.Config{
		Timeout:          cfg.Browserless.Timeout,
		MaxResponseBytes: cfg.Browserless.MaxResponseBytes,
	}, log)

	var rateLimiter port.RateLimiter
	readiness := make(map[string]httpInterface.ReadinessCheck)
	if cfg.Capture.RateLimitPerMinute > 0 {
		switch cfg.Capture.RateLimitBackend {
		case "redis":
			limiter, err := redisLimiter.NewFixedWindowLimiter(redisLimiter.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}, cfg.Capture.RateLimitPerMinute, time.Minute)
			if err != nil {
				log.Error("Failed to connect to Redis", err, "addr", cfg.Redis.Addr)
				os.Exit(1)
			}
			defer limiter.Close()
			rateLimiter = limiter
			readiness["redis"] = limiter.Ping
		default:
			limiter := memoryLimiter.NewKeyedLimiter(cfg.Capture.RateLimitPerMinute)
			defer limiter.Close()
			rateLimiter = limiter
		}
		log.Info("Capture rate limit enabled",
			"per_minute", cfg.Capture.RateLimitPerMinute,
			"backend", cfg.Capture.RateLimitBackend)
	}

	// 5. Dependency Injection - Application Layer (Use Cases)

	captureScreenshotUC := usecase.NewCaptureScreenshotUseCase(
		renderer,
		assetStorage,
		promMetrics,
		metricsPublisher,
		eventPublisher,
		usecase.CaptureScreenshotConfig{
			Render: usecase.RenderConfig{
				BaseURL: cfg.Browserless.BaseURL,
				Token:   cfg.Browserless.Token,
			},
			EventSubjectPrefix: cfg.NATS.SubjectPrefix,
		},
		log,
	)

	// 6. Dependency Injection - Interfaces Layer (HTTP Handlers)

	captureAPIHandler := handler.NewCaptureAPIHandler(captureScreenshotUC, cfg.Capture.MaxBodyBytes, log)

	// Router
	router := httpInterface.NewRouter(
		captureAPIHandler,
		rateLimiter,
		promMetrics,
		registry,
		cfg.Security,
		log,
	)
	for name, check := range readiness {
		router.AddReadinessCheck(name, check)
	}

	// 7. Настраиваем HTTP сервер

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Канал для получения сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Запускаем сервер в отдельной goroutine
	go func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}()

	// 8. Ожидаем сигнал для graceful shutdown

	<-sigChan
	log.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", err)
	}

	// Сбрасываем буферы внешних приемников после остановки входящего трафика
	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			log.Warn("NATS close error", "error", err.Error())
		}
	}
	if cloudwatchMetrics != nil {
		if err := cloudwatchMetrics.Close(shutdownCtx); err != nil {
			log.Warn("CloudWatch metrics flush error", "error", err.Error())
		}
	}

	log.Info("Server stopped gracefully")

	if logsPublisher != nil {
		log.SetLogPublisher(nil)
		if err := logsPublisher.Close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "CloudWatch logs flush error: %v\n", err)
		}
	}
}

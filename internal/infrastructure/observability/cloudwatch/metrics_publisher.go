package cloudwatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/pkg/logger"
)

// PutMetricData accepts at most this many data points per call.
const maxMetricsPerRequest = 1000

// MetricsPublisherConfig holds configuration for CloudWatch metrics publishing.
type MetricsPublisherConfig struct {
	Namespace       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	// DefaultDimensions are merged under every datum's own dimensions.
	DefaultDimensions map[string]string
	BufferSize        int
	FlushInterval     time.Duration
	StorageResolution int32 // 1 or 60 seconds
}

type putMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsPublisher ships capture metrics to CloudWatch in buffered batches.
type MetricsPublisher struct {
	client            putMetricDataAPI
	namespace         string
	defaultDimensions map[string]string
	storageResolution int32

	batch *batcher[port.MetricDatum]
}

func NewMetricsPublisher(ctx context.Context, cfg MetricsPublisherConfig, log *logger.Logger) (*MetricsPublisher, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}

	awsCfg, err := buildAWSConfig(ctx, cfg.Region, cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	return newMetricsPublisher(cloudwatch.NewFromConfig(awsCfg), cfg, log), nil
}

func newMetricsPublisher(client putMetricDataAPI, cfg MetricsPublisherConfig, log *logger.Logger) *MetricsPublisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.StorageResolution != 1 {
		cfg.StorageResolution = 60
	}
	if log == nil {
		log = logger.New("error")
	}

	p := &MetricsPublisher{
		client:            client,
		namespace:         cfg.Namespace,
		defaultDimensions: cfg.DefaultDimensions,
		storageResolution: cfg.StorageResolution,
	}
	p.batch = newBatcher(cfg.BufferSize, cfg.FlushInterval, p.send, func(err error) {
		// остаток уйдет со следующим тиком
		log.Warn("CloudWatch metrics flush failed", "error", err.Error())
	})

	return p
}

// PublishBatch implements port.MetricsPublisher.
func (p *MetricsPublisher) PublishBatch(ctx context.Context, metrics []port.MetricDatum) error {
	return p.batch.add(ctx, metrics...)
}

// Flush implements port.MetricsPublisher.
func (p *MetricsPublisher) Flush(ctx context.Context) error {
	return p.batch.flush(ctx)
}

func (p *MetricsPublisher) Close(ctx context.Context) error {
	return p.batch.close(ctx)
}

func (p *MetricsPublisher) send(ctx context.Context, metrics []port.MetricDatum) error {
	for start := 0; start < len(metrics); start += maxMetricsPerRequest {
		end := min(start+maxMetricsPerRequest, len(metrics))

		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: make([]types.MetricDatum, 0, end-start),
		}
		for _, metric := range metrics[start:end] {
			input.MetricData = append(input.MetricData, p.convertToDatum(metric))
		}

		err := retryPut(ctx, func(ctx context.Context) error {
			_, err := p.client.PutMetricData(ctx, input)
			return err
		}, nil)
		if err != nil {
			return fmt.Errorf("put metric data [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// convertToDatum merges default dimensions under the datum's own and orders them by name.
func (p *MetricsPublisher) convertToDatum(metric port.MetricDatum) types.MetricDatum {
	timestamp := metric.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	merged := make(map[string]string, len(p.defaultDimensions)+len(metric.Dimensions))
	for name, value := range p.defaultDimensions {
		merged[name] = value
	}
	for name, value := range metric.Dimensions {
		merged[name] = value
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	datum := types.MetricDatum{
		MetricName: aws.String(metric.Name),
		Value:      aws.Float64(metric.Value),
		Unit:       mapUnit(metric.Unit),
		Timestamp:  aws.Time(timestamp),
		Dimensions: make([]types.Dimension, 0, len(names)),
	}
	for _, name := range names {
		datum.Dimensions = append(datum.Dimensions, types.Dimension{
			Name:  aws.String(name),
			Value: aws.String(merged[name]),
		})
	}
	if p.storageResolution > 0 {
		datum.StorageResolution = aws.Int32(p.storageResolution)
	}

	return datum
}

var standardUnits = map[string]types.StandardUnit{
	"%":     types.StandardUnitPercent,
	"bytes": types.StandardUnitBytes,
	"KB":    types.StandardUnitKilobytes,
	"MB":    types.StandardUnitMegabytes,
	"ms":    types.StandardUnitMilliseconds,
	"s":     types.StandardUnitSeconds,
	"count": types.StandardUnitCount,
}

func mapUnit(unit string) types.StandardUnit {
	if standard, ok := standardUnits[unit]; ok {
		return standard
	}
	return types.StandardUnitNone
}

// buildAWSConfig uses static credentials when both keys are set, the default chain otherwise.
func buildAWSConfig(ctx context.Context, region, endpoint, accessKeyID, secretAccessKey string) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}
	return cfg, nil
}

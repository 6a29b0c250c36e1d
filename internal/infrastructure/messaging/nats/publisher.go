package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/dreschagin/screenshot-api/pkg/logger"
)

const closeTimeout = 5 * time.Second

// Config configures the capture event publisher.
type Config struct {
	URL string
	// Name is reported to the server as the connection name.
	Name string
	// JetStream publishes through JetStream when true, core NATS otherwise.
	JetStream bool
}

// NATSPublisher implements port.EventPublisher on top of NATS.
type NATSPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *logger.Logger
}

// NewNATSPublisher creates a new NATS publisher
func NewNATSPublisher(cfg Config, log *logger.Logger) (*NATSPublisher, error) {
	if cfg.Name == "" {
		cfg.Name = "screenshot-api"
	}

	// Connect to NATS with retry
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	publisher := &NATSPublisher{nc: nc, logger: log}

	if cfg.JetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}
		publisher.js = js
	}

	log.Info("Connected to NATS", "url", cfg.URL, "jetstream", cfg.JetStream)

	return publisher, nil
}

// PublishEvent publishes an event as JSON. JetStream publishes are async.
func (p *NATSPublisher) PublishEvent(ctx context.Context, subject string, event interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMessage(subject, event)
	if err != nil {
		return err
	}

	if p.js != nil {
		_, err = p.js.PublishMsgAsync(msg)
	} else {
		err = p.nc.PublishMsg(msg)
	}
	if err != nil {
		p.logger.Error("Failed to publish event", err,
			"subject", subject,
		)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Event published",
		"subject", subject,
		"size", len(msg.Data),
	)

	return nil
}

// Close waits for pending async publishes and drains the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}

	p.logger.Info("Closing NATS connection")

	if p.js != nil {
		select {
		case <-p.js.PublishAsyncComplete():
		case <-time.After(closeTimeout):
			p.logger.Warn("Timed out waiting for pending NATS publishes",
				"pending", p.js.PublishAsyncPending(),
			)
		}
	}

	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

func buildMessage(subject string, event interface{}) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	return msg, nil
}

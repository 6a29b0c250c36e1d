package cloudwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	applicationPort "github.com/dreschagin/screenshot-api/internal/application/port"
)

// PutLogEvents limits.
const (
	maxLogEventsPerRequest = 10000
	maxLogBatchSize        = 1048576 // 1 MB
	maxLogEventSize        = 256000
	logEventOverhead       = 26
)

// LogsPublisherConfig holds configuration for CloudWatch logs publishing.
type LogsPublisherConfig struct {
	LogGroupName    string
	LogStreamName   string
	Region          string
	Endpoint        string // LocalStack override
	AccessKeyID     string
	SecretAccessKey string
	BufferSize      int
	FlushInterval   time.Duration
	AutoCreate      bool // create group and stream at startup
}

type logsAPI interface {
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
}

// LogsPublisher mirrors application log entries into a CloudWatch log stream.
// It is fed by the application logger, so it never logs through it.
type LogsPublisher struct {
	client        logsAPI
	logGroupName  string
	logStreamName string

	// guarded by the batcher lock: only send touches it
	sequenceToken *string

	batch *batcher[applicationPort.LogEntry]
}

func NewLogsPublisher(ctx context.Context, cfg LogsPublisherConfig) (*LogsPublisher, error) {
	switch {
	case cfg.LogGroupName == "":
		return nil, fmt.Errorf("log group name is required")
	case cfg.LogStreamName == "":
		return nil, fmt.Errorf("log stream name is required")
	case cfg.Region == "":
		return nil, fmt.Errorf("region is required")
	}

	awsCfg, err := buildAWSConfig(ctx, cfg.Region, cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	return newLogsPublisher(ctx, cloudwatchlogs.NewFromConfig(awsCfg), cfg)
}

func newLogsPublisher(ctx context.Context, client logsAPI, cfg LogsPublisherConfig) (*LogsPublisher, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	p := &LogsPublisher{
		client:        client,
		logGroupName:  cfg.LogGroupName,
		logStreamName: cfg.LogStreamName,
	}

	if cfg.AutoCreate {
		if err := p.ensureLogGroupAndStream(ctx); err != nil {
			return nil, fmt.Errorf("failed to create log group/stream: %w", err)
		}
	}

	p.batch = newBatcher(cfg.BufferSize, cfg.FlushInterval, p.send, func(err error) {
		fmt.Fprintf(os.Stderr, "cloudwatch logs flush failed: %v\n", err)
	})

	return p, nil
}

// Publish implements port.LogPublisher.
func (p *LogsPublisher) Publish(ctx context.Context, entry applicationPort.LogEntry) error {
	return p.batch.add(ctx, entry)
}

// PublishBatch implements port.LogPublisher.
func (p *LogsPublisher) PublishBatch(ctx context.Context, entries []applicationPort.LogEntry) error {
	return p.batch.add(ctx, entries...)
}

// Flush implements port.LogPublisher.
func (p *LogsPublisher) Flush(ctx context.Context) error {
	return p.batch.flush(ctx)
}

func (p *LogsPublisher) Close(ctx context.Context) error {
	return p.batch.close(ctx)
}

func (p *LogsPublisher) send(ctx context.Context, entries []applicationPort.LogEntry) error {
	// events in one request must be in chronological order
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	events := make([]types.InputLogEvent, 0, len(entries))
	for _, entry := range entries {
		event, err := p.convertToLogEvent(entry)
		if err != nil {
			continue
		}
		events = append(events, event)
	}

	for _, chunk := range chunkLogEvents(events) {
		if err := retryPut(ctx, func(ctx context.Context) error {
			return p.putLogEvents(ctx, chunk)
		}, p.adoptExpectedToken); err != nil {
			return fmt.Errorf("put log events: %w", err)
		}
	}
	return nil
}

func (p *LogsPublisher) putLogEvents(ctx context.Context, events []types.InputLogEvent) error {
	output, err := p.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(p.logGroupName),
		LogStreamName: aws.String(p.logStreamName),
		LogEvents:     events,
		SequenceToken: p.sequenceToken,
	})
	if err != nil {
		return err
	}
	p.sequenceToken = output.NextSequenceToken
	return nil
}

// adoptExpectedToken picks up the token CloudWatch expects so the retry can go out at once.
func (p *LogsPublisher) adoptExpectedToken(err error) bool {
	var invalidSeqErr *types.InvalidSequenceTokenException
	if !errors.As(err, &invalidSeqErr) {
		return false
	}
	p.sequenceToken = invalidSeqErr.ExpectedSequenceToken
	return true
}

// chunkLogEvents splits events so each request stays within the count and size limits.
func chunkLogEvents(events []types.InputLogEvent) [][]types.InputLogEvent {
	chunks := make([][]types.InputLogEvent, 0, 1)
	start, size := 0, 0

	for i, event := range events {
		eventSize := len(aws.ToString(event.Message)) + logEventOverhead
		if i > start && (i-start >= maxLogEventsPerRequest || size+eventSize > maxLogBatchSize) {
			chunks = append(chunks, events[start:i])
			start, size = i, 0
		}
		size += eventSize
	}
	if start < len(events) {
		chunks = append(chunks, events[start:])
	}

	return chunks
}

// convertToLogEvent renders an entry as one JSON line, truncated to the event size limit.
func (p *LogsPublisher) convertToLogEvent(entry applicationPort.LogEntry) (types.InputLogEvent, error) {
	line := map[string]interface{}{
		"timestamp": entry.Timestamp.Format(time.RFC3339Nano),
		"level":     string(entry.Level),
		"message":   entry.Message,
		"stream":    p.logStreamName,
	}
	if len(entry.Fields) > 0 {
		line["fields"] = entry.Fields
	}

	encoded, err := json.Marshal(line)
	if err != nil {
		return types.InputLogEvent{}, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	message := string(encoded)
	if len(message) > maxLogEventSize {
		message = message[:maxLogEventSize-3] + "..."
	}

	return types.InputLogEvent{
		Message:   aws.String(message),
		Timestamp: aws.Int64(entry.Timestamp.UnixMilli()),
	}, nil
}

// ensureLogGroupAndStream tolerates a group or stream that already exists.
func (p *LogsPublisher) ensureLogGroupAndStream(ctx context.Context) error {
	var alreadyExists *types.ResourceAlreadyExistsException

	_, err := p.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(p.logGroupName),
	})
	if err != nil && !errors.As(err, &alreadyExists) {
		return fmt.Errorf("failed to create log group: %w", err)
	}

	_, err = p.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(p.logGroupName),
		LogStreamName: aws.String(p.logStreamName),
	})
	if err != nil && !errors.As(err, &alreadyExists) {
		return fmt.Errorf("failed to create log stream: %w", err)
	}

	return nil
}

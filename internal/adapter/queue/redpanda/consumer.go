package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// ReportHandler processes one report generation task. Implemented by
// usecase.ReportGenerator.
type ReportHandler interface {
	Generate(ctx context.Context, payload domain.ReportTaskPayload) error
}

// ConsumerConfig tunes the consumer worker pool and retry policy.
type ConsumerConfig struct {
	GroupID        string
	MaxConcurrency int
	MaxAttempts    int
}

// Consumer polls report tasks and runs them through a ReportHandler with
// bounded concurrency. Failed tasks with a transient failure code are
// redelivered up to MaxAttempts; everything else lands on the DLQ topic.
type Consumer struct {
	client  *kgo.Client
	handler ReportHandler

	groupID     string
	topic       string
	dlqTopic    string
	maxAttempts int

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewConsumer constructs a Consumer joined to the given group.
func NewConsumer(brokers []string, cfg ConsumerConfig, handler ReportHandler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(TopicReports),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),

		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
		kgo.FetchMaxWait(5*time.Second),

		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	slog.Info("redpanda consumer created",
		slog.String("group_id", cfg.GroupID),
		slog.String("topic", TopicReports),
		slog.Int("max_concurrency", cfg.MaxConcurrency),
		slog.Int("max_attempts", cfg.MaxAttempts))

	return &Consumer{
		client:      client,
		handler:     handler,
		groupID:     cfg.GroupID,
		topic:       TopicReports,
		dlqTopic:    TopicReportsDLQ,
		maxAttempts: cfg.MaxAttempts,
		sem:         make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

// Start polls until the context is cancelled. In-flight tasks are waited on
// before returning.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("redpanda consumer starting",
		slog.String("group_id", c.groupID), slog.String("topic", c.topic))

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			slog.Info("redpanda consumer stopped")
			return ctx.Err()
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			c.wg.Wait()
			return fmt.Errorf("consumer client closed")
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				if fe.Err == context.Canceled {
					continue
				}
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			c.wg.Add(1)
			go func(rec *kgo.Record) {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				c.processRecord(ctx, rec)
				c.client.MarkCommitRecords(rec)
			}(record)
		})
	}
}

// processRecord runs one record through the handler and applies the retry/DLQ
// policy on failure.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessReportJob")
	defer span.End()

	var payload domain.ReportTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		slog.Error("unparseable report task, sending to DLQ",
			slog.Int64("offset", record.Offset), slog.Any("error", err))
		c.sendToDLQ(ctx, record)
		return
	}

	lg := slog.With(
		slog.String("job_id", payload.JobID),
		slog.String("profile_id", payload.ProfileID))

	err := c.handler.Generate(ctx, payload)
	if err == nil {
		lg.Info("report task completed")
		return
	}

	code := classifyFailureCode(err.Error())
	attempts := attemptsFromRecord(record)
	lg.Error("report task failed",
		slog.String("failure_code", code),
		slog.Int("attempts", attempts),
		slog.Any("error", err))

	if retryableFailure(code) && attempts+1 < c.maxAttempts {
		c.redeliver(ctx, payload, record.Value, attempts+1)
		return
	}
	c.sendToDLQ(ctx, record)
}

func (c *Consumer) redeliver(ctx context.Context, payload domain.ReportTaskPayload, value []byte, attempts int) {
	record := reportRecord(c.topic, payload, value, attempts)
	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		slog.Error("failed to redeliver report task",
			slog.String("job_id", payload.JobID), slog.Any("error", err))
		return
	}
	slog.Info("report task redelivered",
		slog.String("job_id", payload.JobID), slog.Int("attempts", attempts))
}

func (c *Consumer) sendToDLQ(ctx context.Context, record *kgo.Record) {
	dlq := &kgo.Record{
		Topic:   c.dlqTopic,
		Key:     record.Key,
		Value:   record.Value,
		Headers: record.Headers,
	}
	if err := c.client.ProduceSync(ctx, dlq).FirstErr(); err != nil {
		slog.Error("failed to produce to DLQ",
			slog.String("key", string(record.Key)), slog.Any("error", err))
		return
	}
	slog.Warn("report task moved to DLQ", slog.String("key", string(record.Key)))
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// attemptsFromRecord reads the delivery attempt counter header. Missing or
// malformed headers count as the first attempt.
func attemptsFromRecord(record *kgo.Record) int {
	for _, h := range record.Headers {
		if h.Key == headerAttempts {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil || n < 0 {
				return 0
			}
			return n
		}
	}
	return 0
}

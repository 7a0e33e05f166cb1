// Package redpanda provides Redpanda/Kafka queue integration for report jobs.
//
// The producer publishes report generation tasks transactionally; the consumer
// processes them in a bounded worker pool with header-tracked retries and a
// dead-letter topic for jobs that keep failing.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

const (
	// TopicReports is the Kafka topic report generation jobs are published to.
	TopicReports = "report-jobs"
	// TopicReportsDLQ receives jobs that exhausted their delivery attempts.
	TopicReportsDLQ = "report-jobs-dlq"

	headerJobID     = "job_id"
	headerProfileID = "profile_id"
	headerAttempts  = "attempts"
)

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
	// serializes transactions; kgo allows one open transaction per client
	txLock chan struct{}
}

// NewProducer constructs a transactional Producer and ensures the report
// topics exist.
func NewProducer(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if transactionalID == "" {
		transactionalID = "biz-intel-reporter-producer"
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ctx := context.Background()
	for _, topic := range []string{TopicReports, TopicReportsDLQ} {
		if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
			slog.Warn("topic creation failed, it may already exist",
				slog.String("topic", topic), slog.Any("error", err))
		}
	}

	return &Producer{
		client: client,
		topic:  TopicReports,
		txLock: make(chan struct{}, 1),
	}, nil
}

// EnqueueReport publishes a report generation task and returns its task id.
// The job id keys the record so per-job ordering holds across retries.
func (p *Producer) EnqueueReport(ctx domain.Context, payload domain.ReportTaskPayload) (string, error) {
	select {
	case p.txLock <- struct{}{}:
		defer func() { <-p.txLock }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}

	record := reportRecord(p.topic, payload, b, 0)
	promise := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, promise.Promise())

	if err := promise.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("report job enqueued",
		slog.String("job_id", payload.JobID),
		slog.String("profile_id", payload.ProfileID),
		slog.String("topic", p.topic))
	return payload.JobID, nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// reportRecord builds a report task record with tracking headers.
func reportRecord(topic string, payload domain.ReportTaskPayload, value []byte, attempts int) *kgo.Record {
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(payload.JobID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: headerJobID, Value: []byte(payload.JobID)},
			{Key: headerProfileID, Value: []byte(payload.ProfileID)},
			{Key: headerAttempts, Value: []byte(strconv.Itoa(attempts))},
		},
	}
}

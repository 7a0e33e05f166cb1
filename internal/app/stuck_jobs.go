package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// staleJobStore is the slice of the job repository the sweeper needs.
type staleJobStore interface {
	ListStale(ctx domain.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]domain.ReportJob, error)
	UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, errMsg *string) error
}

// StuckJobSweeper fails jobs that have sat in processing past a maximum age,
// typically after a worker crash mid-report.
type StuckJobSweeper struct {
	jobs             staleJobStore
	maxProcessingAge time.Duration
	interval         time.Duration
}

func NewStuckJobSweeper(jobs staleJobStore, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{
		jobs:             jobs,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

// Run sweeps on an interval until the context is cancelled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	const batchSize = 100
	cutoff := time.Now().Add(-s.maxProcessingAge)
	marked := 0

	// Marked jobs drop out of the stale set, so repeating the query walks
	// the whole backlog.
	for {
		jobs, err := s.jobs.ListStale(ctx, domain.JobProcessing, cutoff, batchSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stuck job sweep failed to list jobs", slog.Any("error", err))
			return
		}
		if len(jobs) == 0 {
			break
		}
		for _, j := range jobs {
			msg := fmt.Sprintf("job processing exceeded maximum age %v; marked failed by sweeper", s.maxProcessingAge)
			if err := s.jobs.UpdateStatus(ctx, j.ID, domain.JobFailed, &msg); err != nil {
				slog.Error("stuck job sweep failed to update job status",
					slog.String("job_id", j.ID), slog.Any("error", err))
				continue
			}
			marked++
		}
		if len(jobs) < batchSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("jobs.marked_failed", marked))
	if marked > 0 {
		slog.Warn("stuck jobs marked failed", slog.Int("count", marked))
	}
}

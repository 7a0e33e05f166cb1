package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// CleanupService enforces data retention over jobs, reports and orphaned
// profiles.
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
}

func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes rows older than the retention period in one
// transaction.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	reports, err := tx.Exec(ctx,
		`DELETE FROM reports WHERE job_id IN (SELECT id FROM jobs WHERE created_at < $1)`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup reports: %w", err)
	}
	jobs, err := tx.Exec(ctx, `DELETE FROM jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup jobs: %w", err)
	}
	profiles, err := tx.Exec(ctx,
		`DELETE FROM profiles WHERE created_at < $1 AND id NOT IN (SELECT profile_id FROM jobs)`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup profiles: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_reports", reports.RowsAffected()),
		slog.Int64("deleted_jobs", jobs.RowsAffected()),
		slog.Int64("deleted_profiles", profiles.RowsAffected()),
		slog.Time("cutoff", cutoff))
	return nil
}

// RunPeriodic runs cleanup on an interval until the context is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}

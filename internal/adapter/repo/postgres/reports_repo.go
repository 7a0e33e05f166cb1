package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// ReportRepo persists and loads assembled reports. Analysis sections and the
// data snapshot are stored as JSONB.
type ReportRepo struct{ Pool PgxPool }

func NewReportRepo(p PgxPool) *ReportRepo { return &ReportRepo{Pool: p} }

// Upsert inserts or updates a report by job_id.
func (r *ReportRepo) Upsert(ctx domain.Context, rep domain.Report) error {
	tracer := otel.Tracer("repo.reports")
	ctx, span := tracer.Start(ctx, "reports.Upsert")
	defer span.End()

	perf, err := json.Marshal(rep.Performance)
	if err != nil {
		return fmt.Errorf("op=report.upsert encode performance: %w", err)
	}
	market, err := json.Marshal(rep.Market)
	if err != nil {
		return fmt.Errorf("op=report.upsert encode market: %w", err)
	}
	invest, err := json.Marshal(rep.Investment)
	if err != nil {
		return fmt.Errorf("op=report.upsert encode investment: %w", err)
	}
	snap, err := json.Marshal(rep.Snapshot)
	if err != nil {
		return fmt.Errorf("op=report.upsert encode snapshot: %w", err)
	}

	q := `INSERT INTO reports (job_id, profile_id, performance, market, investment, synthesis, snapshot, degraded, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (job_id)
	DO UPDATE SET performance=EXCLUDED.performance, market=EXCLUDED.market, investment=EXCLUDED.investment,
	synthesis=EXCLUDED.synthesis, snapshot=EXCLUDED.snapshot, degraded=EXCLUDED.degraded`
	_, err = r.Pool.Exec(ctx, q, rep.JobID, rep.ProfileID, perf, market, invest, rep.Synthesis, snap, rep.Degraded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=report.upsert: %w", err)
	}
	return nil
}

// GetByJobID loads a report by its job_id.
func (r *ReportRepo) GetByJobID(ctx domain.Context, jobID string) (domain.Report, error) {
	tracer := otel.Tracer("repo.reports")
	ctx, span := tracer.Start(ctx, "reports.GetByJobID")
	defer span.End()

	q := `SELECT job_id, profile_id, performance, market, investment, synthesis, snapshot, degraded, created_at FROM reports WHERE job_id=$1`
	row := r.Pool.QueryRow(ctx, q, jobID)

	var rep domain.Report
	var perf, market, invest, snap []byte
	if err := row.Scan(&rep.JobID, &rep.ProfileID, &perf, &market, &invest, &rep.Synthesis, &snap, &rep.Degraded, &rep.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Report{}, fmt.Errorf("op=report.get: %w", domain.ErrNotFound)
		}
		return domain.Report{}, fmt.Errorf("op=report.get: %w", err)
	}
	if err := json.Unmarshal(perf, &rep.Performance); err != nil {
		return domain.Report{}, fmt.Errorf("op=report.get decode performance: %w", err)
	}
	if err := json.Unmarshal(market, &rep.Market); err != nil {
		return domain.Report{}, fmt.Errorf("op=report.get decode market: %w", err)
	}
	if err := json.Unmarshal(invest, &rep.Investment); err != nil {
		return domain.Report{}, fmt.Errorf("op=report.get decode investment: %w", err)
	}
	if err := json.Unmarshal(snap, &rep.Snapshot); err != nil {
		return domain.Report{}, fmt.Errorf("op=report.get decode snapshot: %w", err)
	}
	return rep, nil
}

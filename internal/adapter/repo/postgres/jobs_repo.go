package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// JobRepo persists and loads report jobs.
type JobRepo struct{ Pool PgxPool }

func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.ReportJob) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO jobs (id, status, error, profile_id, idempotency_key, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	now := time.Now().UTC()
	_, err := r.Pool.Exec(ctx, q, id, j.Status, j.Error, j.ProfileID, j.IdemKey, now, now)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// UpdateStatus updates a job's status and optional error message.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	q := `UPDATE jobs SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	// error column is NOT NULL; map a nil message to empty.
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	_, err := r.Pool.Exec(ctx, q, id, status, errVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.ReportJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT id, status, COALESCE(error,''), profile_id, idempotency_key, created_at, updated_at FROM jobs WHERE id=$1`
	return r.scanJob(r.Pool.QueryRow(ctx, q, id), "op=job.get")
}

// FindByIdempotencyKey loads a job by idempotency key.
func (r *JobRepo) FindByIdempotencyKey(ctx domain.Context, key string) (domain.ReportJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindByIdempotencyKey")
	defer span.End()
	q := `SELECT id, status, COALESCE(error,''), profile_id, idempotency_key, created_at, updated_at FROM jobs WHERE idempotency_key=$1 LIMIT 1`
	return r.scanJob(r.Pool.QueryRow(ctx, q, key), "op=job.find_idem")
}

// ListStale returns jobs in the given status whose updated_at is older than
// cutoff, oldest first.
func (r *JobRepo) ListStale(ctx domain.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]domain.ReportJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStale")
	defer span.End()
	q := `SELECT id, status, COALESCE(error,''), profile_id, idempotency_key, created_at, updated_at
	FROM jobs WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stale: %w", err)
	}
	defer rows.Close()

	var out []domain.ReportJob
	for rows.Next() {
		var j domain.ReportJob
		var idem *string
		if err := rows.Scan(&j.ID, &j.Status, &j.Error, &j.ProfileID, &idem, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=job.list_stale scan: %w", err)
		}
		j.IdemKey = idem
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_stale rows: %w", err)
	}
	return out, nil
}

func (r *JobRepo) scanJob(row pgx.Row, op string) (domain.ReportJob, error) {
	var j domain.ReportJob
	var idem *string
	if err := row.Scan(&j.ID, &j.Status, &j.Error, &j.ProfileID, &idem, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ReportJob{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return domain.ReportJob{}, fmt.Errorf("%s: %w", op, err)
	}
	j.IdemKey = idem
	return j, nil
}

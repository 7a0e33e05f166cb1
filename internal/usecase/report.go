package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/observability"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// staleAfter is how long a queued/processing job may sit before a status
// read marks it failed. Generous compared to the report deadline so slow
// workers are not falsely reaped.
const staleAfter = 10 * time.Minute

// ReportService orchestrates job creation/queueing and read access to
// finished reports.
type ReportService struct {
	Profiles domain.ProfileRepository
	Jobs     domain.JobRepository
	Reports  domain.ReportRepository
	Queue    domain.Queue
}

func NewReportService(p domain.ProfileRepository, j domain.JobRepository, r domain.ReportRepository, q domain.Queue) ReportService {
	return ReportService{Profiles: p, Jobs: j, Reports: r, Queue: q}
}

// Enqueue validates the profile exists, creates a job, and enqueues the
// report task. A repeated idempotency key returns the original job id.
func (s ReportService) Enqueue(ctx domain.Context, profileID, idemKey string) (string, error) {
	if profileID == "" {
		return "", fmt.Errorf("%w: profile_id required", domain.ErrInvalidArgument)
	}
	if idemKey != "" {
		if j, err := s.Jobs.FindByIdempotencyKey(ctx, idemKey); err == nil && j.ID != "" {
			return j.ID, nil
		}
	}
	if _, err := s.Profiles.Get(ctx, profileID); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	j := domain.ReportJob{Status: domain.JobQueued, ProfileID: profileID, CreatedAt: now, UpdatedAt: now}
	if idemKey != "" {
		j.IdemKey = &idemKey
	}
	jobID, err := s.Jobs.Create(ctx, j)
	if err != nil {
		return "", err
	}

	payload := domain.ReportTaskPayload{JobID: jobID, ProfileID: profileID}
	if _, err := s.Queue.EnqueueReport(ctx, payload); err != nil {
		_ = s.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, ptr("enqueue failed"))
		return "", err
	}
	observability.EnqueueJob("report")
	return jobID, nil
}

// Fetch returns the HTTP status, response body and ETag for a job id,
// implementing conditional responses and the stale-job policy.
func (s ReportService) Fetch(ctx domain.Context, id, ifNoneMatch string) (int, map[string]any, string, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound, nil, "", fmt.Errorf("%w: job not found", domain.ErrNotFound)
		}
		return http.StatusInternalServerError, nil, "", err
	}

	if job.Status != domain.JobCompleted {
		now := time.Now().UTC()
		stale := (job.Status == domain.JobQueued && now.Sub(job.CreatedAt) > staleAfter) ||
			(job.Status == domain.JobProcessing && now.Sub(job.UpdatedAt) > staleAfter)
		if stale {
			slog.Warn("job marked stale",
				slog.String("job_id", id),
				slog.String("status", string(job.Status)))
			msg := "timeout: job exceeded processing window"
			_ = s.Jobs.UpdateStatus(ctx, id, domain.JobFailed, &msg)
			job.Status = domain.JobFailed
			job.Error = msg
		}
		m := map[string]any{"id": id, "status": string(job.Status)}
		if job.Status == domain.JobFailed {
			m["error"] = map[string]any{
				"code":    errorCodeFromJobError(job.Error),
				"message": job.Error,
			}
		}
		etag := makeETag(m)
		if etag == ifNoneMatch {
			return http.StatusNotModified, nil, etag, nil
		}
		return http.StatusOK, m, etag, nil
	}

	rep, err := s.Reports.GetByJobID(ctx, id)
	if err != nil {
		return http.StatusInternalServerError, nil, "", err
	}
	m := map[string]any{
		"id": id, "status": string(domain.JobCompleted),
		"report": map[string]any{
			"performance": rep.Performance,
			"market":      rep.Market,
			"investment":  rep.Investment,
			"synthesis":   rep.Synthesis,
			"snapshot":    rep.Snapshot,
			"degraded":    rep.Degraded,
			"created_at":  rep.CreatedAt,
		},
	}
	etag := makeETag(m)
	if etag == ifNoneMatch {
		return http.StatusNotModified, nil, etag, nil
	}
	return http.StatusOK, m, etag, nil
}

func makeETag(v any) string {
	b, _ := json.Marshal(v)
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

// errorCodeFromJobError maps a stored job error message to a stable code.
func errorCodeFromJobError(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case strings.Contains(s, "schema invalid"), strings.Contains(s, "invalid json"):
		return "SCHEMA_INVALID"
	case strings.Contains(s, "rate limit"):
		return "UPSTREAM_RATE_LIMIT"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "UPSTREAM_TIMEOUT"
	case strings.Contains(s, "not found"):
		return "NOT_FOUND"
	case strings.Contains(s, "invalid argument"):
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL"
	}
}

func ptr(s string) *string { return &s }

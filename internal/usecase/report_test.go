package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

func newReportFixture(t *testing.T) (ReportService, *fakeProfileRepo, *fakeJobRepo, *fakeReportRepo, *fakeQueue) {
	t.Helper()
	profiles := newFakeProfileRepo()
	jobs := newFakeJobRepo()
	reports := newFakeReportRepo()
	queue := &fakeQueue{}
	return NewReportService(profiles, jobs, reports, queue), profiles, jobs, reports, queue
}

func seedProfile(t *testing.T, repo *fakeProfileRepo) string {
	t.Helper()
	id, err := repo.Create(context.Background(), domain.BusinessProfile{
		Name: "Acme", Sector: "Technology", State: "Texas",
	})
	require.NoError(t, err)
	return id
}

func TestReportEnqueue_Success(t *testing.T) {
	svc, profiles, jobs, _, queue := newReportFixture(t)
	pid := seedProfile(t, profiles)

	jobID, err := svc.Enqueue(context.Background(), pid, "")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	j, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobQueued, j.Status)
	require.Len(t, queue.payloads, 1)
	require.Equal(t, jobID, queue.payloads[0].JobID)
	require.Equal(t, pid, queue.payloads[0].ProfileID)
}

func TestReportEnqueue_IdempotencyReturnsExistingJob(t *testing.T) {
	svc, profiles, _, _, queue := newReportFixture(t)
	pid := seedProfile(t, profiles)

	first, err := svc.Enqueue(context.Background(), pid, "idem-1")
	require.NoError(t, err)
	second, err := svc.Enqueue(context.Background(), pid, "idem-1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, queue.payloads, 1, "second call must not enqueue")
}

func TestReportEnqueue_UnknownProfile(t *testing.T) {
	svc, _, _, _, _ := newReportFixture(t)
	_, err := svc.Enqueue(context.Background(), "missing", "")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestReportEnqueue_QueueFailureMarksJobFailed(t *testing.T) {
	svc, profiles, jobs, _, queue := newReportFixture(t)
	pid := seedProfile(t, profiles)
	queue.err = errors.New("broker down")

	_, err := svc.Enqueue(context.Background(), pid, "")
	require.Error(t, err)

	// The created job must be marked failed, not left queued.
	for _, j := range jobs.jobs {
		require.Equal(t, domain.JobFailed, j.Status)
	}
}

func TestReportFetch_NotFound(t *testing.T) {
	svc, _, _, _, _ := newReportFixture(t)
	code, _, _, err := svc.Fetch(context.Background(), "nope", "")
	require.Equal(t, http.StatusNotFound, code)
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestReportFetch_QueuedEnvelopeAndETag(t *testing.T) {
	svc, profiles, _, _, _ := newReportFixture(t)
	pid := seedProfile(t, profiles)
	jobID, err := svc.Enqueue(context.Background(), pid, "")
	require.NoError(t, err)

	code, body, etag, err := svc.Fetch(context.Background(), jobID, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "queued", body["status"])
	require.NotEmpty(t, etag)

	// Same ETag returns 304.
	code, body, _, err = svc.Fetch(context.Background(), jobID, etag)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotModified, code)
	require.Nil(t, body)
}

func TestReportFetch_FailedCarriesErrorCode(t *testing.T) {
	svc, profiles, jobs, _, _ := newReportFixture(t)
	pid := seedProfile(t, profiles)
	jobID, err := svc.Enqueue(context.Background(), pid, "")
	require.NoError(t, err)
	msg := "upstream rate limit: fred"
	require.NoError(t, jobs.UpdateStatus(context.Background(), jobID, domain.JobFailed, &msg))

	code, body, _, err := svc.Fetch(context.Background(), jobID, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "failed", body["status"])
	errObj := body["error"].(map[string]any)
	require.Equal(t, "UPSTREAM_RATE_LIMIT", errObj["code"])
}

func TestReportFetch_StaleQueuedJobMarkedFailed(t *testing.T) {
	svc, profiles, jobs, _, _ := newReportFixture(t)
	pid := seedProfile(t, profiles)
	jobID, err := svc.Enqueue(context.Background(), pid, "")
	require.NoError(t, err)

	j := jobs.jobs[jobID]
	j.CreatedAt = time.Now().UTC().Add(-time.Hour)
	jobs.jobs[jobID] = j

	_, body, _, err := svc.Fetch(context.Background(), jobID, "")
	require.NoError(t, err)
	require.Equal(t, "failed", body["status"])
	errObj := body["error"].(map[string]any)
	require.Equal(t, "UPSTREAM_TIMEOUT", errObj["code"])
}

func TestReportFetch_CompletedReturnsReport(t *testing.T) {
	svc, profiles, jobs, reports, _ := newReportFixture(t)
	pid := seedProfile(t, profiles)
	jobID, err := svc.Enqueue(context.Background(), pid, "")
	require.NoError(t, err)

	require.NoError(t, reports.Upsert(context.Background(), domain.Report{
		JobID:     jobID,
		ProfileID: pid,
		Synthesis: "All signals point up.",
		Degraded:  false,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, jobs.UpdateStatus(context.Background(), jobID, domain.JobCompleted, nil))

	code, body, etag, err := svc.Fetch(context.Background(), jobID, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", body["status"])
	rep := body["report"].(map[string]any)
	require.Equal(t, "All signals point up.", rep["synthesis"])
	require.NotEmpty(t, etag)
}

func TestErrorCodeFromJobError(t *testing.T) {
	cases := map[string]string{
		"schema invalid: bad payload":  "SCHEMA_INVALID",
		"upstream rate limit hit":      "UPSTREAM_RATE_LIMIT",
		"context deadline exceeded":    "UPSTREAM_TIMEOUT",
		"profile not found":            "NOT_FOUND",
		"invalid argument: bad state":  "INVALID_ARGUMENT",
		"something else entirely":      "INTERNAL",
	}
	for msg, want := range cases {
		require.Equal(t, want, errorCodeFromJobError(msg), msg)
	}
}

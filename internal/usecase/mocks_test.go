package usecase

import (
	"fmt"
	"sync"

	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]domain.BusinessProfile
	nextID   int
	getErr   error
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: map[string]domain.BusinessProfile{}}
}

func (r *fakeProfileRepo) Create(_ domain.Context, p domain.BusinessProfile) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("profile-%d", r.nextID)
	p.ID = id
	r.profiles[id] = p
	return id, nil
}

func (r *fakeProfileRepo) Get(_ domain.Context, id string) (domain.BusinessProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.BusinessProfile{}, r.getErr
	}
	p, ok := r.profiles[id]
	if !ok {
		return domain.BusinessProfile{}, fmt.Errorf("%w: profile %s", domain.ErrNotFound, id)
	}
	return p, nil
}

type fakeJobRepo struct {
	mu     sync.Mutex
	jobs   map[string]domain.ReportJob
	nextID int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]domain.ReportJob{}}
}

func (r *fakeJobRepo) Create(_ domain.Context, j domain.ReportJob) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("job-%d", r.nextID)
	j.ID = id
	r.jobs[id] = j
	return id, nil
}

func (r *fakeJobRepo) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	j.Status = status
	if errMsg != nil {
		j.Error = *errMsg
	}
	r.jobs[id] = j
	return nil
}

func (r *fakeJobRepo) Get(_ domain.Context, id string) (domain.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ReportJob{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return j, nil
}

func (r *fakeJobRepo) FindByIdempotencyKey(_ domain.Context, key string) (domain.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.IdemKey != nil && *j.IdemKey == key {
			return j, nil
		}
	}
	return domain.ReportJob{}, fmt.Errorf("%w: idem key", domain.ErrNotFound)
}

type fakeReportRepo struct {
	mu      sync.Mutex
	reports map[string]domain.Report
	upErr   error
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{reports: map[string]domain.Report{}}
}

func (r *fakeReportRepo) Upsert(_ domain.Context, rep domain.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upErr != nil {
		return r.upErr
	}
	r.reports[rep.JobID] = rep
	return nil
}

func (r *fakeReportRepo) GetByJobID(_ domain.Context, jobID string) (domain.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[jobID]
	if !ok {
		return domain.Report{}, fmt.Errorf("%w: report for %s", domain.ErrNotFound, jobID)
	}
	return rep, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []domain.ReportTaskPayload
	err      error
}

func (q *fakeQueue) EnqueueReport(_ domain.Context, payload domain.ReportTaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, payload)
	return fmt.Sprintf("task-%d", len(q.payloads)), nil
}

// fakeEngine returns scripted outcomes per task.
type fakeEngine struct {
	mu       sync.Mutex
	outcomes map[domain.TaskType]domain.Outcome
	prompts  map[domain.TaskType]string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		outcomes: map[domain.TaskType]domain.Outcome{},
		prompts:  map[domain.TaskType]string{},
	}
}

func (e *fakeEngine) Generate(_ domain.Context, task domain.TaskType, prompt string) domain.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prompts[task] = prompt
	if out, ok := e.outcomes[task]; ok {
		return out
	}
	return domain.Outcome{
		Kind: domain.OutcomeError,
		Failure: &domain.DispatchError{
			Task: task, Kind: "fallback_failed", FallbackAttempted: true,
		},
	}
}

func jsonOutcome(m map[string]any) domain.Outcome {
	return domain.Outcome{Kind: domain.OutcomeJSON, JSON: m, Source: "gemini", KeySuffix: "0001"}
}

// Fake data sources for pipeline tests.

type fakeEconomy struct {
	out domain.EconomicIndicators
	err error
}

func (f fakeEconomy) Indicators(_ domain.Context, _ []string) (domain.EconomicIndicators, error) {
	return f.out, f.err
}

type fakeLabor struct {
	out domain.LaborStatistics
	err error
}

func (f fakeLabor) Series(_ domain.Context, _ []string) (domain.LaborStatistics, error) {
	return f.out, f.err
}

type fakeDemographics struct {
	out domain.Demographics
	err error
}

func (f fakeDemographics) Lookup(_ domain.Context, _, _ string) (domain.Demographics, error) {
	return f.out, f.err
}

type fakeMarket struct {
	quotes map[string]domain.SectorQuote
	err    error
}

func (f fakeMarket) Quote(_ domain.Context, symbol string) (domain.SectorQuote, error) {
	if f.err != nil {
		return domain.SectorQuote{}, f.err
	}
	q, ok := f.quotes[symbol]
	if !ok {
		return domain.SectorQuote{}, fmt.Errorf("%w: %s", domain.ErrNotFound, symbol)
	}
	return q, nil
}

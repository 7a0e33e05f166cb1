package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// TaskType labels a logical LLM workload so the key router can bias key
// selection. Soft affinity only; not a hard partition.
type TaskType string

const (
	TaskBusinessPerformance TaskType = "business_performance"
	TaskMarketIntelligence  TaskType = "market_intelligence"
	TaskInvestmentAnalysis  TaskType = "investment_analysis"
	TaskSynthesisReporting  TaskType = "synthesis_reporting"
)

// AllTasks lists the task types in report assembly order.
func AllTasks() []TaskType {
	return []TaskType{TaskBusinessPerformance, TaskMarketIntelligence, TaskInvestmentAnalysis, TaskSynthesisReporting}
}

// BusinessProfile is the submitted business description a report is built for.
// Invariants: Name/Sector/State non-empty; free-text fields sanitized.
type BusinessProfile struct {
	ID             string
	Name           string
	Sector         string
	State          string
	County         string
	YearsOperating int
	EmployeeCount  int
	AnnualRevenue  float64
	Description    string
	Goals          string
	CreatedAt      time.Time
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ReportJob tracks one report generation request through the queue.
type ReportJob struct {
	ID        string
	Status    JobStatus
	Error     string
	ProfileID string
	IdemKey   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SeriesPoint is one observation of a time series from an upstream data API.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// EconomicIndicators holds normalized FRED series keyed by indicator name.
type EconomicIndicators struct {
	Indicators map[string][]SeriesPoint `json:"indicators"`
	AsOf       time.Time                `json:"as_of"`
}

// LaborStatistics holds normalized BLS employment/wage series.
type LaborStatistics struct {
	Series map[string][]SeriesPoint `json:"series"`
	AsOf   time.Time                `json:"as_of"`
}

// Demographics holds Census ACS/CBP figures for the profile's location.
type Demographics struct {
	State            string  `json:"state"`
	County           string  `json:"county"`
	Population       int64   `json:"population"`
	MedianIncome     float64 `json:"median_income"`
	BusinessCount    int64   `json:"business_count"`
	EmploymentTotal  int64   `json:"employment_total"`
	AnnualPayrollUSD float64 `json:"annual_payroll_usd"`
}

// SectorQuote is a market quote for a sector proxy ETF.
type SectorQuote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	LatestDay     string  `json:"latest_day"`
}

// EconomicSnapshot is the merged output of the data pipeline. Slots that
// failed upstream carry an entry in Errors instead of aborting the batch.
type EconomicSnapshot struct {
	Economy      *EconomicIndicators `json:"economy,omitempty"`
	Labor        *LaborStatistics    `json:"labor,omitempty"`
	Demographics *Demographics       `json:"demographics,omitempty"`
	Market       []SectorQuote       `json:"market,omitempty"`
	Errors       map[string]string   `json:"errors,omitempty"`
	FetchedAt    time.Time           `json:"fetched_at"`
}

// Analysis records: the typed boundary for prompt-defined JSON payloads.
// The wire/parse layer stays untyped; conversion happens immediately after parse.

type PerformanceAnalysis struct {
	Summary        string   `json:"summary"`
	GrowthOutlook  string   `json:"growth_outlook"`
	RevenueDrivers []string `json:"revenue_drivers"`
	RiskFactors    []string `json:"risk_factors"`
	Score          float64  `json:"score"`
	Degraded       bool     `json:"degraded,omitempty"`
}

type MarketIntelligence struct {
	Summary          string   `json:"summary"`
	SectorTrend      string   `json:"sector_trend"`
	CompetitiveNotes []string `json:"competitive_notes"`
	Opportunities    []string `json:"opportunities"`
	Degraded         bool     `json:"degraded,omitempty"`
}

type InvestmentAdvice struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
	RiskLevel       string   `json:"risk_level"`
	TimeHorizon     string   `json:"time_horizon"`
	Degraded        bool     `json:"degraded,omitempty"`
}

// Report is the fully assembled business-intelligence report.
type Report struct {
	JobID       string
	ProfileID   string
	Performance PerformanceAnalysis
	Market      MarketIntelligence
	Investment  InvestmentAdvice
	Synthesis   string
	Snapshot    EconomicSnapshot
	Degraded    bool
	CreatedAt   time.Time
}

// ReportTaskPayload is the queue message for one report generation job.
type ReportTaskPayload struct {
	JobID     string `json:"job_id"`
	ProfileID string `json:"profile_id"`
}

// Repositories (ports)

type ProfileRepository interface {
	Create(ctx Context, p BusinessProfile) (string, error)
	Get(ctx Context, id string) (BusinessProfile, error)
}

type JobRepository interface {
	Create(ctx Context, j ReportJob) (string, error)
	UpdateStatus(ctx Context, id string, status JobStatus, errMsg *string) error
	Get(ctx Context, id string) (ReportJob, error)
	FindByIdempotencyKey(ctx Context, key string) (ReportJob, error)
}

type ReportRepository interface {
	Upsert(ctx Context, r Report) error
	GetByJobID(ctx Context, jobID string) (Report, error)
}

// Queue (port)

type Queue interface {
	EnqueueReport(ctx Context, payload ReportTaskPayload) (string, error)
}

// AnalysisEngine (port): dispatches one templated prompt to the LLM layer.
// Implementations never return an error; failures are carried in the Outcome
// so downstream report assembly stays uniform.
type AnalysisEngine interface {
	Generate(ctx Context, task TaskType, prompt string) Outcome
}

// Data source ports, one per upstream provider.

type EconomicDataSource interface {
	Indicators(ctx Context, seriesIDs []string) (EconomicIndicators, error)
}

type LaborDataSource interface {
	Series(ctx Context, seriesIDs []string) (LaborStatistics, error)
}

type DemographicsDataSource interface {
	Lookup(ctx Context, state, county string) (Demographics, error)
}

type MarketDataSource interface {
	Quote(ctx Context, symbol string) (SectorQuote, error)
}

// Context is an alias so adapters and usecases pass context.Context through
// without the domain importing transport packages.
type Context = context.Context

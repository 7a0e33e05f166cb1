package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/observability"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// ReportGenerator is the worker-side orchestrator: it drives one queued job
// from profile load through data pull, analysis and persistence.
type ReportGenerator struct {
	Profiles domain.ProfileRepository
	Jobs     domain.JobRepository
	Reports  domain.ReportRepository
	Pipeline DataPipeline
	Analyzer Analyzer

	// Timeout bounds the whole assembly; sections that miss it come back
	// degraded rather than failing the job.
	Timeout time.Duration
}

func NewReportGenerator(
	profiles domain.ProfileRepository,
	jobs domain.JobRepository,
	reports domain.ReportRepository,
	pipeline DataPipeline,
	analyzer Analyzer,
	timeout time.Duration,
) ReportGenerator {
	return ReportGenerator{
		Profiles: profiles,
		Jobs:     jobs,
		Reports:  reports,
		Pipeline: pipeline,
		Analyzer: analyzer,
		Timeout:  timeout,
	}
}

// Generate processes one report job end to end. Returned errors are
// infrastructure failures (load/persist); analysis problems degrade the
// report instead.
func (g ReportGenerator) Generate(ctx domain.Context, payload domain.ReportTaskPayload) error {
	start := time.Now()
	observability.StartProcessingJob("report")

	if err := g.Jobs.UpdateStatus(ctx, payload.JobID, domain.JobProcessing, nil); err != nil {
		observability.FailJob("report")
		return fmt.Errorf("op=report.Generate mark processing: %w", err)
	}

	profile, err := g.Profiles.Get(ctx, payload.ProfileID)
	if err != nil {
		g.fail(ctx, payload.JobID, fmt.Sprintf("profile load: %v", err))
		return fmt.Errorf("op=report.Generate load profile: %w", err)
	}

	wctx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	snap := g.Pipeline.Snapshot(wctx, profile)
	if len(snap.Errors) > 0 {
		slog.Warn("snapshot assembled with missing slots",
			slog.String("job_id", payload.JobID),
			slog.Int("failed_slots", len(snap.Errors)))
	}

	// The three analyses are independent; fan out and join before synthesis.
	// A task that fails or misses the deadline comes back as a degraded
	// record, never aborting its siblings.
	var (
		perf   domain.PerformanceAnalysis
		market domain.MarketIntelligence
		invest domain.InvestmentAdvice
		wg     sync.WaitGroup
	)
	wg.Add(3)
	go func() { defer wg.Done(); perf = g.Analyzer.Performance(wctx, profile, snap) }()
	go func() { defer wg.Done(); market = g.Analyzer.MarketIntel(wctx, profile, snap) }()
	go func() { defer wg.Done(); invest = g.Analyzer.Investment(wctx, profile, snap) }()
	wg.Wait()

	synthesis, synthDegraded := g.Analyzer.Synthesize(wctx, profile, perf, market, invest)

	report := domain.Report{
		JobID:       payload.JobID,
		ProfileID:   payload.ProfileID,
		Performance: perf,
		Market:      market,
		Investment:  invest,
		Synthesis:   synthesis,
		Snapshot:    snap,
		Degraded:    perf.Degraded || market.Degraded || invest.Degraded || synthDegraded,
		CreatedAt:   time.Now().UTC(),
	}

	if err := g.Reports.Upsert(ctx, report); err != nil {
		g.fail(ctx, payload.JobID, fmt.Sprintf("report persist: %v", err))
		return fmt.Errorf("op=report.Generate persist: %w", err)
	}
	if err := g.Jobs.UpdateStatus(ctx, payload.JobID, domain.JobCompleted, nil); err != nil {
		observability.FailJob("report")
		return fmt.Errorf("op=report.Generate mark completed: %w", err)
	}

	observability.CompleteJob("report")
	observability.ReportDuration.Observe(time.Since(start).Seconds())
	if report.Degraded {
		observability.ReportsDegradedTotal.Inc()
	}
	slog.Info("report generated",
		slog.String("job_id", payload.JobID),
		slog.Bool("degraded", report.Degraded),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (g ReportGenerator) fail(ctx domain.Context, jobID, msg string) {
	observability.FailJob("report")
	if err := g.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, &msg); err != nil {
		slog.Error("failed to mark job failed",
			slog.String("job_id", jobID),
			slog.Any("error", err))
	}
}

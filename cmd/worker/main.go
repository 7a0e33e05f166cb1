// Command worker consumes report generation jobs from the Redpanda queue,
// assembles economic snapshots and runs the LLM analysis pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	ai "github.com/fairyhunter13/biz-intel-reporter/internal/adapter/ai"
	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/datasource"
	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/observability"
	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/biz-intel-reporter/internal/app"
	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/refdata"
	"github.com/fairyhunter13/biz-intel-reporter/internal/service/ratelimiter"
	"github.com/fairyhunter13/biz-intel-reporter/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Expose worker metrics on a dedicated endpoint for scraping.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()

	// Repositories
	profileRepo := postgres.NewProfileRepo(pool)
	jobRepo := postgres.NewJobRepo(pool)
	reportRepo := postgres.NewReportRepo(pool)

	// Outbound request budgets for the data providers.
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
		"fred":         ratelimiter.NewBucketConfigFromPerMinute(cfg.FREDRateLimitPerMin),
		"bls":          ratelimiter.NewBucketConfigFromPerMinute(cfg.BLSRateLimitPerMin),
		"census":       ratelimiter.NewBucketConfigFromPerMinute(cfg.CensusRateLimitPerMin),
		"alphavantage": ratelimiter.NewBucketConfigFromPerMinute(cfg.AlphaVantageRateLimitPerMin),
	})

	// Reference data (sector footprints, state FIPS codes).
	ref, err := refdata.New()
	if err != nil {
		slog.Error("reference data load failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Upstream data clients
	fred := datasource.NewFREDClient(cfg, rdb, limiter)
	bls := datasource.NewBLSClient(cfg, rdb, limiter)
	census := datasource.NewCensusClient(cfg, rdb, limiter, ref)
	av := datasource.NewAlphaVantageClient(cfg, rdb, limiter)

	// LLM engine (Gemini primary with key routing, OpenRouter fallback)
	engine := ai.NewEngine(cfg)

	pipeline := usecase.NewDataPipeline(fred, bls, census, av, ref)
	analyzer := usecase.NewAnalyzer(engine, cfg.GeminiModel)
	generator := usecase.NewReportGenerator(profileRepo, jobRepo, reportRepo, pipeline, analyzer, cfg.ReportTimeout)

	worker, err := redpanda.NewConsumer(cfg.KafkaBrokers, redpanda.ConsumerConfig{
		GroupID:        cfg.ConsumerGroup,
		MaxConcurrency: cfg.ConsumerMaxConcurrency,
		MaxAttempts:    cfg.QueueMaxAttempts,
	}, generator)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = worker.Close() }()

	// Fail jobs stranded in processing after a worker crash.
	if sweeper := app.NewStuckJobSweeper(jobRepo, cfg.ReportTimeout+time.Minute, time.Minute); sweeper != nil {
		go sweeper.Run(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := worker.Start(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
	slog.Info("worker stopped")
}

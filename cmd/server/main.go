// Command server starts the business intelligence report HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	httpserver "github.com/fairyhunter13/biz-intel-reporter/internal/adapter/httpserver"
	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/observability"
	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/biz-intel-reporter/internal/app"
	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, LLM, data-source and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()

	// Repositories
	profileRepo := postgres.NewProfileRepo(pool)
	jobRepo := postgres.NewJobRepo(pool)
	reportRepo := postgres.NewReportRepo(pool)

	// Retention cleanup
	var cleanupSvc *postgres.CleanupService
	if cfg.DataRetentionDays > 0 {
		cleanupSvc = postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	// Queue producer
	qClient, err := redpanda.NewProducer(cfg.KafkaBrokers, "biz-intel-reporter-producer")
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = qClient.Close() }()

	// Broker readiness probe uses a lightweight standalone client.
	brokerProbe, err := kgo.NewClient(kgo.SeedBrokers(cfg.KafkaBrokers...))
	if err != nil {
		slog.Error("broker probe client failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer brokerProbe.Close()

	// Usecases
	profileSvc := usecase.NewProfileService(profileRepo)
	reportSvc := usecase.NewReportService(profileRepo, jobRepo, reportRepo, qClient)

	dbCheck, redisCheck, brokerCheck := app.BuildReadinessChecks(pool, redisAdapter{rdb}, brokerProbe)

	var cleanup httpserver.CleanupRunner
	if cleanupSvc != nil {
		cleanup = cleanupSvc
	}
	srv := httpserver.NewServer(cfg, profileSvc, reportSvc, cleanup, dbCheck, redisCheck, brokerCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ c *redis.Client }

func (r redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return r.c.Ping(ctx) }

package ai

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

// Engine implements domain.AnalysisEngine over two providers: Gemini as the
// primary (multi-key, rate tracked) and OpenRouter as the fallback. It never
// returns an error; every dispatch produces an Outcome so report assembly
// downstream stays uniform.
type Engine struct {
	cfg     config.Config
	hc      *http.Client
	fhc     *http.Client
	tracker *RateLimitTracker
	router  *KeyRouter

	maxRetries     int
	fallbackCursor int64

	// Injection points for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewEngine constructs the engine from configuration.
func NewEngine(cfg config.Config) *Engine {
	tracker := NewRateLimitTracker(cfg.GeminiKeyRPM)
	var router *KeyRouter
	if len(cfg.GeminiAPIKeys) > 0 {
		router = NewKeyRouter(cfg.GeminiAPIKeys, tracker)
	}
	maxRetries := cfg.GeminiMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &Engine{
		cfg:        cfg,
		hc:         &http.Client{Timeout: cfg.GeminiTimeout, Transport: transport},
		fhc:        &http.Client{Timeout: cfg.OpenRouterTimeout, Transport: transport},
		tracker:    tracker,
		router:     router,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
		jitter:     func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) }, //nolint:gosec // Jitter does not need crypto randomness.
	}
}

// Tracker exposes the rate tracker for readiness/metrics inspection.
func (e *Engine) Tracker() *RateLimitTracker { return e.tracker }

// Generate dispatches one logical request for task. The router picks a
// primary key; the executor retries transient failures with exponential
// backoff and escalates to the fallback provider when the primary is
// exhausted.
func (e *Engine) Generate(ctx domain.Context, task domain.TaskType, prompt string) domain.Outcome {
	if e.router == nil {
		return e.fallbackExecute(ctx, task, prompt, "no_primary_keys")
	}
	key, _ := e.router.Pick(task)
	return e.executePrimary(ctx, task, prompt, key)
}

// backoffDelay computes the sleep before the next attempt: 2^attempt seconds
// plus jitter.
func (e *Engine) backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt))*time.Second + e.jitter()
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	return e.sleep(ctx, e.backoffDelay(attempt))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// terminal builds the structured error outcome; the detail is truncated so
// provider responses cannot balloon stored payloads.
func terminal(task domain.TaskType, kind, detail string, fallbackAttempted bool) domain.Outcome {
	return domain.Outcome{
		Kind: domain.OutcomeError,
		Failure: &domain.DispatchError{
			Task:              task,
			Kind:              kind,
			Detail:            truncateDetail(detail, 300),
			FallbackAttempted: fallbackAttempted,
		},
	}
}

// outcomeFromText runs the parse ladder over provider text and tags the
// result with provenance. Unparseable content is preserved, not discarded.
func outcomeFromText(text, source, suffix string, fallback bool) domain.Outcome {
	obj, ok, parseErr := parseJSONContent(text)
	if ok {
		obj["_source"] = source
		if fallback {
			obj["_fallback"] = true
		} else if suffix != "" {
			obj["_key"] = suffix
		}
		return domain.Outcome{
			Kind:      domain.OutcomeJSON,
			JSON:      obj,
			Source:    source,
			KeySuffix: suffix,
			Fallback:  fallback,
		}
	}
	return domain.Outcome{
		Kind:      domain.OutcomeRawText,
		RawText:   text,
		ParseErr:  parseErr,
		Source:    source,
		KeySuffix: suffix,
		Fallback:  fallback,
	}
}

func nextIndex(cursor *int64, n int) int {
	return int((atomic.AddInt64(cursor, 1) - 1) % int64(n))
}

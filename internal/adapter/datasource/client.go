// Package datasource implements clients for the upstream economic data
// providers: FRED (macro indicators), BLS (labor statistics), Census
// (demographics) and Alpha Vantage (sector market quotes).
//
// All clients share one call path: Redis response cache, shared token-bucket
// pacing, a per-provider circuit breaker, and exponential-backoff retries
// for transient failures. Provider 4xx responses are permanent and fail the
// slot immediately.
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/observability"
	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
	"github.com/fairyhunter13/biz-intel-reporter/internal/service/ratelimiter"
)

// maxLimiterWait bounds how long a caller sleeps on limiter refusal before
// giving up with an upstream rate limit error.
const maxLimiterWait = 5 * time.Second

// caller is the shared HTTP call path for one provider.
type caller struct {
	provider string
	hc       *http.Client
	cache    *redis.Client
	limiter  ratelimiter.Limiter
	breaker  *observability.CircuitBreaker
	cacheTTL time.Duration
	cfg      config.Config
}

func newCaller(provider string, cfg config.Config, rdb *redis.Client, limiter ratelimiter.Limiter) *caller {
	return &caller{
		provider: provider,
		hc: &http.Client{
			Timeout:   cfg.DataSourceTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache:    rdb,
		limiter:  limiter,
		breaker:  observability.NewCircuitBreaker(provider, 5, 30*time.Second),
		cacheTTL: cfg.DataCacheTTL,
		cfg:      cfg,
	}
}

func (c *caller) backoffConfig(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.cfg.GetDataBackoffConfig()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return backoff.WithContext(expo, ctx)
}

// fetchJSON performs one provider call: cache lookup, pacing, breaker, then
// the HTTP request with retries. The decoded body lands in out; successful
// raw bodies are cached under cacheKey for the configured TTL.
func (c *caller) fetchJSON(ctx context.Context, cacheKey, method, url string, reqBody, out any) error {
	if c.cacheGet(ctx, cacheKey, out) {
		return nil
	}

	if err := c.waitForBudget(ctx); err != nil {
		observability.DataRequestsTotal.WithLabelValues(c.provider, "rate_limited").Inc()
		return err
	}

	var raw []byte
	op := func() error {
		b, err := c.doRequest(ctx, method, url, reqBody)
		if err != nil {
			return err
		}
		raw = b
		return nil
	}

	err := c.breaker.Call(func() error {
		return backoff.Retry(op, c.backoffConfig(ctx))
	})
	if err != nil {
		observability.DataRequestsTotal.WithLabelValues(c.provider, "error").Inc()
		return err
	}
	observability.DataRequestsTotal.WithLabelValues(c.provider, "ok").Inc()

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s response decode: %v", domain.ErrSchemaInvalid, c.provider, err)
	}
	c.cacheSet(ctx, cacheKey, raw)
	return nil
}

func (c *caller) doRequest(ctx context.Context, method, url string, reqBody any) ([]byte, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		body = bytes.NewReader(b)
	}
	r, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if reqBody != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(r)
	observability.DataRequestDuration.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("data provider rate limited",
			slog.String("provider", c.provider),
			slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: %s", domain.ErrUpstreamRateLimit, c.provider)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		snippet := b
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		slog.Warn("data provider 4xx",
			slog.String("provider", c.provider),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)))
		return nil, backoff.Permanent(fmt.Errorf("%s status %d", c.provider, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s status %d", c.provider, resp.StatusCode)
	}
	return b, nil
}

// waitForBudget consults the shared limiter, sleeping through a short
// shortage rather than failing the slot.
func (c *caller) waitForBudget(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	allowed, retryAfter, err := c.limiter.Allow(ctx, c.provider, 1)
	if err != nil || allowed {
		// Limiter errors fail open.
		return nil
	}
	if retryAfter <= 0 || retryAfter > maxLimiterWait {
		return fmt.Errorf("%w: %s budget exhausted", domain.ErrUpstreamRateLimit, c.provider)
	}
	t := time.NewTimer(retryAfter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *caller) cacheGet(ctx context.Context, key string, out any) bool {
	if c.cache == nil || key == "" {
		return false
	}
	raw, err := c.cache.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// Stale or corrupt entry; drop it and refetch.
		c.cache.Del(ctx, key)
		return false
	}
	observability.DataCacheHitsTotal.WithLabelValues(c.provider).Inc()
	return true
}

func (c *caller) cacheSet(ctx context.Context, key string, raw []byte) {
	if c.cache == nil || key == "" {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cacheTTL).Err(); err != nil {
		slog.Warn("data cache write failed",
			slog.String("provider", c.provider),
			slog.Any("error", err))
	}
}

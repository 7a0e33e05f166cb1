package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

func geminiOK(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}, "finishReason": "STOP"},
		},
	})
	return string(b)
}

func openRouterOK(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

// newTestEngine wires an engine against test servers with deterministic
// jitter and recorded (never real) sleeps.
func newTestEngine(t *testing.T, primaryURL, fallbackURL string, primaryKeys, fallbackKeys []string) (*Engine, *sleepRecorder) {
	t.Helper()
	cfg := config.Config{
		GeminiAPIKeys:     primaryKeys,
		GeminiBaseURL:     primaryURL,
		GeminiModel:       "gemini-1.5-flash",
		GeminiTimeout:     5 * time.Second,
		GeminiMaxRetries:  3,
		GeminiKeyRPM:      10,
		OpenRouterAPIKeys: fallbackKeys,
		OpenRouterBaseURL: fallbackURL,
		OpenRouterModel:   "openrouter/auto",
		OpenRouterTimeout: 5 * time.Second,
	}
	e := NewEngine(cfg)
	rec := &sleepRecorder{}
	e.sleep = rec.sleep
	e.jitter = func() time.Duration { return 0 }
	return e, rec
}

func TestGenerate_SuccessCarriesProvenance(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(geminiOK(`{"growth":"strong","score":7}`)))
	}))
	defer primary.Close()

	e, _ := newTestEngine(t, primary.URL, "http://unused.invalid", []string{"gk-alpha-0001"}, nil)
	out := e.Generate(context.Background(), domain.TaskBusinessPerformance, "analyze")

	require.Equal(t, domain.OutcomeJSON, out.Kind)
	require.True(t, out.OK())
	require.Equal(t, "gemini", out.JSON["_source"])
	require.Equal(t, "0001", out.JSON["_key"])
	require.NotContains(t, out.JSON, "_fallback")
	require.Equal(t, "strong", out.JSON["growth"])
}

func TestGenerate_RetryBackoffThenSingleFallback(t *testing.T) {
	var primaryHits, fallbackHits int
	var mu sync.Mutex
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		primaryHits++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		fallbackHits++
		mu.Unlock()
		_, _ = w.Write([]byte(openRouterOK(`{"recovered":true}`)))
	}))
	defer fallback.Close()

	e, rec := newTestEngine(t, primary.URL, fallback.URL, []string{"gk-alpha-0001"}, []string{"or-key-0009"})
	out := e.Generate(context.Background(), domain.TaskMarketIntelligence, "analyze")

	// Exactly maxRetries primary attempts, then exactly one fallback call.
	require.Equal(t, 3, primaryHits)
	require.Equal(t, 1, fallbackHits)

	// One backoff between consecutive attempts, exponentially increasing.
	require.Len(t, rec.delays, 2)
	require.Equal(t, 1*time.Second, rec.delays[0])
	require.Equal(t, 2*time.Second, rec.delays[1])
	for i := 1; i < len(rec.delays); i++ {
		require.GreaterOrEqual(t, rec.delays[i], rec.delays[i-1])
	}

	require.Equal(t, domain.OutcomeJSON, out.Kind)
	require.Equal(t, "openrouter", out.JSON["_source"])
	require.Equal(t, true, out.JSON["_fallback"])
}

func TestGenerate_BadRequestIsTerminalNoFallback(t *testing.T) {
	var primaryHits, fallbackHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryHits++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid prompt"}}`))
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fallbackHits++
	}))
	defer fallback.Close()

	e, rec := newTestEngine(t, primary.URL, fallback.URL, []string{"gk-alpha-0001"}, []string{"or-key-0009"})
	out := e.Generate(context.Background(), domain.TaskInvestmentAnalysis, "analyze")

	require.Equal(t, 1, primaryHits)
	require.Equal(t, 0, fallbackHits)
	require.Empty(t, rec.delays)

	require.Equal(t, domain.OutcomeError, out.Kind)
	require.False(t, out.OK())
	require.NotNil(t, out.Failure)
	require.Equal(t, "bad_request", out.Failure.Kind)
	require.False(t, out.Failure.FallbackAttempted)
	require.Contains(t, out.Failure.Detail, "invalid prompt")
}

func TestGenerate_SafetyBlockGoesStraightToFallback(t *testing.T) {
	var primaryHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryHits++
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(openRouterOK(`{"ok":1}`)))
	}))
	defer fallback.Close()

	e, rec := newTestEngine(t, primary.URL, fallback.URL, []string{"gk-alpha-0001"}, []string{"or-key-0009"})
	out := e.Generate(context.Background(), domain.TaskSynthesisReporting, "analyze")

	require.Equal(t, 1, primaryHits, "safety blocks must not be retried on the primary")
	require.Empty(t, rec.delays)
	require.Equal(t, domain.OutcomeJSON, out.Kind)
	require.Equal(t, true, out.JSON["_fallback"])
}

func TestGenerate_FiveHundredRetriesThenFallback(t *testing.T) {
	var primaryHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryHits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(openRouterOK("plain text, no json")))
	}))
	defer fallback.Close()

	e, _ := newTestEngine(t, primary.URL, fallback.URL, []string{"gk-alpha-0001"}, []string{"or-key-0009"})
	out := e.Generate(context.Background(), domain.TaskBusinessPerformance, "analyze")

	require.Equal(t, 3, primaryHits)
	require.Equal(t, domain.OutcomeRawText, out.Kind)
	require.Equal(t, "plain text, no json", out.RawText)
	require.NotEmpty(t, out.ParseErr)
	require.True(t, out.Fallback)
}

func TestGenerate_ProseWrappedJSONIsSalvaged(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(geminiOK("Here is your report:\n```json\n{\"trend\":\"up\"}\n```\nHope that helps!")))
	}))
	defer primary.Close()

	e, _ := newTestEngine(t, primary.URL, "http://unused.invalid", []string{"gk-alpha-0001"}, nil)
	out := e.Generate(context.Background(), domain.TaskMarketIntelligence, "analyze")

	require.Equal(t, domain.OutcomeJSON, out.Kind)
	require.Equal(t, "up", out.JSON["trend"])
	require.Equal(t, "gemini", out.JSON["_source"])
}

func TestGenerate_NoFallbackKeysIsTerminal(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	e, _ := newTestEngine(t, primary.URL, "http://unused.invalid", []string{"gk-alpha-0001"}, nil)
	out := e.Generate(context.Background(), domain.TaskBusinessPerformance, "analyze")

	require.Equal(t, domain.OutcomeError, out.Kind)
	require.Equal(t, "fallback_unavailable", out.Failure.Kind)
	require.True(t, out.Failure.FallbackAttempted)
}

func TestGenerate_FallbackFailureIsTerminal(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer fallback.Close()

	e, _ := newTestEngine(t, primary.URL, fallback.URL, []string{"gk-alpha-0001"}, []string{"or-key-0009"})
	out := e.Generate(context.Background(), domain.TaskBusinessPerformance, "analyze")

	require.Equal(t, domain.OutcomeError, out.Kind)
	require.Equal(t, "fallback_failed", out.Failure.Kind)
	require.True(t, out.Failure.FallbackAttempted)
}

func TestFallback_RoundRobinAcrossKeys(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("Authorization")]++
		mu.Unlock()
		_, _ = w.Write([]byte(openRouterOK(`{"ok":1}`)))
	}))
	defer fallback.Close()

	keys := []string{"or-key-0001", "or-key-0002", "or-key-0003"}
	// No primary keys: every Generate goes to the fallback path.
	e, _ := newTestEngine(t, "http://unused.invalid", fallback.URL, nil, keys)

	const n = 9
	for i := 0; i < n; i++ {
		out := e.Generate(context.Background(), domain.TaskBusinessPerformance, "analyze")
		require.Equal(t, domain.OutcomeJSON, out.Kind)
	}

	require.Len(t, seen, len(keys))
	for _, k := range keys {
		require.Equal(t, n/len(keys), seen["Bearer "+k], "key %s", k)
	}
}

// Saturated primary keys plus a rate-limited primary endpoint must drain into
// the fallback provider, and the caller still receives the fallback's payload
// tagged with fallback provenance.
func TestGenerate_SaturatedPrimaryEndToEnd(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(openRouterOK(`{"foo":"bar"}`)))
	}))
	defer fallback.Close()

	keys := []string{"gk-alpha-0001", "gk-bravo-0002"}
	e, _ := newTestEngine(t, primary.URL, fallback.URL, keys, []string{"or-key-0009"})

	// Saturate every primary key's window before dispatching.
	for _, k := range keys {
		for i := 0; i < 10; i++ {
			e.Tracker().RecordDispatch(k)
		}
	}

	out := e.Generate(context.Background(), domain.TaskSynthesisReporting, "analyze")

	require.Equal(t, domain.OutcomeJSON, out.Kind)
	require.Equal(t, map[string]any{
		"foo":       "bar",
		"_source":   "openrouter",
		"_fallback": true,
	}, out.JSON)
}

func TestGenerate_ContextCancelDuringBackoff(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	var fallbackHits int
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fallbackHits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer fallback.Close()

	e, _ := newTestEngine(t, primary.URL, fallback.URL, []string{"gk-alpha-0001"}, []string{"or-key-0009"})
	e.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	out := e.Generate(context.Background(), domain.TaskBusinessPerformance, "analyze")

	// A cancelled backoff escalates once; the fallback's own failure is then
	// terminal.
	require.Equal(t, 1, fallbackHits)
	require.Equal(t, domain.OutcomeError, out.Kind)
}

package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fairyhunter13/biz-intel-reporter/internal/adapter/observability"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
)

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
	TopP        float64             `json:"top_p"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// fallbackExecute retries the logical request against OpenRouter when the
// primary is exhausted or blocked. Keys rotate round-robin via a shared
// cursor; this path carries no rate tracking. This is the end of the line:
// any failure here becomes a terminal structured error.
func (e *Engine) fallbackExecute(ctx domain.Context, task domain.TaskType, prompt, reason string) domain.Outcome {
	observability.LLMFallbacksTotal.WithLabelValues(string(task), reason).Inc()
	keys := e.cfg.OpenRouterAPIKeys
	if len(keys) == 0 {
		return terminal(task, "fallback_unavailable", "no fallback keys configured (primary: "+reason+")", true)
	}
	key := keys[nextIndex(&e.fallbackCursor, len(keys))]

	slog.Info("falling back to openrouter",
		slog.String("task", string(task)),
		slog.String("reason", reason),
		slog.String("key_suffix", keySuffix(key)))

	content, err := e.doOpenRouter(ctx, key, prompt)
	if err != nil {
		slog.Error("openrouter fallback failed",
			slog.String("task", string(task)),
			slog.Any("error", err))
		return terminal(task, "fallback_failed", err.Error(), true)
	}
	return outcomeFromText(content, "openrouter", "", true)
}

func (e *Engine) doOpenRouter(ctx domain.Context, key, prompt string) (string, error) {
	reqBody := openRouterRequest{
		Model:       e.cfg.OpenRouterModel,
		Messages:    []openRouterMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   4096,
		TopP:        0.95,
	}
	b, _ := json.Marshal(reqBody)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.OpenRouterBaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	r.Header.Set("Authorization", "Bearer "+key)
	r.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.fhc.Do(r)
	observability.LLMRequestsTotal.WithLabelValues("openrouter", "fallback").Inc()
	observability.LLMRequestDuration.WithLabelValues("openrouter", "fallback").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openrouter status %d: %s", resp.StatusCode, bodySnippet(body))
	}
	var out openRouterResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("openrouter decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openrouter returned empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

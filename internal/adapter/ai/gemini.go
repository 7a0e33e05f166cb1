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

// Gemini generateContent wire format.

type geminiRequest struct {
	Contents         []geminiContent       `json:"contents"`
	GenerationConfig geminiConfig          `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting `json:"safetySettings"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	CandidateCount  int     `json:"candidateCount"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (r geminiResponse) safetyBlocked() bool {
	if r.PromptFeedback.BlockReason != "" {
		return true
	}
	return len(r.Candidates) > 0 && r.Candidates[0].FinishReason == "SAFETY"
}

func (r geminiResponse) text() (string, bool) {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return "", false
	}
	return r.Candidates[0].Content.Parts[0].Text, true
}

var defaultSafetySettings = []geminiSafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
}

// executePrimary performs one logical request against Gemini with bounded
// retries. Transient failures (429/503, timeouts, 5xx) back off and retry;
// safety blocks and unrecognized statuses escalate to the fallback provider;
// HTTP 400 is terminal with no fallback since a malformed prompt fails on any
// provider.
func (e *Engine) executePrimary(ctx domain.Context, task domain.TaskType, prompt, key string) domain.Outcome {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		status, body, err := e.doGemini(ctx, key, prompt)
		if err != nil {
			slog.Warn("gemini request failed",
				slog.String("task", string(task)),
				slog.Int("attempt", attempt+1),
				slog.Bool("timeout", isTimeout(err)),
				slog.Any("error", err))
			if attempt+1 < e.maxRetries {
				if serr := e.backoff(ctx, attempt); serr != nil {
					return e.fallbackExecute(ctx, task, prompt, "cancelled")
				}
				continue
			}
			if isTimeout(err) {
				return e.fallbackExecute(ctx, task, prompt, "timeout")
			}
			return e.fallbackExecute(ctx, task, prompt, "transport_error")
		}

		switch {
		case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
			slog.Warn("gemini transient status",
				slog.String("task", string(task)),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1))
			if attempt+1 < e.maxRetries {
				if serr := e.backoff(ctx, attempt); serr != nil {
					return e.fallbackExecute(ctx, task, prompt, "cancelled")
				}
			}
			continue

		case status == http.StatusBadRequest:
			// Caller/prompt defect: retrying or switching providers cannot fix it.
			slog.Error("gemini rejected request",
				slog.String("task", string(task)),
				slog.String("body", string(bodySnippet(body))))
			return terminal(task, "bad_request", string(bodySnippet(body)), false)

		case status >= 500:
			if attempt+1 < e.maxRetries {
				if serr := e.backoff(ctx, attempt); serr != nil {
					return e.fallbackExecute(ctx, task, prompt, "cancelled")
				}
				continue
			}
			return e.fallbackExecute(ctx, task, prompt, fmt.Sprintf("status_%d", status))

		case status >= 200 && status < 300:
			var gr geminiResponse
			if uerr := json.Unmarshal(body, &gr); uerr != nil {
				slog.Error("gemini decode error", slog.String("task", string(task)), slog.Any("error", uerr))
				if attempt+1 < e.maxRetries {
					if serr := e.backoff(ctx, attempt); serr != nil {
						return e.fallbackExecute(ctx, task, prompt, "cancelled")
					}
					continue
				}
				return e.fallbackExecute(ctx, task, prompt, "decode_error")
			}
			if gr.safetyBlocked() {
				slog.Warn("gemini safety block", slog.String("task", string(task)))
				return e.fallbackExecute(ctx, task, prompt, "safety")
			}
			text, ok := gr.text()
			if !ok {
				if attempt+1 < e.maxRetries {
					if serr := e.backoff(ctx, attempt); serr != nil {
						return e.fallbackExecute(ctx, task, prompt, "cancelled")
					}
					continue
				}
				return e.fallbackExecute(ctx, task, prompt, "empty_candidates")
			}
			return outcomeFromText(text, "gemini", keySuffix(key), false)

		default:
			return e.fallbackExecute(ctx, task, prompt, fmt.Sprintf("status_%d", status))
		}
	}
	return e.fallbackExecute(ctx, task, prompt, "retries_exhausted")
}

// doGemini performs one HTTP attempt and returns the status and raw body.
func (e *Engine) doGemini(ctx domain.Context, key, prompt string) (int, []byte, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiConfig{
			Temperature:     0.2,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 4096,
			CandidateCount:  1,
		},
		SafetySettings: defaultSafetySettings,
	}
	b, _ := json.Marshal(reqBody)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", e.cfg.GeminiBaseURL, e.cfg.GeminiModel, key)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	r.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.hc.Do(r)
	observability.LLMRequestsTotal.WithLabelValues("gemini", "request").Inc()
	observability.LLMRequestDuration.WithLabelValues("gemini", "request").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func bodySnippet(b []byte) []byte {
	if len(b) > 512 {
		return b[:512]
	}
	return b
}

// Package tokencount estimates token counts for outgoing analysis prompts.
//
// Prompts embed serialized economic datasets, so their size varies widely;
// the report pipeline uses these counts to log oversized prompts and to
// record usage per dispatch. Counts for Gemini and OpenRouter-routed models
// are approximations via cl100k_base-compatible encodings.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Usage holds token counts for one analysis dispatch.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
}

// Counter caches tiktoken encodings per normalized model name.
type Counter struct {
	mu    sync.RWMutex
	cache map[string]*tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

// Default is the process-wide counter.
var Default = NewCounter()

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModel(model)

	c.mu.RLock()
	enc, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		// cl100k_base approximates tokenization for most modern models.
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.cache[name] = enc
	return enc, nil
}

// normalizeModel maps provider model IDs onto tiktoken-known names. Gemini
// and OpenRouter-routed models have no native tiktoken support, so their
// families map to gpt-4 (cl100k_base) as an approximation.
func normalizeModel(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndexByte(model, '/'); i != -1 {
		model = model[i+1:]
	}
	model = strings.TrimSuffix(model, ":free")

	switch {
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		return "gpt-4"
	}
}

// CountTokens counts tokens in text under model's encoding.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// EstimatePromptTokens counts tokens in a prompt, falling back to a
// bytes/4 heuristic when no encoding can be loaded. It never fails: prompt
// sizing is advisory and must not block report generation.
func (c *Counter) EstimatePromptTokens(prompt, model string) int {
	n, err := c.CountTokens(prompt, model)
	if err != nil {
		slog.Warn("token count failed, using byte estimate",
			slog.String("model", model),
			slog.Any("error", err))
		return len(prompt) / 4
	}
	return n
}

// CalculateUsage computes full usage for one dispatch: the prompt sent and
// the completion received.
func (c *Counter) CalculateUsage(prompt, completion, model, provider string) *Usage {
	promptTokens := c.EstimatePromptTokens(prompt, model)
	completionTokens, err := c.CountTokens(completion, model)
	if err != nil {
		completionTokens = len(completion) / 4
	}
	return &Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Model:            model,
		Provider:         provider,
	}
}

// EstimatePromptTokensDefault uses the process-wide counter.
func EstimatePromptTokensDefault(prompt, model string) int {
	return Default.EstimatePromptTokens(prompt, model)
}

package domain

// OutcomeKind tags the result of one logical LLM dispatch.
type OutcomeKind int

const (
	// OutcomeJSON means the provider returned text that parsed as JSON.
	OutcomeJSON OutcomeKind = iota
	// OutcomeRawText means the provider returned content that could not be
	// parsed as JSON even after salvage; the text is preserved.
	OutcomeRawText
	// OutcomeError is a terminal structured error: either a malformed
	// request (no fallback applies) or both providers failed.
	OutcomeError
)

// Outcome is the tagged result of one logical request. Exactly one of
// JSON/RawText/Failure is populated depending on Kind. No errors cross the
// executor boundary; callers always receive data.
type Outcome struct {
	Kind    OutcomeKind
	JSON    map[string]any
	RawText string
	// ParseErr annotates OutcomeRawText with the JSON parse failure.
	ParseErr string
	Failure  *DispatchError

	// Provenance, injected into JSON payloads as _source/_key/_fallback.
	Source    string
	KeySuffix string
	Fallback  bool
}

// DispatchError is the terminal structured error payload.
type DispatchError struct {
	Task              TaskType `json:"task"`
	Kind              string   `json:"kind"`
	Detail            string   `json:"detail"`
	FallbackAttempted bool     `json:"fallback_attempted"`
}

// OK reports whether the outcome carries usable content (parsed or raw).
func (o Outcome) OK() bool { return o.Kind != OutcomeError }

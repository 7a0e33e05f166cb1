package redpanda

import "strings"

// classifyFailureCode maps a job error message to a stable code. This mirrors
// the mapping the API layer applies to stored job errors so that retry
// decisions and Prometheus labels stay aligned.
func classifyFailureCode(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	if s == "" {
		return "INTERNAL"
	}
	switch {
	case strings.Contains(s, "schema invalid"), strings.Contains(s, "invalid json"):
		return "SCHEMA_INVALID"
	case strings.Contains(s, "rate limit"):
		return "UPSTREAM_RATE_LIMIT"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "UPSTREAM_TIMEOUT"
	case strings.Contains(s, "not found"):
		return "NOT_FOUND"
	case strings.Contains(s, "invalid argument"):
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL"
	}
}

// retryableFailure reports whether a failure code should be redelivered.
// Upstream pressure and timeouts are transient; everything else either will
// not improve on retry or already produced a terminal job state.
func retryableFailure(code string) bool {
	return code == "UPSTREAM_RATE_LIMIT" || code == "UPSTREAM_TIMEOUT"
}

package ai

import (
	"encoding/json"
	"strings"
)

// parseJSONContent applies the parse ladder to LLM output: strict parse
// first, then a brace-balanced substring salvage and one re-parse. Returns
// the parsed object, or ok=false with the parse error string when the content
// is not salvageable as JSON.
func parseJSONContent(text string) (map[string]any, bool, string) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, true, ""
	} else if sub := extractJSONObject(text); sub != "" {
		if err2 := json.Unmarshal([]byte(sub), &obj); err2 == nil {
			return obj, true, ""
		}
		return nil, false, err.Error()
	} else {
		return nil, false, err.Error()
	}
}

// extractJSONObject pulls the longest brace-balanced object out of mixed
// content, tolerating markdown fences and surrounding prose.
func extractJSONObject(text string) string {
	text = stripMarkdownFences(text)
	best := ""
	for start := strings.IndexByte(text, '{'); start != -1; {
		depth := 0
		inString := false
		escaped := false
		end := -1
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = i
				}
			}
			if end != -1 {
				break
			}
		}
		if end == -1 {
			// This region never balances (stray brace in prose); the next
			// candidate may still be a valid object.
			next := strings.IndexByte(text[start+1:], '{')
			if next == -1 {
				break
			}
			start = start + 1 + next
			continue
		}
		if end-start+1 > len(best) {
			best = text[start : end+1]
		}
		next := strings.IndexByte(text[end+1:], '{')
		if next == -1 {
			break
		}
		start = end + 1 + next
	}
	return best
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncateDetail bounds error detail strings embedded in terminal outcomes.
func truncateDetail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

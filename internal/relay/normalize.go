package relay

import (
	"encoding/json"
	"strings"
)

// FallbackReply is returned when the agent answers with an empty body.
const FallbackReply = "Thanks for reaching out! How can I help you today?"

// ApologyReply is the user-facing text for transport and remote failures.
// The raw error detail is logged, never rendered.
const ApologyReply = "Sorry, I'm having trouble responding right now. Please try again in a moment."

// replyFields is the fixed priority order probed on JSON object replies.
var replyFields = []string{"output", "response", "message", "reply", "text"}

// Normalize extracts a single displayable string from an agent response
// body. Workflow replies are not contractually shaped: depending on the
// workflow version the body may be a JSON array, a JSON object, a bare
// JSON string, or plain text. The heuristics below run in a fixed order,
// first match wins, and the function never fails.
func Normalize(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return FallbackReply
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		// Not JSON at all: the body itself is the reply.
		if stripped := stripOuterQuotes(trimmed); stripped != "" {
			return stripped
		}
		return FallbackReply
	}

	switch v := parsed.(type) {
	case []any:
		if len(v) > 0 {
			if obj, ok := v[0].(map[string]any); ok {
				if out, ok := obj["output"].(string); ok && out != "" {
					return out
				}
			}
		}
	case map[string]any:
		for _, field := range replyFields {
			if s, ok := v[field].(string); ok && s != "" {
				return s
			}
		}
	case string:
		if v != "" {
			return v
		}
		return FallbackReply
	}

	// Unrecognized shape: re-marshal the whole value so nothing is
	// silently dropped.
	encoded, err := json.Marshal(parsed)
	if err != nil {
		return trimmed
	}
	return string(encoded)
}

// stripOuterQuotes removes at most one leading and one trailing literal
// quote character, matching how the widget treats quoted plain-text
// replies.
func stripOuterQuotes(s string) string {
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return s
}

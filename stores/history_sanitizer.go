package stores

import (
	"log"
	"strings"
)

// SanitizeHistory repairs a stored history so it replays cleanly into a
// provider request. Truncation and crashes can leave tool cycles broken in
// two ways: the history starts mid-cycle (orphaned function_response or
// function_call rows at the front), or a function_call in the middle never
// got its response. Both are removed. Trailing function_calls are kept,
// since their responses may arrive in the current turn.
func SanitizeHistory(msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}

	start := findValidStartIndex(msgs)
	if start == -1 {
		for i := len(msgs) - 1; i >= 0; i-- {
			if kindOf(&msgs[i]) == TypeUserMessage {
				log.Printf("[HISTORY_SANITIZER] No valid start; falling back to user message at index %d", i)
				return []Message{msgs[i]}
			}
		}
		log.Printf("[HISTORY_SANITIZER] No valid starting point found, returning empty history")
		return []Message{}
	}
	if start > 0 {
		log.Printf("[HISTORY_SANITIZER] Dropping %d leading messages from a truncated tool cycle", start)
		msgs = msgs[start:]
	}

	sanitized := sanitizeToolCycles(msgs)
	if len(sanitized) != len(msgs) {
		log.Printf("[HISTORY_SANITIZER] Removed %d messages with broken tool cycles", len(msgs)-len(sanitized))
	}
	return sanitized
}

// kindOf classifies a stored message, preferring the recorded type and
// falling back to inspecting its parts for rows written by older code.
func kindOf(m *Message) string {
	switch m.Type {
	case TypeUserMessage, TypeModelMessage, TypeFunctionCall, TypeFunctionResponse:
		return m.Type
	}
	if strings.Contains(m.PartsJSON, `"functionCall"`) {
		return TypeFunctionCall
	}
	if strings.Contains(m.PartsJSON, `"functionResponse"`) {
		return TypeFunctionResponse
	}
	if m.Role == "model" {
		return TypeModelMessage
	}
	return TypeUserMessage
}

// findValidStartIndex returns the first index that can open a conversation:
// a user or model message. Leading call/response rows are remnants of a
// cycle whose beginning was truncated away.
func findValidStartIndex(msgs []Message) int {
	for i := range msgs {
		switch kindOf(&msgs[i]) {
		case TypeFunctionCall, TypeFunctionResponse:
			continue
		default:
			return i
		}
	}
	return -1
}

// sanitizeToolCycles enforces that every function_call run is followed by
// at least one function_response, except at the very end of history.
func sanitizeToolCycles(msgs []Message) []Message {
	result := make([]Message, 0, len(msgs))
	i := 0

	for i < len(msgs) {
		switch kindOf(&msgs[i]) {
		case TypeFunctionCall:
			cycleStart := i
			for i < len(msgs) && kindOf(&msgs[i]) == TypeFunctionCall {
				i++
			}
			callsEnd := i
			for i < len(msgs) && kindOf(&msgs[i]) == TypeFunctionResponse {
				i++
			}
			hasResponses := i > callsEnd

			if hasResponses || callsEnd >= len(msgs) {
				// Complete cycle, or trailing calls whose responses are
				// expected in the current turn.
				result = append(result, msgs[cycleStart:i]...)
			} else {
				log.Printf("[HISTORY_SANITIZER] Removing unanswered function_call(s) at index %d", cycleStart)
			}

		case TypeFunctionResponse:
			log.Printf("[HISTORY_SANITIZER] Removing orphaned function_response at index %d", i)
			i++

		default:
			result = append(result, msgs[i])
			i++
		}
	}
	return result
}

// DetectCorruptedHistory reports structural issues without repairing them.
// Useful for logging before a sanitize pass.
func DetectCorruptedHistory(msgs []Message) []string {
	var issues []string
	if len(msgs) == 0 {
		return issues
	}

	switch kindOf(&msgs[0]) {
	case TypeFunctionResponse:
		issues = append(issues, "History starts with function_response (orphaned)")
	case TypeFunctionCall:
		issues = append(issues, "History starts with function_call (truncated mid-cycle)")
	}

	pendingCalls := 0
	for i := range msgs {
		switch kindOf(&msgs[i]) {
		case TypeFunctionCall:
			pendingCalls++
		case TypeFunctionResponse:
			if pendingCalls > 0 {
				pendingCalls--
			} else {
				issues = append(issues, "function_response without preceding function_call")
			}
		}
	}
	if pendingCalls > 0 {
		issues = append(issues, "Orphaned function_call(s) without responses at end of history")
	}

	for i := 1; i < len(msgs); i++ {
		if kindOf(&msgs[i-1]) == TypeUserMessage && kindOf(&msgs[i]) == TypeUserMessage {
			issues = append(issues, "Two consecutive user_messages")
		}
	}
	return issues
}

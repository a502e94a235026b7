// Package hookevent normalizes the loosely structured JSON payloads that
// coding agents POST to the hook listener. Different agent versions disagree
// on field names and casing, so extraction is tolerant by design of the
// payloads observed in the wild.
package hookevent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Event wraps one decoded hook payload. The raw object is retained so it can
// be forwarded to consumers untouched.
type Event struct {
	raw map[string]any
}

// Parse decodes a hook payload. Anything other than a JSON object is
// rejected.
func Parse(data []byte) (*Event, error) {
	var raw map[string]any

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding hook payload: %w", err)
	}

	if raw == nil {
		return nil, fmt.Errorf("hook payload is not a JSON object")
	}

	return &Event{raw: raw}, nil
}

// FromMap wraps an already decoded payload.
func FromMap(raw map[string]any) *Event {
	if raw == nil {
		raw = map[string]any{}
	}

	return &Event{raw: raw}
}

// Raw returns the decoded payload for forwarding.
func (e *Event) Raw() map[string]any { return e.raw }

// Name returns the event name, preferring the current field over the legacy
// one. Unnamed events report "unknown".
func (e *Event) Name() string {
	if v := stringField(e.raw, "hook_event_name"); v != "" {
		return v
	}
	if v := stringField(e.raw, "event"); v != "" {
		return v
	}

	return "unknown"
}

// SessionID extracts the agent session id, probing fallback locations in a
// fixed order: top-level session_id, then payload.session_id,
// payload.sessionId, and finally top-level thread_id.
func (e *Event) SessionID() string {
	if v := stringField(e.raw, "session_id"); v != "" {
		return v
	}

	if payload, ok := e.raw["payload"].(map[string]any); ok {
		if v := stringField(payload, "session_id"); v != "" {
			return v
		}
		if v := stringField(payload, "sessionId"); v != "" {
			return v
		}
	}

	return stringField(e.raw, "thread_id")
}

// turnCompleteTokens are event names that unambiguously mark the end of an
// agent turn.
var turnCompleteTokens = map[string]bool{
	"agent-turn-complete": true,
	"agent_turn_complete": true,
	"agentturncomplete":   true,
	"turn-complete":       true,
	"turn_complete":       true,
	"task-complete":       true,
	"task_complete":       true,
	"stop":                true,
	"stopped":             true,
	"done":                true,
	"finished":            true,
	"completion":          true,
}

var turnCompleteSuffixes = []string{
	"-complete", "-completed", "-done", "-finished",
	"_complete", "_completed", "_done", "_finished",
	"/complete", "/completed", "/done", "/finished",
}

var turnCompleteStatuses = map[string]bool{
	"done":      true,
	"complete":  true,
	"completed": true,
	"finished":  true,
	"stopped":   true,
	"success":   true,
	"ok":        true,
}

// payloadNameKeys are the fields inside a nested payload object that agents
// use to name the inner event.
var payloadNameKeys = []string{"type", "event_type", "hook_event_name", "event"}

func completionName(name string) bool {
	name = strings.TrimSpace(strings.ToLower(name))

	if turnCompleteTokens[name] {
		return true
	}

	for _, suffix := range turnCompleteSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return false
}

func completionIndicators(m map[string]any) bool {
	if turnCompleteStatuses[strings.ToLower(stringField(m, "status"))] {
		return true
	}

	for _, key := range []string{"done", "complete"} {
		if b, ok := m[key].(bool); ok && b {
			return true
		}
	}

	return false
}

// TurnComplete reports whether the event marks the end of an agent turn.
// The check covers known event names, completion-style name suffixes,
// terminal status fields and boolean done/complete flags, probing both the
// top-level object and a nested payload object.
func (e *Event) TurnComplete() bool {
	if completionName(e.Name()) {
		return true
	}

	if completionIndicators(e.raw) {
		return true
	}

	payload, ok := e.raw["payload"].(map[string]any)
	if !ok {
		return false
	}

	for _, key := range payloadNameKeys {
		if v := stringField(payload, key); v != "" && completionName(v) {
			return true
		}
	}

	return completionIndicators(payload)
}

// finalMessagePaths lists where agents put the final assistant message, in
// priority order. A path with two elements descends into the payload object.
var finalMessagePaths = [][]string{
	{"payload", "last-assistant-message"},
	{"payload", "last_assistant_message"},
	{"last-assistant-message"},
	{"last_assistant_message"},
	{"payload", "last_result"},
	{"last_result"},
}

// FinalMessage extracts the final assistant message, if present.
func (e *Event) FinalMessage() (string, bool) {
	for _, path := range finalMessagePaths {
		node := e.raw

		if len(path) == 2 {
			payload, ok := node[path[0]].(map[string]any)
			if !ok {
				continue
			}

			node = payload
		}

		if v := stringField(node, path[len(path)-1]); v != "" {
			return v, true
		}
	}

	return "", false
}

// safeLogKeys are the only payload fields copied into log records. Hook
// payloads can carry prompts and file contents, which stay out of logs.
var safeLogKeys = []string{
	"hook_event_name", "event", "session_id", "tool_name", "reason", "source",
}

// LogAttrs returns structured logging attributes for the event, restricted
// to non-sensitive fields.
func (e *Event) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(safeLogKeys))

	for _, key := range safeLogKeys {
		if v := stringField(e.raw, key); v != "" {
			attrs = append(attrs, slog.String(key, v))
		}
	}

	return attrs
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}

	return strings.TrimSpace(v)
}

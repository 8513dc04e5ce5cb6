// Package protocol implements the host-sandbox message layer: the envelope,
// the pluggable codec chain, and a transport with heartbeats, response
// correlation, and reconnect handling over an injected conduit.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the message type. The set is closed: dispatch is always
// keyed by one of these values, never by arbitrary names.
type Kind string

const (
	KindFunctionCall Kind = "function_call"
	KindEvent        Kind = "event"
	KindData         Kind = "data"
	KindControl      Kind = "control"
	KindResponse     Kind = "response"
	KindError        Kind = "error"
	KindHeartbeat    Kind = "heartbeat"
)

// Message is the unit of all host-sandbox communication. ID is the
// correlation key for request/response matching.
type Message struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	IsResponse bool           `json:"is_response,omitempty"`
}

// NewMessage creates a message with a fresh correlation ID.
func NewMessage(kind Kind, source, target string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Source:    source,
		Target:    target,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// NewResponse creates a response correlated to the given request.
func NewResponse(req *Message, payload map[string]any) *Message {
	return &Message{
		ID:         req.ID,
		Kind:       KindResponse,
		Source:     req.Target,
		Target:     req.Source,
		Payload:    payload,
		Timestamp:  time.Now(),
		IsResponse: true,
	}
}

// NewErrorResponse creates an error response correlated to the request.
func NewErrorResponse(req *Message, errMsg string) *Message {
	return &Message{
		ID:         req.ID,
		Kind:       KindError,
		Source:     req.Target,
		Target:     req.Source,
		Payload:    map[string]any{"error": errMsg},
		Timestamp:  time.Now(),
		IsResponse: true,
	}
}

// ControlPayload builds a control payload with the given command.
func ControlPayload(command string, fields map[string]any) map[string]any {
	payload := map[string]any{"command": command}
	for k, v := range fields {
		payload[k] = v
	}
	return payload
}

// FunctionCallPayload builds a function-call payload.
func FunctionCallPayload(module, function string, args []any) map[string]any {
	return map[string]any{
		"module_name":   module,
		"function_name": function,
		"arguments":     args,
	}
}

// EventPayload builds an event payload.
func EventPayload(eventType string, data map[string]any) map[string]any {
	return map[string]any{
		"event_type": eventType,
		"data":       data,
	}
}

// ErrorText extracts the error string from an error response payload.
func (m *Message) ErrorText() string {
	if m == nil || m.Payload == nil {
		return ""
	}
	if s, ok := m.Payload["error"].(string); ok {
		return s
	}
	return ""
}

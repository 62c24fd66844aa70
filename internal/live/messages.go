// Package live defines the websocket channel the entry form uses for
// per-field edits, validation and postal code autofill.
package live

import (
	"encoding/json"

	"github.com/movebid/quoteform/internal/handler"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server messages.
type ClientMessage struct {
	Type string          `json:"type"` // "update", "quantity", "validate", "lookup", "ping"
	ID   string          `json:"id"`   // client-assigned request id
	Data json.RawMessage `json:"data,omitempty"`
}

// UpdateData is the payload for "update" messages.
type UpdateData struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// QuantityData is the payload for "quantity" messages.
type QuantityData struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// ValidateData is the payload for "validate" messages.
type ValidateData struct {
	Field string `json:"field"`
}

// LookupData is the payload for "lookup" messages.
type LookupData struct {
	Side    string `json:"side"`
	Zipcode string `json:"zipcode"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "state", "errors", "address", "pong", "error"
	RequestID string `json:"request_id,omitempty"` // echoes the client id
	Data      any    `json:"data,omitempty"`
}

// StateData is the form snapshot sent after every change.
type StateData = handler.State

// ErrorsData carries field messages. Cleared lists fields whose message
// should be removed.
type ErrorsData struct {
	Errors  map[string]string `json:"errors"`
	Cleared []string          `json:"cleared"`
}

// AddressData is the result of a postal code lookup.
type AddressData = handler.AddressFill

// ErrorData carries a failed request.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package protocol

import "encoding/json"

// Error codes for the `{code, message, details?}` wire error shape (spec §6).
const (
	ErrAuthRequired    = "AUTH_REQUIRED"
	ErrAuthFailed      = "AUTH_FAILED"
	ErrMethodNotFound  = "METHOD_NOT_FOUND"
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrPermissionDenied = "PERMISSION_DENIED"
	ErrInternal        = "INTERNAL_ERROR"
	ErrHandshakeFailed = "HANDSHAKE_FAILED"
)

// JSON-RPC 2.0 integer error codes.
const (
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// WireError is the error payload shape used by both dialects.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *WireError) Error() string { return e.Code + ": " + e.Message }

// NewWireError builds a WireError, satisfying the `error` interface so
// handlers can return it directly.
func NewWireError(code, message string, details any) *WireError {
	return &WireError{Code: code, Message: message, Details: details}
}

// Dialect distinguishes the two frame shapes the gateway accepts on a
// single text WebSocket frame (spec §4.11).
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectJSONRPC
	DialectInternal
)

// RawRequest is the superset of fields present across both dialects; a
// single json.Unmarshal into this struct lets the server sniff the
// dialect before dispatch.
type RawRequest struct {
	// JSON-RPC 2.0 fields.
	JSONRPC string          `json:"jsonrpc,omitempty"`
	// Internal req/res/event fields.
	Type string `json:"type,omitempty"`

	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Dialect reports which framing this request used.
func (r *RawRequest) Dialect() Dialect {
	switch {
	case r.JSONRPC != "":
		return DialectJSONRPC
	case r.Type == "req":
		return DialectInternal
	default:
		return DialectUnknown
	}
}

// JSONRPCResponse is the `{jsonrpc, id, result|error}` response shape.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError carries the integer-coded JSON-RPC error shape.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// InternalResponse is the `{type:"res", id, ok, payload|error}` shape.
type InternalResponse struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id,omitempty"`
	OK      bool            `json:"ok"`
	Payload any             `json:"payload,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// EventFrame is the `{type:"event", event, payload, seq?}` shape used for
// every bus broadcast, regardless of the connection's request dialect.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Seq     uint64 `json:"seq,omitempty"`
}

// NewEventFrame builds a broadcast frame for the given event.
func NewEventFrame(event string, payload any, seq uint64) EventFrame {
	return EventFrame{Type: "event", Event: event, Payload: payload, Seq: seq}
}

// errCodeToJSONRPC maps a screaming-snake wire code to its JSON-RPC integer
// counterpart for clients that spoke the jsonrpc dialect.
func errCodeToJSONRPC(code string) int {
	switch code {
	case ErrMethodNotFound:
		return JSONRPCMethodNotFound
	case ErrInvalidRequest, ErrAuthRequired, ErrAuthFailed, ErrPermissionDenied, ErrHandshakeFailed:
		return JSONRPCInvalidParams
	default:
		return JSONRPCInternalError
	}
}

// ToJSONRPCError converts a WireError into the JSON-RPC integer-coded shape.
func ToJSONRPCError(e *WireError) *JSONRPCError {
	return &JSONRPCError{Code: errCodeToJSONRPC(e.Code), Message: e.Error(), Data: e.Details}
}

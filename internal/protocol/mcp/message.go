package mcp

import "encoding/json"

// Request is one client call as it appears on the wire.
//
// ID is caller-assigned and echoed back verbatim in the response; the server
// does not interpret it beyond that. Params may be absent, in which case the
// handler receives an empty map.
type Request struct {
	Method string          `json:"method"`
	Params map[string]any  `json:"params,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Response is the server's answer to a single Request.
//
// Exactly one of Result or Error is populated. Code is only meaningful when
// Error is set.
type Response struct {
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   int             `json:"code,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// NewResult builds a success response echoing the request id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{Result: result, ID: id}
}

// NewError builds a failure response echoing the request id.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{Error: message, Code: code, ID: id}
}

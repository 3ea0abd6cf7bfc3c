package mcp

// Reserved error codes.
// These follow the JSON-RPC convention, although the protocol is not full
// JSON-RPC: there is no version field and batch requests are not supported.
const (
	// CodeInvalidJSON indicates the request bytes did not parse as JSON
	CodeInvalidJSON = -32700

	// CodeUnknownMethod indicates no handler is registered for the method
	CodeUnknownMethod = -32601

	// CodeInternalError indicates the handler failed or the call could not
	// be completed (including main-loop marshaling timeouts)
	CodeInternalError = -32603
)

// DefaultHost and DefaultPort are where the bridge listens unless configured
// otherwise. The bridge is a companion to a desktop application, so it binds
// to localhost by default.
const (
	DefaultHost = "localhost"
	DefaultPort = 8765
)

// MaxLineBytes bounds the size of a single request line. Sketch scripting
// payloads are small; anything larger than this is a protocol violation.
const MaxLineBytes = 4 * 1024 * 1024

package bridge

import (
	"errors"
	"fmt"
)

// ErrUnknownMethod is returned by Dispatch when no handler is registered for
// the requested method. Wrapped errors carry the method name.
var ErrUnknownMethod = errors.New("unknown method")

// ErrTimeout is returned by Dispatch when a call marshaled to the main loop
// does not complete within the configured deadline. The handler may still be
// executing; its eventual completion is discarded.
var ErrTimeout = errors.New("main loop execution timeout")

// ExecutionError reports a handler failure. It is the single error shape that
// crosses the dispatch boundary for handler-level problems, regardless of
// which goroutine executed the handler.
type ExecutionError struct {
	Method  string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("handler %s failed: %s", e.Method, e.Message)
}

package bridge

import (
	"context"
	"sort"
)

// Handler is one unit of scripting business logic, registered under a method
// name and invoked with caller-supplied parameters.
//
// Handlers signal failure by returning an error; the wire error shape is
// produced at the dispatch boundary, so handler code never deals with error
// codes. Handlers are only ever invoked on the host's main loop goroutine and
// may freely touch the live document state.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Registry maps method names to handlers.
//
// Registration happens single-threaded at startup; the registry is frozen
// when the server starts and is read-only thereafter. That invariant is what
// makes lock-free concurrent lookups safe, so Register enforces it by
// panicking after Freeze.
type Registry struct {
	handlers map[string]Handler
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register stores the handler under method. Re-registering an existing method
// replaces the previous handler (last write wins).
//
// Panics if called after Freeze: late registration would race with
// concurrent lookups from connection workers.
func (r *Registry) Register(method string, handler Handler) {
	if r.frozen {
		panic("bridge: Register called after registry was frozen")
	}
	if handler == nil {
		panic("bridge: nil handler registered for " + method)
	}
	r.handlers[method] = handler
}

// Freeze marks the end of the registration phase. Safe to call more than
// once.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Lookup returns the handler registered for method, if any.
func (r *Registry) Lookup(method string) (Handler, bool) {
	h, ok := r.handlers[method]
	return h, ok
}

// Methods returns the sorted list of registered method names.
func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

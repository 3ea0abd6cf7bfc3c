package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getmanbill/fusion360-mcp/internal/logger"
)

// mainLoopKey marks a context as executing on the host's main loop. The pump
// attaches it before invoking a handler, so re-entrant Dispatch calls made
// from inside a handler run inline instead of deadlocking on their own
// signal.
type mainLoopKey struct{}

func withMainLoop(ctx context.Context) context.Context {
	return context.WithValue(ctx, mainLoopKey{}, true)
}

func onMainLoop(ctx context.Context) bool {
	v, _ := ctx.Value(mainLoopKey{}).(bool)
	return v
}

// DispatcherConfig controls cross-goroutine call marshaling.
//
// Zero values are replaced with defaults by NewDispatcher.
type DispatcherConfig struct {
	// CallTimeout is how long a connection worker waits for the main loop
	// to complete a marshaled call. Host operations (geometry creation,
	// document saves) can be slow, so the default is generous.
	// Default: 30s.
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"min=0"`

	// SignalBuffer is the capacity of the id channel between workers and
	// the main loop pump. Default: 256.
	SignalBuffer int `mapstructure:"signal_buffer" validate:"min=0"`

	// StaleAfter is the age past which an abandoned pending call is
	// evicted. Must exceed CallTimeout or records would be evicted while a
	// waiter is still blocked on them. Default: 2x CallTimeout.
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"min=0"`

	// SweepInterval is how often the pump scans for stale records.
	// Default: 5s.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"min=0"`
}

func (c *DispatcherConfig) applyDefaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.SignalBuffer == 0 {
		c.SignalBuffer = 256
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 2 * c.CallTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 5 * time.Second
	}
}

// Dispatcher guarantees that handlers only execute on the goroutine the host
// designates as its main loop, no matter which goroutine received the
// request.
//
// A call arriving on the main loop itself (detected via the context marker)
// runs inline. A call from any other goroutine is written into the pending
// call table, announced to the pump over the signal channel (the signal
// carries only the id; method and params live in the table), and the caller
// blocks on the call's done channel until completion or timeout.
type Dispatcher struct {
	registry *Registry
	table    *callTable
	signal   chan uint64
	nextID   atomic.Uint64
	config   DispatcherConfig
}

// NewDispatcher builds a dispatcher over registry. The registry may still be
// mutated until Freeze is called; the server lifecycle does that before
// accepting connections.
func NewDispatcher(registry *Registry, config DispatcherConfig) *Dispatcher {
	if registry == nil {
		panic("bridge: nil registry")
	}
	config.applyDefaults()

	return &Dispatcher{
		registry: registry,
		table:    newCallTable(),
		signal:   make(chan uint64, config.SignalBuffer),
		config:   config,
	}
}

// Registry returns the dispatcher's handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Freeze ends the registration phase. Called by the server lifecycle before
// the first connection is accepted.
func (d *Dispatcher) Freeze() {
	d.registry.Freeze()
}

// Dispatch invokes the handler registered for method with params and returns
// its result.
//
// Errors:
//   - ErrUnknownMethod (wrapped with the method name) when no handler exists
//   - *ExecutionError when the handler returned an error or panicked
//   - ErrTimeout when the main loop did not complete the call in time
//   - ctx.Err() when the caller's context was cancelled while waiting
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params map[string]any) (any, error) {
	handler, ok := d.registry.Lookup(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	if onMainLoop(ctx) {
		return d.invoke(ctx, method, handler, params)
	}

	id := d.nextID.Add(1)
	pc := d.table.insert(id, method, params)

	// The timeout clock starts before the signal send: when the main loop
	// is wedged by a slow handler and the signal buffer is full, the send
	// itself blocks, and the caller must still see ErrTimeout at the
	// configured deadline rather than wait for buffer space.
	timer := time.NewTimer(d.config.CallTimeout)
	defer timer.Stop()

	select {
	case d.signal <- id:
	case <-timer.C:
		d.table.remove(id)
		logger.Warn("call %d (%s) timed out after %v waiting for the main loop", id, method, d.config.CallTimeout)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, method)
	case <-ctx.Done():
		d.table.remove(id)
		return nil, ctx.Err()
	}

	select {
	case <-pc.done:
		d.table.remove(id)
		if pc.err != nil {
			return nil, pc.err
		}
		return pc.result, nil

	case <-timer.C:
		// The handler may still be running on the main loop. Its
		// eventual completion write lands on a record nobody is
		// waiting on; the stale sweep reclaims it.
		logger.Warn("call %d (%s) timed out after %v", id, method, d.config.CallTimeout)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, method)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// invoke runs handler inside the failure boundary that converts any error or
// panic into an *ExecutionError. Nothing a handler does may escape this
// function: on the main loop an escaped panic would take down the host's
// event loop.
func (d *Dispatcher) invoke(ctx context.Context, method string, handler Handler, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler %s panicked: %v", method, r)
			result = nil
			err = &ExecutionError{Method: method, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	result, herr := handler(ctx, params)
	if herr != nil {
		return nil, &ExecutionError{Method: method, Message: herr.Error()}
	}
	return result, nil
}

// PendingCalls reports the current size of the pending call table. Exposed
// for tests and metrics logging.
func (d *Dispatcher) PendingCalls() int {
	return d.table.size()
}

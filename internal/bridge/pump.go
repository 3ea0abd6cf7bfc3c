package bridge

import (
	"context"
	"time"

	"github.com/getmanbill/fusion360-mcp/internal/logger"
)

// Pump is the main-loop side of the dispatcher: the host application runs it
// on the one goroutine where scripting calls are safe, and it executes the
// calls that connection workers marshal over.
//
// The pump must never block on anything a worker goroutine owns: it reacts
// to queued signals, runs the handler, records the outcome and moves on.
type Pump struct {
	dispatcher *Dispatcher
}

// NewPump wires a pump to d. Exactly one pump per dispatcher should run.
func NewPump(d *Dispatcher) *Pump {
	if d == nil {
		panic("bridge: nil dispatcher")
	}
	return &Pump{dispatcher: d}
}

// Run drains call signals until ctx is cancelled. It is the caller's
// responsibility to invoke Run on the designated main-loop goroutine; the
// dispatcher's safety guarantee holds only for handlers executed here.
//
// A periodic sweep evicts pending records abandoned by timed-out waiters so
// repeated timeouts cannot grow the table without bound.
func (p *Pump) Run(ctx context.Context) {
	d := p.dispatcher

	sweep := time.NewTicker(d.config.SweepInterval)
	defer sweep.Stop()

	logger.Debug("main loop pump running (sweep every %v)", d.config.SweepInterval)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("main loop pump stopped: %v", ctx.Err())
			return

		case id := <-d.signal:
			p.runPending(ctx, id)

		case <-sweep.C:
			if evicted := d.table.sweep(d.config.StaleAfter); evicted > 0 {
				logger.Warn("evicted %d stale pending call(s)", evicted)
			}
		}
	}
}

// runPending executes the pending call with the given id.
//
// A missing id means the waiter timed out and the record was already
// evicted; that is not an error, just a no-op. The handler runs with the
// main-loop marker on its context so nested Dispatch calls execute inline.
func (p *Pump) runPending(ctx context.Context, id uint64) {
	d := p.dispatcher

	pc, ok := d.table.lookup(id)
	if !ok {
		logger.Debug("signal for unknown call %d ignored", id)
		return
	}

	handler, ok := d.registry.Lookup(pc.method)
	if !ok {
		// Dispatch checks registration before marshaling, so this only
		// happens if the registry were mutated after freeze.
		d.table.complete(id, nil, &ExecutionError{Method: pc.method, Message: "handler disappeared"})
		return
	}

	result, err := d.invoke(withMainLoop(ctx), pc.method, handler, pc.params)
	d.table.complete(id, result, err)
}

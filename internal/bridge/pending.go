package bridge

import (
	"sync"
	"time"
)

// pendingCall is one call handed off from a connection worker goroutine to
// the main loop.
//
// Ownership: the worker goroutine that created the record is the only one
// that consumes and removes it. The main loop writes result/err exactly once
// and then closes done; the channel close is the happens-before edge that
// guarantees a waiter unblocked by done observes fully-populated fields.
type pendingCall struct {
	id      uint64
	method  string
	params  map[string]any
	result  any
	err     error
	done    chan struct{}
	created time.Time
}

// callTable is the table of in-flight cross-goroutine calls.
//
// Both sides mutate it concurrently (worker inserts/removes, main loop
// completes), so every access goes through the mutex. Entries abandoned by a
// timed-out waiter linger until the main loop completes them or the stale
// sweep evicts them.
type callTable struct {
	mu    sync.Mutex
	calls map[uint64]*pendingCall
}

func newCallTable() *callTable {
	return &callTable{calls: make(map[uint64]*pendingCall)}
}

func (t *callTable) insert(id uint64, method string, params map[string]any) *pendingCall {
	pc := &pendingCall{
		id:      id,
		method:  method,
		params:  params,
		done:    make(chan struct{}),
		created: time.Now(),
	}

	t.mu.Lock()
	t.calls[id] = pc
	t.mu.Unlock()

	return pc
}

// complete records the outcome for id and wakes its waiter.
//
// A missing id is a silent no-op: it means the waiter timed out and the
// record was already evicted. An already-completed record is likewise left
// alone, so the completion transition happens at most once.
func (t *callTable) complete(id uint64, result any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.calls[id]
	if !ok {
		return
	}

	select {
	case <-pc.done:
		return
	default:
	}

	pc.result = result
	pc.err = err
	close(pc.done)
}

func (t *callTable) lookup(id uint64) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.calls[id]
	return pc, ok
}

func (t *callTable) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.calls, id)
}

// sweep evicts records older than staleAfter and returns how many were
// removed. Repeated timeouts would otherwise leak abandoned records whose
// waiters gave up before the main loop wrote a result.
func (t *callTable) sweep(staleAfter time.Duration) int {
	cutoff := time.Now().Add(-staleAfter)

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, pc := range t.calls {
		if pc.created.Before(cutoff) {
			delete(t.calls, id)
			evicted++
		}
	}
	return evicted
}

func (t *callTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.calls)
}

// Package memory provides an in-memory snapshot store.
//
// Snapshots live only as long as the process; this is the default backend
// for tests and for sessions that do not need persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/getmanbill/fusion360-mcp/internal/fusion"
	"github.com/getmanbill/fusion360-mcp/pkg/snapshot"
)

// MemorySnapshotStore implements snapshot.Store backed by a map.
//
// Designs are stored in serialized form, so a loaded design is always a deep
// copy and never aliases the live document.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string][]byte)}
}

func (m *MemorySnapshotStore) Save(ctx context.Context, name string, design *fusion.Design) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := snapshot.Encode(design)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[name] = data
	return nil
}

func (m *MemorySnapshotStore) Load(ctx context.Context, name string) (*fusion.Design, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.snapshots[name]
	m.mu.RUnlock()
	if !ok {
		return nil, snapshot.ErrNotFound
	}
	return snapshot.Decode(data)
}

func (m *MemorySnapshotStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.snapshots))
	for name := range m.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemorySnapshotStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = nil
	return nil
}

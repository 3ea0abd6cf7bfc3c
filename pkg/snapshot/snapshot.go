// Package snapshot defines persistence for serialized design documents.
//
// A snapshot is the full JSON form of a design, written whenever a client
// calls save_document. Backends live in subpackages: memory (tests and
// ephemeral sessions), badger (embedded local persistence) and s3 (remote
// object storage).
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getmanbill/fusion360-mcp/internal/fusion"
)

// ErrNotFound is returned when no snapshot exists under the requested name.
var ErrNotFound = errors.New("snapshot not found")

// Store persists and retrieves named design snapshots.
//
// Implementations must be safe for concurrent use. Save overwrites any
// existing snapshot under the same name (last write wins); Load returns
// ErrNotFound for unknown names.
type Store interface {
	// Save serializes the design and stores it under name.
	Save(ctx context.Context, name string, design *fusion.Design) error

	// Load retrieves and deserializes the snapshot stored under name.
	Load(ctx context.Context, name string) (*fusion.Design, error)

	// List returns the names of all stored snapshots.
	List(ctx context.Context) ([]string, error)

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}

// Encode serializes a design to its snapshot form.
func Encode(design *fusion.Design) ([]byte, error) {
	data, err := json.Marshal(design)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Decode deserializes a snapshot and rebuilds the design's internal
// counters so freshly created entities do not reuse loaded ids.
func Decode(data []byte) (*fusion.Design, error) {
	var design fusion.Design
	if err := json.Unmarshal(data, &design); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	design.RestoreCounters()
	return &design, nil
}

// Package badger provides a snapshot store backed by BadgerDB.
//
// This is the persistence backend for local installs: snapshots survive
// host restarts without any external service.
package badger

import (
	"context"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/getmanbill/fusion360-mcp/internal/fusion"
	"github.com/getmanbill/fusion360-mcp/pkg/snapshot"
)

// keyPrefix namespaces snapshot entries so the database can host other data
// later without key collisions.
const keyPrefix = "snapshot:"

// BadgerSnapshotStore implements snapshot.Store using BadgerDB.
//
// BadgerDB handles its own locking; no additional synchronization is needed
// here.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// BadgerSnapshotStoreConfig contains configuration for the Badger store.
type BadgerSnapshotStoreConfig struct {
	// DBPath is the directory BadgerDB stores its files in. Created if it
	// does not exist.
	DBPath string

	// BadgerOptions overrides the default options entirely when set.
	BadgerOptions *badger.Options
}

// NewBadgerSnapshotStore opens (or creates) the database at config.DBPath.
func NewBadgerSnapshotStore(ctx context.Context, config BadgerSnapshotStoreConfig) (*BadgerSnapshotStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.DBPath == "" {
		return nil, fmt.Errorf("badger snapshot store: DBPath is required")
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		opts = badger.DefaultOptions(config.DBPath)
		opts = opts.WithLoggingLevel(badger.WARNING)
		// Snapshots are a handful of small JSON documents; compression and
		// large caches buy nothing here.
		opts = opts.WithCompression(options.None)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	return &BadgerSnapshotStore{db: db}, nil
}

func key(name string) []byte {
	return []byte(keyPrefix + name)
}

func (b *BadgerSnapshotStore) Save(ctx context.Context, name string, design *fusion.Design) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := snapshot.Encode(design)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(name), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", name, err)
	}
	return nil
}

func (b *BadgerSnapshotStore) Load(ctx context.Context, name string) (*fusion.Design, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}

	return snapshot.Decode(data)
}

func (b *BadgerSnapshotStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			names = append(names, string(k[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

func (b *BadgerSnapshotStore) Close() error {
	return b.db.Close()
}

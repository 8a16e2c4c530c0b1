package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/scopegraph"
)

// ContextStore is the persistence interface for context snapshots. Both
// Store (SQLite) and BadgerStore implement it.
type ContextStore interface {
	Save(ctx context.Context, snap *scopegraph.Snapshot) error
	Load(ctx context.Context, id scopegraph.ID) (*scopegraph.Snapshot, error)
	Delete(ctx context.Context, id scopegraph.ID) error
	Contexts(ctx context.Context) ([]ContextInfo, error)
	Messages(ctx context.Context, id scopegraph.ID, sources ...string) ([]message.Message, error)
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	Close() error
}

// Compile-time checks.
var (
	_ ContextStore = (*Store)(nil)
	_ ContextStore = (*BadgerStore)(nil)
)

// Open opens a store for driver ("sqlite" or "badger") at path. SQLite
// stores are migrated before they are returned.
func Open(driver, path string) (ContextStore, error) {
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", filepath.Dir(path), err)
		}
		s, err := NewStore(path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "badger":
		return OpenBadger(BadgerConfig{Path: path, SyncWrites: true})
	}
	return nil, fmt.Errorf("store: unknown driver %q", driver)
}

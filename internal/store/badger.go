package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/scopegraph"
)

const (
	contextPrefix  = "ctx/"
	metadataPrefix = "meta/"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps each context snapshot as one msgpack value.
type BadgerStore struct {
	db *badger.DB
}

// badgerRecord is the stored value under a context key.
type badgerRecord struct {
	Hash     string               `msgpack:"hash"`
	Snapshot *scopegraph.Snapshot `msgpack:"snapshot"`
}

// OpenBadger opens (or creates) a badger database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("open badger: path is required for a persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("open badger: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func contextKey(id scopegraph.ID) []byte {
	return []byte(contextPrefix + id.String())
}

// Save persists snap. A snapshot whose hash matches the stored one is not
// rewritten.
func (s *BadgerStore) Save(ctx context.Context, snap *scopegraph.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	hash := ComputeSnapshotHash(snap)
	return s.db.Update(func(txn *badger.Txn) error {
		if rec, err := getRecord(txn, snap.ID); err == nil && rec.Hash == hash {
			return nil
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("save: %w", err)
		}
		b, err := msgpack.Marshal(&badgerRecord{Hash: hash, Snapshot: snap})
		if err != nil {
			return fmt.Errorf("save: encode %s: %w", snap.ID, err)
		}
		if err := txn.Set(contextKey(snap.ID), b); err != nil {
			return fmt.Errorf("save: %s: %w", snap.ID, err)
		}
		return txn.Set([]byte(metadataPrefix+MetaLastSaved), []byte(snap.SavedAt.UTC().Format(time.RFC3339)))
	})
}

func getRecord(txn *badger.Txn, id scopegraph.ID) (*badgerRecord, error) {
	item, err := txn.Get(contextKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var rec badgerRecord
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &rec, nil
}

// Load returns the stored snapshot for id, or ErrNotFound.
func (s *BadgerStore) Load(ctx context.Context, id scopegraph.ID) (*scopegraph.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	var snap *scopegraph.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		snap = rec.Snapshot
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return snap, nil
}

// Delete removes the snapshot for id. Deleting an absent context is a no-op.
func (s *BadgerStore) Delete(ctx context.Context, id scopegraph.ID) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(contextKey(id))
	})
}

// Contexts lists every stored context ordered by root and language.
func (s *BadgerStore) Contexts(ctx context.Context) ([]ContextInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("contexts: %w", err)
	}
	var out []ContextInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(contextPrefix), PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec badgerRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			info := ContextInfo{
				ID:         rec.Snapshot.ID,
				InstanceID: rec.Snapshot.InstanceID,
				Hash:       rec.Hash,
				Units:      len(rec.Snapshot.Units),
				SavedAt:    rec.Snapshot.SavedAt,
			}
			for _, u := range rec.Snapshot.Units {
				info.Errors += message.Count(u.Messages, message.Error)
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("contexts: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Root != out[j].ID.Root {
			return out[i].ID.Root < out[j].ID.Root
		}
		return out[i].ID.Language < out[j].ID.Language
	})
	return out, nil
}

// Messages returns the stored diagnostics of a context, optionally limited
// to the given sources.
func (s *BadgerStore) Messages(ctx context.Context, id scopegraph.ID, sources ...string) ([]message.Message, error) {
	snap, err := s.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	want := make(map[string]bool, len(sources))
	for _, src := range sources {
		want[src] = true
	}
	var msgs []message.Message
	for _, u := range snap.Units {
		for _, m := range u.Messages {
			if len(want) == 0 || want[m.Source] {
				msgs = append(msgs, m)
			}
		}
	}
	message.Sort(msgs)
	return msgs, nil
}

// GetMetadata returns the value stored under key, or "" when absent.
func (s *BadgerStore) GetMetadata(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metadataPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b, err := item.ValueCopy(nil)
		value = string(b)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores value under key.
func (s *BadgerStore) SetMetadata(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metadataPrefix+key), []byte(value))
	}); err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}

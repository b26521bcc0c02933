// Package kvstore provides a BadgerDB-backed durable store for todos.
//
// Each todo is one key, "todo:" followed by the zero-padded decimal id, so
// key order equals id order. Values are JSON-encoded todo.Todo. The key
// "meta:last_id" holds the highest id ever upserted as a big-endian uint64;
// it is raised in the upsert transaction and never lowered by deletes. The
// store satisfies persist.Backend; all writes are idempotent by id.
package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/todosync/internal/todo"
)

var (
	keyPrefix = []byte("todo:")
	lastIDKey = []byte("meta:last_id")
)

// Config configures a Store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a BadgerDB-backed todo store.
type Store struct {
	db *badger.DB
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, id))
}

// LoadAll returns every stored todo in canonical order.
func (s *Store) LoadAll(ctx context.Context) ([]todo.Todo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	todos := []todo.Todo{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec todo.Todo
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			rec.CreatedAt = todo.NormalizeTime(rec.CreatedAt)
			todos = append(todos, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load all: %w", err)
	}

	todo.SortCanonical(todos)
	return todos, nil
}

// WriteUpsert stores rec under its id, replacing any previous value.
func (s *Store) WriteUpsert(ctx context.Context, rec todo.Todo) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("write upsert %d: %w", rec.ID, err)
	}
	upsert := func(txn *badger.Txn) error {
		if err := txn.Set(key(rec.ID), val); err != nil {
			return err
		}
		last, err := readLastID(txn)
		if err != nil {
			return err
		}
		if rec.ID <= last {
			return nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(rec.ID))
		return txn.Set(lastIDKey, buf)
	}

	// Workers upserting different ids contend on lastIDKey; a conflicting
	// transaction is simply rerun.
	for {
		err = s.db.Update(upsert)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("write upsert %d: %w", rec.ID, cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("write upsert %d: %w", rec.ID, err)
	}
	return nil
}

// LastID returns the highest id ever upserted, including deleted ones.
func (s *Store) LastID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	var last int64
	err := s.db.View(func(txn *badger.Txn) error {
		stored, err := readLastID(txn)
		if err != nil {
			return err
		}
		last = stored

		// Databases written before the mark existed only have their keys.
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			id, err := strconv.ParseInt(string(it.Item().Key()[len(keyPrefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("parse key %s: %w", it.Item().Key(), err)
			}
			last = max(last, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("last id: %w", err)
	}
	return last, nil
}

func readLastID(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(lastIDKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt %s: %d bytes", lastIDKey, len(val))
		}
		last = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return last, err
}

// WriteDelete removes id. Deleting a missing id succeeds.
func (s *Store) WriteDelete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	}); err != nil {
		return fmt.Errorf("write delete %d: %w", id, err)
	}
	return nil
}

// WriteDeleteMany removes every id in ids in one transaction.
func (s *Store) WriteDeleteMany(ctx context.Context, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(key(id)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("write delete many: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/logger"
)

// BadgerStore implements Store on an embedded BadgerDB
type BadgerStore struct {
	db     *badger.DB
	path   string
	logger *logger.Logger
	mu     sync.RWMutex
}

// OpenBadger opens (creating if needed) a BadgerDB at path. With inMemory set, path is
// ignored and nothing touches the disk.
func OpenBadger(path string, inMemory bool) (*BadgerStore, error) {
	log := logger.NewComponentLogger("Store")

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if path == "" {
			return nil, fmt.Errorf("storage path cannot be empty")
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts.Logger = nil

	log.Info("Opening credential store at %s", displayPath(path, inMemory))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BadgerDB at %s", path)
	}

	return &BadgerStore{db: db, path: path, logger: log}, nil
}

func displayPath(path string, inMemory bool) string {
	if inMemory {
		return "(memory)"
	}
	return path
}

// Get implements Store
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, fmt.Errorf("store is closed")
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(namespaced(key)))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Set implements Store
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte) error {
	return s.Batch(ctx, []Op{SetOp(key, value)})
}

// Delete implements Store
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	return s.Batch(ctx, []Op{DeleteOp(key)})
}

// Batch implements Store inside a single read-write transaction
func (s *BadgerStore) Batch(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return fmt.Errorf("store is closed")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			key := []byte(namespaced(op.Key))
			switch op.Type {
			case OpSet:
				if err := txn.Set(key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := txn.Delete(key); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown batch operation %d", op.Type)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply %d operations: %w", len(ops), err)
	}

	s.logger.Debug("Applied %d store operations", len(ops))
	return nil
}

// Close implements Store
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	s.logger.Info("Closing credential store...")
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close credential store")
	}
	s.db = nil
	return nil
}

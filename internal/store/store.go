// Package store provides the durable key-value storage that holds the enrollment
// credential and the derived device id across restarts.
//
// Three backends implement Store:
//   - BadgerStore: embedded BadgerDB on local disk (default)
//   - RedisStore: a Redis instance, for hosts that already run one for local state
//   - MemoryStore: process memory, for tests and ephemeral sessions
//
// All keys are namespaced under KeyPrefix. Batch applies several operations atomically,
// which is how the credential and the device id are written and removed together.
package store

import (
	"context"
	"errors"
	"fmt"
)

// KeyPrefix namespaces every key written by the console
const KeyPrefix = "cfa:"

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("key not found")

// OpType defines the type of batch operation
type OpType int

const (
	// OpSet stores a value
	OpSet OpType = iota
	// OpDelete removes a key
	OpDelete
)

// Op is a single operation in a batch
type Op struct {
	Type  OpType
	Key   string
	Value []byte
}

// SetOp builds a set operation
func SetOp(key string, value []byte) Op {
	return Op{Type: OpSet, Key: key, Value: value}
}

// DeleteOp builds a delete operation
func DeleteOp(key string) Op {
	return Op{Type: OpDelete, Key: key}
}

// Store abstracts durable key-value persistence
type Store interface {
	// Get retrieves a value by key, returning ErrNotFound when absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given key
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Batch performs multiple operations atomically
	Batch(ctx context.Context, ops []Op) error

	// Close releases storage resources
	Close() error
}

// Options selects and configures a backend
type Options struct {
	Backend   string
	Path      string
	RedisAddr string
	RedisDB   int
}

// Open creates the backend named in opts
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "badger", "":
		return OpenBadger(opts.Path, false)
	case "redis":
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisDB)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Backend)
	}
}

func namespaced(key string) string {
	return KeyPrefix + key
}

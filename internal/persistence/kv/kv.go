// Package kv is the durable key-value store behind kit definitions, user
// records and balances. Keys live in named buckets; values are opaque bytes.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// Well-known buckets.
const (
	BucketKits     = "kits"
	BucketRecords  = "records"
	BucketMeta     = "meta"
	BucketBalances = "balances"
)

// Buckets lists every bucket a backend creates on open.
var Buckets = []string{BucketKits, BucketRecords, BucketMeta, BucketBalances}

type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, bucket, key string) error
	// ForEach visits keys in ascending byte order. Returning an error from fn
	// stops the walk and is returned as is.
	ForEach(ctx context.Context, bucket string, fn func(key string, value []byte) error) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open opens the named backend at path. The memory backend ignores path.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendBolt, "":
		return OpenBolt(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func checkKey(bucket, key string) error {
	if strings.TrimSpace(bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}
	return nil
}

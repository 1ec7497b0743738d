// Package records loads, caches and flushes per-user kit state.
package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"uniquekits.dev/internal/persistence/kv"
	"uniquekits.dev/internal/reason"
)

type Manager struct {
	store kv.Store
	log   *zap.Logger

	// flushLimit bounds concurrent writes during FlushAll.
	flushLimit int

	mu    sync.Mutex
	cache map[uuid.UUID]*Record
	loads singleflight.Group
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithFlushLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.flushLimit = n
		}
	}
}

func NewManager(store kv.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		log:        zap.NewNop(),
		flushLimit: 8,
		cache:      map[uuid.UUID]*Record{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get returns the cached record for id, loading it on first access. It never
// returns nil: a missing record is fresh, and an unreadable one is fresh and
// detached. Storage is read without holding the cache lock; concurrent loads
// of the same id share one read.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) *Record {
	if r, ok := m.Peek(id); ok {
		return r
	}
	v, _, _ := m.loads.Do(id.String(), func() (any, error) {
		if r, ok := m.Peek(id); ok {
			return r, nil
		}
		r := m.load(ctx, id)
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.cache[id]; ok {
			return cur, nil
		}
		m.cache[id] = r
		return r, nil
	})
	return v.(*Record)
}

// Peek returns the cached record without loading.
func (m *Manager) Peek(id uuid.UUID) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.cache[id]
	return r, ok
}

func (m *Manager) load(ctx context.Context, id uuid.UUID) *Record {
	b, err := m.store.Get(ctx, kv.BucketRecords, id.String())
	if errors.Is(err, kv.ErrNotFound) {
		return m.adopt(newRecord(Fresh(id)))
	}
	if err == nil {
		var d Data
		d, err = decode(b)
		if err == nil {
			d.UserID = id
			return m.adopt(newRecord(d))
		}
	}
	m.log.Warn("record load failed; using detached in-memory record",
		zap.String("user", id.String()),
		zap.String("code", string(reason.PersistenceFailure)),
		zap.Error(err),
	)
	r := m.adopt(newRecord(Fresh(id)))
	r.detached = true
	return r
}

func (m *Manager) adopt(r *Record) *Record {
	r.owner = m
	return r
}

// Flush writes the cached record for id. It is a no-op when id is not cached,
// clean, or detached.
func (m *Manager) Flush(ctx context.Context, id uuid.UUID) error {
	r, ok := m.Peek(id)
	if !ok {
		return nil
	}
	return m.write(ctx, id, r)
}

func (m *Manager) write(ctx context.Context, id uuid.UUID, r *Record) error {
	b, ok, err := r.encode()
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	if !ok {
		return nil
	}
	if err := m.store.Put(ctx, kv.BucketRecords, id.String(), b); err != nil {
		r.markDirty()
		m.log.Warn("record flush failed",
			zap.String("user", id.String()),
			zap.String("code", string(reason.PersistenceFailure)),
			zap.Error(err),
		)
		return fmt.Errorf("flush record %s: %w", id, err)
	}
	return nil
}

// FlushAll writes every cached record and blocks until all writes finish.
func (m *Manager) FlushAll(ctx context.Context) error {
	m.mu.Lock()
	pending := make(map[uuid.UUID]*Record, len(m.cache))
	for id, r := range m.cache {
		pending[id] = r
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.flushLimit)
	for id, r := range pending {
		g.Go(func() error {
			return m.write(gctx, id, r)
		})
	}
	return g.Wait()
}

// Evict flushes the record and drops it from the cache. The record stays
// cached when the flush fails. Updates made through a handle obtained before
// the eviction are applied to the record's next cached copy.
func (m *Manager) Evict(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.cache[id]
	if !ok {
		return nil
	}
	for {
		if err := m.write(ctx, id, r); err != nil {
			return err
		}
		if r.retire() {
			break
		}
	}
	delete(m.cache, id)
	return nil
}

// Delete removes a user's record from the cache and from storage.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()
	return m.store.Delete(ctx, kv.BucketRecords, id.String())
}

// Cached returns the ids currently held in memory.
func (m *Manager) Cached() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uuid.UUID, 0, len(m.cache))
	for id := range m.cache {
		out = append(out, id)
	}
	return out
}

// All flushes the cache and returns every stored record. Unreadable entries
// are logged and skipped.
func (m *Manager) All(ctx context.Context) ([]Data, error) {
	if err := m.FlushAll(ctx); err != nil {
		return nil, err
	}
	var out []Data
	err := m.store.ForEach(ctx, kv.BucketRecords, func(key string, b []byte) error {
		d, err := decode(b)
		if err != nil {
			m.log.Warn("skipping unreadable record", zap.String("user", key), zap.Error(err))
			return nil
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// Restore writes records to storage and replaces any cached copies.
func (m *Manager) Restore(ctx context.Context, recs []Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range recs {
		d.normalize()
		r := m.adopt(newRecord(d.Clone()))
		r.dirty = true
		if err := m.write(ctx, d.UserID, r); err != nil {
			return err
		}
		if _, ok := m.cache[d.UserID]; ok {
			m.cache[d.UserID] = r
		}
	}
	return nil
}

// Run flushes all records every interval until ctx is done, then performs a
// final blocking flush.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := m.FlushAll(context.WithoutCancel(ctx)); err != nil {
				m.log.Error("final flush failed", zap.Error(err))
			}
			return
		case <-t.C:
			if err := m.FlushAll(ctx); err != nil {
				m.log.Warn("autosave failed", zap.Error(err))
			} else {
				m.log.Debug("autosave complete")
			}
		}
	}
}

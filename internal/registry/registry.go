// Package registry holds the loaded kit definitions. Readers see an immutable
// snapshot; every mutation builds a new snapshot, persists it, then swaps it
// in, so a grant holding a definition is never affected by a reload.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"uniquekits.dev/internal/eligibility"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/reason"
)

var (
	ErrNotFound = errors.New("kit not found")
	ErrExists   = errors.New("kit already exists")
	ErrInvalid  = errors.New("invalid kit id")
)

// Source is where definitions are loaded from and saved to.
type Source interface {
	Load(ctx context.Context) ([]kit.Definition, []kit.Issue, error)
	Store(ctx context.Context, defs []kit.Definition) error
}

type snapshot struct {
	order []string
	byID  map[string]kit.Definition
}

func newSnapshot(defs []kit.Definition) *snapshot {
	s := &snapshot{order: make([]string, 0, len(defs)), byID: make(map[string]kit.Definition, len(defs))}
	for _, d := range defs {
		if _, dup := s.byID[d.ID]; dup {
			continue
		}
		s.order = append(s.order, d.ID)
		s.byID[d.ID] = d.Clone()
	}
	return s
}

func (s *snapshot) defs() []kit.Definition {
	out := make([]kit.Definition, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

type Registry struct {
	src  Source
	eval *eligibility.Evaluator
	log  *zap.Logger

	cur atomic.Pointer[snapshot]

	// writeMu orders mutations so that persisted state matches memory.
	writeMu   sync.Mutex
	listeners []func([]kit.Definition)
}

func New(src Source, eval *eligibility.Evaluator, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{src: src, eval: eval, log: log}
	r.cur.Store(newSnapshot(nil))
	return r
}

// OnChange registers fn to receive the full definition list after every
// successful load or mutation. Register before the first Load.
func (r *Registry) OnChange(fn func([]kit.Definition)) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Load replaces the registry with the source's definitions. Per-field problems
// are logged and returned; they never fail the load.
func (r *Registry) Load(ctx context.Context) ([]kit.Issue, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	defs, issues, err := r.src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load kits: %w", err)
	}
	for _, is := range issues {
		r.log.Warn("kit definition issue",
			zap.String("kit", is.Kit),
			zap.String("field", is.Field),
			zap.String("code", string(reason.InvalidDefinition)),
			zap.String("detail", is.Msg),
		)
	}
	r.swap(newSnapshot(defs))
	r.log.Info("kits loaded", zap.Int("count", len(defs)), zap.Int("issues", len(issues)))
	return issues, nil
}

// Reload is Load under the name used by the admin surface and the watcher.
func (r *Registry) Reload(ctx context.Context) ([]kit.Issue, error) {
	return r.Load(ctx)
}

func (r *Registry) swap(s *snapshot) {
	r.cur.Store(s)
	if len(r.listeners) == 0 {
		return
	}
	defs := s.defs()
	for _, fn := range r.listeners {
		fn(defs)
	}
}

// Get returns a copy of the definition for id.
func (r *Registry) Get(id string) (kit.Definition, error) {
	d, ok := r.cur.Load().byID[kit.NormalizeID(id)]
	if !ok {
		return kit.Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d.Clone(), nil
}

func (r *Registry) Has(id string) bool {
	_, ok := r.cur.Load().byID[kit.NormalizeID(id)]
	return ok
}

func (r *Registry) Len() int { return len(r.cur.Load().order) }

// ListAll returns every definition in insertion order.
func (r *Registry) ListAll() []kit.Definition {
	s := r.cur.Load()
	out := make([]kit.Definition, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Names returns kit ids in insertion order.
func (r *Registry) Names() []string {
	return slices.Clone(r.cur.Load().order)
}

// ListAvailable returns the kits a is eligible for, highest priority first
// with ties kept in insertion order.
func (r *Registry) ListAvailable(ctx context.Context, a host.Actor) []kit.Definition {
	var out []kit.Definition
	for _, d := range r.ListAll() {
		if r.eval.Evaluate(ctx, d, a).Eligible {
			out = append(out, d)
		}
	}
	SortByPriority(out)
	return out
}

// SortByPriority orders defs by descending priority, stable on ties.
func SortByPriority(defs []kit.Definition) {
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Priority > defs[j].Priority })
}

func (r *Registry) filter(keep func(kit.Definition) bool) []kit.Definition {
	var out []kit.Definition
	for _, d := range r.ListAll() {
		if d.Enabled && keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) FirstJoinKits() []kit.Definition {
	return r.filter(func(d kit.Definition) bool { return d.FirstJoinKit })
}

func (r *Registry) AutoJoinKits() []kit.Definition {
	return r.filter(func(d kit.Definition) bool { return d.AutoGiveOnJoin })
}

func (r *Registry) AutoRespawnKits() []kit.Definition {
	return r.filter(func(d kit.Definition) bool { return d.AutoGiveOnRespawn })
}

// mutate persists next and swaps it in. Memory is untouched when the store
// fails.
func (r *Registry) mutate(ctx context.Context, next []kit.Definition) error {
	if err := r.src.Store(ctx, next); err != nil {
		r.log.Error("persist kits failed", zap.String("code", string(reason.PersistenceFailure)), zap.Error(err))
		return fmt.Errorf("persist kits: %w", err)
	}
	r.swap(newSnapshot(next))
	return nil
}

// Create inserts a default definition for id.
func (r *Registry) Create(ctx context.Context, id string) (kit.Definition, error) {
	nid := kit.NormalizeID(id)
	if nid == "" {
		return kit.Definition{}, ErrInvalid
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	s := r.cur.Load()
	if _, ok := s.byID[nid]; ok {
		return kit.Definition{}, fmt.Errorf("%w: %s", ErrExists, nid)
	}
	d := kit.New(id)
	if err := r.mutate(ctx, append(s.defs(), d)); err != nil {
		return kit.Definition{}, err
	}
	return d.Clone(), nil
}

// Delete removes id from memory and storage.
func (r *Registry) Delete(ctx context.Context, id string) error {
	nid := kit.NormalizeID(id)
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	s := r.cur.Load()
	if _, ok := s.byID[nid]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := slices.DeleteFunc(s.defs(), func(d kit.Definition) bool { return d.ID == nid })
	return r.mutate(ctx, next)
}

// Update applies fn to a copy of the definition and saves the result. The id
// cannot be changed through fn.
func (r *Registry) Update(ctx context.Context, id string, fn func(d *kit.Definition)) (kit.Definition, error) {
	nid := kit.NormalizeID(id)
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	s := r.cur.Load()
	cur, ok := s.byID[nid]
	if !ok {
		return kit.Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	edited := cur.Clone()
	fn(&edited)
	edited.ID = nid

	next := s.defs()
	for i := range next {
		if next[i].ID == nid {
			next[i] = edited
		}
	}
	if err := r.mutate(ctx, next); err != nil {
		return kit.Definition{}, err
	}
	return edited.Clone(), nil
}

// Put inserts d, or replaces the definition with the same id in place.
func (r *Registry) Put(ctx context.Context, d kit.Definition) error {
	d.ID = kit.NormalizeID(d.ID)
	if d.ID == "" {
		return ErrInvalid
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := r.cur.Load().defs()
	replaced := false
	for i := range next {
		if next[i].ID == d.ID {
			next[i] = d
			replaced = true
		}
	}
	if !replaced {
		next = append(next, d)
	}
	return r.mutate(ctx, next)
}

// EnsureStarter seeds the example starter kit into an empty registry. It
// reports whether a kit was added.
func (r *Registry) EnsureStarter(ctx context.Context) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if len(r.cur.Load().order) > 0 {
		return false, nil
	}
	if err := r.mutate(ctx, []kit.Definition{kit.Starter()}); err != nil {
		return false, err
	}
	r.log.Info("seeded starter kit")
	return true, nil
}

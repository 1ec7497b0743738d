package records

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// FormatVersion is written into every stored record.
const FormatVersion = 1

// KitSet is a set of kit ids. It serializes as a sorted JSON array.
type KitSet map[string]struct{}

func (s KitSet) Has(id string) bool { _, ok := s[id]; return ok }

func (s KitSet) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return json.Marshal(ids)
}

func (s *KitSet) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	out := make(KitSet, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	*s = out
	return nil
}

// Data is the persisted per-user state. Timestamps are epoch millis.
type Data struct {
	Version                 int                        `json:"version"`
	UserID                  uuid.UUID                  `json:"user_id"`
	Cooldowns               map[string]int64           `json:"cooldowns"`
	UsageCounts             map[string]int             `json:"usage_counts"`
	OneTimeClaimed          KitSet                     `json:"one_time_claimed"`
	FirstEncounter          bool                       `json:"first_encounter"`
	LastSeenAt              int64                      `json:"last_seen_at"`
	AccumulatedActiveMillis int64                      `json:"accumulated_active_millis"`
	LastKnownName           string                     `json:"last_known_name,omitempty"`
	Extension               map[string]json.RawMessage `json:"extension,omitempty"`
}

// Fresh is the state of a user never seen before.
func Fresh(id uuid.UUID) Data {
	d := Data{Version: FormatVersion, UserID: id, FirstEncounter: true}
	d.normalize()
	return d
}

func (d *Data) normalize() {
	if d.Cooldowns == nil {
		d.Cooldowns = map[string]int64{}
	}
	if d.UsageCounts == nil {
		d.UsageCounts = map[string]int{}
	}
	if d.OneTimeClaimed == nil {
		d.OneTimeClaimed = KitSet{}
	}
	if d.Version == 0 {
		d.Version = FormatVersion
	}
}

// Clone deep-copies d.
func (d Data) Clone() Data {
	out := d
	out.Cooldowns = maps.Clone(d.Cooldowns)
	out.UsageCounts = maps.Clone(d.UsageCounts)
	out.OneTimeClaimed = maps.Clone(d.OneTimeClaimed)
	if d.Extension != nil {
		out.Extension = make(map[string]json.RawMessage, len(d.Extension))
		for k, v := range d.Extension {
			out.Extension[k] = slices.Clone(v)
		}
	}
	out.normalize()
	return out
}

// Record is a cached user record. All access goes through Update and View so
// that flushes never observe a half-applied change.
type Record struct {
	mu       sync.Mutex
	data     Data
	dirty    bool
	detached bool

	// retired is set once the record has been evicted; owner then receives
	// any further updates.
	retired bool
	owner   *Manager
}

func newRecord(d Data) *Record {
	d.normalize()
	return &Record{data: d}
}

// ID returns the owning user.
func (r *Record) ID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.UserID
}

// Update applies fn under the record lock and marks the record dirty. On an
// evicted record the update is forwarded to the manager's current copy.
func (r *Record) Update(fn func(d *Data)) {
	r.mu.Lock()
	if r.retired && r.owner != nil {
		id, owner := r.data.UserID, r.owner
		r.mu.Unlock()
		owner.Get(context.Background(), id).Update(fn)
		return
	}
	defer r.mu.Unlock()
	fn(&r.data)
	r.data.normalize()
	r.dirty = true
}

// View runs fn under the record lock. fn must not retain d or its maps.
func (r *Record) View(fn func(d *Data)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.data)
}

// Snapshot returns a deep copy of the current state.
func (r *Record) Snapshot() Data {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.Clone()
}

// Detached reports whether the record failed to load and is kept in memory
// only. Detached records are never written back.
func (r *Record) Detached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detached
}

// Dirty reports whether the record has unsaved changes.
func (r *Record) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// encode serializes the record for a flush and clears the dirty flag. ok is
// false when there is nothing to write.
func (r *Record) encode() (b []byte, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detached || !r.dirty {
		return nil, false, nil
	}
	b, err = json.Marshal(r.data)
	if err != nil {
		return nil, false, err
	}
	r.dirty = false
	return b, true, nil
}

// retire marks the record evicted unless it gained changes since the last
// encode. Detached records retire regardless since they are never written.
func (r *Record) retire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dirty && !r.detached {
		return false
	}
	r.retired = true
	return true
}

func (r *Record) markDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

func decode(b []byte) (Data, error) {
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return Data{}, err
	}
	d.normalize()
	return d, nil
}

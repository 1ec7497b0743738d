// Package cooldown tracks per-user kit cooldowns, usage counts and one-time
// claims on top of the cached user records.
package cooldown

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"uniquekits.dev/internal/persistence/records"
)

// BypassPermission skips the cooldown check during a grant.
const BypassPermission = "uniquekits.bypass.cooldown"

type Store struct {
	records *records.Manager
	now     func() time.Time
}

type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(m *records.Manager, opts ...Option) *Store {
	s := &Store{records: m, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NowMillis is the store's clock in epoch millis.
func (s *Store) NowMillis() int64 { return s.now().UnixMilli() }

// IsOnCooldown reports whether kitID is still rate-limited for user. An
// expired entry is removed on the way out.
func (s *Store) IsOnCooldown(ctx context.Context, user uuid.UUID, kitID string) bool {
	return s.RemainingMillis(ctx, user, kitID) > 0
}

// RemainingMillis is the time left on the cooldown, or 0.
func (s *Store) RemainingMillis(ctx context.Context, user uuid.UUID, kitID string) int64 {
	r := s.records.Get(ctx, user)
	now := s.NowMillis()

	var expiry int64
	var present bool
	r.View(func(d *records.Data) { expiry, present = d.Cooldowns[kitID] })
	if !present {
		return 0
	}
	if now < expiry {
		return expiry - now
	}
	r.Update(func(d *records.Data) {
		if e, ok := d.Cooldowns[kitID]; ok && e <= now {
			delete(d.Cooldowns, kitID)
		}
	})
	return 0
}

// SetCooldown stores an absolute expiry. A past or present expiry clears the
// entry instead.
func (s *Store) SetCooldown(ctx context.Context, user uuid.UUID, kitID string, expiryMillis int64) {
	now := s.NowMillis()
	s.records.Get(ctx, user).Update(func(d *records.Data) {
		if expiryMillis <= now {
			delete(d.Cooldowns, kitID)
			return
		}
		d.Cooldowns[kitID] = expiryMillis
	})
}

// RecordUsage increments the usage count and, for one-time kits, marks the
// kit claimed.
func (s *Store) RecordUsage(ctx context.Context, user uuid.UUID, kitID string, oneTime bool) {
	s.records.Get(ctx, user).Update(func(d *records.Data) {
		d.UsageCounts[kitID]++
		if oneTime {
			d.OneTimeClaimed[kitID] = struct{}{}
		}
	})
}

// Commit applies a successful grant in a single record update: the cooldown
// (when cooldownMillis > 0), the usage increment, and the one-time mark.
func (s *Store) Commit(ctx context.Context, user uuid.UUID, kitID string, cooldownMillis int64, oneTime bool) {
	now := s.NowMillis()
	s.records.Get(ctx, user).Update(func(d *records.Data) {
		if cooldownMillis > 0 {
			d.Cooldowns[kitID] = now + cooldownMillis
		} else {
			delete(d.Cooldowns, kitID)
		}
		d.UsageCounts[kitID]++
		if oneTime {
			d.OneTimeClaimed[kitID] = struct{}{}
		}
	})
}

func (s *Store) HasClaimedOnce(ctx context.Context, user uuid.UUID, kitID string) bool {
	var ok bool
	s.records.Get(ctx, user).View(func(d *records.Data) { ok = d.OneTimeClaimed.Has(kitID) })
	return ok
}

// Cleanup removes expired cooldowns and non-positive usage counts.
func (s *Store) Cleanup(ctx context.Context, user uuid.UUID) {
	r := s.records.Get(ctx, user)
	now := s.NowMillis()

	needed := false
	r.View(func(d *records.Data) { needed = hasGarbage(d, now) })
	if !needed {
		return
	}
	r.Update(func(d *records.Data) {
		for k, exp := range d.Cooldowns {
			if exp <= now {
				delete(d.Cooldowns, k)
			}
		}
		for k, n := range d.UsageCounts {
			if n <= 0 {
				delete(d.UsageCounts, k)
			}
		}
	})
}

func hasGarbage(d *records.Data, now int64) bool {
	for _, exp := range d.Cooldowns {
		if exp <= now {
			return true
		}
	}
	for _, n := range d.UsageCounts {
		if n <= 0 {
			return true
		}
	}
	return false
}

// Clear drops the cooldown for one kit.
func (s *Store) Clear(ctx context.Context, user uuid.UUID, kitID string) {
	s.records.Get(ctx, user).Update(func(d *records.Data) { delete(d.Cooldowns, kitID) })
}

// ClearAll drops every cooldown for user.
func (s *Store) ClearAll(ctx context.Context, user uuid.UUID) {
	s.records.Get(ctx, user).Update(func(d *records.Data) { clear(d.Cooldowns) })
}

func (s *Store) UsageCount(ctx context.Context, user uuid.UUID, kitID string) int {
	var n int
	s.records.Get(ctx, user).View(func(d *records.Data) { n = d.UsageCounts[kitID] })
	return n
}

// SetUsageCount overwrites a usage count; n <= 0 removes it.
func (s *Store) SetUsageCount(ctx context.Context, user uuid.UUID, kitID string, n int) {
	s.records.Get(ctx, user).Update(func(d *records.Data) {
		if n <= 0 {
			delete(d.UsageCounts, kitID)
			return
		}
		d.UsageCounts[kitID] = n
	})
}

// ResetClaim makes a one-time kit claimable again.
func (s *Store) ResetClaim(ctx context.Context, user uuid.UUID, kitID string) {
	s.records.Get(ctx, user).Update(func(d *records.Data) { delete(d.OneTimeClaimed, kitID) })
}

type Stats struct {
	TotalUses       int    `json:"total_uses"`
	MostUsed        string `json:"most_used,omitempty"`
	MostUsedCount   int    `json:"most_used_count"`
	ActiveCooldowns int    `json:"active_cooldowns"`
}

// Stats summarizes a user's kit history. Ties for most used go to the
// lexically smallest kit id.
func (s *Store) Stats(ctx context.Context, user uuid.UUID) Stats {
	now := s.NowMillis()
	var st Stats
	s.records.Get(ctx, user).View(func(d *records.Data) {
		ids := make([]string, 0, len(d.UsageCounts))
		for k := range d.UsageCounts {
			ids = append(ids, k)
		}
		sort.Strings(ids)
		for _, k := range ids {
			n := d.UsageCounts[k]
			st.TotalUses += n
			if n > st.MostUsedCount {
				st.MostUsed, st.MostUsedCount = k, n
			}
		}
		for _, exp := range d.Cooldowns {
			if exp > now {
				st.ActiveCooldowns++
			}
		}
	})
	return st
}

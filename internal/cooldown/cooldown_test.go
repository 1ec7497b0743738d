package cooldown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniquekits.dev/internal/persistence/kv"
	"uniquekits.dev/internal/persistence/records"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*Store, *records.Manager, *clock) {
	t.Helper()
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	m := records.NewManager(kv.NewMemory())
	return New(m, WithClock(c.Now)), m, c
}

func TestCooldown_ExpiresAndIsRemovedLazily(t *testing.T) {
	ctx := context.Background()
	s, m, c := newStore(t)
	u := uuid.New()

	s.SetCooldown(ctx, u, "starter", s.NowMillis()+1000)
	assert.True(t, s.IsOnCooldown(ctx, u, "starter"))
	assert.Equal(t, int64(1000), s.RemainingMillis(ctx, u, "starter"))

	c.Advance(time.Second)
	assert.False(t, s.IsOnCooldown(ctx, u, "starter"))
	_, present := m.Get(ctx, u).Snapshot().Cooldowns["starter"]
	assert.False(t, present)
}

func TestSetCooldown_PastExpiryClearsEntry(t *testing.T) {
	ctx := context.Background()
	s, m, _ := newStore(t)
	u := uuid.New()

	s.SetCooldown(ctx, u, "vip", s.NowMillis()+60_000)
	for _, exp := range []int64{s.NowMillis(), s.NowMillis() - 1, 0} {
		s.SetCooldown(ctx, u, "vip", exp)
		assert.False(t, s.IsOnCooldown(ctx, u, "vip"))
		assert.Empty(t, m.Get(ctx, u).Snapshot().Cooldowns)
	}
}

func TestCommit_ZeroCooldownNeverOnCooldown(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)
	u := uuid.New()
	for i := 0; i < 3; i++ {
		s.Commit(ctx, u, "free", 0, false)
		assert.False(t, s.IsOnCooldown(ctx, u, "free"))
	}
	assert.Equal(t, 3, s.UsageCount(ctx, u, "free"))
}

func TestCommit_OneTimeMarksClaim(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)
	u := uuid.New()

	s.Commit(ctx, u, "welcome", 0, true)
	assert.True(t, s.HasClaimedOnce(ctx, u, "welcome"))
	s.ResetClaim(ctx, u, "welcome")
	assert.False(t, s.HasClaimedOnce(ctx, u, "welcome"))
}

func TestCleanup_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, m, c := newStore(t)
	u := uuid.New()

	s.SetCooldown(ctx, u, "a", s.NowMillis()+10)
	s.SetCooldown(ctx, u, "b", s.NowMillis()+100_000)
	s.RecordUsage(ctx, u, "a", false)
	m.Get(ctx, u).Update(func(d *records.Data) { d.UsageCounts["ghost"] = 0 })
	c.Advance(time.Second)

	s.Cleanup(ctx, u)
	once := m.Get(ctx, u).Snapshot()
	s.Cleanup(ctx, u)
	twice := m.Get(ctx, u).Snapshot()

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second cleanup changed state (-once +twice):\n%s", diff)
	}
	assert.Equal(t, map[string]int64{"b": s.NowMillis() + 99_000}, once.Cooldowns)
	assert.Equal(t, map[string]int{"a": 1}, once.UsageCounts)
}

func TestSetUsageCount_NonPositiveRemoves(t *testing.T) {
	ctx := context.Background()
	s, m, _ := newStore(t)
	u := uuid.New()
	s.SetUsageCount(ctx, u, "k", 4)
	assert.Equal(t, 4, s.UsageCount(ctx, u, "k"))
	s.SetUsageCount(ctx, u, "k", 0)
	assert.Empty(t, m.Get(ctx, u).Snapshot().UsageCounts)
}

func TestClearAndStats(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)
	u := uuid.New()

	s.Commit(ctx, u, "starter", 60_000, false)
	s.Commit(ctx, u, "starter", 60_000, false)
	s.Commit(ctx, u, "tools", 60_000, false)

	st := s.Stats(ctx, u)
	require.Equal(t, Stats{TotalUses: 3, MostUsed: "starter", MostUsedCount: 2, ActiveCooldowns: 2}, st)

	s.Clear(ctx, u, "tools")
	assert.Equal(t, 1, s.Stats(ctx, u).ActiveCooldowns)
	s.ClearAll(ctx, u)
	assert.Zero(t, s.Stats(ctx, u).ActiveCooldowns)
}

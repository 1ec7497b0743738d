package grant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"uniquekits.dev/internal/cooldown"
	"uniquekits.dev/internal/eligibility"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/persistence/kv"
	"uniquekits.dev/internal/persistence/records"
	"uniquekits.dev/internal/reason"
)

type kitMap map[string]kit.Definition

func (m kitMap) Get(id string) (kit.Definition, error) {
	d, ok := m[kit.NormalizeID(id)]
	if !ok {
		return kit.Definition{}, errors.New("not found")
	}
	return d.Clone(), nil
}

type fakeSink struct {
	mu        sync.Mutex
	delivered [][]kit.Item
	dropped   []kit.Item
	capacity  int // stacks accepted per delivery; <0 means unlimited
	err       error
}

func (s *fakeSink) Deliver(_ context.Context, _ host.Actor, items []kit.Item) ([]kit.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	n := len(items)
	if s.capacity >= 0 && n > s.capacity {
		n = s.capacity
	}
	s.delivered = append(s.delivered, items[:n])
	return items[n:], nil
}

func (s *fakeSink) Drop(_ context.Context, _ host.Actor, items []kit.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = append(s.dropped, items...)
	return nil
}

func (s *fakeSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

type fakeEconomy struct {
	mu      sync.Mutex
	balance float64
}

func (f *fakeEconomy) Balance(context.Context, uuid.UUID) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeEconomy) Withdraw(_ context.Context, _ uuid.UUID, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < amount {
		return host.ErrInsufficientFunds
	}
	f.balance -= amount
	return nil
}

type dispatched struct {
	line  string
	scope kit.CommandScope
}

type fakeDispatcher struct {
	got  []dispatched
	fail bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ host.Actor, line string, scope kit.CommandScope) error {
	if f.fail {
		return errors.New("unknown command")
	}
	f.got = append(f.got, dispatched{line, scope})
	return nil
}

type fakeCue struct{ err error }

func (c fakeCue) Play(context.Context, host.Actor, string, string) error { return c.err }

type fixture struct {
	engine  *Engine
	sink    *fakeSink
	economy *fakeEconomy
	disp    *fakeDispatcher
	cds     *cooldown.Store
	records *records.Manager
	now     *time.Time
	events  []Event
}

func newFixture(t *testing.T, kits kitMap, mod func(*Deps)) *fixture {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)
	f := &fixture{
		sink:    &fakeSink{capacity: -1},
		economy: &fakeEconomy{},
		disp:    &fakeDispatcher{},
		now:     &now,
	}
	clock := func() time.Time { return *f.now }
	f.records = records.NewManager(kv.NewMemory())
	f.cds = cooldown.New(f.records, cooldown.WithClock(clock))
	d := Deps{
		Kits:       kits,
		Evaluator:  eligibility.New(f.economy, nil),
		Cooldowns:  f.cds,
		Records:    f.records,
		Sink:       f.sink,
		Economy:    f.economy,
		Dispatcher: f.disp,
		Cue:        fakeCue{err: errors.New("no sound")},
		Recorders:  []Recorder{RecorderFunc(func(e Event) { f.events = append(f.events, e) })},
		Now:        clock,
	}
	if mod != nil {
		mod(&d)
	}
	f.engine = New(d)
	return f
}

func (f *fixture) advance(d time.Duration) { *f.now = f.now.Add(d) }

func player() host.StaticActor {
	return host.StaticActor{UserID: uuid.New(), UserName: "Steve", WorldName: "world", Permissions: map[string]bool{}}
}

func TestGrant_StarterCooldownScenario(t *testing.T) {
	ctx := context.Background()
	starter := kit.Starter()
	starter.CooldownMillis = 1_800_000
	f := newFixture(t, kitMap{"starter": starter}, nil)
	a := player()

	first := f.engine.Grant(ctx, a, "starter", false)
	require.True(t, first.OK(), "%+v", first)
	assert.Equal(t, reason.Code(""), first.Reason)
	assert.Equal(t, "Starter Kit", first.DisplayName)
	assert.Equal(t, StateDone, first.State)

	f.advance(time.Millisecond)
	second := f.engine.Grant(ctx, a, "starter", false)
	assert.Equal(t, Rejected, second.Status)
	assert.Equal(t, reason.OnCooldown, second.Reason)
	assert.Equal(t, int64(1_799_999), second.RemainingMillis)
	assert.Equal(t, 1, f.sink.calls())
	assert.Equal(t, 1, f.cds.UsageCount(ctx, a.ID(), "starter"))
}

func TestGrant_InsufficientFundsTouchesNothing(t *testing.T) {
	ctx := context.Background()
	vip := kit.New("vip")
	vip.Cost = 500
	vip.CooldownMillis = 60_000
	vip.Items = []kit.Item{{Material: "DIAMOND", Amount: 1}}
	f := newFixture(t, kitMap{"vip": vip}, nil)
	f.economy.balance = 100
	a := player()

	out := f.engine.Grant(ctx, a, "vip", false)
	assert.Equal(t, reason.InsufficientFunds, out.Reason)
	assert.Equal(t, StateOneTimeChecked, out.State)
	assert.Zero(t, f.sink.calls())
	assert.False(t, f.cds.IsOnCooldown(ctx, a.ID(), "vip"))
	assert.Zero(t, f.cds.UsageCount(ctx, a.ID(), "vip"))
	assert.Equal(t, 100.0, f.economy.balance)
}

func TestGrant_NoEconomyMeansUnaffordable(t *testing.T) {
	vip := kit.New("vip")
	vip.Cost = 1
	f := newFixture(t, kitMap{"vip": vip}, func(d *Deps) { d.Economy = nil })
	out := f.engine.Grant(context.Background(), player(), "vip", false)
	assert.Equal(t, reason.InsufficientFunds, out.Reason)
	assert.Zero(t, f.sink.calls())
}

func TestGrant_OneTimeUse(t *testing.T) {
	ctx := context.Background()
	once := kit.New("welcome")
	once.OneTimeUse = true
	once.CooldownMillis = 60_000
	f := newFixture(t, kitMap{"welcome": once}, nil)
	a := player()

	require.True(t, f.engine.Grant(ctx, a, "welcome", false).OK())
	require.True(t, f.cds.IsOnCooldown(ctx, a.ID(), "welcome"))

	out := f.engine.Grant(ctx, a, "welcome", false)
	assert.Equal(t, reason.AlreadyClaimed, out.Reason)
	assert.Zero(t, out.RemainingMillis)
	assert.Equal(t, 1, f.sink.calls())

	f.advance(time.Hour)
	assert.Equal(t, reason.AlreadyClaimed, f.engine.Grant(ctx, a, "welcome", false).Reason)
}

func TestGrant_NotFoundAndRejections(t *testing.T) {
	ctx := context.Background()
	off := kit.New("off")
	off.Enabled = false
	f := newFixture(t, kitMap{"off": off}, nil)

	assert.Equal(t, reason.NotFound, f.engine.Grant(ctx, player(), "nope", false).Reason)
	assert.Equal(t, reason.Disabled, f.engine.Grant(ctx, player(), "off", false).Reason)
	require.Len(t, f.events, 2)
	assert.Equal(t, "nope", f.events[0].KitID)
	assert.Equal(t, Rejected, f.events[1].Status)
}

func TestGrant_ForceSkipsChecksAndCommit(t *testing.T) {
	ctx := context.Background()
	vip := kit.New("vip")
	vip.Enabled = false
	vip.Cost = 1000
	vip.CooldownMillis = 60_000
	vip.OneTimeUse = true
	f := newFixture(t, kitMap{"vip": vip}, nil)
	a := player()

	for i := 0; i < 2; i++ {
		out := f.engine.Grant(ctx, a, "vip", true)
		require.True(t, out.OK(), "%+v", out)
	}
	assert.False(t, f.cds.IsOnCooldown(ctx, a.ID(), "vip"))
	assert.False(t, f.cds.HasClaimedOnce(ctx, a.ID(), "vip"))
	assert.True(t, f.events[0].Forced)
	assert.Zero(t, f.events[0].Cost)
}

func TestGrant_CooldownBypassPermission(t *testing.T) {
	ctx := context.Background()
	k := kit.New("daily")
	k.CooldownMillis = 86_400_000
	f := newFixture(t, kitMap{"daily": k}, nil)
	a := player()
	a.Permissions[cooldown.BypassPermission] = true

	require.True(t, f.engine.Grant(ctx, a, "daily", false).OK())
	require.True(t, f.engine.Grant(ctx, a, "daily", false).OK())
	assert.Equal(t, 2, f.cds.UsageCount(ctx, a.ID(), "daily"))
}

func TestGrant_CommandsSubstitutedInOrder(t *testing.T) {
	ctx := context.Background()
	k := kit.New("cmds")
	k.Commands = []kit.Command{
		kit.ParseCommand("[CONSOLE] eco give {player} 10"),
		kit.ParseCommand("[PLAYER] warp {world}"),
		kit.ParseCommand("log {uuid} {kit}"),
	}
	f := newFixture(t, kitMap{"cmds": k}, nil)
	a := player()

	require.True(t, f.engine.Grant(ctx, a, "cmds", false).OK())
	assert.Equal(t, []dispatched{
		{"eco give Steve 10", kit.ScopeConsole},
		{"warp world", kit.ScopeActor},
		{"log " + a.ID().String() + " cmds", kit.ScopeDefault},
	}, f.disp.got)
}

func TestGrant_CommandFailureIsNotRolledBack(t *testing.T) {
	ctx := context.Background()
	k := kit.New("paid")
	k.Cost = 50
	k.CooldownMillis = 1000
	k.Items = []kit.Item{{Material: "APPLE", Amount: 1}}
	k.Commands = []kit.Command{kit.ParseCommand("broken")}
	f := newFixture(t, kitMap{"paid": k}, nil)
	f.economy.balance = 100
	f.disp.fail = true
	a := player()

	out := f.engine.Grant(ctx, a, "paid", false)
	assert.Equal(t, reason.CommandFailed, out.Reason)
	assert.Equal(t, StateEffectsApplied, out.State)
	assert.Equal(t, 50.0, f.economy.balance)
	assert.Equal(t, 1, f.sink.calls())
	assert.False(t, f.cds.IsOnCooldown(ctx, a.ID(), "paid"))
}

func TestGrant_DeliveryFailure(t *testing.T) {
	k := kit.New("k")
	k.Items = []kit.Item{{Material: "APPLE", Amount: 1}}
	f := newFixture(t, kitMap{"k": k}, nil)
	f.sink.err = errors.New("offline")
	out := f.engine.Grant(context.Background(), player(), "k", false)
	assert.Equal(t, reason.DeliveryFailed, out.Reason)
}

func TestGrant_OverflowStashAndClaim(t *testing.T) {
	ctx := context.Background()
	k := kit.New("big")
	k.Items = []kit.Item{{Material: "STONE", Amount: 64}, {Material: "DIRT", Amount: 64}, {Material: "SAND", Amount: 64}}
	f := newFixture(t, kitMap{"big": k}, nil)
	f.sink.capacity = 1
	a := player()

	out := f.engine.Grant(ctx, a, "big", false)
	require.True(t, out.OK())
	assert.Equal(t, reason.DeliveryOverflow, out.Reason)
	assert.Len(t, out.Overflow, 2)
	assert.Len(t, f.engine.Stashed(ctx, a.ID()), 2)

	n, err := f.engine.ClaimStash(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []kit.Item{{Material: "SAND", Amount: 64}}, f.engine.Stashed(ctx, a.ID()))

	f.sink.capacity = -1
	n, err = f.engine.ClaimStash(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.engine.Stashed(ctx, a.ID()))
	_, present := f.records.Get(ctx, a.ID()).Snapshot().Extension[StashKey]
	assert.False(t, present)
}

func TestGrant_OverflowDrop(t *testing.T) {
	k := kit.New("big")
	k.Items = []kit.Item{{Material: "STONE", Amount: 1}, {Material: "DIRT", Amount: 1}}
	f := newFixture(t, kitMap{"big": k}, func(d *Deps) { d.Overflow = OverflowDrop })
	f.sink.capacity = 1
	a := player()

	out := f.engine.Grant(context.Background(), a, "big", false)
	require.True(t, out.OK())
	assert.Equal(t, []kit.Item{{Material: "DIRT", Amount: 1}}, f.sink.dropped)
	assert.Empty(t, f.engine.Stashed(context.Background(), a.ID()))
}

func TestGrant_ConcurrentClaimsCannotDoubleSpend(t *testing.T) {
	ctx := context.Background()
	k := kit.New("once")
	k.Cost = 500
	k.OneTimeUse = true
	f := newFixture(t, kitMap{"once": k}, func(d *Deps) { d.Recorders = nil })
	f.economy.balance = 1000
	a := player()

	var wg sync.WaitGroup
	results := make(chan Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.engine.Grant(ctx, a, "once", false)
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for out := range results {
		if out.OK() {
			ok++
		} else {
			assert.Equal(t, reason.AlreadyClaimed, out.Reason)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 500.0, f.economy.balance)
}

func TestGrant_FlushOnCommit(t *testing.T) {
	ctx := context.Background()
	st := kv.NewMemory()
	k := kit.New("k")
	k.CooldownMillis = 1000
	f := newFixture(t, kitMap{"k": k}, nil)
	f.records = records.NewManager(st)
	f.cds = cooldown.New(f.records)
	f.engine = New(Deps{
		Kits: kitMap{"k": k}, Evaluator: eligibility.New(nil, nil), Cooldowns: f.cds,
		Records: f.records, Sink: f.sink, FlushOnCommit: true,
	})
	a := player()

	require.True(t, f.engine.Grant(ctx, a, "k", false).OK())
	_, err := st.Get(ctx, kv.BucketRecords, a.ID().String())
	require.NoError(t, err)
}

type failingPuts struct{ kv.Store }

func (failingPuts) Put(context.Context, string, string, []byte) error {
	return errors.New("disk full")
}

func TestGrant_FlushOnCommitFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	k := kit.New("k")
	k.CooldownMillis = 1000
	core, logs := observer.New(zap.DebugLevel)
	recs := records.NewManager(failingPuts{kv.NewMemory()})
	cds := cooldown.New(recs)
	engine := New(Deps{
		Kits: kitMap{"k": k}, Evaluator: eligibility.New(nil, nil), Cooldowns: cds,
		Records: recs, Sink: &fakeSink{capacity: -1}, FlushOnCommit: true, Logger: zap.New(core),
	})
	a := player()

	require.True(t, engine.Grant(ctx, a, "k", false).OK())
	assert.True(t, cds.IsOnCooldown(ctx, a.ID(), "k"))
	assert.True(t, recs.Get(ctx, a.ID()).Dirty())

	entries := logs.FilterMessage("flush after commit failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].ContextMap()["kit"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "cost_reserved", StateCostReserved.String())
	assert.Equal(t, "unknown", State(99).String())
}

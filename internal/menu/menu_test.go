package menu

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniquekits.dev/internal/cooldown"
	"uniquekits.dev/internal/eligibility"
	"uniquekits.dev/internal/grant"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/persistence/kv"
	"uniquekits.dev/internal/persistence/records"
	"uniquekits.dev/internal/registry"
)

type fakeGranter struct {
	calls []string
}

func (g *fakeGranter) Grant(_ context.Context, _ host.Actor, kitID string, _ bool) grant.Outcome {
	g.calls = append(g.calls, kitID)
	return grant.Outcome{Status: grant.Success, KitID: kitID}
}

type fixture struct {
	menu    *Menu
	reg     *registry.Registry
	cds     *cooldown.Store
	granter *fakeGranter
	actor   host.StaticActor
}

func newFixture(t *testing.T, defs ...kit.Definition) *fixture {
	t.Helper()
	ctx := context.Background()
	eval := eligibility.New(nil, nil)
	reg := registry.New(&kit.FileSource{Path: filepath.Join(t.TempDir(), "kits.yml")}, eval, nil)
	for _, d := range defs {
		require.NoError(t, reg.Put(ctx, d))
	}
	now := time.UnixMilli(1_700_000_000_000)
	cds := cooldown.New(records.NewManager(kv.NewMemory()), cooldown.WithClock(func() time.Time { return now }))
	g := &fakeGranter{}
	return &fixture{
		menu:    New(reg, eval, cds, g, nil),
		reg:     reg,
		cds:     cds,
		granter: g,
		actor:   host.StaticActor{UserID: uuid.New(), UserName: "alex", WorldName: "world"},
	}
}

func def(id string, mod func(d *kit.Definition)) kit.Definition {
	d := kit.New(id)
	d.Items = []kit.Item{{Material: "BREAD", Amount: 4}}
	if mod != nil {
		mod(&d)
	}
	return d
}

func TestSelection_StatusesAndVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		def("daily", func(d *kit.Definition) { d.CooldownMillis = 60_000 }),
		def("once", func(d *kit.Definition) { d.OneTimeUse = true; d.Priority = 5 }),
		def("nether", func(d *kit.Definition) { d.AllowedWorlds = []string{"world_nether"} }),
		def("vip", func(d *kit.Definition) { d.Permission = "kits.vip" }),
		def("off", func(d *kit.Definition) { d.Enabled = false }),
	)
	f.cds.Commit(ctx, f.actor.UserID, "daily", 60_000, false)
	f.cds.Commit(ctx, f.actor.UserID, "once", 0, true)

	v, err := f.menu.Render(ctx, Selection(f.actor))
	require.NoError(t, err)
	assert.Equal(t, KindSelection, v.Kind)
	assert.Equal(t, 1, v.Pages)

	got := map[string]Status{}
	for _, s := range v.Slots {
		if s.KitID != "" {
			got[s.KitID] = s.Status
		}
	}
	assert.Equal(t, map[string]Status{
		"once":   StatusClaimed,
		"daily":  StatusOnCooldown,
		"nether": StatusIneligible,
	}, got)

	first, ok := v.Slot(0)
	require.True(t, ok)
	assert.Equal(t, "once", first.KitID, "higher priority first")
	daily, _ := v.Slot(1)
	assert.Equal(t, int64(60_000), daily.RemainingMillis)
}

func TestSelection_PreviewThenClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, def("food", nil))

	p := Selection(f.actor)
	res, err := f.menu.HandleInput(ctx, p, Input{Slot: 0})
	require.NoError(t, err)
	require.NotNil(t, res.Open)
	assert.Equal(t, KindPreview, res.Open.Kind)
	assert.Equal(t, "food", res.Open.KitID)
	assert.Empty(t, f.granter.calls)

	v, err := f.menu.Render(ctx, res.Open)
	require.NoError(t, err)
	item, ok := v.Slot(0)
	require.True(t, ok)
	assert.Equal(t, "BREAD", item.Item.Material)

	res, err = f.menu.HandleInput(ctx, res.Open, Input{Slot: SlotClaim})
	require.NoError(t, err)
	assert.True(t, res.Close)
	require.NotNil(t, res.Outcome)
	assert.True(t, res.Outcome.OK())
	assert.Equal(t, []string{"food"}, f.granter.calls)

	res, err = f.menu.HandleInput(ctx, p, Input{Slot: 0, Claim: true})
	require.NoError(t, err)
	assert.True(t, res.Close)
	assert.Equal(t, []string{"food", "food"}, f.granter.calls)
}

func TestSelection_Paging(t *testing.T) {
	ctx := context.Background()
	var defs []kit.Definition
	for i := range PageSize + 3 {
		defs = append(defs, def(fmt.Sprintf("k%02d", i), nil))
	}
	f := newFixture(t, defs...)
	p := Selection(f.actor)

	v, err := f.menu.Render(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Pages)
	_, hasNext := v.Slot(SlotNextPage)
	assert.True(t, hasNext)

	_, err = f.menu.HandleInput(ctx, p, Input{Slot: SlotNextPage})
	require.NoError(t, err)
	v, err = f.menu.Render(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Page)
	_, hasPrev := v.Slot(SlotPrevPage)
	assert.True(t, hasPrev)
	_, hasKit := v.Slot(2)
	assert.True(t, hasKit)
	_, hasKit = v.Slot(3)
	assert.False(t, hasKit)
}

func TestEditor_SaveAndDiscard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, def("tools", nil))

	_, err := f.menu.OpenEditor(f.actor, "tools")
	require.ErrorIs(t, err, ErrNoPermission)

	admin := f.actor
	admin.Permissions = map[string]bool{EditPermission: true}
	p, err := f.menu.OpenEditor(admin, "tools")
	require.NoError(t, err)

	_, err = f.menu.HandleInput(ctx, p, Input{Slot: 0, Items: []kit.Item{
		{Material: "IRON_PICKAXE", Amount: 1},
		{Material: "", Amount: 3},
	}})
	require.NoError(t, err)
	_, err = f.menu.HandleInput(ctx, p, Input{Slot: SlotAddCommand, Text: "[CONSOLE] say hi {player}"})
	require.NoError(t, err)
	assert.True(t, p.Changed())

	before, err := f.reg.Get("tools")
	require.NoError(t, err)
	assert.Equal(t, "BREAD", before.Items[0].Material, "registry untouched before save")

	res, err := f.menu.HandleInput(ctx, p, Input{Slot: SlotSave})
	require.NoError(t, err)
	assert.True(t, res.Close)
	require.NotNil(t, res.Saved)

	after, err := f.reg.Get("tools")
	require.NoError(t, err)
	assert.Equal(t, []kit.Item{{Material: "IRON_PICKAXE", Amount: 1}}, after.Items)
	assert.Equal(t, []kit.Command{{Scope: kit.ScopeConsole, Template: "say hi {player}"}}, after.Commands)
	assert.False(t, f.menu.HandleClose(ctx, p))

	p, err = f.menu.OpenEditor(admin, "tools")
	require.NoError(t, err)
	_, err = f.menu.HandleInput(ctx, p, Input{Slot: SlotToggleEnabled})
	require.NoError(t, err)
	assert.True(t, f.menu.HandleClose(ctx, p))
	after, err = f.reg.Get("tools")
	require.NoError(t, err)
	assert.True(t, after.Enabled)
}

package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/reason"
)

type fakeEconomy struct {
	balance float64
	err     error
}

func (f fakeEconomy) Balance(context.Context, uuid.UUID) (float64, error) { return f.balance, f.err }
func (f fakeEconomy) Withdraw(context.Context, uuid.UUID, float64) error  { return nil }

func actor(perms ...string) host.StaticActor {
	a := host.StaticActor{UserID: uuid.New(), UserName: "steve", WorldName: "world", Permissions: map[string]bool{}, Lvl: 10, Exp: 200}
	for _, p := range perms {
		a.Permissions[p] = true
	}
	return a
}

func TestEvaluate_OrderIsDeterministic(t *testing.T) {
	ctx := context.Background()
	e := New(nil, nil)

	d := kit.New("vip")
	d.Enabled = false
	d.Permission = "kits.vip"
	d.AllowedWorlds = []string{"nether"}
	d.Requirements = []kit.Requirement{{Kind: kit.RequireLevel, Min: 99}}

	assert.Equal(t, reason.Disabled, e.Evaluate(ctx, d, actor()).Reason)
	d.Enabled = true
	assert.Equal(t, reason.PermissionDenied, e.Evaluate(ctx, d, actor()).Reason)
	assert.Equal(t, reason.WorldRestricted, e.Evaluate(ctx, d, actor("kits.vip")).Reason)
	d.AllowedWorlds = nil
	res := e.Evaluate(ctx, d, actor("kits.vip"))
	assert.Equal(t, reason.RequirementUnmet, res.Reason)
	require.NotNil(t, res.Requirement)
	assert.Equal(t, kit.RequireLevel, res.Requirement.Kind)

	d.Requirements = nil
	assert.True(t, e.Evaluate(ctx, d, actor("kits.vip")).Eligible)
}

func TestEvaluate_Bypass(t *testing.T) {
	ctx := context.Background()
	e := New(nil, nil)
	d := kit.New("nether")
	d.Permission = "kits.nether"
	d.BlockedWorlds = []string{"world"}

	assert.Equal(t, reason.PermissionDenied, e.Evaluate(ctx, d, actor()).Reason)
	assert.Equal(t, reason.WorldRestricted, e.Evaluate(ctx, d, actor(BypassPermission)).Reason)
	assert.True(t, e.Evaluate(ctx, d, actor(BypassPermission, BypassWorld)).Eligible)
}

func TestEvaluate_WorldLists(t *testing.T) {
	ctx := context.Background()
	e := New(nil, nil)
	d := kit.New("w")

	d.AllowedWorlds = []string{"world", "nether"}
	d.BlockedWorlds = []string{"world"}
	res := e.Evaluate(ctx, d, actor())
	assert.False(t, res.Eligible, "block-list applies even when the allow-list matches")
	assert.Equal(t, reason.WorldRestricted, res.Reason)
	assert.True(t, e.Evaluate(ctx, d, actor(BypassWorld)).Eligible)

	d.BlockedWorlds = []string{"nether"}
	assert.True(t, e.Evaluate(ctx, d, actor()).Eligible)

	d.AllowedWorlds = []string{"nether"}
	d.BlockedWorlds = nil
	assert.Equal(t, reason.WorldRestricted, e.Evaluate(ctx, d, actor()).Reason)

	d.AllowedWorlds = nil
	d.BlockedWorlds = []string{"world"}
	assert.False(t, e.Evaluate(ctx, d, actor()).Eligible)
}

func TestEvaluate_Requirements(t *testing.T) {
	ctx := context.Background()
	d := kit.New("r")
	d.Requirements = []kit.Requirement{
		{Kind: "karma", Unknown: true, Raw: "5"},
		{Kind: kit.RequireExp, Min: 200},
		{Kind: kit.RequirePermission, Permission: "rank.gold"},
		{Kind: kit.RequireMoney, Min: 50},
	}

	assert.Equal(t, reason.RequirementUnmet, New(fakeEconomy{balance: 100}, nil).Evaluate(ctx, d, actor()).Reason)
	assert.True(t, New(fakeEconomy{balance: 100}, nil).Evaluate(ctx, d, actor("rank.gold")).Eligible)
	assert.False(t, New(fakeEconomy{balance: 10}, nil).Evaluate(ctx, d, actor("rank.gold")).Eligible)
	assert.False(t, New(nil, nil).Evaluate(ctx, d, actor("rank.gold")).Eligible, "money requirement needs an economy")
	assert.False(t, New(fakeEconomy{err: errors.New("down")}, nil).Evaluate(ctx, d, actor("rank.gold")).Eligible)
}

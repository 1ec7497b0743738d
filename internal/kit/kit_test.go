package kit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniquekits.dev/internal/persistence/kv"
)

const sampleDoc = `
kits:
  Starter:
    name: "&aStarter Kit"
    icon: stone_sword
    items:
      - type: stone_sword
      - type: BREAD
        amount: 16
    commands:
      - "[CONSOLE] give {player} diamond 1"
      - "[PLAYER] spawn"
      - "say hi {player}"
    effects:
      - type: speed
        amplifier: 1
    cooldown: 1800000
    requirements:
      money: 10.5
      level: 5
      karma: 3
      permission: group.member
    priority: 5
  vip:
    name: VIP
    icon: "not a material!"
    cooldown: -5
    cost: 500
    enabled: false
    colour: red
`

func TestParseDocument_FieldsAndDefaults(t *testing.T) {
	defs, issues, err := ParseDocument([]byte(sampleDoc))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	s := defs[0]
	assert.Equal(t, "starter", s.ID)
	assert.Equal(t, "&aStarter Kit", s.DisplayName)
	assert.Equal(t, "STONE_SWORD", s.Icon)
	assert.Equal(t, 17, s.ItemCount())
	assert.Equal(t, 1, s.Items[0].Amount)
	assert.Equal(t, int64(1_800_000), s.CooldownMillis)
	assert.True(t, s.Enabled)
	assert.Equal(t, []Command{
		{Scope: ScopeConsole, Template: "give {player} diamond 1"},
		{Scope: ScopeActor, Template: "spawn"},
		{Scope: ScopeDefault, Template: "say hi {player}"},
	}, s.Commands)
	assert.Equal(t, []Effect{{Type: "SPEED", DurationTicks: 600, Amplifier: 1, Particles: true, Icon: true}}, s.Effects)

	require.Len(t, s.Requirements, 4)
	assert.Equal(t, RequireMoney, s.Requirements[0].Kind)
	assert.Equal(t, 10.5, s.Requirements[0].Min)
	assert.Equal(t, RequireLevel, s.Requirements[1].Kind)
	assert.False(t, s.Requirements[2].Known())
	assert.Equal(t, "3", s.Requirements[2].Raw)
	assert.Equal(t, "group.member", s.Requirements[3].Permission)

	v := defs[1]
	assert.Equal(t, DefaultIcon, v.Icon)
	assert.Zero(t, v.CooldownMillis)
	assert.Equal(t, int64(500), v.Cost)
	assert.False(t, v.Enabled)

	fields := map[string]bool{}
	for _, is := range issues {
		fields[is.Kit+"/"+is.Field] = true
	}
	assert.True(t, fields["starter/requirements.karma"])
	assert.True(t, fields["vip/icon"])
	assert.True(t, fields["vip/cooldown"])
	// Unknown keys are caught by schema validation at the section root.
	var sawUnknown bool
	for _, is := range issues {
		if is.Kit == "vip" && strings.Contains(is.Msg, "colour") {
			sawUnknown = true
		}
	}
	assert.True(t, sawUnknown, "issues: %v", issues)
}

func TestParseDocument_BadFieldKeepsRestOfKit(t *testing.T) {
	doc := `
kits:
  broken:
    name: Broken
    cooldown: soon
    priority: 3
    items:
      - amount: 2
      - type: apple
`
	defs, issues, err := ParseDocument([]byte(doc))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	d := defs[0]
	assert.Equal(t, "Broken", d.DisplayName)
	assert.Zero(t, d.CooldownMillis)
	assert.Equal(t, 3, d.Priority)
	assert.Equal(t, []Item{{Material: "APPLE", Amount: 1}}, d.Items)
	assert.NotEmpty(t, issues)
}

func TestParseDocument_DuplicateIDsKeepFirst(t *testing.T) {
	doc := "kits:\n  Tools:\n    priority: 1\n  tools:\n    priority: 2\n"
	defs, issues, err := ParseDocument([]byte(doc))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 1, defs[0].Priority)
	require.Len(t, issues, 1)
}

func TestParseDocument_Empty(t *testing.T) {
	for _, doc := range []string{"", "kits:\n", "other: 1\n"} {
		defs, _, err := ParseDocument([]byte(doc))
		require.NoError(t, err, doc)
		assert.Empty(t, defs, doc)
	}
	_, _, err := ParseDocument([]byte("kits: [1, 2]\n"))
	assert.Error(t, err)
}

func TestFileSource_SaveThenLoadPreservesDefinitions(t *testing.T) {
	ctx := context.Background()
	src := NewFileSource(filepath.Join(t.TempDir(), "kits.yml"))

	defs, _, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)

	want, _, err := ParseDocument([]byte(sampleDoc))
	require.NoError(t, err)
	want = append(want, Starter())
	require.NoError(t, src.Store(ctx, want))

	got, _, err := src.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("definitions mismatch (-want +got):\n%s", diff)
	}
}

func TestKVSource_OrderAndStaleKeys(t *testing.T) {
	ctx := context.Background()
	st := kv.NewMemory()
	src := NewKVSource(st)

	a, b, c := New("zeta"), New("alpha"), New("mid")
	a.Priority = 1
	require.NoError(t, src.Store(ctx, []Definition{a, b, c}))

	got, issues, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, 1, got[0].Priority)

	require.NoError(t, src.Store(ctx, []Definition{c}))
	got, _, err = src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mid", got[0].ID)
}

func TestClone_IsDeep(t *testing.T) {
	d := Starter()
	d.Items[0].Meta = map[string]any{"enchants": []any{"SHARPNESS"}}
	d.Requirements = []Requirement{{Kind: RequireLevel, Min: 3}}

	c := d.Clone()
	c.Items[0].Amount = 99
	c.Items[0].Meta["enchants"].([]any)[0] = "SMITE"
	c.Lore[0] = "changed"
	c.Requirements[0].Min = 7

	assert.Equal(t, 1, d.Items[0].Amount)
	assert.Equal(t, "SHARPNESS", d.Items[0].Meta["enchants"].([]any)[0])
	assert.NotEqual(t, "changed", d.Lore[0])
	assert.Equal(t, 3.0, d.Requirements[0].Min)
}

func TestParseCommand_RoundTrip(t *testing.T) {
	for _, line := range []string{"[CONSOLE] eco give {player} 10", "[PLAYER] home", "broadcast hi"} {
		assert.Equal(t, line, ParseCommand(line).String())
	}
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "starter", NormalizeID("  StArTeR "))
}

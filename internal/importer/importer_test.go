package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniquekits.dev/internal/kit"
)

const essentialsKits = `
kits:
  tools:
    delay: 600
    items:
      - stone_pickaxe 1 name:Miner_Pick
      - torch 16
      - /eco give {USERNAME} 10
      - $100
      - 272 1
  food:
    items:
      - bread
  starter:
    delay: 10
`

type mapTarget struct {
	defs map[string]kit.Definition
}

func (m *mapTarget) Has(id string) bool { _, ok := m.defs[id]; return ok }

func (m *mapTarget) Put(_ context.Context, d kit.Definition) error {
	m.defs[d.ID] = d
	return nil
}

func writeKits(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "kits.yml")
	require.NoError(t, os.WriteFile(p, []byte(essentialsKits), 0o644))
	return p
}

func TestImportAll_SkipsExistingAndConverts(t *testing.T) {
	ctx := context.Background()
	a := DetectEssentials(writeKits(t))
	require.NotNil(t, a)
	target := &mapTarget{defs: map[string]kit.Definition{"starter": kit.Starter()}}

	rep, err := ImportAll(ctx, a, target, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Found)
	assert.Equal(t, []string{"food", "tools"}, rep.Imported)
	assert.Equal(t, []string{"starter"}, rep.Skipped)
	assert.Len(t, rep.Notes["tools"], 2)

	tools := target.defs["tools"]
	assert.Equal(t, "&6&lTools Kit", tools.DisplayName)
	assert.Equal(t, int64(600_000), tools.CooldownMillis)
	assert.Equal(t, 1, tools.Priority)
	assert.Equal(t, "ENTITY_PLAYER_LEVELUP", tools.Sound)
	assert.Equal(t, "&7Original cooldown: &e10m", tools.Lore[1])
	require.Len(t, tools.Items, 2)
	assert.Equal(t, kit.Item{Material: "STONE_PICKAXE", Amount: 1, Meta: map[string]any{"name": "Miner Pick"}}, tools.Items[0])
	assert.Equal(t, 16, tools.Items[1].Amount)
	assert.Equal(t, []kit.Command{{Scope: kit.ScopeConsole, Template: "eco give {player} 10"}}, tools.Commands)

	assert.Zero(t, target.defs["food"].CooldownMillis)
	assert.Equal(t, "starter", target.defs["starter"].ID)
	assert.Equal(t, "Starter Kit", target.defs["starter"].DisplayName)
}

func TestDetectEssentials_Missing(t *testing.T) {
	assert.Nil(t, DetectEssentials(filepath.Join(t.TempDir(), "nope.yml")))
	assert.Nil(t, DetectEssentials(""))
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{
		0:           "No cooldown",
		45_000:      "45s",
		600_000:     "10m",
		5_400_000:   "1h 30m",
		180_000_000: "2d 2h",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatDuration(in), "%d", in)
	}
}

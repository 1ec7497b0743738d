package snapshot

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/persistence/records"
)

func TestSnapshot_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backups", "snap.zst")

	vip := kit.New("vip")
	vip.Permission = "kits.vip"
	vip.Cost = 250
	vip.Requirements = []kit.Requirement{{Kind: kit.RequireLevel, Min: 10}}
	defs := []kit.Definition{kit.Starter(), vip}

	rec := records.Fresh(uuid.New())
	rec.FirstEncounter = false
	rec.Cooldowns["starter"] = 1_700_000_060_000
	rec.UsageCounts["starter"] = 3
	rec.OneTimeClaimed["vip"] = struct{}{}
	rec.LastKnownName = "alex"
	rec.Extension = map[string]json.RawMessage{"overflow_stash": json.RawMessage(`[{"type":"BREAD","amount":2}]`)}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	snap, err := Build(defs, []records.Data{rec}, now)
	require.NoError(t, err)
	require.NoError(t, WriteSnapshot(path, snap))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, Header{Version: Version, CreatedAt: now, Kits: 2, Records: 1, KitsDigest: kit.Digest(defs)}, h)

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	gotDefs, issues := got.Definitions()
	assert.Empty(t, issues)
	if diff := cmp.Diff(defs, gotDefs); diff != "" {
		t.Fatalf("kits mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]records.Data{rec}, got.UserRecords()); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.zst"))
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c)
}

func TestLoad_FileThenEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(`
data_dir: /srv/kits
store:
  backend: sqlite
  autosave: 30s
grant:
  overflow: drop
first_join:
  delay: 2
logging:
  level: debug
`), 0o644))
	t.Setenv("KITS_STORE_BACKEND", "memory")
	t.Setenv("KITS_SESSION_GRACE", "1m")
	t.Setenv("KITS_LOG_MODE", "dev")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/srv/kits", c.DataDir)
	assert.Equal(t, "memory", c.Store.Backend)
	assert.Equal(t, 30*time.Second, c.Store.Autosave)
	assert.Equal(t, "drop", c.Grant.Overflow)
	assert.Equal(t, time.Minute, c.Session.Grace)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, "dev", c.Logging.Mode)
	assert.True(t, c.FirstJoin.Enabled, "unset keys keep defaults")

	sc := c.SessionConfig()
	assert.Equal(t, 2*time.Second, sc.FirstJoinDelay)
	assert.Equal(t, time.Second, sc.WelcomeDelay)
	assert.Equal(t, time.Minute, sc.Grace)
	assert.Equal(t, "/srv/kits/kits.yml", c.Resolve(c.Kits.File))
	assert.Equal(t, "/abs/x", c.Resolve("/abs/x"))
}

func TestValidate(t *testing.T) {
	c := Defaults()
	c.Store.Backend = "etcd"
	c.Grant.Overflow = "burn"
	c.Tick = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "grant.overflow")
	assert.Contains(t, err.Error(), "tick")
}

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"uniquekits.dev/internal/kit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingReloader struct{ n atomic.Int32 }

func (c *countingReloader) Reload(context.Context) ([]kit.Issue, error) {
	c.n.Add(1)
	return nil, nil
}

func TestWatcher_DebouncesBurstIntoOneReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kits.yml")
	require.NoError(t, os.WriteFile(path, []byte("kits: {}\n"), 0o644))

	r := &countingReloader{}
	w, err := New(path, r, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("kits: {}\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return r.n.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	require.EqualValues(t, 1, r.n.Load())
	require.Equal(t, 1, w.Reloads())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kits.yml")
	r := &countingReloader{}
	w, err := New(path, r, 50*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yml"), []byte("x: 1\n"), 0o644))
	time.Sleep(250 * time.Millisecond)
	w.Stop()
	require.Zero(t, r.n.Load())
}

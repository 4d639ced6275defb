package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_RecreatesRemovedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.MkdirAll(dir, 0o750))

	var removed atomic.Int32
	recreate := EnsureDir(dir)
	w, err := New(dir, Handlers{OnRemove: func() {
		removed.Add(1)
		recreate()
	}})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.RemoveAll(dir))

	require.Eventually(t, func() bool {
		info, err := os.Stat(dir)
		return removed.Load() > 0 && err == nil && info.IsDir()
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_OnChange(t *testing.T) {
	file := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))

	var changed atomic.Int32
	w, err := New(file, Handlers{OnChange: func() { changed.Add(1) }})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(file, []byte(`{"CLUSTERLENS_DEFAULT_EPS": 0.3}`), 0o600))

	require.Eventually(t, func() bool { return changed.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "x"), Handlers{})
	require.NoError(t, err)

	assert.NoError(t, w.Start())
	assert.NoError(t, w.Start())
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	EnsureDir(dir)()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

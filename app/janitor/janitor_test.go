package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	calls  int
	limits []int
}

func (m *mockStore) CleanupOldReports(limit int) error {
	m.calls++
	m.limits = append(m.limits, limit)
	return nil
}

func TestSweepDir(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "stale.pdf")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	staleWorkspace := filepath.Join(dir, "9f1c2a")
	require.NoError(t, os.MkdirAll(staleWorkspace, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(staleWorkspace, "chart.png"), []byte("png"), 0o600))
	require.NoError(t, os.Chtimes(staleWorkspace, old, old))

	fresh := filepath.Join(dir, "fresh.pdf")
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o600))

	removed, err := sweepDir(dir, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoFileExists(t, stale)
	assert.NoDirExists(t, staleWorkspace)
	assert.FileExists(t, fresh)
}

func TestSweepDir_MissingDir(t *testing.T) {
	_, err := sweepDir(filepath.Join(t.TempDir(), "nope"), time.Hour)
	require.Error(t, err)
}

func TestJanitor_Sweep(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	for _, dir := range []string{dir1, dir2} {
		stale := filepath.Join(dir, "stale")
		require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(stale, old, old))
	}

	store := &mockStore{}
	j := &Janitor{Dirs: []string{dir1, dir2}, MaxAge: time.Minute, HistoryLimit: 100, Store: store}
	j.Sweep()

	assert.NoFileExists(t, filepath.Join(dir1, "stale"))
	assert.NoFileExists(t, filepath.Join(dir2, "stale"))
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, []int{100}, store.limits)
}

func TestJanitor_Sweep_NoStore(t *testing.T) {
	j := &Janitor{Dirs: []string{t.TempDir()}, MaxAge: time.Minute}
	j.Sweep() // must not panic without a store
}

func TestJanitor_Run(t *testing.T) {
	t.Run("bad schedule rejected", func(t *testing.T) {
		j := &Janitor{Dirs: []string{t.TempDir()}, Schedule: "not-a-schedule"}
		err := j.Run(context.Background())
		require.Error(t, err)
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		j := &Janitor{Dirs: []string{t.TempDir()}, MaxAge: time.Hour, Schedule: "@every 1h"}
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- j.Run(ctx) }()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("janitor did not stop on cancel")
		}
	})
}

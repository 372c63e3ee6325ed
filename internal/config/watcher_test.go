package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 5\n"), 0o644))

	watcher, err := NewWatcher(NewLoader(), path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	defer watcher.Stop()

	require.Equal(t, 5, watcher.Current().Loop.MaxIterations)

	require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 9\n"), 0o644))

	select {
	case event := <-watcher.Events():
		require.NoError(t, event.Error)
		require.Equal(t, 9, event.Config.Loop.MaxIterations)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}

	require.Equal(t, 9, watcher.Current().Loop.MaxIterations)
}

func TestWatcherReportsBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 5\n"), 0o644))

	watcher, err := NewWatcher(NewLoader(), path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte(":\tnot yaml"), 0o644))

	select {
	case event := <-watcher.Events():
		require.Error(t, event.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}

	// The last good config stays current.
	require.Equal(t, 5, watcher.Current().Loop.MaxIterations)
}

func TestWatcherStopClosesEventChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 5\n"), 0o644))

	watcher, err := NewWatcher(NewLoader(), path)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))

	// Queue up writes so a reload may be in flight while we stop.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 6\n"), 0o644))
	}
	require.NoError(t, watcher.Stop())

	// Stop is idempotent.
	require.NoError(t, watcher.Stop())

	// The watch goroutine drains and closes the channel.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-watcher.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel never closed after Stop")
		}
	}
}

func TestWatcherMissingFile(t *testing.T) {
	watcher, err := NewWatcher(NewLoader(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Error(t, watcher.Start(context.Background()))
}

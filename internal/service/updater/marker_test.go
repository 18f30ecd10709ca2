package updater

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// deadPID is far beyond any default pid_max.
const deadPID = 999999999

// TestAcquireMarker_CreatesAndReleases writes our PID and removes it on release.
func TestAcquireMarker_CreatesAndReleases(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "storage", "update.marker")

	release, err := acquireMarker(context.Background(), path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	_, err = acquireMarker(context.Background(), path)
	require.ErrorIs(t, err, ErrUpdaterAlreadyRunning)

	release()
	requireAbsent(t, path)
}

// TestIsUpdaterRunningNow_StaleMarkers takes over markers nobody owns.
func TestIsUpdaterRunningNow_StaleMarkers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	require.False(t, IsUpdaterRunningNow(ctx, filepath.Join(dir, "missing")))

	dead := filepath.Join(dir, "dead.marker")
	require.NoError(t, os.WriteFile(dead, []byte(strconv.Itoa(deadPID)), 0o600))
	require.False(t, IsUpdaterRunningNow(ctx, dead))
	requireAbsent(t, dead)

	garbage := filepath.Join(dir, "garbage.marker")
	require.NoError(t, os.WriteFile(garbage, []byte("???"), 0o600))
	require.True(t, IsUpdaterRunningNow(ctx, garbage))

	old := time.Now().Add(-2 * markerLifetime)
	require.NoError(t, os.Chtimes(garbage, old, old))
	require.False(t, IsUpdaterRunningNow(ctx, garbage))
	requireAbsent(t, garbage)

	alive := filepath.Join(dir, "alive.marker")
	require.NoError(t, os.WriteFile(alive, []byte(strconv.Itoa(os.Getpid())), 0o600))
	require.True(t, IsUpdaterRunningNow(ctx, alive))
}

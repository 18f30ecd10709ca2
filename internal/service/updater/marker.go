package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/selfupdate/internal/logger"
)

// acquireMarker creates the in-progress marker holding this process ID.
// A marker left by a process that is no longer alive is taken over.
// The returned release func removes the marker.
func acquireMarker(ctx context.Context, path string) (func(), error) {
	path = filepath.Clean(path)

	logger.DebugKV(ctx, "Checking for the presence of an update marker", "path", path)

	if IsUpdaterRunningNow(ctx, path) {
		return nil, ErrUpdaterAlreadyRunning
	}

	if err := os.MkdirAll(filepath.Dir(path), workspaceMode); err != nil {
		return nil, fmt.Errorf("create marker directory: %w", err)
	}

	marker, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return nil, ErrUpdaterAlreadyRunning
	}

	if err != nil {
		return nil, fmt.Errorf("create marker: %w", err)
	}

	_, err = marker.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := marker.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write marker: %w", err)
	}

	release := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.WarnKV(ctx, "Unable to remove update marker", "path", path, "error", err)
		}
	}

	return release, nil
}

// IsUpdaterRunningNow checks the marker at path. A marker whose owner process
// is gone, or an unreadable one older than markerLifetime, is removed and
// reported as not running.
func IsUpdaterRunningNow(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}

	if err != nil {
		logger.WarnKV(ctx, "Unable to read update marker", "path", path, "error", err)
		return true
	}

	if markerOwnerAlive(path, info.ModTime()) {
		return true
	}

	logger.InfoKV(ctx, "Removing stale update marker", "path", path)

	if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true
	}

	return false
}

// markerOwnerAlive reports whether the process recorded in the marker still exists.
func markerOwnerAlive(path string, modified time.Time) bool {
	contents, err := os.ReadFile(path) //nolint:gosec // Marker path comes from settings.
	if err != nil {
		return time.Since(modified) <= markerLifetime
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return time.Since(modified) <= markerLifetime
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		// Process table unreadable: trust the marker while it is fresh.
		return time.Since(modified) <= markerLifetime
	}

	return process != nil
}

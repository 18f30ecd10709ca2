package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing manifest URL.
	err := Validate(new(Config))
	require.ErrorIs(t, err, errManifestURLRequired)

	// Bad manifest URL.
	err = Validate(&Config{ManifestURL: "not a url", ArchiveURL: "https://example.com/a.zip"})
	require.Error(t, err)

	// Missing archive URL.
	err = Validate(&Config{ManifestURL: "https://example.com/app.json"})
	require.ErrorIs(t, err, errArchiveURLRequired)

	// Okay, defaults filled.
	cfg := &Config{
		ManifestURL: "https://example.com/app.json",
		ArchiveURL:  "https://example.com/main.zip",
	}

	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultMetadataFilename, cfg.MetadataFile)
	require.Equal(t, ".", cfg.InstallDir)
	require.Equal(t, DefaultWorkspaceDir, cfg.WorkspaceDir)
	require.Equal(t, DefaultUnzipCommand, cfg.UnzipCommand)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultDownloadTimeout, cfg.DownloadTimeout)
}

// TestValidate_RejectsWorkspaceContainingInstallDir guards against a cleanup wiping the installation.
func TestValidate_RejectsWorkspaceContainingInstallDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for _, workspace := range []string{dir, filepath.Dir(dir)} {
		cfg := &Config{
			ManifestURL:  "https://example.com/app.json",
			ArchiveURL:   "https://example.com/main.zip",
			InstallDir:   dir,
			WorkspaceDir: workspace,
		}

		require.ErrorIs(t, Validate(cfg), errUnsafeWorkspace, workspace)
	}
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		ManifestURL:     "https://updates.local/app.json",
		ArchiveURL:      "https://updates.local/main.zip",
		ArchiveRoot:     "app-main",
		DownloadTimeout: time.Minute,
		Preserve:        []string{"data"},
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.ManifestURL, loaded.ManifestURL)
	require.Equal(t, settings.ArchiveURL, loaded.ArchiveURL)
	require.Equal(t, "app-main", loaded.ArchiveRoot)
	require.Equal(t, time.Minute, loaded.DownloadTimeout)
	require.Equal(t, DefaultTimeout, loaded.Timeout)
	require.Equal(t, []string{"data"}, loaded.Preserve)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoad_EnvironmentOverrides checks SELFUPDATE_* variables win over the file.
func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"manifest_url: https://file.local/app.json\narchive_url: https://file.local/main.zip\n",
	), DefaultFilePermissions))

	t.Setenv("SELFUPDATE_MANIFEST_URL", "https://env.local/app.json")
	t.Setenv("SELFUPDATE_TIMEOUT", "3s")
	t.Setenv("SELFUPDATE_SKIP_ON_CHECK_FAILURE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://env.local/app.json", cfg.ManifestURL)
	require.Equal(t, "https://file.local/main.zip", cfg.ArchiveURL)
	require.Equal(t, 3*time.Second, cfg.Timeout)
	require.True(t, cfg.SkipOnCheckFailure)
}

// TestLoad_MissingFile reports a read error.
func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

// TestPreservedPaths lists updater state that lives inside the install dir.
func TestPreservedPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &Config{
		InstallDir:   dir,
		WorkspaceDir: filepath.Join(dir, "storage", "temp"),
		MarkerFile:   filepath.Join(dir, "storage", "update.marker"),
		Preserve:     []string{"data"},
	}

	paths := cfg.PreservedPaths(filepath.Join(dir, DefaultConfigFilename))
	require.Contains(t, paths, "data")
	require.Contains(t, paths, ".git")
	require.Contains(t, paths, "storage/temp")
	require.Contains(t, paths, "storage")
	require.Contains(t, paths, DefaultConfigFilename)

	outside := &Config{
		InstallDir:   dir,
		WorkspaceDir: filepath.Join(t.TempDir(), "ws"),
		MarkerFile:   filepath.Join(dir, "update.marker"),
	}
	require.NotContains(t, outside.PreservedPaths(), "ws")
}

// TestMetadataPath resolves relative metadata files inside the install dir.
func TestMetadataPath(t *testing.T) {
	t.Parallel()

	cfg := &Config{InstallDir: "/opt/app", MetadataFile: "app.json"}
	require.Equal(t, filepath.Join("/opt/app", "app.json"), cfg.MetadataPath())

	cfg.MetadataFile = "/etc/app.json"
	require.Equal(t, "/etc/app.json", cfg.MetadataPath())
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds everything the updater needs to check for and apply a release.
type Config struct {
	// ManifestURL points to the remote JSON manifest exposing metadata.version.
	ManifestURL string `yaml:"manifest_url" mapstructure:"manifest_url"`
	// ArchiveURL points to the zip archive of the published source tree.
	ArchiveURL string `yaml:"archive_url" mapstructure:"archive_url"`
	// MetadataFile is the local file exposing metadata.name and metadata.version.
	MetadataFile string `yaml:"metadata_file" mapstructure:"metadata_file"`
	// InstallDir is the root of the installation tree.
	InstallDir string `yaml:"install_dir" mapstructure:"install_dir"`
	// WorkspaceDir holds the downloaded archive and its extraction.
	WorkspaceDir string `yaml:"workspace_dir" mapstructure:"workspace_dir"`
	// MarkerFile exists only while an update is in progress.
	MarkerFile string `yaml:"marker_file" mapstructure:"marker_file"`
	// ArchiveRoot is the top-level entry inside the archive, e.g. "app-main".
	// Empty means the single top-level directory is detected.
	ArchiveRoot string `yaml:"archive_root" mapstructure:"archive_root"`
	// UnzipCommand is the external unpack utility.
	UnzipCommand string `yaml:"unzip_command" mapstructure:"unzip_command"`
	// Timeout bounds the manifest request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// DownloadTimeout bounds the archive download.
	DownloadTimeout time.Duration `yaml:"download_timeout" mapstructure:"download_timeout"`
	// Preserve lists install-relative paths that are never removed as deprecated.
	Preserve []string `yaml:"preserve" mapstructure:"preserve"`
	// SkipOnCheckFailure treats an unreachable manifest as "no update available".
	SkipOnCheckFailure bool `yaml:"skip_on_check_failure" mapstructure:"skip_on_check_failure"`
}

const (
	// DefaultConfigFilename is the default filename for updater settings.
	DefaultConfigFilename = "selfupdate-settings.yaml"

	// DefaultMetadataFilename is the default local metadata file.
	DefaultMetadataFilename = "app.json"

	// DefaultWorkspaceDir is the default scratch directory for an update.
	DefaultWorkspaceDir = "storage/temp"

	// DefaultMarkerFile is the default in-progress marker.
	DefaultMarkerFile = "storage/update.marker"

	// DefaultUnzipCommand is the default external unpack utility.
	DefaultUnzipCommand = "unzip"

	// DefaultTimeout is the default duration for the manifest request.
	DefaultTimeout = 10 * time.Second

	// DefaultDownloadTimeout is the default duration for the archive download.
	DefaultDownloadTimeout = 5 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// envPrefix scopes environment overrides, e.g. SELFUPDATE_MANIFEST_URL.
	envPrefix = "SELFUPDATE"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errManifestURLRequired is returned when the manifest URL is missing.
	errManifestURLRequired = errors.New("manifest URL must be provided")
	// errArchiveURLRequired is returned when the archive URL is missing.
	errArchiveURLRequired = errors.New("archive URL must be provided")
	// errUnsafeWorkspace is returned when the workspace would swallow the installation.
	errUnsafeWorkspace = errors.New("workspace must not contain the install dir")
)

// Load reads configuration from the provided path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(filepath.Clean(path))
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ManifestURL == "" {
		return errManifestURLRequired
	}

	if _, err := url.ParseRequestURI(settings.ManifestURL); err != nil {
		return fmt.Errorf("invalid manifest URL: %w", err)
	}

	if settings.ArchiveURL == "" {
		return errArchiveURLRequired
	}

	if _, err := url.ParseRequestURI(settings.ArchiveURL); err != nil {
		return fmt.Errorf("invalid archive URL: %w", err)
	}

	applyDefaults(settings)

	return validateWorkspace(settings)
}

// PreservedPaths returns install-relative paths the synchronizer must not
// delete: the configured ones, the updater's own state and any extra paths
// (the settings file, an output directory) that lie inside the install dir.
func (c *Config) PreservedPaths(extra ...string) []string {
	paths := make([]string, 0, len(c.Preserve)+len(extra)+4)
	paths = append(paths, c.Preserve...)
	paths = append(paths, ".git")

	candidates := append([]string{c.WorkspaceDir, filepath.Dir(c.MarkerFile), c.MarkerFile}, extra...)
	for _, p := range candidates {
		if rel, ok := relativeTo(c.InstallDir, p); ok && rel != "." {
			paths = append(paths, rel)
		}
	}

	return paths
}

// MetadataPath resolves MetadataFile against the install dir.
func (c *Config) MetadataPath() string {
	if filepath.IsAbs(c.MetadataFile) {
		return c.MetadataFile
	}

	return filepath.Join(c.InstallDir, c.MetadataFile)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("metadata_file", DefaultMetadataFilename)
	v.SetDefault("install_dir", ".")
	v.SetDefault("workspace_dir", DefaultWorkspaceDir)
	v.SetDefault("marker_file", DefaultMarkerFile)
	v.SetDefault("archive_root", "")
	v.SetDefault("unzip_command", DefaultUnzipCommand)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("download_timeout", DefaultDownloadTimeout)
	v.SetDefault("preserve", []string{})
	v.SetDefault("skip_on_check_failure", false)
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("manifest_url", "")
	v.SetDefault("archive_url", "")
}

func applyDefaults(settings *Config) {
	if settings.MetadataFile == "" {
		settings.MetadataFile = DefaultMetadataFilename
	}

	if settings.InstallDir == "" {
		settings.InstallDir = "."
	}

	if settings.WorkspaceDir == "" {
		settings.WorkspaceDir = DefaultWorkspaceDir
	}

	if settings.MarkerFile == "" {
		settings.MarkerFile = DefaultMarkerFile
	}

	if settings.UnzipCommand == "" {
		settings.UnzipCommand = DefaultUnzipCommand
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.DownloadTimeout <= 0 {
		settings.DownloadTimeout = DefaultDownloadTimeout
	}
}

// validateWorkspace rejects a workspace equal to or above the install dir:
// removing it would delete the installation.
func validateWorkspace(settings *Config) error {
	if _, inside := relativeTo(settings.WorkspaceDir, settings.InstallDir); inside {
		return fmt.Errorf("%s: %w", settings.WorkspaceDir, errUnsafeWorkspace)
	}

	return nil
}

// relativeTo reports p relative to root when p lies inside root.
func relativeTo(root, p string) (string, bool) {
	if p == "" {
		return "", false
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return filepath.ToSlash(rel), true
}

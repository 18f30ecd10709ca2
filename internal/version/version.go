package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

var (
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// ErrMetadataInvalid is returned when the local metadata file cannot be trusted.
var ErrMetadataInvalid = errors.New("local metadata is invalid")

// Metadata identifies an installed application.
type Metadata struct {
	// Name is the application name.
	Name string `json:"name" yaml:"name"`
	// Version is the published version string, compared verbatim.
	Version string `json:"version" yaml:"version"`
}

type document struct {
	Metadata *Metadata `json:"metadata" yaml:"metadata"`
}

// LoadMetadata reads metadata.name and metadata.version from path.
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func LoadMetadata(path string) (Metadata, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Metadata{}, fmt.Errorf("read %s: %w: %w", path, ErrMetadataInvalid, err)
	}

	var doc document

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(contents, &doc)
	default:
		err = json.Unmarshal(contents, &doc)
	}

	if err != nil {
		return Metadata{}, fmt.Errorf("decode %s: %w: %w", path, ErrMetadataInvalid, err)
	}

	if doc.Metadata == nil || strings.TrimSpace(doc.Metadata.Version) == "" {
		return Metadata{}, fmt.Errorf("%s has no metadata.version: %w", path, ErrMetadataInvalid)
	}

	meta := *doc.Metadata
	meta.Version = strings.TrimSpace(meta.Version)

	return meta, nil
}

// Full returns a human-readable line with the application and build info.
func Full(meta Metadata) string {
	name := meta.Name
	if name == "" {
		name = "unknown"
	}

	return fmt.Sprintf("%s version: %s, commit: %s, built at: %s", name, meta.Version, Commit, BuildTime)
}

// Change describes how a remote version relates to the local one.
type Change int

const (
	// ChangeNone means both versions are identical.
	ChangeNone Change = iota
	// ChangeUpgrade means the remote version is a higher semantic version.
	ChangeUpgrade
	// ChangeDowngrade means the remote version is a lower semantic version.
	ChangeDowngrade
	// ChangeOther means the versions differ but cannot be ordered.
	ChangeOther
)

// String returns the string representation of a Change.
func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeUpgrade:
		return "upgrade"
	case ChangeDowngrade:
		return "downgrade"
	default:
		return "change"
	}
}

// Classify compares local and remote. Only string equality decides whether an
// update is needed; the ordering is informational.
func Classify(local, remote string) Change {
	if local == remote {
		return ChangeNone
	}

	localVersion, err := semver.NewVersion(local)
	if err != nil {
		return ChangeOther
	}

	remoteVersion, err := semver.NewVersion(remote)
	if err != nil {
		return ChangeOther
	}

	switch localVersion.Compare(remoteVersion) {
	case -1:
		return ChangeUpgrade
	case 1:
		return ChangeDowngrade
	default:
		// "1.0" and "1.0.0" differ as strings but not as versions.
		return ChangeOther
	}
}

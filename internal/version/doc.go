// Package version resolves the locally installed application version.
//
// The version itself lives in a metadata file shipped with the installation
// (metadata.name and metadata.version), so an in-place update that replaces
// that file also moves the version forward. Commit and BuildTime are injected
// at build time via ldflags and describe the updater binary.
package version

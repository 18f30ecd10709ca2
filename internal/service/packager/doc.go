// Package packager publishes a release of the installation tree.
//
// It writes the JSON manifest advertising metadata.version and a zip archive
// whose files sit under a single "<name>-main/" directory, the layout the
// updater expects when it downloads a repository branch archive.
package packager

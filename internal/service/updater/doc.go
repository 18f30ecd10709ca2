// Package updater checks the remote manifest and, when the published version
// differs from the installed one, downloads the release archive, extracts it
// in a scratch workspace and synchronizes the installation tree with it.
//
// The workspace is created fresh for each attempt and removed on every exit
// path. A marker file keeps two update runs from overlapping.
package updater

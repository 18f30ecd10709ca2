// Package installation reconciles the installation tree with a freshly
// extracted release.
//
// Tree.Sync writes every release file into the tree first, each one through
// go-update so it is replaced by rename, and only then removes files the
// release no longer ships, followed by directories left empty.
package installation

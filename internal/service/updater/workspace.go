package updater

import (
	"os"
	"path/filepath"
)

// workspace is the scratch directory of a single update attempt.
type workspace struct {
	dir string
}

// newWorkspace discards whatever a previous attempt left behind and creates
// an empty directory.
func newWorkspace(dir string) (*workspace, error) {
	ws := &workspace{dir: filepath.Clean(dir)}

	if err := ws.remove(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(ws.dir, workspaceMode); err != nil {
		return nil, err
	}

	return ws, nil
}

func (w *workspace) archivePath() string {
	return filepath.Join(w.dir, ArchiveFilename)
}

func (w *workspace) extractDir() string {
	return filepath.Join(w.dir, ExtractDirname)
}

// remove deletes the workspace; a missing directory is not an error.
func (w *workspace) remove() error {
	return os.RemoveAll(w.dir)
}

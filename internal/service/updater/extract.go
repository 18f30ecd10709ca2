package updater

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, outputDir string) error
}

// CommandExtractor runs an unzip-compatible utility as a child process.
type CommandExtractor struct {
	command string
}

// NewCommandExtractor returns an extractor invoking command, e.g. "unzip".
func NewCommandExtractor(command string) *CommandExtractor {
	return &CommandExtractor{command: command}
}

// Extract runs `<command> -q <archive> -d <outputDir>` and fails on a non-zero exit.
func (e *CommandExtractor) Extract(ctx context.Context, archivePath, outputDir string) error {
	var stderr bytes.Buffer

	//nolint:gosec // Command and paths come from settings and the workspace.
	cmd := exec.CommandContext(ctx, e.command, "-q", archivePath, "-d", outputDir)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if details := strings.TrimSpace(stderr.String()); details != "" {
			return fmt.Errorf("%s %s: %w: %s", e.command, archivePath, err, details)
		}

		return fmt.Errorf("%s %s: %w", e.command, archivePath, err)
	}

	return nil
}

// ResolveArchiveRoot returns the directory holding the release files.
// Archives of a repository branch wrap everything in "<repo>-main/": with
// rootName set that entry must exist, otherwise a lone top-level directory is
// used and anything else means the extraction directory itself is the root.
func ResolveArchiveRoot(extractDir, rootName string) (string, error) {
	if rootName != "" {
		root := filepath.Join(extractDir, rootName)

		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("%s: %w", rootName, errArchiveRootMissing)
		}

		return root, nil
	}

	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", err
	}

	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(extractDir, entries[0].Name()), nil
	}

	return extractDir, nil
}

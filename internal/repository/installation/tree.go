package installation

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/selfupdate/internal/logger"

	// Register SHA-512 for staged file verification.
	_ "crypto/sha512"
)

const (
	// checksumFunction verifies every file written into the tree.
	checksumFunction = crypto.SHA512

	// dirMode is used for directories created while copying.
	dirMode os.FileMode = 0o755
)

var (
	// ErrSyncFailed wraps any failure that aborted a synchronization.
	ErrSyncFailed = errors.New("synchronization failed")

	errNotDirectory      = errors.New("not a directory")
	errHashUnavailable   = errors.New("hash function unavailable")
	errSourceInsideTree  = errors.New("source lies inside a non-preserved part of the tree")
	errPreservedConflict = errors.New("release changes the type of a preserved path")
	errTargetIsDirectory = errors.New("target is a directory")
	errUnsupportedFile   = errors.New("unsupported file type")
)

// Report summarizes what a synchronization changed.
type Report struct {
	// Written lists files copied from the source, relative to the tree root.
	Written []string
	// Removed lists deprecated files deleted from the tree, including files
	// that stood where the release has a directory.
	Removed []string
	// RemovedDirs lists directories deleted because they became empty or
	// because the release has a file in their place.
	RemovedDirs []string
}

// Tree is an installation tree rooted at a directory.
type Tree struct {
	// root is the directory holding the installation.
	root string
	// preserve holds slash-separated relative paths that are never removed.
	preserve []string
	// apply replaces one file atomically.
	apply func(update io.Reader, opts goupdate.Options) error
}

// NewTree returns a Tree rooted at root. Paths listed in preserve (relative to
// root, files or directories) are left alone when pruning deprecated files.
func NewTree(root string, preserve ...string) *Tree {
	cleaned := make([]string, 0, len(preserve))

	for _, p := range preserve {
		p = path.Clean(filepath.ToSlash(strings.TrimSpace(p)))
		if p == "" || p == "." || p == "/" {
			continue
		}

		cleaned = append(cleaned, strings.TrimPrefix(p, "./"))
	}

	return &Tree{
		root:     filepath.Clean(root),
		preserve: cleaned,
		apply:    goupdate.Apply,
	}
}

// Root returns the directory the tree is rooted at.
func (t *Tree) Root() string {
	return t.root
}

// ListFiles returns every leaf file under root as a slash-separated path
// relative to root, sorted. Directories themselves are not listed.
func ListFiles(root string) ([]string, error) {
	return listFiles(root, nil)
}

// Files lists the tree's files, skipping preserved paths.
func (t *Tree) Files() ([]string, error) {
	return listFiles(t.root, t.isPreserved)
}

func listFiles(root string, skip func(rel string) bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, errNotDirectory)
	}

	var files []string

	err = filepath.WalkDir(root, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if current == root {
			return nil
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		if skip != nil && skip(rel) {
			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if entry.IsDir() {
			return nil
		}

		files = append(files, rel)

		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)

	return files, nil
}

// Sync makes the tree match source: files from source are written over the
// tree, then files the tree has but source lacks are removed. Running it twice
// with the same source leaves the tree unchanged the second time.
func (t *Tree) Sync(ctx context.Context, source string) (*Report, error) {
	source = filepath.Clean(source)

	if err := t.checkSource(source); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	newFiles, err := ListFiles(source)
	if err != nil {
		return nil, fmt.Errorf("%w: list release files: %w", ErrSyncFailed, err)
	}

	conflicts, err := t.findConflicts(newFiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	report := new(Report)

	if err = t.resolveConflicts(ctx, conflicts, report); err != nil {
		return report, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	// Listed before writing: afterwards the tree would also contain the new files.
	existingFiles, err := t.Files()
	if err != nil {
		return report, fmt.Errorf("%w: list installed files: %w", ErrSyncFailed, err)
	}

	for _, rel := range newFiles {
		if err = ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %w", ErrSyncFailed, err)
		}

		written, err := t.writeFile(ctx, source, rel)
		if err != nil {
			return report, fmt.Errorf("%w: %s: %w", ErrSyncFailed, rel, err)
		}

		if written {
			report.Written = append(report.Written, rel)
		}
	}

	deprecated := difference(existingFiles, newFiles)
	for _, rel := range deprecated {
		if err = ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %w", ErrSyncFailed, err)
		}

		logger.InfoKV(ctx, "Removing deprecated file", "path", rel)

		if err = os.Remove(t.abs(rel)); err != nil && !isAbsent(err) {
			return report, fmt.Errorf("%w: remove %s: %w", ErrSyncFailed, rel, err)
		}

		report.Removed = append(report.Removed, rel)
	}

	removedDirs, err := t.removeEmptyDirs(deprecated)
	report.RemovedDirs = append(report.RemovedDirs, removedDirs...)

	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	return report, nil
}

// conflict is a tree path whose type differs from the release.
type conflict struct {
	// rel is the slash-separated path relative to the tree root.
	rel string
	// dir is set when the tree holds a directory where the release has a file.
	dir bool
}

// findConflicts lists tree paths that block writing newFiles: files or links
// sitting where the release needs a directory, and directories sitting where
// the release has a file. Nothing is changed on disk.
func (t *Tree) findConflicts(newFiles []string) ([]conflict, error) {
	dirs := make(map[string]struct{})

	for _, rel := range newFiles {
		for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}

	sortedDirs := make([]string, 0, len(dirs))
	for dir := range dirs {
		sortedDirs = append(sortedDirs, dir)
	}

	slices.Sort(sortedDirs)

	var (
		conflicts []conflict
		blocked   []string
	)

	isBlocked := func(rel string) bool {
		for _, b := range blocked {
			if strings.HasPrefix(rel, b+"/") {
				return true
			}
		}

		return false
	}

	for _, dir := range sortedDirs {
		if isBlocked(dir) {
			continue
		}

		info, err := os.Lstat(t.abs(dir))
		if isAbsent(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if info.IsDir() {
			continue
		}

		if t.isPreserved(dir) {
			return nil, fmt.Errorf("%s: %w", dir, errPreservedConflict)
		}

		conflicts = append(conflicts, conflict{rel: dir})
		blocked = append(blocked, dir)
	}

	for _, rel := range newFiles {
		if isBlocked(rel) {
			continue
		}

		info, err := os.Lstat(t.abs(rel))
		if isAbsent(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			continue
		}

		if t.isPreserved(rel) || t.holdsPreserved(rel) {
			return nil, fmt.Errorf("%s: %w", rel, errPreservedConflict)
		}

		conflicts = append(conflicts, conflict{rel: rel, dir: true})
	}

	return conflicts, nil
}

// resolveConflicts clears every conflicting path before any release file is written.
func (t *Tree) resolveConflicts(ctx context.Context, conflicts []conflict, report *Report) error {
	for _, c := range conflicts {
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.InfoKV(ctx, "Removing path replaced by a different type", "path", c.rel, "directory", c.dir)

		if c.dir {
			if err := os.RemoveAll(t.abs(c.rel)); err != nil {
				return fmt.Errorf("remove %s: %w", c.rel, err)
			}

			report.RemovedDirs = append(report.RemovedDirs, c.rel)

			continue
		}

		if err := os.Remove(t.abs(c.rel)); err != nil && !isAbsent(err) {
			return fmt.Errorf("remove %s: %w", c.rel, err)
		}

		report.Removed = append(report.Removed, c.rel)
	}

	return nil
}

// checkSource refuses a source that the prune phase could delete mid-sync.
func (t *Tree) checkSource(source string) error {
	absRoot, err := filepath.Abs(t.root)
	if err != nil {
		return err
	}

	absSource, err := filepath.Abs(source)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(absRoot, absSource)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}

	if rel == "." || !t.isPreserved(filepath.ToSlash(rel)) {
		return fmt.Errorf("%s: %w", source, errSourceInsideTree)
	}

	return nil
}

// writeFile replaces rel in the tree with the source copy. Identical files
// and links are skipped so a repeated sync does not touch the tree.
func (t *Tree) writeFile(ctx context.Context, source, rel string) (bool, error) {
	sourcePath := filepath.Join(source, filepath.FromSlash(rel))

	info, err := os.Lstat(sourcePath)
	if err != nil {
		return false, err
	}

	targetPath := t.abs(rel)

	if err = os.MkdirAll(filepath.Dir(targetPath), dirMode); err != nil {
		return false, err
	}

	switch mode := info.Mode(); {
	case mode.IsRegular():
		return t.writeRegular(ctx, sourcePath, targetPath, rel, mode.Perm())
	case mode&fs.ModeSymlink != 0:
		return writeSymlink(ctx, sourcePath, targetPath, rel)
	default:
		return false, fmt.Errorf("%w: %s", errUnsupportedFile, mode.Type().String())
	}
}

func (t *Tree) writeRegular(ctx context.Context, sourcePath, targetPath, rel string, perm os.FileMode) (bool, error) {
	checksum, err := checksumOfFile(sourcePath)
	if err != nil {
		return false, err
	}

	if same, err := hasChecksum(targetPath, checksum); err != nil {
		return false, err
	} else if same {
		return false, nil
	}

	// go-update renames the current file aside, so it has to exist.
	created, err := ensureFile(targetPath, perm)
	if err != nil {
		return false, err
	}

	file, err := os.Open(sourcePath) //nolint:gosec // Path comes from walking the release tree.
	if err != nil {
		discardStaged(targetPath, created)
		return false, err
	}

	defer func() {
		_ = file.Close()
	}()

	logger.DebugKV(ctx, "Writing file", "path", rel)

	options := goupdate.Options{
		TargetPath: targetPath,
		TargetMode: perm,
		Checksum:   checksum,
		Hash:       checksumFunction,
	}

	if err = t.apply(file, options); err != nil {
		discardStaged(targetPath, created)
		return false, err
	}

	// Some platforms keep the previous copy around as hidden .name.old.
	_ = os.Remove(stagedPath(targetPath, "old"))

	return true, nil
}

// writeSymlink recreates the link at sourcePath under a temporary name and
// renames it over targetPath.
func writeSymlink(ctx context.Context, sourcePath, targetPath, rel string) (bool, error) {
	destination, err := os.Readlink(sourcePath)
	if err != nil {
		return false, err
	}

	if current, err := os.Readlink(targetPath); err == nil && current == destination {
		return false, nil
	}

	logger.DebugKV(ctx, "Writing link", "path", rel, "destination", destination)

	tmp := stagedPath(targetPath, "new")
	_ = os.Remove(tmp)

	if err = os.Symlink(destination, tmp); err != nil {
		return false, err
	}

	if err = os.Rename(tmp, targetPath); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}

	return true, nil
}

// discardStaged removes what a failed go-update apply may leave next to
// targetPath, restoring the previous file when it was moved aside.
func discardStaged(targetPath string, created bool) {
	_ = os.Remove(stagedPath(targetPath, "new"))

	oldPath := stagedPath(targetPath, "old")
	if _, err := os.Lstat(targetPath); isAbsent(err) {
		_ = os.Rename(oldPath, targetPath)
	}

	_ = os.Remove(oldPath)

	if created {
		_ = os.Remove(targetPath)
	}
}

// stagedPath is the hidden ".name.<suffix>" sibling go-update works with.
func stagedPath(targetPath, suffix string) string {
	return filepath.Join(filepath.Dir(targetPath), "."+filepath.Base(targetPath)+"."+suffix)
}

// removeEmptyDirs walks up from every removed file and deletes directories
// that no longer hold anything, stopping at the tree root.
func (t *Tree) removeEmptyDirs(removed []string) ([]string, error) {
	candidates := make(map[string]struct{}, len(removed))

	for _, rel := range removed {
		for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
			candidates[dir] = struct{}{}
		}
	}

	dirs := make([]string, 0, len(candidates))
	for dir := range candidates {
		dirs = append(dirs, dir)
	}

	// Deepest first so parents are checked after their children are gone.
	slices.SortFunc(dirs, func(a, b string) int {
		if d := strings.Count(b, "/") - strings.Count(a, "/"); d != 0 {
			return d
		}

		return strings.Compare(a, b)
	})

	var removedDirs []string

	for _, dir := range dirs {
		if t.isPreserved(dir) {
			continue
		}

		entries, err := os.ReadDir(t.abs(dir))
		if isAbsent(err) {
			continue
		}

		if err != nil {
			return removedDirs, fmt.Errorf("read %s: %w", dir, err)
		}

		if len(entries) > 0 {
			continue
		}

		if err = os.Remove(t.abs(dir)); err != nil {
			return removedDirs, fmt.Errorf("remove %s: %w", dir, err)
		}

		removedDirs = append(removedDirs, dir)
	}

	return removedDirs, nil
}

// isPreserved reports whether rel is a preserved path or lies beneath one.
func (t *Tree) isPreserved(rel string) bool {
	for _, p := range t.preserve {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}

	return false
}

func (t *Tree) abs(rel string) string {
	return filepath.Join(t.root, filepath.FromSlash(rel))
}

// difference returns the elements of a that are missing from b. Both are sorted.
func difference(a, b []string) []string {
	var result []string

	for _, item := range a {
		if _, found := slices.BinarySearch(b, item); !found {
			result = append(result, item)
		}
	}

	return result
}

// holdsPreserved reports whether a preserved path lies beneath rel.
func (t *Tree) holdsPreserved(rel string) bool {
	for _, p := range t.preserve {
		if strings.HasPrefix(p, rel+"/") {
			return true
		}
	}

	return false
}

// isAbsent treats a missing path and a path under a file alike.
func isAbsent(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func checksumOfFile(p string) ([]byte, error) {
	if !checksumFunction.Available() {
		return nil, errHashUnavailable
	}

	file, err := os.Open(p) //nolint:gosec // Path comes from walking a tree.
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := checksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, err
	}

	return hasher.Sum(nil), nil
}

// hasChecksum reports whether the file at p already has the expected content.
func hasChecksum(p string, checksum []byte) (bool, error) {
	info, err := os.Lstat(p)
	if isAbsent(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}

	current, err := checksumOfFile(p)
	if err != nil {
		return false, err
	}

	return bytes.Equal(current, checksum), nil
}

// ensureFile creates an empty file at p unless something is already there.
// It reports whether it created one.
func ensureFile(p string, mode os.FileMode) (bool, error) {
	info, err := os.Lstat(p)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("%s: %w", p, errTargetIsDirectory)
		}

		return false, nil
	}

	if !isAbsent(err) {
		return false, err
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode) //nolint:gosec // Path is inside the installation tree.
	if err != nil {
		return false, err
	}

	return true, f.Close()
}

package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/selfupdate/internal/config"
	"github.com/oshokin/selfupdate/internal/logger"
	"github.com/oshokin/selfupdate/internal/repository/installation"
	"github.com/oshokin/selfupdate/internal/version"
)

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
}

// Synchronizer makes the installation tree match an extracted release.
type Synchronizer interface {
	Sync(ctx context.Context, source string) (*installation.Report, error)
}

// Result describes how an update run ended.
type Result struct {
	// State is the terminal state reached.
	State State
	// Transitions lists every state entered, in order, starting after StateIdle.
	Transitions []State
	// LocalVersion is the installed version.
	LocalVersion string
	// RemoteVersion is the published version, empty when absent.
	RemoteVersion string
	// Change classifies RemoteVersion against LocalVersion.
	Change version.Change
	// Report lists the files touched while applying.
	Report *installation.Report
}

// Updater runs one update check and, if needed, applies the release.
type Updater struct {
	cfg      *config.Config
	local    version.Metadata
	manifest ManifestSource
	archive  ArchiveSource
	extract  Extractor
	tree     Synchronizer
	result   *Result
}

// Option replaces one of the updater's collaborators.
type Option func(*Updater)

// WithManifestSource sets where the remote version comes from.
func WithManifestSource(s ManifestSource) Option {
	return func(u *Updater) {
		u.manifest = s
	}
}

// WithArchiveSource sets where the release archive comes from.
func WithArchiveSource(s ArchiveSource) Option {
	return func(u *Updater) {
		u.archive = s
	}
}

// WithExtractor sets how the archive is unpacked.
func WithExtractor(e Extractor) Option {
	return func(u *Updater) {
		u.extract = e
	}
}

// WithSynchronizer sets how the installation tree is updated.
func WithSynchronizer(s Synchronizer) Option {
	return func(u *Updater) {
		u.tree = s
	}
}

// Run loads settings and local metadata, then performs the update check.
// It is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "updater")

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigFilename
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	local, err := version.LoadMetadata(cfg.MetadataPath())
	if err != nil {
		return nil, err
	}

	tree := installation.NewTree(cfg.InstallDir, cfg.PreservedPaths(configPath)...)

	// Fatal errors are logged once, by the caller.
	return New(cfg, local, WithSynchronizer(tree)).Run(ctx)
}

// New returns an Updater for cfg. Collaborators default to HTTP sources, the
// configured unzip command and the installation tree at cfg.InstallDir.
func New(cfg *config.Config, local version.Metadata, opts ...Option) *Updater {
	u := &Updater{
		cfg:      cfg,
		local:    local,
		manifest: NewHTTPManifestSource(cfg.ManifestURL, cfg.Timeout),
		archive:  NewHTTPArchiveSource(cfg.ArchiveURL, cfg.DownloadTimeout),
		extract:  NewCommandExtractor(cfg.UnzipCommand),
		tree:     installation.NewTree(cfg.InstallDir, cfg.PreservedPaths()...),
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// Run executes the state machine:
// 1) Compare local and remote versions; stop when they match or no remote version exists.
// 2) Download the archive into a fresh workspace.
// 3) Extract it.
// 4) Synchronize the installation tree.
// 5) Remove the workspace.
func (u *Updater) Run(ctx context.Context) (*Result, error) {
	u.result = &Result{
		State:        StateIdle,
		LocalVersion: u.local.Version,
	}

	u.transition(ctx, StateCheckingVersion)
	logger.Info(ctx, "Checking for updates")

	remoteVersion, err := u.manifest.RemoteVersion(ctx)
	if err != nil {
		if u.cfg.SkipOnCheckFailure {
			logger.WarnKV(ctx, "Update check inconclusive, keeping the current version", "error", err)
			u.transition(ctx, StateNoUpdateNeeded)

			return u.result, nil
		}

		return u.fail(ctx, err)
	}

	u.result.RemoteVersion = remoteVersion

	if remoteVersion == "" || remoteVersion == u.local.Version {
		logger.InfoKV(ctx, "No updates available", "version", u.local.Version)
		u.transition(ctx, StateNoUpdateNeeded)

		return u.result, nil
	}

	u.result.Change = version.Classify(u.local.Version, remoteVersion)
	logger.InfoKV(ctx, "Updating",
		"from", u.local.Version, "to", remoteVersion, "change", u.result.Change.String())

	if err = u.apply(ctx); err != nil {
		return u.fail(ctx, err)
	}

	u.transition(ctx, StateDone)
	logger.Info(ctx, "Updates applied successfully")

	return u.result, nil
}

// apply downloads, extracts and installs the release. The workspace is
// removed on every path out of this function.
func (u *Updater) apply(ctx context.Context) (err error) {
	release, err := acquireMarker(ctx, u.cfg.MarkerFile)
	if err != nil {
		return err
	}

	defer release()

	ws, err := newWorkspace(u.cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}

	defer func() {
		if removeErr := ws.remove(); removeErr != nil {
			logger.WarnKV(ctx, "Unable to remove workspace", "path", ws.dir, "error", removeErr)

			if err == nil {
				err = fmt.Errorf("%w: %w", ErrCleanupFailed, removeErr)
			}
		}
	}()

	u.transition(ctx, StateDownloading)
	logger.Info(ctx, "Downloading updates")

	if err = u.download(ctx, ws); err != nil {
		return err
	}

	u.transition(ctx, StateExtracting)
	logger.Info(ctx, "Extracting updates")

	root, err := u.unpack(ctx, ws)
	if err != nil {
		return err
	}

	u.transition(ctx, StateApplying)
	logger.Info(ctx, "Applying updates")

	report, err := u.tree.Sync(ctx, root)
	u.result.Report = report

	if err != nil {
		return err
	}

	if report != nil {
		logger.InfoKV(ctx, "Installation tree synchronized",
			"written", len(report.Written), "removed", len(report.Removed))
	}

	u.transition(ctx, StateCleaningUp)
	logger.Info(ctx, "Cleaning up")

	if err = ws.remove(); err != nil {
		return fmt.Errorf("%w: %w", ErrCleanupFailed, err)
	}

	return nil
}

// download fetches the archive and makes sure something usable landed on disk.
func (u *Updater) download(ctx context.Context, ws *workspace) error {
	if err := u.archive.Download(ctx, ws.archivePath()); err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	size, err := verifyArchive(ws.archivePath())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	logger.InfoKV(ctx, "Download complete", "bytes", size)

	return nil
}

// unpack extracts the archive and locates the release root inside it.
func (u *Updater) unpack(ctx context.Context, ws *workspace) (string, error) {
	if err := u.extract.Extract(ctx, ws.archivePath(), ws.extractDir()); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	root, err := ResolveArchiveRoot(ws.extractDir(), u.cfg.ArchiveRoot)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	logger.DebugKV(ctx, "Release root resolved", "path", root)

	return root, nil
}

func (u *Updater) transition(ctx context.Context, next State) {
	logger.DebugKV(ctx, "State transition", "from", u.result.State.String(), "to", next.String())

	u.result.State = next
	u.result.Transitions = append(u.result.Transitions, next)
}

func (u *Updater) fail(ctx context.Context, err error) (*Result, error) {
	u.transition(ctx, StateFailed)

	if errors.Is(err, context.Canceled) {
		logger.Warn(ctx, "Update canceled")
	}

	return u.result, err
}

package packager

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/oshokin/selfupdate/internal/config"
	"github.com/oshokin/selfupdate/internal/logger"
	"github.com/oshokin/selfupdate/internal/repository/installation"
	"github.com/oshokin/selfupdate/internal/service/updater"
	"github.com/oshokin/selfupdate/internal/version"
)

const (
	// defaultManifestFilename is used when the manifest URL has no file name.
	defaultManifestFilename = "manifest.json"

	// outputMode is used for the output directory and published files.
	outputMode os.FileMode = 0o755
)

var (
	// errNothingToPackage is returned when the installation tree has no files.
	errNothingToPackage = errors.New("installation tree has no files to package")

	// errUnsupportedFile is returned for entries that are neither files nor links.
	errUnsupportedFile = errors.New("unsupported file type")
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// OutputDir receives the manifest and the archive.
	OutputDir string
}

// Artifacts names the files a packager run produced.
type Artifacts struct {
	// ManifestPath is the written JSON manifest.
	ManifestPath string
	// ArchivePath is the written zip archive.
	ArchivePath string
	// Files lists the packaged files relative to the install dir.
	Files []string
}

// packager prepares a release for distribution.
// Callers use Run, which loads settings and metadata first.
type packager struct {
	cfg       *config.Config
	meta      version.Metadata
	outputDir string
	tree      *installation.Tree
}

// manifest is the published document; the updater reads metadata.version.
type manifest struct {
	Metadata version.Metadata `json:"metadata"`
}

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) (*Artifacts, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "packager")

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigFilename
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	meta, err := version.LoadMetadata(cfg.MetadataPath())
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Clean(opts.OutputDir)

	pkg := &packager{
		cfg:       cfg,
		meta:      meta,
		outputDir: outputDir,
		tree:      installation.NewTree(cfg.InstallDir, cfg.PreservedPaths(configPath, outputDir)...),
	}

	artifacts, err := pkg.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("packager failed: %w", err)
	}

	logger.Info(ctx, "Packager completed successfully")

	return artifacts, nil
}

// Run writes the archive first and the manifest last, so a manifest never
// advertises a version whose archive is missing.
func (p *packager) Run(ctx context.Context) (*Artifacts, error) {
	if err := os.MkdirAll(p.outputDir, outputMode); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	files, err := p.tree.Files()
	if err != nil {
		return nil, fmt.Errorf("list installation files: %w", err)
	}

	if len(files) == 0 {
		return nil, errNothingToPackage
	}

	artifacts := &Artifacts{
		ManifestPath: filepath.Join(p.outputDir, fileNameFromURL(p.cfg.ManifestURL, defaultManifestFilename)),
		ArchivePath:  filepath.Join(p.outputDir, fileNameFromURL(p.cfg.ArchiveURL, updater.ArchiveFilename)),
		Files:        files,
	}

	logger.InfoKV(ctx, "Writing release archive", "path", artifacts.ArchivePath, "files", len(files))

	if err = p.writeArchive(artifacts.ArchivePath, files); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}

	logger.InfoKV(ctx, "Writing manifest", "path", artifacts.ManifestPath, "version", p.meta.Version)

	if err = p.writeManifest(artifacts.ManifestPath); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	p.printNextSteps(ctx, artifacts)

	return artifacts, nil
}

// archiveRoot is the directory every archived file is placed under.
func (p *packager) archiveRoot() string {
	if p.cfg.ArchiveRoot != "" {
		return p.cfg.ArchiveRoot
	}

	name := p.meta.Name
	if name == "" {
		name = "app"
	}

	return name + "-main"
}

// writeArchive zips files into a temporary file and renames it into place.
func (p *packager) writeArchive(target string, files []string) error {
	tmp, err := os.CreateTemp(p.outputDir, ".archive-*.zip")
	if err != nil {
		return err
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	w := zip.NewWriter(tmp)
	root := p.archiveRoot()

	for _, rel := range files {
		if err = p.addFile(w, path.Join(root, rel), rel); err != nil {
			_ = w.Close()
			_ = tmp.Close()

			return fmt.Errorf("%s: %w", rel, err)
		}
	}

	if err = w.Close(); err != nil {
		_ = tmp.Close()
		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), target)
}

func (p *packager) addFile(w *zip.Writer, name, rel string) error {
	source := filepath.Join(p.tree.Root(), filepath.FromSlash(rel))

	info, err := os.Lstat(source)
	if err != nil {
		return err
	}

	mode := info.Mode()
	if !mode.IsRegular() && mode&fs.ModeSymlink == 0 {
		return fmt.Errorf("%w: %s", errUnsupportedFile, mode.Type().String())
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = name
	header.Method = zip.Deflate

	entry, err := w.CreateHeader(header)
	if err != nil {
		return err
	}

	// unzip restores a link from an entry holding its destination.
	if mode&fs.ModeSymlink != 0 {
		destination, err := os.Readlink(source)
		if err != nil {
			return err
		}

		_, err = io.WriteString(entry, destination)

		return err
	}

	file, err := os.Open(source) //nolint:gosec // Path comes from walking the installation tree.
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	_, err = io.Copy(entry, file)

	return err
}

func (p *packager) writeManifest(target string) error {
	contents, err := json.MarshalIndent(manifest{Metadata: p.meta}, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(target, append(contents, '\n'), config.DefaultFilePermissions)
}

// printNextSteps logs human-readable guidance for publishing the release.
func (p *packager) printNextSteps(ctx context.Context, artifacts *Artifacts) {
	var builder strings.Builder

	builder.WriteString("Publish the release so that:\n")
	builder.WriteString(p.cfg.ManifestURL)
	builder.WriteString(" serves ")
	builder.WriteString(artifacts.ManifestPath)
	builder.WriteString(",\n")
	builder.WriteString(p.cfg.ArchiveURL)
	builder.WriteString(" serves ")
	builder.WriteString(artifacts.ArchivePath)
	builder.WriteString("\nUpload the archive before the manifest. Clients pick the release up with: selfupdate --update")

	logger.Info(ctx, builder.String())
}

// fileNameFromURL returns the last path element of rawURL, or fallback.
func fileNameFromURL(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return fallback
	}

	return name
}

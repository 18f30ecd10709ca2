package updater

import (
	"errors"
	"time"
)

var (
	// ErrManifestUnavailable wraps failures to fetch or decode the remote manifest.
	ErrManifestUnavailable = errors.New("remote manifest unavailable")
	// ErrDownloadFailed wraps failures to download the release archive.
	ErrDownloadFailed = errors.New("download failed")
	// ErrExtractionFailed wraps failures to unpack the release archive.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrCleanupFailed is returned when the workspace could not be removed.
	ErrCleanupFailed = errors.New("workspace cleanup failed")
	// ErrUpdaterAlreadyRunning is returned when another update holds the marker.
	ErrUpdaterAlreadyRunning = errors.New("the updater is already running")

	errBadHTTPStatus      = errors.New("unexpected http status")
	errEmptyArchive       = errors.New("downloaded archive is empty")
	errArchiveRootMissing = errors.New("archive root not found")
)

const (
	// ArchiveFilename is the downloaded archive inside the workspace.
	ArchiveFilename = "main.zip"

	// ExtractDirname is the extraction directory inside the workspace.
	ExtractDirname = "extracted"

	// markerLifetime is the age after which a marker without a live owner is ignored.
	markerLifetime = 30 * time.Minute

	// userAgent identifies requests made by the updater.
	userAgent = "selfupdate"

	// workspaceMode is used for the workspace and the marker directory.
	workspaceMode = 0o755
)

// State is a step of the update state machine.
type State int

const (
	// StateIdle is the state before Run starts.
	StateIdle State = iota
	// StateCheckingVersion compares local and remote versions.
	StateCheckingVersion
	// StateNoUpdateNeeded is terminal: versions match or no remote version exists.
	StateNoUpdateNeeded
	// StateDownloading fetches the release archive.
	StateDownloading
	// StateExtracting unpacks the archive into the workspace.
	StateExtracting
	// StateApplying synchronizes the installation tree.
	StateApplying
	// StateCleaningUp removes the workspace.
	StateCleaningUp
	// StateDone is terminal: the installation tree holds the new release.
	StateDone
	// StateFailed is terminal: the update was abandoned.
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingVersion:
		return "checking-version"
	case StateNoUpdateNeeded:
		return "no-update-needed"
	case StateDownloading:
		return "downloading"
	case StateExtracting:
		return "extracting"
	case StateApplying:
		return "applying"
	case StateCleaningUp:
		return "cleaning-up"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateNoUpdateNeeded || s == StateDone || s == StateFailed
}

package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ArchiveSource writes the release archive to a local path.
type ArchiveSource interface {
	Download(ctx context.Context, destination string) error
}

// HTTPArchiveSource streams the archive from a URL.
type HTTPArchiveSource struct {
	url    string
	client *http.Client
}

// NewHTTPArchiveSource returns a source for url whose transfer is bounded by timeout.
func NewHTTPArchiveSource(url string, timeout time.Duration) *HTTPArchiveSource {
	return &HTTPArchiveSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Download streams the response body into destination, replacing any
// existing file. The body is never held in memory as a whole.
func (s *HTTPArchiveSource) Download(ctx context.Context, destination string) error {
	response, err := get(ctx, s.client, s.url)
	if response != nil {
		defer func() {
			_ = response.Body.Close()
		}()
	}

	if err != nil {
		return err
	}

	output, err := os.Create(filepath.Clean(destination))
	if err != nil {
		return err
	}

	written, err := io.Copy(output, response.Body)
	if err != nil {
		_ = output.Close()
		return fmt.Errorf("write %s: %w", destination, err)
	}

	if err = output.Close(); err != nil {
		return err
	}

	if written == 0 {
		return errEmptyArchive
	}

	return nil
}

// verifyArchive checks the downloaded file exists and has content.
func verifyArchive(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	if info.Size() == 0 {
		return 0, errEmptyArchive
	}

	return info.Size(), nil
}

package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ManifestSource reports the version published remotely.
// An empty version with a nil error means the manifest carries no version.
type ManifestSource interface {
	RemoteVersion(ctx context.Context) (string, error)
}

// manifest is the subset of the remote document the updater reads.
type manifest struct {
	Metadata *struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// HTTPManifestSource fetches the manifest with a plain GET.
type HTTPManifestSource struct {
	url    string
	client *http.Client
}

// NewHTTPManifestSource returns a source for url whose requests are bounded by timeout.
func NewHTTPManifestSource(url string, timeout time.Duration) *HTTPManifestSource {
	return &HTTPManifestSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// RemoteVersion downloads the manifest and returns metadata.version.
func (s *HTTPManifestSource) RemoteVersion(ctx context.Context) (string, error) {
	response, err := get(ctx, s.client, s.url)
	if response != nil {
		defer func() {
			_ = response.Body.Close()
		}()
	}

	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
	}

	var doc manifest
	if err = json.NewDecoder(response.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("%w: decode %s: %w", ErrManifestUnavailable, s.url, err)
	}

	if doc.Metadata == nil {
		return "", nil
	}

	return strings.TrimSpace(doc.Metadata.Version), nil
}

// get performs a GET and fails on anything but 200 OK.
// The response is returned whenever there is one so callers can close its body.
func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)

	response, err := client.Do(req)
	if err != nil {
		return response, err
	}

	if response.StatusCode != http.StatusOK {
		return response, fmt.Errorf("%s, %s: %w", url, response.Status, errBadHTTPStatus)
	}

	return response, nil
}

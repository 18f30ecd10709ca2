package updater

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)

	return ts
}

// TestHTTPManifestSource_Version extracts metadata.version.
func TestHTTPManifestSource_Version(t *testing.T) {
	t.Parallel()

	ts := serve(t, http.StatusOK, `{"metadata": {"name": "app", "version": " 1.4.0 "}, "tasks": {}}`)

	got, err := NewHTTPManifestSource(ts.URL, time.Second).RemoteVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.4.0", got)
}

// TestHTTPManifestSource_Absent treats a manifest without a version as absent.
func TestHTTPManifestSource_Absent(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`{}`, `{"metadata": {}}`, `{"metadata": {"version": ""}}`} {
		ts := serve(t, http.StatusOK, body)

		got, err := NewHTTPManifestSource(ts.URL, time.Second).RemoteVersion(context.Background())
		require.NoError(t, err, body)
		require.Empty(t, got, body)
	}
}

// TestHTTPManifestSource_Failures wraps status, decode and transport errors.
func TestHTTPManifestSource_Failures(t *testing.T) {
	t.Parallel()

	notFound := serve(t, http.StatusNotFound, "missing")
	_, err := NewHTTPManifestSource(notFound.URL, time.Second).RemoteVersion(context.Background())
	require.ErrorIs(t, err, ErrManifestUnavailable)
	require.ErrorIs(t, err, errBadHTTPStatus)

	garbage := serve(t, http.StatusOK, "<html>")
	_, err = NewHTTPManifestSource(garbage.URL, time.Second).RemoteVersion(context.Background())
	require.ErrorIs(t, err, ErrManifestUnavailable)

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	_, err = NewHTTPManifestSource(closed.URL, time.Second).RemoteVersion(context.Background())
	require.ErrorIs(t, err, ErrManifestUnavailable)
}

// TestHTTPManifestSource_Timeout bounds a hanging server.
func TestHTTPManifestSource_Timeout(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(done)
		ts.Close()
	})

	_, err := NewHTTPManifestSource(ts.URL, 50*time.Millisecond).RemoteVersion(context.Background())
	require.ErrorIs(t, err, ErrManifestUnavailable)
}

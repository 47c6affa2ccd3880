package vsicurl

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenStripsPrefixAndStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	fs := NewFileSystem()
	h, err := fs.Open(URLPrefix+srv.URL, os.O_RDONLY)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 3)
	n, err := h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))
}

func TestOpenRejectsWriteModes(t *testing.T) {
	fs := NewFileSystem()
	_, err := fs.Open("http://example.invalid/file", os.O_WRONLY)
	require.ErrorIs(t, err, ErrWriteUnsupported)
}

func TestOpenReturnsNilOnMissingResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fs := NewFileSystem()
	_, err := fs.Open(srv.URL, os.O_RDONLY)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatReportsSizeAndKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "7")
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte("1234567"))
		}
	}))
	defer srv.Close()

	fs := NewFileSystem()
	res, err := fs.Stat(srv.URL, StatFlagSize)
	require.NoError(t, err)
	require.EqualValues(t, 7, res.Size)
	require.False(t, res.IsDirectory)
}

func TestStatClassifiesDirectoryByTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(nil)
	}))
	defer srv.Close()

	fs := NewFileSystem()
	res, err := fs.Stat(srv.URL+"/dir/", StatFlagSize)
	require.NoError(t, err)
	require.True(t, res.IsDirectory)
	require.EqualValues(t, 0, res.Size)
}

func TestStatSkipsSizeProbeWithoutSizeFlag(t *testing.T) {
	var getCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			getCalls++
		}
		w.Header().Set("Content-Length", "7")
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte("1234567"))
		}
	}))
	defer srv.Close()

	fs := NewFileSystem()
	res, err := fs.Stat(srv.URL, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, res.Size)
}

func TestReadAheadWrapsHandleWhenEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	fs := NewFileSystem(WithReadAhead(1024))
	h, err := fs.Open(srv.URL, os.O_RDONLY)
	require.NoError(t, err)
	defer h.Close()
	require.NotNil(t, h.ahead)

	buf := make([]byte, 5)
	n, err := h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

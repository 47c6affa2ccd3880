package transfer

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunGetDeliversBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	e := NewHTTP(srv.Client(), false, true)
	var events []HeaderEvent
	var got bytes.Buffer
	err := e.RunGet(context.Background(), srv.URL, func(ev HeaderEvent) {
		events = append(events, ev)
	}, func(chunk []byte) bool {
		got.Write(chunk)
		return false
	})
	require.NoError(t, err)
	require.Equal(t, "hello", got.String())
	require.Len(t, events, 1)
	require.Equal(t, 200, events[0].StatusCode)
	require.NotNil(t, events[0].CandidateSize)
	require.EqualValues(t, 5, *events[0].CandidateSize)
	require.True(t, events[0].CandidateTrustable)
}

func TestRunGetFollowsRedirectAndResetsHeaders(t *testing.T) {
	var target string
	mux := http.NewServeMux()
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("abcdef"))
	})
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	target = srv.URL + "/final"

	e := NewHTTP(srv.Client(), false, true)
	var events []HeaderEvent
	var got bytes.Buffer
	err := e.RunGet(context.Background(), srv.URL+"/start", func(ev HeaderEvent) {
		events = append(events, ev)
	}, func(chunk []byte) bool {
		got.Write(chunk)
		return false
	})
	require.NoError(t, err)
	require.Equal(t, "abcdef", got.String())
	require.Len(t, events, 2)
	require.True(t, events[0].Redirected)
	require.Equal(t, 302, events[0].StatusCode)
	require.False(t, events[1].Redirected)
	require.Equal(t, 200, events[1].StatusCode)
}

func TestRunGetGzipDecodes(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	_, _ = gz.Write([]byte("decompressed body"))
	_ = gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.Itoa(compressed.Len())) // compressed length; must not be trusted
		_, _ = w.Write(compressed.Bytes())
	}))
	defer srv.Close()

	e := NewHTTP(srv.Client(), false, true)
	var events []HeaderEvent
	var got bytes.Buffer
	err := e.RunGet(context.Background(), srv.URL, func(ev HeaderEvent) {
		events = append(events, ev)
	}, func(chunk []byte) bool {
		got.Write(chunk)
		return false
	})
	require.NoError(t, err)
	require.Equal(t, "decompressed body", got.String())
	require.False(t, events[0].CandidateTrustable, "gzip content-length must not be trusted as file size")
	require.True(t, events[0].GzipEncoded)
}

func TestRunGetAbortStopsPump(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("abcdefghij"))
	}))
	defer srv.Close()

	e := NewHTTP(srv.Client(), false, true)
	var got bytes.Buffer
	err := e.RunGet(context.Background(), srv.URL, func(HeaderEvent) {}, func(chunk []byte) bool {
		got.Write(chunk)
		return true // abort after first chunk
	})
	require.NoError(t, err)
	require.NotEmpty(t, got.String())
}

func TestRunHeadReportsSizeWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "42")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("should not be read in HEAD test"))
		}
	}))
	defer srv.Close()

	e := NewHTTP(srv.Client(), false, true)
	var ev HeaderEvent
	err := e.RunHead(context.Background(), srv.URL, func(e HeaderEvent) { ev = e })
	require.NoError(t, err)
	require.Equal(t, 200, ev.StatusCode)
	require.NotNil(t, ev.CandidateSize)
	require.EqualValues(t, 42, *ev.CandidateSize)
}

func Test404SetsNonRedirectStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewHTTP(srv.Client(), false, true)
	var ev HeaderEvent
	err := e.RunGet(context.Background(), srv.URL, func(e HeaderEvent) { ev = e }, func([]byte) bool { return false })
	require.NoError(t, err)
	require.Equal(t, 404, ev.StatusCode)
	require.False(t, ev.Redirected)
}

func TestNewHTTPAdvertisesGzipWhenEnabled(t *testing.T) {
	var gotAcceptEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAcceptEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Length", "2")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := NewHTTP(srv.Client(), false, true)
	err := e.RunGet(context.Background(), srv.URL, func(HeaderEvent) {}, func([]byte) bool { return false })
	require.NoError(t, err)
	require.Equal(t, "gzip", gotAcceptEncoding)
}

func TestNewHTTPForcesIdentityWhenGzipDisabled(t *testing.T) {
	var gotAcceptEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAcceptEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Length", "2")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := NewHTTP(srv.Client(), false, false)
	err := e.RunGet(context.Background(), srv.URL, func(HeaderEvent) {}, func([]byte) bool { return false })
	require.NoError(t, err)
	require.Equal(t, "identity", gotAcceptEncoding)
}

// Package transfer performs exactly one HTTP or FTP transfer for a URL and
// routes the response through a header callback and a body callback, per
// spec.md §4.4. It is deliberately ignorant of ring buffers, front caches,
// or existence bookkeeping — those are the StreamHandle's business; the
// engine's callbacks are just the seam between "bytes arrived on the wire"
// and "the handle does something with them".
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/textproto"

	"github.com/klauspost/compress/gzip"
)

// maxRedirectHops bounds how many 301/302 hops a single Run will follow,
// guarding against redirect loops.
const maxRedirectHops = 10

// HeaderEvent reports what the engine learned from one response's headers,
// after following any redirects that preceded it.
type HeaderEvent struct {
	StatusCode         int
	Redirected         bool
	CandidateSize      *int64
	CandidateTrustable bool
	GzipEncoded        bool
	RawHeaders         string
}

// HeaderFunc is invoked once per hop (including intermediate 301/302
// responses), mirroring a libcurl-style header callback fired per redirect.
type HeaderFunc func(HeaderEvent)

// BodyFunc delivers one chunk of (decoded) body bytes. It returns true to
// request the engine abort the transfer immediately — used when the
// handle's existence bookkeeping decides the body should not continue
// (spec.md §4.4 body callback step 4) or when stop was requested.
type BodyFunc func(chunk []byte) (abort bool)

// response is what a backend transport returns for one hop.
type response struct {
	statusLine       string
	header           textproto.MIMEHeader
	body             io.ReadCloser
	redirectLocation string
}

// backend performs one hop of a transfer. method is "GET" or "HEAD";
// stopAfterHeaders asks it to not bother delivering a body (used both for
// plain HEAD probes and for the "GET but stop before the body" probe
// spec.md §4.5 describes for servers that reject HEAD).
type backend interface {
	fetch(ctx context.Context, rawURL, method string, stopAfterHeaders bool) (*response, error)
}

// Engine wraps one backend. Each Run call performs one transfer; Run keeps
// no state on the Engine, so concurrent Run calls on one Engine proceed
// independently.
type Engine struct {
	b backend
}

// newEngine is unexported; use NewHTTP or NewFTP.
func newEngine(b backend) *Engine {
	return &Engine{b: b}
}

// Run performs the transfer: it follows redirects internally, replays each
// hop's headers through onHeader, and streams the final body through
// onBody. It returns when the body is exhausted, onBody requests abort, or
// a transport error occurs.
func (e *Engine) Run(ctx context.Context, rawURL, method string, stopAfterHeaders bool, onHeader HeaderFunc, onBody BodyFunc) error {
	state := &parseState{}
	current := rawURL

	for hop := 0; hop < maxRedirectHops; hop++ {
		resp, err := e.b.fetch(ctx, current, method, stopAfterHeaders)
		if err != nil {
			return err
		}

		state.feedLine(resp.statusLine)
		for _, line := range linesFromMIMEHeader(resp.header) {
			state.feedLine(line)
		}

		redirected := isRedirectStatus(state.statusCode)
		onHeader(HeaderEvent{
			StatusCode:         state.statusCode,
			Redirected:         redirected,
			CandidateSize:      state.candidateSize,
			CandidateTrustable: state.candidateTrustable,
			GzipEncoded:        state.gzipEncoded,
			RawHeaders:         state.acc.String(),
		})

		if redirected && resp.redirectLocation != "" {
			if resp.body != nil {
				_ = resp.body.Close()
			}
			current = resp.redirectLocation
			continue
		}

		if resp.body == nil {
			return nil
		}
		defer resp.body.Close()

		if stopAfterHeaders {
			return nil
		}

		reader := resp.body
		if state.gzipEncoded {
			gz, err := gzip.NewReader(resp.body)
			if err != nil {
				return fmt.Errorf("transfer: gzip: %w", err)
			}
			defer gz.Close()
			reader = gz
		}
		return e.pump(reader, onBody)
	}
	return fmt.Errorf("transfer: too many redirects (> %d) for %q", maxRedirectHops, rawURL)
}

// RunGet streams the full body of rawURL through onBody, following
// redirects transparently. This is what a StreamHandle's worker uses to
// drive the single unbounded transfer behind a handle.
func (e *Engine) RunGet(ctx context.Context, rawURL string, onHeader HeaderFunc, onBody BodyFunc) error {
	return e.Run(ctx, rawURL, "GET", false, onHeader, onBody)
}

// RunHead issues a HEAD and reports only headers, for servers that support
// it (spec.md §4.5 GetFileSize: "prefer HEAD with headers only").
func (e *Engine) RunHead(ctx context.Context, rawURL string, onHeader HeaderFunc) error {
	return e.Run(ctx, rawURL, "HEAD", true, onHeader, nil)
}

// RunGetHeadersOnly issues a GET but stops as soon as headers are parsed,
// for the servers in the opt-in "rejects HEAD" list (spec.md §4.5).
func (e *Engine) RunGetHeadersOnly(ctx context.Context, rawURL string, onHeader HeaderFunc) error {
	return e.Run(ctx, rawURL, "GET", true, onHeader, nil)
}

// pump reads reader in chunks and delivers them to onBody until EOF, an
// error, or onBody requests abort.
func (e *Engine) pump(reader io.Reader, onBody BodyFunc) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if onBody(buf[:n]) {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

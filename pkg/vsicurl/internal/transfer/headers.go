package transfer

import (
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

// HeaderLimit bounds how many bytes of raw header text an accumulator keeps
// for diagnostics, matching spec.md's 32 KiB default.
const HeaderLimit = 32 * 1024

// statusLinePrefixes are the status-line openers the header callback
// recognises, per spec.md §6 ("HTTP/1.{0,1} <code>").
var statusLinePrefixes = []string{"HTTP/1.0 ", "HTTP/1.1 "}

// isStatusLine reports whether line opens an HTTP status line.
func isStatusLine(line string) bool {
	for _, p := range statusLinePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// parseStatusCode extracts the numeric status code from a status line such
// as "HTTP/1.1 200 OK".
func parseStatusCode(line string) (int, error) {
	for _, p := range statusLinePrefixes {
		if strings.HasPrefix(line, p) {
			rest := strings.TrimSpace(line[len(p):])
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				return 0, fmt.Errorf("transfer: malformed status line %q", line)
			}
			return strconv.Atoi(fields[0])
		}
	}
	return 0, fmt.Errorf("transfer: not a status line: %q", line)
}

// isRedirectStatus reports whether code is one this engine follows
// silently per spec.md §4.8.
func isRedirectStatus(code int) bool {
	return code == 301 || code == 302
}

// headerAccumulator collects raw header lines for diagnostics, truncating
// beyond HeaderLimit, and resets itself when a redirect hop begins a fresh
// response (spec.md §4.4: "a redirect is being followed").
type headerAccumulator struct {
	lines []string
	size  int
}

func (h *headerAccumulator) reset() {
	h.lines = h.lines[:0]
	h.size = 0
}

func (h *headerAccumulator) add(line string) {
	if h.size >= HeaderLimit {
		return
	}
	remaining := HeaderLimit - h.size
	if len(line) > remaining {
		line = line[:remaining]
	}
	h.lines = append(h.lines, line)
	h.size += len(line)
}

func (h *headerAccumulator) String() string {
	return strings.Join(h.lines, "\n")
}

// parseState tracks the header-callback state machine of spec.md §4.4 across
// the lines of one response (and, transparently, the redirect hops that
// precede the final one).
type parseState struct {
	lastCode           int
	statusCode         int
	candidateSize      *int64
	candidateTrustable bool
	gzipEncoded        bool
	acc                headerAccumulator
}

// feedLine processes one header line (or the status line) as it "arrives",
// mirroring the incremental libcurl-style header callback the spec
// describes. The caller decides whether a reported candidate size is still
// useful (e.g. it may already know the authoritative size).
func (s *parseState) feedLine(line string) {
	if isStatusLine(line) && isRedirectStatus(s.lastCode) {
		s.acc.reset()
		s.candidateSize = nil
		s.candidateTrustable = false
		s.gzipEncoded = false
	}

	if isStatusLine(line) {
		if code, err := parseStatusCode(line); err == nil {
			s.statusCode = code
			s.lastCode = code
		}
	}

	s.acc.add(line)

	if isRedirectStatus(s.statusCode) {
		return
	}

	key, val, ok := splitHeaderLine(line)
	if !ok {
		return
	}
	switch strings.ToLower(key) {
	case "content-length":
		if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			s.candidateSize = &n
			s.candidateTrustable = !s.gzipEncoded
		}
	case "content-encoding":
		if strings.Contains(strings.ToLower(val), "gzip") {
			s.candidateTrustable = false
			s.gzipEncoded = true
		}
	}
}

// splitHeaderLine splits a raw "Key: value" header line.
func splitHeaderLine(line string) (key, val string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+1:], true
}

// linesFromMIMEHeader renders a parsed textproto.MIMEHeader back into
// "Key: value" lines so they can be replayed through feedLine one at a
// time. The lines come out in map iteration order, which is not stable and
// does not preserve the order the server sent them in.
func linesFromMIMEHeader(h textproto.MIMEHeader) []string {
	lines := make([]string, 0, len(h))
	for k, vv := range h {
		for _, v := range vv {
			lines = append(lines, k+": "+v)
		}
	}
	return lines
}

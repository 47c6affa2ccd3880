package vsicurl

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultRingBufferCapacity is the default RingBuffer size (spec.md §6).
	DefaultRingBufferCapacity = 1 << 20 // 1 MiB
	// DefaultCacheLimit is the default front-cache window.
	DefaultCacheLimit = 1 << 20 // 1 MiB
	// DefaultSkipBufferSize is the default scratch buffer for discarding
	// ring-buffer bytes during a forward seek.
	DefaultSkipBufferSize = 32 * 1024
)

// Config holds the tunables spec.md §6 exposes as environment-style keys.
// Zero-value fields are filled in with their documented defaults by
// NewFileSystem.
type Config struct {
	// RingBufferCapacity sizes each handle's RingBuffer.
	RingBufferCapacity int
	// CacheLimit sizes each handle's front cache.
	CacheLimit int
	// SkipBufferSize sizes the scratch buffer used to discard unreachable
	// ring-buffer bytes during a forward seek.
	SkipBufferSize int

	// AllowedExtensions, if non-empty, restricts Exists to URLs whose full
	// suffix (including any query string — see spec.md §9) matches one of
	// these entries. A mismatch publishes existence No without a network
	// probe. Mirrors CPL_VSIL_CURL_ALLOWED_EXTENSIONS.
	AllowedExtensions []string

	// SlowGetSize, when false, tells Stat to skip the size probe for
	// non-directory entries. Mirrors CPL_VSIL_CURL_SLOW_GET_SIZE (default
	// true).
	SlowGetSize bool

	// EnableGzip negotiates gzip-encoded bodies. Mirrors CPL_CURL_GZIP
	// (default true).
	EnableGzip bool

	// RejectsHeadSubstrings lists hostname/URL substrings of servers known
	// to reject HEAD; GetFileSize falls back to a header-only GET for
	// these, per spec.md §4.5.
	RejectsHeadSubstrings []string

	// Debug enables wire-level HTTP logging via httpretty. Mirrors
	// VSICURL_DEBUG.
	Debug bool

	// ReadAhead, when true, wraps opened handles in a read-ahead cache.
	// Mirrors VSI_CACHE.
	ReadAhead bool
	// ReadAheadSize sizes the read-ahead cache. Mirrors VSI_CACHE_SIZE.
	ReadAheadSize int

	// HTTPClient is the base client used for http/https transfers. If nil,
	// a zero-value *http.Client is used.
	HTTPClient *http.Client

	// Logger receives diagnostic output. If nil, a default logrus entry is
	// used.
	Logger Logger
}

// Option configures a Config, following the functional-options idiom used
// throughout this codebase.
type Option func(*Config)

// WithRingBufferCapacity overrides the per-handle RingBuffer size.
func WithRingBufferCapacity(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.RingBufferCapacity = n
		}
	}
}

// WithCacheLimit overrides the per-handle front-cache window.
func WithCacheLimit(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.CacheLimit = n
		}
	}
}

// WithAllowedExtensions restricts Exists to URLs with one of these
// suffixes, without a network probe for non-matches.
func WithAllowedExtensions(suffixes []string) Option {
	return func(c *Config) { c.AllowedExtensions = suffixes }
}

// WithSlowGetSize controls whether Stat probes size for non-directories.
func WithSlowGetSize(enabled bool) Option {
	return func(c *Config) { c.SlowGetSize = enabled }
}

// WithGzip toggles gzip negotiation.
func WithGzip(enabled bool) Option {
	return func(c *Config) { c.EnableGzip = enabled }
}

// WithRejectsHeadSubstrings configures the opt-in list of servers that
// reject HEAD requests.
func WithRejectsHeadSubstrings(substrings []string) Option {
	return func(c *Config) { c.RejectsHeadSubstrings = substrings }
}

// WithDebug enables wire-level HTTP logging.
func WithDebug(enabled bool) Option {
	return func(c *Config) { c.Debug = enabled }
}

// WithReadAhead wraps opened handles in a read-ahead cache of the given
// size (0 keeps the default size).
func WithReadAhead(size int) Option {
	return func(c *Config) {
		c.ReadAhead = true
		if size > 0 {
			c.ReadAheadSize = size
		}
	}
}

// WithHTTPClient overrides the base HTTP client used for transfers.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// WithLogger overrides the diagnostic logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// defaultConfig returns a Config populated with spec.md §6 defaults.
func defaultConfig() Config {
	return Config{
		RingBufferCapacity: DefaultRingBufferCapacity,
		CacheLimit:         DefaultCacheLimit,
		SkipBufferSize:     DefaultSkipBufferSize,
		SlowGetSize:        true,
		EnableGzip:         true,
	}
}

// configFromEnv layers the CPL_VSIL_CURL_*/CPL_CURL_GZIP/VSI_CACHE*
// environment keys (spec.md §6) on top of defaults.
func configFromEnv() Config {
	c := defaultConfig()

	if v := os.Getenv("CPL_VSIL_CURL_ALLOWED_EXTENSIONS"); v != "" {
		c.AllowedExtensions = splitExtensionList(v)
	}
	if v, ok := os.LookupEnv("CPL_VSIL_CURL_SLOW_GET_SIZE"); ok {
		c.SlowGetSize = parseEnvBool(v, true)
	}
	if v, ok := os.LookupEnv("CPL_CURL_GZIP"); ok {
		c.EnableGzip = parseEnvBool(v, true)
	}
	if v, ok := os.LookupEnv("VSICURL_DEBUG"); ok {
		c.Debug = parseEnvBool(v, false)
	}
	if v, ok := os.LookupEnv("VSI_CACHE"); ok {
		c.ReadAhead = parseEnvBool(v, false)
	}
	if v := os.Getenv("VSI_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ReadAheadSize = n
		}
	}
	return c
}

// splitExtensionList parses a comma/space separated suffix list.
func splitExtensionList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parseEnvBool parses common truthy/falsy spellings, defaulting to def on
// an empty or unrecognised value.
func parseEnvBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1", "on":
		return true
	case "no", "false", "0", "off":
		return false
	default:
		return def
	}
}

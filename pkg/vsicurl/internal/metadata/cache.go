// Package metadata implements the process-wide URL-to-metadata map shared
// across vsicurl handles that target the same resource.
package metadata

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Existence is the tri-state membership of a URL.
type Existence int

const (
	Unknown Existence = iota
	Yes
	No
)

// Record is the cached metadata for one URL. Records are created on first
// query and retained for the process lifetime; no eviction. All mutation
// happens under the owning Cache's lock.
type Record struct {
	Existence    Existence
	SizeKnown    bool
	Size         uint64
	IsDirectory  bool
	LastProbedAt time.Time
}

// Cache is a URL -> *Record map guarded by a single lock. A handle must not
// hold its own (handle) lock while blocked acquiring this one; the only
// permitted lock composition is handle-lock-then-cache-lock-briefly.
type Cache struct {
	mu      sync.Mutex
	records map[string]*Record

	// probe collapses concurrent cold-start probes (Exists/GetFileSize)
	// for the same URL so that racing callers trigger one network round
	// trip instead of one each; see spec.md §8's "two concurrent Exists
	// calls ... publish the same terminal existence" property.
	probe singleflight.Group
}

// New returns an empty metadata cache.
func New() *Cache {
	return &Cache{records: make(map[string]*Record)}
}

// Get returns the existing record for url, inserting a fresh Unknown one if
// none exists yet. The returned pointer is stable for the process lifetime;
// callers must still take c's lock (via Mutate) to read or write its fields
// safely against other handles.
func (c *Cache) Get(url string) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(url)
}

func (c *Cache) getLocked(url string) *Record {
	r, ok := c.records[url]
	if !ok {
		r = &Record{Existence: Unknown}
		c.records[url] = r
	}
	return r
}

// Snapshot returns a copy of the current fields for url, safe to mirror
// into a handle's local state without holding the cache lock afterward.
func (c *Cache) Snapshot(url string) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.getLocked(url)
}

// Mutate runs fn with the cache lock held and the record for url passed in,
// allowing a handle to publish an upgrade (Unknown -> Yes/No, unknown ->
// known size) atomically with respect to other handles.
func (c *Cache) Mutate(url string, fn func(r *Record)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.getLocked(url)
	fn(r)
	r.LastProbedAt = time.Now()
}

// Probe runs fn at most once concurrently per url: if another goroutine is
// already probing the same URL (e.g. two handles calling Exists on a cold
// MetadataRecord simultaneously), the caller waits for that probe's result
// instead of issuing a second network round trip. fn is expected to itself
// call Mutate to publish whatever it discovers.
func (c *Cache) Probe(url string, fn func() error) error {
	_, err, _ := c.probe.Do(url, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

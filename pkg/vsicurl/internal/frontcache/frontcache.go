// Package frontcache implements the per-handle prefix cache that covers file
// offsets [0, limit). It exists to serve metadata-sniffing reads (the first
// few kilobytes of a resource) without re-touching the network, without the
// complexity of caching an arbitrary sparse region.
package frontcache

// Cache holds a contiguous prefix of a remote resource's bytes, starting at
// offset zero. It never has holes: the region it covers only ever grows
// forward from the start.
type Cache struct {
	limit int
	buf   []byte
	n     int // bytes currently valid, buf[0:n]
}

// New returns a Cache that will never retain more than limit bytes.
func New(limit int) *Cache {
	return &Cache{limit: limit}
}

// Len reports how many bytes of prefix are currently cached.
func (c *Cache) Len() int {
	return c.n
}

// Limit reports the configured ceiling on cached bytes.
func (c *Cache) Limit() int {
	return c.limit
}

// Read copies up to len(p) bytes starting at file offset off from the
// cache. It returns the number of bytes copied, which is zero if off is
// outside [0, Len()).
func (c *Cache) Read(p []byte, off int) int {
	if off < 0 || off >= c.n {
		return 0
	}
	return copy(p, c.buf[off:c.n])
}

// AddRegion records that bytes[0:k] were just read from the remote resource
// at file offset o. If the region does not extend the cached prefix
// contiguously it is a no-op: the cache only ever grows as a prefix, never
// develops a hole.
func (c *Cache) AddRegion(o int, bytes []byte) {
	k := len(bytes)
	if o >= c.limit || k == 0 {
		return
	}
	if o > c.n {
		// There would be a gap between what we have and what's offered.
		return
	}
	end := o + k
	if end > c.limit {
		end = c.limit
	}
	if end <= c.n {
		// Already covered.
		return
	}
	if c.buf == nil {
		c.buf = make([]byte, c.limit)
	}
	copy(c.buf[o:end], bytes[:end-o])
	c.n = end
}

// Invalidate drops all cached bytes, e.g. after a seek past the cached
// window forces the handle to rediscover the resource from scratch.
func (c *Cache) Invalidate() {
	c.buf = nil
	c.n = 0
}

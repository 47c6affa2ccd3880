package vsicurl

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/docker/vsicurl-streaming/pkg/vsicurl/internal/frontcache"
	"github.com/docker/vsicurl-streaming/pkg/vsicurl/internal/metadata"
	"github.com/docker/vsicurl-streaming/pkg/vsicurl/internal/ringbuffer"
	"github.com/docker/vsicurl-streaming/pkg/vsicurl/internal/telemetry"
	"github.com/docker/vsicurl-streaming/pkg/vsicurl/internal/transfer"
)

// StreamHandle is the user-facing object: a seekable, byte-oriented read
// interface over one URL, backed by a single unbounded network transfer
// whose bytes are buffered in a RingBuffer as they arrive. See spec.md §4.5.
type StreamHandle struct {
	fs  *FileSystem
	url string
	log Logger

	engine *transfer.Engine

	// offset, eof, and frontCache are touched only by the caller goroutine
	// (the consumer); they need no lock, matching spec.md §5's list of
	// handle-lock-guarded fields, which omits them.
	offset     uint64
	eof        bool
	frontCache *frontcache.Cache

	// mu (the "handle lock") guards everything below plus the ring buffer,
	// per spec.md §5. producerSignal wakes a reader blocked for bytes;
	// consumerSignal wakes a worker blocked for ring-buffer space or a
	// stop request.
	mu             sync.Mutex
	producerSignal *sync.Cond
	consumerSignal *sync.Cond

	ring       *ringbuffer.RingBuffer
	ringOrigin uint64 // file offset of the oldest byte currently in ring

	existence          metadata.Existence
	sizeKnown          bool
	size               uint64
	isDirectory        bool
	candidateSize      *uint64
	candidateTrustable bool
	bytesReceived      uint64

	inProgress    bool
	stopped       bool
	stopRequested bool
	cancel        context.CancelFunc
	workerDone    chan struct{}

	closed bool
}

// newStreamHandle constructs a handle for rawURL, mirroring whatever the
// FileSystem's MetadataCache already knows about it.
func newStreamHandle(fs *FileSystem, rawURL string) *StreamHandle {
	h := &StreamHandle{
		fs:         fs,
		url:        rawURL,
		log:        fs.cfg.Logger,
		engine:     fs.engineFor(rawURL),
		frontCache: frontcache.New(fs.cfg.CacheLimit),
		ring:       ringbuffer.New(fs.cfg.RingBufferCapacity),
		stopped:    true,
	}
	h.producerSignal = sync.NewCond(&h.mu)
	h.consumerSignal = sync.NewCond(&h.mu)

	rec := fs.meta.Snapshot(rawURL)
	h.existence = rec.Existence
	h.sizeKnown = rec.SizeKnown
	h.size = rec.Size
	h.isDirectory = rec.IsDirectory
	return h
}

// Tell returns the current logical read position.
func (h *StreamHandle) Tell() uint64 {
	return h.offset
}

// Eof reports whether the handle has reached end-of-file.
func (h *StreamHandle) Eof() bool {
	return h.eof
}

// Seek computes a new offset per whence (io.SeekStart/Current/End) and
// never fails. If the handle has read past the front-cache window, the
// cache is invalidated and the known size is forgotten so a fresh transfer
// can rediscover the resource (spec.md §4.5).
func (h *StreamHandle) Seek(pos int64, whence int) uint64 {
	h.mu.Lock()
	size := h.size
	h.mu.Unlock()

	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = pos
	case io.SeekCurrent:
		newOffset = int64(h.offset) + pos
	case io.SeekEnd:
		newOffset = int64(size) + pos
	}
	if newOffset < 0 {
		newOffset = 0
	}

	// Strictly greater than CacheLimit: an offset sitting exactly at the
	// window's edge has only just exhausted the cached prefix, not moved
	// past it, and a seek back to zero should still hit the cache spec.md
	// §8 scenario 6 describes.
	beyondWindow := h.offset > uint64(h.fs.cfg.CacheLimit)
	h.offset = uint64(newOffset)
	h.eof = false

	if beyondWindow {
		h.frontCache.Invalidate()
		h.mu.Lock()
		h.sizeKnown = false
		h.candidateSize = nil
		h.candidateTrustable = false
		h.mu.Unlock()
	}
	return h.offset
}

// Read is the master read routine described in spec.md §4.5.
func (h *StreamHandle) Read(p []byte) (n int, err error) {
	defer func() {
		if n > 0 {
			telemetry.Default.AddBytesDelivered(int64(n))
		}
	}()

	if h.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	h.mu.Lock()
	if h.sizeKnown && h.offset >= h.size {
		h.mu.Unlock()
		h.eof = true
		return 0, io.EOF
	}
	h.mu.Unlock()

	// Step 2: if the producer has moved past us (stale from a backward
	// seek that hasn't restarted the transfer yet), salvage whatever ring
	// bytes are still useful into the front cache before we fall through
	// to the restart logic below.
	h.mu.Lock()
	if h.offset < h.ringOrigin && h.ring.Len() > 0 {
		salvage := make([]byte, h.ring.Len())
		n := h.ring.Read(salvage)
		h.frontCache.AddRegion(int(h.ringOrigin), salvage[:n])
		h.ringOrigin += uint64(n)
	}
	h.mu.Unlock()

	delivered := 0

	// Step 3: serve whatever prefix of the request the front cache covers.
	if h.offset < uint64(h.frontCache.Len()) {
		n := h.frontCache.Read(p[delivered:], int(h.offset))
		delivered += n
		h.offset += uint64(n)
		if n > 0 {
			telemetry.Default.AddFrontCacheHit()
		}
	}
	if delivered == len(p) {
		return delivered, nil
	}

	// Step 4: if size is known and the front cache already covers exactly
	// the whole resource, a request straddling the end is satisfied
	// entirely from the cache and hits EOF without touching the network.
	h.mu.Lock()
	sizeKnown, size := h.sizeKnown, h.size
	h.mu.Unlock()
	if sizeKnown && uint64(h.frontCache.Len()) == size && h.offset >= size {
		h.eof = true
		if delivered > 0 {
			return delivered, nil
		}
		return 0, io.EOF
	}

	// Steps 5-6: align the ring buffer to the current offset, restarting
	// the transfer if a seek moved us, then make sure a transfer is
	// running at all.
	if err := h.alignForRead(); err != nil {
		if delivered > 0 {
			return delivered, nil
		}
		return 0, err
	}
	if h.eof && delivered == 0 {
		return 0, io.EOF
	} else if h.eof {
		return delivered, nil
	}

	// Step 7: drain bytes from the ring buffer into the caller's buffer,
	// recording each span into the front cache, until the request is
	// satisfied or the transfer ends with the buffer empty.
	for delivered < len(p) {
		h.mu.Lock()
		for h.ring.Len() == 0 && h.inProgress {
			h.producerSignal.Wait()
		}
		if h.ring.Len() == 0 && !h.inProgress {
			h.mu.Unlock()
			h.eof = true
			break
		}
		n := h.ring.Read(p[delivered:])
		h.frontCache.AddRegion(int(h.ringOrigin), p[delivered:delivered+n])
		h.ringOrigin += uint64(n)
		h.consumerSignal.Broadcast()
		h.mu.Unlock()

		delivered += n
		h.offset += uint64(n)

		h.mu.Lock()
		known, sz := h.sizeKnown, h.size
		h.mu.Unlock()
		if known && h.offset >= sz {
			h.eof = true
			break
		}
	}

	if h.eof && delivered < len(p) {
		return delivered, io.EOF
	}
	return delivered, nil
}

// alignForRead implements spec.md §4.5 steps 5-6: if the caller's offset
// doesn't match the ring buffer's origin, a seek has happened since the
// last read, so the transfer is restarted (backward) or drained-and-
// discarded up to the new offset (forward). It always ensures a transfer
// is running by the time it returns (unless the transfer ended early).
func (h *StreamHandle) alignForRead() error {
	h.mu.Lock()
	needsRestart := h.offset < h.ringOrigin
	misaligned := h.offset != h.ringOrigin
	h.mu.Unlock()

	if needsRestart {
		h.stopAndJoin()
		h.mu.Lock()
		h.ring.Reset()
		h.ringOrigin = 0
		h.mu.Unlock()
	}

	if err := h.ensureTransferRunning(); err != nil {
		return err
	}

	if !misaligned {
		return nil
	}

	skip := make([]byte, h.fs.cfg.SkipBufferSize)
	for {
		h.mu.Lock()
		if h.ringOrigin == h.offset {
			h.mu.Unlock()
			return nil
		}
		for h.ring.Len() == 0 && h.inProgress {
			h.producerSignal.Wait()
		}
		if h.ring.Len() == 0 && !h.inProgress {
			h.mu.Unlock()
			h.eof = true
			return nil
		}
		want := h.offset - h.ringOrigin
		n := len(skip)
		if uint64(n) > want {
			n = int(want)
		}
		discarded := h.ring.Read(skip[:n])
		h.frontCache.AddRegion(int(h.ringOrigin), skip[:discarded])
		h.ringOrigin += uint64(discarded)
		h.consumerSignal.Broadcast()
		h.mu.Unlock()
	}
}

// ensureTransferRunning starts the worker if it is not already active.
func (h *StreamHandle) ensureTransferRunning() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inProgress {
		return nil
	}
	h.inProgress = true
	h.stopped = false
	h.stopRequested = false
	h.bytesReceived = 0
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	done := make(chan struct{})
	h.workerDone = done
	telemetry.Default.TransferStarted()
	go h.runTransfer(ctx, done)
	return nil
}

// runTransfer is the worker (producer) goroutine body.
func (h *StreamHandle) runTransfer(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer telemetry.Default.TransferEnded()

	err := h.engine.RunGet(ctx, h.url, h.onHeader, h.onBody)

	h.mu.Lock()
	if err != nil && h.log != nil {
		h.log.WithError(err).WithField("url", h.url).Debug("vsicurl: transfer ended")
	}
	if !h.stopped && !h.sizeKnown {
		h.size = h.bytesReceived
		h.sizeKnown = true
		h.publishSizeLocked()
	}
	h.inProgress = false
	h.stopped = true
	h.producerSignal.Broadcast()
	h.mu.Unlock()
}

// onHeader is the header callback of spec.md §4.4, invoked synchronously
// from the worker goroutine once per hop.
func (h *StreamHandle) onHeader(ev transfer.HeaderEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !ev.Redirected && h.existence == metadata.Unknown {
		if ev.StatusCode == 200 {
			h.existence = metadata.Yes
		} else {
			h.existence = metadata.No
		}
		h.publishExistenceLocked()
	}

	if !ev.Redirected && !h.sizeKnown {
		if ev.CandidateSize != nil {
			sz := uint64(*ev.CandidateSize)
			h.candidateSize = &sz
		}
		h.candidateTrustable = ev.CandidateTrustable
	}
}

// onBody is the body callback of spec.md §4.4, invoked synchronously from
// the worker goroutine with each chunk the transport delivers.
func (h *StreamHandle) onBody(chunk []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bytesReceived += uint64(len(chunk))

	if h.candidateTrustable && h.candidateSize != nil && !h.sizeKnown {
		h.size = *h.candidateSize
		h.sizeKnown = true
		h.publishSizeLocked()
	}
	if h.existence == metadata.Unknown {
		h.existence = metadata.Yes
		h.publishExistenceLocked()
	}
	if h.existence == metadata.No {
		return true
	}

	remaining := chunk
	for len(remaining) > 0 {
		if h.stopRequested {
			return true
		}
		free := h.ring.Free()
		if free == 0 {
			h.consumerSignal.Wait()
			continue
		}
		n := len(remaining)
		if n > free {
			n = free
		}
		if _, err := h.ring.Write(remaining[:n]); err != nil {
			// Programming error per spec.md §7 item 5: we computed n from
			// Free() under the same lock, so this should not happen.
			return true
		}
		remaining = remaining[n:]
		h.producerSignal.Broadcast()
	}
	return false
}

// publishExistenceLocked and publishSizeLocked copy the handle's local
// mirror into the process-wide MetadataRecord. Called with h.mu held; they
// briefly take the MetadataCache lock, which is the only lock composition
// spec.md §5 permits.
func (h *StreamHandle) publishExistenceLocked() {
	existence := h.existence
	h.fs.meta.Mutate(h.url, func(r *metadata.Record) {
		r.Existence = existence
	})
}

func (h *StreamHandle) publishSizeLocked() {
	size, known := h.size, h.sizeKnown
	h.fs.meta.Mutate(h.url, func(r *metadata.Record) {
		r.SizeKnown = known
		r.Size = size
	})
}

// stopAndJoin requests the worker stop (if one is running) and waits for
// it to exit, without holding h.mu while waiting — the worker needs the
// lock to record its own exit.
func (h *StreamHandle) stopAndJoin() {
	h.mu.Lock()
	var done chan struct{}
	if h.inProgress {
		h.stopRequested = true
		h.consumerSignal.Broadcast()
		if h.cancel != nil {
			h.cancel()
		}
		done = h.workerDone
	}
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Exists reports whether the resource is known to exist, probing the
// network only if existence is still Unknown (spec.md §4.5).
func (h *StreamHandle) Exists() bool {
	h.mu.Lock()
	existence := h.existence
	h.mu.Unlock()
	if existence != metadata.Unknown {
		return existence == metadata.Yes
	}

	if !h.allowedByExtension() {
		h.mu.Lock()
		h.existence = metadata.No
		h.publishExistenceLocked()
		h.mu.Unlock()
		return false
	}

	_ = h.fs.meta.Probe(h.url, func() error {
		return h.probeSize()
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.existence == metadata.Unknown {
		// Re-sync from the shared record in case another handle's probe
		// (collapsed by singleflight) published the answer.
		rec := h.fs.meta.Snapshot(h.url)
		h.existence = rec.Existence
	}
	return h.existence == metadata.Yes
}

// allowedByExtension implements the CPL_VSIL_CURL_ALLOWED_EXTENSIONS fast
// negative: if configured, a URL whose full suffix (including any query
// string, per spec.md §9) doesn't match is rejected without a probe.
func (h *StreamHandle) allowedByExtension() bool {
	if len(h.fs.cfg.AllowedExtensions) == 0 {
		return true
	}
	for _, ext := range h.fs.cfg.AllowedExtensions {
		if strings.HasSuffix(h.url, ext) {
			return true
		}
	}
	return false
}

// GetFileSize returns the resource's size, probing the network if it is
// not already known (spec.md §4.5).
func (h *StreamHandle) GetFileSize() (uint64, error) {
	h.mu.Lock()
	if h.sizeKnown {
		size := h.size
		h.mu.Unlock()
		return size, nil
	}
	h.mu.Unlock()

	err := h.fs.meta.Probe(h.url, func() error {
		return h.probeSize()
	})
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.sizeKnown {
		rec := h.fs.meta.Snapshot(h.url)
		if rec.SizeKnown {
			h.sizeKnown, h.size, h.isDirectory = true, rec.Size, rec.IsDirectory
		}
	}
	return h.size, nil
}

// probeSize issues the metadata probe described in spec.md §4.5: HEAD where
// possible, otherwise a header-only GET; it classifies the resource as a
// directory when the handle's own URL path ends in a slash. The URL reached
// after redirects is not consulted for this.
func (h *StreamHandle) probeSize() error {
	ctx := context.Background()
	var ev transfer.HeaderEvent
	onHeader := func(e transfer.HeaderEvent) { ev = e }

	var err error
	if h.rejectsHead() {
		err = h.engine.RunGetHeadersOnly(ctx, h.url, onHeader)
	} else {
		err = h.engine.RunHead(ctx, h.url, onHeader)
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.StatusCode != 200 {
		if h.existence == metadata.Unknown {
			h.existence = metadata.No
			h.publishExistenceLocked()
		}
		return nil
	}
	if h.existence == metadata.Unknown {
		h.existence = metadata.Yes
		h.publishExistenceLocked()
	}
	if isDirectoryURL(h.url) {
		h.isDirectory = true
		h.size = 0
		h.sizeKnown = true
	} else if ev.CandidateSize != nil && ev.CandidateTrustable {
		h.size = uint64(*ev.CandidateSize)
		h.sizeKnown = true
	}
	if h.sizeKnown {
		h.publishSizeLocked()
		h.fs.meta.Mutate(h.url, func(r *metadata.Record) { r.IsDirectory = h.isDirectory })
	}
	return nil
}

// rejectsHead reports whether the configured opt-in list matches this
// handle's URL, per spec.md §4.5's "known servers that reject HEAD".
func (h *StreamHandle) rejectsHead() bool {
	for _, substr := range h.fs.cfg.RejectsHeadSubstrings {
		if strings.Contains(h.url, substr) {
			return true
		}
	}
	return false
}

// isDirectoryURL reports whether u's path, once parsed, ends in a slash;
// probeSize uses it as its directory classification signal.
func isDirectoryURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return strings.HasSuffix(u, "/")
	}
	return strings.HasSuffix(parsed.Path, "/")
}

// Close stops any in-flight transfer, joins the worker, and releases the
// handle's buffers. The MetadataRecord itself persists.
func (h *StreamHandle) Close() error {
	if h.closed {
		return nil
	}
	h.stopAndJoin()
	h.closed = true
	h.ring = nil
	h.frontCache = nil
	return nil
}

// ReadRecords implements the "Read(size, count) -> count" shape of the
// handle contract in spec.md §6: it reads up to size*count bytes and
// returns the number of complete size-byte records delivered.
func (h *StreamHandle) ReadRecords(buf []byte, size, count int) (int, error) {
	want := size * count
	if want > len(buf) {
		want = len(buf)
	}
	delivered := 0
	for delivered < want {
		n, err := h.Read(buf[delivered:want])
		delivered += n
		if n == 0 || err != nil {
			break
		}
	}
	if size == 0 {
		return 0, nil
	}
	return delivered / size, nil
}

// Write always fails: this core never writes to remote resources
// (spec.md §1 Non-goals, §7 item 3).
func (h *StreamHandle) Write([]byte) (int, error) {
	return 0, fmt.Errorf("%w: %s", ErrWriteUnsupported, h.url)
}

// Flush is a no-op; there is nothing to flush on a read-only handle.
func (h *StreamHandle) Flush() error {
	return nil
}

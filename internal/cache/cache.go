// Package cache implements the spec §4.3 page cache: a pass-through
// identity cache with a per-transaction dirty-page buffer holding decoded
// (kind, body) pairs, not yet encoded blocks — a dirty page is only
// encoded and written at commit (spec §4.7 step 2). Reads consult the
// dirty map first, then fall through to the device+codec. A real LRU is
// future work; this interface is shaped so adding one later does not
// change the engine's contract with it.
package cache

import "github.com/digby-db/digby/internal/page"

// Device is the subset of *device.Device the cache needs.
type Device interface {
	Read(pageNo uint64) ([]byte, error)
}

// Codec is the subset of *page.Codec the cache needs to turn a raw,
// on-disk block back into a decoded body for a clean (non-dirty) page.
type Codec interface {
	Decode(pageNo uint64, block []byte, rawLen int) (page.Header, []byte, error)
	BodyCapacity() int
}

// Dirty is one transaction's buffered write: a page kind and its decoded
// body, staged for encoding at commit.
type Dirty struct {
	Kind page.Kind
	Body []byte
}

// Cache buffers pages written by the current transaction and serves reads
// from that buffer before falling through to codec+device.
type Cache struct {
	dev   Device
	codec Codec
	dirty map[uint64]Dirty
}

// New wraps dev/codec with an empty dirty-page buffer.
func New(dev Device, codec Codec) *Cache {
	return &Cache{dev: dev, codec: codec, dirty: make(map[uint64]Dirty)}
}

// Read returns the decoded (kind, body) of pageNo: the dirty-buffer copy
// if the current transaction has written one, else the on-disk copy
// decoded through the codec.
func (c *Cache) Read(pageNo uint64) (page.Kind, []byte, error) {
	if d, ok := c.dirty[pageNo]; ok {
		return d.Kind, d.Body, nil
	}
	block, err := c.dev.Read(pageNo)
	if err != nil {
		return 0, nil, err
	}
	h, body, err := c.codec.Decode(pageNo, block, c.codec.BodyCapacity())
	if err != nil {
		return 0, nil, err
	}
	return h.Kind, body, nil
}

// Put buffers (kind, body) as the dirty content of pageNo, to be encoded
// and drained to the device at commit. It does not touch the device.
func (c *Cache) Put(pageNo uint64, kind page.Kind, body []byte) {
	c.dirty[pageNo] = Dirty{Kind: kind, Body: body}
}

// DirtyPages returns the current transaction's dirty-page buffer. The
// caller (internal/txn) owns draining it to the device in commit order
// and must not retain the map past commit.
func (c *Cache) DirtyPages() map[uint64]Dirty { return c.dirty }

// Reset clears the dirty buffer, used after a successful commit or an
// aborted transaction (spec §5: dropping a transaction releases its dirty
// map with no file state changed).
func (c *Cache) Reset() {
	c.dirty = make(map[uint64]Dirty)
}

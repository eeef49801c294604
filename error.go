package digby

import "errors"

// Error kinds surfaced by the package. Every error digby returns wraps
// exactly one of these with fmt.Errorf("%w: ..."), so callers discriminate
// with errors.Is.
var (
	// ErrIo is a storage I/O failure propagated verbatim from the device.
	ErrIo = errors.New("io")

	// ErrIntegrity means a page's checksum or AEAD tag failed to verify,
	// or a decoded header's page_no did not match the slot it was read
	// from. Never silently recovered.
	ErrIntegrity = errors.New("integrity")

	// ErrFormat means a meta page's magic, version, page size, or codec
	// flags are unsupported or mismatched against how the store was opened.
	ErrFormat = errors.New("format")

	// ErrKeyTooLarge and ErrValueTooLarge mean an item exceeded the 4 GiB
	// per-item limit.
	ErrKeyTooLarge   = errors.New("key too large")
	ErrValueTooLarge = errors.New("value too large")

	// ErrTableExists and ErrTableMissing guard create_table/drop_table.
	ErrTableExists  = errors.New("table exists")
	ErrTableMissing = errors.New("table missing")

	// ErrExhausted means next_page_no would overflow uint64.
	ErrExhausted = errors.New("page numbers exhausted")

	// ErrClosed means an operation was attempted after Close.
	ErrClosed = errors.New("closed")

	// ErrReadOnly means a mutation was attempted on a store opened read-only.
	ErrReadOnly = errors.New("read-only")

	// ErrNotFound is returned by internal lookups; the façade turns it
	// into a (nil, nil) result rather than surfacing it from Get.
	ErrNotFound = errors.New("not found")
)

package btree

import "errors"

// Local sentinels. The façade maps these onto digby's public error kinds
// at the API boundary via errors.Is.
var (
	ErrNotFound     = errors.New("btree: not found")
	ErrKeyTooLarge  = errors.New("btree: key exceeds 4 GiB")
	ErrValueTooLarge = errors.New("btree: value exceeds 4 GiB")
	ErrCorrupt      = errors.New("btree: tree structure inconsistent")
)

// maxItemSize is the spec §1/§6 4 GiB ceiling on a single key or value.
const maxItemSize = 1<<32 - 1

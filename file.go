// Package digby is an embedded key-value store persisted to a single
// regular file, organized as a global B+ tree plus a namespace of
// independently rooted B+ trees ("tables"). See SPEC_FULL.md for the full
// design; this file declares the storage abstraction every layer below the
// façade is built against.
package digby

import "io"

// File is the minimum storage backend digby needs: positioned reads and
// writes, explicit durability, and the ability to grow. *os.File satisfies
// it directly; mem.File satisfies it for tests without touching disk.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate changes the size of the file. digby only ever grows a
	// file (append_reserve in spec §4.2); Truncate exists so File stays
	// a drop-in replacement for *os.File rather than a narrower shim.
	Truncate(size int64) error

	// Sync commits everything written so far to stable storage. Every
	// commit issues two Sync calls (spec §4.7's barrier #1 and #2); a
	// File that cannot honor Sync cannot honor digby's durability
	// contract.
	Sync() error
}

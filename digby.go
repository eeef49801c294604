package digby

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/digby-db/digby/btree"
	"github.com/digby-db/digby/internal/cache"
	"github.com/digby-db/digby/internal/device"
	"github.com/digby-db/digby/internal/freepage"
	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
	"github.com/digby-db/digby/internal/txn"
)

// DB is an open digby store: one file, one global B+ tree, one table
// directory tree, and the commit machinery gluing them to the file (spec
// §4.8). A DB is not safe for concurrent use by multiple goroutines; the
// spec's concurrency model (§5) is single-threaded and synchronous, so
// the internal mutex only serializes calls under accidental concurrent
// use; it is not a supported concurrency model (teacher: internal/heap.Heap's
// own mutex serves the same guard role).
type DB struct {
	mu sync.Mutex

	file     File
	dev      *device.Device
	codec    *page.Codec
	cache    *cache.Cache
	store    *txn.Store
	alloc    *freepage.Manager
	logger   *zap.Logger
	readOnly bool
	closed   bool

	global *btree.Tree
	tables *btree.Tree
}

// Open opens or creates the store at path (spec §6's constructor inputs).
// A path that does not yet exist is formatted; an existing one is
// validated against the requested page size, compressor, and encryption
// key and opened at its current meta.
func Open(path string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	flags := os.O_RDWR | os.O_CREATE
	if o.readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIo, path, err)
	}

	db, err := open(f, o)
	if err != nil {
		f.Close()
		return nil, err
	}
	return db, nil
}

// OpenFile is Open over a caller-supplied File rather than a filesystem
// path, for embedders that already own their backing storage (and for
// tests, which use mem.File to exercise the store without touching
// disk). It applies the same option validation and format/reopen logic
// as Open.
func OpenFile(f File, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	return open(f, o)
}

// open builds a DB over an already-opened File. It is the shared
// constructor behind Open and OpenFile; mem.File-backed tests reach it
// through OpenFile, so no test ever touches the filesystem.
func open(f File, o options) (*DB, error) {
	dev := device.New(f, int(o.pageSize))

	codec, err := page.New(int(o.pageSize), page.Compressor(o.compressor), o.key)
	if err != nil {
		return nil, mapErr(err)
	}
	c := cache.New(dev, codec)

	encryptionID := uint8(0)
	if o.key != nil {
		encryptionID = 1
	}

	// A store's meta pages occupy a full page each; a file too short to
	// hold page 0 has never been formatted (spec §6's "on first open").
	_, probeErr := dev.Read(0)
	brandNew := errors.Is(probeErr, device.ErrOutOfRange)

	var store *txn.Store
	if brandNew {
		if o.readOnly {
			return nil, fmt.Errorf("%w: cannot format a new store read-only", ErrReadOnly)
		}
		store, err = txn.Format(dev, codec, c, o.pageSize, uint8(o.compressor), encryptionID)
		if err != nil {
			return nil, mapErr(err)
		}
	} else {
		store, err = txn.Open(dev, codec, c)
		if err != nil {
			return nil, mapErr(err)
		}
		meta := store.Current()
		if meta.PageSize != o.pageSize || meta.CompressorID != uint8(o.compressor) || meta.EncryptionID != encryptionID {
			return nil, fmt.Errorf("%w: store was formatted with page_size=%d compressor=%d encryption=%d, opened with page_size=%d compressor=%d encryption=%d",
				ErrFormat, meta.PageSize, meta.CompressorID, meta.EncryptionID, o.pageSize, uint8(o.compressor), encryptionID)
		}
	}

	meta := store.Current()
	alloc := freepage.New(c, codec.BodyCapacity(), meta.FreelistRoot, meta.NextPageNo, meta.TreeVersion)
	if err := alloc.BeginTxn(); err != nil {
		return nil, mapErr(err)
	}

	db := &DB{
		file:     f,
		dev:      dev,
		codec:    codec,
		cache:    c,
		store:    store,
		alloc:    alloc,
		logger:   o.logger,
		readOnly: o.readOnly,
		global:   btree.Open(c, alloc, codec.BodyCapacity(), meta.GlobalRoot, meta.TreeVersion),
		tables:   btree.Open(c, alloc, codec.BodyCapacity(), meta.TablesRoot, meta.TreeVersion),
	}
	return db, nil
}

// mutate runs fn against trees rebuilt at this transaction's target
// tree_version and, on success, commits every tree's resulting root in a
// single step (spec §4.8: "cross-tree transactions are one commit"). On
// any error the cache's dirty buffer is discarded and no meta is written,
// matching spec §5's cancellation semantics.
func (db *DB) mutate(fn func(global, tables *btree.Tree, version uint64) error) error {
	if db.closed {
		return fmt.Errorf("%w", ErrClosed)
	}
	if db.readOnly {
		return fmt.Errorf("%w", ErrReadOnly)
	}

	meta := db.store.Current()
	newVersion := meta.TreeVersion + 1
	capacity := db.codec.BodyCapacity()
	global := btree.Open(db.cache, db.alloc, capacity, meta.GlobalRoot, newVersion)
	tables := btree.Open(db.cache, db.alloc, capacity, meta.TablesRoot, newVersion)

	if err := fn(global, tables, newVersion); err != nil {
		db.cache.Reset()
		return mapErr(err)
	}

	if err := db.store.Commit(db.alloc, global.Root(), tables.Root()); err != nil {
		db.cache.Reset()
		return mapErr(err)
	}
	if err := db.alloc.BeginTxn(); err != nil {
		return mapErr(err)
	}

	newMeta := db.store.Current()
	db.global = btree.Open(db.cache, db.alloc, capacity, newMeta.GlobalRoot, newMeta.TreeVersion)
	db.tables = btree.Open(db.cache, db.alloc, capacity, newMeta.TablesRoot, newMeta.TreeVersion)
	db.logger.Debug("commit",
		zap.Uint64("tree_version", newMeta.TreeVersion),
		zap.Uint64("commit_seq", newMeta.CommitSeq),
	)
	return nil
}

// Put inserts key/val, or replaces val if key is already present, and
// commits the change before returning (spec §6).
func (db *DB) Put(key, val []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.mutate(func(global, _ *btree.Tree, _ uint64) error {
		return global.Put(key, val)
	})
}

// Get returns the value stored for key, or (nil, nil) if key is absent.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, fmt.Errorf("%w", ErrClosed)
	}
	val, err := db.global.Get(key)
	if err != nil {
		if errors.Is(err, btree.ErrNotFound) {
			return nil, nil
		}
		return nil, mapErr(err)
	}
	return val, nil
}

// All visits every key/value pair in the global tree in strictly
// ascending key order (spec §8.3), the in-order traversal the tree
// naturally supports; it is not a seekable cursor (spec §1's Non-goals
// exclude range/scan cursors beyond this). fn's error aborts the walk
// and is returned as-is.
func (db *DB) All(fn func(key, val []byte) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return fmt.Errorf("%w", ErrClosed)
	}
	return mapErr(db.global.Each(fn))
}

// Delete removes key, reporting whether it was present. A miss commits
// nothing (spec §6: "true if present").
func (db *DB) Delete(key []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, fmt.Errorf("%w", ErrClosed)
	}
	if _, err := db.global.Get(key); err != nil {
		if errors.Is(err, btree.ErrNotFound) {
			return false, nil
		}
		return false, mapErr(err)
	}
	if err := db.mutate(func(global, _ *btree.Tree, _ uint64) error {
		return global.Delete(key)
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the file handle and zeroizes the retained encryption key
// (spec §5). Close is idempotent; every put/get/delete is already a
// committed transaction by the time it returns, so Close has no pending
// transaction to flush.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	db.codec.Zeroize()
	if err := db.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIo, err)
	}
	return nil
}

// mapErr translates a lower-layer sentinel into the public error kind a
// caller discriminates against with errors.Is, wrapping the original
// error for context (spec §7's propagation policy).
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrTableExists), errors.Is(err, ErrTableMissing),
		errors.Is(err, ErrClosed), errors.Is(err, ErrReadOnly):
		return err
	case errors.Is(err, btree.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, btree.ErrKeyTooLarge):
		return fmt.Errorf("%w: %v", ErrKeyTooLarge, err)
	case errors.Is(err, btree.ErrValueTooLarge):
		return fmt.Errorf("%w: %v", ErrValueTooLarge, err)
	case errors.Is(err, freepage.ErrExhausted):
		return fmt.Errorf("%w: %v", ErrExhausted, err)
	case errors.Is(err, page.ErrIntegrity):
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	case errors.Is(err, page.ErrFormat), errors.Is(err, txn.ErrFormat):
		return fmt.Errorf("%w: %v", ErrFormat, err)
	case errors.Is(err, btree.ErrCorrupt):
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	default:
		return fmt.Errorf("%w: %v", ErrIo, err)
	}
}

// reachable walks every page reachable from root — an Internal/Leaf tree
// plus any overflow chains its leaf entries point at — and marks it in
// set. Used by ScanOrphans; it never mutates anything.
func (db *DB) reachable(root uint64, set map[uint64]bool) error {
	if root == 0 {
		return nil
	}
	kind, body, err := db.cache.Read(root)
	if err != nil {
		return err
	}
	set[root] = true
	switch kind {
	case page.KindInternal:
		node, err := pageformat.DecodeInternal(body)
		if err != nil {
			return err
		}
		if err := db.reachable(node.FirstChild, set); err != nil {
			return err
		}
		for _, c := range node.Children {
			if err := db.reachable(c, set); err != nil {
				return err
			}
		}
	case page.KindLeaf:
		leaf, err := pageformat.DecodeLeaf(body)
		if err != nil {
			return err
		}
		for _, e := range leaf.Entries {
			if e.Key.Overflow {
				if err := db.walkOverflowChain(e.Key.Head, set); err != nil {
					return err
				}
			}
			if e.Val.Overflow {
				if err := db.walkOverflowChain(e.Val.Head, set); err != nil {
					return err
				}
			}
		}
	case page.KindFree:
		// A freelist leaf's records name pages that are legitimately
		// unreferenced by any live tree right now; that is the point of
		// the freelist, not a leak, so mark each named page_no live too
		// (spec §8.8 must not conflate a tracked free page with an
		// orphan from an interrupted commit).
		fl, err := pageformat.DecodeFreeList(body)
		if err != nil {
			return err
		}
		for _, r := range fl.Records {
			set[r.PageNo] = true
		}
	default:
		return fmt.Errorf("digby: unexpected page kind %v at page %d during scan", kind, root)
	}
	return nil
}

func (db *DB) walkOverflowChain(head uint64, set map[uint64]bool) error {
	pn := head
	for pn != 0 {
		if set[pn] {
			return nil
		}
		kind, body, err := db.cache.Read(pn)
		if err != nil {
			return err
		}
		if kind != page.KindOverflow {
			return fmt.Errorf("digby: expected overflow page at %d, got %v", pn, kind)
		}
		set[pn] = true
		ov, err := pageformat.DecodeOverflow(body)
		if err != nil {
			return err
		}
		pn = ov.Next
	}
	return nil
}

func (db *DB) materializeRepr(r pageformat.Repr) ([]byte, error) {
	if !r.Overflow {
		return r.Inline, nil
	}
	buf := make([]byte, 0, r.FullLen)
	pn := r.Head
	for pn != 0 {
		kind, body, err := db.cache.Read(pn)
		if err != nil {
			return nil, err
		}
		if kind != page.KindOverflow {
			return nil, fmt.Errorf("digby: expected overflow page at %d, got %v", pn, kind)
		}
		ov, err := pageformat.DecodeOverflow(body)
		if err != nil {
			return nil, err
		}
		buf = append(buf, ov.Chunk...)
		pn = ov.Next
	}
	return buf, nil
}

// walkTableRecords visits every (name, record) pair stored in the tables
// tree rooted at root, in key order.
func (db *DB) walkTableRecords(root uint64, fn func(name []byte, rec tableRecord) error) error {
	if root == 0 {
		return nil
	}
	kind, body, err := db.cache.Read(root)
	if err != nil {
		return err
	}
	switch kind {
	case page.KindInternal:
		node, err := pageformat.DecodeInternal(body)
		if err != nil {
			return err
		}
		if err := db.walkTableRecords(node.FirstChild, fn); err != nil {
			return err
		}
		for _, c := range node.Children {
			if err := db.walkTableRecords(c, fn); err != nil {
				return err
			}
		}
		return nil
	case page.KindLeaf:
		leaf, err := pageformat.DecodeLeaf(body)
		if err != nil {
			return err
		}
		for _, e := range leaf.Entries {
			name, err := db.materializeRepr(e.Key)
			if err != nil {
				return err
			}
			val, err := db.materializeRepr(e.Val)
			if err != nil {
				return err
			}
			rec, err := decodeTableRecord(val)
			if err != nil {
				return err
			}
			if err := fn(name, rec); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("digby: unexpected page kind %v at page %d in tables tree", kind, root)
	}
}

// ScanOrphans reports page numbers below the current meta's next_page_no
// that are unreachable from the global tree, the tables tree, every
// table's own tree, or the freelist (spec §4.7: a crash between the two
// commit barriers can leave step-2 writes dangling this way; the original
// implementation's db.rs startup scan treats them as leaks rather than an
// integrity failure, and so does this). Read-only: it never frees or
// otherwise touches anything it finds.
func (db *DB) ScanOrphans() ([]uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, fmt.Errorf("%w", ErrClosed)
	}

	meta := db.store.Current()
	live := map[uint64]bool{0: true, 1: true}
	if err := db.reachable(meta.GlobalRoot, live); err != nil {
		return nil, mapErr(err)
	}
	if err := db.reachable(meta.TablesRoot, live); err != nil {
		return nil, mapErr(err)
	}
	if err := db.reachable(meta.FreelistRoot, live); err != nil {
		return nil, mapErr(err)
	}
	if err := db.walkTableRecords(meta.TablesRoot, func(_ []byte, rec tableRecord) error {
		return db.reachable(rec.root, live)
	}); err != nil {
		return nil, mapErr(err)
	}

	var orphans []uint64
	for pn := uint64(2); pn < meta.NextPageNo; pn++ {
		if !live[pn] {
			orphans = append(orphans, pn)
		}
	}
	return orphans, nil
}

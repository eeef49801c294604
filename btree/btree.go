// Package btree implements the spec §4.6 B+ tree engine over the page
// formats in internal/pageformat: search, bottom-up split-on-insert,
// rebalance-free deletion with root collapse, overflow-chain spill for
// oversized keys/values, and long-key digesting. It has no notion of
// commit protocol or meta pages — it only ever asks its Allocator for a
// fresh page number and registers pages as dirty or free; internal/txn
// decides when those become durable.
package btree

import (
	"bytes"
	"fmt"

	"github.com/digby-db/digby/internal/cache"
	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

// Allocator is the free-page manager's contract with the engine (spec
// §4.4): mint a page number, or mark one as no longer referenced by the
// transaction's new tree shape.
type Allocator interface {
	Allocate() (uint64, error)
	Free(pageNo uint64)
}

// Tree is one B+ tree rooted at a page number that the caller (the
// façade's global tree, tables tree, or a user table) persists elsewhere.
// A Tree is only valid for the lifetime of one transaction: Root reflects
// in-memory edits immediately, but nothing is durable until the owning
// transaction commits.
type Tree struct {
	cache       *cache.Cache
	alloc       Allocator
	capacity    int // codec.BodyCapacity()
	root        uint64
	treeVersion uint64 // stamped on every leaf entry this transaction writes
}

// Open attaches to an existing tree (root may be 0 for an empty tree).
func Open(c *cache.Cache, alloc Allocator, capacity int, root uint64, treeVersion uint64) *Tree {
	return &Tree{cache: c, alloc: alloc, capacity: capacity, root: root, treeVersion: treeVersion}
}

// Root returns the tree's current root page number (0 if empty).
func (t *Tree) Root() uint64 { return t.root }

func (t *Tree) overflowThreshold() int {
	th := t.capacity / 4
	if th < 256 {
		th = 256
	}
	return th
}

func (t *Tree) readPage(pn uint64) (page.Kind, []byte, error) {
	kind, body, err := t.cache.Read(pn)
	if err != nil {
		return 0, nil, fmt.Errorf("btree: read page %d: %w", pn, err)
	}
	return kind, body, nil
}

// keyRepr builds the on-disk representation for key, digesting and
// spilling to an overflow chain when it exceeds the inline threshold.
func (t *Tree) keyRepr(key []byte) (pageformat.Repr, error) {
	cmpKey, digested := comparisonKeyFor(key)
	if !digested {
		return pageformat.Inline(cmpKey), nil
	}
	head, fullLen, err := t.writeOverflow(key)
	if err != nil {
		return pageformat.Repr{}, err
	}
	return pageformat.Digest(cmpKey, head, fullLen), nil
}

// valRepr builds the on-disk representation for val, spilling to an
// overflow chain when it exceeds the per-page inline threshold (spec
// §4.6's max(256B, P/4) rule).
func (t *Tree) valRepr(val []byte) (pageformat.Repr, error) {
	if len(val) <= t.overflowThreshold() {
		return pageformat.Inline(val), nil
	}
	head, fullLen, err := t.writeOverflow(val)
	if err != nil {
		return pageformat.Repr{}, err
	}
	return pageformat.OverflowRepr(head, fullLen), nil
}

// materialize resolves a Repr back to its bytes, reading the overflow
// chain if necessary.
func (t *Tree) materialize(r pageformat.Repr) ([]byte, error) {
	if !r.Overflow {
		return r.Inline, nil
	}
	return t.readOverflow(r.Head, r.FullLen)
}

// freeRepr releases whatever a Repr occupies beyond the leaf page itself.
func (t *Tree) freeRepr(r pageformat.Repr) error {
	if !r.Overflow {
		return nil
	}
	return t.freeOverflow(r.Head)
}

// cmp is the comparator every page format in this package sorts by:
// unsigned lexicographic byte order, which bytes.Compare already
// implements (spec §1: "keys compare lexicographically as unsigned
// bytes").
var cmp = bytes.Compare

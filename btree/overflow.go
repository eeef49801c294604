package btree

import (
	"bytes"
	"fmt"

	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

// writeOverflow spills data across a fresh chain of Overflow pages (spec
// §3, §4.6: "chain length is ceil(total_bytes / (P - overflow_header))").
// Pages are allocated front-to-back but written back-to-front so each
// page's Next pointer is known before it is encoded.
func (t *Tree) writeOverflow(data []byte) (head uint64, fullLen uint64, err error) {
	fullLen = uint64(len(data))
	chunkCap := t.capacity - pageformat.OverflowHeaderSize
	if chunkCap <= 0 {
		return 0, 0, fmt.Errorf("btree: page size too small for an overflow chain")
	}

	n := len(data)
	numPages := (n + chunkCap - 1) / chunkCap
	if numPages == 0 {
		numPages = 1
	}

	pageNos := make([]uint64, numPages)
	for i := range pageNos {
		pn, err := t.alloc.Allocate()
		if err != nil {
			return 0, 0, err
		}
		pageNos[i] = pn
	}

	for i := numPages - 1; i >= 0; i-- {
		beg := i * chunkCap
		end := beg + chunkCap
		if end > n {
			end = n
		}
		next := uint64(0)
		if i < numPages-1 {
			next = pageNos[i+1]
		}
		ov := pageformat.Overflow{Next: next, Chunk: data[beg:end]}
		body := ov.Encode(make([]byte, ov.Size()))
		t.cache.Put(pageNos[i], page.KindOverflow, body)
	}

	return pageNos[0], fullLen, nil
}

// readOverflow reassembles the blob stored in the chain starting at head.
func (t *Tree) readOverflow(head uint64, fullLen uint64) ([]byte, error) {
	buf := make([]byte, 0, fullLen)
	pn := head
	for pn != 0 {
		kind, body, err := t.readPage(pn)
		if err != nil {
			return nil, err
		}
		if kind != page.KindOverflow {
			return nil, fmt.Errorf("%w: page %d is kind %v, want overflow", ErrCorrupt, pn, kind)
		}
		ov, err := pageformat.DecodeOverflow(body)
		if err != nil {
			return nil, fmt.Errorf("btree: decode overflow page %d: %w", pn, err)
		}
		buf = append(buf, ov.Chunk...)
		pn = ov.Next
	}
	if uint64(len(buf)) != fullLen {
		return nil, fmt.Errorf("%w: overflow chain at %d yielded %d bytes, want %d", ErrCorrupt, head, len(buf), fullLen)
	}
	return buf, nil
}

// freeOverflow queues every page of the chain starting at head for reuse.
func (t *Tree) freeOverflow(head uint64) error {
	pn := head
	for pn != 0 {
		kind, body, err := t.readPage(pn)
		if err != nil {
			return err
		}
		if kind != page.KindOverflow {
			return fmt.Errorf("%w: page %d is kind %v, want overflow", ErrCorrupt, pn, kind)
		}
		ov, err := pageformat.DecodeOverflow(body)
		if err != nil {
			return fmt.Errorf("btree: decode overflow page %d: %w", pn, err)
		}
		next := ov.Next
		t.alloc.Free(pn)
		pn = next
	}
	return nil
}

// verifyDigestedKey reads the real key behind a digested leaf entry and
// reports whether it equals want (spec §4.6: "a hit on a digested leaf
// entry requires verifying the full key from the overflow chain before
// returning the value").
func (t *Tree) verifyDigestedKey(keyRepr pageformat.Repr, want []byte) (bool, error) {
	full, err := t.readOverflow(keyRepr.Head, keyRepr.FullLen)
	if err != nil {
		return false, err
	}
	return bytes.Equal(full, want), nil
}

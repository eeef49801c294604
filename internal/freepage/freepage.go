// Package freepage implements the spec §4.4 free-page manager: page
// number allocation, the pending-free set for the current transaction,
// and the on-disk freelist B+ tree pages are reclaimed into.
//
// The freelist tree is rebuilt in full at each commit rather than mutated
// incrementally, because by the time Commit runs, the whole delta (every
// reused and every newly-freed page number) is already sitting in memory;
// a bulk rebuild is simpler and just as correct as an incremental
// insert/delete for a structure whose entire working set is known up
// front, and it sidesteps having to reimplement the main engine's
// rebalance-free split/delete logic a second time for fixed-width
// records. A rebuild shadows every page of the previous freelist tree;
// Commit records those pages in the new tree as freed at the new
// tree_version, like any other shadowed page, and the rebuild takes its
// own page numbers only from the never-used counter (allocateStructural),
// never from the reusable pool it is recomputing.
package freepage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/digby-db/digby/internal/cache"
	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

// ErrExhausted means next_page_no would overflow uint64 (spec §7).
var ErrExhausted = errors.New("freepage: page numbers exhausted")

// firstDataPage is the lowest page number not reserved for a meta slot
// (spec §3: "0 and 1 are reserved for the two meta slots").
const firstDataPage = 2

// Manager allocates page numbers, tracks this transaction's pending
// frees, and rebuilds the on-disk freelist tree at commit.
type Manager struct {
	cache    *cache.Cache
	capacity int // codec.BodyCapacity(), shared by every page kind here

	nextPageNo  uint64
	root        uint64 // 0 means the freelist tree is empty
	treeVersion uint64 // the tree_version of the currently open transaction's base snapshot

	reusable []pageformat.FreeRecord // loaded once per transaction: safely reusable now
	consumed map[uint64]bool         // reusable entries popped by Allocate this transaction
	pending  []uint64                // pages Free()'d this transaction
}

// New constructs a Manager from the fields persisted in the current meta.
func New(c *cache.Cache, capacity int, root, nextPageNo, treeVersion uint64) *Manager {
	return &Manager{
		cache:       c,
		capacity:    capacity,
		root:        root,
		nextPageNo:  nextPageNo,
		treeVersion: treeVersion,
		consumed:    make(map[uint64]bool),
	}
}

// Root returns the freelist tree's current (last-committed) root page.
func (m *Manager) Root() uint64 { return m.root }

// NextPageNo returns the next page number to be minted by a plain counter
// bump (no reuse). Reflects in-memory state, valid only before Commit.
func (m *Manager) NextPageNo() uint64 { return m.nextPageNo }

// BeginTxn loads the set of pages safe to reuse right now: those freed at
// a tree_version old enough that no retained snapshot can still see them.
// This store retains only the last committed snapshot (spec §3's
// Freelist invariant), so a page freed at version V is reusable once
// commit_seq has advanced twice past V, i.e. once the current
// tree_version is at least V+1.
func (m *Manager) BeginTxn() error {
	m.consumed = make(map[uint64]bool)
	m.pending = nil
	if m.treeVersion == 0 {
		m.reusable = nil
		return nil
	}
	records, _, err := m.scanTree(m.root)
	if err != nil {
		return fmt.Errorf("freepage: scan freelist: %w", err)
	}
	threshold := m.treeVersion - 1
	m.reusable = m.reusable[:0]
	for _, r := range records {
		if r.FreeAtVersion <= threshold {
			m.reusable = append(m.reusable, r)
		}
	}
	return nil
}

// Allocate returns a page number for a new dirty page: a reusable freed
// page if one is available, else the next never-used page number.
func (m *Manager) Allocate() (uint64, error) {
	if n := len(m.reusable); n > 0 {
		r := m.reusable[n-1]
		m.reusable = m.reusable[:n-1]
		m.consumed[r.PageNo] = true
		return r.PageNo, nil
	}
	if m.nextPageNo == math.MaxUint64 {
		return 0, ErrExhausted
	}
	pn := m.nextPageNo
	m.nextPageNo++
	return pn, nil
}

// allocateStructural mints a page number for the freelist tree's own
// internal/leaf pages during a rebuild. It never pops the reusable pool:
// doing so would make the freelist's own page needs depend on the very
// state Commit is in the middle of recomputing. See the package doc.
func (m *Manager) allocateStructural() (uint64, error) {
	if m.nextPageNo == math.MaxUint64 {
		return 0, ErrExhausted
	}
	pn := m.nextPageNo
	m.nextPageNo++
	return pn, nil
}

// Free marks pageNo as no longer referenced by the transaction's new
// tree shape. It becomes reusable once Commit folds it into the freelist
// tagged with the new tree_version.
func (m *Manager) Free(pageNo uint64) {
	m.pending = append(m.pending, pageNo)
}

// Commit folds this transaction's consumed/pending pages into a freshly
// rebuilt freelist tree stamped with newTreeVersion, and returns its new
// root. The previous freelist tree's own pages, shadowed by the rebuild,
// are recorded in the new tree as freed at newTreeVersion (see package
// doc). The Manager's base tree_version becomes newTreeVersion, so the
// next BeginTxn applies the reuse rule against the snapshot just committed.
func (m *Manager) Commit(newTreeVersion uint64) (newRoot uint64, err error) {
	records, shadow, err := m.scanTree(m.root)
	if err != nil {
		return 0, err
	}

	byPage := make(map[uint64]pageformat.FreeRecord, len(records))
	for _, r := range records {
		if m.consumed[r.PageNo] {
			continue
		}
		byPage[r.PageNo] = r
	}
	for _, pn := range append(append([]uint64(nil), shadow...), m.pending...) {
		byPage[pn] = pageformat.FreeRecord{PageNo: pn, FreeAtVersion: newTreeVersion}
	}

	merged := make([]pageformat.FreeRecord, 0, len(byPage))
	for _, r := range byPage {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].PageNo < merged[j].PageNo })

	root, err := m.buildTree(merged)
	if err != nil {
		return 0, err
	}

	m.root = root
	m.treeVersion = newTreeVersion
	m.reusable = nil
	m.consumed = make(map[uint64]bool)
	m.pending = nil
	return root, nil
}

// scanTree walks every page reachable from root, returning its freelist
// records (leaves) and the full set of visited page numbers (for the
// caller to treat as shadowed once it builds a replacement).
func (m *Manager) scanTree(root uint64) (records []pageformat.FreeRecord, pages []uint64, err error) {
	if root == 0 {
		return nil, nil, nil
	}
	var walk func(pn uint64) error
	walk = func(pn uint64) error {
		pages = append(pages, pn)
		kind, body, err := m.cache.Read(pn)
		if err != nil {
			return fmt.Errorf("page %d: %w", pn, err)
		}
		switch kind {
		case page.KindInternal:
			node, err := pageformat.DecodeInternal(body)
			if err != nil {
				return err
			}
			if err := walk(node.FirstChild); err != nil {
				return err
			}
			for _, c := range node.Children {
				if err := walk(c); err != nil {
					return err
				}
			}
		case page.KindFree:
			fl, err := pageformat.DecodeFreeList(body)
			if err != nil {
				return err
			}
			records = append(records, fl.Records...)
		default:
			return fmt.Errorf("unexpected page kind %v in freelist tree", kind)
		}
		return nil
	}
	if err = walk(root); err != nil {
		return nil, nil, err
	}
	return records, pages, nil
}

// buildTree bulk-loads records (already sorted by PageNo) into fresh leaf
// and internal pages, filling each page as full as its capacity allows,
// and stages them as dirty pages in the cache. Returns the new root page
// number, or 0 if records is empty.
func (m *Manager) buildTree(records []pageformat.FreeRecord) (uint64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	perLeaf := (m.capacity - 2) / pageformat.FreeRecordSize
	if perLeaf < 1 {
		return 0, fmt.Errorf("freepage: page too small to hold a single freelist record")
	}

	type level struct {
		keys [][]byte // comparison key for the start of each node (BE page_no for leaves)
		ids  []uint64
	}

	cur := level{}
	for i := 0; i < len(records); i += perLeaf {
		end := min(i+perLeaf, len(records))
		chunk := records[i:end]
		body := pageformat.FreeList{Records: chunk}.Encode(make([]byte, pageformat.FreeList{Records: chunk}.Size()))
		pn, err := m.allocateStructural()
		if err != nil {
			return 0, err
		}
		m.cache.Put(pn, page.KindFree, body)
		cur.keys = append(cur.keys, beU64(chunk[0].PageNo))
		cur.ids = append(cur.ids, pn)
	}

	for len(cur.ids) > 1 {
		// Each internal entry costs a 2-byte slot plus 1(flag)+8(key)+8(child)
		// = 19 bytes; the first child of each page is carried in its 8-byte
		// prefix rather than an entry, so a page holding firstChild plus k
		// separator/child entries needs 8 + 2(count) + k*19 bytes.
		entrySize := pageformat.InternalEntrySize(make([]byte, 8))
		perNode := (m.capacity - pageformat.InternalOverhead) / entrySize
		if perNode < 1 {
			return 0, fmt.Errorf("freepage: page too small to hold a single internal entry")
		}

		var next level
		for i := 0; i < len(cur.ids); i += perNode + 1 {
			end := min(i+perNode+1, len(cur.ids))
			group := cur.ids[i:end]
			groupKeys := cur.keys[i:end]

			node := pageformat.Internal{
				FirstChild: group[0],
				Separators: make([][]byte, len(group)-1),
				IsDigest:   make([]bool, len(group)-1),
				Children:   make([]uint64, len(group)-1),
			}
			for j := 1; j < len(group); j++ {
				node.Separators[j-1] = groupKeys[j]
				node.Children[j-1] = group[j]
			}
			body := node.Encode(make([]byte, node.Size()))
			pn, err := m.allocateStructural()
			if err != nil {
				return 0, err
			}
			m.cache.Put(pn, page.KindInternal, body)
			next.keys = append(next.keys, groupKeys[0])
			next.ids = append(next.ids, pn)
		}
		cur = next
	}

	return cur.ids[0], nil
}

func beU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

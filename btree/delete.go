package btree

import (
	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

// Delete removes key, or returns ErrNotFound. Deletion never rebalances by
// borrowing from or merging with siblings (spec §4.6): a leaf that empties
// out is simply dropped from its parent, and that removal cascades upward
// only as far as a node is left with zero children. The sole exception is
// the root: an internal root left with one child collapses to that child.
func (t *Tree) Delete(key []byte) error {
	if len(key) > maxItemSize {
		return ErrKeyTooLarge
	}
	cmpKey, digested := comparisonKeyFor(key)
	path, slots, err := t.descendWithSlots(cmpKey)
	if err != nil {
		return err
	}
	if path == nil {
		return ErrNotFound
	}

	leafPn := path[len(path)-1]
	_, body, err := t.readPage(leafPn)
	if err != nil {
		return err
	}
	leaf, err := pageformat.DecodeLeaf(body)
	if err != nil {
		return err
	}

	idx, exact := leaf.Find(cmpKey, cmp)
	if !exact {
		return ErrNotFound
	}
	target := -1
	for j := idx; j < len(leaf.Entries) && cmp(leaf.Entries[j].ComparisonKey(), cmpKey) == 0; j++ {
		same := !digested
		if digested {
			ok, err := t.verifyDigestedKey(leaf.Entries[j].Key, key)
			if err != nil {
				return err
			}
			same = ok
		}
		if same {
			target = j
			break
		}
	}
	if target < 0 {
		return ErrNotFound
	}

	old := leaf.Entries[target]
	if err := t.freeRepr(old.Val); err != nil {
		return err
	}
	if digested {
		if err := t.freeRepr(old.Key); err != nil {
			return err
		}
	}

	entries := make([]pageformat.LeafEntry, 0, len(leaf.Entries)-1)
	entries = append(entries, leaf.Entries[:target]...)
	entries = append(entries, leaf.Entries[target+1:]...)

	t.alloc.Free(leafPn)

	if len(entries) == 0 {
		return t.propagateRemoval(path[:len(path)-1], slots)
	}
	pages, keys, isDigest, err := t.buildLeafPages(entries)
	if err != nil {
		return err
	}
	return t.propagate(path[:len(path)-1], slots, pages, keys, isDigest)
}

// propagateRemoval drops the child at slots[last] from ancestors[last],
// cascading further up whenever that leaves the node with zero children,
// and collapsing the root if it is left with exactly one.
func (t *Tree) propagateRemoval(ancestors []uint64, slots []int) error {
	if len(ancestors) == 0 {
		t.root = 0
		return nil
	}

	parentPn := ancestors[len(ancestors)-1]
	slot := slots[len(slots)-1]
	_, body, err := t.readPage(parentPn)
	if err != nil {
		return err
	}
	node, err := pageformat.DecodeInternal(body)
	if err != nil {
		return err
	}
	flat, ok := flatten(node).removeChild(slot)
	t.alloc.Free(parentPn)
	if !ok {
		return t.propagateRemoval(ancestors[:len(ancestors)-1], slots[:len(slots)-1])
	}

	if len(ancestors) == 1 && len(flat.children) == 1 {
		t.root = flat.children[0]
		return nil
	}

	newNode := flat.unflatten()
	pn, err := t.alloc.Allocate()
	if err != nil {
		return err
	}
	t.cache.Put(pn, page.KindInternal, newNode.Encode(make([]byte, newNode.Size())))
	return t.propagate(ancestors[:len(ancestors)-1], slots[:len(slots)-1], []uint64{pn}, nil, nil)
}

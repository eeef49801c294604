package btree

import (
	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

// Put inserts key/val, or replaces val if key is already present (spec
// §4.6). Every new leaf entry is stamped with the tree's current version.
func (t *Tree) Put(key, val []byte) error {
	if len(key) > maxItemSize {
		return ErrKeyTooLarge
	}
	if len(val) > maxItemSize {
		return ErrValueTooLarge
	}

	cmpKey, digested := comparisonKeyFor(key)
	path, slots, err := t.descendWithSlots(cmpKey)
	if err != nil {
		return err
	}

	keyR, err := t.keyRepr(key)
	if err != nil {
		return err
	}
	valR, err := t.valRepr(val)
	if err != nil {
		return err
	}
	newEntry := pageformat.LeafEntry{Key: keyR, Val: valR, Version: t.treeVersion}

	if path == nil {
		leaf := pageformat.Leaf{Entries: []pageformat.LeafEntry{newEntry}}
		pn, err := t.alloc.Allocate()
		if err != nil {
			return err
		}
		t.cache.Put(pn, page.KindLeaf, leaf.Encode(make([]byte, leaf.Size())))
		t.root = pn
		return nil
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
	entries := append([]pageformat.LeafEntry{}, leaf.Entries...)
	target := -1
	if exact {
		for j := idx; j < len(entries) && cmp(entries[j].ComparisonKey(), cmpKey) == 0; j++ {
			same := !digested
			if digested {
				ok, err := t.verifyDigestedKey(entries[j].Key, key)
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
	}
	if target >= 0 {
		old := entries[target]
		if err := t.freeRepr(old.Val); err != nil {
			return err
		}
		if digested {
			if err := t.freeRepr(old.Key); err != nil {
				return err
			}
		}
		entries[target] = newEntry
	} else {
		entries = append(entries, pageformat.LeafEntry{})
		copy(entries[idx+1:], entries[idx:])
		entries[idx] = newEntry
	}

	t.alloc.Free(leafPn)
	pages, keys, isDigest, err := t.buildLeafPages(entries)
	if err != nil {
		return err
	}
	return t.propagate(path[:len(path)-1], slots, pages, keys, isDigest)
}

// buildLeafPages splits entries into one or more fresh Leaf pages and
// returns them in the replaceChild convention: pages[0] reuses whatever
// separator already routes to the page being replaced, keys[i-1]/
// isDigest[i-1] is the new separator promoted for pages[i].
func (t *Tree) buildLeafPages(entries []pageformat.LeafEntry) (pages []uint64, keys [][]byte, isDigest []bool, err error) {
	runs := splitLeafEntries(entries, t.capacity)
	pages = make([]uint64, len(runs))
	for i, run := range runs {
		pn, err := t.alloc.Allocate()
		if err != nil {
			return nil, nil, nil, err
		}
		pages[i] = pn
		leaf := pageformat.Leaf{Entries: run}
		t.cache.Put(pn, page.KindLeaf, leaf.Encode(make([]byte, leaf.Size())))
		if i > 0 {
			first := run[0]
			keys = append(keys, first.ComparisonKey())
			isDigest = append(isDigest, first.Key.Overflow)
		}
	}
	return pages, keys, isDigest, nil
}

// buildInternalPages splits node into one or more fresh Internal pages,
// same convention as buildLeafPages.
func (t *Tree) buildInternalPages(node pageformat.Internal) (pages []uint64, keys [][]byte, isDigest []bool, err error) {
	groups := splitInternal(flatten(node), t.capacity)
	pages = make([]uint64, len(groups))
	for i, g := range groups {
		pn, err := t.alloc.Allocate()
		if err != nil {
			return nil, nil, nil, err
		}
		pages[i] = pn
		sub := pageformat.Internal{FirstChild: g.firstChild, Separators: g.seps, IsDigest: g.isDigest, Children: g.children}
		t.cache.Put(pn, page.KindInternal, sub.Encode(make([]byte, sub.Size())))
		if i > 0 {
			keys = append(keys, g.routeKey)
			isDigest = append(isDigest, g.routeIsDigest)
		}
	}
	return pages, keys, isDigest, nil
}

// propagate rebuilds every ancestor above a just-replaced child, cascading
// splits upward and growing the tree by one level if the root itself
// splits (spec §4.6: "splits may cascade; the root may split, producing a
// new root one level taller").
func (t *Tree) propagate(ancestors []uint64, slots []int, pages []uint64, keys [][]byte, isDigest []bool) error {
	if len(ancestors) == 0 {
		if len(pages) == 1 {
			t.root = pages[0]
			return nil
		}
		node := pageformat.Internal{FirstChild: pages[0], Separators: keys, IsDigest: isDigest, Children: pages[1:]}
		newPages, newKeys, newIsDigest, err := t.buildInternalPages(node)
		if err != nil {
			return err
		}
		return t.propagate(nil, nil, newPages, newKeys, newIsDigest)
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
	flat := flatten(node).replaceChild(slot, keys, isDigest, pages)
	t.alloc.Free(parentPn)

	newPages, newKeys, newIsDigest, err := t.buildInternalPages(flat.unflatten())
	if err != nil {
		return err
	}
	return t.propagate(ancestors[:len(ancestors)-1], slots[:len(slots)-1], newPages, newKeys, newIsDigest)
}

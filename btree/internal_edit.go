package btree

import (
	"github.com/digby-db/digby/internal/pageformat"
)

// flatInternal is an Internal page turned into a uniform N+1-children /
// N-separators view, so slot arithmetic (replace/remove child at slot)
// doesn't need to special-case FirstChild vs Children[i].
type flatInternal struct {
	children []uint64
	seps     [][]byte
	isDigest []bool
}

func flatten(node pageformat.Internal) flatInternal {
	children := make([]uint64, 0, len(node.Children)+1)
	children = append(children, node.FirstChild)
	children = append(children, node.Children...)
	return flatInternal{children: children, seps: node.Separators, isDigest: node.IsDigest}
}

func (f flatInternal) unflatten() pageformat.Internal {
	return pageformat.Internal{
		FirstChild: f.children[0],
		Children:   f.children[1:],
		Separators: f.seps,
		IsDigest:   f.isDigest,
	}
}

// replaceChild swaps the child at slot for pages (len(pages)>=1), using
// keys/isDigest (len == len(pages)-1) as the new internal separators
// between pages[0] and the rest. pages[0] reuses whatever separator
// already routed to slot.
func (f flatInternal) replaceChild(slot int, keys [][]byte, isDigest []bool, pages []uint64) flatInternal {
	children := make([]uint64, 0, len(f.children)-1+len(pages))
	children = append(children, f.children[:slot]...)
	children = append(children, pages...)
	children = append(children, f.children[slot+1:]...)

	seps := make([][]byte, 0, len(f.seps)+len(keys))
	seps = append(seps, f.seps[:slot]...)
	seps = append(seps, keys...)
	seps = append(seps, f.seps[slot:]...)

	dig := make([]bool, 0, len(f.isDigest)+len(isDigest))
	dig = append(dig, f.isDigest[:slot]...)
	dig = append(dig, isDigest...)
	dig = append(dig, f.isDigest[slot:]...)

	return flatInternal{children: children, seps: seps, isDigest: dig}
}

// removeChild drops the child at slot entirely. ok is false if that was
// the node's only child, in which case the node itself is now empty and
// must be removed from its own parent in turn.
func (f flatInternal) removeChild(slot int) (flatInternal, bool) {
	if len(f.children) == 1 {
		return flatInternal{}, false
	}
	dropSep := slot - 1
	if slot == 0 {
		dropSep = 0
	}
	children := make([]uint64, 0, len(f.children)-1)
	children = append(children, f.children[:slot]...)
	children = append(children, f.children[slot+1:]...)

	seps := make([][]byte, 0, len(f.seps)-1)
	seps = append(seps, f.seps[:dropSep]...)
	seps = append(seps, f.seps[dropSep+1:]...)

	dig := make([]bool, 0, len(f.isDigest)-1)
	dig = append(dig, f.isDigest[:dropSep]...)
	dig = append(dig, f.isDigest[dropSep+1:]...)

	return flatInternal{children: children, seps: seps, isDigest: dig}, true
}

// internalGroup is one Internal page's worth of content carved out of a
// larger flatInternal by splitInternal. routeKey/routeIsDigest is the
// separator promoted to whatever rebuilds the level above; the first group
// returned by a given splitInternal call always has a nil routeKey, since it
// reuses whatever separator already routed to the node being split.
type internalGroup struct {
	firstChild    uint64
	seps          [][]byte
	isDigest      []bool
	children      []uint64
	routeKey      []byte
	routeIsDigest bool
}

// splitInternal partitions flat into one or more page-sized groups by the
// byte-midpoint rule (spec §4.6), recursing on either half until every
// group fits capacity. Splitting an internal node promotes the separator at
// the cut point rather than copying a key, since that separator already
// equals the smallest key reachable through the child to its right.
func splitInternal(flat flatInternal, capacity int) []internalGroup {
	n := len(flat.seps)
	total := pageformat.InternalOverhead
	cost := make([]int, n)
	for i, s := range flat.seps {
		cost[i] = pageformat.InternalEntrySize(s)
		total += cost[i]
	}
	if total <= capacity || n == 0 {
		return []internalGroup{{
			firstChild: flat.children[0],
			seps:       flat.seps,
			isDigest:   flat.isDigest,
			children:   flat.children[1:],
		}}
	}

	half := total / 2
	acc := pageformat.InternalOverhead
	cut := 0
	for cut < n {
		if acc+cost[cut] >= half {
			break
		}
		acc += cost[cut]
		cut++
	}
	if cut >= n {
		cut = n - 1
	}

	left := flatInternal{
		children: append([]uint64{}, flat.children[:cut+1]...),
		seps:     append([][]byte{}, flat.seps[:cut]...),
		isDigest: append([]bool{}, flat.isDigest[:cut]...),
	}
	right := flatInternal{
		children: append([]uint64{}, flat.children[cut+1:]...),
		seps:     append([][]byte{}, flat.seps[cut+1:]...),
		isDigest: append([]bool{}, flat.isDigest[cut+1:]...),
	}
	routeKey, routeIsDigest := flat.seps[cut], flat.isDigest[cut]

	groups := splitInternal(left, capacity)
	rightGroups := splitInternal(right, capacity)
	rightGroups[0].routeKey = routeKey
	rightGroups[0].routeIsDigest = routeIsDigest
	return append(groups, rightGroups...)
}

// splitLeafEntries partitions entries into one or more page-sized runs by
// the byte-midpoint rule. Unlike splitInternal, no entry is consumed by the
// cut: the first entry of every run after the first becomes the promoted
// separator in the parent, verbatim.
func splitLeafEntries(entries []pageformat.LeafEntry, capacity int) [][]pageformat.LeafEntry {
	n := len(entries)
	total := pageformat.LeafOverhead
	cost := make([]int, n)
	for i, e := range entries {
		cost[i] = e.EncodedSize()
		total += cost[i]
	}
	if total <= capacity || n <= 1 {
		return [][]pageformat.LeafEntry{entries}
	}

	half := total / 2
	acc := pageformat.LeafOverhead
	cut := 1
	for cut < n {
		if acc+cost[cut-1] >= half {
			break
		}
		acc += cost[cut-1]
		cut++
	}
	if cut >= n {
		cut = n - 1
	}
	if cut < 1 {
		cut = 1
	}

	left := splitLeafEntries(entries[:cut], capacity)
	right := splitLeafEntries(entries[cut:], capacity)
	return append(left, right...)
}

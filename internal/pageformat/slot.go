// Package pageformat implements the slotted-layout typed views over a
// decoded page body described in spec §4.5: internal, leaf, overflow, and
// meta. It knows nothing about the device, the codec, or the tree engine
// above it — only how to lay out and read bytes within one page's body.
package pageformat

import "encoding/binary"

// slotted is the common shape of Internal and Leaf page bodies: a small
// fixed prefix, then a slot array of u16 offsets growing from the low end,
// then variable-length entries growing from the high end. Slot i gives the
// start offset of entry i; entry i's end is slot[i-1] (or the end of the
// body, for slot 0), because entries are laid out in the same order as the slots,
// each one landing below the previous. See bptree/page.go in the reference
// corpus for the layout this generalizes.
type slotted struct {
	body   []byte
	prefix int // bytes reserved before the count field (e.g. Internal's firstChild pointer)
}

func (s slotted) count() int {
	return int(binary.LittleEndian.Uint16(s.body[s.prefix:]))
}

func (s slotted) slotOffset(i int) int {
	o := s.prefix + 2 + 2*i
	return int(binary.LittleEndian.Uint16(s.body[o : o+2]))
}

// entry returns the raw bytes of entry i.
func (s slotted) entry(i int) []byte {
	beg := s.slotOffset(i)
	end := len(s.body)
	if i > 0 {
		end = s.slotOffset(i - 1)
	}
	return s.body[beg:end]
}

// find does a binary search over the slot array using cmp(i) to compare
// entry i's key against the target: negative if entry i's key is less,
// zero on equality, positive if greater. It returns the first index whose
// key is >= target, and whether that index is an exact match.
func (s slotted) find(cmp func(i int) int) (idx int, exact bool) {
	n := s.count()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(mid) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < n && cmp(lo) == 0
}

// builder accumulates entries (in ascending key order) and renders them
// into a caller-supplied buffer of exactly size() bytes, packing entries
// against its end. It does not check the result against a page's body
// capacity; callers must split before reaching this point (spec §4.5's
// fill policy is enforced by the engine, not here).
type builder struct {
	prefix  int
	entries [][]byte
}

func newBuilder(prefix int) *builder { return &builder{prefix: prefix} }

func (b *builder) add(entry []byte) { b.entries = append(b.entries, entry) }

// size returns the number of bytes render will need: prefix + count field +
// slot array + all entry bytes.
func (b *builder) size() int {
	total := b.prefix + 2 + 2*len(b.entries)
	for _, e := range b.entries {
		total += len(e)
	}
	return total
}

func (b *builder) render(buf []byte) []byte {
	binary.LittleEndian.PutUint16(buf[b.prefix:], uint16(len(b.entries)))
	end := len(buf)
	for i, e := range b.entries {
		beg := end - len(e)
		copy(buf[beg:end], e)
		slotOff := b.prefix + 2 + 2*i
		binary.LittleEndian.PutUint16(buf[slotOff:slotOff+2], uint16(beg))
		end = beg
	}
	return buf
}

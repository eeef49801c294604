package pageformat

import (
	"encoding/binary"
	"fmt"
)

// DigestSize is the width of a long-key digest: a 224-byte prefix of the
// original key concatenated with its sha256 (spec §4.6).
const DigestSize = 224 + 32

// DigestPrefixLen is the portion of DigestSize taken verbatim from the key.
const DigestPrefixLen = 224

const internalEntryFlagDigest uint8 = 1 << 0

// Internal is a decoded view of an Internal page body (spec §3, §4.5): a
// leading child pointer for keys less than every separator, then N
// (separator, child) pairs in ascending separator order. Separator is
// either the key itself (<=224 bytes) or its 256-byte digest.
type Internal struct {
	FirstChild uint64
	Separators [][]byte // either a raw key (<=224B) or a 256B digest
	IsDigest   []bool
	Children   []uint64 // len(Children) == len(Separators); Children[i] follows Separators[i]
}

// DecodeInternal parses a page body previously produced by Internal.Encode.
func DecodeInternal(body []byte) (Internal, error) {
	if len(body) < 10 {
		return Internal{}, fmt.Errorf("pageformat: internal body too short (%d bytes)", len(body))
	}
	s := slotted{body: body, prefix: 8}
	n := s.count()
	out := Internal{
		FirstChild: binary.LittleEndian.Uint64(body[0:8]),
		Separators: make([][]byte, n),
		IsDigest:   make([]bool, n),
		Children:   make([]uint64, n),
	}
	for i := 0; i < n; i++ {
		e := s.entry(i)
		if len(e) < 1+8 {
			return Internal{}, fmt.Errorf("pageformat: internal entry %d truncated", i)
		}
		flags := e[0]
		out.IsDigest[i] = flags&internalEntryFlagDigest != 0
		key := e[1 : len(e)-8]
		out.Separators[i] = key
		out.Children[i] = binary.LittleEndian.Uint64(e[len(e)-8:])
	}
	return out, nil
}

// Size reports the encoded size of this page body, for fit checks against
// the codec's BodyCapacity before committing to a layout.
func (p Internal) Size() int {
	b := p.builder()
	return b.size()
}

func (p Internal) builder() *builder {
	b := newBuilder(8)
	for i := range p.Separators {
		flags := uint8(0)
		if p.IsDigest[i] {
			flags |= internalEntryFlagDigest
		}
		e := make([]byte, 1+len(p.Separators[i])+8)
		e[0] = flags
		copy(e[1:], p.Separators[i])
		binary.LittleEndian.PutUint64(e[len(e)-8:], p.Children[i])
		b.add(e)
	}
	return b
}

// Encode renders p into buf, which must be exactly p.Size() bytes.
func (p Internal) Encode(buf []byte) []byte {
	binary.LittleEndian.PutUint64(buf[0:8], p.FirstChild)
	return p.builder().render(buf)
}

// ChildFor returns the combined child slot key descends into: slot 0 means
// FirstChild, slot i (i>=1) means Children[i-1]. Implements the
// last-key-in-left convention of spec §3: all keys in child i are <
// Separators[i] and all keys in child i+1 are >= Separators[i].
func (p Internal) ChildFor(key []byte, cmp func(a, b []byte) int) int {
	idx, exact := findOver(len(p.Separators), func(i int) int {
		return cmp(p.Separators[i], key)
	})
	if exact {
		return idx + 1
	}
	return idx
}

// Child resolves a combined slot (as returned by ChildFor) to a page
// number.
func (p Internal) Child(slot int) uint64 {
	if slot == 0 {
		return p.FirstChild
	}
	return p.Children[slot-1]
}

// InternalEntrySize is a separator's marginal contribution to an Internal
// page's size: its slot array entry plus its encoded (flag, key, child) bytes.
func InternalEntrySize(sep []byte) int { return 2 + 1 + len(sep) + 8 }

// InternalOverhead is an Internal page's fixed cost before any entries are
// added: the 8-byte FirstChild pointer plus the 2-byte count field.
const InternalOverhead = 8 + 2

// findOver is find() without needing a live slotted body, for callers that
// already decoded entries into slices (Internal.ChildFor, Leaf lookups).
func findOver(n int, cmp func(i int) int) (idx int, exact bool) {
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

package pageformat

import (
	"encoding/binary"
	"fmt"
)

const (
	leafFlagKeyLong    uint8 = 1 << 0 // key repr is a 256B digest; full key lives in an overflow chain
	leafFlagValOverflow uint8 = 1 << 1 // value repr is (head,fullLen) instead of inline bytes
)

// Repr is a key or value representation within a leaf entry: either the
// bytes themselves (Inline, len(Inline) <= spec's overflow threshold) or a
// pointer to an overflow chain holding FullLen bytes starting at Head.
type Repr struct {
	Inline   []byte
	Head     uint64
	FullLen  uint64
	Overflow bool
}

// Digest builds the key Repr for a digested (>224-byte) key: Inline holds
// the 256-byte digest used for comparisons, Head/FullLen point at the
// overflow chain holding the real key bytes. A key Repr's Overflow bit
// always means "digested"; unlike value Reprs, a raw key is never spilled
// to overflow without also being digested (spec §4.6).
func Digest(digest []byte, head, fullLen uint64) Repr {
	return Repr{Inline: digest, Overflow: true, Head: head, FullLen: fullLen}
}

// Inline builds a non-overflowed Repr from raw bytes.
func Inline(b []byte) Repr { return Repr{Inline: b} }

// OverflowRepr builds an overflowed value Repr pointing at a chain.
func OverflowRepr(head, fullLen uint64) Repr {
	return Repr{Overflow: true, Head: head, FullLen: fullLen}
}

// LeafEntry is one (key, value, version) tuple as laid out in a Leaf page
// (spec §3). Key is always comparable directly: either the raw key or, for
// keys over 224 bytes, its 256-byte digest (Key.Inline holds the digest
// and Key.Head/Key.FullLen give the chain for the real bytes).
type LeafEntry struct {
	Key     Repr
	Val     Repr
	Version uint64
}

// ComparisonKey is what the engine binary-searches on: Key.Inline whether
// it holds a raw key or a digest.
func (e LeafEntry) ComparisonKey() []byte { return e.Key.Inline }

// EncodedSize is this entry's marginal contribution to a Leaf page's size:
// its slot array entry plus its encoded bytes.
func (e LeafEntry) EncodedSize() int { return 2 + len(e.encode()) }

// LeafOverhead is a Leaf page's fixed cost before any entries are added.
const LeafOverhead = 2

// Leaf is a decoded view of a Leaf page body.
type Leaf struct {
	Entries []LeafEntry
}

// encodeRepr serializes a non-digest Repr: 16 raw bytes (head, fullLen) if
// it points at an overflow chain, or a uvarint length plus raw bytes if
// inline. Digest keys are encoded separately by LeafEntry.encode.
func encodeRepr(r Repr) []byte {
	if r.Overflow {
		out := make([]byte, 16)
		binary.LittleEndian.PutUint64(out[0:8], r.Head)
		binary.LittleEndian.PutUint64(out[8:16], r.FullLen)
		return out
	}
	head := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(head, uint64(len(r.Inline)))
	return append(head[:n], r.Inline...)
}

func reprSize(r Repr) int {
	if r.Overflow {
		return 16
	}
	return sizeUvarint(len(r.Inline)) + len(r.Inline)
}

func decodeInlineRepr(b []byte) (Repr, []byte, error) {
	n, sz := binary.Uvarint(b)
	if sz <= 0 {
		return Repr{}, nil, fmt.Errorf("pageformat: malformed inline length")
	}
	b = b[sz:]
	if uint64(len(b)) < n {
		return Repr{}, nil, fmt.Errorf("pageformat: inline repr truncated")
	}
	return Repr{Inline: b[:n]}, b[n:], nil
}

func decodeOverflowRepr(b []byte) (Repr, []byte, error) {
	if len(b) < 16 {
		return Repr{}, nil, fmt.Errorf("pageformat: overflow repr truncated")
	}
	head := binary.LittleEndian.Uint64(b[0:8])
	fullLen := binary.LittleEndian.Uint64(b[8:16])
	return Repr{Overflow: true, Head: head, FullLen: fullLen}, b[16:], nil
}

func (e LeafEntry) encode() []byte {
	flags := uint8(0)
	keyDigest := e.Key.Overflow
	if keyDigest {
		flags |= leafFlagKeyLong
	}
	if e.Val.Overflow {
		flags |= leafFlagValOverflow
	}
	out := make([]byte, 0, 1+reprSize(e.Key)+reprSize(e.Val)+8)
	out = append(out, flags)
	if keyDigest {
		// digest keys are always exactly DigestSize bytes, stored raw.
		out = append(out, e.Key.Inline...)
		tmp := make([]byte, 16)
		binary.LittleEndian.PutUint64(tmp[0:8], e.Key.Head)
		binary.LittleEndian.PutUint64(tmp[8:16], e.Key.FullLen)
		out = append(out, tmp...)
	} else {
		out = append(out, encodeRepr(e.Key)...)
	}
	out = append(out, encodeRepr(e.Val)...)
	v := make([]byte, 8)
	binary.LittleEndian.PutUint64(v, e.Version)
	out = append(out, v...)
	return out
}

func decodeLeafEntry(b []byte) (LeafEntry, error) {
	if len(b) < 1 {
		return LeafEntry{}, fmt.Errorf("pageformat: empty leaf entry")
	}
	flags := b[0]
	b = b[1:]
	var e LeafEntry
	var err error
	if flags&leafFlagKeyLong != 0 {
		if len(b) < DigestSize+16 {
			return LeafEntry{}, fmt.Errorf("pageformat: truncated digest key entry")
		}
		digest := b[:DigestSize]
		b = b[DigestSize:]
		head := binary.LittleEndian.Uint64(b[0:8])
		fullLen := binary.LittleEndian.Uint64(b[8:16])
		b = b[16:]
		e.Key = Digest(digest, head, fullLen)
	} else {
		e.Key, b, err = decodeInlineRepr(b)
		if err != nil {
			return LeafEntry{}, err
		}
	}
	if flags&leafFlagValOverflow != 0 {
		e.Val, b, err = decodeOverflowRepr(b)
	} else {
		e.Val, b, err = decodeInlineRepr(b)
	}
	if err != nil {
		return LeafEntry{}, err
	}
	if len(b) < 8 {
		return LeafEntry{}, fmt.Errorf("pageformat: leaf entry missing version")
	}
	e.Version = binary.LittleEndian.Uint64(b[0:8])
	return e, nil
}

// DecodeLeaf parses a page body previously produced by Leaf.Encode.
func DecodeLeaf(body []byte) (Leaf, error) {
	if len(body) < 2 {
		return Leaf{}, fmt.Errorf("pageformat: leaf body too short")
	}
	s := slotted{body: body, prefix: 0}
	n := s.count()
	out := Leaf{Entries: make([]LeafEntry, n)}
	for i := 0; i < n; i++ {
		e, err := decodeLeafEntry(s.entry(i))
		if err != nil {
			return Leaf{}, fmt.Errorf("pageformat: leaf entry %d: %w", i, err)
		}
		out.Entries[i] = e
	}
	return out, nil
}

func (p Leaf) builder() *builder {
	b := newBuilder(0)
	for _, e := range p.Entries {
		b.add(e.encode())
	}
	return b
}

// Size reports the encoded size of this page body.
func (p Leaf) Size() int { return p.builder().size() }

// Encode renders p into buf, which must be exactly p.Size() bytes.
func (p Leaf) Encode(buf []byte) []byte { return p.builder().render(buf) }

// Find locates the entry whose comparison key equals target exactly.
func (p Leaf) Find(target []byte, cmp func(a, b []byte) int) (idx int, exact bool) {
	return findOver(len(p.Entries), func(i int) int {
		return cmp(p.Entries[i].ComparisonKey(), target)
	})
}

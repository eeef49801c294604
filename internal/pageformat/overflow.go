package pageformat

import (
	"encoding/binary"
	"fmt"
)

// OverflowHeaderSize is the per-page bookkeeping an overflow chain node
// carries ahead of its chunk bytes: the singly-linked Next pointer and
// this page's chunk length (spec §3's `{ next: u64, chunk_len: u32,
// bytes[...] }`). Whether the chunk bytes are lz4-compressed is recorded
// by the page codec's own FlagCompressed header bit, not here — the codec
// transparently compresses/decompresses a KindOverflow page's whole body,
// so by the time it reaches this layer the bytes are already plain.
const OverflowHeaderSize = 8 + 4

// Overflow is a decoded view of one page in an overflow chain (spec §3,
// §4.6's overflow chains).
type Overflow struct {
	Next  uint64 // 0 marks the tail
	Chunk []byte
}

// DecodeOverflow parses a page body previously produced by Overflow.Encode.
func DecodeOverflow(body []byte) (Overflow, error) {
	if len(body) < OverflowHeaderSize {
		return Overflow{}, fmt.Errorf("pageformat: overflow body too short (%d bytes)", len(body))
	}
	o := Overflow{Next: binary.LittleEndian.Uint64(body[0:8])}
	chunkLen := binary.LittleEndian.Uint32(body[8:12])
	end := OverflowHeaderSize + int(chunkLen)
	if end > len(body) {
		return Overflow{}, fmt.Errorf("pageformat: overflow chunk_len %d overruns body", chunkLen)
	}
	o.Chunk = body[OverflowHeaderSize:end]
	return o, nil
}

// Size reports the encoded size of this page body.
func (o Overflow) Size() int { return OverflowHeaderSize + len(o.Chunk) }

// Encode renders o into buf, which must be exactly o.Size() bytes.
func (o Overflow) Encode(buf []byte) []byte {
	binary.LittleEndian.PutUint64(buf[0:8], o.Next)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(o.Chunk)))
	copy(buf[OverflowHeaderSize:], o.Chunk)
	return buf
}

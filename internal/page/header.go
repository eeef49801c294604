// Package page implements the on-disk block transform: header framing,
// checksum, optional lz4 compression of overflow payloads, and optional
// AES-128-GCM authenticated encryption. It has no notion of B+ trees — it
// turns a page number and a body into a fixed-size block and back.
package page

import (
	"encoding/binary"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// Kind identifies what a page body holds.
type Kind uint8

const (
	KindMeta Kind = iota
	KindInternal
	KindLeaf
	KindOverflow
	KindFree
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindInternal:
		return "internal"
	case KindLeaf:
		return "leaf"
	case KindOverflow:
		return "overflow"
	case KindFree:
		return "free"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	// FlagCompressed marks a body that was lz4-compressed before the
	// integrity/encryption transform. Only ever set on KindOverflow pages.
	FlagCompressed uint8 = 1 << 0
)

// Magic identifies a digby page. It is the same for every page kind; the
// meta page additionally stores a random StoreUUID written at format time,
// which no read path compares against anything.
const Magic uint32 = 0x44474259 // "DGBY"

const Version uint16 = 1

// HeaderSize is the encoded size of Header in bytes.
const HeaderSize = 4 + 2 + 1 + 1 + 8 + 8 + 4 + 4

// Header is the plaintext page header, present in every encoded block
// regardless of codec mode. See spec §3.
type Header struct {
	Magic       uint32
	Version     uint16
	Kind        Kind
	Flags       uint8
	PageNo      uint64
	TreeVersion uint64
	PayloadLen  uint32
	Checksum    uint32
}

func (h Header) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	binary.LittleEndian.PutUint16(dst[4:6], h.Version)
	dst[6] = byte(h.Kind)
	dst[7] = h.Flags
	binary.LittleEndian.PutUint64(dst[8:16], h.PageNo)
	binary.LittleEndian.PutUint64(dst[16:24], h.TreeVersion)
	binary.LittleEndian.PutUint32(dst[24:28], h.PayloadLen)
	binary.LittleEndian.PutUint32(dst[28:32], h.Checksum)
}

func decodeHeader(src []byte) (h Header, err error) {
	if len(src) < HeaderSize {
		err = fmt.Errorf("page: short header (%d bytes)", len(src))
		return
	}
	h.Magic = binary.LittleEndian.Uint32(src[0:4])
	h.Version = binary.LittleEndian.Uint16(src[4:6])
	h.Kind = Kind(src[6])
	h.Flags = src[7]
	h.PageNo = binary.LittleEndian.Uint64(src[8:16])
	h.TreeVersion = binary.LittleEndian.Uint64(src[16:24])
	h.PayloadLen = binary.LittleEndian.Uint32(src[24:28])
	h.Checksum = binary.LittleEndian.Uint32(src[28:32])
	return
}

func checksum32(data []byte) uint32 {
	x := xxhash.New32()
	x.Write(data)
	return x.Sum32()
}

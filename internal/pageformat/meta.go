package pageformat

import (
	"encoding/binary"
	"fmt"
)

// MetaSize is the fixed encoded size of Meta (spec §3's meta page field
// list). Unlike Internal/Leaf/Overflow, a meta page is never slotted: it
// is read and written as one fixed-width struct, the same as the two
// reserved meta slots it lives in.
const MetaSize = 4 + 16 + 4 + 1 + 1 + 1 + 8 + 8 + 8 + 8 + 8 + 8

// Meta is the content of one of the two fixed meta slots (page numbers 0
// and 1). The current meta is whichever slot has the higher CommitSeq and
// also verifies its page-codec integrity transform (spec §3).
type Meta struct {
	Magic        uint32
	StoreUUID    [16]byte
	PageSize     uint32
	CodecFlags   uint8
	CompressorID uint8
	EncryptionID uint8
	GlobalRoot   uint64
	TablesRoot   uint64
	NextPageNo   uint64
	FreelistRoot uint64
	TreeVersion  uint64
	CommitSeq    uint64
}

// EncodeMeta renders m into buf, which must be exactly MetaSize bytes.
func EncodeMeta(m Meta, buf []byte) []byte {
	binary.LittleEndian.PutUint32(buf[0:4], m.Magic)
	copy(buf[4:20], m.StoreUUID[:])
	binary.LittleEndian.PutUint32(buf[20:24], m.PageSize)
	buf[24] = m.CodecFlags
	buf[25] = m.CompressorID
	buf[26] = m.EncryptionID
	binary.LittleEndian.PutUint64(buf[27:35], m.GlobalRoot)
	binary.LittleEndian.PutUint64(buf[35:43], m.TablesRoot)
	binary.LittleEndian.PutUint64(buf[43:51], m.NextPageNo)
	binary.LittleEndian.PutUint64(buf[51:59], m.FreelistRoot)
	binary.LittleEndian.PutUint64(buf[59:67], m.TreeVersion)
	binary.LittleEndian.PutUint64(buf[67:75], m.CommitSeq)
	return buf[:MetaSize]
}

// DecodeMeta is the inverse of EncodeMeta.
func DecodeMeta(buf []byte) (Meta, error) {
	if len(buf) < MetaSize {
		return Meta{}, fmt.Errorf("pageformat: meta body too short (%d bytes, want %d)", len(buf), MetaSize)
	}
	var m Meta
	m.Magic = binary.LittleEndian.Uint32(buf[0:4])
	copy(m.StoreUUID[:], buf[4:20])
	m.PageSize = binary.LittleEndian.Uint32(buf[20:24])
	m.CodecFlags = buf[24]
	m.CompressorID = buf[25]
	m.EncryptionID = buf[26]
	m.GlobalRoot = binary.LittleEndian.Uint64(buf[27:35])
	m.TablesRoot = binary.LittleEndian.Uint64(buf[35:43])
	m.NextPageNo = binary.LittleEndian.Uint64(buf[43:51])
	m.FreelistRoot = binary.LittleEndian.Uint64(buf[51:59])
	m.TreeVersion = binary.LittleEndian.Uint64(buf[59:67])
	m.CommitSeq = binary.LittleEndian.Uint64(buf[67:75])
	return m, nil
}

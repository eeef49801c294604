package pageformat

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// FreeRecordSize is the encoded width of one {page_no, free_at_version}
// entry (spec §3's Freelist page).
const FreeRecordSize = 16

// FreeRecord is one entry of a Freelist page: a page number freed at a
// given tree_version.
type FreeRecord struct {
	PageNo        uint64
	FreeAtVersion uint64
}

// FreeList is a decoded view of a Freelist page body: a flat, sorted
// array of fixed-width records rather than the slotted variable-length
// layout Internal/Leaf use, since every record here is the same size.
type FreeList struct {
	Records []FreeRecord
}

// DecodeFreeList parses a page body previously produced by FreeList.Encode.
func DecodeFreeList(body []byte) (FreeList, error) {
	if len(body) < 2 {
		return FreeList{}, fmt.Errorf("pageformat: freelist body too short")
	}
	n := int(binary.LittleEndian.Uint16(body[0:2]))
	need := 2 + n*FreeRecordSize
	if need > len(body) {
		return FreeList{}, fmt.Errorf("pageformat: freelist body too short for %d records", n)
	}
	out := FreeList{Records: make([]FreeRecord, n)}
	for i := 0; i < n; i++ {
		off := 2 + i*FreeRecordSize
		out.Records[i] = FreeRecord{
			PageNo:        binary.LittleEndian.Uint64(body[off : off+8]),
			FreeAtVersion: binary.LittleEndian.Uint64(body[off+8 : off+16]),
		}
	}
	return out, nil
}

// Size reports the encoded size of this page body.
func (f FreeList) Size() int { return 2 + len(f.Records)*FreeRecordSize }

// Encode renders f into buf, which must be exactly f.Size() bytes. Records
// must already be sorted ascending by PageNo; Encode does not sort.
func (f FreeList) Encode(buf []byte) []byte {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(f.Records)))
	for i, r := range f.Records {
		off := 2 + i*FreeRecordSize
		binary.LittleEndian.PutUint64(buf[off:off+8], r.PageNo)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], r.FreeAtVersion)
	}
	return buf
}

// Find returns the index of the record for pageNo, or the insertion point
// and false if absent.
func (f FreeList) Find(pageNo uint64) (int, bool) {
	idx := sort.Search(len(f.Records), func(i int) bool { return f.Records[i].PageNo >= pageNo })
	return idx, idx < len(f.Records) && f.Records[idx].PageNo == pageNo
}

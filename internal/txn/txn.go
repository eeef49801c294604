// Package txn implements the spec §4.7 commit protocol: the six-step,
// double-fsync sequence that takes a transaction's dirty pages plus the
// tree's new roots and makes them durable by flipping whichever meta slot
// is not currently the newest. It carries no B+ tree logic of its own —
// the caller (digby.DB) builds new global_root/tables_root through the
// btree package and folds free pages through a freepage.Manager, then
// hands the results to Commit.
package txn

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/digby-db/digby/internal/cache"
	"github.com/digby-db/digby/internal/device"
	"github.com/digby-db/digby/internal/freepage"
	"github.com/digby-db/digby/internal/page"
	"github.com/digby-db/digby/internal/pageformat"
)

const metaSlots = 2

// Codec is the subset of *page.Codec the commit protocol needs.
type Codec interface {
	Encode(pageNo uint64, kind page.Kind, treeVersion uint64, body []byte) ([]byte, error)
	Decode(pageNo uint64, block []byte, rawLen int) (page.Header, []byte, error)
}

// Device is the subset of *device.Device the commit protocol writes
// through.
type Device interface {
	Read(pageNo uint64) ([]byte, error)
	Write(pageNo uint64, block []byte) error
	Sync() error
	AppendReserve(throughPageNo uint64) error
}

// Store owns the two meta slots and the commit sequence.
type Store struct {
	dev     Device
	codec   Codec
	cache   *cache.Cache
	current pageformat.Meta
	slot    int // which slot (0 or 1) current was read from / last written to
}

// Format initializes a brand-new store: both meta slots written with
// commit_seq 0 and 1 respectively, and empty trees throughout (spec §6:
// "On first open... two meta pages initialized with commit_seq = 0 and
// commit_seq = 1, an empty global tree root, an empty tables tree root, an
// empty freelist root").
func Format(dev Device, codec Codec, c *cache.Cache, pageSize uint32, compressorID, encryptionID uint8) (*Store, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return nil, fmt.Errorf("txn: generate store uuid: %w", err)
	}
	base := pageformat.Meta{
		Magic:        page.Magic,
		StoreUUID:    uuid,
		PageSize:     pageSize,
		CompressorID: compressorID,
		EncryptionID: encryptionID,
		NextPageNo:   metaSlots, // pages 0 and 1 are the meta slots
	}

	s := &Store{dev: dev, codec: codec, cache: c}
	if err := dev.AppendReserve(metaSlots - 1); err != nil {
		return nil, err
	}
	for slot := 0; slot < metaSlots; slot++ {
		m := base
		m.CommitSeq = uint64(slot)
		if err := s.writeMeta(slot, m); err != nil {
			return nil, err
		}
	}
	if err := dev.Sync(); err != nil {
		return nil, fmt.Errorf("txn: sync initial format: %w", err)
	}

	s.current = base
	s.current.CommitSeq = metaSlots - 1
	s.slot = metaSlots - 1
	return s, nil
}

// Open reads both meta slots and adopts whichever has the higher
// commit_seq among those that decode and verify (spec §3: "The current
// meta is the one with the higher commit_seq that also verifies its
// integrity transform").
func Open(dev Device, codec Codec, c *cache.Cache) (*Store, error) {
	var metas [metaSlots]*pageformat.Meta
	for slot := 0; slot < metaSlots; slot++ {
		block, err := dev.Read(uint64(slot))
		if err != nil {
			if errors.Is(err, device.ErrOutOfRange) {
				// a slot that lies past the end of the file (e.g. the file
				// was formatted with a smaller page size) is not a valid meta
				continue
			}
			return nil, fmt.Errorf("txn: read meta slot %d: %w", slot, err)
		}
		h, body, err := codec.Decode(uint64(slot), block, pageformat.MetaSize)
		if err != nil {
			continue
		}
		if h.Kind != page.KindMeta {
			continue
		}
		m, err := pageformat.DecodeMeta(body)
		if err != nil || m.Magic != page.Magic {
			continue
		}
		metas[slot] = &m
	}

	best := -1
	for slot, m := range metas {
		if m == nil {
			continue
		}
		if best == -1 || m.CommitSeq > metas[best].CommitSeq {
			best = slot
		}
	}
	if best == -1 {
		return nil, fmt.Errorf("%w: neither meta slot is valid", ErrFormat)
	}
	return &Store{dev: dev, codec: codec, cache: c, current: *metas[best], slot: best}, nil
}

// Current returns the last-committed meta.
func (s *Store) Current() pageformat.Meta { return s.current }

func (s *Store) writeMeta(slot int, m pageformat.Meta) error {
	body := pageformat.EncodeMeta(m, make([]byte, pageformat.MetaSize))
	block, err := s.codec.Encode(uint64(slot), page.KindMeta, m.TreeVersion, body)
	if err != nil {
		return fmt.Errorf("txn: encode meta slot %d: %w", slot, err)
	}
	if err := s.dev.Write(uint64(slot), block); err != nil {
		return fmt.Errorf("txn: write meta slot %d: %w", slot, err)
	}
	return nil
}

// Commit runs the spec §4.7 six-step protocol: fold mgr's pending
// allocations/frees into a freshly rebuilt freelist, write every dirty
// page, sync, write the new meta to the older slot, sync again. On
// success the cache's dirty buffer is cleared and Current reflects the new
// meta; on any error the store's durable state is unchanged (the failure
// happened before the second sync, so the previous meta is still the one
// any reader observes).
func (s *Store) Commit(mgr *freepage.Manager, globalRoot, tablesRoot uint64) error {
	newTreeVersion := s.current.TreeVersion + 1

	freelistRoot, err := mgr.Commit(newTreeVersion)
	if err != nil {
		return fmt.Errorf("txn: fold freelist: %w", err)
	}

	dirty := s.cache.DirtyPages()
	if mgr.NextPageNo() > 0 {
		if err := s.dev.AppendReserve(mgr.NextPageNo() - 1); err != nil {
			return fmt.Errorf("txn: grow file: %w", err)
		}
	}
	for pn, d := range dirty {
		block, err := s.codec.Encode(pn, d.Kind, newTreeVersion, d.Body)
		if err != nil {
			return fmt.Errorf("txn: encode page %d: %w", pn, err)
		}
		if err := s.dev.Write(pn, block); err != nil {
			return fmt.Errorf("txn: write page %d: %w", pn, err)
		}
	}
	if err := s.dev.Sync(); err != nil {
		return fmt.Errorf("txn: sync barrier 1: %w", err)
	}

	next := s.current
	next.GlobalRoot = globalRoot
	next.TablesRoot = tablesRoot
	next.FreelistRoot = freelistRoot
	next.NextPageNo = mgr.NextPageNo()
	next.TreeVersion = newTreeVersion
	next.CommitSeq = s.current.CommitSeq + 1

	targetSlot := 1 - s.slot
	if err := s.writeMeta(targetSlot, next); err != nil {
		return err
	}
	if err := s.dev.Sync(); err != nil {
		return fmt.Errorf("txn: sync barrier 2: %w", err)
	}

	s.current = next
	s.slot = targetSlot
	s.cache.Reset()
	return nil
}

package txn

import (
	"errors"
	"io"
	"testing"

	"github.com/digby-db/digby/internal/cache"
	"github.com/digby-db/digby/internal/device"
	"github.com/digby-db/digby/internal/freepage"
	"github.com/digby-db/digby/internal/page"
)

// fakeFile is a minimal in-memory File local to this package (mem.File
// would pull in the root digby package, which imports txn — a cycle).
type fakeFile struct{ buf []byte }

func (f *fakeFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *fakeFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[off:end], p)
	return len(p), nil
}

func (f *fakeFile) Truncate(size int64) error {
	switch {
	case size < int64(len(f.buf)):
		f.buf = f.buf[:size]
	case size > int64(len(f.buf)):
		grown := make([]byte, size)
		copy(grown, f.buf)
		f.buf = grown
	}
	return nil
}

func (f *fakeFile) Sync() error { return nil }

func newStack(t *testing.T, f *fakeFile) (*device.Device, *page.Codec, *cache.Cache) {
	t.Helper()
	dev := device.New(f, 4096)
	codec, err := page.New(4096, page.CompressorNone, nil)
	if err != nil {
		t.Fatalf("page.New: %v", err)
	}
	return dev, codec, cache.New(dev, codec)
}

func TestFormatThenOpenRecoversCurrentMeta(t *testing.T) {
	f := &fakeFile{}
	dev, codec, c := newStack(t, f)

	s, err := Format(dev, codec, c, 4096, 0, 0)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if s.Current().CommitSeq != 1 {
		t.Errorf("CommitSeq = %d, want 1 (slot 1 written last)", s.Current().CommitSeq)
	}

	reopened, err := Open(dev, codec, c)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Current() != s.Current() {
		t.Errorf("Open() meta = %+v, want %+v", reopened.Current(), s.Current())
	}
}

func TestCommitAlternatesMetaSlotsAndIncrementsCommitSeq(t *testing.T) {
	f := &fakeFile{}
	dev, codec, c := newStack(t, f)

	s, err := Format(dev, codec, c, 4096, 0, 0)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	startSeq := s.Current().CommitSeq
	startSlot := s.slot

	mgr := freepage.New(c, codec.BodyCapacity(), 0, s.Current().NextPageNo, s.Current().TreeVersion)
	if err := mgr.BeginTxn(); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	pn, err := mgr.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	c.Put(pn, page.KindLeaf, []byte("hello"))

	if err := s.Commit(mgr, pn, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if s.Current().CommitSeq != startSeq+1 {
		t.Errorf("CommitSeq = %d, want %d", s.Current().CommitSeq, startSeq+1)
	}
	if s.slot == startSlot {
		t.Error("Commit must target the slot that was not current")
	}
	if s.Current().GlobalRoot != pn {
		t.Errorf("GlobalRoot = %d, want %d", s.Current().GlobalRoot, pn)
	}
	if len(c.DirtyPages()) != 0 {
		t.Error("Commit must clear the dirty buffer on success")
	}
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	f := &fakeFile{}
	dev, codec, c := newStack(t, f)

	s, err := Format(dev, codec, c, 4096, 0, 0)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	mgr := freepage.New(c, codec.BodyCapacity(), 0, s.Current().NextPageNo, s.Current().TreeVersion)
	if err := mgr.BeginTxn(); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	pn, err := mgr.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	c.Put(pn, page.KindLeaf, []byte("durable"))
	if err := s.Commit(mgr, pn, 7); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	c2 := cache.New(dev, codec)
	reopened, err := Open(dev, codec, c2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Current().GlobalRoot != pn {
		t.Errorf("GlobalRoot = %d, want %d", reopened.Current().GlobalRoot, pn)
	}
	if reopened.Current().TablesRoot != 7 {
		t.Errorf("TablesRoot = %d, want 7", reopened.Current().TablesRoot)
	}

	kind, body, err := c2.Read(pn)
	if err != nil {
		t.Fatalf("Read committed page: %v", err)
	}
	if kind != page.KindLeaf || string(body) != "durable" {
		t.Errorf("committed page = (%v, %q)", kind, body)
	}
}

func TestOpenRejectsGarbageMeta(t *testing.T) {
	f := &fakeFile{buf: make([]byte, 2*4096)}
	dev, codec, c := newStack(t, f)

	if _, err := Open(dev, codec, c); !errors.Is(err, ErrFormat) {
		t.Errorf("Open on all-zero meta slots: err = %v, want ErrFormat", err)
	}
}

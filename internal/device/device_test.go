package device

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// fakeFile is a minimal in-memory File, kept local to this package so the
// test doesn't have to import mem (which itself imports the root digby
// package, which imports device — that would be a cycle).
type fakeFile struct {
	buf []byte
}

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

func TestDeviceWriteReadRoundTrip(t *testing.T) {
	f := &fakeFile{}
	d := New(f, 4096)

	if err := d.AppendReserve(2); err != nil {
		t.Fatalf("AppendReserve: %v", err)
	}

	block := bytes.Repeat([]byte{0x7}, 4096)
	if err := d.Write(1, block); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := d.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, block) {
		t.Error("round-tripped block mismatch")
	}
}

func TestDeviceReadPastLengthIsOutOfRange(t *testing.T) {
	f := &fakeFile{}
	d := New(f, 4096)

	if _, err := d.Read(5); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Read beyond file length: err = %v, want ErrOutOfRange", err)
	}
}

func TestDeviceWriteRejectsWrongSizedBlock(t *testing.T) {
	f := &fakeFile{}
	d := New(f, 4096)
	if err := d.AppendReserve(0); err != nil {
		t.Fatalf("AppendReserve: %v", err)
	}

	if err := d.Write(0, make([]byte, 100)); !errors.Is(err, ErrShortPage) {
		t.Errorf("Write short block: err = %v, want ErrShortPage", err)
	}
}

func TestDeviceAppendReserveGrowsToPageBoundary(t *testing.T) {
	f := &fakeFile{}
	d := New(f, 4096)

	if err := d.AppendReserve(3); err != nil {
		t.Fatalf("AppendReserve: %v", err)
	}
	if int64(len(f.buf)) != 4*4096 {
		t.Errorf("file size = %d, want %d (4 pages reserved through page 3)", len(f.buf), 4*4096)
	}

	// Idempotent: reserving through the same boundary again changes nothing.
	if err := d.AppendReserve(3); err != nil {
		t.Fatalf("AppendReserve (repeat): %v", err)
	}
	if int64(len(f.buf)) != 4*4096 {
		t.Errorf("file size after repeat reserve = %d, want %d", len(f.buf), 4*4096)
	}
}

// Package device implements positioned, page-aligned I/O against a
// digby.File (spec §4.2). It knows nothing about page contents — encoding
// and integrity are the codec's job — only about where page_no n lives in
// the underlying file and how to grow the file to fit more pages.
package device

import (
	"errors"
	"fmt"
	"io"
)

// ErrShortPage is returned when a read or write supplies a buffer whose
// length is not exactly the device's page size.
var ErrShortPage = errors.New("device: buffer is not one full page")

// ErrOutOfRange is returned by Read when page_no lies beyond the current
// file length. The device never fabricates zeroed pages for an
// out-of-range read (spec §4.2).
var ErrOutOfRange = errors.New("device: page number beyond file length")

// File is the subset of digby.File the device needs. Declared locally so
// this package has no dependency on the root package.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
}

// Device is positioned, page-aligned I/O over a File.
type Device struct {
	file     File
	pageSize int
}

// New wraps file for page-aligned access at the given page size.
func New(file File, pageSize int) *Device {
	return &Device{file: file, pageSize: pageSize}
}

// PageSize returns the configured page size.
func (d *Device) PageSize() int { return d.pageSize }

func (d *Device) offset(pageNo uint64) int64 { return int64(pageNo) * int64(d.pageSize) }

// Read fetches the raw block at pageNo. It never returns zeros for a page
// beyond the current file length; it returns ErrOutOfRange instead.
func (d *Device) Read(pageNo uint64) ([]byte, error) {
	buf := make([]byte, d.pageSize)
	n, err := d.file.ReadAt(buf, d.offset(pageNo))
	if err != nil {
		if errors.Is(err, io.EOF) && n == d.pageSize {
			// ReadAt may report io.EOF alongside a full read when the
			// read ends exactly at end-of-file; that is not an error.
			return buf, nil
		}
		return nil, fmt.Errorf("device: read page %d: %w", pageNo, mapShortRead(err, n, d.pageSize))
	}
	return buf, nil
}

func mapShortRead(err error, n, want int) error {
	if n < want {
		return fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	return err
}

// Write stores block at pageNo. block must be exactly PageSize bytes.
func (d *Device) Write(pageNo uint64, block []byte) error {
	if len(block) != d.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrShortPage, len(block), d.pageSize)
	}
	if _, err := d.file.WriteAt(block, d.offset(pageNo)); err != nil {
		return fmt.Errorf("device: write page %d: %w", pageNo, err)
	}
	return nil
}

// Sync requests durability of every prior write.
func (d *Device) Sync() error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("device: sync: %w", err)
	}
	return nil
}

// AppendReserve sets the backing file's length to exactly
// throughPageNo+1 pages, so writes up to that boundary never need an
// implicit extend. A file already longer than that is truncated to it.
// It is idempotent to call with the exact size the file already has.
func (d *Device) AppendReserve(throughPageNo uint64) error {
	want := d.offset(throughPageNo + 1)
	if err := d.file.Truncate(want); err != nil {
		return fmt.Errorf("device: append_reserve to page %d: %w", throughPageNo, err)
	}
	return nil
}

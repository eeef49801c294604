package digby

import (
	"fmt"

	"go.uber.org/zap"
)

// Compressor selects the overflow-page compression algorithm (spec §6's
// `compressor ∈ {None, Lz4}`). Declared here, rather than reusing
// internal/page.Compressor directly, so callers outside this module never
// need to import an internal package to call WithCompressor.
type Compressor uint8

const (
	CompressorNone Compressor = iota
	CompressorLz4
)

// options collects the constructor inputs spec §6 names, built up by
// applying a caller's Option values over these defaults.
type options struct {
	pageSize   uint32
	compressor Compressor
	key        []byte
	logger     *zap.Logger
	readOnly   bool
}

func defaultOptions() options {
	return options{
		pageSize:   16384,
		compressor: CompressorNone,
		logger:     zap.NewNop(),
	}
}

var validPageSizes = map[uint32]bool{
	4096: true, 8192: true, 16384: true, 32768: true, 65536: true,
}

// Option configures Open, following the teacher's functional-option
// pattern (internal/heap's CRC32HeapOption).
type Option func(*options) error

// WithPageSize sets the store's page size. Only 4096, 8192, 16384, 32768,
// and 65536 are valid (spec §6); any other value is rejected when Open
// applies it.
func WithPageSize(size uint32) Option {
	return func(o *options) error {
		if !validPageSizes[size] {
			return fmt.Errorf("%w: page size %d is not one of 4096/8192/16384/32768/65536", ErrFormat, size)
		}
		o.pageSize = size
		return nil
	}
}

// WithCompressor selects the overflow-page compression algorithm.
func WithCompressor(c Compressor) Option {
	return func(o *options) error {
		o.compressor = c
		return nil
	}
}

// WithEncryptionKey enables AES-128-GCM page encryption with the given
// 16-byte key. The key is retained for the lifetime of the handle and
// zeroized on Close (spec §5).
func WithEncryptionKey(key []byte) Option {
	return func(o *options) error {
		if len(key) != 16 {
			return fmt.Errorf("%w: encryption key must be 16 bytes for aes-128-gcm, got %d", ErrFormat, len(key))
		}
		o.key = append([]byte(nil), key...)
		return nil
	}
}

// WithLogger injects a *zap.Logger for commit diagnostics (one Debug entry
// per commit). The façade never logs on the Get hot path. Default is
// zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithReadOnly opens the store without permitting Put/Delete/CreateTable/
// DropTable; those calls return ErrReadOnly.
func WithReadOnly() Option {
	return func(o *options) error {
		o.readOnly = true
		return nil
	}
}

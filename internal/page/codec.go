package page

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/hkdf"
)

// Compressor identifies the overflow-page compression algorithm. Only
// Lz4 is implemented; None disables compression entirely.
type Compressor uint8

const (
	CompressorNone Compressor = iota
	CompressorLz4
)

// Codec applies the encode/decode pipeline described in spec §4.1 to a
// single page. The engine never mutates a page in place; every call to
// Encode produces a fresh block.
type Codec struct {
	pageSize   int
	compressor Compressor
	aead       cipher.AEAD // nil when the store is unencrypted
	storeKey   []byte
}

// New builds a Codec for the given page size and options. storeKey may be
// nil to disable encryption; otherwise it must be exactly 16 bytes (AES-128).
func New(pageSize int, compressor Compressor, storeKey []byte) (*Codec, error) {
	c := &Codec{pageSize: pageSize, compressor: compressor}
	if storeKey == nil {
		return c, nil
	}
	if len(storeKey) != 16 {
		return nil, fmt.Errorf("%w: store key must be 16 bytes for aes-128-gcm, got %d", ErrInvalidKey, len(storeKey))
	}
	block, err := aes.NewCipher(storeKey)
	if err != nil {
		return nil, fmt.Errorf("page: aes-128-gcm: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("page: aes-128-gcm: %w", err)
	}
	c.aead = aead
	c.storeKey = append([]byte(nil), storeKey...)
	return c, nil
}

// Encrypted reports whether the codec seals pages with AEAD rather than
// checksumming them.
func (c *Codec) Encrypted() bool { return c.aead != nil }

// Zeroize wipes the retained copy of the store key from memory. Called on
// Close (spec §5: "the codec's encryption key is held for the lifetime of
// the handle and zeroized on close"). The codec must not be used again
// afterward.
func (c *Codec) Zeroize() {
	for i := range c.storeKey {
		c.storeKey[i] = 0
	}
	c.aead = nil
}

// aeadOverhead is the number of trailing bytes the AEAD tag occupies; 0
// when encryption is disabled.
func (c *Codec) aeadOverhead() int {
	if c.aead == nil {
		return 0
	}
	return c.aead.Overhead()
}

// BodyCapacity is the number of payload bytes a single page can hold after
// the header and (if enabled) the AEAD tag are accounted for.
func (c *Codec) BodyCapacity() int {
	return c.pageSize - HeaderSize - c.aeadOverhead()
}

// Encode serializes kind/body into a single page-sized block addressed at
// pageNo, stamped with treeVersion. body must fit within BodyCapacity after
// any compression; the caller (the B+ tree engine) is responsible for
// splitting or spilling to overflow chains before calling Encode.
func (c *Codec) Encode(pageNo uint64, kind Kind, treeVersion uint64, body []byte) ([]byte, error) {
	flags := uint8(0)

	if c.compressor == CompressorLz4 && kind == KindOverflow {
		compressed := make([]byte, lz4.CompressBlockBound(len(body)))
		var comp lz4.Compressor
		n, err := comp.CompressBlock(body, compressed)
		if err == nil && n > 0 && n < len(body) {
			body = compressed[:n]
			flags |= FlagCompressed
		}
	}

	capacity := c.BodyCapacity()
	if len(body) > capacity {
		return nil, fmt.Errorf("page: body of %d bytes exceeds capacity %d for page size %d", len(body), capacity, c.pageSize)
	}

	block := make([]byte, c.pageSize)
	h := Header{
		Magic:       Magic,
		Version:     Version,
		Kind:        kind,
		Flags:       flags,
		PageNo:      pageNo,
		TreeVersion: treeVersion,
		PayloadLen:  uint32(len(body)),
	}
	h.encode(block[:HeaderSize])
	copy(block[HeaderSize:HeaderSize+len(body)], body)
	// the gap between payload and the AEAD tag (or end of block, if
	// unencrypted) is left zeroed by make([]byte, ...).

	if c.aead != nil {
		nonce, err := c.nonce(pageNo, treeVersion)
		if err != nil {
			return nil, err
		}
		plainEnd := c.pageSize - c.aead.Overhead()
		aad := block[:HeaderSize]
		plain := append([]byte(nil), block[HeaderSize:plainEnd]...)
		sealed := c.aead.Seal(nil, nonce, plain, aad)
		copy(block[HeaderSize:], sealed)
		return block, nil
	}

	h.Checksum = checksum32(block) // header field is still zero at this point
	h.encode(block[:HeaderSize])
	return block, nil
}

// Decode is the inverse of Encode. It verifies integrity and, if the body
// was lz4-compressed, decompresses it. rawLen sizes the decompression
// buffer and must be at least the original (uncompressed) length; pass 0
// to use a fixed buffer of eight page sizes instead.
func (c *Codec) Decode(pageNo uint64, block []byte, rawLen int) (Header, []byte, error) {
	if len(block) != c.pageSize {
		return Header{}, nil, fmt.Errorf("page: block is %d bytes, want %d", len(block), c.pageSize)
	}

	h, err := decodeHeader(block)
	if err != nil {
		return Header{}, nil, err
	}

	var body []byte
	if c.aead != nil {
		nonce, err := c.nonce(pageNo, h.TreeVersion)
		if err != nil {
			return Header{}, nil, err
		}
		aad := block[:HeaderSize]
		plain, err := c.aead.Open(nil, nonce, block[HeaderSize:], aad)
		if err != nil {
			return Header{}, nil, fmt.Errorf("%w: aes-128-gcm open failed for page %d: %v", ErrIntegrity, pageNo, err)
		}
		if int(h.PayloadLen) > len(plain) {
			return Header{}, nil, fmt.Errorf("%w: payload_len %d exceeds decrypted size %d for page %d", ErrIntegrity, h.PayloadLen, len(plain), pageNo)
		}
		body = plain[:h.PayloadLen]
	} else {
		zeroed := append([]byte(nil), block...)
		binary.LittleEndian.PutUint32(zeroed[28:32], 0)
		sum := checksum32(zeroed)
		if sum != h.Checksum {
			return Header{}, nil, fmt.Errorf("%w: checksum mismatch for page %d", ErrIntegrity, pageNo)
		}
		if HeaderSize+int(h.PayloadLen) > len(block) {
			return Header{}, nil, fmt.Errorf("%w: payload_len %d overruns block on page %d", ErrIntegrity, h.PayloadLen, pageNo)
		}
		body = block[HeaderSize : HeaderSize+int(h.PayloadLen)]
	}

	if h.Magic != Magic {
		return Header{}, nil, fmt.Errorf("%w: bad magic on page %d", ErrFormat, pageNo)
	}
	if h.Version != Version {
		return Header{}, nil, fmt.Errorf("%w: unsupported version %d on page %d", ErrFormat, h.Version, pageNo)
	}
	if h.PageNo != pageNo {
		return Header{}, nil, fmt.Errorf("%w: page %d has header page_no %d", ErrIntegrity, pageNo, h.PageNo)
	}

	if h.Flags&FlagCompressed != 0 {
		size := rawLen
		if size <= 0 {
			size = c.pageSize * 8
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return Header{}, nil, fmt.Errorf("page: lz4 decompress page %d: %w", pageNo, err)
		}
		body = out[:n]
	}

	return h, body, nil
}

// nonce derives a per-page, per-version 96-bit nonce via HKDF so that a
// (page_no, tree_version) pair is never encrypted twice with the same key
// and nonce: copy-on-write never rewrites that pair once committed.
func (c *Codec) nonce(pageNo, treeVersion uint64) ([]byte, error) {
	info := make([]byte, 16)
	binary.LittleEndian.PutUint64(info[0:8], pageNo)
	binary.LittleEndian.PutUint64(info[8:16], treeVersion)
	r := hkdf.New(sha256.New, c.storeKey, []byte("digby-nonce"), info)
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("page: derive nonce: %w", err)
	}
	return nonce, nil
}

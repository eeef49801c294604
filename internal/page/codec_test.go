package page

import (
	"bytes"
	"errors"
	"testing"
)

func TestCodecChecksumRoundTrip(t *testing.T) {
	c, err := New(4096, CompressorNone, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := []byte("hello digby")
	block, err := c.Encode(7, KindLeaf, 3, body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(block) != 4096 {
		t.Fatalf("block length = %d, want 4096", len(block))
	}

	h, got, err := c.Decode(7, block, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if h.Kind != KindLeaf || h.PageNo != 7 || h.TreeVersion != 3 {
		t.Errorf("header mismatch: %+v", h)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("body mismatch: got %q, want %q", got, body)
	}
}

func TestCodecChecksumDetectsCorruption(t *testing.T) {
	c, err := New(4096, CompressorNone, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	block, err := c.Encode(1, KindLeaf, 0, []byte("payload"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	block[HeaderSize] ^= 0xFF

	if _, _, err := c.Decode(1, block, 0); err == nil {
		t.Fatal("expected integrity error for flipped byte, got nil")
	} else if !errors.Is(err, ErrIntegrity) {
		t.Errorf("error = %v, want wrapping ErrIntegrity", err)
	}
}

func TestCodecWrongPageNoIsIntegrityError(t *testing.T) {
	c, err := New(4096, CompressorNone, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	block, err := c.Encode(5, KindLeaf, 0, []byte("x"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, _, err := c.Decode(6, block, 0); err == nil {
		t.Fatal("expected integrity error for mismatched page_no, got nil")
	} else if !errors.Is(err, ErrIntegrity) {
		t.Errorf("error = %v, want wrapping ErrIntegrity", err)
	}
}

func TestCodecAESGCMRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	c, err := New(4096, CompressorNone, key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.Encrypted() {
		t.Fatal("Encrypted() = false, want true")
	}

	body := []byte("secret payload")
	block, err := c.Encode(2, KindLeaf, 1, body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Contains(block, body) {
		t.Error("ciphertext must not contain the plaintext body")
	}

	_, got, err := c.Decode(2, block, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("body mismatch: got %q, want %q", got, body)
	}
}

func TestCodecAESGCMWrongKeyFails(t *testing.T) {
	key1 := bytes.Repeat([]byte{0x01}, 16)
	key2 := bytes.Repeat([]byte{0x02}, 16)

	c1, err := New(4096, CompressorNone, key1)
	if err != nil {
		t.Fatalf("New c1: %v", err)
	}
	c2, err := New(4096, CompressorNone, key2)
	if err != nil {
		t.Fatalf("New c2: %v", err)
	}

	block, err := c1.Encode(9, KindLeaf, 0, []byte("top secret"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, _, err := c2.Decode(9, block, 0); err == nil {
		t.Fatal("expected decode with wrong key to fail")
	}
}

func TestCodecRejectsShortKey(t *testing.T) {
	if _, err := New(4096, CompressorNone, []byte("tooshort")); err == nil {
		t.Fatal("expected error for non-16-byte key")
	}
}

func TestCodecLz4OnlyCompressesOverflow(t *testing.T) {
	c, err := New(4096, CompressorLz4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	compressible := bytes.Repeat([]byte("digbydigbydigby"), 100)

	overflowBlock, err := c.Encode(10, KindOverflow, 0, compressible)
	if err != nil {
		t.Fatalf("Encode overflow: %v", err)
	}
	_, got, err := c.Decode(10, overflowBlock, len(compressible))
	if err != nil {
		t.Fatalf("Decode overflow: %v", err)
	}
	if !bytes.Equal(got, compressible) {
		t.Error("overflow round-trip mismatch after lz4")
	}

	// A leaf page holding the same bytes must not be compressed: the
	// FlagCompressed bit only ever applies to overflow bodies.
	leafBlock, err := c.Encode(11, KindLeaf, 0, compressible[:100])
	if err != nil {
		t.Fatalf("Encode leaf: %v", err)
	}
	h, _, err := c.Decode(11, leafBlock, 0)
	if err != nil {
		t.Fatalf("Decode leaf: %v", err)
	}
	if h.Flags&FlagCompressed != 0 {
		t.Error("leaf page must never be compressed")
	}
}

func TestCodecBodyCapacityAccountsForAEADOverhead(t *testing.T) {
	plain, _ := New(4096, CompressorNone, nil)
	key := bytes.Repeat([]byte{0x7}, 16)
	sealed, _ := New(4096, CompressorNone, key)

	if sealed.BodyCapacity() >= plain.BodyCapacity() {
		t.Errorf("sealed capacity %d must be smaller than plain capacity %d", sealed.BodyCapacity(), plain.BodyCapacity())
	}
}

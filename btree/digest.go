package btree

import (
	"crypto/sha256"

	"github.com/digby-db/digby/internal/pageformat"
)

// digestKey builds the spec §4.6 long-key digest: the key's first 224
// bytes concatenated with its sha256, for keys longer than
// pageformat.DigestPrefixLen. Two distinct keys collide under this digest
// only if they share their first 224 bytes and collide in sha256, treated
// as cryptographically impossible; the engine still verifies the full key
// from overflow on every hit (verifyDigestedKey in overflow.go).
func digestKey(key []byte) []byte {
	d := make([]byte, pageformat.DigestSize)
	copy(d, key[:pageformat.DigestPrefixLen])
	sum := sha256.Sum256(key)
	copy(d[pageformat.DigestPrefixLen:], sum[:])
	return d
}

// comparisonKeyFor returns what the tree actually compares: key itself if
// short enough to stay inline, else its digest.
func comparisonKeyFor(key []byte) (cmpKey []byte, digested bool) {
	if len(key) > pageformat.DigestPrefixLen {
		return digestKey(key), true
	}
	return key, false
}

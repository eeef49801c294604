package digby_test

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digby-db/digby"
	"github.com/digby-db/digby/mem"
)

// S1 (spec §8): open, put, get, close, reopen, get. mem.File.Close
// releases its backing memory (documented, matching *os.File only in
// the handle sense), so this exercises durability by opening a second
// DB over the same bytes without tearing down the first one — every
// Put already committed before returning, so nothing is lost either way.
func TestRoundTripAcrossReopen(t *testing.T) {
	var f mem.File

	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("hello"), []byte("world")))
	val, err := db.Get([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte("world"), val)

	db2, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	defer db2.Close()

	val, err = db2.Get([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte("world"), val)
}

func TestGetMissingKeyReturnsNilNil(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	defer db.Close()

	val, err := db.Get([]byte("nope"))
	require.NoError(t, err)
	require.Nil(t, val)
}

// S2 (spec §8): many random keys, ordered iteration, deletion of evens.
func TestManyKeysOrderingAndDeletion(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	defer db.Close()

	const n = 500
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%05d", i))
		require.NoError(t, db.Put(keys[i], []byte(fmt.Sprintf("val-%d", i))))
	}

	var seen [][]byte
	require.NoError(t, db.All(func(key, _ []byte) error {
		seen = append(seen, append([]byte(nil), key...))
		return nil
	}))
	require.True(t, sort.SliceIsSorted(seen, func(i, j int) bool {
		return bytes.Compare(seen[i], seen[j]) < 0
	}), "in-order traversal must yield ascending keys")
	require.Len(t, seen, n)

	for i := 0; i < n; i += 2 {
		ok, err := db.Delete(keys[i])
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := 0; i < n; i++ {
		val, err := db.Get(keys[i])
		require.NoError(t, err)
		if i%2 == 0 {
			require.Nil(t, val, "deleted key %s should be gone", keys[i])
		} else {
			require.Equal(t, []byte(fmt.Sprintf("val-%d", i)), val)
		}
	}
}

func TestDeleteReportsPresence(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	defer db.Close()

	ok, err := db.Delete([]byte("absent"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	ok, err = db.Delete([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = db.Delete([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

// S3 (spec §8): a 1 MiB value round-trips through overflow chains.
func TestLargeValueOverflowChain(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	defer db.Close()

	big := make([]byte, 1<<20) // 1 MiB, several overflow pages at 4 KiB
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, db.Put([]byte("blob"), big))

	got, err := db.Get([]byte("blob"))
	require.NoError(t, err)
	require.Equal(t, big, got)
}

// S4 (spec §8): a key over the 224-byte digest threshold, plus a second
// key sharing the 224-byte prefix but differing after it.
func TestLongKeyDigesting(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	defer db.Close()

	prefix := bytes.Repeat([]byte("a"), 224)
	k1 := append(append([]byte(nil), prefix...), []byte("-first-tail")...)
	k2 := append(append([]byte(nil), prefix...), []byte("-second-tail")...)
	require.NoError(t, db.Put(k1, []byte("v1")))
	require.NoError(t, db.Put(k2, []byte("v2")))

	v1, err := db.Get(k1)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v1)

	v2, err := db.Get(k2)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v2)
}

// S6 (spec §8): reopening with a mismatched page size is a Format error.
func TestReopenMismatchedPageSizeFails(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	_, err = digby.OpenFile(&f, digby.WithPageSize(8192))
	require.ErrorIs(t, err, digby.ErrFormat)
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	ro, err := digby.OpenFile(&f, digby.WithPageSize(4096), digby.WithReadOnly())
	require.NoError(t, err)
	defer ro.Close()

	val, err := ro.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)

	err = ro.Put([]byte("k2"), []byte("v2"))
	require.ErrorIs(t, err, digby.ErrReadOnly)
}

func TestClosedDBRejectsOperations(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "Close is idempotent")

	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, digby.ErrClosed)

	err = db.Put([]byte("k"), []byte("v"))
	require.ErrorIs(t, err, digby.ErrClosed)
}

// Encryption round-trip, plus S5: flipping a ciphertext byte surfaces
// Integrity rather than silently returning wrong data.
func TestEncryptedRoundTripAndTamperDetection(t *testing.T) {
	var f mem.File
	key := bytes.Repeat([]byte{0x11}, 16)

	db, err := digby.OpenFile(&f, digby.WithPageSize(4096), digby.WithEncryptionKey(key))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("secret"), []byte("value")))

	db2, err := digby.OpenFile(&f, digby.WithPageSize(4096), digby.WithEncryptionKey(key))
	require.NoError(t, err)
	val, err := db2.Get([]byte("secret"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), val)

	// Page 0 and 1 are the meta slots; page 2 is the first body page
	// ever allocated, here the leaf holding "secret". Flip a byte well
	// past its header, inside the AEAD ciphertext.
	const leafOffset = 2*4096 + 64
	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, leafOffset)
	require.NoError(t, err)
	buf[0] ^= 0xFF
	_, err = f.WriteAt(buf, leafOffset)
	require.NoError(t, err)

	db3, err := digby.OpenFile(&f, digby.WithPageSize(4096), digby.WithEncryptionKey(key))
	if err != nil {
		require.ErrorIs(t, err, digby.ErrIntegrity)
		return
	}
	defer db3.Close()
	_, err = db3.Get([]byte("secret"))
	require.ErrorIs(t, err, digby.ErrIntegrity)
}

func TestCompressedOverflowRoundTrip(t *testing.T) {
	var f mem.File
	db, err := digby.OpenFile(&f, digby.WithPageSize(4096), digby.WithCompressor(digby.CompressorLz4))
	require.NoError(t, err)
	defer db.Close()

	val := bytes.Repeat([]byte("compressible-data-"), 10000)
	require.NoError(t, db.Put([]byte("k"), val))
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, val, got)
}

package freepage

import (
	"testing"

	"github.com/digby-db/digby/internal/cache"
	"github.com/digby-db/digby/internal/page"
)

// unusedDevice/unusedCodec satisfy cache.Cache's constructor without ever
// being called: every page this test touches is staged through Cache.Put
// before it's read back, so Cache.Read never falls through to them.
type unusedDevice struct{}

func (unusedDevice) Read(pageNo uint64) ([]byte, error) {
	panic("freepage test: unexpected device read")
}

type unusedCodec struct{}

func (unusedCodec) Decode(pageNo uint64, block []byte, rawLen int) (page.Header, []byte, error) {
	panic("freepage test: unexpected codec decode")
}
func (unusedCodec) BodyCapacity() int { return 4096 }

func TestAllocateMintsSequentialPageNumbersWhenEmpty(t *testing.T) {
	c := cache.New(unusedDevice{}, unusedCodec{})
	m := New(c, 4096, 0, 2, 0)

	if err := m.BeginTxn(); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	for want := uint64(2); want < 5; want++ {
		pn, err := m.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if pn != want {
			t.Errorf("Allocate() = %d, want %d", pn, want)
		}
	}
}

func TestFreedPageBecomesReusableAfterTwoCommits(t *testing.T) {
	c := cache.New(unusedDevice{}, unusedCodec{})
	m := New(c, 4096, 0, 2, 0)

	if err := m.BeginTxn(); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	pn, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	m.Free(pn)

	root, err := m.Commit(1)
	if err != nil {
		t.Fatalf("Commit 1: %v", err)
	}
	if root == 0 {
		t.Fatal("expected a non-empty freelist root after freeing a page")
	}

	// tree_version is now 1, the same version the page was freed at: not
	// yet old enough to be reused (spec §4.4's one-retained-snapshot rule).
	m2 := New(c, 4096, root, m.NextPageNo(), 1)
	if err := m2.BeginTxn(); err != nil {
		t.Fatalf("BeginTxn (v1): %v", err)
	}
	next, err := m2.Allocate()
	if err != nil {
		t.Fatalf("Allocate (v1): %v", err)
	}
	if next == pn {
		t.Error("page freed at the same version as the reader's base must not be reused yet")
	}

	// Advance one more version with no-op commit; now tree_version=2,
	// threshold = 2-1 = 1 >= free_at_version(1), so it is reusable.
	root2, err := m2.Commit(2)
	if err != nil {
		t.Fatalf("Commit 2: %v", err)
	}
	m3 := New(c, 4096, root2, m2.NextPageNo(), 2)
	if err := m3.BeginTxn(); err != nil {
		t.Fatalf("BeginTxn (v2): %v", err)
	}
	reused, err := m3.Allocate()
	if err != nil {
		t.Fatalf("Allocate (v2): %v", err)
	}
	if reused != pn {
		t.Errorf("Allocate() = %d, want the freed page %d to be reused", reused, pn)
	}
}

func TestCommitWithNoFreesLeavesRootEmpty(t *testing.T) {
	c := cache.New(unusedDevice{}, unusedCodec{})
	m := New(c, 4096, 0, 2, 0)

	if err := m.BeginTxn(); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	if _, err := m.Allocate(); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	root, err := m.Commit(1)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if root != 0 {
		t.Errorf("root = %d, want 0 (no pages were ever freed)", root)
	}
}

func TestBuildTreeSpillsAcrossMultipleLeaves(t *testing.T) {
	// A tiny capacity forces many leaves and at least one internal level.
	const capacity = 2 + 3*16 // room for exactly 3 FreeRecords per leaf
	c := cache.New(unusedDevice{}, unusedCodec{})
	m := New(c, capacity, 0, 2, 0)

	if err := m.BeginTxn(); err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	const n = 50
	pages := make([]uint64, n)
	for i := range pages {
		pn, err := m.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		pages[i] = pn
		m.Free(pn)
	}

	root, err := m.Commit(1)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if root == 0 {
		t.Fatal("expected non-empty root for 50 freed records")
	}

	records, _, err := m.scanTree(root)
	if err != nil {
		t.Fatalf("scanTree: %v", err)
	}
	if len(records) != n {
		t.Fatalf("scanTree found %d records, want %d", len(records), n)
	}
}

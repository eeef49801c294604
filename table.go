package digby

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/digby-db/digby/btree"
)

// tableRecord is the value a name maps to in the tables tree (spec
// §4.8): the table's own tree root plus the tree_version it was last
// written at. It carries no other metadata — a table is nothing more
// than an independently rooted B+ tree living inside the same commit as
// the global tree and every other table.
type tableRecord struct {
	root        uint64
	treeVersion uint64
}

const tableRecordSize = 16

func encodeTableRecord(r tableRecord) []byte {
	buf := make([]byte, tableRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.root)
	binary.LittleEndian.PutUint64(buf[8:16], r.treeVersion)
	return buf
}

func decodeTableRecord(b []byte) (tableRecord, error) {
	if len(b) != tableRecordSize {
		return tableRecord{}, fmt.Errorf("%w: table record is %d bytes, want %d", ErrFormat, len(b), tableRecordSize)
	}
	return tableRecord{
		root:        binary.LittleEndian.Uint64(b[0:8]),
		treeVersion: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// CreateTable registers name as a new, empty table (spec §4.8, §6). It
// is one commit, same as Put: the tables tree gains a record and nothing
// else changes.
func (db *DB) CreateTable(name []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.mutate(func(_, tables *btree.Tree, version uint64) error {
		if _, err := tables.Get(name); err == nil {
			return ErrTableExists
		} else if !errors.Is(err, btree.ErrNotFound) {
			return err
		}
		return tables.Put(name, encodeTableRecord(tableRecord{root: 0, treeVersion: version}))
	})
}

// DropTable frees every page belonging to name's table — its internal,
// leaf, and overflow pages, via the same pending_free set the rest of
// the transaction uses — then removes its record from the tables tree.
// Both happen within one commit (spec §4.8).
func (db *DB) DropTable(name []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.mutate(func(_, tables *btree.Tree, version uint64) error {
		rec, err := db.lookupTableRecord(tables, name)
		if err != nil {
			return err
		}
		tree := btree.Open(db.cache, db.alloc, db.codec.BodyCapacity(), rec.root, version)
		if err := tree.DropAll(); err != nil {
			return err
		}
		return tables.Delete(name)
	})
}

// lookupTableRecord resolves name against tables, translating a miss into
// ErrTableMissing rather than the lower-level ErrNotFound.
func (db *DB) lookupTableRecord(tables *btree.Tree, name []byte) (tableRecord, error) {
	raw, err := tables.Get(name)
	if err != nil {
		if errors.Is(err, btree.ErrNotFound) {
			return tableRecord{}, ErrTableMissing
		}
		return tableRecord{}, err
	}
	return decodeTableRecord(raw)
}

// mutateTable runs fn against name's table tree, rebuilt at this
// transaction's target tree_version, and folds the resulting root back
// into the tables tree as part of the same commit as every other tree
// (spec §4.8: "cross-tree transactions are one commit").
func (db *DB) mutateTable(name []byte, fn func(tree *btree.Tree) error) error {
	return db.mutate(func(_, tables *btree.Tree, version uint64) error {
		rec, err := db.lookupTableRecord(tables, name)
		if err != nil {
			return err
		}
		tree := btree.Open(db.cache, db.alloc, db.codec.BodyCapacity(), rec.root, version)
		if err := fn(tree); err != nil {
			return err
		}
		return tables.Put(name, encodeTableRecord(tableRecord{root: tree.Root(), treeVersion: version}))
	})
}

// Table is a handle routing Put/Get/Delete/All to name's own B+ tree
// root, the same operations the façade exposes on the global tree (spec
// §6's `table(name).{put,get,delete}`). Table does not cache anything
// across calls; every method re-reads the tables tree's current record.
type Table struct {
	db   *DB
	name []byte
}

// Table returns a handle for name. The handle is valid immediately but
// every operation against it fails with ErrTableMissing until
// CreateTable(name) has committed.
func (db *DB) Table(name []byte) *Table {
	return &Table{db: db, name: append([]byte(nil), name...)}
}

// Put inserts key/val into the table, or replaces val if key is already
// present.
func (tb *Table) Put(key, val []byte) error {
	tb.db.mu.Lock()
	defer tb.db.mu.Unlock()
	return tb.db.mutateTable(tb.name, func(tree *btree.Tree) error {
		return tree.Put(key, val)
	})
}

// Get returns the value stored for key in the table, or (nil, nil) if
// key is absent.
func (tb *Table) Get(key []byte) ([]byte, error) {
	tb.db.mu.Lock()
	defer tb.db.mu.Unlock()
	if tb.db.closed {
		return nil, fmt.Errorf("%w", ErrClosed)
	}
	tree, err := tb.readTree()
	if err != nil {
		return nil, err
	}
	val, err := tree.Get(key)
	if err != nil {
		if errors.Is(err, btree.ErrNotFound) {
			return nil, nil
		}
		return nil, mapErr(err)
	}
	return val, nil
}

// Delete removes key from the table, reporting whether it was present.
func (tb *Table) Delete(key []byte) (bool, error) {
	tb.db.mu.Lock()
	defer tb.db.mu.Unlock()
	if tb.db.closed {
		return false, fmt.Errorf("%w", ErrClosed)
	}
	tree, err := tb.readTree()
	if err != nil {
		return false, err
	}
	if _, err := tree.Get(key); err != nil {
		if errors.Is(err, btree.ErrNotFound) {
			return false, nil
		}
		return false, mapErr(err)
	}
	if err := tb.db.mutateTable(tb.name, func(tree *btree.Tree) error {
		return tree.Delete(key)
	}); err != nil {
		return false, err
	}
	return true, nil
}

// All visits every key/value pair in the table in strictly ascending key
// order (spec §8.3), same guarantee as DB.All.
func (tb *Table) All(fn func(key, val []byte) error) error {
	tb.db.mu.Lock()
	defer tb.db.mu.Unlock()
	if tb.db.closed {
		return fmt.Errorf("%w", ErrClosed)
	}
	tree, err := tb.readTree()
	if err != nil {
		return err
	}
	return mapErr(tree.Each(fn))
}

// readTree resolves tb's name against the façade's committed tables tree
// and opens its current root read-only. The caller must already hold
// tb.db.mu.
func (tb *Table) readTree() (*btree.Tree, error) {
	rec, err := tb.db.lookupTableRecord(tb.db.tables, tb.name)
	if err != nil {
		return nil, mapErr(err)
	}
	meta := tb.db.store.Current()
	return btree.Open(tb.db.cache, tb.db.alloc, tb.db.codec.BodyCapacity(), rec.root, meta.TreeVersion), nil
}

// Package block implements the rectangular batch of named, typed columns
// that spec §3 calls a Block — the unit of data flow between stream
// operators. Grounded on the teacher's pkg/container/batch.Batch, which
// pairs a Vecs slice with a parallel Attrs name slice and a rowCount; we
// keep that shape (ordered name/column pairs plus a cached row count)
// instead of a map, since column order must be stable for NativeCodec's
// wire framing (spec §4.7).
package block

import (
	"github.com/colstream/colstream/pkg/common/dberr"
	"github.com/colstream/colstream/pkg/container/column"
)

// Entry is one (name, column) pair within a Block, in insertion order.
type Entry struct {
	Name string
	Col  column.Column
}

// Block is an ordered collection of (name, type, column) triples. All
// invariants of spec §4.1 are enforced by Insert; a Block built any other
// way (e.g. a struct literal) is the caller's responsibility.
type Block struct {
	entries []Entry
	index   map[string]int
	rows    int
}

// New returns the empty Block — the terminator sentinel of spec §4.2.
func New() *Block {
	return &Block{index: make(map[string]int)}
}

// Empty reports whether this Block is the end-of-stream sentinel: no
// columns and no fixed row count.
func (b *Block) Empty() bool {
	return len(b.entries) == 0
}

// Rows returns the block's row count. Zero for a freshly constructed
// empty block that has not yet had a column inserted.
func (b *Block) Rows() int {
	return b.rows
}

// Has reports whether a column with this name is present.
func (b *Block) Has(name string) bool {
	_, ok := b.index[name]
	return ok
}

// Column returns the named column and true, or (nil, false).
func (b *Block) Column(name string) (column.Column, bool) {
	i, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return b.entries[i].Col, true
}

// Columns returns the block's entries in insertion order. The slice is
// shared with the block's internal storage and must not be mutated.
func (b *Block) Columns() []Entry {
	return b.entries
}

// Insert adds a column under name. An empty block fixes its row count on
// the first insert; every later Insert on the same block must
// match that row count exactly (ShapeMismatch), and every name must be
// unique (DuplicateColumn) — spec §4.1.
func (b *Block) Insert(name string, col column.Column) error {
	if b.Has(name) {
		return dberr.NewDuplicateColumn(name)
	}
	if len(b.entries) == 0 {
		b.rows = col.Len()
	} else if col.Len() != b.rows {
		return dberr.NewShapeMismatch(name, col.Len(), b.rows)
	}
	b.index[name] = len(b.entries)
	b.entries = append(b.entries, Entry{Name: name, Col: col})
	return nil
}

// Clone returns a shallow copy of b: a fresh Block referencing the same
// Column values. Operators that add or remove columns without mutating
// upstream data (spec §3: "operators produce fresh blocks rather than
// mutating inputs") build on this instead of Insert-ing into b directly.
func (b *Block) Clone() *Block {
	out := New()
	out.rows = b.rows
	out.entries = append([]Entry(nil), b.entries...)
	out.index = make(map[string]int, len(b.index))
	for k, v := range b.index {
		out.index[k] = v
	}
	return out
}

// Package column implements the Column contract of spec §3/§4.1: a named,
// typed, homogeneous vector that is either materialized (explicit per-row
// values) or constant (one value logically repeated n times), grounded on
// the teacher's pkg/container/vector.Vector — which tags a column's
// "class" (FLAT/CONSTANT/DIST) on one concrete struct rather than using
// distinct types per variant. We follow the same shape, but generic over
// the element type and trimmed to what this subsystem needs (no null
// bitmap, no dictionary class — those belong to the storage engine, out of
// scope per spec §1).
package column

// DataType is the declared type of a Column: a stable name for the wire
// (spec §4.7's type-name framing), a default value used by
// AddingDefaultStream, and constructors for empty and constant columns of
// that type.
type DataType interface {
	// Name is the stable, wire-visible type name (e.g. "Int16", "String").
	Name() string
	// Default is the zero value spec §4.5 fills missing columns with.
	Default() any
	// NewEmpty returns a materialized column of length 0, ready to Append.
	NewEmpty() Column
	// NewConstant returns a constant column of length n holding value.
	// Passing nil uses Default().
	NewConstant(n int, value any) Column
}

// Column is a single named, typed vector within a Block.
type Column interface {
	Type() DataType
	// Len is the column's length: n for a constant column, len(values) for
	// a materialized one.
	Len() int
	// Get returns the value at row i. For a constant column every i in
	// [0, Len()) returns the same value.
	Get(i int) any
	// Append adds a value to a materialized column. Calling it on a
	// constant column is a ProtocolMisuse-class programming fault.
	Append(v any)
	IsConst() bool
	// Expand returns a materialized column of the same length and values.
	// Materialized columns return themselves; constant columns build a
	// fresh backing slice, honoring "operators produce fresh blocks rather
	// than mutating inputs" (spec §3).
	Expand() Column
}

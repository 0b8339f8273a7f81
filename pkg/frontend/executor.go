package frontend

import (
	"github.com/colstream/colstream/pkg/container/block"
	"github.com/colstream/colstream/pkg/vm/stream"
)

// Stage selects how far the executor pushes a query's plan before
// handing back a pipeline (spec §4.9.4's "fetch columns / with
// aggregation state / complete").
type Stage uint64

const (
	StageFetchColumns Stage = iota
	StageWithState
	StageComplete
)

// Pipeline is what a QueryExecutor hands back for one query: at most one
// of In/Out is set depending on whether the query is a SELECT or an
// INSERT, each paired with the sample block describing its schema (spec
// §6 "Sample-block convention").
type Pipeline struct {
	In       stream.BlockInputStream
	InSample *block.Block

	Out       stream.BlockOutputStream
	OutSample *block.Block
}

// QueryExecutor is the external collaborator spec §6 names: given query
// text and a stage, it returns a pipeline realizing that query. Storage
// engines, SQL parsing, and plan compilation all live behind this
// boundary — out of scope per spec §1.
type QueryExecutor interface {
	Execute(ctx *QueryContext, queryText string, stage Stage) (*Pipeline, error)
}

// QueryContext carries the per-connection state a QueryExecutor needs to
// resolve a query: which database is selected and which query_id this
// invocation belongs to (for the executor's own bookkeeping/cancellation,
// if it keeps any).
type QueryContext struct {
	Database string
	QueryID  uint64
}

// CatalogContext is the external collaborator spec §6 names for resolving
// and switching the connection's current database.
type CatalogContext interface {
	HasDatabase(name string) bool
	SetCurrentDatabase(name string)
}

// ShutdownSignal is the process-wide "stop accepting work" flag spec §2
// and §4.9.2 name; the main loop consults it on every bounded poll.
type ShutdownSignal interface {
	IsCancelled() bool
}

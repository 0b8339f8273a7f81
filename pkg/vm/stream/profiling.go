package stream

import (
	"sync/atomic"

	"github.com/colstream/colstream/pkg/container/block"
)

// ProfilingView is the explicit capability spec's Design Notes §9 asks
// for in place of the teacher's runtime type identification: the
// orchestrator checks for this interface via a type assertion instead of
// walking a class hierarchy, so any BlockInputStream can opt in without
// this package knowing its concrete type.
type ProfilingView interface {
	// SetCallbacks installs the cancellation and progress callbacks and
	// propagates them to any ProfilingView children, so the root
	// connection only ever calls this once (spec §4.9.5).
	SetCallbacks(cancel func() bool, progress func(rows, bytes uint64))
	// IsCancelled reports whether this stream has already observed
	// cancellation.
	IsCancelled() bool
	// OwnRowsBytes returns this stream's own accumulated row/byte
	// counters, independent of its descendants — the unit LeafRowsBytes
	// sums across the tree's leaves.
	OwnRowsBytes() (rows, bytes uint64)
}

// AsProfilingView performs the capability query: ok is true iff s
// implements ProfilingView.
func AsProfilingView(s BlockInputStream) (ProfilingView, bool) {
	pv, ok := s.(ProfilingView)
	return pv, ok
}

// BytesOf estimates a Block's uncompressed size for progress reporting:
// rows times columns times a flat 8-byte per-cell estimate, whatever the
// column types.
// This is intentionally rough — spec §4.4 only requires "uncompressed
// bytes", not an exact accounting, and exact sizing is a column-type
// concern this package does not own.
func BytesOf(rows int, columnCount int) uint64 {
	const perCellEstimate = 8
	return uint64(rows) * uint64(columnCount) * perCellEstimate
}

// ProfilingInputStream is a mixin that adds row/byte accounting,
// cancellation polling, and progress callbacks to any BlockInputStream
// (spec §4.4). It wraps exactly one upstream, the way the teacher's
// profiling operators wrap a single child rather than fanning out.
type ProfilingInputStream struct {
	upstream BlockInputStream
	name     string
	id       string

	cancel   atomic.Pointer[func() bool]
	progress atomic.Pointer[func(rows, bytes uint64)]

	cancelled  atomic.Bool
	totalRows  atomic.Uint64
	totalBytes atomic.Uint64
}

// NewProfilingInputStream wraps upstream with profiling accounting.
func NewProfilingInputStream(upstream BlockInputStream) *ProfilingInputStream {
	p := &ProfilingInputStream{upstream: upstream, name: "Profiling"}
	p.id = ComputeID(p.name, p.Children())
	return p
}

func (p *ProfilingInputStream) Name() string { return p.name }
func (p *ProfilingInputStream) ID() string   { return p.id }

func (p *ProfilingInputStream) Children() []BlockInputStream {
	return []BlockInputStream{p.upstream}
}

// SetCallbacks installs cancel/progress and propagates to any
// ProfilingView descendant, so cancellation set on the root is visible to
// every stage without each stage needing its own wiring (spec Design
// Notes §9: "operators hold weak access, no lifetime extension").
func (p *ProfilingInputStream) SetCallbacks(cancel func() bool, progress func(rows, bytes uint64)) {
	p.cancel.Store(&cancel)
	p.progress.Store(&progress)
	if pv, ok := AsProfilingView(p.upstream); ok {
		pv.SetCallbacks(cancel, progress)
	}
}

func (p *ProfilingInputStream) IsCancelled() bool {
	return p.cancelled.Load()
}

func (p *ProfilingInputStream) OwnRowsBytes() (rows, bytes uint64) {
	return p.totalRows.Load(), p.totalBytes.Load()
}

// Read polls cancellation before pulling from upstream, promptly
// returning the terminator when cancelled rather than forcibly killing
// the child — the child observes the same shared callback at its own
// next check (spec §5 "Cancellation semantics").
func (p *ProfilingInputStream) Read() (*block.Block, error) {
	if p.cancelled.Load() {
		return block.New(), nil
	}
	if cb := p.cancel.Load(); cb != nil && (*cb)() {
		p.cancelled.Store(true)
		return block.New(), nil
	}

	b, err := p.upstream.Read()
	if err != nil {
		return nil, err
	}
	if !b.Empty() {
		rows := uint64(b.Rows())
		nbytes := BytesOf(b.Rows(), len(b.Columns()))
		p.totalRows.Add(rows)
		p.totalBytes.Add(nbytes)
		if pcb := p.progress.Load(); pcb != nil {
			(*pcb)(rows, nbytes)
		}
	}
	return b, nil
}

package stream

import (
	"github.com/colstream/colstream/pkg/container/block"
	"github.com/colstream/colstream/pkg/container/column"
)

// RequiredColumn names one (name, type) pair a AddingDefaultStream must
// guarantee is present in every block it produces.
type RequiredColumn struct {
	Name string
	Type column.DataType
}

// AddingDefaultStream reconciles an upstream block with a required schema
// by filling in any column the upstream omitted with a constant column of
// that type's default, expanded to a full materialized column (spec
// §4.5). Grounded on the teacher's AddingDefaultStream idiom: the batch
// itself decides what a "materialized default" is (a filled vector), this
// operator just decides which names are missing.
type AddingDefaultStream struct {
	upstream BlockInputStream
	required []RequiredColumn
	name     string
	id       string
}

// NewAddingDefaultStream wraps upstream, guaranteeing every column in
// required is present in every non-empty block this stream produces.
func NewAddingDefaultStream(upstream BlockInputStream, required []RequiredColumn) *AddingDefaultStream {
	s := &AddingDefaultStream{upstream: upstream, required: required, name: "AddingDefault"}
	s.id = ComputeID(s.name, s.Children())
	return s
}

func (s *AddingDefaultStream) Name() string { return s.name }
func (s *AddingDefaultStream) ID() string   { return s.id }

func (s *AddingDefaultStream) Children() []BlockInputStream {
	return []BlockInputStream{s.upstream}
}

// SetCallbacks forwards to the upstream if it is profiling-capable, so an
// AddingDefaultStream can sit between the connection's root profiling
// stream and a further profiling stage without breaking propagation.
func (s *AddingDefaultStream) SetCallbacks(cancel func() bool, progress func(rows, bytes uint64)) {
	if pv, ok := AsProfilingView(s.upstream); ok {
		pv.SetCallbacks(cancel, progress)
	}
}

// IsCancelled reports the upstream's cancellation state, so an
// AddingDefaultStream itself satisfies ProfilingView and a parent's
// SetCallbacks/AsProfilingView chain extends through it rather than
// stopping at the first non-profiling wrapper it meets.
func (s *AddingDefaultStream) IsCancelled() bool {
	if pv, ok := AsProfilingView(s.upstream); ok {
		return pv.IsCancelled()
	}
	return false
}

// OwnRowsBytes has no counters of its own to report, so it delegates to
// the upstream — consistent with SetCallbacks/IsCancelled, and harmless
// either way since LeafRowsBytes only calls OwnRowsBytes on a childless
// node and an AddingDefaultStream always has exactly one child.
func (s *AddingDefaultStream) OwnRowsBytes() (rows, bytes uint64) {
	if pv, ok := AsProfilingView(s.upstream); ok {
		return pv.OwnRowsBytes()
	}
	return 0, 0
}

// Read pulls one block from upstream and, if it is non-empty, fills in
// every required column missing by name. Column order in the output is
// unspecified (spec §4.5); missing columns are appended after the
// upstream's own columns. Errors and the terminator pass through
// untouched.
func (s *AddingDefaultStream) Read() (*block.Block, error) {
	b, err := s.upstream.Read()
	if err != nil {
		return nil, err
	}
	if b.Empty() {
		return b, nil
	}

	out := b.Clone()
	for _, req := range s.required {
		if out.Has(req.Name) {
			continue
		}
		constCol := req.Type.NewConstant(out.Rows(), req.Type.Default())
		filled := constCol.Expand()
		if err := out.Insert(req.Name, filled); err != nil {
			return nil, err
		}
	}
	return out, nil
}

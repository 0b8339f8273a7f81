// Package stream implements the pull-based streaming operator model of
// spec §4.2-§4.6: BlockInputStream/BlockOutputStream, the ProfilingInputStream
// capability, AddingDefaultStream, and AsynchronousStream. Grounded on the
// teacher's operator tree in pkg/sql/colexec (a rooted tree of ops walked
// for plan dump and cancellation) but trimmed to the two operators spec §2
// spells out in depth; everything else that tree does (joins, aggregation,
// expression evaluation) is out of scope per spec §1.
package stream

import (
	"strings"

	"github.com/colstream/colstream/pkg/container/block"
)

// BlockInputStream is a lazy, finite, non-restartable producer of Blocks
// (spec §3, §4.2). The empty Block is the terminator; implementations
// should keep returning it on every call after the first rather than
// erroring, per §4.2.
type BlockInputStream interface {
	// Name is this operator's kind, used in Identity and DumpTree.
	Name() string
	// ID is a deterministic identifier derived from Name and the
	// children's IDs (spec §3 "Identity"), stable across structurally
	// identical pipelines.
	ID() string
	// Children returns this stream's direct upstream operators, in a
	// stable order, for tree traversal.
	Children() []BlockInputStream
	// Read pulls the next Block, or the terminator at end of stream.
	Read() (*block.Block, error)
}

// BlockOutputStream is a push-based consumer of Blocks (spec §4.3).
// WritePrefix must be called exactly once before any Write, and
// WriteSuffix exactly once after the last Write; violating that ordering
// is a ProtocolMisuse-class programming fault, not a data error.
type BlockOutputStream interface {
	WritePrefix() error
	Write(b *block.Block) error
	WriteSuffix() error
}

// ComputeID derives the deterministic identifier spec §3 requires: a
// stream's identity is a pure function of its name and its children's
// identities, so two structurally identical pipelines produce the same
// ID regardless of when they were built.
func ComputeID(name string, children []BlockInputStream) string {
	if len(children) == 0 {
		return name
	}
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID()
	}
	return name + "(" + strings.Join(ids, ",") + ")"
}

// DumpTree renders the pipeline rooted at s as one line per stream holding
// its Name, indented two spaces per level of depth, for the
// ConnectionHandler's pre-execution log (spec §4.9.5
// "Log the stream tree").
func DumpTree(s BlockInputStream) string {
	var sb strings.Builder
	dumpTree(&sb, s, 0)
	return sb.String()
}

func dumpTree(sb *strings.Builder, s BlockInputStream, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(s.Name())
	sb.WriteString("\n")
	for _, c := range s.Children() {
		dumpTree(sb, c, depth+1)
	}
}

// LeafRowsBytes walks s down to its childless descendants and sums the
// counters of those that expose a ProfilingView, distinguishing work done
// at I/O leaves from work amplified by intermediate operators (spec
// §4.4). A leaf with no ProfilingView contributes zero.
func LeafRowsBytes(s BlockInputStream) (rows, bytes uint64) {
	children := s.Children()
	if len(children) == 0 {
		if pv, ok := s.(ProfilingView); ok {
			return pv.OwnRowsBytes()
		}
		return 0, 0
	}
	for _, c := range children {
		r, b := LeafRowsBytes(c)
		rows += r
		bytes += b
	}
	return rows, bytes
}

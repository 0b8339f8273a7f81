package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colstream/colstream/pkg/common/dberr"
	"github.com/colstream/colstream/pkg/container/block"
	"github.com/colstream/colstream/pkg/container/column"
)

func blockOf(t *testing.T, n int32) *block.Block {
	t.Helper()
	b := block.New()
	require.NoError(t, b.Insert("v", column.Int32Type.NewConstant(1, n).Expand()))
	return b
}

func TestAsynchronousStreamPreservesSequenceAndTerminator(t *testing.T) {
	b1, b2 := blockOf(t, 1), blockOf(t, 2)
	upstream := newSliceStream("Upstream", b1, b2)

	s, err := NewAsynchronousStream(upstream)
	require.NoError(t, err)
	defer s.Close()

	out1, err := s.Read()
	require.NoError(t, err)
	require.Same(t, b1, out1)

	out2, err := s.Read()
	require.NoError(t, err)
	require.Same(t, b2, out2)

	term, err := s.Read()
	require.NoError(t, err)
	require.True(t, term.Empty())

	term2, err := s.Read()
	require.NoError(t, err)
	require.True(t, term2.Empty())
}

// erroringStream fails on its Nth read.
type erroringStream struct {
	failAt int
	calls  int
}

func (e *erroringStream) Name() string                 { return "Erroring" }
func (e *erroringStream) ID() string                   { return "Erroring" }
func (e *erroringStream) Children() []BlockInputStream { return nil }

func (e *erroringStream) Read() (*block.Block, error) {
	e.calls++
	if e.calls == e.failAt {
		return nil, dberr.New(dberr.Unknown, "boom")
	}
	return block.New(), nil
}

func TestAsynchronousStreamReRaisesWorkerError(t *testing.T) {
	upstream := &erroringStream{failAt: 1}
	s, err := NewAsynchronousStream(upstream)
	require.NoError(t, err)
	defer s.Close()

	// Poll dispatches the first read to the pool worker, so the error is
	// captured there and re-raised by Read.
	require.True(t, s.Poll(time.Second))

	_, err = s.Read()
	require.Error(t, err)
	require.Equal(t, dberr.Unknown, dberr.KindOf(err))
}

func TestAsynchronousStreamPollDispatchesAndReportsReadiness(t *testing.T) {
	b := blockOf(t, 9)
	upstream := newSliceStream("Upstream", b)
	s, err := NewAsynchronousStream(upstream)
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Poll(time.Second))

	out, err := s.Read()
	require.NoError(t, err)
	require.Same(t, b, out)
}

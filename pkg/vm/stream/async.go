package stream

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/colstream/colstream/pkg/common/dberr"
	"github.com/colstream/colstream/pkg/container/block"
)

// asyncState is the four-state machine spec §4.6 names.
type asyncState int32

const (
	asyncIdle asyncState = iota
	asyncRunning
	asyncReady
	asyncTerminated
)

type asyncResult struct {
	b   *block.Block
	err error
}

// AsynchronousStream decouples a consumer's thread from upstream's by
// running upstream.Read on a background worker, buffering exactly one
// block ahead (spec §4.6). The worker pool is capacity 1 by construction
// — panjf2000/ants gives us a real bounded pool instead of a hand-rolled
// goroutine-plus-channel, the way the teacher reaches for ants.NewPool
// wherever it needs a small fixed-size worker pool (pkg/frontend/data_branch.go,
// pkg/vm/engine/aoe/storage/sched/scheduler.go) — sized to 1 here because
// the single buffered block is a correctness constraint, not a tunable
// (spec Design Notes §9).
type AsynchronousStream struct {
	upstream BlockInputStream
	name, id string

	pool *ants.Pool

	mu         sync.Mutex
	state      asyncState
	dispatched bool
	readyCh    chan struct{}
	result     asyncResult
}

// NewAsynchronousStream wraps upstream with a size-1 prefetch worker.
func NewAsynchronousStream(upstream BlockInputStream) (*AsynchronousStream, error) {
	pool, err := ants.NewPool(1, ants.WithNonblocking(false))
	if err != nil {
		return nil, dberr.NewUpstreamError(err)
	}
	s := &AsynchronousStream{
		upstream: upstream,
		name:     "Asynchronous",
		pool:     pool,
	}
	s.id = ComputeID(s.name, s.Children())
	return s, nil
}

func (s *AsynchronousStream) Name() string { return s.name }
func (s *AsynchronousStream) ID() string   { return s.id }

func (s *AsynchronousStream) Children() []BlockInputStream {
	return []BlockInputStream{s.upstream}
}

func (s *AsynchronousStream) SetCallbacks(cancel func() bool, progress func(rows, bytes uint64)) {
	if pv, ok := AsProfilingView(s.upstream); ok {
		pv.SetCallbacks(cancel, progress)
	}
}

// IsCancelled delegates to the upstream, so an AsynchronousStream itself
// satisfies ProfilingView rather than breaking the AsProfilingView chain
// a parent's SetCallbacks walks — without this, cancellation never reaches
// a ProfilingInputStream running on the background worker underneath.
func (s *AsynchronousStream) IsCancelled() bool {
	if pv, ok := AsProfilingView(s.upstream); ok {
		return pv.IsCancelled()
	}
	return false
}

// OwnRowsBytes delegates to the upstream for the same reason IsCancelled
// does; an AsynchronousStream has no counters of its own.
func (s *AsynchronousStream) OwnRowsBytes() (rows, bytes uint64) {
	if pv, ok := AsProfilingView(s.upstream); ok {
		return pv.OwnRowsBytes()
	}
	return 0, 0
}

// doRead runs upstream.Read on whichever goroutine calls it (caller
// thread for the first read, pool worker for every prefetch), catching
// every error kind — including a panic — so nothing escapes across the
// worker boundary (spec §4.6 "never escapes into the pool").
func (s *AsynchronousStream) doRead() (b *block.Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = dberr.New(dberr.Unknown, "asynchronous worker panicked: %v", r)
		}
	}()
	return s.upstream.Read()
}

// dispatch must be called with s.mu held. It marks a worker in flight and
// submits it to the size-1 pool.
func (s *AsynchronousStream) dispatch() {
	s.dispatched = true
	s.state = asyncRunning
	ready := make(chan struct{})
	s.readyCh = ready
	_ = s.pool.Submit(func() {
		b, err := s.doRead()
		s.mu.Lock()
		s.result = asyncResult{b: b, err: err}
		s.state = asyncReady
		s.mu.Unlock()
		close(ready)
	})
}

// Poll dispatches the first computation if none is in flight yet, then
// waits up to timeout for it to become ready without blocking the caller
// beyond that bound — this is what lets a cooperative cancellation check
// happen without stalling on a slow producer (spec §4.6, §5).
func (s *AsynchronousStream) Poll(timeout time.Duration) bool {
	s.mu.Lock()
	if s.state == asyncTerminated {
		s.mu.Unlock()
		return true
	}
	if !s.dispatched {
		s.dispatch()
	}
	ready := s.readyCh
	s.mu.Unlock()

	select {
	case <-ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Read implements the contract of spec §4.6: synchronous on the very
// first call (amortizing cold-start latency for tiny queries), and
// thereafter waiting on whatever worker is already in flight before
// dispatching the next one. A block is never dispatched again once the
// terminator or an error has been observed.
func (s *AsynchronousStream) Read() (*block.Block, error) {
	s.mu.Lock()
	if s.state == asyncTerminated {
		s.mu.Unlock()
		return block.New(), nil
	}

	if !s.dispatched {
		s.mu.Unlock()
		b, err := s.doRead()
		return s.finish(b, err)
	}

	ready := s.readyCh
	s.mu.Unlock()
	<-ready

	s.mu.Lock()
	res := s.result
	s.dispatched = false
	s.mu.Unlock()
	return s.finish(res.b, res.err)
}

func (s *AsynchronousStream) finish(b *block.Block, err error) (*block.Block, error) {
	if err != nil {
		s.mu.Lock()
		s.state = asyncTerminated
		s.mu.Unlock()
		return nil, err
	}
	if b.Empty() {
		s.mu.Lock()
		s.state = asyncTerminated
		s.mu.Unlock()
		return b, nil
	}

	s.mu.Lock()
	s.dispatch()
	s.mu.Unlock()
	return b, nil
}

// Close waits for any in-flight worker and releases the pool (spec §4.6
// "Destruction waits for any in-flight worker").
func (s *AsynchronousStream) Close() {
	s.mu.Lock()
	ready := s.readyCh
	dispatched := s.dispatched
	s.mu.Unlock()
	if dispatched && ready != nil {
		<-ready
	}
	s.pool.Release()
}

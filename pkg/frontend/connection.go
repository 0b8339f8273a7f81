package frontend

import (
	"bytes"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/colstream/colstream/pkg/codec/native"
	"github.com/colstream/colstream/pkg/codec/wire"
	"github.com/colstream/colstream/pkg/common/dberr"
	"github.com/colstream/colstream/pkg/config"
	"github.com/colstream/colstream/pkg/container/block"
	"github.com/colstream/colstream/pkg/container/column"
	"github.com/colstream/colstream/pkg/logutil"
	"github.com/colstream/colstream/pkg/vm/stream"
)

const (
	serverName       = "colstream-server"
	protocolMajor    = 1
	protocolMinor    = 0
	protocolRevision = 0
)

// throttle is a minimum-interval rate limiter, used for the two stopwatches
// spec §4.9.2.b restarts per query: after_check_cancelled and
// after_send_progress. Not grounded on a specific teacher type — the
// teacher throttles socket polling with a plain time.Now()/time.Since
// comparison inline rather than a named helper, so this factors that
// pattern out instead of inventing a library dependency for it.
type throttle struct {
	interval time.Duration
	last     time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

func (t *throttle) reset() { t.last = time.Now() }

func (t *throttle) ready() bool {
	if time.Since(t.last) < t.interval {
		return false
	}
	t.last = time.Now()
	return true
}

// queryState is the per-query ConnectionState of spec §3: created fresh at
// the start of every main-loop iteration, before the next packet is read,
// and discarded at end-of-stream, exception, or disconnect.
type queryState struct {
	queryID          uint64
	compression      uint64
	isCancelled      atomic.Bool // also set by Server.KillQuery from another goroutine
	sentAllData      bool
	accumRows        uint64
	accumBytes       uint64
	checkThrottle    *throttle
	progressThrottle *throttle
	fatalErr         error
}

// ConnectionHandler binds one accepted socket to a running pipeline for
// the lifetime of the connection (spec §4.9). Grounded on the teacher's
// RoutineManager.Handler/handleHandshake pair collapsed into a single
// object, since this subsystem's handshake and main loop do not need the
// teacher's separate session-pool indirection.
type ConnectionHandler struct {
	conn     *wire.Conn
	registry *column.Registry
	executor QueryExecutor
	catalog  CatalogContext
	shutdown ShutdownSignal
	params   *config.ServerParameters
	logger   *zap.Logger

	connID uint64

	sendMu sync.Mutex

	database string
	state    *queryState
}

// NewConnectionHandler wires raw into a handler ready to Serve.
func NewConnectionHandler(
	raw net.Conn,
	connID uint64,
	registry *column.Registry,
	executor QueryExecutor,
	catalog CatalogContext,
	shutdown ShutdownSignal,
	params *config.ServerParameters,
) *ConnectionHandler {
	return &ConnectionHandler{
		conn:     wire.New(raw),
		registry: registry,
		executor: executor,
		catalog:  catalog,
		shutdown: shutdown,
		params:   params,
		connID:   connID,
		logger:   logutil.GetGlobalLogger().With(zap.Uint64("connID", connID), zap.String("remote", raw.RemoteAddr().String())),
	}
}

// Serve runs the handshake and then the main loop until the peer
// disconnects, the process shuts down, or a fatal error occurs (spec
// §4.9.1-2). It always closes conn before returning.
func (h *ConnectionHandler) Serve() {
	defer h.conn.Close()

	if err := h.handshake(); err != nil {
		h.logger.Info("handshake failed", zap.Error(err))
		return
	}

	for {
		if !h.waitForData() {
			return
		}

		h.state = &queryState{
			checkThrottle:    newThrottle(h.params.InteractiveDelay.Duration),
			progressThrottle: newThrottle(h.params.InteractiveDelay.Duration),
		}
		h.state.checkThrottle.reset()
		h.state.progressThrottle.reset()

		if err := h.conn.SetDeadlines(h.params.ReceiveTimeout.Duration, h.params.SendTimeout.Duration); err != nil {
			h.logger.Warn("set deadlines failed", zap.Error(err))
			return
		}

		packetType, err := h.conn.ReadVarUint()
		if err != nil {
			h.logger.Info("read packet type failed", zap.Error(err))
			return
		}

		if fatal := h.dispatch(packetType); fatal {
			return
		}
	}
}

// waitForData implements the bounded-poll loop of spec §4.9.2.a: sleep in
// PollInterval slices until a byte is available or shutdown is signaled,
// so the connection thread never blocks indefinitely on a read without
// rechecking the shutdown signal (spec §5 "Suspension points").
func (h *ConnectionHandler) waitForData() bool {
	for {
		if h.shutdown != nil && h.shutdown.IsCancelled() {
			return false
		}
		ready, err := h.conn.Poll(h.params.PollInterval.Duration)
		if err != nil {
			return false
		}
		if ready {
			return true
		}
	}
}

func (h *ConnectionHandler) handshake() error {
	if err := h.conn.SetDeadlines(h.params.ReceiveTimeout.Duration, h.params.SendTimeout.Duration); err != nil {
		return err
	}

	packetType, err := h.conn.ReadVarUint()
	if err != nil {
		return err
	}
	if packetType != PacketHello {
		e := dberr.NewUnexpectedPacket("other", "Hello")
		_ = h.sendException(e)
		return e
	}

	client, err := readHello(h.conn, true)
	if err != nil {
		return err
	}

	if client.DefaultDatabase != "" {
		if h.catalog == nil || !h.catalog.HasDatabase(client.DefaultDatabase) {
			e := dberr.NewUnknownDatabase(client.DefaultDatabase)
			_ = h.sendException(e)
			return e
		}
		h.database = client.DefaultDatabase
		h.catalog.SetCurrentDatabase(client.DefaultDatabase)
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if err := h.conn.WriteVarUint(PacketServerHello); err != nil {
		return err
	}
	if err := writeHello(h.conn, HelloPacket{
		Name:     serverName,
		Major:    protocolMajor,
		Minor:    protocolMinor,
		Revision: protocolRevision,
	}, false); err != nil {
		return err
	}
	return h.conn.Flush()
}

// dispatch handles one top-level packet per spec §4.9.3. It returns true
// iff the connection must close. Data and Cancel packets never reach this
// table at top level: Data arrives only inside runInsert's own receive
// loop, and Cancel is consumed directly by the cancellation-check
// callback while a query is executing.
func (h *ConnectionHandler) dispatch(packetType uint64) (fatal bool) {
	switch packetType {
	case PacketHello:
		// Hello is only valid at handshake (spec §4.9.3); seeing it again
		// is fatal even though UnexpectedPacket is not fatal in general.
		e := dberr.NewUnexpectedPacket("Hello", "Query/Ping")
		h.sendExceptionLocked(e)
		return true

	case PacketPing:
		h.sendMu.Lock()
		err := h.conn.WriteVarUint(PacketServerPong)
		if err == nil {
			err = h.conn.Flush()
		}
		h.sendMu.Unlock()
		if err != nil {
			h.logger.Info("pong write failed", zap.Error(err))
			return true
		}
		return false

	case PacketQuery:
		return h.handleQuery()

	default:
		e := dberr.NewUnknownPacket(packetType)
		h.sendExceptionLocked(e)
		return true
	}
}

func (h *ConnectionHandler) handleQuery() (fatal bool) {
	q, err := readQuery(h.conn)
	if err != nil {
		h.logger.Info("read query failed", zap.Error(err))
		return true
	}
	h.state.queryID = q.QueryID
	h.state.compression = q.Compression

	pipeline, err := h.executor.Execute(&QueryContext{Database: h.database, QueryID: q.QueryID}, q.QueryText, Stage(q.Stage))
	if err != nil {
		h.sendExceptionLocked(dberr.NewUpstreamError(err))
		return dberr.IsFatal(err)
	}

	switch {
	case pipeline.In != nil:
		err = h.runSelect(pipeline)
	case pipeline.Out != nil:
		err = h.runInsert(pipeline)
	default:
		err = dberr.New(dberr.Unknown, "executor returned a pipeline with neither In nor Out")
	}

	if h.state.fatalErr != nil {
		// Already reported: the cancellation-check callback sent its own
		// Exception packet when it desynchronized the stream.
		return true
	}

	if err != nil {
		de := dberr.NewUpstreamError(err)
		h.sendExceptionLocked(de)
		return dberr.IsFatal(de)
	}

	if err := h.sendEndOfStream(); err != nil {
		h.logger.Info("end of stream write failed", zap.Error(err))
		return true
	}
	return false
}

// runSelect implements spec §4.9.5: install callbacks on the root
// profiling view, log the tree, pull blocks to the terminator, sendData
// for each non-empty block.
func (h *ConnectionHandler) runSelect(p *Pipeline) error {
	root := ensureProfiling(p.In)
	pv, _ := stream.AsProfilingView(root)
	pv.SetCallbacks(h.isCancelledCallback, h.sendProgressCallback)

	h.logger.Info("pipeline", zap.String("tree", stream.DumpTree(root)))

	codec := native.New(h.registry)
	for {
		b, err := root.Read()
		if err != nil {
			return err
		}
		if b.Empty() {
			return nil
		}
		if err := h.sendData(codec, b); err != nil {
			return err
		}
	}
}

// runInsert implements spec §4.9.6: send the expected output sample as
// the first Data packet, writePrefix, loop receiving Data packets until
// an empty one signals end of input, writeSuffix.
func (h *ConnectionHandler) runInsert(p *Pipeline) error {
	codec := native.New(h.registry)

	sample := p.OutSample
	if sample == nil {
		sample = block.New()
	}
	if err := h.sendData(codec, sample); err != nil {
		return err
	}

	if err := p.Out.WritePrefix(); err != nil {
		return err
	}

	for {
		packetType, err := h.conn.ReadVarUint()
		if err != nil {
			return err
		}
		if packetType != PacketData {
			return dberr.NewUnknownPacket(packetType)
		}
		b, err := h.receiveData(codec)
		if err != nil {
			return err
		}
		if b.Empty() {
			break
		}
		if err := p.Out.Write(b); err != nil {
			return err
		}
	}

	return p.Out.WriteSuffix()
}

// sendData lazily encodes b through codec, optionally through the
// compressed sub-stream, and writes it as a Data packet header plus
// payload, flushing compressor-then-socket (spec §4.9.5).
func (h *ConnectionHandler) sendData(codec *native.Codec, b *block.Block) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	if h.state.sentAllData {
		return nil
	}

	if err := h.conn.WriteVarUint(PacketServerData); err != nil {
		return err
	}

	if h.state.compression == CompressionLZ4 {
		var buf bytes.Buffer
		if err := codec.Encode(&buf, b); err != nil {
			return err
		}
		compressed, err := h.conn.CompressWriter(buf.Bytes())
		if err != nil {
			return err
		}
		if err := h.conn.WriteVarUint(uint64(buf.Len())); err != nil {
			return err
		}
		if err := h.conn.WriteBytes(compressed); err != nil {
			return err
		}
	} else {
		if err := codec.Encode(h.conn.Writer(), b); err != nil {
			return err
		}
	}
	return h.conn.Flush()
}

func (h *ConnectionHandler) receiveData(codec *native.Codec) (*block.Block, error) {
	if h.state.compression == CompressionLZ4 {
		uncompressedSize, err := h.conn.ReadVarUint()
		if err != nil {
			return nil, err
		}
		compressed, err := h.conn.ReadBytes()
		if err != nil {
			return nil, err
		}
		raw, err := wire.DecompressBlock(compressed, int(uncompressedSize))
		if err != nil {
			return nil, err
		}
		return codec.Decode(bytes.NewReader(raw))
	}
	return codec.Decode(h.conn.Reader())
}

// isCancelledCallback is the cancellation-check callback of spec §4.9.7.
// It runs on whatever goroutine calls Read on a profiling stream holding
// it: the connection thread for the root, and an AsynchronousStream's pool
// worker for a profiling stage beneath one, since SetCallbacks propagates
// through AsynchronousStream.
func (h *ConnectionHandler) isCancelledCallback() bool {
	if h.state.isCancelled.Load() || h.state.sentAllData {
		return true
	}
	if !h.state.checkThrottle.ready() {
		return false
	}

	ready, err := h.conn.Poll(0)
	if err != nil || !ready {
		return h.state.isCancelled.Load()
	}

	packetType, err := h.conn.ReadVarUint()
	if err != nil {
		h.state.isCancelled.Store(true)
		return true
	}
	if packetType != PacketCancel {
		e := dberr.NewUnknownPacket(packetType)
		h.sendExceptionLocked(e)
		h.state.isCancelled.Store(true)
		h.state.fatalErr = e
		return true
	}
	h.state.isCancelled.Store(true)
	return true
}

// sendProgressCallback is spec §4.9.8's progress-reporting callback.
func (h *ConnectionHandler) sendProgressCallback(rows, bytes uint64) {
	if h.state.sentAllData {
		return
	}
	h.state.accumRows += rows
	h.state.accumBytes += bytes
	if !h.state.progressThrottle.ready() {
		return
	}

	h.sendMu.Lock()
	err := h.conn.WriteVarUint(PacketServerProgress)
	if err == nil {
		err = writeProgress(h.conn, h.state.accumRows, h.state.accumBytes)
	}
	if err == nil {
		err = h.conn.Flush()
	}
	h.sendMu.Unlock()

	if err != nil {
		h.logger.Warn("progress write failed", zap.Error(err))
		return
	}
	h.state.accumRows = 0
	h.state.accumBytes = 0
}

// sendEndOfStream implements spec §4.9.9: after this, no further Data or
// Progress packets may be sent for the current query.
func (h *ConnectionHandler) sendEndOfStream() error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	h.state.sentAllData = true
	if err := h.conn.WriteVarUint(PacketServerEndOfStream); err != nil {
		return err
	}
	return h.conn.Flush()
}

func (h *ConnectionHandler) sendException(e *dberr.Error) error {
	if err := h.conn.WriteVarUint(PacketServerException); err != nil {
		return err
	}
	if err := writeException(h.conn, e); err != nil {
		return err
	}
	return h.conn.Flush()
}

func (h *ConnectionHandler) sendExceptionLocked(e *dberr.Error) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if err := h.sendException(e); err != nil {
		h.logger.Info("exception write failed", zap.Error(err))
	}
}

// ensureProfiling guarantees the pipeline's root exposes the ProfilingView
// capability the orchestrator needs (spec §4.9.5), wrapping it if the
// executor did not already hand back a profiling-capable root.
func ensureProfiling(s stream.BlockInputStream) stream.BlockInputStream {
	if _, ok := stream.AsProfilingView(s); ok {
		return s
	}
	return stream.NewProfilingInputStream(s)
}

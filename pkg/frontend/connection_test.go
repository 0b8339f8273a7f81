package frontend

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colstream/colstream/pkg/codec/native"
	"github.com/colstream/colstream/pkg/codec/wire"
	"github.com/colstream/colstream/pkg/common/dberr"
	"github.com/colstream/colstream/pkg/config"
	"github.com/colstream/colstream/pkg/container/block"
	"github.com/colstream/colstream/pkg/container/column"
	"github.com/colstream/colstream/pkg/vm/stream"
)

func testParams() *config.ServerParameters {
	p := config.Default()
	p.ReceiveTimeout.Duration = 5 * time.Second
	p.SendTimeout.Duration = 5 * time.Second
	p.PollInterval.Duration = 2 * time.Millisecond
	p.InteractiveDelay.Duration = 2 * time.Millisecond
	return p
}

// rowCountStream yields one block per entry in counts, each with that
// many rows in a single "v" column, then the terminator — the fixture
// spec §8 scenario 3 describes ("blocks of row counts [3, 2, 0]").
type rowCountStream struct {
	counts []int
	pos    int
}

func (s *rowCountStream) Name() string                        { return "RowCount" }
func (s *rowCountStream) ID() string                          { return "RowCount" }
func (s *rowCountStream) Children() []stream.BlockInputStream { return nil }

func (s *rowCountStream) Read() (*block.Block, error) {
	if s.pos >= len(s.counts) {
		return block.New(), nil
	}
	n := s.counts[s.pos]
	s.pos++
	if n == 0 {
		return block.New(), nil
	}
	b := block.New()
	col := column.Int32Type.NewEmpty()
	for i := 0; i < n; i++ {
		col.Append(int32(i))
	}
	if err := b.Insert("v", col); err != nil {
		return nil, err
	}
	return b, nil
}

type stubExecutor struct {
	pipeline *Pipeline
	err      error
}

func (e *stubExecutor) Execute(*QueryContext, string, Stage) (*Pipeline, error) {
	return e.pipeline, e.err
}

func clientHandshake(t *testing.T, c *wire.Conn) {
	t.Helper()
	require.NoError(t, c.WriteVarUint(PacketHello))
	require.NoError(t, writeHello(c, HelloPacket{Name: "test-client", Major: 1}, true))
	require.NoError(t, c.Flush())

	pt, err := c.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerHello, pt)
	_, err = readHello(c, false)
	require.NoError(t, err)
}

func TestConnectionHandlerPingDuringIdle(t *testing.T) {
	serverConn, clientRaw := net.Pipe()
	clientConn := wire.New(clientRaw)

	h := NewConnectionHandler(serverConn, 1, column.NewRegistry(), &stubExecutor{}, nil, nil, testParams())
	go h.Serve()

	clientHandshake(t, clientConn)

	require.NoError(t, clientConn.WriteVarUint(PacketPing))
	require.NoError(t, clientConn.Flush())

	pt, err := clientConn.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerPong, pt)

	clientRaw.Close()
}

func TestConnectionHandlerSelectTwoBlocksUncompressed(t *testing.T) {
	serverConn, clientRaw := net.Pipe()
	clientConn := wire.New(clientRaw)

	pipeline := &Pipeline{In: &rowCountStream{counts: []int{3, 2, 0}}}
	h := NewConnectionHandler(serverConn, 2, column.NewRegistry(), &stubExecutor{pipeline: pipeline}, nil, nil, testParams())
	go h.Serve()

	clientHandshake(t, clientConn)

	require.NoError(t, clientConn.WriteVarUint(PacketQuery))
	require.NoError(t, clientConn.WriteFixedU64(1))
	require.NoError(t, clientConn.WriteVarUint(uint64(StageComplete)))
	require.NoError(t, clientConn.WriteVarUint(CompressionNone))
	require.NoError(t, clientConn.WriteString("SELECT * FROM t"))
	require.NoError(t, clientConn.Flush())

	codec := native.New(column.NewRegistry())

	pt, err := clientConn.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerData, pt)
	b1, err := codec.Decode(clientConn.Reader())
	require.NoError(t, err)
	require.Equal(t, 3, b1.Rows())

	pt, err = clientConn.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerData, pt)
	b2, err := codec.Decode(clientConn.Reader())
	require.NoError(t, err)
	require.Equal(t, 2, b2.Rows())

	pt, err = clientConn.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerEndOfStream, pt)

	clientRaw.Close()
}

// infiniteRowStream yields a steady stream of one-row blocks and never
// terminates on its own — the fixture for spec §8 scenario 4, where the
// cancellation check rather than the source is what stops the stream.
type infiniteRowStream struct{}

func (s *infiniteRowStream) Name() string                        { return "Infinite" }
func (s *infiniteRowStream) ID() string                          { return "Infinite" }
func (s *infiniteRowStream) Children() []stream.BlockInputStream { return nil }

func (s *infiniteRowStream) Read() (*block.Block, error) {
	b := block.New()
	col := column.Int32Type.NewEmpty()
	col.Append(int32(1))
	if err := b.Insert("v", col); err != nil {
		return nil, err
	}
	return b, nil
}

func TestConnectionHandlerCancelStopsFurtherData(t *testing.T) {
	serverConn, clientRaw := net.Pipe()
	clientConn := wire.New(clientRaw)

	pipeline := &Pipeline{In: &infiniteRowStream{}}
	h := NewConnectionHandler(serverConn, 4, column.NewRegistry(), &stubExecutor{pipeline: pipeline}, nil, nil, testParams())
	go h.Serve()

	clientHandshake(t, clientConn)

	require.NoError(t, clientConn.WriteVarUint(PacketQuery))
	require.NoError(t, clientConn.WriteFixedU64(1))
	require.NoError(t, clientConn.WriteVarUint(uint64(StageComplete)))
	require.NoError(t, clientConn.WriteVarUint(CompressionNone))
	require.NoError(t, clientConn.WriteString("SELECT * FROM t"))
	require.NoError(t, clientConn.Flush())

	codec := native.New(column.NewRegistry())

	pt, err := clientConn.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerData, pt)
	_, err = codec.Decode(clientConn.Reader())
	require.NoError(t, err)

	// net.Pipe is unbuffered: the server keeps writing Data packets until it
	// polls and reads the Cancel, so the Cancel is written concurrently with
	// the read loop below rather than before it.
	go func() {
		require.NoError(t, clientConn.WriteVarUint(PacketCancel))
		require.NoError(t, clientConn.Flush())
	}()

	sawEndOfStream := false
	for i := 0; i < 10000 && !sawEndOfStream; i++ {
		pt, err := clientConn.ReadVarUint()
		require.NoError(t, err)
		switch pt {
		case PacketServerData:
			_, err := codec.Decode(clientConn.Reader())
			require.NoError(t, err)
		case PacketServerEndOfStream:
			sawEndOfStream = true
		default:
			t.Fatalf("unexpected packet type %d after cancel", pt)
		}
	}
	require.True(t, sawEndOfStream, "expected end-of-stream once cancellation was observed")

	clientRaw.Close()
}

// recordingOutputStream is a BlockOutputStream double for spec §8 scenario
// 5 (INSERT round trip): it records every call so the test can assert on
// the order and shape of what runInsert drives into it.
type recordingOutputStream struct {
	prefixCalled bool
	suffixCalled bool
	written      []*block.Block
}

func (o *recordingOutputStream) WritePrefix() error {
	o.prefixCalled = true
	return nil
}

func (o *recordingOutputStream) Write(b *block.Block) error {
	o.written = append(o.written, b)
	return nil
}

func (o *recordingOutputStream) WriteSuffix() error {
	o.suffixCalled = true
	return nil
}

func TestConnectionHandlerInsertRoundTrip(t *testing.T) {
	serverConn, clientRaw := net.Pipe()
	clientConn := wire.New(clientRaw)

	sample := block.New()
	require.NoError(t, sample.Insert("v", column.Int32Type.NewEmpty()))

	out := &recordingOutputStream{}
	pipeline := &Pipeline{Out: out, OutSample: sample}
	h := NewConnectionHandler(serverConn, 5, column.NewRegistry(), &stubExecutor{pipeline: pipeline}, nil, nil, testParams())
	go h.Serve()

	clientHandshake(t, clientConn)

	require.NoError(t, clientConn.WriteVarUint(PacketQuery))
	require.NoError(t, clientConn.WriteFixedU64(1))
	require.NoError(t, clientConn.WriteVarUint(uint64(StageComplete)))
	require.NoError(t, clientConn.WriteVarUint(CompressionNone))
	require.NoError(t, clientConn.WriteString("INSERT INTO t VALUES (1)"))
	require.NoError(t, clientConn.Flush())

	codec := native.New(column.NewRegistry())

	pt, err := clientConn.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerData, pt)
	gotSample, err := codec.Decode(clientConn.Reader())
	require.NoError(t, err)
	require.True(t, gotSample.Has("v"))

	payload := block.New()
	col := column.Int32Type.NewEmpty()
	for i := 0; i < 4; i++ {
		col.Append(int32(i))
	}
	require.NoError(t, payload.Insert("v", col))

	require.NoError(t, clientConn.WriteVarUint(PacketData))
	require.NoError(t, codec.Encode(clientConn.Writer(), payload))
	require.NoError(t, clientConn.Flush())

	require.NoError(t, clientConn.WriteVarUint(PacketData))
	require.NoError(t, codec.Encode(clientConn.Writer(), block.New()))
	require.NoError(t, clientConn.Flush())

	pt, err = clientConn.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerEndOfStream, pt)

	require.True(t, out.prefixCalled)
	require.True(t, out.suffixCalled)
	require.Len(t, out.written, 1)
	require.Equal(t, 4, out.written[0].Rows())

	clientRaw.Close()
}

func TestConnectionHandlerHelloMismatchAtHandshake(t *testing.T) {
	serverConn, clientRaw := net.Pipe()
	clientConn := wire.New(clientRaw)

	h := NewConnectionHandler(serverConn, 3, column.NewRegistry(), &stubExecutor{}, nil, nil, testParams())
	go h.Serve()

	require.NoError(t, clientConn.WriteVarUint(PacketData))
	require.NoError(t, clientConn.Flush())

	pt, err := clientConn.ReadVarUint()
	require.NoError(t, err)
	require.Equal(t, PacketServerException, pt)

	e, err := readException(clientConn)
	require.NoError(t, err)
	require.Equal(t, dberr.UnexpectedPacket, e.Kind())

	clientRaw.Close()
}

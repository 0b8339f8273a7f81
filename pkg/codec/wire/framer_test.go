package wire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return New(a), New(b)
}

func TestVarUintRoundTrip(t *testing.T) {
	client, server := pipeConns(t)

	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, v := range values {
			require.NoError(t, client.WriteVarUint(v))
		}
		require.NoError(t, client.Flush())
	}()

	for _, want := range values {
		got, err := server.ReadVarUint()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	<-done
}

func TestStringRoundTrip(t *testing.T) {
	client, server := pipeConns(t)

	go func() {
		require.NoError(t, client.WriteString("hello, world"))
		require.NoError(t, client.Flush())
	}()

	got, err := server.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello, world", got)
}

func TestFixedU64RoundTrip(t *testing.T) {
	client, server := pipeConns(t)

	go func() {
		require.NoError(t, client.WriteFixedU64(0xdeadbeefcafef00d))
		require.NoError(t, client.Flush())
	}()

	got, err := server.ReadFixedU64()
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeefcafef00d), got)
}

func TestPollFalseWhenNothingWritten(t *testing.T) {
	_, server := pipeConns(t)

	ready, err := server.Poll(20 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestPollTrueAfterWrite(t *testing.T) {
	client, server := pipeConns(t)

	go func() {
		require.NoError(t, client.WriteByte(1))
		require.NoError(t, client.Flush())
	}()

	require.Eventually(t, func() bool {
		ready, err := server.Poll(20 * time.Millisecond)
		return err == nil && ready
	}, time.Second, 10*time.Millisecond)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	_, server := pipeConns(t)

	raw := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")
	compressed, err := server.CompressWriter(raw)
	require.NoError(t, err)

	out, err := DecompressBlock(compressed, len(raw))
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

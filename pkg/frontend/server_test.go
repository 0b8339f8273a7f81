package frontend

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colstream/colstream/pkg/codec/wire"
	"github.com/colstream/colstream/pkg/config"
	"github.com/colstream/colstream/pkg/container/column"
)

func testServerParams(t *testing.T) *config.ServerParameters {
	t.Helper()
	p := testParams()
	p.Host = "127.0.0.1"
	p.Port = 0
	return p
}

func TestServerStartAcceptsAndStopDrains(t *testing.T) {
	srv := New(testServerParams(t), column.NewRegistry(), &stubExecutor{}, nil)
	require.NoError(t, srv.Start())

	addr := srv.listeners[0].Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	client := wire.New(conn)
	clientHandshake(t, client)

	require.NoError(t, srv.Stop())
}

func TestServerKillConnectionClosesSocket(t *testing.T) {
	srv := New(testServerParams(t), column.NewRegistry(), &stubExecutor{}, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := srv.listeners[0].Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	client := wire.New(conn)
	clientHandshake(t, client)

	require.Eventually(t, func() bool {
		srv.connMu.Lock()
		n := len(srv.conns)
		srv.connMu.Unlock()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	var id uint64
	srv.connMu.Lock()
	for k := range srv.conns {
		id = k
	}
	srv.connMu.Unlock()

	require.NoError(t, srv.KillConnection(id))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)
}

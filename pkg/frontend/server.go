package frontend

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/colstream/colstream/pkg/config"
	"github.com/colstream/colstream/pkg/container/column"
	"github.com/colstream/colstream/pkg/logutil"
)

// Server accepts connections on a TCP listener and, optionally, a unix
// domain socket, handing each accepted conn to its own ConnectionHandler
// goroutine. Grounded on the teacher's MOServer.Start/Stop/startAcceptLoop
// (pkg/frontend/server.go): a plain net.Listener accept loop with
// exponential-backoff retry on transient Accept errors, a WaitGroup that
// Stop drains, and a registry of live sessions for kill support.
type Server struct {
	params   *config.ServerParameters
	registry *column.Registry
	executor QueryExecutor
	catalog  CatalogContext
	shutdown *shutdownFlag

	mu        sync.Mutex
	running   bool
	listeners []net.Listener
	wg        sync.WaitGroup

	connMu sync.Mutex
	conns  map[uint64]*liveConn
	nextID atomic.Uint64
}

type liveConn struct {
	handler *ConnectionHandler
	cancel  func()
}

// shutdownFlag implements the ShutdownSignal collaborator of spec §6.
type shutdownFlag struct {
	flag atomic.Bool
}

func (s *shutdownFlag) IsCancelled() bool { return s.flag.Load() }
func (s *shutdownFlag) set()              { s.flag.Store(true) }

// New builds a Server bound to no listeners yet; call Start to listen.
func New(params *config.ServerParameters, registry *column.Registry, executor QueryExecutor, catalog CatalogContext) *Server {
	return &Server{
		params:   params,
		registry: registry,
		executor: executor,
		catalog:  catalog,
		shutdown: &shutdownFlag{},
		conns:    make(map[uint64]*liveConn),
	}
}

// Start opens the TCP listener (and, if configured, a unix domain socket
// listener) and begins accepting connections in background goroutines.
func (s *Server) Start() error {
	tcp, err := net.Listen("tcp", net.JoinHostPort(s.params.Host, strconv.Itoa(s.params.Port)))
	if err != nil {
		return err
	}
	s.listeners = append(s.listeners, tcp)

	if s.params.UnixSocketPath != "" {
		unix, err := net.Listen("unix", s.params.UnixSocketPath)
		if err != nil {
			tcp.Close()
			return err
		}
		s.listeners = append(s.listeners, unix)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	logutil.Info("server listening", zap.String("addr", tcp.Addr().String()))

	for _, l := range s.listeners {
		s.wg.Add(1)
		go s.acceptLoop(l)
	}
	return nil
}

// acceptLoop is the teacher's startAcceptLoop pattern: Accept in a tight
// loop, backing off exponentially (capped at 1s) on transient errors, and
// returning once the listener is closed by Stop.
func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if backoff > time.Second {
					backoff = time.Second
				}
				time.Sleep(backoff)
				continue
			}
			return
		}
		backoff = 0

		id := s.nextID.Add(1)
		handler := NewConnectionHandler(conn, id, s.registry, s.executor, s.catalog, s.shutdown, s.params)

		s.connMu.Lock()
		s.conns[id] = &liveConn{handler: handler}
		s.connMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.connMu.Lock()
				delete(s.conns, id)
				s.connMu.Unlock()
			}()
			handler.Serve()
		}()
	}
}

// Stop signals shutdown, closes every listener so acceptLoop returns, and
// waits for every in-flight connection goroutine to finish (spec §4
// "graceful listener shutdown", grounded on MOServer.Stop).
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listeners := s.listeners
	s.mu.Unlock()

	s.shutdown.set()

	var firstErr error
	for _, l := range listeners {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.wg.Wait()
	logutil.Info("server stopped")
	return firstErr
}

// KillConnection force-closes the named connection's socket, waking its
// ConnectionHandler out of any blocking read (spec §4 "connection
// registry + KillQuery/KillConnection", grounded on RoutineManager.kill).
func (s *Server) KillConnection(connID uint64) error {
	s.connMu.Lock()
	lc, ok := s.conns[connID]
	s.connMu.Unlock()
	if !ok {
		return nil
	}
	return lc.handler.conn.Close()
}

// KillQuery marks the connection's in-flight query cancelled, observed on
// its next cancellation callback (spec §4.9.7) — unlike KillConnection,
// the socket stays open.
func (s *Server) KillQuery(connID uint64) {
	s.connMu.Lock()
	lc, ok := s.conns[connID]
	s.connMu.Unlock()
	if !ok || lc.handler.state == nil {
		return
	}
	lc.handler.state.isCancelled.Store(true)
}

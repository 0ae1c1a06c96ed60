package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/antonkrylov/pilotty/internal/cli/config"
	"github.com/antonkrylov/pilotty/internal/protocol"
	"github.com/antonkrylov/pilotty/internal/session"
	"github.com/antonkrylov/pilotty/internal/wait"
)

const (
	// maxConnections bounds concurrent client connections.
	maxConnections = 100

	// idleCheckInterval is how often the idle monitor looks at the
	// registry.
	idleCheckInterval = 30 * time.Second

	// drainGrace is how long Run waits for in-flight connections during
	// shutdown.
	drainGrace = 5 * time.Second
)

// Config assembles a daemon server.
type Config struct {
	SocketPath string
	LockPath   string
	Limits     *config.Config
	Logger     *slog.Logger

	// idleCheckEvery overrides the idle monitor cadence in tests.
	idleCheckEvery time.Duration
}

// Server owns the unix socket listener, the session registry, and the
// wait subsystem. One Server per daemon process.
type Server struct {
	cfg      Config
	listener net.Listener
	lock     *os.File

	registry *session.Registry
	waiter   *wait.Waiter

	connWG   sync.WaitGroup
	sem      chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New binds the socket, takes the single-instance lock, and prepares the
// registry. Returns ErrAlreadyRunning when a live daemon owns the
// socket.
func New(cfg Config) (*Server, error) {
	if cfg.Limits == nil {
		cfg.Limits = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = config.SocketPath()
	}
	if cfg.LockPath == "" {
		cfg.LockPath = config.LockPath()
	}
	if cfg.idleCheckEvery <= 0 {
		cfg.idleCheckEvery = idleCheckInterval
	}

	if err := config.EnsureSocketDir(); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	lock, err := acquireLock(cfg.LockPath, cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("bind socket: %w", err)
	}
	if err := os.Chmod(cfg.SocketPath, 0o600); err != nil {
		listener.Close()
		lock.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	opts := session.Options{
		ScrollbackLines: cfg.Limits.ScrollbackLines,
		ReadChunkBytes:  cfg.Limits.ReadChunkBytes,
	}
	s := &Server{
		cfg:      cfg,
		listener: listener,
		lock:     lock,
		registry: session.NewRegistry(cfg.Limits.MaxSessions, opts, cfg.Logger),
		waiter:   wait.NewWaiter(cfg.Limits.MaxPendingWaits),
		sem:      make(chan struct{}, maxConnections),
		stop:     make(chan struct{}),
	}
	cfg.Logger.Info("daemon listening", "socket", cfg.SocketPath)
	return s, nil
}

// Run accepts connections until Stop. On shutdown it refuses new
// connections, drains in-flight requests briefly, kills all sessions,
// and unlinks the socket.
func (s *Server) Run() error {
	go s.idleMonitor()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return s.shutdown()
			default:
				s.cfg.Logger.Error("accept failed", "error", err)
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.cfg.Logger.Warn("connection limit reached, rejecting")
			conn.Close()
			continue
		}

		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			defer func() { <-s.sem }()
			s.handleConn(conn)
		}()
	}
}

// Stop triggers a graceful shutdown from any goroutine.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.listener.Close()
	})
}

func (s *Server) shutdown() error {
	s.cfg.Logger.Info("shutting down")

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGrace):
		s.cfg.Logger.Warn("shutdown drain timed out")
	}

	s.registry.KillAll()
	s.registry.Stop()
	_ = os.Remove(s.cfg.SocketPath)
	if s.lock != nil {
		s.lock.Close()
	}
	s.cfg.Logger.Info("daemon stopped")
	return nil
}

// idleMonitor stops the daemon once the registry has been empty for the
// configured idle window.
func (s *Server) idleMonitor() {
	idleAfter := time.Duration(s.cfg.Limits.IdleShutdownSeconds) * time.Second
	var emptySince time.Time

	ticker := time.NewTicker(s.cfg.idleCheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		busy := !s.registry.Empty() || len(s.sem) > 0
		if busy {
			emptySince = time.Time{}
			continue
		}
		if emptySince.IsZero() {
			emptySince = time.Now()
			continue
		}
		if time.Since(emptySince) >= idleAfter {
			s.cfg.Logger.Info("idle shutdown", "idle", time.Since(emptySince).Round(time.Second))
			s.Stop()
			return
		}
	}
}

// handleConn serves one request: a single LF-terminated JSON line in, a
// single LF-terminated JSON line out, then close. A client disconnect
// during a long wait cancels the wait without touching PTY state.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := readLineBounded(reader, protocol.MaxMessageBytes)
	if err != nil {
		writeResponse(conn, protocol.Failure(protocol.ErrInvalidArg(
			"malformed request: "+err.Error(),
			`Send one LF-terminated JSON object: {"op":"...","args":{...}}.`)))
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		writeResponse(conn, protocol.Failure(protocol.ErrInvalidArg(
			"invalid JSON request: "+err.Error(),
			`Send {"op":"...","args":{...}} as a single line.`)))
		return
	}

	// Cancel the request when the client goes away: the connection
	// delivers no more bytes after the request line, so a read returning
	// means EOF or error.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_, _ = reader.ReadByte()
		cancel()
	}()

	resp := s.dispatch(ctx, req)
	writeResponse(conn, resp)
}

// readLineBounded reads one LF-terminated line up to max bytes.
func readLineBounded(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > max {
			return nil, fmt.Errorf("request exceeds %d byte limit", max)
		}
		if err == nil {
			return line[:len(line)-1], nil
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return nil, err
	}
}

func writeResponse(conn net.Conn, resp protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(protocol.Failure(protocol.ErrInternal("response serialization failed")))
	}
	data = append(data, '\n')
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, _ = conn.Write(data)
}

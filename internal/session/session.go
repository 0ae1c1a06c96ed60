// Package session owns the PTY sessions behind the daemon: one child
// process per session under a pseudo-terminal, a reader goroutine feeding
// the screen emulator, an exit waiter, and the registry that names them.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/antonkrylov/pilotty/internal/protocol"
	"github.com/antonkrylov/pilotty/internal/term"
)

const (
	// DefaultCols and DefaultRows match the classic terminal size used
	// when the spawner supplies none.
	DefaultCols = 80
	DefaultRows = 24

	// killGrace is how long Kill waits after SIGTERM before SIGKILL.
	killGrace = 2 * time.Second

	// defaultReadChunk bounds a single PTY read.
	defaultReadChunk = 64 * 1024
)

// Options tune per-session resource limits.
type Options struct {
	ScrollbackLines int
	ReadChunkBytes  int
}

// Session is one spawned child under a PTY. The reader goroutine feeds
// the emulator and Resize is the only other path that changes it;
// request handlers serialize on Lock.
type Session struct {
	ID      string
	Name    string
	Argv    []string
	Cwd     string
	Env     map[string]string
	Created time.Time

	Term *term.Emulator

	cmd    *exec.Cmd
	master *os.File

	// opMu serializes requests targeting this session so a type followed
	// by a snapshot observes the write's effects in order.
	opMu sync.Mutex

	// writeMu serializes PTY writes without blocking the reader.
	writeMu sync.Mutex

	lastActivity atomic.Int64
	snapshotID   atomic.Uint64

	defunct     chan struct{}
	defunctOnce sync.Once
	exitStatus  atomic.Int32

	logger *slog.Logger
}

// Spawn allocates a PTY of the requested size, forks the child, and
// starts the reader and exit-waiter goroutines.
func Spawn(name string, argv []string, cwd string, env map[string]string, cols, rows uint16, opts Options, logger *slog.Logger) (*Session, error) {
	if len(argv) == 0 {
		return nil, protocol.ErrInvalidArg("no command specified", "Provide a command to run, e.g. 'pilotty spawn vim file.txt'.")
	}
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}
	if opts.ReadChunkBytes <= 0 {
		opts.ReadChunkBytes = defaultReadChunk
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ws := &pty.Winsize{Cols: cols, Rows: rows}
	master, err := startPTY(cmd, ws)
	if err != nil {
		return nil, protocol.ErrSpawnFailed(argv, err)
	}

	s := &Session{
		ID:      uuid.NewString(),
		Name:    name,
		Argv:    argv,
		Cwd:     cwd,
		Env:     env,
		Created: time.Now(),
		Term:    term.New(cols, rows, opts.ScrollbackLines),
		cmd:     cmd,
		master:  master,
		defunct: make(chan struct{}),
		logger:  logger.With("session", name),
	}
	s.touch()

	go s.readLoop(opts.ReadChunkBytes)
	go s.waitChild()

	s.logger.Info("session spawned", "id", s.ID, "pid", cmd.Process.Pid, "cols", cols, "rows", rows)
	return s, nil
}

// startPTY opens a PTY pair, sizes it, and starts cmd attached to the
// slave as its controlling terminal.
func startPTY(cmd *exec.Cmd, ws *pty.Winsize) (*os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = slave.Close() }()

	if ws != nil {
		_ = pty.Setsize(master, ws)
	}

	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true

	if err := cmd.Start(); err != nil {
		_ = master.Close()
		return nil, err
	}
	return master, nil
}

// readLoop drains the master as fast as possible, feeding the emulator.
// Reads may coalesce but no byte is ever dropped. EOF or EIO on the
// master marks the session defunct.
func (s *Session) readLoop(chunk int) {
	buf := make([]byte, chunk)
	for {
		n, err := s.master.Read(buf)
		if n > 0 {
			s.Term.Feed(buf[:n])
			s.touch()
		}
		if err != nil {
			// EIO is the regular Linux signal that the slave side closed.
			s.markDefunct()
			return
		}
	}
}

// waitChild reaps the child and records its exit status.
func (s *Session) waitChild() {
	err := s.cmd.Wait()
	status := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		} else {
			status = -1
		}
	}
	s.exitStatus.Store(int32(status))
	s.logger.Info("child exited", "pid", s.cmd.Process.Pid, "status", status)
	s.markDefunct()
}

func (s *Session) markDefunct() {
	s.defunctOnce.Do(func() {
		close(s.defunct)
	})
}

// Defunct returns a channel closed when the session's child is gone.
func (s *Session) Defunct() <-chan struct{} {
	return s.defunct
}

// IsDefunct reports whether the child has exited or the reader hit EOF.
func (s *Session) IsDefunct() bool {
	select {
	case <-s.defunct:
		return true
	default:
		return false
	}
}

// ExitStatus returns the recorded exit status; valid once defunct.
func (s *Session) ExitStatus() int {
	return int(s.exitStatus.Load())
}

// Pid returns the child process id.
func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Lock serializes a request against this session. Requests across
// different sessions run in parallel.
func (s *Session) Lock() { s.opMu.Lock() }

// Unlock releases the per-session request lock.
func (s *Session) Unlock() { s.opMu.Unlock() }

// Write sends bytes to the child's input. It completes when the OS
// accepts the bytes, not when the child reacts. Writing to a defunct
// session fails with SESSION_GONE.
func (s *Session) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if s.IsDefunct() {
		return protocol.ErrSessionGone(s.Name)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.master.Write(data); err != nil {
		return protocol.ErrSessionGone(s.Name)
	}
	s.touch()
	return nil
}

// Resize changes the PTY size (delivering SIGWINCH) and the emulator
// grid. Zero dimensions are rejected.
func (s *Session) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return protocol.ErrInvalidArg("terminal dimensions must be greater than 0", "Pass cols and rows >= 1.")
	}
	if s.IsDefunct() {
		return protocol.ErrSessionGone(s.Name)
	}
	if err := pty.Setsize(s.master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	s.Term.Resize(cols, rows)
	s.touch()
	return nil
}

// Kill terminates the child: SIGTERM, a short grace period, then
// SIGKILL. Returns once the session is defunct: the reader has hit EOF
// or the child has been reaped, whichever comes first.
func (s *Session) Kill() {
	if s.IsDefunct() {
		return
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-s.defunct:
	case <-time.After(killGrace):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.defunct
	}
}

// Close releases the master fd. Called by the registry after removal.
func (s *Session) Close() {
	_ = s.master.Close()
}

// NextSnapshotID returns the next strictly-increasing snapshot id for
// this session.
func (s *Session) NextSnapshotID() uint64 {
	return s.snapshotID.Add(1)
}

// LastActivity is the time of the last PTY read or write.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// CommandLine renders argv for list_sessions output.
func (s *Session) CommandLine() string {
	return strings.Join(s.Argv, " ")
}

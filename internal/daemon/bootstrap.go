// Package daemon implements the pilotty session daemon: unix-socket
// protocol server, request dispatch, and process bootstrap (single
// instance lock, stale socket recovery, idle shutdown).
package daemon

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning reports that a live daemon owns the socket; the
// caller should exit silently and let clients use the existing one.
var ErrAlreadyRunning = errors.New("daemon already running")

// acquireLock takes the exclusive advisory lock that guarantees a single
// daemon per socket directory. Returns the held lock file.
//
// When the lock is contended, a live daemon is confirmed by pinging the
// socket; a dead holder's stale socket is unlinked and the lock is
// re-taken blocking.
func acquireLock(lockPath, socketPath string) (*os.File, error) {
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err == nil {
		// We own the instance. Any leftover socket is stale.
		removeStaleSocket(socketPath)
		return lock, nil
	}

	if pingSocket(socketPath) {
		lock.Close()
		return nil, ErrAlreadyRunning
	}

	// Lock held but the socket is dead: the holder is wedged or exiting.
	// Remove the stale socket and wait for the lock.
	removeStaleSocket(socketPath)
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		lock.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	removeStaleSocket(socketPath)
	return lock, nil
}

// pingSocket connects and verifies the daemon answers a request.
func pingSocket(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	if _, err := conn.Write([]byte(`{"op":"list_sessions"}` + "\n")); err != nil {
		return false
	}
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	return err == nil
}

// removeStaleSocket unlinks a leftover socket file. Symlinks and
// non-socket files are left alone.
func removeStaleSocket(socketPath string) {
	info, err := os.Lstat(socketPath)
	if err != nil {
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return
	}
	if info.Mode()&os.ModeSocket == 0 {
		return
	}
	_ = os.Remove(socketPath)
}

// RotateLog compresses and rotates the daemon log once it exceeds
// maxBytes. The rotated file lands next to the log as <path>.1.zst; one
// generation is kept.
func RotateLog(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= maxBytes {
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".1.zst", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	return os.Truncate(path, 0)
}

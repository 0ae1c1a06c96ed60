package config

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// SocketDir resolves the runtime directory for the socket, lock, and
// log files. The first writable candidate wins:
//
//  1. $PILOTTY_SOCKET_DIR
//  2. $XDG_RUNTIME_DIR/pilotty
//  3. ~/.pilotty
//  4. /tmp/pilotty
//
// A candidate that exists but is not writable, or cannot be created,
// falls through to the next one.
func SocketDir() string {
	if dir := os.Getenv("PILOTTY_SOCKET_DIR"); dir != "" && usableDir(dir) {
		return dir
	}
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		if dir := filepath.Join(runtime, "pilotty"); usableDir(dir) {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if dir := filepath.Join(home, ".pilotty"); usableDir(dir) {
			return dir
		}
	}
	return filepath.Join(os.TempDir(), "pilotty")
}

// usableDir reports whether dir is a writable directory, creating it
// (0700) when missing.
func usableDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false
	}
	return unix.Access(dir, unix.W_OK) == nil
}

// SocketPath is the daemon's unix socket.
func SocketPath() string {
	return filepath.Join(SocketDir(), "pilotty.sock")
}

// LockPath is the sibling file the daemon flocks for the single-instance
// guarantee.
func LockPath() string {
	return filepath.Join(SocketDir(), "pilotty.lock")
}

// LogPath is where a background daemon writes its log.
func LogPath() string {
	return filepath.Join(SocketDir(), "pilotty.log")
}

// EnsureSocketDir creates the runtime directory with owner-only
// permissions.
func EnsureSocketDir() error {
	dir := SocketDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// MkdirAll leaves an existing directory's mode alone; tighten it.
	return os.Chmod(dir, 0o700)
}

// DefaultSession returns the session name commands target when -s is
// absent: $PILOTTY_SESSION or the empty string, which the daemon
// resolves to its last-used session.
func DefaultSession() string {
	return os.Getenv("PILOTTY_SESSION")
}

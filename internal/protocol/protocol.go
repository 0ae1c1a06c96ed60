// Package protocol defines the wire types exchanged between the pilotty
// CLI and the session daemon over the unix socket. Each connection carries
// one LF-terminated JSON request and receives one LF-terminated JSON
// response.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxMessageBytes bounds a single request or response line. Terminal
// snapshots are small; 16 MiB is far above anything legitimate.
const MaxMessageBytes = 16 * 1024 * 1024

// Request is a single operation sent to the daemon.
type Request struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is the daemon's reply.
type Response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewRequest marshals args into a Request for the given op.
func NewRequest(op string, args any) (Request, error) {
	if args == nil {
		return Request{Op: op}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s args: %w", op, err)
	}
	return Request{Op: op, Args: raw}, nil
}

// Success wraps a result value into an OK response.
func Success(result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	return Response{OK: true, Result: raw}, nil
}

// Failure wraps a protocol error into a response. Non-protocol errors are
// reported as INTERNAL so invariant violations never leak stack traces.
func Failure(err error) Response {
	return Response{OK: false, Error: AsError(err)}
}

// SpawnArgs are the arguments for the spawn op.
type SpawnArgs struct {
	Name string            `json:"name,omitempty"`
	Argv []string          `json:"argv"`
	Cwd  string            `json:"cwd,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
	Cols uint16            `json:"cols,omitempty"`
	Rows uint16            `json:"rows,omitempty"`
}

// SpawnResult reports the created session.
type SpawnResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SessionArgs target a session by name or id. An empty Session means the
// last-used session, falling back to "default".
type SessionArgs struct {
	Session string `json:"session,omitempty"`
}

// SessionInfo describes one live session in list_sessions output.
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"`
}

// ListSessionsResult is the result of list_sessions.
type ListSessionsResult struct {
	Sessions []SessionInfo `json:"sessions"`
}

// Snapshot formats.
const (
	FormatFull    = "full"
	FormatCompact = "compact"
	FormatText    = "text"
)

// SnapshotArgs are the arguments for the snapshot op. AwaitChange and
// SettleMs gate the snapshot on screen activity: when AwaitChange is set the
// daemon blocks until the content hash differs from it, and SettleMs then
// requires that long a window with no further change.
type SnapshotArgs struct {
	Session     string  `json:"session,omitempty"`
	Format      string  `json:"format,omitempty"`
	AwaitChange *uint64 `json:"await_change,omitempty"`
	SettleMs    uint64  `json:"settle_ms,omitempty"`
	TimeoutMs   uint64  `json:"timeout_ms,omitempty"`
}

// Size is the terminal dimensions in cells.
type Size struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Cursor is the cursor position and visibility.
type Cursor struct {
	Row     uint16 `json:"row"`
	Col     uint16 `json:"col"`
	Visible bool   `json:"visible"`
}

// Element is a detected interactive UI element.
type Element struct {
	Kind       string  `json:"kind"`
	Row        uint16  `json:"row"`
	Col        uint16  `json:"col"`
	Width      uint16  `json:"width"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Focused    bool    `json:"focused,omitempty"`
	Checked    *bool   `json:"checked,omitempty"`
}

// Snapshot is an immutable observation of a session's screen. The compact
// format omits Text; the text format is rendered server-side into
// TextSnapshotResult instead.
type Snapshot struct {
	SnapshotID  uint64    `json:"snapshot_id"`
	Size        Size      `json:"size"`
	Cursor      Cursor    `json:"cursor"`
	Text        string    `json:"text,omitempty"`
	Elements    []Element `json:"elements"`
	ContentHash uint64    `json:"content_hash"`
}

// TextSnapshotResult carries the human-readable text rendering.
type TextSnapshotResult struct {
	Content string `json:"content"`
}

// TypeArgs are the arguments for the type op.
type TypeArgs struct {
	Session string `json:"session,omitempty"`
	Text    string `json:"text"`
}

// KeyArgs are the arguments for the key op. Keys is a whitespace-separated
// sequence of key specs; DelayMs is inserted between them.
type KeyArgs struct {
	Session string `json:"session,omitempty"`
	Keys    string `json:"keys"`
	DelayMs uint64 `json:"delay_ms,omitempty"`
}

// ClickArgs are the arguments for the click op (0-based coordinates).
type ClickArgs struct {
	Session string `json:"session,omitempty"`
	Row     uint16 `json:"row"`
	Col     uint16 `json:"col"`
}

// ClickResult reports whether the click bytes were actually written.
// Delivered is false when the target application has not enabled mouse
// tracking, in which case the click is recorded but nothing is sent.
type ClickResult struct {
	Delivered bool `json:"delivered"`
}

// ScrollArgs are the arguments for the scroll op.
type ScrollArgs struct {
	Session string `json:"session,omitempty"`
	Dir     string `json:"dir"`
	Lines   uint32 `json:"lines"`
}

// ResizeArgs are the arguments for the resize op.
type ResizeArgs struct {
	Session string `json:"session,omitempty"`
	Cols    uint16 `json:"cols"`
	Rows    uint16 `json:"rows"`
}

// WaitForArgs are the arguments for the wait_for op.
type WaitForArgs struct {
	Session   string `json:"session,omitempty"`
	Pattern   string `json:"pattern"`
	Regex     bool   `json:"regex,omitempty"`
	TimeoutMs uint64 `json:"timeout_ms,omitempty"`
}

// WaitForResult reports a successful wait.
type WaitForResult struct {
	Matched bool `json:"matched"`
}

// Empty is the result of ops that return no data.
type Empty struct{}

package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/antonkrylov/pilotty/internal/client"
	cliconfig "github.com/antonkrylov/pilotty/internal/cli/config"
	"github.com/antonkrylov/pilotty/internal/protocol"
)

// startServer binds a daemon on a per-test socket and runs it until the
// test ends.
func startServer(t *testing.T) *client.Connection {
	t.Helper()
	dir := t.TempDir()

	srv, err := New(Config{
		SocketPath: filepath.Join(dir, "pilotty.sock"),
		LockPath:   filepath.Join(dir, "pilotty.lock"),
		Limits:     cliconfig.Default(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("bind server: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = srv.Run()
		close(done)
	}()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	return &client.Connection{
		SocketPath: srv.cfg.SocketPath,
		Timeout:    35 * time.Second,
		AutoStart:  false,
	}
}

func errCode(err error) string {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func spawn(t *testing.T, c *client.Connection, name string, argv ...string) protocol.SpawnResult {
	t.Helper()
	var res protocol.SpawnResult
	err := c.Do("spawn", protocol.SpawnArgs{Name: name, Argv: argv}, &res)
	if err != nil {
		t.Fatalf("spawn %v: %v", argv, err)
	}
	return res
}

func TestSpawnEchoRoundTrip(t *testing.T) {
	c := startServer(t)

	res := spawn(t, c, "echo-test", "/bin/sh", "-c", "printf hello")
	if res.ID == "" || res.Name != "echo-test" {
		t.Fatalf("spawn result = %+v", res)
	}

	var wf protocol.WaitForResult
	if err := c.Do("wait_for", protocol.WaitForArgs{
		Session: "echo-test", Pattern: "hello", TimeoutMs: 5000,
	}, &wf); err != nil {
		t.Fatalf("wait_for: %v", err)
	}
	if !wf.Matched {
		t.Error("wait_for should report matched")
	}

	var snap protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "echo-test"}, &snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.Contains(snap.Text, "hello") {
		t.Errorf("snapshot text = %q, want hello", snap.Text)
	}
	if snap.SnapshotID == 0 {
		t.Error("snapshot_id should be positive")
	}
	if snap.Size.Cols != 80 || snap.Size.Rows != 24 {
		t.Errorf("default size = %+v", snap.Size)
	}

	// After the child exits the session disappears within the sweep
	// bound.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var list protocol.ListSessionsResult
		if err := c.Do("list_sessions", nil, &list); err != nil {
			t.Fatalf("list_sessions: %v", err)
		}
		if len(list.Sessions) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("defunct session still listed after sweep window")
}

func TestTypeEnterAndInterrupt(t *testing.T) {
	c := startServer(t)
	spawn(t, c, "cat-test", "cat")

	if err := c.Do("type", protocol.TypeArgs{Session: "cat-test", Text: "abc"}, nil); err != nil {
		t.Fatalf("type: %v", err)
	}
	if err := c.Do("key", protocol.KeyArgs{Session: "cat-test", Keys: "Enter"}, nil); err != nil {
		t.Fatalf("key: %v", err)
	}
	if err := c.Do("wait_for", protocol.WaitForArgs{
		Session: "cat-test", Pattern: "abc", TimeoutMs: 5000,
	}, nil); err != nil {
		t.Fatalf("wait_for abc: %v", err)
	}

	var before protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "cat-test", Format: protocol.FormatCompact}, &before); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if err := c.Do("key", protocol.KeyArgs{Session: "cat-test", Keys: "Ctrl+C"}, nil); err != nil {
		t.Fatalf("Ctrl+C: %v", err)
	}

	// The session dies and disappears.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var list protocol.ListSessionsResult
		_ = c.Do("list_sessions", nil, &list)
		if len(list.Sessions) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("session survived Ctrl+C")
}

func TestSnapshotFormats(t *testing.T) {
	c := startServer(t)
	spawn(t, c, "fmt-test", "/bin/sh", "-c", "printf 'checkbox [x] here'; sleep 60")

	if err := c.Do("wait_for", protocol.WaitForArgs{
		Session: "fmt-test", Pattern: "here", TimeoutMs: 5000,
	}, nil); err != nil {
		t.Fatalf("wait_for: %v", err)
	}

	var full protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "fmt-test", Format: protocol.FormatFull}, &full); err != nil {
		t.Fatalf("full snapshot: %v", err)
	}
	if full.Text == "" || full.ContentHash == 0 {
		t.Errorf("full snapshot missing text or hash: %+v", full.SnapshotID)
	}
	foundToggle := false
	for _, el := range full.Elements {
		if el.Kind == "toggle" {
			foundToggle = true
		}
	}
	if !foundToggle {
		t.Errorf("elements should include the [x] toggle: %+v", full.Elements)
	}

	var compact protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "fmt-test", Format: protocol.FormatCompact}, &compact); err != nil {
		t.Fatalf("compact snapshot: %v", err)
	}
	if compact.Text != "" {
		t.Error("compact snapshot must omit text")
	}
	if compact.SnapshotID <= full.SnapshotID {
		t.Error("snapshot_id must strictly increase per session")
	}

	var text protocol.TextSnapshotResult
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "fmt-test", Format: protocol.FormatText}, &text); err != nil {
		t.Fatalf("text snapshot: %v", err)
	}
	if !strings.Contains(text.Content, "Terminal 80x24") || !strings.Contains(text.Content, "Cursor:") {
		t.Errorf("text snapshot header missing: %q", text.Content)
	}

	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "fmt-test", Format: "bogus"}, nil); errCode(err) != protocol.CodeInvalidArg {
		t.Errorf("bogus format error = %v, want INVALID_ARG", err)
	}
}

func TestAwaitChangeRacesWrite(t *testing.T) {
	c := startServer(t)
	spawn(t, c, "race-test", "cat")

	var h0 protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "race-test", Format: protocol.FormatCompact}, &h0); err != nil {
		t.Fatalf("initial snapshot: %v", err)
	}

	if err := c.Do("type", protocol.TypeArgs{Session: "race-test", Text: "trigger"}, nil); err != nil {
		t.Fatalf("type: %v", err)
	}
	if err := c.Do("key", protocol.KeyArgs{Session: "race-test", Keys: "Enter"}, nil); err != nil {
		t.Fatalf("key: %v", err)
	}

	var snap protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{
		Session:     "race-test",
		Format:      protocol.FormatCompact,
		AwaitChange: &h0.ContentHash,
		SettleMs:    50,
		TimeoutMs:   5000,
	}, &snap); err != nil {
		t.Fatalf("gated snapshot: %v", err)
	}
	if snap.ContentHash == h0.ContentHash {
		t.Error("gated snapshot should carry a different hash")
	}
}

func TestAwaitChangeTimesOut(t *testing.T) {
	c := startServer(t)
	spawn(t, c, "quiet", "cat")

	var h0 protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "quiet", Format: protocol.FormatCompact}, &h0); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	err := c.Do("snapshot", protocol.SnapshotArgs{
		Session:     "quiet",
		AwaitChange: &h0.ContentHash,
		TimeoutMs:   200,
	}, nil)
	if errCode(err) != protocol.CodeTimeout {
		t.Errorf("error = %v, want TIMEOUT", err)
	}
}

func TestKeySequenceWithDelay(t *testing.T) {
	c := startServer(t)
	spawn(t, c, "delay-test", "cat")

	start := time.Now()
	if err := c.Do("key", protocol.KeyArgs{Session: "delay-test", Keys: "a b c", DelayMs: 20}, nil); err != nil {
		t.Fatalf("key sequence: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("sequence with two 20ms gaps finished in %v", elapsed)
	}
	if err := c.Do("wait_for", protocol.WaitForArgs{
		Session: "delay-test", Pattern: "abc", TimeoutMs: 5000,
	}, nil); err != nil {
		t.Errorf("keys never arrived: %v", err)
	}

	err := c.Do("key", protocol.KeyArgs{Session: "delay-test", Keys: "a", DelayMs: 10001}, nil)
	if errCode(err) != protocol.CodeInvalidArg {
		t.Errorf("oversized delay = %v, want INVALID_ARG", err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	c := startServer(t)

	// No sessions at all.
	if err := c.Do("snapshot", protocol.SnapshotArgs{}, nil); errCode(err) != protocol.CodeSessionNotFound {
		t.Errorf("no-session snapshot = %v, want SESSION_NOT_FOUND", errCode(err))
	}

	spawn(t, c, "taxo", "cat")

	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "missing"}, nil); errCode(err) != protocol.CodeSessionNotFound {
		t.Errorf("missing session = %v", errCode(err))
	}

	err := c.Do("spawn", protocol.SpawnArgs{Name: "taxo", Argv: []string{"cat"}}, nil)
	if errCode(err) != protocol.CodeSessionExists {
		t.Errorf("duplicate spawn = %v, want SESSION_EXISTS", errCode(err))
	}

	err = c.Do("spawn", protocol.SpawnArgs{Name: "../evil", Argv: []string{"cat"}}, nil)
	if errCode(err) != protocol.CodeInvalidArg {
		t.Errorf("traversal name = %v, want INVALID_ARG", errCode(err))
	}

	err = c.Do("spawn", protocol.SpawnArgs{Name: "nocmd", Argv: []string{"/no/such/bin"}}, nil)
	if errCode(err) != protocol.CodeSpawnFailed {
		t.Errorf("missing binary = %v, want SPAWN_FAILED", errCode(err))
	}

	err = c.Do("key", protocol.KeyArgs{Session: "taxo", Keys: "Hyper+Q"}, nil)
	if errCode(err) != protocol.CodeInvalidKey {
		t.Errorf("bad key = %v, want INVALID_KEY", errCode(err))
	}

	err = c.Do("frobnicate", nil, nil)
	if errCode(err) != protocol.CodeInvalidArg {
		t.Errorf("unknown op = %v, want INVALID_ARG", errCode(err))
	}

	err = c.Do("resize", protocol.ResizeArgs{Session: "taxo", Cols: 0, Rows: 0}, nil)
	if errCode(err) != protocol.CodeInvalidArg {
		t.Errorf("zero resize = %v, want INVALID_ARG", errCode(err))
	}

	err = c.Do("scroll", protocol.ScrollArgs{Session: "taxo", Dir: "sideways", Lines: 1}, nil)
	if errCode(err) != protocol.CodeInvalidArg {
		t.Errorf("bad scroll dir = %v, want INVALID_ARG", errCode(err))
	}

	// Every error on the wire carries a suggestion.
	var pe *protocol.Error
	if errors.As(err, &pe) && pe.Suggestion == "" {
		t.Error("wire errors must carry suggestions")
	}
}

func TestClickWithoutMouseTrackingIsRecordedOnly(t *testing.T) {
	c := startServer(t)
	spawn(t, c, "click-test", "cat")

	var res protocol.ClickResult
	if err := c.Do("click", protocol.ClickArgs{Session: "click-test", Row: 1, Col: 1}, &res); err != nil {
		t.Fatalf("click: %v", err)
	}
	if res.Delivered {
		t.Error("click on a non-mouse-tracking app must not be delivered")
	}

	err := c.Do("click", protocol.ClickArgs{Session: "click-test", Row: 999, Col: 1}, nil)
	if errCode(err) != protocol.CodeInvalidArg {
		t.Errorf("out-of-grid click = %v, want INVALID_ARG", err)
	}
}

func TestResizeRoundTrip(t *testing.T) {
	c := startServer(t)
	spawn(t, c, "rsz", "cat")

	if err := c.Do("resize", protocol.ResizeArgs{Session: "rsz", Cols: 100, Rows: 30}, nil); err != nil {
		t.Fatalf("resize: %v", err)
	}
	var snap protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "rsz", Format: protocol.FormatCompact}, &snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Size.Cols != 100 || snap.Size.Rows != 30 {
		t.Errorf("size after resize = %+v", snap.Size)
	}
}

func TestSessionIsolationAcrossKill(t *testing.T) {
	c := startServer(t)
	spawn(t, c, "iso-a", "cat")
	spawn(t, c, "iso-b", "cat")

	var before protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "iso-b", Format: protocol.FormatCompact}, &before); err != nil {
		t.Fatalf("snapshot b: %v", err)
	}

	if err := c.Do("kill", protocol.SessionArgs{Session: "iso-a"}, nil); err != nil {
		t.Fatalf("kill a: %v", err)
	}

	var after protocol.Snapshot
	if err := c.Do("snapshot", protocol.SnapshotArgs{Session: "iso-b", Format: protocol.FormatCompact}, &after); err != nil {
		t.Fatalf("snapshot b after kill: %v", err)
	}
	if after.SnapshotID <= before.SnapshotID {
		t.Error("b's snapshot ids must keep increasing")
	}
	if after.ContentHash != before.ContentHash {
		t.Error("killing a must not disturb b's content")
	}
}

func TestMalformedRequestLine(t *testing.T) {
	c := startServer(t)

	err := c.Do("spawn", json.RawMessage(`{"argv": "not-an-array"}`), nil)
	if errCode(err) != protocol.CodeInvalidArg {
		t.Errorf("malformed args = %v, want INVALID_ARG", err)
	}
}

func TestShutdownOp(t *testing.T) {
	dir := t.TempDir()
	srv, err := New(Config{
		SocketPath: filepath.Join(dir, "pilotty.sock"),
		LockPath:   filepath.Join(dir, "pilotty.lock"),
		Limits:     cliconfig.Default(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = srv.Run()
		close(done)
	}()

	c := &client.Connection{SocketPath: srv.cfg.SocketPath, Timeout: 10 * time.Second}
	if err := c.Do("shutdown", nil, nil); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit after shutdown op")
	}

	// The socket is unlinked on the way out.
	if _, statErr := os.Stat(srv.cfg.SocketPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("socket still present after shutdown: %v", statErr)
	}
	if c.Ping() {
		t.Error("daemon still answering after shutdown")
	}
}

func TestSecondDaemonExitsWhenSocketLive(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		SocketPath: filepath.Join(dir, "pilotty.sock"),
		LockPath:   filepath.Join(dir, "pilotty.lock"),
		Limits:     cliconfig.Default(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	first, err := New(cfg)
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	go func() { _ = first.Run() }()
	t.Cleanup(first.Stop)

	// Give the accept loop a beat.
	time.Sleep(50 * time.Millisecond)

	_, err = New(cfg)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second bind = %v, want ErrAlreadyRunning", err)
	}
}

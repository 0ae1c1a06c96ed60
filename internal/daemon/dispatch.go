package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/antonkrylov/pilotty/internal/detect"
	"github.com/antonkrylov/pilotty/internal/keycodec"
	"github.com/antonkrylov/pilotty/internal/protocol"
	"github.com/antonkrylov/pilotty/internal/session"
	"github.com/antonkrylov/pilotty/internal/term"
	"github.com/antonkrylov/pilotty/internal/wait"
)

// maxScrollLines caps one scroll request.
const maxScrollLines = 1000

// maxKeyDelayMs caps the inter-key delay.
const maxKeyDelayMs = 10000

// dispatch routes one request to its handler. Handlers targeting a
// session hold that session's lock for the duration, so requests against
// one session execute in arrival order while other sessions proceed in
// parallel. The blocking handlers (snapshot, wait_for) take the lock only
// to order themselves and release it before they wait. Panics surface as
// INTERNAL without killing the daemon.
func (s *Server) dispatch(ctx context.Context, req protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Error("handler panicked", "op", req.Op, "panic", r)
			resp = protocol.Failure(protocol.ErrInternal(fmt.Sprintf("%s handler panicked", req.Op)))
		}
	}()

	var result any
	var err error

	switch req.Op {
	case "spawn":
		result, err = s.handleSpawn(req.Args)
	case "kill":
		result, err = s.handleKill(req.Args)
	case "list_sessions":
		result, err = s.handleListSessions()
	case "snapshot":
		result, err = s.handleSnapshot(ctx, req.Args)
	case "type":
		result, err = s.handleType(req.Args)
	case "key":
		result, err = s.handleKey(req.Args)
	case "click":
		result, err = s.handleClick(req.Args)
	case "scroll":
		result, err = s.handleScroll(req.Args)
	case "resize":
		result, err = s.handleResize(req.Args)
	case "wait_for":
		result, err = s.handleWaitFor(ctx, req.Args)
	case "shutdown":
		result, err = s.handleShutdown()
	default:
		err = protocol.ErrInvalidArg(
			fmt.Sprintf("unknown op %q", req.Op),
			"Valid ops: spawn, kill, list_sessions, snapshot, type, key, click, scroll, resize, wait_for, shutdown.")
	}

	if err != nil {
		return protocol.Failure(err)
	}
	ok, mErr := protocol.Success(result)
	if mErr != nil {
		return protocol.Failure(protocol.ErrInternal(mErr.Error()))
	}
	return ok
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var args T
	if len(raw) == 0 {
		return args, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, protocol.ErrInvalidArg("invalid args: "+err.Error(), "")
	}
	return args, nil
}

// target resolves the session for a request and takes its lock. The
// returned release must be called when the handler finishes.
func (s *Server) target(name string) (*session.Session, func(), error) {
	sess, err := s.registry.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	sess.Lock()
	return sess, sess.Unlock, nil
}

func (s *Server) handleSpawn(raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.SpawnArgs](raw)
	if err != nil {
		return nil, err
	}
	sess, err := s.registry.Create(args.Name, args.Argv, args.Cwd, args.Env, args.Cols, args.Rows)
	if err != nil {
		return nil, err
	}
	return protocol.SpawnResult{ID: sess.ID, Name: sess.Name}, nil
}

func (s *Server) handleKill(raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.SessionArgs](raw)
	if err != nil {
		return nil, err
	}
	sess, release, err := s.target(args.Session)
	if err != nil {
		return nil, err
	}
	defer release()

	sess.Kill()
	s.registry.Remove(sess)
	sess.Close()
	s.cfg.Logger.Info("session killed", "session", sess.Name)
	return protocol.Empty{}, nil
}

func (s *Server) handleListSessions() (any, error) {
	sessions := s.registry.List()
	infos := make([]protocol.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, protocol.SessionInfo{
			ID:      sess.ID,
			Name:    sess.Name,
			Command: sess.CommandLine(),
		})
	}
	return protocol.ListSessionsResult{Sessions: infos}, nil
}

func (s *Server) handleSnapshot(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.SnapshotArgs](raw)
	if err != nil {
		return nil, err
	}
	format := args.Format
	if format == "" {
		format = protocol.FormatFull
	}
	switch format {
	case protocol.FormatFull, protocol.FormatCompact, protocol.FormatText:
	default:
		return nil, protocol.ErrInvalidArg(
			fmt.Sprintf("unknown snapshot format %q", args.Format),
			"Use full, compact, or text.")
	}

	// The lock orders this snapshot after earlier requests on the same
	// session, but is released before any blocking wait: a pending gate
	// must not stall the input request that will satisfy it.
	sess, release, err := s.target(args.Session)
	if err != nil {
		return nil, err
	}
	release()

	// Optional gate: block until the screen has moved past the caller's
	// hash, and optionally settled.
	if args.AwaitChange != nil {
		timeout := wait.DefaultTimeout
		if args.TimeoutMs > 0 {
			timeout = time.Duration(args.TimeoutMs) * time.Millisecond
		}
		settle := time.Duration(args.SettleMs) * time.Millisecond
		if err := s.waiter.ForSettle(ctx, sess, *args.AwaitChange, settle, timeout); err != nil {
			return nil, err
		}
	}

	view := sess.Term.Snapshot()
	snapshotID := sess.NextSnapshotID()

	if format == protocol.FormatText {
		return protocol.TextSnapshotResult{Content: renderTextSnapshot(view)}, nil
	}

	snap := protocol.Snapshot{
		SnapshotID: snapshotID,
		Size:       protocol.Size{Cols: view.Cols, Rows: view.Rows},
		Cursor: protocol.Cursor{
			Row:     view.CursorRow,
			Col:     view.CursorCol,
			Visible: view.CursorVisible,
		},
		Elements:    detect.Detect(view),
		ContentHash: view.Hash,
	}
	if snap.Elements == nil {
		snap.Elements = []protocol.Element{}
	}
	if format == protocol.FormatFull {
		snap.Text = view.Text()
	}
	return snap, nil
}

// renderTextSnapshot produces the human-readable form: a size/cursor
// header and the grid with the cursor cell bracketed.
func renderTextSnapshot(v term.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- Terminal %dx%d | Cursor: (%d, %d) ---\n", v.Cols, v.Rows, v.CursorRow, v.CursorCol)

	for row := 0; row < int(v.Rows); row++ {
		line := strings.TrimRight(v.Line(row), " ")
		if row != int(v.CursorRow) || !v.CursorVisible {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}

		runes := []rune(line)
		col := int(v.CursorCol)
		if col < len(runes) {
			b.WriteString(string(runes[:col]))
			b.WriteByte('[')
			b.WriteRune(runes[col])
			b.WriteByte(']')
			b.WriteString(string(runes[col+1:]))
		} else {
			b.WriteString(line)
			b.WriteString(strings.Repeat(" ", col-len(runes)))
			b.WriteString("[_]")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (s *Server) handleType(raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.TypeArgs](raw)
	if err != nil {
		return nil, err
	}
	sess, release, err := s.target(args.Session)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := sess.Write(keycodec.EncodeText(args.Text)); err != nil {
		return nil, err
	}
	return protocol.Empty{}, nil
}

func (s *Server) handleKey(raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.KeyArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.DelayMs > maxKeyDelayMs {
		return nil, protocol.ErrInvalidArg(
			fmt.Sprintf("delay %dms out of range", args.DelayMs),
			fmt.Sprintf("Use a delay between 0 and %d milliseconds.", maxKeyDelayMs))
	}
	sess, release, err := s.target(args.Session)
	if err != nil {
		return nil, err
	}
	defer release()

	modes := sess.Term.Modes()
	seqs, err := keycodec.EncodeSequence(args.Keys, keycodec.Modes{
		ApplicationCursor: modes.ApplicationCursor,
		ApplicationKeypad: modes.ApplicationKeypad,
	})
	if err != nil {
		return nil, err
	}

	delay := time.Duration(args.DelayMs) * time.Millisecond
	for i, seq := range seqs {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		// A failed write mid-sequence leaves earlier keys delivered;
		// partial state is preserved by design of the contract.
		if err := sess.Write(seq); err != nil {
			return nil, err
		}
	}
	return protocol.Empty{}, nil
}

func (s *Server) handleClick(raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.ClickArgs](raw)
	if err != nil {
		return nil, err
	}
	sess, release, err := s.target(args.Session)
	if err != nil {
		return nil, err
	}
	defer release()

	view := sess.Term.Snapshot()
	if args.Row >= view.Rows || args.Col >= view.Cols {
		return nil, protocol.ErrInvalidArg(
			fmt.Sprintf("click (%d, %d) outside %dx%d grid", args.Row, args.Col, view.Cols, view.Rows),
			"Take a snapshot to see the current terminal size.")
	}

	// Without mouse tracking the target cannot interpret mouse input;
	// record the intent and write nothing.
	if !sess.Term.Modes().MouseTracking {
		return protocol.ClickResult{Delivered: false}, nil
	}
	if err := sess.Write(keycodec.EncodeMouseClick(args.Row, args.Col)); err != nil {
		return nil, err
	}
	return protocol.ClickResult{Delivered: true}, nil
}

func (s *Server) handleScroll(raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.ScrollArgs](raw)
	if err != nil {
		return nil, err
	}
	var up bool
	switch args.Dir {
	case "up":
		up = true
	case "down":
		up = false
	default:
		return nil, protocol.ErrInvalidArg(
			fmt.Sprintf("unknown scroll direction %q", args.Dir), "Use up or down.")
	}
	if args.Lines < 1 {
		return nil, protocol.ErrInvalidArg("scroll lines must be >= 1", "")
	}
	if args.Lines > maxScrollLines {
		return nil, protocol.ErrInvalidArg(
			fmt.Sprintf("scroll lines %d exceeds maximum %d", args.Lines, maxScrollLines),
			fmt.Sprintf("Use at most %d lines per request.", maxScrollLines))
	}

	sess, release, err := s.target(args.Session)
	if err != nil {
		return nil, err
	}
	defer release()

	view := sess.Term.Snapshot()
	row, col := view.Rows/2, view.Cols/2
	for i := uint32(0); i < args.Lines; i++ {
		if err := sess.Write(keycodec.EncodeScroll(up, row, col)); err != nil {
			return nil, err
		}
	}
	return protocol.Empty{}, nil
}

func (s *Server) handleResize(raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.ResizeArgs](raw)
	if err != nil {
		return nil, err
	}
	sess, release, err := s.target(args.Session)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := sess.Resize(args.Cols, args.Rows); err != nil {
		return nil, err
	}
	return protocol.Empty{}, nil
}

func (s *Server) handleWaitFor(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[protocol.WaitForArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.Pattern == "" {
		return nil, protocol.ErrInvalidArg("pattern is required", "Pass the text or regex to wait for.")
	}
	// Order after earlier requests, then release: the wait must not
	// block subsequent input to the same session.
	sess, release, err := s.target(args.Session)
	if err != nil {
		return nil, err
	}
	release()

	timeout := wait.DefaultTimeout
	if args.TimeoutMs > 0 {
		timeout = time.Duration(args.TimeoutMs) * time.Millisecond
	}
	if err := s.waiter.ForText(ctx, sess, args.Pattern, args.Regex, timeout); err != nil {
		return nil, err
	}
	return protocol.WaitForResult{Matched: true}, nil
}

func (s *Server) handleShutdown() (any, error) {
	s.cfg.Logger.Info("shutdown requested")
	// Let the response flush before tearing the listener down.
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Stop()
	}()
	return protocol.Empty{}, nil
}

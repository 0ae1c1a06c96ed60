// Package wait implements the blocking observation primitives: wait for
// text, wait for a content change, and wait for the screen to settle.
// Waits subscribe to the emulator's change notification; nothing here
// polls.
package wait

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/antonkrylov/pilotty/internal/protocol"
	"github.com/antonkrylov/pilotty/internal/session"
)

// DefaultTimeout applies when a request supplies no timeout.
const DefaultTimeout = 30 * time.Second

// Waiter bounds the number of concurrently pending waits across the
// daemon.
type Waiter struct {
	slots chan struct{}
}

// NewWaiter creates a waiter allowing up to maxPending concurrent waits.
func NewWaiter(maxPending int) *Waiter {
	if maxPending <= 0 {
		maxPending = 256
	}
	return &Waiter{slots: make(chan struct{}, maxPending)}
}

func (w *Waiter) acquire() error {
	select {
	case w.slots <- struct{}{}:
		return nil
	default:
		return protocol.ErrInvalidArg(
			"too many pending waits",
			"Wait for earlier waits to finish, or raise maxPendingWaits in the config.")
	}
}

func (w *Waiter) release() {
	<-w.slots
}

// ForText blocks until pattern is present in the session's plain-text
// rendering. With regex true the pattern is compiled as a regular
// expression; otherwise it is a literal substring. The condition is
// evaluated once immediately and then on every content change. A zero
// timeout resolves immediately if the condition already holds and fails
// with TIMEOUT otherwise.
func (w *Waiter) ForText(ctx context.Context, s *session.Session, pattern string, regex bool, timeout time.Duration) error {
	var match func(string) bool
	if regex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return protocol.ErrInvalidArg(
				"invalid regex pattern: "+err.Error(),
				"Check the regex syntax; common issues are unbalanced parentheses and unescaped metacharacters.")
		}
		match = re.MatchString
	} else {
		match = func(text string) bool { return strings.Contains(text, pattern) }
	}

	return w.run(ctx, s, timeout, "text "+quote(pattern), func() bool {
		return match(s.Term.Text())
	})
}

// ForChange blocks until the content hash differs from prevHash.
func (w *Waiter) ForChange(ctx context.Context, s *session.Session, prevHash uint64, timeout time.Duration) error {
	return w.run(ctx, s, timeout, "change", func() bool {
		return s.Term.Hash() != prevHash
	})
}

// ForSettle blocks until the content hash differs from prevHash and then
// a further settle window passes without any change. Every change during
// the window restarts it.
func (w *Waiter) ForSettle(ctx context.Context, s *session.Session, prevHash uint64, settle, timeout time.Duration) error {
	if err := w.acquire(); err != nil {
		return err
	}
	defer w.release()

	start := time.Now()
	deadline := start.Add(timeout)

	// Phase 1: a change away from prevHash.
	if err := w.changeLocked(ctx, s, prevHash, deadline, start); err != nil {
		return err
	}
	if settle <= 0 {
		return nil
	}

	// Phase 2: quiet window. The version channel fires on every change;
	// each one restarts the settle timer.
	for {
		_, ch := s.Term.Version()

		settleTimer := time.NewTimer(settle)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			settleTimer.Stop()
			return protocol.ErrTimeout("settle", uint64(time.Since(start).Milliseconds()))
		}
		deadlineTimer := time.NewTimer(remaining)

		select {
		case <-settleTimer.C:
			deadlineTimer.Stop()
			return nil
		case <-ch:
			settleTimer.Stop()
			deadlineTimer.Stop()
			// Changed again: restart the window.
		case <-deadlineTimer.C:
			settleTimer.Stop()
			return protocol.ErrTimeout("settle", uint64(time.Since(start).Milliseconds()))
		case <-s.Defunct():
			settleTimer.Stop()
			deadlineTimer.Stop()
			return protocol.ErrSessionGone(s.Name)
		case <-ctx.Done():
			settleTimer.Stop()
			deadlineTimer.Stop()
			return ctx.Err()
		}
	}
}

// changeLocked waits for the hash to differ from prevHash. The caller
// already holds a wait slot.
func (w *Waiter) changeLocked(ctx context.Context, s *session.Session, prevHash uint64, deadline, start time.Time) error {
	for {
		_, ch := s.Term.Version()
		if s.Term.Hash() != prevHash {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.ErrTimeout("change", uint64(time.Since(start).Milliseconds()))
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return protocol.ErrTimeout("change", uint64(time.Since(start).Milliseconds()))
		case <-s.Defunct():
			timer.Stop()
			return protocol.ErrSessionGone(s.Name)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// run is the shared wait loop: subscribe, evaluate, block until change,
// deadline, session death, or caller cancellation.
func (w *Waiter) run(ctx context.Context, s *session.Session, timeout time.Duration, what string, cond func() bool) error {
	if err := w.acquire(); err != nil {
		return err
	}
	defer w.release()

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		// Subscribe before evaluating so a change racing the check still
		// wakes the loop.
		_, ch := s.Term.Version()
		if cond() {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.ErrTimeout(what, uint64(time.Since(start).Milliseconds()))
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return protocol.ErrTimeout(what, uint64(time.Since(start).Milliseconds()))
		case <-s.Defunct():
			timer.Stop()
			// A condition that became true in the session's dying breath
			// still counts.
			if cond() {
				return nil
			}
			return protocol.ErrSessionGone(s.Name)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return "\"" + s + "\""
}

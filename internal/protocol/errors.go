package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes carried on the wire. These are part of the contract.
const (
	CodeInvalidArg      = "INVALID_ARG"
	CodeInvalidKey      = "INVALID_KEY"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeSessionExists   = "SESSION_EXISTS"
	CodeSessionGone     = "SESSION_GONE"
	CodeSpawnFailed     = "SPAWN_FAILED"
	CodeTimeout         = "TIMEOUT"
	CodeInternal        = "INTERNAL"
)

// Error is a protocol-level error with a remediation suggestion. Every
// constructor supplies a suggestion; agents act on them directly.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("[%s] %s (hint: %s)", e.Code, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// AsError converts any error into a protocol Error, mapping unknown errors
// to INTERNAL.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{
		Code:       CodeInternal,
		Message:    err.Error(),
		Suggestion: "This is an internal error. Please report it if it persists.",
	}
}

// ErrInvalidArg reports malformed input.
func ErrInvalidArg(msg, suggestion string) *Error {
	if suggestion == "" {
		suggestion = "Check the request syntax and try again."
	}
	return &Error{Code: CodeInvalidArg, Message: msg, Suggestion: suggestion}
}

// ErrInvalidKey reports an unrecognized key spec.
func ErrInvalidKey(spec string) *Error {
	return &Error{
		Code:       CodeInvalidKey,
		Message:    fmt.Sprintf("unknown key %q", spec),
		Suggestion: "Use named keys like Enter, Tab, Escape, Up, F1, or combos like Ctrl+C, Alt+F, Shift+Tab.",
	}
}

// ErrSessionNotFound reports a missing session, listing the live names so
// the caller can pick one.
func ErrSessionNotFound(target string, available []string) *Error {
	msg := fmt.Sprintf("session %q not found", target)
	if target == "" {
		msg = "no active sessions"
	}
	suggestion := "Run 'pilotty spawn <command>' to create a session."
	if len(available) > 0 {
		suggestion = fmt.Sprintf("Available sessions: %s. Use -s to target one.", strings.Join(available, ", "))
	}
	return &Error{Code: CodeSessionNotFound, Message: msg, Suggestion: suggestion}
}

// ErrSessionExists reports a spawn name collision.
func ErrSessionExists(name string) *Error {
	return &Error{
		Code:       CodeSessionExists,
		Message:    fmt.Sprintf("session name %q already exists", name),
		Suggestion: fmt.Sprintf("Choose a different name with --name, or kill the existing %q session first.", name),
	}
}

// ErrSessionGone reports an operation on a session whose child exited.
func ErrSessionGone(name string) *Error {
	return &Error{
		Code:       CodeSessionGone,
		Message:    fmt.Sprintf("session %q has exited", name),
		Suggestion: "The child process is gone. Spawn a new session.",
	}
}

// ErrSpawnFailed reports a fork/exec failure.
func ErrSpawnFailed(argv []string, cause error) *Error {
	cmd := "(empty command)"
	if len(argv) > 0 {
		cmd = strings.Join(argv, " ")
	}
	first := "the command"
	if len(argv) > 0 {
		first = argv[0]
	}
	return &Error{
		Code:       CodeSpawnFailed,
		Message:    fmt.Sprintf("failed to spawn %q: %v", cmd, cause),
		Suggestion: fmt.Sprintf("Verify %q exists in PATH and is executable.", first),
	}
}

// ErrTimeout reports a wait that exceeded its deadline.
func ErrTimeout(what string, elapsedMs uint64) *Error {
	return &Error{
		Code:       CodeTimeout,
		Message:    fmt.Sprintf("timed out waiting for %s after %dms", what, elapsedMs),
		Suggestion: "Increase the timeout, or check whether the expected change actually happens.",
	}
}

// ErrInternal reports an invariant violation.
func ErrInternal(msg string) *Error {
	return &Error{
		Code:       CodeInternal,
		Message:    msg,
		Suggestion: "This is an internal error. Please report it if it persists.",
	}
}

package main

import (
	"errors"
	"testing"

	"github.com/antonkrylov/pilotty/internal/protocol"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		parsed bool
		want   int
	}{
		{"timeout", protocol.ErrTimeout("x", 1000), true, exitTimeout},
		{"not_found", protocol.ErrSessionNotFound("x", nil), true, exitSessionNotFound},
		{"other_protocol", protocol.ErrSessionGone("x"), true, exitFailure},
		{"invalid_key", protocol.ErrInvalidKey("x"), true, exitFailure},
		{"usage", errors.New("unknown flag: --bogus"), false, exitUsage},
		{"runtime", errors.New("connection refused"), true, exitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err, tc.parsed); got != tc.want {
				t.Errorf("exitCode(%v, %v) = %d, want %d", tc.err, tc.parsed, got, tc.want)
			}
		})
	}
}

func TestParseUint16(t *testing.T) {
	if n, err := parseUint16("120", "cols"); err != nil || n != 120 {
		t.Errorf("parseUint16(120) = %d, %v", n, err)
	}
	for _, bad := range []string{"", "abc", "-5", "70000"} {
		if _, err := parseUint16(bad, "cols"); err == nil {
			t.Errorf("parseUint16(%q) should fail", bad)
		}
	}
}

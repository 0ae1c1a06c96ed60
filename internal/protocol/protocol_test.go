package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	req, err := NewRequest("spawn", SpawnArgs{Argv: []string{"vim", "file.txt"}, Name: "editor"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Request
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Op != "spawn" {
		t.Errorf("op = %q, want spawn", decoded.Op)
	}
	var args SpawnArgs
	if err := json.Unmarshal(decoded.Args, &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if args.Name != "editor" || len(args.Argv) != 2 {
		t.Errorf("args = %+v", args)
	}
}

func TestSnapshotOmitsEmptyText(t *testing.T) {
	snap := Snapshot{SnapshotID: 3, Elements: []Element{}}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "\"text\"") {
		t.Errorf("compact snapshot should omit text: %s", data)
	}
	if !strings.Contains(string(data), "\"elements\":[]") {
		t.Errorf("elements should serialize even when empty: %s", data)
	}
}

func TestElementOmitsOptionalFields(t *testing.T) {
	elem := Element{Kind: "button", Text: "OK", Confidence: 0.8}
	data, _ := json.Marshal(elem)
	if strings.Contains(string(data), "checked") || strings.Contains(string(data), "focused") {
		t.Errorf("unset optional fields should be omitted: %s", data)
	}

	checked := true
	elem = Element{Kind: "toggle", Text: "[x]", Confidence: 1.0, Checked: &checked, Focused: true}
	data, _ = json.Marshal(elem)
	if !strings.Contains(string(data), "\"checked\":true") {
		t.Errorf("checked should serialize: %s", data)
	}
	if !strings.Contains(string(data), "\"focused\":true") {
		t.Errorf("focused should serialize: %s", data)
	}
}

// All error constructors must carry a suggestion; agents act on them.
func TestErrorsCarrySuggestions(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		code string
	}{
		{"invalid_arg", ErrInvalidArg("bad value", ""), CodeInvalidArg},
		{"invalid_key", ErrInvalidKey("Hyper+Q"), CodeInvalidKey},
		{"not_found", ErrSessionNotFound("editor", []string{"default", "logs"}), CodeSessionNotFound},
		{"not_found_empty", ErrSessionNotFound("", nil), CodeSessionNotFound},
		{"exists", ErrSessionExists("editor"), CodeSessionExists},
		{"gone", ErrSessionGone("editor"), CodeSessionGone},
		{"spawn_failed", ErrSpawnFailed([]string{"vim"}, errors.New("not found")), CodeSpawnFailed},
		{"timeout", ErrTimeout("pattern", 30000), CodeTimeout},
		{"internal", ErrInternal("bad state"), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Errorf("code = %q, want %q", tc.err.Code, tc.code)
			}
			if tc.err.Suggestion == "" {
				t.Errorf("%s has no suggestion", tc.name)
			}
		})
	}
}

func TestSessionNotFoundListsSessions(t *testing.T) {
	err := ErrSessionNotFound("nope", []string{"default", "editor"})
	if !strings.Contains(err.Suggestion, "default") || !strings.Contains(err.Suggestion, "editor") {
		t.Errorf("suggestion should list live sessions: %q", err.Suggestion)
	}
}

func TestAsErrorMapsUnknownToInternal(t *testing.T) {
	pe := AsError(errors.New("boom"))
	if pe.Code != CodeInternal {
		t.Errorf("code = %q, want INTERNAL", pe.Code)
	}

	wrapped := fmt.Errorf("context: %w", ErrSessionGone("x"))
	pe = AsError(wrapped)
	if pe.Code != CodeSessionGone {
		t.Errorf("wrapped protocol error should keep its code, got %q", pe.Code)
	}
}

func TestFailureSerialization(t *testing.T) {
	resp := Failure(ErrTimeout("change", 5000))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.OK {
		t.Error("failure response should have ok=false")
	}
	if decoded.Error == nil || decoded.Error.Code != CodeTimeout {
		t.Errorf("error = %+v", decoded.Error)
	}
}

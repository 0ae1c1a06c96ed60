package keycodec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/antonkrylov/pilotty/internal/protocol"
)

func TestEncodeNamedKeys(t *testing.T) {
	cases := []struct {
		spec string
		want []byte
	}{
		{"Enter", []byte("\r")},
		{"return", []byte("\r")},
		{"Tab", []byte("\t")},
		{"Escape", []byte{0x1b}},
		{"esc", []byte{0x1b}},
		{"Space", []byte(" ")},
		{"Backspace", []byte{0x7f}},
		{"Delete", []byte("\x1b[3~")},
		{"Del", []byte("\x1b[3~")},
		{"Insert", []byte("\x1b[2~")},
		{"Up", []byte("\x1b[A")},
		{"ArrowDown", []byte("\x1b[B")},
		{"Right", []byte("\x1b[C")},
		{"left", []byte("\x1b[D")},
		{"Home", []byte("\x1b[H")},
		{"End", []byte("\x1b[F")},
		{"PageUp", []byte("\x1b[5~")},
		{"PgDn", []byte("\x1b[6~")},
		{"F1", []byte("\x1bOP")},
		{"F5", []byte("\x1b[15~")},
		{"F12", []byte("\x1b[24~")},
		{"Plus", []byte("+")},
		{"+", []byte("+")},
	}
	for _, tc := range cases {
		got, err := Encode(tc.spec, Modes{})
		if err != nil {
			t.Errorf("Encode(%q): %v", tc.spec, err)
			continue
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("Encode(%q) = %q, want %q", tc.spec, got, tc.want)
		}
	}
}

func TestEncodeApplicationCursorMode(t *testing.T) {
	modes := Modes{ApplicationCursor: true}
	cases := []struct {
		spec string
		want []byte
	}{
		{"Up", []byte("\x1bOA")},
		{"Down", []byte("\x1bOB")},
		{"Right", []byte("\x1bOC")},
		{"Left", []byte("\x1bOD")},
		{"Home", []byte("\x1bOH")},
		{"End", []byte("\x1bOF")},
		// Tilde-style keys do not change with DECCKM.
		{"PageUp", []byte("\x1b[5~")},
	}
	for _, tc := range cases {
		got, err := Encode(tc.spec, modes)
		if err != nil {
			t.Errorf("Encode(%q): %v", tc.spec, err)
			continue
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("Encode(%q) = %q, want %q", tc.spec, got, tc.want)
		}
	}
}

func TestEncodeCtrlCombos(t *testing.T) {
	cases := []struct {
		spec string
		want []byte
	}{
		{"Ctrl+C", []byte{0x03}},
		{"ctrl+c", []byte{0x03}},
		{"Ctrl+A", []byte{0x01}},
		{"Ctrl+Z", []byte{0x1a}},
		{"Ctrl+[", []byte{0x1b}},
		{"Ctrl+Space", []byte{0x00}},
		{"Ctrl+?", []byte{0x7f}},
		{"Ctrl+_", []byte{0x1f}},
	}
	for _, tc := range cases {
		got, err := Encode(tc.spec, Modes{})
		if err != nil {
			t.Errorf("Encode(%q): %v", tc.spec, err)
			continue
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("Encode(%q) = %v, want %v", tc.spec, got, tc.want)
		}
	}
}

func TestEncodeAltAndShift(t *testing.T) {
	cases := []struct {
		spec string
		want []byte
	}{
		{"Alt+f", []byte{0x1b, 'f'}},
		{"Alt+F", []byte{0x1b, 'F'}},
		{"Meta+x", []byte{0x1b, 'x'}},
		{"Option+b", []byte{0x1b, 'b'}},
		{"Ctrl+Alt+C", []byte{0x1b, 0x03}},
		{"Alt+Enter", []byte{0x1b, '\r'}},
		{"Shift+a", []byte("A")},
		{"Shift+Tab", []byte("\x1b[Z")},
	}
	for _, tc := range cases {
		got, err := Encode(tc.spec, Modes{})
		if err != nil {
			t.Errorf("Encode(%q): %v", tc.spec, err)
			continue
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("Encode(%q) = %v, want %v", tc.spec, got, tc.want)
		}
	}
}

func TestEncodeRejectsUnknown(t *testing.T) {
	for _, spec := range []string{"", "NotAKey", "Hyper+Q", "Ctrl+", "Ctrl+;", "ab"} {
		_, err := Encode(spec, Modes{})
		if err == nil {
			t.Errorf("Encode(%q) should fail", spec)
			continue
		}
		var pe *protocol.Error
		if !errors.As(err, &pe) || pe.Code != protocol.CodeInvalidKey {
			t.Errorf("Encode(%q) error = %v, want INVALID_KEY", spec, err)
		}
	}
}

func TestEncodeSequence(t *testing.T) {
	seqs, err := EncodeSequence("Escape : w q Enter", Modes{})
	if err != nil {
		t.Fatalf("EncodeSequence: %v", err)
	}
	want := [][]byte{{0x1b}, []byte(":"), []byte("w"), []byte("q"), []byte("\r")}
	if len(seqs) != len(want) {
		t.Fatalf("got %d sequences, want %d", len(seqs), len(want))
	}
	for i := range want {
		if !bytes.Equal(seqs[i], want[i]) {
			t.Errorf("seq[%d] = %v, want %v", i, seqs[i], want[i])
		}
	}
}

func TestEncodeSequenceFailsOnBadKey(t *testing.T) {
	if _, err := EncodeSequence("Enter Bogus", Modes{}); err == nil {
		t.Error("sequence with unknown key should fail")
	}
	if _, err := EncodeSequence("   ", Modes{}); err == nil {
		t.Error("empty sequence should fail")
	}
}

func TestEncodeText(t *testing.T) {
	cases := []struct {
		in   string
		want []byte
	}{
		{"hello", []byte("hello")},
		{`line1\nline2`, []byte("line1\nline2")},
		{`col1\tcol2`, []byte("col1\tcol2")},
		{`text\r`, []byte("text\r")},
		{`path\\file`, []byte(`path\file`)},
		{`\x1b`, []byte{0x1b}},
		{`\x00\xff`, []byte{0x00, 0xff}},
		{"hello 世界", []byte("hello 世界")},
		// Invalid hex escape falls through literally.
		{`\xzz`, []byte(`\xzz`)},
		{`trailing\`, []byte(`trailing\`)},
	}
	for _, tc := range cases {
		if got := EncodeText(tc.in); !bytes.Equal(got, tc.want) {
			t.Errorf("EncodeText(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEncodeMouseClick(t *testing.T) {
	got := EncodeMouseClick(0, 0)
	want := []byte("\x1b[<0;1;1M\x1b[<0;1;1m")
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeMouseClick(0,0) = %q, want %q", got, want)
	}

	got = EncodeMouseClick(5, 10)
	if !bytes.HasPrefix(got, []byte("\x1b[<0;11;6M")) {
		t.Errorf("press at (5,10) = %q", got)
	}
	if !bytes.HasSuffix(got, []byte("\x1b[<0;11;6m")) {
		t.Errorf("release at (5,10) = %q", got)
	}
}

func TestEncodeScroll(t *testing.T) {
	if got := EncodeScroll(true, 5, 10); !bytes.Equal(got, []byte("\x1b[<64;11;6M")) {
		t.Errorf("scroll up = %q", got)
	}
	if got := EncodeScroll(false, 5, 10); !bytes.Equal(got, []byte("\x1b[<65;11;6M")) {
		t.Errorf("scroll down = %q", got)
	}
}

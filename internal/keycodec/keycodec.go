// Package keycodec translates textual key specs ("Enter", "Ctrl+C",
// "Shift+Tab") into the byte sequences a VT-style terminal expects on its
// input side. Arrow and navigation keys honor the emulator's
// application-cursor-keys mode (DECCKM): CSI sequences normally, SS3 when
// the mode is set.
package keycodec

import (
	"fmt"
	"strings"

	"github.com/antonkrylov/pilotty/internal/protocol"
)

// Modes captures the emulator input modes that affect key encoding.
type Modes struct {
	// ApplicationCursor selects SS3 encodings for arrows and Home/End.
	ApplicationCursor bool
	// ApplicationKeypad selects application keypad encodings. Tracked for
	// completeness; the named-key table does not cover the numeric keypad.
	ApplicationKeypad bool
}

const (
	csi = "\x1b["
	ss3 = "\x1bO"
)

// cursorKey returns the CSI or SS3 form of a cursor-style final byte
// depending on DECCKM.
func cursorKey(final byte, modes Modes) []byte {
	if modes.ApplicationCursor {
		return []byte{0x1b, 'O', final}
	}
	return []byte{0x1b, '[', final}
}

// namedKey resolves a lowercased named key to its byte sequence. Returns
// nil when the name is not recognized.
func namedKey(name string, modes Modes) []byte {
	switch name {
	case "enter", "return":
		return []byte{'\r'}
	case "tab":
		return []byte{'\t'}
	case "escape", "esc":
		return []byte{0x1b}
	case "space":
		return []byte{' '}
	case "backspace":
		return []byte{0x7f}
	case "delete", "del":
		return []byte(csi + "3~")
	case "insert", "ins":
		return []byte(csi + "2~")
	case "up", "arrowup":
		return cursorKey('A', modes)
	case "down", "arrowdown":
		return cursorKey('B', modes)
	case "right", "arrowright":
		return cursorKey('C', modes)
	case "left", "arrowleft":
		return cursorKey('D', modes)
	case "home":
		return cursorKey('H', modes)
	case "end":
		return cursorKey('F', modes)
	case "pageup", "pgup":
		return []byte(csi + "5~")
	case "pagedown", "pgdn":
		return []byte(csi + "6~")
	case "f1":
		return []byte(ss3 + "P")
	case "f2":
		return []byte(ss3 + "Q")
	case "f3":
		return []byte(ss3 + "R")
	case "f4":
		return []byte(ss3 + "S")
	case "f5":
		return []byte(csi + "15~")
	case "f6":
		return []byte(csi + "17~")
	case "f7":
		return []byte(csi + "18~")
	case "f8":
		return []byte(csi + "19~")
	case "f9":
		return []byte(csi + "20~")
	case "f10":
		return []byte(csi + "21~")
	case "f11":
		return []byte(csi + "23~")
	case "f12":
		return []byte(csi + "24~")
	case "plus":
		// Named alias for a literal '+', which is otherwise the combo
		// separator.
		return []byte{'+'}
	}
	return nil
}

// ctrlByte maps a base character to its C0 control byte. Returns -1 when
// there is no control mapping.
func ctrlByte(r rune) int {
	switch {
	case r >= 'a' && r <= 'z':
		return int(r-'a') + 1
	case r >= 'A' && r <= 'Z':
		return int(r-'A') + 1
	}
	switch r {
	case '@', ' ', '2':
		return 0x00
	case '[', '3':
		return 0x1b
	case '\\', '4':
		return 0x1c
	case ']', '5':
		return 0x1d
	case '^', '6':
		return 0x1e
	case '_', '7':
		return 0x1f
	case '?':
		return 0x7f
	}
	return -1
}

// Encode translates a single key spec into the bytes to write to the PTY.
// A spec is zero or more '+'-separated modifiers (Ctrl, Alt/Meta/Option,
// Shift) followed by a base key: a named key or a single character. Named
// keys and modifier names are case-insensitive. Unknown specs fail with
// INVALID_KEY.
func Encode(spec string, modes Modes) ([]byte, error) {
	if spec == "" {
		return nil, protocol.ErrInvalidKey(spec)
	}

	// A bare "+" is the literal plus character, not an empty combo.
	if spec == "+" {
		return []byte{'+'}, nil
	}

	parts := strings.Split(spec, "+")
	var ctrl, alt, shift bool
	base := ""
	for i, part := range parts {
		switch strings.ToLower(part) {
		case "ctrl", "control":
			ctrl = true
		case "alt", "meta", "option":
			alt = true
		case "shift":
			shift = true
		default:
			// Only the final component may be the base key.
			if i != len(parts)-1 || part == "" {
				return nil, protocol.ErrInvalidKey(spec)
			}
			base = part
		}
	}
	if base == "" {
		return nil, protocol.ErrInvalidKey(spec)
	}

	lower := strings.ToLower(base)

	// Shift+Tab is its own sequence (CSI Z), not a modified Tab.
	if shift && lower == "tab" && !ctrl && !alt {
		return []byte(csi + "Z"), nil
	}

	// Ctrl+Space and friends produce NUL before named-key lookup would
	// turn "space" into a plain ' '.
	if ctrl {
		if lower == "space" {
			out := []byte{}
			if alt {
				out = append(out, 0x1b)
			}
			return append(out, 0x00), nil
		}
	}

	if seq := namedKey(lower, modes); seq != nil {
		if ctrl && len(seq) == 1 {
			// Ctrl applies to single-byte named keys only (e.g. Ctrl+Enter
			// has no standard encoding beyond CR itself); multi-byte
			// sequences with Ctrl are not representable here.
			if c := ctrlByte(rune(seq[0])); c >= 0 {
				seq = []byte{byte(c)}
			}
		}
		if alt {
			seq = append([]byte{0x1b}, seq...)
		}
		return seq, nil
	}

	// Single-character base key.
	runes := []rune(base)
	if len(runes) != 1 {
		return nil, protocol.ErrInvalidKey(spec)
	}
	r := runes[0]

	if shift && r >= 'a' && r <= 'z' {
		r = r - 'a' + 'A'
	}

	if ctrl {
		c := ctrlByte(r)
		if c < 0 {
			return nil, protocol.ErrInvalidKey(spec)
		}
		out := []byte{}
		if alt {
			out = append(out, 0x1b)
		}
		return append(out, byte(c)), nil
	}

	if alt {
		return append([]byte{0x1b}, []byte(string(r))...), nil
	}

	return []byte(string(r)), nil
}

// EncodeSequence splits input on ASCII whitespace into key specs and
// encodes each. The daemon inserts the inter-key delay between writes.
func EncodeSequence(input string, modes Modes) ([][]byte, error) {
	specs := strings.Fields(input)
	if len(specs) == 0 {
		return nil, protocol.ErrInvalidKey(input)
	}
	out := make([][]byte, 0, len(specs))
	for _, spec := range specs {
		seq, err := Encode(spec, modes)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, nil
}

// EncodeText converts text for the type op. Backslash escapes \n, \r, \t,
// \\ and \xNN are decoded; everything else passes through as UTF-8.
func EncodeText(text string) []byte {
	out := make([]byte, 0, len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' || i+1 >= len(runes) {
			out = append(out, []byte(string(r))...)
			continue
		}
		switch runes[i+1] {
		case 'n':
			out = append(out, '\n')
			i++
		case 'r':
			out = append(out, '\r')
			i++
		case 't':
			out = append(out, '\t')
			i++
		case '\\':
			out = append(out, '\\')
			i++
		case 'x':
			if i+3 < len(runes) {
				if b, ok := hexByte(runes[i+2], runes[i+3]); ok {
					out = append(out, b)
					i += 3
					continue
				}
			}
			out = append(out, '\\')
		default:
			out = append(out, '\\')
		}
	}
	return out
}

func hexByte(hi, lo rune) (byte, bool) {
	h := hexVal(hi)
	l := hexVal(lo)
	if h < 0 || l < 0 {
		return 0, false
	}
	return byte(h<<4 | l), true
}

func hexVal(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10
	}
	return -1
}

// EncodeMouseClick produces an SGR-encoded left-button press and release
// at the given 0-based cell. SGR coordinates are 1-indexed.
func EncodeMouseClick(row, col uint16) []byte {
	x, y := int(col)+1, int(row)+1
	press := fmt.Sprintf("%s<0;%d;%dM", csi, x, y)
	release := fmt.Sprintf("%s<0;%d;%dm", csi, x, y)
	return []byte(press + release)
}

// EncodeScroll produces one SGR wheel event (button 64 up, 65 down) at the
// given 0-based cell.
func EncodeScroll(up bool, row, col uint16) []byte {
	button := 65
	if up {
		button = 64
	}
	return []byte(fmt.Sprintf("%s<%d;%d;%dM", csi, button, int(col)+1, int(row)+1))
}

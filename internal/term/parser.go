package term

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

// Parser states. Ground accumulates printable text; the others are inside
// an escape sequence.
const (
	stateGround = iota
	stateEscape
	stateEscapeIntermediate
	stateCSI
	stateOSC
	stateCharsetG0
	stateCharsetG1
	// stateString consumes DCS/APC/PM/SOS payloads until ST without
	// touching the grid.
	stateString
)

type parserState struct {
	state int

	// Raw CSI parameter and intermediate bytes, decoded at dispatch.
	params       []byte
	intermediate []byte
	private      byte

	oscBuf []byte

	// Incomplete trailing UTF-8 bytes carried to the next Feed.
	pendingUTF8 []byte
	// Complete printable runes awaiting grapheme segmentation.
	textRun []byte

	// Last cell written, target for combining marks that arrive on a
	// later chunk than their base character.
	lastRow, lastCol int
	lastValid        bool
}

const (
	maxOSCLen   = 4096
	maxParamLen = 256
)

// parse applies a chunk of PTY bytes. Callers hold the emulator lock.
func (e *Emulator) parse(data []byte) {
	p := &e.parser

	// Re-prepend an incomplete UTF-8 tail from the previous chunk.
	if len(p.pendingUTF8) > 0 {
		data = append(append([]byte{}, p.pendingUTF8...), data...)
		p.pendingUTF8 = nil
	}

	for i := 0; i < len(data); {
		b := data[i]

		switch p.state {
		case stateGround:
			switch {
			case b == 0x1b:
				e.flushText()
				p.state = stateEscape
				i++
			case b < 0x20 || b == 0x7f:
				e.flushText()
				e.execControl(b)
				i++
			default:
				// Printable: accumulate whole runes.
				if b < utf8.RuneSelf {
					p.textRun = append(p.textRun, b)
					i++
					continue
				}
				r, size := utf8.DecodeRune(data[i:])
				if r == utf8.RuneError && size == 1 {
					if !utf8.FullRune(data[i:]) {
						// Incomplete sequence at chunk end; keep for later.
						p.pendingUTF8 = append(p.pendingUTF8, data[i:]...)
						i = len(data)
						continue
					}
					// Genuinely invalid byte: replacement character.
					p.textRun = append(p.textRun, []byte(string(utf8.RuneError))...)
					i++
					continue
				}
				p.textRun = append(p.textRun, data[i:i+size]...)
				i += size
			}

		case stateEscape:
			i++
			switch b {
			case '[':
				p.state = stateCSI
				p.params = p.params[:0]
				p.intermediate = p.intermediate[:0]
				p.private = 0
			case ']':
				p.state = stateOSC
				p.oscBuf = p.oscBuf[:0]
			case '(':
				p.state = stateCharsetG0
			case ')':
				p.state = stateCharsetG1
			case '#':
				p.state = stateEscapeIntermediate
			case 'P', '_', '^', 'X':
				p.state = stateString
			case '7':
				e.saveCursor()
				p.state = stateGround
			case '8':
				e.restoreCursor()
				p.state = stateGround
			case 'D':
				e.lineFeed()
				p.state = stateGround
			case 'E':
				e.lineFeed()
				e.cur.cursorCol = 0
				p.state = stateGround
			case 'M':
				e.reverseIndex()
				p.state = stateGround
			case 'c':
				e.reset()
				p.state = stateGround
			case 'H':
				e.cur.tabStops[e.cur.cursorCol] = true
				p.state = stateGround
			case '=':
				e.appKeypad = true
				p.state = stateGround
			case '>':
				e.appKeypad = false
				p.state = stateGround
			case '\\':
				// Stray string terminator.
				p.state = stateGround
			case 0x18, 0x1a:
				p.state = stateGround
			case 0x1b:
				// Restart.
			default:
				// Unknown escape: discard without advancing the cursor.
				p.state = stateGround
			}

		case stateEscapeIntermediate:
			i++
			if b == '8' {
				e.screenAlignment()
			}
			p.state = stateGround

		case stateCharsetG0, stateCharsetG1:
			i++
			set := charsetASCII
			if b == '0' {
				set = charsetGraphics
			}
			if p.state == stateCharsetG0 {
				e.charsets[0] = set
			} else {
				e.charsets[1] = set
			}
			p.state = stateGround

		case stateCSI:
			i++
			switch {
			case b == 0x18 || b == 0x1a:
				p.state = stateGround
			case b == 0x1b:
				p.state = stateEscape
			case b < 0x20:
				e.execControl(b)
			case b >= 0x30 && b <= 0x3f:
				if b == '?' || b == '<' || b == '=' || b == '>' {
					if len(p.params) == 0 {
						p.private = b
					} else {
						// A marker after parameters makes the sequence
						// malformed; it is discarded at dispatch.
						p.private = 0xff
					}
					continue
				}
				if len(p.params) < maxParamLen {
					p.params = append(p.params, b)
				}
			case b >= 0x20 && b <= 0x2f:
				p.intermediate = append(p.intermediate, b)
			case b >= 0x40 && b <= 0x7e:
				e.dispatchCSI(b)
				p.state = stateGround
			default:
				p.state = stateGround
			}

		case stateOSC:
			i++
			switch {
			case b == 0x07:
				e.dispatchOSC()
				p.state = stateGround
			case b == 0x1b:
				// Possible ST (ESC \): peek the next byte.
				if i < len(data) && data[i] == '\\' {
					i++
					e.dispatchOSC()
					p.state = stateGround
				} else {
					e.dispatchOSC()
					p.state = stateEscape
				}
			case b == 0x18 || b == 0x1a:
				p.oscBuf = p.oscBuf[:0]
				p.state = stateGround
			default:
				if len(p.oscBuf) < maxOSCLen {
					p.oscBuf = append(p.oscBuf, b)
				}
			}

		case stateString:
			i++
			switch b {
			case 0x07, 0x18, 0x1a:
				p.state = stateGround
			case 0x1b:
				if i < len(data) && data[i] == '\\' {
					i++
				}
				p.state = stateGround
			}
		}
	}

	e.flushText()
}

// flushText segments the pending printable run into grapheme clusters and
// writes each as one cell. A zero-width cluster at the start of a run is a
// combining mark for the previously written cell.
func (e *Emulator) flushText() {
	p := &e.parser
	if len(p.textRun) == 0 {
		return
	}
	text := string(p.textRun)
	p.textRun = p.textRun[:0]

	state := -1
	var cluster string
	for len(text) > 0 {
		cluster, text, _, state = uniseg.StepString(text, state)
		width := runewidth.StringWidth(cluster)
		if width <= 0 {
			if p.lastValid {
				e.cur.appendToCell(p.lastRow, p.lastCol, cluster)
			}
			continue
		}
		if width > 2 {
			width = 2
		}
		e.writeCluster(e.mapCharset(cluster), width)
	}
}

// mapCharset translates a single-rune cluster through the active DEC
// special graphics set, the mapping dialog/whiptail depend on for borders.
func (e *Emulator) mapCharset(cluster string) string {
	if e.charsets[e.activeSet] != charsetGraphics {
		return cluster
	}
	if len(cluster) != 1 {
		return cluster
	}
	if mapped, ok := decGraphics[cluster[0]]; ok {
		return mapped
	}
	return cluster
}

// decGraphics is the DEC special graphics mapping (ESC ( 0).
var decGraphics = map[byte]string{
	'j': "┘", 'k': "┐", 'l': "┌", 'm': "└", 'n': "┼",
	'q': "─", 't': "├", 'u': "┤", 'v': "┴", 'w': "┬",
	'x': "│", 'a': "▒", '`': "◆", 'f': "°", 'g': "±",
	'~': "·", 'o': "⎺", 's': "⎽", '0': "█",
}

// writeCluster places one grapheme cluster at the cursor, honoring
// deferred auto-wrap and wide-cell placement at the right edge.
func (e *Emulator) writeCluster(cluster string, width int) {
	s := e.cur

	if s.pendingWrap && e.autoWrap {
		s.cursorCol = 0
		e.lineFeed()
	}
	s.pendingWrap = false

	// A wide cell that would straddle the right edge moves to the next
	// line's column 0.
	if width == 2 && s.cursorCol == s.cols-1 {
		s.cursorCol = 0
		e.lineFeed()
	}

	s.setCell(s.cursorRow, s.cursorCol, cluster, width, e.attr)
	e.parser.lastRow, e.parser.lastCol = s.cursorRow, s.cursorCol
	e.parser.lastValid = true

	next := s.cursorCol + width
	if next >= s.cols {
		s.cursorCol = s.cols - 1
		if e.autoWrap {
			s.pendingWrap = true
		}
	} else {
		s.cursorCol = next
	}
}

// execControl handles C0 bytes in the ground state.
func (e *Emulator) execControl(b byte) {
	s := e.cur
	switch b {
	case 0x07: // BEL
	case 0x08: // BS
		if s.cursorCol > 0 {
			s.cursorCol--
		}
		s.pendingWrap = false
	case 0x09: // HT
		s.cursorCol = s.nextTabStop()
	case 0x0a, 0x0b, 0x0c: // LF, VT, FF
		e.lineFeed()
	case 0x0d: // CR
		s.cursorCol = 0
		s.pendingWrap = false
	case 0x0e: // SO: select G1
		e.activeSet = 1
	case 0x0f: // SI: select G0
		e.activeSet = 0
	}
}

func (e *Emulator) lineFeed() {
	s := e.cur
	s.pendingWrap = false
	if s.cursorRow == s.bottom {
		s.scrollUp(1, e.attr, e.retire())
	} else if s.cursorRow < s.rows-1 {
		s.cursorRow++
	}
}

func (e *Emulator) reverseIndex() {
	s := e.cur
	s.pendingWrap = false
	if s.cursorRow == s.top {
		s.scrollDown(1, e.attr)
	} else if s.cursorRow > 0 {
		s.cursorRow--
	}
}

func (e *Emulator) saveCursor() {
	s := e.cur
	s.savedRow, s.savedCol = s.cursorRow, s.cursorCol
	s.savedAttr = e.attr
	s.savedValid = true
}

func (e *Emulator) restoreCursor() {
	s := e.cur
	if !s.savedValid {
		s.cursorRow, s.cursorCol = 0, 0
		return
	}
	s.cursorRow, s.cursorCol = s.savedRow, s.savedCol
	e.attr = s.savedAttr
	s.clampCursor()
	s.pendingWrap = false
}

// reset implements RIS: both screens cleared, modes and attributes back to
// defaults, scrollback kept.
func (e *Emulator) reset() {
	cols, rows := e.cur.cols, e.cur.rows
	e.main = newScreen(cols, rows)
	e.alt = newScreen(cols, rows)
	e.cur = e.main
	e.attr = Attr{}
	e.cursorVisible = true
	e.autoWrap = true
	e.appCursor = false
	e.appKeypad = false
	e.originMode = false
	e.mouseNormal, e.mouseButton, e.mouseSGR = false, false, false
	e.charsets = [2]charset{charsetASCII, charsetASCII}
	e.activeSet = 0
	e.parser.lastValid = false
}

// screenAlignment implements DECALN: fill the screen with E.
func (e *Emulator) screenAlignment() {
	s := e.cur
	for r := 0; r < s.rows; r++ {
		for c := 0; c < s.cols; c++ {
			s.lines[r][c] = Cell{Content: "E", Width: 1}
		}
	}
	s.cursorRow, s.cursorCol = 0, 0
}

// csiParams decodes the raw parameter bytes into groups. Each ';'-
// separated group may carry ':'-separated subparameters (SGR 38/48).
func (e *Emulator) csiParams() [][]int {
	raw := string(e.parser.params)
	if raw == "" {
		return nil
	}
	groups := strings.Split(raw, ";")
	out := make([][]int, 0, len(groups))
	for _, g := range groups {
		subs := strings.Split(g, ":")
		vals := make([]int, 0, len(subs))
		for _, sub := range subs {
			if sub == "" {
				vals = append(vals, 0)
				continue
			}
			n, err := strconv.Atoi(sub)
			if err != nil || n < 0 {
				n = 0
			}
			vals = append(vals, n)
		}
		out = append(out, vals)
	}
	return out
}

// param returns the first value of group i, or def when absent or zero.
func param(params [][]int, i, def int) int {
	if i >= len(params) || len(params[i]) == 0 || params[i][0] == 0 {
		return def
	}
	return params[i][0]
}

// paramAllowZero returns the first value of group i, keeping zero.
func paramAllowZero(params [][]int, i, def int) int {
	if i >= len(params) || len(params[i]) == 0 {
		return def
	}
	return params[i][0]
}

func (e *Emulator) dispatchCSI(final byte) {
	p := &e.parser
	if len(p.intermediate) > 0 {
		// No intermediate-byte CSI sequences are supported; discard.
		return
	}
	params := e.csiParams()
	s := e.cur

	if p.private == '?' {
		switch final {
		case 'h':
			e.setPrivateModes(params, true)
		case 'l':
			e.setPrivateModes(params, false)
		}
		return
	}
	if p.private != 0 {
		return
	}

	switch final {
	case 'A': // CUU
		s.cursorRow -= param(params, 0, 1)
		if s.cursorRow < s.top {
			s.cursorRow = s.top
		}
		s.pendingWrap = false
	case 'B': // CUD
		s.cursorRow += param(params, 0, 1)
		if s.cursorRow > s.bottom {
			s.cursorRow = s.bottom
		}
		s.pendingWrap = false
	case 'C': // CUF
		s.cursorCol += param(params, 0, 1)
		s.clampCursor()
		s.pendingWrap = false
	case 'D': // CUB
		s.cursorCol -= param(params, 0, 1)
		s.clampCursor()
		s.pendingWrap = false
	case 'E': // CNL
		s.cursorCol = 0
		s.cursorRow += param(params, 0, 1)
		s.clampCursor()
		s.pendingWrap = false
	case 'F': // CPL
		s.cursorCol = 0
		s.cursorRow -= param(params, 0, 1)
		s.clampCursor()
		s.pendingWrap = false
	case 'G': // CHA
		s.cursorCol = param(params, 0, 1) - 1
		s.clampCursor()
		s.pendingWrap = false
	case 'H', 'f': // CUP / HVP
		e.moveCursorTo(param(params, 0, 1)-1, param(params, 1, 1)-1)
	case 'I': // CHT
		for n := param(params, 0, 1); n > 0; n-- {
			s.cursorCol = s.nextTabStop()
		}
	case 'J': // ED
		mode := paramAllowZero(params, 0, 0)
		s.eraseDisplay(mode, e.attr)
		if mode == 3 && e.cur == e.main {
			e.scrollback = nil
		}
	case 'K': // EL
		s.eraseLine(paramAllowZero(params, 0, 0), e.attr)
	case 'L': // IL
		s.insertLines(param(params, 0, 1), e.attr)
	case 'M': // DL
		s.deleteLines(param(params, 0, 1), e.attr)
	case 'P': // DCH
		s.deleteChars(param(params, 0, 1), e.attr)
	case 'S': // SU
		s.scrollUp(param(params, 0, 1), e.attr, e.retire())
	case 'T': // SD
		s.scrollDown(param(params, 0, 1), e.attr)
	case 'X': // ECH
		s.eraseChars(param(params, 0, 1), e.attr)
	case 'Z': // CBT
		for n := param(params, 0, 1); n > 0; n-- {
			s.cursorCol = s.prevTabStop()
		}
	case '@': // ICH
		s.insertChars(param(params, 0, 1), e.attr)
	case 'd': // VPA
		s.cursorRow = param(params, 0, 1) - 1
		s.clampCursor()
		s.pendingWrap = false
	case 'g': // TBC
		switch paramAllowZero(params, 0, 0) {
		case 0:
			delete(s.tabStops, s.cursorCol)
		case 3:
			s.tabStops = make(map[int]bool)
		}
	case 'm':
		e.applySGR(params)
	case 'r': // DECSTBM
		top := param(params, 0, 1) - 1
		bottom := param(params, 1, s.rows) - 1
		if top < 0 || bottom >= s.rows || top >= bottom {
			return
		}
		s.top, s.bottom = top, bottom
		e.moveCursorTo(0, 0)
	case 's':
		e.saveCursor()
	case 'u':
		e.restoreCursor()
	}
}

// moveCursorTo positions the cursor, relative to the scroll region in
// origin mode (DECOM).
func (e *Emulator) moveCursorTo(row, col int) {
	s := e.cur
	if e.originMode {
		row += s.top
		if row > s.bottom {
			row = s.bottom
		}
		if row < s.top {
			row = s.top
		}
	}
	s.cursorRow, s.cursorCol = row, col
	s.clampCursor()
	s.pendingWrap = false
}

func (e *Emulator) setPrivateModes(params [][]int, set bool) {
	for i := range params {
		switch paramAllowZero(params, i, 0) {
		case 1: // DECCKM
			e.appCursor = set
		case 6: // DECOM
			e.originMode = set
			e.moveCursorTo(0, 0)
		case 7: // DECAWM
			e.autoWrap = set
		case 25: // DECTCEM
			e.cursorVisible = set
		case 47, 1047:
			e.switchScreen(set, false)
		case 1049:
			e.switchScreen(set, true)
		case 1000:
			e.mouseNormal = set
		case 1002:
			e.mouseButton = set
		case 1006:
			e.mouseSGR = set
		}
	}
}

// switchScreen enters or leaves the alternate screen. ?1049 also saves
// and restores the primary cursor and clears the alt screen on entry.
func (e *Emulator) switchScreen(toAlt, saveCursor bool) {
	if toAlt {
		if e.cur == e.alt {
			return
		}
		if saveCursor {
			e.saveCursor()
		}
		e.cur = e.alt
		if saveCursor {
			e.cur.eraseDisplay(2, Attr{})
			e.cur.cursorRow, e.cur.cursorCol = 0, 0
		}
	} else {
		if e.cur == e.main {
			return
		}
		e.cur = e.main
		if saveCursor {
			e.restoreCursor()
		}
	}
	e.parser.lastValid = false
}

func (e *Emulator) applySGR(params [][]int) {
	if len(params) == 0 {
		e.attr = Attr{}
		return
	}
	for i := 0; i < len(params); i++ {
		group := params[i]
		code := group[0]
		switch code {
		case 0:
			e.attr = Attr{}
		case 1:
			e.attr.Bold = true
		case 2:
			e.attr.Dim = true
		case 4:
			e.attr.Underline = true
		case 7:
			e.attr.Reverse = true
		case 22:
			e.attr.Bold = false
			e.attr.Dim = false
		case 24:
			e.attr.Underline = false
		case 27:
			e.attr.Reverse = false
		case 39:
			e.attr.FG = Color{}
		case 49:
			e.attr.BG = Color{}
		case 38, 48:
			color, consumed := parseExtendedColor(params, i)
			if consumed == 0 {
				return
			}
			if code == 38 {
				e.attr.FG = color
			} else {
				e.attr.BG = color
			}
			i += consumed - 1
		default:
			switch {
			case code >= 30 && code <= 37:
				e.attr.FG = Indexed(uint8(code - 30))
			case code >= 40 && code <= 47:
				e.attr.BG = Indexed(uint8(code - 40))
			case code >= 90 && code <= 97:
				e.attr.FG = Indexed(uint8(code - 90 + 8))
			case code >= 100 && code <= 107:
				e.attr.BG = Indexed(uint8(code - 100 + 8))
			}
		}
	}
}

// parseExtendedColor decodes SGR 38/48 in both the semicolon form
// (38;5;n / 38;2;r;g;b) and the colon subparameter form (38:5:n).
// Returns the number of ';'-groups consumed, 0 on a malformed sequence.
func parseExtendedColor(params [][]int, i int) (Color, int) {
	group := params[i]
	if len(group) >= 2 {
		// Colon form: everything in one group.
		switch group[1] {
		case 5:
			if len(group) >= 3 {
				return Indexed(clampByte(group[2])), 1
			}
		case 2:
			if len(group) >= 5 {
				return RGB(clampByte(group[2]), clampByte(group[3]), clampByte(group[4])), 1
			}
		}
		return Color{}, 0
	}
	// Semicolon form: mode and components are separate groups.
	if i+1 >= len(params) {
		return Color{}, 0
	}
	switch params[i+1][0] {
	case 5:
		if i+2 < len(params) {
			return Indexed(clampByte(params[i+2][0])), 3
		}
	case 2:
		if i+4 < len(params) {
			return RGB(clampByte(params[i+2][0]), clampByte(params[i+3][0]), clampByte(params[i+4][0])), 5
		}
	}
	return Color{}, 0
}

func clampByte(n int) uint8 {
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

// dispatchOSC consumes an OSC string. Titles (OSC 0/2) are recorded;
// everything else is silently dropped.
func (e *Emulator) dispatchOSC() {
	buf := string(e.parser.oscBuf)
	e.parser.oscBuf = e.parser.oscBuf[:0]

	code, rest, ok := strings.Cut(buf, ";")
	if !ok {
		return
	}
	if code == "0" || code == "2" {
		e.title = rest
	}
}

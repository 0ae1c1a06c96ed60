package term

import (
	"strings"
	"sync"
)

// DefaultScrollback is the per-session cap on retired primary-screen
// lines. FIFO: the oldest line is dropped first.
const DefaultScrollback = 1000

// Modes is the subset of terminal modes observable by callers. The key
// codec consults ApplicationCursor; mouse tracking gates click delivery.
type Modes struct {
	ApplicationCursor bool
	ApplicationKeypad bool
	AltScreen         bool
	MouseTracking     bool
}

// Emulator is the terminal emulator for one session. It is mutated by
// Feed, called from the session's reader goroutine, and by Resize; both
// hold the lock, and observers take consistent copies under it. Each
// Feed that changes the visible content hash increments the version
// counter and wakes watchers.
type Emulator struct {
	mu sync.Mutex

	main *screen
	alt  *screen
	cur  *screen

	scrollback    [][]Cell
	maxScrollback int

	attr          Attr
	cursorVisible bool

	// DEC private modes.
	autoWrap    bool // DECAWM
	appCursor   bool // DECCKM
	appKeypad   bool
	originMode  bool // DECOM
	mouseNormal bool // ?1000
	mouseButton bool // ?1002
	mouseSGR    bool // ?1006

	// Charset state: G0/G1 designation plus the active set. The DEC
	// special graphics set maps ASCII to box-drawing glyphs.
	charsets  [2]charset
	activeSet int

	title string

	parser parserState

	version uint64
	hash    uint64
	changed chan struct{}
}

type charset uint8

const (
	charsetASCII charset = iota
	charsetGraphics
)

// New creates an emulator with the given size and scrollback capacity.
// A scrollback of 0 means DefaultScrollback.
func New(cols, rows uint16, scrollback int) *Emulator {
	if scrollback <= 0 {
		scrollback = DefaultScrollback
	}
	e := &Emulator{
		main:          newScreen(int(cols), int(rows)),
		alt:           newScreen(int(cols), int(rows)),
		maxScrollback: scrollback,
		cursorVisible: true,
		autoWrap:      true,
		changed:       make(chan struct{}),
	}
	e.cur = e.main
	e.hash = ContentHash(e.renderTextLocked())
	return e
}

// Feed parses a chunk of PTY output. After the chunk is applied the
// content hash is recomputed; if it changed, the version is bumped and
// watchers are woken. Multiple reads may be coalesced into one Feed by
// the caller, but bytes are never dropped.
func (e *Emulator) Feed(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.parse(data)

	newHash := ContentHash(e.renderTextLocked())
	if newHash != e.hash {
		e.hash = newHash
		e.version++
		close(e.changed)
		e.changed = make(chan struct{})
	}
}

// Resize reshapes both screens. Content outside the new box is lost and
// the cursor is clamped. A resize that changes the rendering bumps the
// version like any other change.
func (e *Emulator) Resize(cols, rows uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.main.resize(int(cols), int(rows))
	e.alt.resize(int(cols), int(rows))

	newHash := ContentHash(e.renderTextLocked())
	if newHash != e.hash {
		e.hash = newHash
		e.version++
		close(e.changed)
		e.changed = make(chan struct{})
	}
}

// Version returns the monotonic change counter and the channel closed on
// the next change. The channel is valid for exactly one change.
func (e *Emulator) Version() (uint64, <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version, e.changed
}

// Hash returns the current content hash.
func (e *Emulator) Hash() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hash
}

// Modes reports the input-relevant mode flags.
func (e *Emulator) Modes() Modes {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Modes{
		ApplicationCursor: e.appCursor,
		ApplicationKeypad: e.appKeypad,
		AltScreen:         e.cur == e.alt,
		MouseTracking:     e.mouseNormal || e.mouseButton,
	}
}

// Title returns the window title set via OSC 0/2.
func (e *Emulator) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

// View is a consistent copy of the visible grid taken under the lock.
type View struct {
	Cols, Rows    uint16
	CursorRow     uint16
	CursorCol     uint16
	CursorVisible bool
	Cells         [][]Cell
	Hash          uint64
	Version       uint64
}

// Snapshot copies the visible grid. The returned View shares nothing with
// the emulator and can be read without synchronization.
func (e *Emulator) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	cells := make([][]Cell, e.cur.rows)
	for r := range cells {
		row := make([]Cell, e.cur.cols)
		copy(row, e.cur.lines[r])
		cells[r] = row
	}
	return View{
		Cols:          uint16(e.cur.cols),
		Rows:          uint16(e.cur.rows),
		CursorRow:     uint16(e.cur.cursorRow),
		CursorCol:     uint16(e.cur.cursorCol),
		CursorVisible: e.cursorVisible,
		Cells:         cells,
		Hash:          e.hash,
		Version:       e.version,
	}
}

// Text renders the visible screen as plain text, rows joined by \n with
// trailing spaces trimmed per row.
func (e *Emulator) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderTextLocked()
}

// ScrollbackLen reports the number of retired lines currently held.
func (e *Emulator) ScrollbackLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.scrollback)
}

func (e *Emulator) renderTextLocked() string {
	var b strings.Builder
	for r := 0; r < e.cur.rows; r++ {
		if r > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(renderLine(e.cur.lines[r]))
	}
	return b.String()
}

func renderLine(line []Cell) string {
	var b strings.Builder
	for _, cell := range line {
		if cell.Width == 0 {
			continue
		}
		b.WriteString(cell.Content)
	}
	return strings.TrimRight(b.String(), " ")
}

// retireLine pushes a line leaving the top of the primary screen into the
// scrollback FIFO.
func (e *Emulator) retireLine(line []Cell) {
	retired := make([]Cell, len(line))
	copy(retired, line)
	e.scrollback = append(e.scrollback, retired)
	if len(e.scrollback) > e.maxScrollback {
		e.scrollback = e.scrollback[len(e.scrollback)-e.maxScrollback:]
	}
}

// retire returns the scrollback callback for the current screen: only the
// primary screen retires lines.
func (e *Emulator) retire() func([]Cell) {
	if e.cur == e.main {
		return e.retireLine
	}
	return nil
}

// View helpers used by the detector and snapshot formatting.

// Text renders the view's grid the same way Emulator.Text does.
func (v View) Text() string {
	var b strings.Builder
	for r, line := range v.Cells {
		if r > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(renderLine(line))
	}
	return b.String()
}

// Line renders a single row without trailing-space trimming.
func (v View) Line(row int) string {
	if row < 0 || row >= len(v.Cells) {
		return ""
	}
	var b strings.Builder
	for _, cell := range v.Cells[row] {
		if cell.Width == 0 {
			continue
		}
		b.WriteString(cell.Content)
	}
	return b.String()
}

package term

// screen is one display buffer: the primary screen or the alternate
// screen. All coordinates are 0-based. The scroll region [top, bottom] is
// inclusive. Mutation happens only under the Emulator's lock.
type screen struct {
	cols, rows int
	lines      [][]Cell

	cursorRow, cursorCol int
	// pendingWrap models DECAWM deferred wrapping: after writing into the
	// last column the cursor stays put and wraps only when the next
	// printable cell arrives.
	pendingWrap bool

	top, bottom int

	tabStops map[int]bool

	savedRow, savedCol int
	savedAttr          Attr
	savedValid         bool
}

func newScreen(cols, rows int) *screen {
	s := &screen{
		cols:     cols,
		rows:     rows,
		top:      0,
		bottom:   rows - 1,
		tabStops: make(map[int]bool),
	}
	s.lines = make([][]Cell, rows)
	for i := range s.lines {
		s.lines[i] = blankLine(cols, Attr{})
	}
	s.resetTabStops()
	return s
}

func blankLine(cols int, attr Attr) []Cell {
	line := make([]Cell, cols)
	for i := range line {
		line[i] = blank(attr)
	}
	return line
}

func (s *screen) resetTabStops() {
	s.tabStops = make(map[int]bool)
	for c := 8; c < s.cols; c += 8 {
		s.tabStops[c] = true
	}
}

func (s *screen) clampCursor() {
	if s.cursorRow < 0 {
		s.cursorRow = 0
	}
	if s.cursorRow >= s.rows {
		s.cursorRow = s.rows - 1
	}
	if s.cursorCol < 0 {
		s.cursorCol = 0
	}
	if s.cursorCol >= s.cols {
		s.cursorCol = s.cols - 1
	}
}

// clearWideAt repairs a wide cell straddling (row, col): overwriting either
// half of a width-2 cell blanks the other half so no orphan continuation
// cell survives.
func (s *screen) clearWideAt(row, col int) {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return
	}
	cell := s.lines[row][col]
	if cell.Width == 2 && col+1 < s.cols {
		s.lines[row][col+1] = blank(cell.Attr)
	}
	if cell.Width == 0 && col > 0 {
		s.lines[row][col-1] = blank(s.lines[row][col-1].Attr)
	}
}

// setCell places a grapheme cluster at (row, col) with the given width,
// writing the phantom continuation cell for width 2.
func (s *screen) setCell(row, col int, content string, width int, attr Attr) {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return
	}
	s.clearWideAt(row, col)
	if width == 2 {
		s.clearWideAt(row, col+1)
	}
	s.lines[row][col] = Cell{Content: content, Width: uint8(width), Attr: attr}
	if width == 2 {
		if col+1 < s.cols {
			s.lines[row][col+1] = Cell{Content: "", Width: 0, Attr: attr}
		}
	}
}

// appendToCell attaches a zero-width rune (combining mark) to the most
// recently written cell.
func (s *screen) appendToCell(row, col int, suffix string) {
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return
	}
	cell := &s.lines[row][col]
	if cell.Width == 0 && col > 0 {
		cell = &s.lines[row][col-1]
	}
	cell.Content += suffix
}

// scrollUp moves lines within the scroll region up by n, dropping the top
// lines. retire is called with each dropped line when the region's top is
// the screen top (scrollback capture); it may be nil.
func (s *screen) scrollUp(n int, attr Attr, retire func([]Cell)) {
	if n <= 0 {
		return
	}
	height := s.bottom - s.top + 1
	if n > height {
		n = height
	}
	for i := 0; i < n; i++ {
		if retire != nil && s.top == 0 {
			retire(s.lines[s.top])
		}
		copy(s.lines[s.top:s.bottom], s.lines[s.top+1:s.bottom+1])
		s.lines[s.bottom] = blankLine(s.cols, attr)
	}
}

// scrollDown moves lines within the scroll region down by n, dropping the
// bottom lines.
func (s *screen) scrollDown(n int, attr Attr) {
	if n <= 0 {
		return
	}
	height := s.bottom - s.top + 1
	if n > height {
		n = height
	}
	for i := 0; i < n; i++ {
		copy(s.lines[s.top+1:s.bottom+1], s.lines[s.top:s.bottom])
		s.lines[s.top] = blankLine(s.cols, attr)
	}
}

// insertLines inserts n blank lines at the cursor row, shifting lines
// below it down within the scroll region. No-op outside the region.
func (s *screen) insertLines(n int, attr Attr) {
	if s.cursorRow < s.top || s.cursorRow > s.bottom {
		return
	}
	savedTop := s.top
	s.top = s.cursorRow
	s.scrollDown(n, attr)
	s.top = savedTop
}

// deleteLines removes n lines at the cursor row, shifting lines below it
// up within the scroll region.
func (s *screen) deleteLines(n int, attr Attr) {
	if s.cursorRow < s.top || s.cursorRow > s.bottom {
		return
	}
	savedTop := s.top
	s.top = s.cursorRow
	s.scrollUp(n, attr, nil)
	s.top = savedTop
}

// insertChars inserts n blank cells at the cursor, shifting the rest of
// the row right.
func (s *screen) insertChars(n int, attr Attr) {
	if n <= 0 {
		return
	}
	row := s.lines[s.cursorRow]
	if n > s.cols-s.cursorCol {
		n = s.cols - s.cursorCol
	}
	copy(row[s.cursorCol+n:], row[s.cursorCol:s.cols-n])
	for i := 0; i < n; i++ {
		row[s.cursorCol+i] = blank(attr)
	}
}

// deleteChars removes n cells at the cursor, shifting the rest of the row
// left and back-filling with blanks.
func (s *screen) deleteChars(n int, attr Attr) {
	if n <= 0 {
		return
	}
	row := s.lines[s.cursorRow]
	if n > s.cols-s.cursorCol {
		n = s.cols - s.cursorCol
	}
	copy(row[s.cursorCol:], row[s.cursorCol+n:])
	for i := s.cols - n; i < s.cols; i++ {
		row[i] = blank(attr)
	}
}

// eraseChars blanks n cells from the cursor without shifting.
func (s *screen) eraseChars(n int, attr Attr) {
	if n <= 0 {
		return
	}
	end := s.cursorCol + n
	if end > s.cols {
		end = s.cols
	}
	for c := s.cursorCol; c < end; c++ {
		s.clearWideAt(s.cursorRow, c)
		s.lines[s.cursorRow][c] = blank(attr)
	}
}

// eraseLine implements EL: 0 = cursor to end, 1 = start to cursor,
// 2 = whole line.
func (s *screen) eraseLine(mode int, attr Attr) {
	var from, to int
	switch mode {
	case 0:
		from, to = s.cursorCol, s.cols
	case 1:
		from, to = 0, s.cursorCol+1
	case 2:
		from, to = 0, s.cols
	default:
		return
	}
	for c := from; c < to; c++ {
		s.clearWideAt(s.cursorRow, c)
		s.lines[s.cursorRow][c] = blank(attr)
	}
}

// eraseDisplay implements ED: 0 = cursor to end of screen, 1 = start to
// cursor, 2 = whole screen (3, with scrollback, is handled by the caller).
func (s *screen) eraseDisplay(mode int, attr Attr) {
	switch mode {
	case 0:
		s.eraseLine(0, attr)
		for r := s.cursorRow + 1; r < s.rows; r++ {
			s.lines[r] = blankLine(s.cols, attr)
		}
	case 1:
		for r := 0; r < s.cursorRow; r++ {
			s.lines[r] = blankLine(s.cols, attr)
		}
		s.eraseLine(1, attr)
	case 2, 3:
		for r := 0; r < s.rows; r++ {
			s.lines[r] = blankLine(s.cols, attr)
		}
	}
}

// nextTabStop returns the column of the next tab stop after the cursor,
// or the last column when none remains.
func (s *screen) nextTabStop() int {
	for c := s.cursorCol + 1; c < s.cols; c++ {
		if s.tabStops[c] {
			return c
		}
	}
	return s.cols - 1
}

// prevTabStop returns the column of the previous tab stop before the
// cursor, or column 0.
func (s *screen) prevTabStop() int {
	for c := s.cursorCol - 1; c > 0; c-- {
		if s.tabStops[c] {
			return c
		}
	}
	return 0
}

// resize reshapes the buffer to the new dimensions. Content outside the
// new box is discarded; the cursor is clamped inside.
func (s *screen) resize(cols, rows int) {
	if cols == s.cols && rows == s.rows {
		return
	}
	lines := make([][]Cell, rows)
	for r := 0; r < rows; r++ {
		line := blankLine(cols, Attr{})
		if r < s.rows {
			n := copy(line, s.lines[r][:min(cols, s.cols)])
			// A wide cell cut in half at the new right edge becomes blank.
			if n > 0 && line[n-1].Width == 2 {
				line[n-1] = blank(line[n-1].Attr)
			}
		}
		lines[r] = line
	}
	s.lines = lines
	s.cols = cols
	s.rows = rows
	s.top = 0
	s.bottom = rows - 1
	s.pendingWrap = false
	s.clampCursor()
	s.resetTabStops()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Package detect finds interactive UI elements on a rendered terminal
// grid. Detection is a pure function of the grid: no state survives
// between snapshots and no identifiers are carried across them.
//
// Rules run in priority order; a cell consumed by a higher-priority match
// is never reconsidered:
//
//  1. Cursor cell (visible) → input, confidence 1.0, focused
//  2. Checkbox patterns → toggle, confidence 1.0
//  3. Inverse-video runs → button, confidence 1.0, focused
//  4. Bracket patterns → button, confidence 0.8
//  5. Underscore runs (3+) → input, confidence 0.6
//
// Links, progress fills, status tags, enumerators, and box-drawing chrome
// are never returned; they stay in the snapshot text for agents to read.
package detect

import (
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/antonkrylov/pilotty/internal/protocol"
	"github.com/antonkrylov/pilotty/internal/term"
)

// Kinds of detected elements.
const (
	KindButton = "button"
	KindInput  = "input"
	KindToggle = "toggle"
)

// Detect runs all rules over the grid view and returns the elements
// sorted by (row, col).
func Detect(v term.View) []protocol.Element {
	d := &detector{
		view:     v,
		consumed: make([][]bool, len(v.Cells)),
	}
	for i := range d.consumed {
		d.consumed[i] = make([]bool, len(v.Cells[i]))
	}

	d.cursorCell()
	d.checkboxes()
	d.inverseRuns()
	d.bracketPatterns()
	d.underscoreRuns()

	sort.SliceStable(d.elements, func(i, j int) bool {
		a, b := d.elements[i], d.elements[j]
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})
	return d.elements
}

type detector struct {
	view     term.View
	consumed [][]bool
	elements []protocol.Element
}

func (d *detector) cell(row, col int) term.Cell {
	if row < 0 || row >= len(d.view.Cells) || col < 0 || col >= len(d.view.Cells[row]) {
		return term.Cell{Content: " ", Width: 1}
	}
	return d.view.Cells[row][col]
}

func (d *detector) isConsumed(row, col int) bool {
	if row < 0 || row >= len(d.consumed) || col < 0 || col >= len(d.consumed[row]) {
		return true
	}
	return d.consumed[row][col]
}

func (d *detector) consume(row, startCol, endCol int) {
	for c := startCol; c < endCol && c < len(d.consumed[row]); c++ {
		d.consumed[row][c] = true
	}
}

func (d *detector) add(elem protocol.Element) {
	d.elements = append(d.elements, elem)
}

// cursorCell emits the visible cursor position as a focused input.
func (d *detector) cursorCell() {
	if !d.view.CursorVisible {
		return
	}
	row, col := int(d.view.CursorRow), int(d.view.CursorCol)
	if row >= len(d.view.Cells) || col >= len(d.view.Cells[row]) {
		return
	}
	cell := d.cell(row, col)
	text := cell.Content
	if cell.Width == 0 {
		text = ""
	}
	d.consume(row, col, col+1)
	d.add(protocol.Element{
		Kind:       KindInput,
		Row:        uint16(row),
		Col:        uint16(col),
		Width:      1,
		Text:       strings.TrimRight(text, " "),
		Confidence: 1.0,
		Focused:    true,
	})
}

// asciiCheckbox maps the middle character of a 3-cell ASCII toggle
// ([x], ( ), (*)) to its checked state. Single-character unicode
// checkboxes are recognized by unicodeCheckbox.
var asciiCheckbox = map[byte]bool{'x': true, 'X': true, '*': true, ' ': false}

// togglePairs are the bracket shapes a 3-cell toggle may use. dialog and
// whiptail render checklists with [ ] and radiolists with ( ).
var togglePairs = map[string]string{"[": "]", "(": ")"}

func unicodeCheckbox(s string) (checked bool, ok bool) {
	switch s {
	case "☑", "✓", "✔", "☒":
		return true, true
	case "☐", "□":
		return false, true
	}
	return false, false
}

func (d *detector) checkboxes() {
	for row := range d.view.Cells {
		cols := len(d.view.Cells[row])
		for col := 0; col < cols; col++ {
			if d.isConsumed(row, col) {
				continue
			}
			cell := d.cell(row, col)

			// Unicode checkbox in a single cell.
			if checked, ok := unicodeCheckbox(cell.Content); ok {
				d.consume(row, col, col+1)
				c := checked
				d.add(protocol.Element{
					Kind:       KindToggle,
					Row:        uint16(row),
					Col:        uint16(col),
					Width:      uint16(cell.Width),
					Text:       cell.Content,
					Confidence: 1.0,
					Checked:    &c,
				})
				continue
			}

			// ASCII [x] / [ ] / (*) / ( ) style.
			closer, ok := togglePairs[cell.Content]
			if !ok || col+2 >= cols {
				continue
			}
			mid, closing := d.cell(row, col+1), d.cell(row, col+2)
			if closing.Content != closer || len(mid.Content) != 1 {
				continue
			}
			checked, ok := asciiCheckbox[mid.Content[0]]
			if !ok {
				continue
			}
			if d.isConsumed(row, col+1) || d.isConsumed(row, col+2) {
				continue
			}
			d.consume(row, col, col+3)
			c := checked
			d.add(protocol.Element{
				Kind:       KindToggle,
				Row:        uint16(row),
				Col:        uint16(col),
				Width:      3,
				Text:       cell.Content + mid.Content + closer,
				Confidence: 1.0,
				Checked:    &c,
			})
			col += 2
		}
	}
}

// inverseRuns finds contiguous reverse-video non-space cells.
func (d *detector) inverseRuns() {
	for row := range d.view.Cells {
		cols := len(d.view.Cells[row])
		col := 0
		for col < cols {
			cell := d.cell(row, col)
			if d.isConsumed(row, col) || !cell.Attr.Reverse || isBlankCell(cell) {
				col++
				continue
			}
			start := col
			var text strings.Builder
			for col < cols {
				c := d.cell(row, col)
				if d.isConsumed(row, col) || !c.Attr.Reverse {
					break
				}
				if c.Width != 0 {
					text.WriteString(c.Content)
				}
				col++
			}
			label := strings.TrimRight(text.String(), " ")
			if label == "" || filtered(label) {
				continue
			}
			d.consume(row, start, col)
			d.add(protocol.Element{
				Kind:       KindButton,
				Row:        uint16(row),
				Col:        uint16(start),
				Width:      uint16(col - start),
				Text:       label,
				Confidence: 1.0,
				Focused:    true,
			})
		}
	}
}

func isBlankCell(c term.Cell) bool {
	return c.Width != 0 && strings.TrimSpace(c.Content) == ""
}

// bracketPatterns finds [text], <text>, and (text) buttons with at least
// one interior non-space character.
func (d *detector) bracketPatterns() {
	pairs := map[string]string{"[": "]", "<": ">", "(": ")", "【": "】", "「": "」"}

	for row := range d.view.Cells {
		cols := len(d.view.Cells[row])
		for col := 0; col < cols; col++ {
			if d.isConsumed(row, col) {
				continue
			}
			open := d.cell(row, col).Content
			closer, ok := pairs[open]
			if !ok {
				continue
			}

			end := -1
			for c := col + 1; c < cols; c++ {
				content := d.cell(row, c).Content
				if content == closer {
					end = c
					break
				}
				// Another opener before the closer breaks the pattern.
				if _, isOpen := pairs[content]; isOpen || d.isConsumed(row, c) {
					break
				}
			}
			if end < 0 {
				continue
			}

			var interior strings.Builder
			for c := col + 1; c < end; c++ {
				cell := d.cell(row, c)
				if cell.Width != 0 {
					interior.WriteString(cell.Content)
				}
			}
			inner := interior.String()
			if strings.TrimSpace(inner) == "" {
				continue
			}
			label := open + inner + closer
			if filtered(label) {
				continue
			}
			d.consume(row, col, end+1)
			d.add(protocol.Element{
				Kind:       KindButton,
				Row:        uint16(row),
				Col:        uint16(col),
				Width:      uint16(end - col + 1),
				Text:       label,
				Confidence: 0.8,
			})
			col = end
		}
	}
}

// underscoreRuns finds 3+ consecutive underscores, the classic empty
// input field.
func (d *detector) underscoreRuns() {
	for row := range d.view.Cells {
		cols := len(d.view.Cells[row])
		col := 0
		for col < cols {
			if d.isConsumed(row, col) || d.cell(row, col).Content != "_" {
				col++
				continue
			}
			start := col
			for col < cols && !d.isConsumed(row, col) && d.cell(row, col).Content == "_" {
				col++
			}
			if col-start < 3 {
				continue
			}
			d.consume(row, start, col)
			d.add(protocol.Element{
				Kind:       KindInput,
				Row:        uint16(row),
				Col:        uint16(start),
				Width:      uint16(col - start),
				Text:       strings.Repeat("_", col-start),
				Confidence: 0.6,
			})
		}
	}
}

// filtered reports text that must never be returned as an element.
func filtered(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") {
		return true
	}
	if isStatusTag(trimmed) {
		return true
	}
	if isProgressFill(trimmed) {
		return true
	}
	if isEnumerator(trimmed) {
		return true
	}
	if isBoxDrawingText(trimmed) {
		return true
	}
	return false
}

// isStatusTag matches log-level tags like [ERROR] or [WARN].
func isStatusTag(text string) bool {
	inner := text
	if strings.HasPrefix(inner, "[") && strings.HasSuffix(inner, "]") {
		inner = inner[1 : len(inner)-1]
	}
	switch strings.TrimSpace(inner) {
	case "ERROR", "WARN", "WARNING", "INFO", "DEBUG":
		return true
	}
	return false
}

// isProgressFill matches bracketed bars like [====>  ] or [####].
func isProgressFill(text string) bool {
	inner := text
	if len(inner) >= 2 {
		first, last := inner[0], inner[len(inner)-1]
		if (first == '[' && last == ']') || (first == '(' && last == ')') || (first == '<' && last == '>') {
			inner = inner[1 : len(inner)-1]
		}
	}
	if strings.TrimSpace(inner) == "" {
		return false
	}
	fill := 0
	total := 0
	for _, r := range inner {
		total++
		switch r {
		case '=', '#', '>', '-', '.', ' ', '█', '░', '▒':
			fill++
		}
	}
	return total > 0 && fill*10 >= total*8
}

// isEnumerator matches list markers: bracketed digit groups ([1], (12))
// and single-letter markers ((a), [b]).
func isEnumerator(text string) bool {
	inner := text
	if len(inner) >= 2 {
		first, last := inner[0], inner[len(inner)-1]
		if (first == '[' && last == ']') || (first == '(' && last == ')') {
			inner = inner[1 : len(inner)-1]
		} else if last == ')' || last == ']' {
			// "1)" / "a)" style.
			inner = inner[:len(inner)-1]
		}
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return false
	}
	allDigits := true
	for _, r := range inner {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		return true
	}
	if len(inner) == 1 {
		r := rune(inner[0])
		if r >= 'a' && r <= 'z' {
			return true
		}
	}
	return false
}

// isBoxDrawingText reports text that is mostly box-drawing chrome.
func isBoxDrawingText(text string) bool {
	box, other := 0, 0
	for _, r := range text {
		if r == ' ' {
			continue
		}
		if isBoxDrawingRune(r) {
			box++
		} else {
			other++
		}
	}
	if box == 0 && other == 0 {
		return false
	}
	return box > other
}

func isBoxDrawingRune(r rune) bool {
	if r >= 0x2500 && r <= 0x257f {
		return true
	}
	switch r {
	case '+', '-', '|':
		return true
	}
	return false
}

// DisplayWidth measures text in terminal cells; exported for callers that
// size elements from text rather than grid spans.
func DisplayWidth(text string) int {
	return runewidth.StringWidth(text)
}

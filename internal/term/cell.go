// Package term implements the VT100/xterm-subset screen emulator behind
// every pilotty session: a grid of attributed cells fed by raw PTY bytes,
// with cursor state, scrollback, change versioning, and a stable content
// hash for change detection.
package term

// ColorKind discriminates the Color variants.
type ColorKind uint8

const (
	// ColorDefault is the terminal's default foreground or background.
	ColorDefault ColorKind = iota
	// ColorIndexed is a 256-color palette index.
	ColorIndexed
	// ColorRGB is 24-bit truecolor.
	ColorRGB
)

// Color is a terminal color: default, indexed, or truecolor.
type Color struct {
	Kind    ColorKind
	Index   uint8
	R, G, B uint8
}

// Indexed returns a palette color.
func Indexed(index uint8) Color {
	return Color{Kind: ColorIndexed, Index: index}
}

// RGB returns a truecolor value.
func RGB(r, g, b uint8) Color {
	return Color{Kind: ColorRGB, R: r, G: g, B: b}
}

// Attr is the visual attribute set of a cell.
type Attr struct {
	FG        Color
	BG        Color
	Bold      bool
	Dim       bool
	Underline bool
	Reverse   bool
}

// Cell is one screen position. Content is a complete grapheme cluster;
// Width is its display width (0 for the phantom continuation of a wide
// cell, 1 or 2 otherwise). An empty cell has Content " " and Width 1.
type Cell struct {
	Content string
	Width   uint8
	Attr    Attr
}

// blank returns an empty cell that keeps only the background of the given
// attributes. Erase operations paint with the current background per VT
// semantics.
func blank(attr Attr) Cell {
	return Cell{Content: " ", Width: 1, Attr: Attr{BG: attr.BG}}
}

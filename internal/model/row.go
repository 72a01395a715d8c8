package model

import "strings"

// RawRow is one line of a decoded source. An empty cell is a null cell.
type RawRow struct {
	Index int // zero-based line in the source
	Cells []string
}

// Cell returns the trimmed cell at col, or "" when col is out of range.
func (r RawRow) Cell(col int) string {
	if col < 0 || col >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[col])
}

// NonEmpty counts cells that hold a value.
func (r RawRow) NonEmpty() int {
	n := 0
	for _, c := range r.Cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

package rowgrid

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// cellBreak separates columns in text extracted from a PDF: a tab or a run
// of two or more spaces.
var cellBreak = regexp.MustCompile(`\t+|\s{2,}`)

// Span is the character range [Start, End) a text cell occupies on its line.
type Span struct {
	Start, End int
}

// FromTextLines splits extracted PDF text into a text grid, one row per line.
// The position of every cell is kept so rows with empty columns can later
// be aligned to the header with AlignTo.
func FromTextLines(r io.Reader) (Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var records [][]string
	var spans [][]Span
	for sc.Scan() {
		cells, pos := splitLine(strings.TrimRight(sc.Text(), " \t\r"))
		records = append(records, cells)
		spans = append(spans, pos)
	}
	if err := sc.Err(); err != nil {
		return Grid{}, fmt.Errorf("reading text source: %w", err)
	}
	g := FromRecords(KindText, records)
	g.spans = spans
	return g, nil
}

// splitLine cuts line at cell breaks and reports each cell's span in runes.
func splitLine(line string) ([]string, []Span) {
	var cells []string
	var spans []Span
	emit := func(from, to int) {
		seg := line[from:to]
		lead := len(seg) - len(strings.TrimLeft(seg, " "))
		cell := strings.TrimSpace(seg)
		if cell == "" {
			return
		}
		start := utf8.RuneCountInString(line[:from+lead])
		cells = append(cells, cell)
		spans = append(spans, Span{Start: start, End: start + utf8.RuneCountInString(cell)})
	}

	from := 0
	for _, br := range cellBreak.FindAllStringIndex(line, -1) {
		emit(from, br[0])
		from = br[1]
	}
	emit(from, len(line))
	return cells, spans
}

// AlignTo places the cells of every row after the header at headerPos into
// the header column they sit under, leaving "" where a column is blank on
// that line. Rows that already have a cell per column, single-cell rows and
// grids without cell positions are returned unchanged.
func (g Grid) AlignTo(headerPos int) Grid {
	if len(g.spans) != len(g.Rows) || headerPos < 0 || headerPos >= len(g.Rows) {
		return g
	}
	cols := g.spans[headerPos]
	out := g
	out.Rows = append(g.Rows[:0:0], g.Rows...)
	for i := headerPos + 1; i < len(out.Rows); i++ {
		row := out.Rows[i]
		pos := g.spans[i]
		if len(row.Cells) < 2 || len(row.Cells) >= len(cols) || len(pos) != len(row.Cells) {
			continue
		}
		row.Cells = place(row.Cells, pos, cols)
		out.Rows[i] = row
	}
	return out
}

// place assigns each cell, in order, to the column it overlaps most, or to
// the nearest one when it overlaps none.
func place(cells []string, pos, cols []Span) []string {
	out := make([]string, len(cols))
	next := 0
	for j, p := range pos {
		last := len(cols) - (len(pos) - j)
		best, bestScore := next, 0
		for c := next; c <= last; c++ {
			score := overlap(p, cols[c])*1_000_000 - centerDistance(p, cols[c])
			if c == next || score > bestScore {
				best, bestScore = c, score
			}
		}
		out[best] = cells[j]
		next = best + 1
	}
	return out
}

func overlap(a, b Span) int {
	return max(0, min(a.End, b.End)-max(a.Start, b.Start))
}

func centerDistance(a, b Span) int {
	d := (a.Start + a.End) - (b.Start + b.End)
	if d < 0 {
		return -d
	}
	return d
}

// Package rowgrid presents decoded statement sources as one ordered grid of
// string cells, each row tagged with the line it came from.
package rowgrid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cleared-dev/stmtimport/internal/model"
)

// Kind tells the table locator how far to scan.
type Kind int

const (
	// KindTabular is a delimited file or spreadsheet.
	KindTabular Kind = iota
	// KindText is text extracted from a PDF, split into cells.
	KindText
)

func (k Kind) String() string {
	if k == KindText {
		return "text"
	}
	return "tabular"
}

// Grid is the uniform representation of a decoded source.
type Grid struct {
	Kind Kind
	Rows []model.RawRow

	spans [][]Span // cell positions of text grids, parallel to Rows
}

// FromRecords builds a grid from already-split records. Cells are trimmed
// and a leading byte-order mark is dropped.
func FromRecords(kind Kind, records [][]string) Grid {
	rows := make([]model.RawRow, len(records))
	for i, rec := range records {
		rows[i] = model.RawRow{Index: i, Cells: cleanCells(rec)}
	}
	return Grid{Kind: kind, Rows: rows}
}

// Len returns the number of rows.
func (g Grid) Len() int { return len(g.Rows) }

// Empty reports whether the grid holds no non-empty cell at all.
func (g Grid) Empty() bool {
	for _, r := range g.Rows {
		if r.NonEmpty() > 0 {
			return false
		}
	}
	return true
}

// Fingerprint returns a SHA-256 content hash over all cells. It is used as
// the source fingerprint when the caller has no hash of the original file.
func (g Grid) Fingerprint() string {
	h := sha256.New()
	for _, r := range g.Rows {
		h.Write([]byte(strings.Join(r.Cells, "\x1f")))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cleanCells(rec []string) []string {
	cells := make([]string, len(rec))
	for i, c := range rec {
		cells[i] = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
	}
	return cells
}

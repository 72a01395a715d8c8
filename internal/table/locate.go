// Package table finds the transaction table header inside a row grid,
// skipping account metadata and balance summaries printed above it.
package table

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cleared-dev/stmtimport/internal/model"
	"github.com/cleared-dev/stmtimport/internal/rowgrid"
)

// Header keyword categories. Matching is a case-insensitive substring test.
var (
	DateKeywords        = []string{"date", "txn date", "value date", "posting date"}
	DescriptionKeywords = []string{"description", "narration", "particulars", "details"}
	AmountKeywords      = []string{"amount", "debit", "credit", "withdrawal", "deposit", "balance"}
)

const (
	// MinCategories is how many distinct categories a header must hit.
	MinCategories = 3
	// MinFallbackCells is the non-empty cell count for the fallback rule.
	MinFallbackCells = 3

	DefaultTabularBound = 20
	DefaultTextBound    = 50
	DefaultFallbackRows = 10
)

// TableNotFoundError is returned when no header row qualifies.
type TableNotFoundError struct {
	ScanBound int
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("no transaction table header found in the first %d rows", e.ScanBound)
}

// Table is a located header.
type Table struct {
	HeaderPos  int          // position of the header in Grid.Rows
	Header     model.RawRow // the header row itself
	ScanBound  int
	ByKeywords bool // false when the non-empty-cell fallback chose the row
}

// Locator holds the scan bounds per grid kind.
type Locator struct {
	TabularBound int
	TextBound    int
	FallbackRows int
}

// DefaultLocator returns a Locator with the standard bounds.
func DefaultLocator() Locator {
	return Locator{
		TabularBound: DefaultTabularBound,
		TextBound:    DefaultTextBound,
		FallbackRows: DefaultFallbackRows,
	}
}

// Bound returns the scan bound for a grid kind.
func (l Locator) Bound(kind rowgrid.Kind) int {
	if kind == rowgrid.KindText {
		return orDefault(l.TextBound, DefaultTextBound)
	}
	return orDefault(l.TabularBound, DefaultTabularBound)
}

// Locate finds the header of g using the bound for its kind.
func (l Locator) Locate(g rowgrid.Grid) (Table, error) {
	return locate(g, l.Bound(g.Kind), orDefault(l.FallbackRows, DefaultFallbackRows))
}

// Locate scans the first bound rows of g for the transaction table header.
// The first row hitting MinCategories keyword categories wins; failing that,
// the first row with MinFallbackCells non-empty cells within the first
// DefaultFallbackRows rows.
func Locate(g rowgrid.Grid, bound int) (Table, error) {
	return locate(g, bound, DefaultFallbackRows)
}

func locate(g rowgrid.Grid, bound, fallbackRows int) (Table, error) {
	limit := min(bound, len(g.Rows))
	for i := 0; i < limit; i++ {
		if CategoryCount(g.Rows[i]) >= MinCategories {
			return Table{HeaderPos: i, Header: g.Rows[i], ScanBound: bound, ByKeywords: true}, nil
		}
	}

	limit = min(fallbackRows, limit)
	for i := 0; i < limit; i++ {
		if g.Rows[i].NonEmpty() >= MinFallbackCells {
			return Table{HeaderPos: i, Header: g.Rows[i], ScanBound: bound}, nil
		}
	}
	return Table{}, &TableNotFoundError{ScanBound: bound}
}

// CategoryCount returns how many distinct keyword categories row matches.
func CategoryCount(row model.RawRow) int {
	n := 0
	for _, kws := range [][]string{DateKeywords, DescriptionKeywords, AmountKeywords} {
		if rowMatchesAny(row, kws) {
			n++
		}
	}
	return n
}

func rowMatchesAny(row model.RawRow, keywords []string) bool {
	for _, c := range row.Cells {
		cell := strings.ToLower(c)
		if cell == "" {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(cell, kw) {
				return true
			}
		}
	}
	return false
}

// IsRepeatedHeader reports whether row repeats the table header, as happens
// at the top of every page of a multi-page statement.
func (t Table) IsRepeatedHeader(row model.RawRow) bool {
	if row.NonEmpty() == 0 {
		return false
	}
	a, b := normalizedCells(t.Header), normalizedCells(row)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var pageFurniture = regexp.MustCompile(`(?i)^(page\s+\d+(\s*(of|/)\s*\d+)?|continued( on next page)?\.?|\(?contd\.?\)?)$`)

// IsPageFurniture reports whether row is a page header/footer line such as
// "Page 2 of 5".
func IsPageFurniture(row model.RawRow) bool {
	if row.NonEmpty() != 1 {
		return false
	}
	for _, c := range row.Cells {
		if c = strings.TrimSpace(c); c != "" {
			return pageFurniture.MatchString(c)
		}
	}
	return false
}

func normalizedCells(row model.RawRow) []string {
	var out []string
	for _, c := range row.Cells {
		c = strings.Join(strings.Fields(strings.ToLower(c)), " ")
		out = append(out, c)
	}
	// Trailing empties differ between pages.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Package normalize turns the data rows under a located header into
// validated transaction candidates.
package normalize

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cleared-dev/stmtimport/internal/mapping"
	"github.com/cleared-dev/stmtimport/internal/model"
	"github.com/cleared-dev/stmtimport/internal/rowgrid"
	"github.com/cleared-dev/stmtimport/internal/table"
)

// DefaultMaxReasons caps how many rejection reasons are kept.
const DefaultMaxReasons = 20

// ValidationError is a row-level rejection. It never aborts the import.
type ValidationError struct {
	RowIndex int // line in the source
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowIndex, e.Reason)
}

// Options tunes normalization.
type Options struct {
	DateFormats []string // patterns such as "DD/MM/YYYY", in priority order
	MaxReasons  int
}

// Result is the outcome of one normalization pass.
type Result struct {
	Candidates []model.Candidate
	DataRows   int // rows after the header
	Rejected   int
	Skipped    int               // blank rows, repeated headers, page footers
	Reasons    []ValidationError // the first MaxReasons rejections
	DateFormat string            // the pattern used for the whole table, "" if per-row
}

// Accepted returns the number of candidates.
func (r Result) Accepted() int { return len(r.Candidates) }

// Normalize builds candidates from the rows of g after tbl's header using
// the frozen mapping m. Only an unusable mapping or option is an error;
// bad rows are counted in the result.
func Normalize(g rowgrid.Grid, tbl table.Table, m mapping.ColumnMapping, opts Options) (Result, error) {
	if err := m.Complete(); err != nil {
		return Result{}, err
	}
	rule, err := m.ValueRule()
	if err != nil {
		return Result{}, err
	}

	formats := opts.DateFormats
	if m.DateFormat != "" {
		formats = []string{m.DateFormat}
	}
	dp, err := newDateParser(formats)
	if err != nil {
		return Result{}, err
	}
	maxReasons := opts.MaxReasons
	if maxReasons <= 0 {
		maxReasons = DefaultMaxReasons
	}

	dateCol, _ := m.Index(mapping.FieldDate)
	descCol, _ := m.Index(mapping.FieldDescription)
	refCol, hasRef := m.Index(mapping.FieldReference)

	var rows []model.RawRow
	if tbl.HeaderPos+1 < len(g.Rows) {
		rows = g.Rows[tbl.HeaderPos+1:]
	}
	res := Result{DataRows: len(rows)}

	var data []model.RawRow
	for _, row := range rows {
		if row.NonEmpty() == 0 || tbl.IsRepeatedHeader(row) || table.IsPageFurniture(row) {
			res.Skipped++
			continue
		}
		data = append(data, row)
	}

	dateCells := make([]string, len(data))
	for i, row := range data {
		dateCells[i] = row.Cell(dateCol)
	}
	layout := dp.consistentLayout(dateCells)
	if layout >= 0 {
		res.DateFormat = dp.patterns[layout]
	}

	reject := func(row model.RawRow, format string, args ...any) {
		res.Rejected++
		if len(res.Reasons) < maxReasons {
			res.Reasons = append(res.Reasons, ValidationError{RowIndex: row.Index, Reason: fmt.Sprintf(format, args...)})
		}
	}

	for _, row := range data {
		cell := row.Cell(dateCol)
		if cell == "" {
			reject(row, "date is empty")
			continue
		}
		date, reason := parseDate(dp, layout, cell)
		if reason != "" {
			reject(row, "%s", reason)
			continue
		}

		desc := strings.Join(strings.Fields(row.Cell(descCol)), " ")
		if desc == "" {
			reject(row, "description is empty")
			continue
		}

		amount, typ, err := rule.Resolve(row)
		if err != nil {
			reject(row, "%v", err)
			continue
		}

		c := model.Candidate{
			SourceRowIndex: row.Index,
			Date:           date,
			Description:    desc,
			Amount:         amount,
			Type:           typ,
			RawFields:      slices.Clone(row.Cells),
		}
		if hasRef {
			c.ReferenceID = row.Cell(refCol)
		}
		res.Candidates = append(res.Candidates, c)
	}
	return res, nil
}

func parseDate(dp *dateParser, layout int, cell string) (time.Time, string) {
	if layout >= 0 {
		if t, ok := dp.parseWith(layout, cell); ok {
			return t, ""
		}
		return time.Time{}, fmt.Sprintf("date %q is not a recognised date", cell)
	}
	dates := dp.parseAny(cell)
	switch len(dates) {
	case 0:
		return time.Time{}, fmt.Sprintf("date %q is not a recognised date", cell)
	case 1:
		return dates[0], ""
	default:
		return time.Time{}, fmt.Sprintf("date %q is ambiguous", cell)
	}
}

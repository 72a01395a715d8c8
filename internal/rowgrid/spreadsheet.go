package rowgrid

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// FromSpreadsheet reads one sheet of an .xlsx workbook. An empty sheet name
// selects the first sheet.
func FromSpreadsheet(r io.Reader, sheet string) (Grid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Grid{}, fmt.Errorf("opening workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return Grid{}, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return Grid{}, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	return FromRecords(KindTabular, rows), nil
}

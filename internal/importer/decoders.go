package importer

import (
	"io"

	"github.com/cleared-dev/stmtimport/internal/rowgrid"
)

// CSVDecoder reads delimited text exports.
type CSVDecoder struct {
	Options rowgrid.CSVOptions
}

func (d *CSVDecoder) Format() string       { return "csv" }
func (d *CSVDecoder) Extensions() []string { return []string{".csv", ".tsv"} }

func (d *CSVDecoder) Decode(r io.Reader) (rowgrid.Grid, error) {
	return rowgrid.FromCSV(r, d.Options)
}

// SpreadsheetDecoder reads Excel workbooks. Sheet "" reads the first sheet.
type SpreadsheetDecoder struct {
	Sheet string
}

func (d *SpreadsheetDecoder) Format() string       { return "xlsx" }
func (d *SpreadsheetDecoder) Extensions() []string { return []string{".xlsx", ".xlsm"} }

func (d *SpreadsheetDecoder) Decode(r io.Reader) (rowgrid.Grid, error) {
	return rowgrid.FromSpreadsheet(r, d.Sheet)
}

// TextDecoder reads text extracted from PDF statements, one line per row.
type TextDecoder struct{}

func (d *TextDecoder) Format() string       { return "txt" }
func (d *TextDecoder) Extensions() []string { return []string{".txt"} }

func (d *TextDecoder) Decode(r io.Reader) (rowgrid.Grid, error) {
	return rowgrid.FromTextLines(r)
}

// Package ledger stores imported transactions as monthly CSV files, one
// directory tree per account.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/stmtimport/internal/model"
)

// Header is the CSV header for transactions.csv.
const Header = "id,date,description,amount,type,reference,session_id,source_fingerprint,source_label,imported_at,notes"

const (
	numFields      = 11
	dateFormat     = "2006-01-02"
	colID          = 0
	colDate        = 1
	colDesc        = 2
	colAmount      = 3
	colType        = 4
	colRef         = 5
	colSession     = 6
	colFingerprint = 7
	colLabel       = 8
	colImportedAt  = 9
	colNotes       = 10
)

// Record is one stored transaction plus the import that wrote it last.
type Record struct {
	ID                string
	Date              time.Time
	Description       string
	Amount            decimal.Decimal // signed: negative is money out
	Type              model.TxnType
	Reference         string
	SessionID         string
	SourceFingerprint string
	SourceLabel       string
	ImportedAt        time.Time
	Notes             string
}

// Existing converts a record to the shape duplicate detection reads.
func (r Record) Existing() model.ExistingTransaction {
	return model.ExistingTransaction{
		ID:          r.ID,
		Date:        r.Date,
		Amount:      r.Amount,
		Description: r.Description,
		ReferenceID: r.Reference,
	}
}

// ReadRecords reads all records from a transactions.csv reader.
func ReadRecords(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading ledger CSV: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	// Skip header row.
	var recs []Record
	for i, row := range rows[1:] {
		rec, err := UnmarshalRecord(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// WriteRecords writes records to a transactions.csv writer (including header).
func WriteRecords(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, rec := range recs {
		if err := cw.Write(MarshalRecord(rec)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// AppendRecords appends records to an existing transactions.csv writer (no header).
func AppendRecords(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	for i, rec := range recs {
		if err := cw.Write(MarshalRecord(rec)); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalRecord converts a Record to a CSV row.
func MarshalRecord(rec Record) []string {
	row := make([]string, numFields)
	row[colID] = rec.ID
	row[colDate] = rec.Date.Format(dateFormat)
	row[colDesc] = rec.Description
	row[colAmount] = rec.Amount.StringFixed(2)
	row[colType] = string(rec.Type)
	row[colRef] = rec.Reference
	row[colSession] = rec.SessionID
	row[colFingerprint] = rec.SourceFingerprint
	row[colLabel] = rec.SourceLabel
	if !rec.ImportedAt.IsZero() {
		row[colImportedAt] = rec.ImportedAt.UTC().Format(time.RFC3339)
	}
	row[colNotes] = rec.Notes
	return row
}

// UnmarshalRecord converts a CSV row to a Record.
func UnmarshalRecord(row []string) (Record, error) {
	if len(row) != numFields {
		return Record{}, fmt.Errorf("expected %d fields, got %d", numFields, len(row))
	}

	date, err := time.Parse(dateFormat, row[colDate])
	if err != nil {
		return Record{}, fmt.Errorf("parsing date %q: %w", row[colDate], err)
	}

	amount, err := decimal.NewFromString(row[colAmount])
	if err != nil {
		return Record{}, fmt.Errorf("parsing amount %q: %w", row[colAmount], err)
	}

	var importedAt time.Time
	if row[colImportedAt] != "" {
		importedAt, err = time.Parse(time.RFC3339, row[colImportedAt])
		if err != nil {
			return Record{}, fmt.Errorf("parsing imported_at %q: %w", row[colImportedAt], err)
		}
	}

	return Record{
		ID:                row[colID],
		Date:              date,
		Description:       row[colDesc],
		Amount:            amount,
		Type:              model.TxnType(row[colType]),
		Reference:         row[colRef],
		SessionID:         row[colSession],
		SourceFingerprint: row[colFingerprint],
		SourceLabel:       row[colLabel],
		ImportedAt:        importedAt,
		Notes:             row[colNotes],
	}, nil
}

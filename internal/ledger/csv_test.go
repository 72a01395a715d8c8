package ledger

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/stmtimport/internal/model"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundTrip(t *testing.T) {
	recs := []Record{
		{
			ID:                "2024-04-001",
			Date:              date(2024, 4, 1),
			Description:       "NEFT-John Smith, rent",
			Amount:            dec("-5000"),
			Type:              model.TypeExpense,
			Reference:         "N0912345",
			SessionID:         "s-1",
			SourceFingerprint: "abc",
			SourceLabel:       "hdfc.csv",
			ImportedAt:        time.Date(2024, 4, 30, 10, 0, 0, 0, time.UTC),
			Notes:             "quoted \"note\"",
		},
		{
			ID:          "2024-04-002",
			Date:        date(2024, 4, 2),
			Description: "Salary",
			Amount:      dec("50000.50"),
			Type:        model.TypeIncome,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, recs))
	assert.True(t, strings.HasPrefix(buf.String(), Header+"\n"))
	assert.Contains(t, buf.String(), ",-5000.00,")

	got, err := ReadRecords(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range recs {
		assert.Equal(t, recs[i].ID, got[i].ID)
		assert.True(t, recs[i].Amount.Equal(got[i].Amount))
		assert.Equal(t, recs[i].Description, got[i].Description)
		assert.True(t, recs[i].ImportedAt.Equal(got[i].ImportedAt))
		assert.Equal(t, recs[i].Notes, got[i].Notes)
	}
	assert.True(t, got[1].ImportedAt.IsZero())
}

func TestUnmarshalRecord_Errors(t *testing.T) {
	good := MarshalRecord(Record{ID: "2024-04-001", Date: date(2024, 4, 1), Description: "x", Amount: dec("1"), Type: model.TypeIncome})

	tests := []struct {
		name string
		mut  func([]string) []string
	}{
		{"short row", func(r []string) []string { return r[:5] }},
		{"bad date", func(r []string) []string { r[colDate] = "01/04/2024"; return r }},
		{"bad amount", func(r []string) []string { r[colAmount] = "1,000"; return r }},
		{"bad imported_at", func(r []string) []string { r[colImportedAt] = "yesterday"; return r }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := append([]string(nil), good...)
			_, err := UnmarshalRecord(tt.mut(row))
			assert.Error(t, err)
		})
	}
}

func TestReadFixture(t *testing.T) {
	f, err := os.Open("../../testdata/transactions.csv")
	require.NoError(t, err)
	defer f.Close()

	recs, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "Card payment, Amazon", recs[2].Description)
	assert.Equal(t, "UTR-9", recs[2].Reference)
	assert.Empty(t, ValidateRecords(recs, 2024, 4))
}

func TestValidateRecords(t *testing.T) {
	base := func() Record {
		return Record{ID: "2024-04-001", Date: date(2024, 4, 1), Description: "Rent", Amount: dec("-10"), Type: model.TypeExpense}
	}
	tests := []struct {
		name      string
		recs      func() []Record
		invariant int
	}{
		{"zero amount", func() []Record { r := base(); r.Amount = decimal.Zero; return []Record{r} }, 1},
		{"type mismatch", func() []Record { r := base(); r.Type = model.TypeIncome; return []Record{r} }, 1},
		{"other month", func() []Record { r := base(); r.Date = date(2024, 5, 1); return []Record{r} }, 2},
		{"three decimals", func() []Record { r := base(); r.Amount = dec("-10.005"); return []Record{r} }, 3},
		{"bad id", func() []Record { r := base(); r.ID = "x"; return []Record{r} }, 4},
		{"id of other month", func() []Record { r := base(); r.ID = "2024-05-001"; return []Record{r} }, 4},
		{"duplicate id", func() []Record { return []Record{base(), base()} }, 4},
		{"empty description", func() []Record { r := base(); r.Description = " "; return []Record{r} }, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRecords(tt.recs(), 2024, 4)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.invariant, errs[0].Invariant)
		})
	}

	assert.Empty(t, ValidateRecords([]Record{base()}, 2024, 4))
}

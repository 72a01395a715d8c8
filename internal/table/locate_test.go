package table

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/stmtimport/internal/model"
	"github.com/cleared-dev/stmtimport/internal/rowgrid"
)

func scenarioA() rowgrid.Grid {
	return rowgrid.FromRecords(rowgrid.KindTabular, [][]string{
		{"ABC Bank"},
		{"Account: 123"},
		{""},
		{"Date", "Narration", "Withdrawal Amt.", "Deposit Amt."},
		{"01/04/2024", "Salary", "", "50000"},
	})
}

func TestLocate_SkipsPreamble(t *testing.T) {
	tbl, err := Locate(scenarioA(), DefaultTabularBound)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.HeaderPos)
	assert.True(t, tbl.ByKeywords)
	assert.Equal(t, "Narration", tbl.Header.Cells[1])
}

func TestLocate_Deterministic(t *testing.T) {
	g := scenarioA()
	first, err := Locate(g, DefaultTabularBound)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, err := Locate(g, DefaultTabularBound)
		require.NoError(t, err)
		assert.Equal(t, first.HeaderPos, got.HeaderPos)
	}
}

func TestLocate_FirstQualifyingRowWins(t *testing.T) {
	g := rowgrid.FromRecords(rowgrid.KindTabular, [][]string{
		{"Statement date", "Account details", "Opening balance"},
		{"Date", "Description", "Amount"},
	})
	tbl, err := Locate(g, DefaultTabularBound)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.HeaderPos)
}

func TestLocate_TwoCategoriesIsNotEnough(t *testing.T) {
	g := rowgrid.FromRecords(rowgrid.KindTabular, [][]string{
		{"Date", "Amount"},
		{"01/01/2025", "10"},
	})
	_, err := Locate(g, DefaultTabularBound)
	var nf *TableNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, DefaultTabularBound, nf.ScanBound)
	assert.Contains(t, err.Error(), "20")
}

func TestLocate_FallbackToNonEmptyCells(t *testing.T) {
	g := rowgrid.FromRecords(rowgrid.KindTabular, [][]string{
		{"Konto 1234"},
		{"Datum", "Text", "Belopp", "Saldo"},
		{"2025-01-02", "ICA", "-120,00", "880,00"},
	})
	tbl, err := Locate(g, DefaultTabularBound)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.HeaderPos)
	assert.False(t, tbl.ByKeywords)
}

func TestLocate_FallbackLimitedToTenRows(t *testing.T) {
	records := make([][]string, 0, 12)
	for i := 0; i < 10; i++ {
		records = append(records, []string{"note"})
	}
	records = append(records, []string{"Datum", "Text", "Belopp"})
	_, err := Locate(rowgrid.FromRecords(rowgrid.KindTabular, records), DefaultTabularBound)
	assert.Error(t, err)
}

func TestLocate_RespectsBound(t *testing.T) {
	records := make([][]string, 0, 30)
	for i := 0; i < 25; i++ {
		records = append(records, []string{"summary line"})
	}
	records = append(records, []string{"Date", "Description", "Amount"})
	g := rowgrid.FromRecords(rowgrid.KindTabular, records)

	_, err := Locate(g, DefaultTabularBound)
	assert.Error(t, err)

	tbl, err := Locate(g, 30)
	require.NoError(t, err)
	assert.Equal(t, 25, tbl.HeaderPos)
}

func TestLocator_BoundByKind(t *testing.T) {
	l := DefaultLocator()
	assert.Equal(t, 20, l.Bound(rowgrid.KindTabular))
	assert.Equal(t, 50, l.Bound(rowgrid.KindText))

	records := make([][]string, 0, 40)
	for i := 0; i < 30; i++ {
		records = append(records, []string{"Customer care: 1800 000 000"})
	}
	records = append(records, []string{"Txn Date", "Particulars", "Debit", "Credit", "Balance"})
	g := rowgrid.FromRecords(rowgrid.KindText, records)

	tbl, err := l.Locate(g)
	require.NoError(t, err)
	assert.Equal(t, 30, tbl.HeaderPos)
}

func TestIsRepeatedHeader(t *testing.T) {
	tbl, err := Locate(scenarioA(), DefaultTabularBound)
	require.NoError(t, err)

	assert.True(t, tbl.IsRepeatedHeader(model.RawRow{Cells: []string{"DATE", "Narration", "Withdrawal  Amt.", "Deposit Amt.", ""}}))
	assert.False(t, tbl.IsRepeatedHeader(model.RawRow{Cells: []string{"01/04/2024", "Salary", "", "50000"}}))
	assert.False(t, tbl.IsRepeatedHeader(model.RawRow{}))
}

func TestIsPageFurniture(t *testing.T) {
	tests := []struct {
		cells []string
		want  bool
	}{
		{[]string{"Page 2 of 5"}, true},
		{[]string{"", "page 3", ""}, true},
		{[]string{"Page 1/4"}, true},
		{[]string{"Continued on next page"}, true},
		{[]string{"Page 2 of 5", "01/04/2024"}, false},
		{[]string{"Salary"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPageFurniture(model.RawRow{Cells: tt.cells}), "%v", tt.cells)
	}
}

package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeFor(t *testing.T) {
	assert.Equal(t, TypeExpense, TypeFor(decimal.RequireFromString("-4.00")))
	assert.Equal(t, TypeIncome, TypeFor(decimal.RequireFromString("3500")))
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		input string
		want  Action
	}{
		{"skip", ActionSkip},
		{"importNew", ActionImportNew},
		{"import-new", ActionImportNew},
		{"update-existing", ActionUpdateExisting},
		{"forceAdd", ActionForceAdd},
		{"force", ActionForceAdd},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.input)
		require.NoError(t, err, "input: %s", tt.input)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseAction("merge")
	assert.Error(t, err)
}

func TestRawRowCell(t *testing.T) {
	row := RawRow{Index: 4, Cells: []string{" 01/04/2024 ", "", "Salary"}}
	assert.Equal(t, "01/04/2024", row.Cell(0))
	assert.Equal(t, "", row.Cell(1))
	assert.Equal(t, "", row.Cell(7))
	assert.Equal(t, "", row.Cell(-1))
	assert.Equal(t, 2, row.NonEmpty())
}

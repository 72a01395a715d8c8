package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTxnID(t *testing.T) {
	tests := []struct {
		year, month, seq int
		want             string
	}{
		{2025, 1, 1, "2025-01-001"},
		{2025, 12, 99, "2025-12-099"},
		{2025, 1, 123, "2025-01-123"},
		{2025, 1, 1234, "2025-01-1234"},
	}
	for _, tt := range tests {
		got := FormatTxnID(tt.year, tt.month, tt.seq)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseTxnID(t *testing.T) {
	tests := []struct {
		input               string
		wantYear, wantMonth int
		wantSeq             int
	}{
		{"2025-01-001", 2025, 1, 1},
		{"2025-12-099", 2025, 12, 99},
		{"2024-04-1234", 2024, 4, 1234},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			year, month, seq, err := ParseTxnID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantYear, year)
			assert.Equal(t, tt.wantMonth, month)
			assert.Equal(t, tt.wantSeq, seq)
		})
	}
}

func TestParseTxnID_Invalid(t *testing.T) {
	for _, input := range []string{"", "abc", "2025-01", "xxxx-01-001", "2025-xx-001", "2025-01-xxx", "2025-13-001", "2025-01-000"} {
		t.Run(input, func(t *testing.T) {
			_, _, _, err := ParseTxnID(input)
			assert.Error(t, err)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, seq := range []int{1, 42, 999} {
		y, m, s, err := ParseTxnID(FormatTxnID(2024, 4, seq))
		require.NoError(t, err)
		assert.Equal(t, []int{2024, 4, seq}, []int{y, m, s})
	}
}

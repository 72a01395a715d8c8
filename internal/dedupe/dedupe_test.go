package dedupe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/stmtimport/internal/model"
)

func day(d int) time.Time {
	return time.Date(2024, time.April, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 100, Similarity("NEFT-John Smith", "  neft-john smith "), 0.001)
	assert.InDelta(t, 75, Similarity("abcdefghijklmnopqrst", "abcdefghijklmnoVWXYZ"), 0.001)
	assert.InDelta(t, 0, Similarity("abc", "xyz"), 0.001)
	assert.InDelta(t, 100, Similarity("", ""), 0.001)
	// One insertion over ten runes.
	assert.InDelta(t, 90, Similarity("café latte", "café latt"), 0.001)
}

func TestDayDelta(t *testing.T) {
	assert.Equal(t, 0, DayDelta(day(1), day(1).Add(13*time.Hour)))
	assert.Equal(t, 1, DayDelta(day(2), day(1)))
	assert.Equal(t, 1, DayDelta(day(1), day(2)))
	assert.Equal(t, 30, DayDelta(day(1), time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)))
}

func TestMatch_StrongOnIdenticalDateAmountDescription(t *testing.T) {
	existing := []model.ExistingTransaction{
		{ID: "2024-04-001", Date: day(1), Amount: dec("-5000"), Description: "NEFT-John Smith"},
	}
	c := model.Candidate{Date: day(1), Amount: dec("-5000"), Description: "NEFT-John Smith"}

	ms := MatchCandidate(DefaultThresholds(), 0, c, existing)
	require.Len(t, ms, 1)
	assert.Equal(t, TierStrong, ms[0].Tier)
	assert.GreaterOrEqual(t, ms[0].Score, 90.0)
	assert.Equal(t, "2024-04-001", ms[0].ExistingID)
	assert.Equal(t, []string{"exact date+amount", "description ≥90% similar"}, ms[0].Reasons)
}

func TestMatch_PossibleWithDayPenalty(t *testing.T) {
	existing := []model.ExistingTransaction{
		{ID: "e1", Date: day(1), Amount: dec("-1000"), Description: "abcdefghijklmnopqrst"},
	}
	c := model.Candidate{Date: day(2), Amount: dec("-1005"), Description: "abcdefghijklmnoVWXYZ"}

	ms := MatchCandidate(DefaultThresholds(), 3, c, existing)
	require.Len(t, ms, 1)
	m := ms[0]
	assert.Equal(t, TierPossible, m.Tier)
	assert.Equal(t, 3, m.CandidateIndex)
	assert.GreaterOrEqual(t, m.Score, 65.0)
	assert.Less(t, m.Score, 75.0)
	assert.InDelta(t, 70, m.Score, 0.001)
	assert.Contains(t, m.Reasons, "date 1 day(s) apart")
	assert.Contains(t, m.Reasons, "amount within 1%")
}

func TestMatch_ExactShortCircuits(t *testing.T) {
	existing := []model.ExistingTransaction{
		{ID: "a", Date: day(1), Amount: dec("-20"), Description: "Coffee", ReferenceID: "OTHER"},
		{ID: "b", Date: day(1), Amount: dec("-20"), Description: "Coffee"},
		{ID: "c", Date: day(9), Amount: dec("-99"), Description: "Unrelated", ReferenceID: "utr-123"},
	}
	c := model.Candidate{Date: day(1), Amount: dec("-20"), Description: "Coffee", ReferenceID: "UTR-123"}

	ms := MatchCandidate(DefaultThresholds(), 0, c, existing)
	require.Len(t, ms, 1)
	assert.Equal(t, TierExact, ms[0].Tier)
	assert.Equal(t, 100.0, ms[0].Score)
	assert.Equal(t, "c", ms[0].ExistingID)
	assert.Equal(t, []string{"same reference id"}, ms[0].Reasons)
}

func TestMatch_ScoreDropsWithDateDistance(t *testing.T) {
	th := DefaultThresholds()
	th.DateWindowDays = 3
	existing := []model.ExistingTransaction{
		{ID: "e", Date: day(10), Amount: dec("-100"), Description: "abcdefghijklmnopqrst"},
	}

	var prev float64 = 101
	for delta := 0; delta <= 3; delta++ {
		c := model.Candidate{Date: day(10 + delta), Amount: dec("-100"), Description: "abcdefghijklmnoVWXYZ"}
		ms := MatchCandidate(th, 0, c, existing)
		require.Len(t, ms, 1, "delta %d", delta)
		assert.Equal(t, TierPossible, ms[0].Tier)
		assert.Less(t, ms[0].Score, prev, "delta %d", delta)
		prev = ms[0].Score
	}
}

func TestMatch_MultipleSortedByScore(t *testing.T) {
	existing := []model.ExistingTransaction{
		{ID: "far", Date: day(2), Amount: dec("-50"), Description: "Uber trip 1234"},
		{ID: "same", Date: day(1), Amount: dec("-50"), Description: "Uber trip 1234"},
		{ID: "close", Date: day(1), Amount: dec("-50.20"), Description: "Uber trip 1235"},
	}
	c := model.Candidate{Date: day(1), Amount: dec("-50"), Description: "UBER TRIP 1234"}

	ms := MatchCandidate(DefaultThresholds(), 0, c, existing)
	require.Len(t, ms, 3)
	assert.Equal(t, "same", ms[0].ExistingID)
	assert.Equal(t, TierStrong, ms[0].Tier)
	for i := 1; i < len(ms); i++ {
		assert.GreaterOrEqual(t, ms[i-1].Score, ms[i].Score)
	}
}

func TestMatch_NoMatch(t *testing.T) {
	tests := []struct {
		name     string
		existing model.ExistingTransaction
	}{
		{"opposite sign", model.ExistingTransaction{ID: "x", Date: day(1), Amount: dec("100"), Description: "Refund"}},
		{"too far", model.ExistingTransaction{ID: "x", Date: day(5), Amount: dec("-100"), Description: "Refund"}},
		{"amount off", model.ExistingTransaction{ID: "x", Date: day(1), Amount: dec("-102"), Description: "Refund"}},
		{"different text", model.ExistingTransaction{ID: "x", Date: day(1), Amount: dec("-100"), Description: "Grocery store"}},
	}
	c := model.Candidate{Date: day(1), Amount: dec("-100"), Description: "Refund"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, MatchCandidate(DefaultThresholds(), 0, c, []model.ExistingTransaction{tt.existing}))
		})
	}
}

func TestMatch_StrongNeedsTolerance(t *testing.T) {
	existing := []model.ExistingTransaction{
		{ID: "e", Date: day(1), Amount: dec("-10.02"), Description: "Parking"},
	}
	c := model.Candidate{Date: day(1), Amount: dec("-10.00"), Description: "Parking"}

	ms := MatchCandidate(DefaultThresholds(), 0, c, existing)
	require.Len(t, ms, 1)
	assert.Equal(t, TierPossible, ms[0].Tier)
}

// fakeLookup serves a fixed set of transactions and records calls.
type fakeLookup struct {
	mu       sync.Mutex
	txns     []model.ExistingTransaction
	failOn   map[string]bool // description of candidates whose lookup fails
	calls    int
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeLookup) FindCandidateMatches(_ context.Context, _ string, from, to time.Time) ([]model.ExistingTransaction, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn[from.Format("2006-01-02")] {
		return nil, errors.New("store unavailable")
	}
	var out []model.ExistingTransaction
	for _, e := range f.txns {
		if !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

type refLookup struct {
	*fakeLookup
	refCalls atomic.Int32
}

func (r *refLookup) FindByReference(_ context.Context, _ string, ref string) ([]model.ExistingTransaction, error) {
	r.refCalls.Add(1)
	var out []model.ExistingTransaction
	for _, e := range r.txns {
		if e.ReferenceID == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestDetectAll_PerCandidateErrors(t *testing.T) {
	lookup := &fakeLookup{
		txns: []model.ExistingTransaction{
			{ID: "e1", Date: day(10), Amount: dec("-5000"), Description: "NEFT-John Smith"},
		},
		// Candidate dated the 21st queries from the 20th.
		failOn: map[string]bool{"2024-04-20": true},
	}
	d := NewDetector(lookup, DefaultThresholds(), 2, zerolog.Nop())

	cands := []model.Candidate{
		{Date: day(10), Amount: dec("-5000"), Description: "NEFT-John Smith"},
		{Date: day(21), Amount: dec("-1"), Description: "Broken"},
		{Date: day(15), Amount: dec("12"), Description: "Interest"},
	}
	matches, errs := d.DetectAll(context.Background(), "acct", cands)
	require.Len(t, matches, 3)
	require.Len(t, errs, 3)

	require.Len(t, matches[0], 1)
	assert.Equal(t, TierStrong, matches[0][0].Tier)
	assert.NoError(t, errs[0])

	var dce *DuplicateCheckError
	require.True(t, errors.As(errs[1], &dce))
	assert.Equal(t, 1, dce.CandidateIndex)
	assert.Nil(t, matches[1])

	assert.Empty(t, matches[2])
	assert.NoError(t, errs[2])
	assert.Equal(t, 3, lookup.calls)
}

func TestDetectAll_BoundedConcurrency(t *testing.T) {
	lookup := &fakeLookup{}
	d := NewDetector(lookup, DefaultThresholds(), 3, zerolog.Nop())

	cands := make([]model.Candidate, 40)
	for i := range cands {
		cands[i] = model.Candidate{Date: day(1 + i%28), Amount: dec("-1"), Description: "x"}
	}
	_, errs := d.DetectAll(context.Background(), "acct", cands)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, lookup.peak.Load(), int32(3))
	assert.Equal(t, 40, lookup.calls)
}

func TestDetect_UsesReferenceLookup(t *testing.T) {
	rl := &refLookup{fakeLookup: &fakeLookup{
		txns: []model.ExistingTransaction{
			{ID: "old", Date: time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC), Amount: dec("-9"), Description: "Old", ReferenceID: "R1"},
		},
	}}
	d := NewDetector(rl, DefaultThresholds(), 1, zerolog.Nop())

	ms, err := d.Detect(context.Background(), "acct", 0, model.Candidate{Date: day(1), Amount: dec("-9"), Description: "Old", ReferenceID: "R1"})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, TierExact, ms[0].Tier)
	assert.Equal(t, "old", ms[0].ExistingID)
	assert.Equal(t, int32(1), rl.refCalls.Load())
	// Exact found: no date-range query.
	assert.Equal(t, 0, rl.calls)
}

func TestDetect_CancelledContext(t *testing.T) {
	d := NewDetector(&fakeLookup{}, DefaultThresholds(), 1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Detect(ctx, "acct", 0, model.Candidate{Date: day(1), Amount: dec("-1"), Description: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

// Package dedupe scores statement candidates against transactions already
// stored for the same account.
package dedupe

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/cleared-dev/stmtimport/internal/model"
)

// Tier is how certain a duplicate match is. The set is closed.
type Tier string

const (
	TierExact    Tier = "exact"
	TierStrong   Tier = "strong"
	TierPossible Tier = "possible"
)

// Match links a candidate to one existing transaction.
type Match struct {
	CandidateIndex int
	ExistingID     string
	Tier           Tier
	Score          float64 // 0-100
	Reasons        []string
}

// Thresholds are the heuristic cut-offs of the tiers.
type Thresholds struct {
	StrongSimilarity     float64         // minimum similarity for strong
	PossibleSimilarity   float64         // minimum similarity for possible
	ExactAmountTolerance decimal.Decimal // absolute, for strong
	PossibleAmountPct    decimal.Decimal // percent of the larger amount, for possible
	DateWindowDays       int             // ± days for possible
	PerDayPenalty        float64         // score lost per day of distance
}

// DefaultThresholds returns the standard tier cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongSimilarity:     90,
		PossibleSimilarity:   70,
		ExactAmountTolerance: decimal.RequireFromString("0.01"),
		PossibleAmountPct:    decimal.NewFromInt(1),
		DateWindowDays:       1,
		PerDayPenalty:        5,
	}
}

// MatchCandidate scores candidate c (at index idx) against existing
// transactions of the same account. An exact reference match is returned
// alone; otherwise each existing transaction yields at most one strong or
// possible match. The result is sorted by descending score.
func MatchCandidate(th Thresholds, idx int, c model.Candidate, existing []model.ExistingTransaction) []Match {
	if m, ok := exactMatch(idx, c, existing); ok {
		return []Match{m}
	}

	var matches []Match
	for _, e := range existing {
		if m, ok := strongMatch(th, idx, c, e); ok {
			matches = append(matches, m)
			continue
		}
		if m, ok := possibleMatch(th, idx, c, e); ok {
			matches = append(matches, m)
		}
	}
	SortMatches(matches)
	return matches
}

// SortMatches orders by descending score, then by existing id.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].ExistingID < ms[j].ExistingID
	})
}

func exactMatch(idx int, c model.Candidate, existing []model.ExistingTransaction) (Match, bool) {
	ref := strings.TrimSpace(c.ReferenceID)
	if ref == "" {
		return Match{}, false
	}
	for _, e := range existing {
		if strings.EqualFold(ref, strings.TrimSpace(e.ReferenceID)) {
			return Match{
				CandidateIndex: idx,
				ExistingID:     e.ID,
				Tier:           TierExact,
				Score:          100,
				Reasons:        []string{"same reference id"},
			}, true
		}
	}
	return Match{}, false
}

func strongMatch(th Thresholds, idx int, c model.Candidate, e model.ExistingTransaction) (Match, bool) {
	if DayDelta(c.Date, e.Date) != 0 {
		return Match{}, false
	}
	if c.Amount.Sub(e.Amount).Abs().GreaterThan(th.ExactAmountTolerance) {
		return Match{}, false
	}
	sim := Similarity(c.Description, e.Description)
	if sim < th.StrongSimilarity {
		return Match{}, false
	}
	return Match{
		CandidateIndex: idx,
		ExistingID:     e.ID,
		Tier:           TierStrong,
		Score:          round2(sim),
		Reasons: []string{
			"exact date+amount",
			fmt.Sprintf("description ≥%s%% similar", trimFloat(th.StrongSimilarity)),
		},
	}, true
}

func possibleMatch(th Thresholds, idx int, c model.Candidate, e model.ExistingTransaction) (Match, bool) {
	delta := DayDelta(c.Date, e.Date)
	if delta > th.DateWindowDays {
		return Match{}, false
	}

	larger := decimal.Max(c.Amount.Abs(), e.Amount.Abs())
	allowed := larger.Mul(th.PossibleAmountPct).Div(decimal.NewFromInt(100))
	diff := c.Amount.Sub(e.Amount).Abs()
	if diff.GreaterThan(allowed) {
		return Match{}, false
	}

	sim := Similarity(c.Description, e.Description)
	if sim < th.PossibleSimilarity {
		return Match{}, false
	}

	var reasons []string
	if delta == 0 {
		reasons = append(reasons, "same date")
	} else {
		reasons = append(reasons, fmt.Sprintf("date %d day(s) apart", delta))
	}
	if diff.IsZero() {
		reasons = append(reasons, "same amount")
	} else {
		reasons = append(reasons, fmt.Sprintf("amount within %s%%", th.PossibleAmountPct.String()))
	}
	reasons = append(reasons, fmt.Sprintf("description %s%% similar", trimFloat(round2(sim))))

	score := math.Max(0, sim-float64(delta)*th.PerDayPenalty)
	return Match{
		CandidateIndex: idx,
		ExistingID:     e.ID,
		Tier:           TierPossible,
		Score:          round2(score),
		Reasons:        reasons,
	}, true
}

// Similarity is the normalized Levenshtein ratio of two descriptions,
// case-folded and trimmed: (maxLen - distance) / maxLen * 100.
func Similarity(a, b string) float64 {
	ra := []rune(strings.ToLower(strings.TrimSpace(a)))
	rb := []rune(strings.ToLower(strings.TrimSpace(b)))
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptionsWithSub)
	return float64(maxLen-dist) / float64(maxLen) * 100
}

// DayDelta returns the absolute number of calendar days between a and b.
func DayDelta(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

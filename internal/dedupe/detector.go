package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/stmtimport/internal/model"
)

// DefaultWorkers bounds concurrent lookups.
const DefaultWorkers = 8

// Lookup queries stored transactions of an account by date range
// (inclusive on both ends).
type Lookup interface {
	FindCandidateMatches(ctx context.Context, accountID string, from, to time.Time) ([]model.ExistingTransaction, error)
}

// ReferenceLookup is implemented by stores that can find transactions by
// reference id regardless of date. When available it backs the exact tier.
type ReferenceLookup interface {
	FindByReference(ctx context.Context, accountID, ref string) ([]model.ExistingTransaction, error)
}

// DuplicateCheckError is a lookup failure for one candidate. It does not
// stop detection for the others.
type DuplicateCheckError struct {
	CandidateIndex int
	Err            error
}

func (e *DuplicateCheckError) Error() string {
	return fmt.Sprintf("duplicate check for candidate %d: %v", e.CandidateIndex, e.Err)
}

func (e *DuplicateCheckError) Unwrap() error { return e.Err }

// Detector runs MatchCandidate against a Lookup.
type Detector struct {
	lookup     Lookup
	thresholds Thresholds
	workers    int
	log        zerolog.Logger
}

// NewDetector creates a Detector. workers <= 0 selects DefaultWorkers.
func NewDetector(lookup Lookup, th Thresholds, workers int, log zerolog.Logger) *Detector {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Detector{lookup: lookup, thresholds: th, workers: workers, log: log}
}

// Detect finds matches for one candidate. Tiers are evaluated in order and
// an exact match ends the evaluation.
func (d *Detector) Detect(ctx context.Context, accountID string, idx int, c model.Candidate) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rl, ok := d.lookup.(ReferenceLookup); ok && c.ReferenceID != "" {
		byRef, err := rl.FindByReference(ctx, accountID, c.ReferenceID)
		if err != nil {
			return nil, fmt.Errorf("reference lookup: %w", err)
		}
		if m, ok := exactMatch(idx, c, byRef); ok {
			return []Match{m}, nil
		}
	}

	window := time.Duration(d.thresholds.DateWindowDays) * 24 * time.Hour
	existing, err := d.lookup.FindCandidateMatches(ctx, accountID, c.Date.Add(-window), c.Date.Add(window))
	if err != nil {
		return nil, fmt.Errorf("date range lookup: %w", err)
	}
	return MatchCandidate(d.thresholds, idx, c, existing), nil
}

// DetectAll runs Detect for every candidate on a bounded worker pool.
// matches[i] and errs[i] belong to candidates[i]; errs[i] is a
// *DuplicateCheckError or nil.
func (d *Detector) DetectAll(ctx context.Context, accountID string, candidates []model.Candidate) (matches [][]Match, errs []error) {
	matches = make([][]Match, len(candidates))
	errs = make([]error, len(candidates))

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			m, err := d.Detect(ctx, accountID, i, c)
			if err != nil {
				d.log.Warn().Err(err).Int("candidate", i).Str("account", accountID).Msg("duplicate check failed")
				errs[i] = &DuplicateCheckError{CandidateIndex: i, Err: err}
				return nil
			}
			matches[i] = m
			return nil
		})
	}
	_ = g.Wait()
	return matches, errs
}

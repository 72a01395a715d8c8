// Package session drives one statement file from a row grid to an
// adjudicated commit list.
package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cleared-dev/stmtimport/internal/dedupe"
	"github.com/cleared-dev/stmtimport/internal/mapping"
	"github.com/cleared-dev/stmtimport/internal/model"
	"github.com/cleared-dev/stmtimport/internal/normalize"
	"github.com/cleared-dev/stmtimport/internal/rowgrid"
	"github.com/cleared-dev/stmtimport/internal/table"
)

// Session is one import attempt for one account. All mutable import state
// lives here and is guarded by mu.
type Session struct {
	ID                string
	AccountID         string
	SourceFingerprint string
	SourceLabel       string
	CreatedAt         time.Time

	mu        sync.Mutex
	state     State
	grid      rowgrid.Grid
	table     table.Table
	suggested mapping.ColumnMapping
	mapping   mapping.ColumnMapping
	result    normalize.Result
	matches   [][]dedupe.Match
	checkErrs []error
	decisions []*model.Decision // nil means undecided
	stopping  bool              // cancel requested while committing
}

// ReviewItem is one candidate as presented for adjudication.
type ReviewItem struct {
	Index      int
	Candidate  model.Candidate
	Matches    []dedupe.Match
	Decision   model.Decision
	Decided    bool
	CheckError error // duplicate check failure, if any
}

// BestTier returns the tier of the highest-scoring match, or "" if none.
func (it ReviewItem) BestTier() dedupe.Tier {
	if len(it.Matches) == 0 {
		return ""
	}
	return it.Matches[0].Tier
}

// ReviewSet is everything a reviewer needs to adjudicate a session.
type ReviewSet struct {
	Items      []ReviewItem
	DataRows   int
	Rejected   int
	Skipped    int
	Reasons    []normalize.ValidationError
	Warnings   []string
	DateFormat string
}

// Undecided returns the indexes of items still awaiting a decision.
func (rs ReviewSet) Undecided() []int {
	var out []int
	for _, it := range rs.Items {
		if !it.Decided {
			out = append(out, it.Index)
		}
	}
	return out
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Table returns the located header.
func (s *Session) Table() table.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

// Grid returns the rows the session was started with.
func (s *Session) Grid() rowgrid.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// SuggestedMapping returns the mapping proposed from the header.
func (s *Session) SuggestedMapping() mapping.ColumnMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggested.Clone()
}

// Mapping returns the confirmed mapping, or false before confirmation.
func (s *Session) Mapping() (mapping.ColumnMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < StateMapped || s.mapping.Columns == nil {
		return mapping.ColumnMapping{}, false
	}
	return s.mapping.Clone(), true
}

// ReviewSet returns the candidates, matches and current decisions.
func (s *Session) ReviewSet() (ReviewSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < StateReviewing || (s.state == StateCancelled && s.decisions == nil) {
		return ReviewSet{}, fmt.Errorf("review set in state %s: %w", s.state, ErrInvalidState)
	}
	return s.reviewSetLocked(), nil
}

func (s *Session) reviewSetLocked() ReviewSet {
	rs := ReviewSet{
		Items:      make([]ReviewItem, len(s.result.Candidates)),
		DataRows:   s.result.DataRows,
		Rejected:   s.result.Rejected,
		Skipped:    s.result.Skipped,
		Reasons:    slices.Clone(s.result.Reasons),
		DateFormat: s.result.DateFormat,
	}
	for i, c := range s.result.Candidates {
		it := ReviewItem{
			Index:      i,
			Candidate:  c,
			Matches:    slices.Clone(s.matches[i]),
			CheckError: s.checkErrs[i],
		}
		if d := s.decisions[i]; d != nil {
			it.Decision = *d
			it.Decided = true
		}
		if it.CheckError != nil {
			rs.Warnings = append(rs.Warnings, it.CheckError.Error())
		}
		rs.Items[i] = it
	}
	return rs
}

// SetDecision records the decision for candidate i.
func (s *Session) SetDecision(i int, d model.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewing {
		return fmt.Errorf("set decision in state %s: %w", s.state, ErrInvalidState)
	}
	if i < 0 || i >= len(s.decisions) {
		return fmt.Errorf("candidate %d out of range [0,%d): %w", i, len(s.decisions), ErrBadDecision)
	}
	d, err := s.checkDecision(i, d)
	if err != nil {
		return err
	}
	s.decisions[i] = &d
	return nil
}

// SetBulkDecision applies d to every candidate for which pred returns true
// and returns how many were changed. An updateExisting decision without a
// target points each candidate at its best match; candidates without
// matches are left alone.
func (s *Session) SetBulkDecision(pred func(ReviewItem) bool, d model.Decision) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewing {
		return 0, fmt.Errorf("set decision in state %s: %w", s.state, ErrInvalidState)
	}

	rs := s.reviewSetLocked()
	var picked []int
	pending := make(map[int]model.Decision)
	for _, it := range rs.Items {
		if !pred(it) {
			continue
		}
		dd := d
		if d.Action == model.ActionUpdateExisting && d.TargetExistingID == "" {
			if len(it.Matches) == 0 {
				continue
			}
			dd.TargetExistingID = it.Matches[0].ExistingID
		}
		checked, err := s.checkDecision(it.Index, dd)
		if err != nil {
			return 0, err
		}
		picked = append(picked, it.Index)
		pending[it.Index] = checked
	}
	for _, i := range picked {
		dd := pending[i]
		s.decisions[i] = &dd
	}
	return len(picked), nil
}

func (s *Session) checkDecision(i int, d model.Decision) (model.Decision, error) {
	switch d.Action {
	case model.ActionSkip, model.ActionImportNew, model.ActionForceAdd:
		d.TargetExistingID = ""
		return d, nil
	case model.ActionUpdateExisting:
		for _, m := range s.matches[i] {
			if m.ExistingID == d.TargetExistingID {
				return d, nil
			}
		}
		return d, fmt.Errorf("candidate %d: %q is not one of its matches: %w", i, d.TargetExistingID, ErrBadDecision)
	default:
		return d, fmt.Errorf("candidate %d: unknown action %q: %w", i, d.Action, ErrBadDecision)
	}
}

// transition moves the session to state to. Caller holds mu.
func (s *Session) transition(to State) error {
	if !canTransition(s.state, to) {
		return fmt.Errorf("%s → %s: %w", s.state, to, ErrInvalidState)
	}
	s.state = to
	return nil
}

// defaultDecision is the pre-filled decision for a candidate, nil when a
// human must choose.
func defaultDecision(matches []dedupe.Match, checkErr error) *model.Decision {
	switch {
	case checkErr != nil || len(matches) == 0:
		return &model.Decision{Action: model.ActionImportNew}
	case matches[0].Tier == dedupe.TierExact:
		return &model.Decision{Action: model.ActionSkip}
	default:
		return nil
	}
}

// HasTier selects candidates whose best match is tier t.
func HasTier(t dedupe.Tier) func(ReviewItem) bool {
	return func(it ReviewItem) bool { return it.BestTier() == t }
}

// IsUndecided selects candidates still awaiting a decision.
func IsUndecided(it ReviewItem) bool { return !it.Decided }

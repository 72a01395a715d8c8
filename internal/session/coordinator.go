package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleared-dev/stmtimport/internal/dedupe"
	"github.com/cleared-dev/stmtimport/internal/mapping"
	"github.com/cleared-dev/stmtimport/internal/model"
	"github.com/cleared-dev/stmtimport/internal/normalize"
	"github.com/cleared-dev/stmtimport/internal/rowgrid"
	"github.com/cleared-dev/stmtimport/internal/table"
)

// DefaultBatchSize is the number of candidates applied per commit batch.
const DefaultBatchSize = 500

// Lookup reads existing transactions for duplicate detection.
type Lookup = dedupe.Lookup

// Committer applies one adjudicated candidate as a single atomic write and
// returns the id of the created or updated transaction.
type Committer interface {
	Apply(ctx context.Context, accountID string, item model.CommitItem) (string, error)
}

// Options configures a Coordinator.
type Options struct {
	Locator     table.Locator
	Thresholds  dedupe.Thresholds
	Workers     int
	DateFormats []string
	MaxReasons  int
	BatchSize   int
	Now         func() time.Time
}

// DefaultOptions returns the standard pipeline settings.
func DefaultOptions() Options {
	return Options{
		Locator:     table.DefaultLocator(),
		Thresholds:  dedupe.DefaultThresholds(),
		Workers:     dedupe.DefaultWorkers,
		DateFormats: normalize.DefaultDateFormats,
		MaxReasons:  normalize.DefaultMaxReasons,
		BatchSize:   DefaultBatchSize,
		Now:         time.Now,
	}
}

// CommitResult is one applied (or skipped) candidate.
type CommitResult struct {
	Index         int
	Action        model.Action
	TransactionID string
}

// CommitSummary reports the outcome of Commit.
type CommitSummary struct {
	Committed int
	Skipped   int
	Errors    []*CommitError
	Results   []CommitResult
	Cancelled bool
}

// Coordinator owns the sessions of all accounts and serialises commits.
type Coordinator struct {
	opts      Options
	detector  *dedupe.Detector
	committer Committer
	log       zerolog.Logger

	mu     sync.Mutex
	active map[string]*Session // by account

	commitMu sync.Mutex
}

// NewCoordinator creates a Coordinator over a store's lookup and committer.
func NewCoordinator(lookup Lookup, committer Committer, opts Options, log zerolog.Logger) *Coordinator {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if len(opts.DateFormats) == 0 {
		opts.DateFormats = def.DateFormats
	}
	return &Coordinator{
		opts:      opts,
		detector:  dedupe.NewDetector(lookup, opts.Thresholds, opts.Workers, log),
		committer: committer,
		log:       log,
		active:    make(map[string]*Session),
	}
}

// Active returns the live session for an account, if any.
func (c *Coordinator) Active(accountID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[accountID]
	return s, ok
}

// StartSession parses grid for accountID, locates its table and suggests a
// mapping. An older session for the account that has not reached review is
// cancelled; one in review or commit makes this fail with ErrSessionActive.
// fileHash identifies the source; when empty the grid fingerprint is used.
func (c *Coordinator) StartSession(ctx context.Context, accountID string, grid rowgrid.Grid, sourceLabel, fileHash string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	if grid.Empty() {
		return nil, &FormatError{Source: sourceLabel, Reason: "no rows"}
	}
	if fileHash == "" {
		fileHash = grid.Fingerprint()
	}

	s := &Session{
		ID:                uuid.NewString(),
		AccountID:         accountID,
		SourceFingerprint: fileHash,
		SourceLabel:       sourceLabel,
		CreatedAt:         c.opts.Now(),
	}
	log := c.sessionLog(s)

	s.mu.Lock()
	_ = s.transition(StateParsed)
	tbl, err := c.opts.Locator.Locate(grid)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if grid.Kind == rowgrid.KindText {
		grid = grid.AlignTo(tbl.HeaderPos)
	}
	s.grid = grid
	s.table = tbl
	s.suggested = mapping.Suggest(tbl.Header)
	s.mu.Unlock()

	if err := c.claim(s); err != nil {
		return nil, err
	}
	log.Info().
		Int("rows", grid.Len()).
		Int("header_row", tbl.Header.Index).
		Bool("by_keywords", tbl.ByKeywords).
		Str("mapping", s.suggested.String()).
		Msg("session parsed")
	return s, nil
}

// claim registers s as the account's session.
func (c *Coordinator) claim(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.active[s.AccountID]; ok {
		old.mu.Lock()
		st := old.state
		if st.Locks() {
			old.mu.Unlock()
			return fmt.Errorf("account %s has session %s in %s: %w", s.AccountID, old.ID, st, ErrSessionActive)
		}
		if !st.Terminal() {
			_ = old.transition(StateCancelled)
			log := c.sessionLog(old)
			log.Info().Str("replaced_by", s.ID).Msg("session cancelled")
		}
		old.mu.Unlock()
	}
	c.active[s.AccountID] = s
	return nil
}

// release forgets s if it is still the account's session.
func (c *Coordinator) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[s.AccountID] == s {
		delete(c.active, s.AccountID)
	}
}

// ConfirmMapping freezes m for the session, builds candidates, runs
// duplicate detection and opens the review. An incomplete mapping leaves the
// session parsed so another mapping can be confirmed.
func (c *Coordinator) ConfirmMapping(ctx context.Context, s *Session, m mapping.ColumnMapping) error {
	log := c.sessionLog(s)

	s.mu.Lock()
	if s.state != StateParsed {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("confirm mapping in state %s: %w", st, ErrInvalidState)
	}
	if err := m.Complete(); err != nil {
		s.mu.Unlock()
		return err
	}
	res, err := normalize.Normalize(s.grid, s.table, m, normalize.Options{
		DateFormats: c.opts.DateFormats,
		MaxReasons:  c.opts.MaxReasons,
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("normalizing rows: %w", err)
	}
	s.mapping = m.Clone()
	_ = s.transition(StateMapped)
	s.result = res
	_ = s.transition(StateCandidatesBuilt)
	s.mu.Unlock()

	log.Info().
		Int("data_rows", res.DataRows).
		Int("accepted", res.Accepted()).
		Int("rejected", res.Rejected).
		Int("skipped", res.Skipped).
		Str("date_format", res.DateFormat).
		Msg("candidates built")

	matches, checkErrs := c.detector.DetectAll(ctx, s.AccountID, res.Candidates)
	if err := ctx.Err(); err != nil {
		c.Cancel(s)
		return fmt.Errorf("duplicate detection: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(StateMatched); err != nil {
		// Cancelled while matching.
		return err
	}
	s.matches = matches
	s.checkErrs = checkErrs
	s.decisions = make([]*model.Decision, len(res.Candidates))
	tiers := map[dedupe.Tier]int{}
	warnings := 0
	for i := range res.Candidates {
		s.decisions[i] = defaultDecision(matches[i], checkErrs[i])
		if checkErrs[i] != nil {
			warnings++
		}
		if len(matches[i]) > 0 {
			tiers[matches[i][0].Tier]++
		}
	}
	if err := s.transition(StateReviewing); err != nil {
		return err
	}
	log.Info().
		Int("exact", tiers[dedupe.TierExact]).
		Int("strong", tiers[dedupe.TierStrong]).
		Int("possible", tiers[dedupe.TierPossible]).
		Int("check_warnings", warnings).
		Msg("session reviewing")
	return nil
}

// Commit hands every decided candidate to the committer in batches and ends
// the session. Skipped candidates are never sent. Write failures are
// collected per candidate and do not stop the remaining writes.
func (c *Coordinator) Commit(ctx context.Context, s *Session) (CommitSummary, error) {
	s.mu.Lock()
	if s.state != StateReviewing {
		st := s.state
		s.mu.Unlock()
		return CommitSummary{}, fmt.Errorf("commit in state %s: %w", st, ErrInvalidState)
	}
	var undecided int
	for _, d := range s.decisions {
		if d == nil {
			undecided++
		}
	}
	if undecided > 0 {
		s.mu.Unlock()
		return CommitSummary{}, fmt.Errorf("%d candidates: %w", undecided, ErrUndecided)
	}
	_ = s.transition(StateCommitting)
	meta := model.ImportMeta{
		SessionID:         s.ID,
		SourceFingerprint: s.SourceFingerprint,
		SourceLabel:       s.SourceLabel,
		ImportedAt:        c.opts.Now().UTC(),
	}
	items := make([]model.CommitItem, len(s.decisions))
	for i, d := range s.decisions {
		items[i] = model.CommitItem{Index: i, Candidate: s.result.Candidates[i], Decision: *d, Meta: meta}
	}
	s.mu.Unlock()

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	log := c.sessionLog(s)
	var sum CommitSummary
	for start := 0; start < len(items); start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, len(items))
		if stop := c.stopReason(ctx, s); stop != nil {
			sum.Cancelled = true
			for _, it := range items[start:] {
				if it.Decision.Action == model.ActionSkip {
					sum.Skipped++
					continue
				}
				sum.Errors = append(sum.Errors, &CommitError{CandidateIndex: it.Index, Err: stop})
			}
			log.Warn().Int("applied_through", start).Err(stop).Msg("commit stopped")
			break
		}
		c.applyBatch(ctx, s.AccountID, items[start:end], &sum)
		log.Debug().Int("from", start).Int("to", end).Msg("batch applied")
	}

	s.mu.Lock()
	if sum.Cancelled {
		_ = s.transition(StateCancelled)
	} else {
		_ = s.transition(StateDone)
	}
	s.mu.Unlock()
	c.release(s)

	log.Info().
		Int("committed", sum.Committed).
		Int("skipped", sum.Skipped).
		Int("errors", len(sum.Errors)).
		Bool("cancelled", sum.Cancelled).
		Msg("commit finished")
	return sum, nil
}

func (c *Coordinator) applyBatch(ctx context.Context, accountID string, batch []model.CommitItem, sum *CommitSummary) {
	for _, it := range batch {
		if it.Decision.Action == model.ActionSkip {
			sum.Skipped++
			sum.Results = append(sum.Results, CommitResult{Index: it.Index, Action: model.ActionSkip})
			continue
		}
		txnID, err := c.committer.Apply(ctx, accountID, it)
		if err != nil {
			sum.Errors = append(sum.Errors, &CommitError{CandidateIndex: it.Index, Err: err})
			continue
		}
		sum.Committed++
		sum.Results = append(sum.Results, CommitResult{Index: it.Index, Action: it.Decision.Action, TransactionID: txnID})
	}
}

// stopReason reports why no further batch may be scheduled, or nil.
func (c *Coordinator) stopReason(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitCancelled, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrCommitCancelled
	}
	return nil
}

// Cancel discards the session. During a commit it only prevents further
// batches from being scheduled. Cancelling a finished session is a no-op.
func (c *Coordinator) Cancel(s *Session) {
	s.mu.Lock()
	switch {
	case s.state.Terminal():
		s.mu.Unlock()
		return
	case s.state == StateCommitting:
		s.stopping = true
		s.mu.Unlock()
		log := c.sessionLog(s)
		log.Info().Msg("cancel requested during commit")
		return
	}
	_ = s.transition(StateCancelled)
	s.mu.Unlock()
	c.release(s)
	log := c.sessionLog(s)
	log.Info().Msg("session cancelled")
}

// Remap discards s and starts a new session over the same rows with mapping
// m already confirmed.
func (c *Coordinator) Remap(ctx context.Context, s *Session, m mapping.ColumnMapping) (*Session, error) {
	s.mu.Lock()
	st := s.state
	grid := s.grid
	s.mu.Unlock()
	if st.Terminal() || st == StateCommitting {
		return nil, fmt.Errorf("remap in state %s: %w", st, ErrInvalidState)
	}
	if err := m.Complete(); err != nil {
		return nil, err
	}

	c.Cancel(s)
	ns, err := c.StartSession(ctx, s.AccountID, grid, s.SourceLabel, s.SourceFingerprint)
	if err != nil {
		return nil, err
	}
	if err := c.ConfirmMapping(ctx, ns, m); err != nil {
		return ns, err
	}
	return ns, nil
}

func (c *Coordinator) sessionLog(s *Session) zerolog.Logger {
	return c.log.With().Str("session", s.ID).Str("account", s.AccountID).Logger()
}

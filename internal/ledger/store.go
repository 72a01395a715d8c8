package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/stmtimport/internal/id"
	"github.com/cleared-dev/stmtimport/internal/model"
)

// Dir is the ledger directory under the repo root.
const Dir = "ledger"

const fileName = "transactions.csv"

// ErrNotFound is returned for an unknown transaction id.
var ErrNotFound = errors.New("transaction not found")

// Store reads and writes the CSV ledger of a repo. It serves as both the
// duplicate lookup and the committer of an import.
type Store struct {
	repoRoot string
	log      zerolog.Logger
	mu       sync.Mutex
}

// NewStore creates a ledger Store.
func NewStore(repoRoot string, log zerolog.Logger) *Store {
	return &Store{repoRoot: repoRoot, log: log}
}

// Accounts lists the accounts that have ledger files.
func (s *Store) Accounts() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.repoRoot, Dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ReadMonth reads all records of an account for a given year/month.
func (s *Store) ReadMonth(account string, year, month int) ([]Record, error) {
	path := s.monthPath(account, year, month)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	defer f.Close()

	recs, err := ReadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}
	return recs, nil
}

// Range returns the records of an account dated within [from, to], ordered
// by date then id.
func (s *Store) Range(account string, from, to time.Time) ([]Record, error) {
	months, err := s.months(account)
	if err != nil {
		return nil, err
	}
	first := monthKey(from.Year(), int(from.Month()))
	last := monthKey(to.Year(), int(to.Month()))

	var out []Record
	for _, ym := range months {
		if ym < first || ym > last {
			continue
		}
		recs, err := s.ReadMonth(account, ym/100, ym%100)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if !r.Date.Before(startOfDay(from)) && !r.Date.After(to) {
				out = append(out, r)
			}
		}
	}
	sortRecords(out)
	return out, nil
}

// All returns every record of an account.
func (s *Store) All(account string) ([]Record, error) {
	months, err := s.months(account)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, ym := range months {
		recs, err := s.ReadMonth(account, ym/100, ym%100)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	sortRecords(out)
	return out, nil
}

// Get returns the record with the given id.
func (s *Store) Get(account, txnID string) (Record, error) {
	year, month, _, err := id.ParseTxnID(txnID)
	if err != nil {
		return Record{}, err
	}
	recs, err := s.ReadMonth(account, year, month)
	if err != nil {
		return Record{}, err
	}
	for _, r := range recs {
		if r.ID == txnID {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%s in %s: %w", txnID, account, ErrNotFound)
}

// FindCandidateMatches returns the account's transactions dated in [from, to].
func (s *Store) FindCandidateMatches(ctx context.Context, account string, from, to time.Time) ([]model.ExistingTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := s.Range(account, from, to)
	if err != nil {
		return nil, err
	}
	return existing(recs), nil
}

// FindByReference returns the account's transactions carrying ref,
// compared case-insensitively.
func (s *Store) FindByReference(ctx context.Context, account, ref string) ([]model.ExistingTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	recs, err := s.All(account)
	if err != nil {
		return nil, err
	}
	var hits []Record
	for _, r := range recs {
		if strings.EqualFold(strings.TrimSpace(r.Reference), ref) {
			hits = append(hits, r)
		}
	}
	return existing(hits), nil
}

// Apply writes one adjudicated candidate and returns the transaction id.
// Skip decisions write nothing.
func (s *Store) Apply(ctx context.Context, account string, item model.CommitItem) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec := fromCandidate(item)
	switch item.Decision.Action {
	case model.ActionSkip:
		return "", nil
	case model.ActionImportNew, model.ActionForceAdd:
		return s.Add(account, rec)
	case model.ActionUpdateExisting:
		return s.Update(account, item.Decision.TargetExistingID, rec)
	default:
		return "", fmt.Errorf("unknown action %q", item.Decision.Action)
	}
}

// Add assigns the next id of the record's month, validates the month and
// appends the record. Returns the new id.
func (s *Store) Add(account string, rec Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(account, rec)
}

func (s *Store) add(account string, rec Record) (string, error) {
	year, month := rec.Date.Year(), int(rec.Date.Month())

	recs, err := s.ReadMonth(account, year, month)
	if err != nil {
		return "", err
	}
	rec.ID = id.FormatTxnID(year, month, nextSeq(recs))

	// Validate the month with the new record in it.
	all := append(recs, rec)
	if verrs := ValidateRecords(all, year, month); len(verrs) > 0 {
		return "", joinValidation(verrs)
	}

	path := s.monthPath(account, year, month)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating ledger dir: %w", err)
	}

	isNew := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	if isNew {
		if _, err := fmt.Fprintln(f, Header); err != nil {
			return "", fmt.Errorf("writing header: %w", err)
		}
	}
	if err := AppendRecords(f, []Record{rec}); err != nil {
		return "", fmt.Errorf("appending record: %w", err)
	}

	s.log.Debug().Str("account", account).Str("id", rec.ID).Msg("transaction added")
	return rec.ID, nil
}

// Update replaces the stored transaction txnID with rec, keeping its notes.
// When rec falls in another month the transaction moves and gets a new id
// there; the new id is returned.
func (s *Store) Update(account, txnID string, rec Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	year, month, _, err := id.ParseTxnID(txnID)
	if err != nil {
		return "", err
	}
	recs, err := s.ReadMonth(account, year, month)
	if err != nil {
		return "", err
	}
	idx := slices.IndexFunc(recs, func(r Record) bool { return r.ID == txnID })
	if idx < 0 {
		return "", fmt.Errorf("%s in %s: %w", txnID, account, ErrNotFound)
	}
	if rec.Notes == "" {
		rec.Notes = recs[idx].Notes
	}

	if rec.Date.Year() == year && int(rec.Date.Month()) == month {
		rec.ID = txnID
		recs[idx] = rec
		if err := s.rewriteMonth(account, year, month, recs); err != nil {
			return "", err
		}
		s.log.Debug().Str("account", account).Str("id", txnID).Msg("transaction updated")
		return txnID, nil
	}

	// Remove from the old month first; put it back if the add fails.
	orig := slices.Clone(recs)
	if err := s.rewriteMonth(account, year, month, slices.Delete(recs, idx, idx+1)); err != nil {
		return "", err
	}
	newID, err := s.add(account, rec)
	if err != nil {
		if rerr := s.rewriteMonth(account, year, month, orig); rerr != nil {
			return "", errors.Join(err, fmt.Errorf("restoring %s: %w", txnID, rerr))
		}
		return "", err
	}
	s.log.Debug().Str("account", account).Str("from", txnID).Str("to", newID).Msg("transaction moved")
	return newID, nil
}

// rewriteMonth validates recs and atomically replaces the month file.
func (s *Store) rewriteMonth(account string, year, month int, recs []Record) error {
	if verrs := ValidateRecords(recs, year, month); len(verrs) > 0 {
		return joinValidation(verrs)
	}
	path := s.monthPath(account, year, month)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transactions-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteRecords(tmp, recs); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}

// months lists the account's month files as YYYYMM keys, ascending.
func (s *Store) months(account string) ([]int, error) {
	pattern := filepath.Join(s.repoRoot, Dir, account, "*", "*", fileName)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("listing ledger months: %w", err)
	}
	var out []int
	for _, p := range paths {
		monthDir := filepath.Dir(p)
		m, err1 := strconv.Atoi(filepath.Base(monthDir))
		y, err2 := strconv.Atoi(filepath.Base(filepath.Dir(monthDir)))
		if err1 != nil || err2 != nil || m < 1 || m > 12 {
			continue
		}
		out = append(out, monthKey(y, m))
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) monthPath(account string, year, month int) string {
	return filepath.Join(s.repoRoot, Dir, account, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month), fileName)
}

func nextSeq(recs []Record) int {
	maxSeq := 0
	for _, r := range recs {
		_, _, seq, err := id.ParseTxnID(r.ID)
		if err != nil {
			continue
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq + 1
}

func fromCandidate(item model.CommitItem) Record {
	c := item.Candidate
	return Record{
		Date:              c.Date,
		Description:       c.Description,
		Amount:            c.Amount,
		Type:              c.Type,
		Reference:         c.ReferenceID,
		SessionID:         item.Meta.SessionID,
		SourceFingerprint: item.Meta.SourceFingerprint,
		SourceLabel:       item.Meta.SourceLabel,
		ImportedAt:        item.Meta.ImportedAt,
	}
}

func existing(recs []Record) []model.ExistingTransaction {
	out := make([]model.ExistingTransaction, len(recs))
	for i, r := range recs {
		out[i] = r.Existing()
	}
	return out
}

func sortRecords(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func monthKey(year, month int) int { return year*100 + month }

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Package auditlog records every committed import decision in
// logs/import-log.csv.
package auditlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cleared-dev/stmtimport/internal/model"
	"github.com/cleared-dev/stmtimport/internal/session"
)

// Status of one logged candidate.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Entry is one row in the import log.
type Entry struct {
	Timestamp         time.Time
	SessionID         string
	Account           string
	SourceLabel       string
	SourceFingerprint string
	CandidateIndex    int
	Action            model.Action
	TransactionID     string
	Status            string
	Details           string
}

// Header is the CSV header for import-log.csv.
const Header = "timestamp,session_id,account,source_label,source_fingerprint,candidate,action,transaction_id,status,details"

const (
	numFields        = 10
	logDir           = "logs"
	logFile          = "logs/import-log.csv"
	colTimestamp     = 0
	colSession       = 1
	colAccount       = 2
	colLabel         = 3
	colFingerprint   = 4
	colCandidate     = 5
	colAction        = 6
	colTransactionID = 7
	colStatus        = 8
	colDetails       = 9
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colSession] = e.SessionID
	row[colAccount] = e.Account
	row[colLabel] = e.SourceLabel
	row[colFingerprint] = e.SourceFingerprint
	row[colCandidate] = strconv.Itoa(e.CandidateIndex)
	row[colAction] = string(e.Action)
	row[colTransactionID] = e.TransactionID
	row[colStatus] = e.Status
	row[colDetails] = e.Details
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	idx, err := strconv.Atoi(record[colCandidate])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing candidate %q: %w", record[colCandidate], err)
	}

	return Entry{
		Timestamp:         ts,
		SessionID:         record[colSession],
		Account:           record[colAccount],
		SourceLabel:       record[colLabel],
		SourceFingerprint: record[colFingerprint],
		CandidateIndex:    idx,
		Action:            model.Action(record[colAction]),
		TransactionID:     record[colTransactionID],
		Status:            record[colStatus],
		Details:           record[colDetails],
	}, nil
}

// FromCommit builds one entry per candidate of a finished commit.
func FromCommit(s *session.Session, sum session.CommitSummary, at time.Time) []Entry {
	base := Entry{
		Timestamp:         at,
		SessionID:         s.ID,
		Account:           s.AccountID,
		SourceLabel:       s.SourceLabel,
		SourceFingerprint: s.SourceFingerprint,
	}
	var entries []Entry
	for _, r := range sum.Results {
		e := base
		e.CandidateIndex = r.Index
		e.Action = r.Action
		e.TransactionID = r.TransactionID
		e.Status = StatusOK
		entries = append(entries, e)
	}
	for _, ce := range sum.Errors {
		e := base
		e.CandidateIndex = ce.CandidateIndex
		e.Status = StatusError
		if errors.Is(ce, session.ErrCommitCancelled) {
			e.Status = StatusCancelled
		}
		e.Details = ce.Err.Error()
		entries = append(entries, e)
	}
	return entries
}

// Append writes entries to <repoRoot>/logs/import-log.csv, creating the file and header if needed.
func Append(repoRoot string, entries []Entry) error {
	dir := filepath.Join(repoRoot, logDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(repoRoot, logFile)
	needsHeader := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening import log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <repoRoot>/logs/import-log.csv.
// Returns an empty slice if the file does not exist.
func Read(repoRoot string) ([]Entry, error) {
	path := filepath.Join(repoRoot, logFile)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening import log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

// PreviouslyImported returns the sessions that committed at least one
// candidate from the source with the given fingerprint into account.
func PreviouslyImported(repoRoot, account, fingerprint string) ([]string, error) {
	entries, err := Read(repoRoot)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if e.Account != account || e.SourceFingerprint != fingerprint || e.Status != StatusOK || e.TransactionID == "" {
			continue
		}
		if !seen[e.SessionID] {
			seen[e.SessionID] = true
			out = append(out, e.SessionID)
		}
	}
	return out, nil
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading import log CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

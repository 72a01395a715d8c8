package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned when another session for the account is
	// already reviewing or committing.
	ErrSessionActive = errors.New("an import session for this account is already in review")
	// ErrInvalidState is returned when an operation does not fit the
	// session's current state.
	ErrInvalidState = errors.New("operation not allowed in the current session state")
	// ErrUndecided blocks commit while strong or possible matches await review.
	ErrUndecided = errors.New("some candidates still need a decision")
	// ErrBadDecision rejects a decision that cannot apply to its candidate.
	ErrBadDecision = errors.New("invalid decision")
	// ErrCommitCancelled marks candidates left unapplied by a cancelled commit.
	ErrCommitCancelled = errors.New("commit cancelled before this candidate was applied")
)

// FormatError means the source produced no usable rows.
type FormatError struct {
	Source string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Source == "" {
		return "unreadable source: " + e.Reason
	}
	return fmt.Sprintf("unreadable source %s: %s", e.Source, e.Reason)
}

// CommitError is a write failure for one candidate. Earlier writes stay.
type CommitError struct {
	CandidateIndex int
	Err            error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit candidate %d: %v", e.CandidateIndex, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

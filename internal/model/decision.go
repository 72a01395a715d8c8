package model

import (
	"fmt"
	"time"
)

// Action is how an adjudicated candidate is committed.
type Action string

const (
	ActionSkip           Action = "skip"
	ActionImportNew      Action = "importNew"
	ActionUpdateExisting Action = "updateExisting"
	ActionForceAdd       Action = "forceAdd"
)

// ParseAction accepts the canonical names plus the CLI spellings
// (import-new, update-existing, force-add).
func ParseAction(s string) (Action, error) {
	switch s {
	case "skip":
		return ActionSkip, nil
	case "importNew", "import-new", "new":
		return ActionImportNew, nil
	case "updateExisting", "update-existing", "update":
		return ActionUpdateExisting, nil
	case "forceAdd", "force-add", "force":
		return ActionForceAdd, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Decision resolves one candidate.
type Decision struct {
	Action           Action
	TargetExistingID string // only for ActionUpdateExisting
}

// ImportMeta is persisted with every created or updated record for audit.
type ImportMeta struct {
	SessionID         string
	SourceFingerprint string
	SourceLabel       string
	ImportedAt        time.Time
}

// CommitItem is one unit of work handed to a committer.
type CommitItem struct {
	Index     int
	Candidate Candidate
	Decision  Decision
	Meta      ImportMeta
}

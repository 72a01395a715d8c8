package commands_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/stmtimport/internal/auditlog"
	"github.com/cleared-dev/stmtimport/internal/ledger"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join("..", "..", "testdata", name))
	require.NoError(t, err)
	return p
}

func TestImport_DebitCreditStatement(t *testing.T) {
	dir := initLedger(t)

	out, err := runStmtimport(t, "import", fixture(t, "hdfc_savings.csv"), "--repo", dir, "--account", "savings")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Mapping (suggested)")
	assert.Contains(t, out, "rejected: 1")
	assert.Contains(t, out, "both debit and credit")
	assert.Contains(t, out, "Committed 5, skipped 0, failed 0")

	recs, err := ledger.NewStore(dir, zerolog.Nop()).ReadMonth("savings", 2024, 4)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "2024-04-001", recs[0].ID)
	assert.Equal(t, "NEFT-John Smith", recs[0].Description)
	assert.Equal(t, "-5000.00", recs[0].Amount.StringFixed(2))
	assert.Equal(t, "N0912345", recs[0].Reference)
	assert.Equal(t, "hdfc_savings.csv", recs[0].SourceLabel)
	assert.NotEmpty(t, recs[0].SessionID)

	entries, err := auditlog.Read(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	mappings, err := filepath.Glob(filepath.Join(dir, "mappings", "*.yaml"))
	require.NoError(t, err)
	assert.Len(t, mappings, 1, "confirmed mapping should be remembered")

	log := exec.Command("git", "log", "--format=%s", "-1")
	log.Dir = dir
	gitOut, err := log.Output()
	require.NoError(t, err)
	assert.Contains(t, string(gitOut), "import: hdfc_savings.csv into savings")
}

func TestImport_ReimportNeedsDecisions(t *testing.T) {
	dir := initLedger(t)
	src := fixture(t, "hdfc_savings.csv")

	out, err := runStmtimport(t, "import", src, "--repo", dir, "--account", "savings")
	require.NoError(t, err, out)

	// Rows with a reference are exact matches and skipped by default; the
	// rest are strong matches that need a decision.
	out, err = runStmtimport(t, "import", src, "--repo", dir, "--account", "savings")
	require.Error(t, err)
	assert.Contains(t, out, "already imported")
	assert.Contains(t, out, "Mapping (saved)")
	assert.Contains(t, out, "need a decision")

	out, err = runStmtimport(t, "import", src, "--repo", dir, "--account", "savings", "--on-strong", "skip")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Committed 0, skipped 5, failed 0")

	recs, err := ledger.NewStore(dir, zerolog.Nop()).ReadMonth("savings", 2024, 4)
	require.NoError(t, err)
	assert.Len(t, recs, 5, "nothing should be added twice")
}

func TestImport_DecideUpdatesExisting(t *testing.T) {
	dir := initLedger(t)
	src := fixture(t, "hdfc_savings.csv")

	out, err := runStmtimport(t, "import", src, "--repo", dir, "--account", "savings")
	require.NoError(t, err, out)

	// Candidate 1 is the salary row, a strong match of 2024-04-002.
	out, err = runStmtimport(t, "import", src, "--repo", dir, "--account", "savings",
		"--on-strong", "skip", "--decide", "1=update-existing:2024-04-002")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Committed 1, skipped 4, failed 0")

	rec, err := ledger.NewStore(dir, zerolog.Nop()).Get("savings", "2024-04-002")
	require.NoError(t, err)
	assert.Equal(t, "SALARY APRIL", rec.Description)
}

func TestImport_DecideRejectsUnknownTarget(t *testing.T) {
	dir := initLedger(t)
	src := fixture(t, "hdfc_savings.csv")

	out, err := runStmtimport(t, "import", src, "--repo", dir, "--account", "savings")
	require.NoError(t, err, out)

	out, err = runStmtimport(t, "import", src, "--repo", dir, "--account", "savings",
		"--on-strong", "skip", "--decide", "1=update-existing:2024-04-999")
	require.Error(t, err)
	assert.Contains(t, out, "--decide")
}

func TestImport_DryRunWritesNothing(t *testing.T) {
	dir := initLedger(t)

	out, err := runStmtimport(t, "import", fixture(t, "hdfc_savings.csv"), "--repo", dir, "--account", "savings", "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Dry run")

	_, err = os.Stat(filepath.Join(dir, "ledger", "savings"))
	assert.True(t, os.IsNotExist(err), "dry run must not create ledger files")
	_, err = os.Stat(filepath.Join(dir, "logs", "import-log.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestImport_ChasePreset(t *testing.T) {
	dir := initLedger(t)

	out, err := runStmtimport(t, "import", fixture(t, "chase_checking.csv"), "--repo", dir, "--account", "checking")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Mapping (preset chase)")
	assert.Contains(t, out, "Committed 5, skipped 0, failed 0")

	out, err = runStmtimport(t, "ledger", "list", "--repo", dir, "--account", "checking", "--month", "2025-01")
	require.NoError(t, err, out)
	assert.Contains(t, out, "GITHUB INC")
	assert.Contains(t, out, "-4.00")
	assert.Contains(t, out, "1250.00")
	assert.Contains(t, out, "2025-01-31")
}

func TestImport_MapOverride(t *testing.T) {
	dir := initLedger(t)

	// Map the value date column instead of the transaction date.
	out, err := runStmtimport(t, "import", fixture(t, "hdfc_savings.csv"), "--repo", dir, "--account", "savings",
		"--map", "date=Value Dt", "--map", "reference=", "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "date=3")
	assert.NotContains(t, out, "reference=")
}

func TestImport_Errors(t *testing.T) {
	dir := initLedger(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown account", []string{"import", fixture(t, "hdfc_savings.csv"), "--repo", dir, "--account", "nope"}, "unknown account"},
		{"missing file", []string{"import", filepath.Join(dir, "missing.csv"), "--repo", dir, "--account", "savings"}, "missing.csv"},
		{"unknown format", []string{"import", fixture(t, "hdfc_savings.csv"), "--repo", dir, "--account", "savings", "--format", "ofx"}, "unknown format"},
		{"bad map", []string{"import", fixture(t, "hdfc_savings.csv"), "--repo", dir, "--account", "savings", "--map", "colour=1"}, "unknown field"},
		{"incomplete mapping", []string{"import", fixture(t, "hdfc_savings.csv"), "--repo", dir, "--account", "savings", "--map", "date="}, "missing date"},
		{"bad action", []string{"import", fixture(t, "hdfc_savings.csv"), "--repo", dir, "--account", "savings", "--on-strong", "maybe"}, "unknown action"},
		{"not a ledger", []string{"import", fixture(t, "hdfc_savings.csv"), "--repo", t.TempDir(), "--account", "savings"}, "stmtimport init"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runStmtimport(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestImport_InboxFileMovedToProcessed(t *testing.T) {
	dir := initLedger(t)
	data, err := os.ReadFile(fixture(t, "chase_checking.csv"))
	require.NoError(t, err)
	inboxFile := filepath.Join(dir, "import", "chase_checking.csv")
	require.NoError(t, os.WriteFile(inboxFile, data, 0o644))

	out, err := runStmtimport(t, "scan", "--repo", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "chase_checking.csv")
	assert.Contains(t, out, "csv")

	out, err = runStmtimport(t, "import", inboxFile, "--repo", dir, "--account", "checking")
	require.NoError(t, err, out)

	_, err = os.Stat(inboxFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "import", "processed", "chase_checking.csv"))
	require.NoError(t, err)

	out, err = runStmtimport(t, "scan", "--repo", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "No statement files")
}

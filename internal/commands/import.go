package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/stmtimport/internal/auditlog"
	"github.com/cleared-dev/stmtimport/internal/dedupe"
	"github.com/cleared-dev/stmtimport/internal/gitops"
	"github.com/cleared-dev/stmtimport/internal/importer"
	"github.com/cleared-dev/stmtimport/internal/ledger"
	"github.com/cleared-dev/stmtimport/internal/mapping"
	"github.com/cleared-dev/stmtimport/internal/model"
	"github.com/cleared-dev/stmtimport/internal/session"
)

type importOptions struct {
	repoDir    string
	account    string
	format     string
	maps       []string
	rule       string
	dateFormat string
	onExact    string
	onStrong   string
	onPossible string
	decide     []string
	dryRun     bool
}

func newImportCommand() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a statement file into an account",
		Long: `Import a statement file (CSV, XLSX or text extracted from a PDF).

The transaction table is located automatically and its columns mapped by
header keywords. A mapping confirmed in an earlier import of the same header
shape is reused. Candidates that match transactions already in the ledger are
grouped by tier: exact matches are skipped by default, strong and possible
matches need a decision via --on-strong, --on-possible or --decide.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.repoDir, "repo", ".", "repository directory")
	cmd.Flags().StringVar(&opts.account, "account", "", "bank account id (required)")
	cmd.Flags().StringVar(&opts.format, "format", "", "decoder format (default from file extension)")
	cmd.Flags().StringArrayVar(&opts.maps, "map", nil, "override a column as field=column (index or header name; empty column unmaps)")
	cmd.Flags().StringVar(&opts.rule, "rule", "", "value rule: signedAmount, typeFlag or debitCredit")
	cmd.Flags().StringVar(&opts.dateFormat, "date-format", "", "date pattern such as DD/MM/YYYY (default detect)")
	cmd.Flags().StringVar(&opts.onExact, "on-exact", "", "action for exact matches (default skip)")
	cmd.Flags().StringVar(&opts.onStrong, "on-strong", "", "action for strong matches: skip, import-new, update-existing or force-add")
	cmd.Flags().StringVar(&opts.onPossible, "on-possible", "", "action for possible matches")
	cmd.Flags().StringArrayVar(&opts.decide, "decide", nil, "decide one candidate as index=action[:transaction-id]")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show the review without writing")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runImport(cmd *cobra.Command, path string, opts importOptions) error {
	r, err := openRepo(cmd, opts.repoDir)
	if err != nil {
		return err
	}
	if err := r.checkAccount(opts.account); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	st, closeStore, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	// Decode.
	reg := importer.DefaultRegistry()
	src, err := reg.Open(path, opts.format)
	if err != nil {
		return err
	}
	prev, err := auditlog.PreviouslyImported(r.root, opts.account, src.Fingerprint)
	if err != nil {
		r.log.Warn().Err(err).Msg("reading import log")
	}
	if len(prev) > 0 {
		fmt.Printf("warning: %s was already imported into %s (session %s)\n", src.Name, opts.account, strings.Join(prev, ", "))
	}

	// Locate the table and settle the mapping.
	coord := session.NewCoordinator(st, st, r.cfg.SessionOptions(), r.log)
	s, err := coord.StartSession(ctx, opts.account, src.Grid, src.Name, src.Fingerprint)
	if err != nil {
		return err
	}
	tbl := s.Table()

	m, origin, err := chooseMapping(r.root, reg, s)
	if err != nil {
		coord.Cancel(s)
		return err
	}
	m, err = applyMappingFlags(m, tbl.Header, opts)
	if err != nil {
		coord.Cancel(s)
		return err
	}
	fmt.Printf("Header at row %d: %s\n", tbl.Header.Index, strings.Join(tbl.Header.Cells, " | "))
	fmt.Printf("Mapping (%s): %s\n", origin, m)

	if err := coord.ConfirmMapping(ctx, s, m); err != nil {
		coord.Cancel(s)
		return err
	}

	// Adjudicate.
	if err := applyDecisionFlags(s, opts); err != nil {
		coord.Cancel(s)
		return err
	}
	rs, err := s.ReviewSet()
	if err != nil {
		coord.Cancel(s)
		return err
	}
	if err := printReview(rs); err != nil {
		coord.Cancel(s)
		return err
	}

	if opts.dryRun {
		coord.Cancel(s)
		fmt.Println("Dry run: nothing written")
		return nil
	}
	if undecided := rs.Undecided(); len(undecided) > 0 {
		coord.Cancel(s)
		return fmt.Errorf("candidates %v need a decision: use --on-strong, --on-possible or --decide", undecided)
	}

	// Commit.
	sum, err := coord.Commit(ctx, s)
	if err != nil {
		coord.Cancel(s)
		return err
	}
	return finishImport(context.WithoutCancel(ctx), r, s, sum, m, path)
}

// finishImport records a finished commit: audit log, remembered mapping,
// processed inbox file and git commit.
func finishImport(ctx context.Context, r *repo, s *session.Session, sum session.CommitSummary, m mapping.ColumnMapping, path string) error {
	fmt.Printf("Committed %d, skipped %d, failed %d\n", sum.Committed, sum.Skipped, len(sum.Errors))
	for _, ce := range sum.Errors {
		fmt.Printf("  %v\n", ce)
	}

	if err := auditlog.Append(r.root, auditlog.FromCommit(s, sum, time.Now().UTC())); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write import log: %v\n", err)
	}

	if !sum.Cancelled {
		if err := mapping.SaveConfirmed(r.root, s.Table().Header, m); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remember mapping: %v\n", err)
		}
		if len(sum.Errors) == 0 && importer.InInbox(r.root, path) {
			if err := importer.MarkProcessed(r.root, filepath.Base(path)); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		}
	}

	if r.cfg.Git.AutoCommit && gitops.IsRepo(r.root) {
		author := gitops.Author{Name: r.cfg.Git.AuthorName, Email: r.cfg.Git.AuthorEmail}
		msg := fmt.Sprintf("import: %s into %s (%d new or updated)", s.SourceLabel, s.AccountID, sum.Committed)
		hash, err := gitops.CommitPaths(ctx, r.root, msg, author, ledger.Dir, "logs", "mappings", "import")
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: git commit failed: %v\n", err)
		} else if hash != "" {
			fmt.Printf("Committed to git (%s)\n", hash)
		}
	}

	switch {
	case sum.Cancelled:
		return fmt.Errorf("import cancelled after %d writes: %w", sum.Committed, session.ErrCommitCancelled)
	case len(sum.Errors) > 0:
		return fmt.Errorf("%d candidates failed to commit", len(sum.Errors))
	}
	return nil
}

// chooseMapping prefers a mapping confirmed earlier for the same header
// shape, then an institution preset, then the keyword suggestion.
func chooseMapping(repoRoot string, reg *importer.Registry, s *session.Session) (mapping.ColumnMapping, string, error) {
	header := s.Table().Header
	saved, ok, err := mapping.LoadConfirmed(repoRoot, header)
	if err != nil {
		return mapping.ColumnMapping{}, "", err
	}
	if ok {
		return saved, "saved", nil
	}
	if p, ok := reg.PresetFor(header); ok {
		return p.Mapping.Clone(), "preset " + p.Name, nil
	}
	return s.SuggestedMapping(), "suggested", nil
}

// applyMappingFlags applies --map, --rule and --date-format on top of m.
func applyMappingFlags(m mapping.ColumnMapping, header model.RawRow, opts importOptions) (mapping.ColumnMapping, error) {
	for _, spec := range opts.maps {
		name, col, ok := strings.Cut(spec, "=")
		if !ok {
			return m, fmt.Errorf("invalid --map %q: want field=column", spec)
		}
		f, err := mapping.ParseField(name)
		if err != nil {
			return m, fmt.Errorf("invalid --map %q: %w", spec, err)
		}
		idx, err := columnIndex(header, col)
		if err != nil {
			return m, fmt.Errorf("invalid --map %q: %w", spec, err)
		}
		m = m.With(f, idx)
	}
	if opts.rule != "" {
		m = m.Clone()
		m.Rule = mapping.RuleKind(opts.rule)
		if _, err := m.ValueRule(); err != nil {
			return m, fmt.Errorf("invalid --rule %q: %w", opts.rule, err)
		}
	}
	if opts.dateFormat != "" {
		m = m.Clone()
		m.DateFormat = opts.dateFormat
	}
	return m, nil
}

// columnIndex resolves a column given as an index or a header cell. An
// empty column returns -1.
func columnIndex(header model.RawRow, col string) (int, error) {
	col = strings.TrimSpace(col)
	if col == "" {
		return -1, nil
	}
	if n, err := strconv.Atoi(col); err == nil {
		if n < 0 || n >= len(header.Cells) {
			return 0, fmt.Errorf("column %d out of range (header has %d)", n, len(header.Cells))
		}
		return n, nil
	}
	for i, c := range header.Cells {
		if strings.EqualFold(strings.TrimSpace(c), col) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no header column %q", col)
}

// applyDecisionFlags applies the per-tier bulk actions, then per-candidate
// --decide overrides.
func applyDecisionFlags(s *session.Session, opts importOptions) error {
	tiers := []struct {
		tier   dedupe.Tier
		action string
	}{
		{dedupe.TierExact, opts.onExact},
		{dedupe.TierStrong, opts.onStrong},
		{dedupe.TierPossible, opts.onPossible},
	}
	for _, t := range tiers {
		if t.action == "" {
			continue
		}
		a, err := model.ParseAction(t.action)
		if err != nil {
			return fmt.Errorf("--on-%s: %w", t.tier, err)
		}
		if _, err := s.SetBulkDecision(session.HasTier(t.tier), model.Decision{Action: a}); err != nil {
			return err
		}
	}

	for _, spec := range opts.decide {
		idx, d, err := parseDecide(spec)
		if err != nil {
			return err
		}
		if err := s.SetDecision(idx, d); err != nil {
			return fmt.Errorf("--decide %q: %w", spec, err)
		}
	}
	return nil
}

func parseDecide(spec string) (int, model.Decision, error) {
	idxStr, rest, ok := strings.Cut(spec, "=")
	if !ok {
		return 0, model.Decision{}, fmt.Errorf("invalid --decide %q: want index=action[:transaction-id]", spec)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
	if err != nil {
		return 0, model.Decision{}, fmt.Errorf("invalid --decide %q: bad index", spec)
	}
	actStr, target, _ := strings.Cut(rest, ":")
	a, err := model.ParseAction(strings.TrimSpace(actStr))
	if err != nil {
		return 0, model.Decision{}, fmt.Errorf("invalid --decide %q: %w", spec, err)
	}
	return idx, model.Decision{Action: a, TargetExistingID: strings.TrimSpace(target)}, nil
}

func printReview(rs session.ReviewSet) error {
	fmt.Printf("Rows: %d, candidates: %d, rejected: %d, skipped: %d", rs.DataRows, len(rs.Items), rs.Rejected, rs.Skipped)
	if rs.DateFormat != "" {
		fmt.Printf(", dates: %s", rs.DateFormat)
	}
	fmt.Println()
	for _, w := range rs.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, v := range rs.Reasons {
		fmt.Printf("rejected %v\n", v)
	}
	if len(rs.Items) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tDATE\tAMOUNT\tDESCRIPTION\tMATCH\tDECISION")
	for _, it := range rs.Items {
		match := "-"
		if len(it.Matches) > 0 {
			best := it.Matches[0]
			match = fmt.Sprintf("%s %s (%.0f)", best.Tier, best.ExistingID, best.Score)
		}
		if it.CheckError != nil {
			match = "check failed"
		}
		decision := "?"
		if it.Decided {
			decision = string(it.Decision.Action)
			if it.Decision.TargetExistingID != "" {
				decision += " " + it.Decision.TargetExistingID
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			it.Index, it.Candidate.Date.Format("2006-01-02"), it.Candidate.Amount.StringFixed(2),
			it.Candidate.Description, match, decision)
	}
	return w.Flush()
}

package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/stmtimport/internal/config"
	"github.com/cleared-dev/stmtimport/internal/ledger"
	"github.com/cleared-dev/stmtimport/internal/logger"
	"github.com/cleared-dev/stmtimport/internal/pgstore"
	"github.com/cleared-dev/stmtimport/internal/session"
)

// repo is an opened ledger repository.
type repo struct {
	root string
	cfg  *config.Config
	log  zerolog.Logger
}

// store is what the import pipeline needs from a backend.
type store interface {
	session.Lookup
	session.Committer
}

// openRepo loads the config and .env of the ledger repo at dir and builds
// the logger.
func openRepo(cmd *cobra.Command, dir string) (*repo, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	cfg, err := config.Load(filepath.Join(root, config.FileName))
	if err != nil {
		return nil, fmt.Errorf("loading config (run `stmtimport init` first?): %w", err)
	}
	if err := config.LoadEnv(root); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.FileName, err)
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: logger.Format(cfg.Log.Format)})
	if err != nil {
		return nil, err
	}
	return &repo{root: root, cfg: cfg, log: log}, nil
}

// openStore returns the configured transaction store and a func releasing it.
func (r *repo) openStore(ctx context.Context) (store, func(), error) {
	switch r.cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := pgstore.Open(ctx, r.cfg.Store.DatabaseURL, r.log)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return ledger.NewStore(r.root, r.log), func() {}, nil
	}
}

// checkAccount rejects accounts missing from bank_accounts, when any are
// configured.
func (r *repo) checkAccount(id string) error {
	if id == "" {
		return fmt.Errorf("--account is required")
	}
	if len(r.cfg.BankAccounts) == 0 {
		return nil
	}
	if _, ok := r.cfg.Account(id); !ok {
		return fmt.Errorf("unknown account %q (not in %s)", id, config.FileName)
	}
	return nil
}

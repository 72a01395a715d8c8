package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/stmtimport/internal/config"
	"github.com/cleared-dev/stmtimport/internal/gitops"
	"github.com/cleared-dev/stmtimport/internal/ledger"
)

func newInitCommand() *cobra.Command {
	var name string
	var currency string
	var accounts []string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new ledger repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.Context(), absDir, name, currency, accounts)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "ledger name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&currency, "currency", "", "ledger currency (default from config)")
	cmd.Flags().StringArrayVar(&accounts, "account", nil, "bank account as id or id=Display Name (repeatable)")

	return cmd
}

func runInit(ctx context.Context, dir, name, currency string, accounts []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Create directory structure.
	dirs := []string{
		ledger.Dir,
		"logs",
		"mappings",
		"import",
		filepath.Join("import", "processed"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write stmtimport.yaml.
	cfg := config.Default(name)
	if currency != "" {
		cfg.Ledger.Currency = strings.ToUpper(currency)
	}
	for _, a := range accounts {
		id, display, _ := strings.Cut(a, "=")
		cfg.BankAccounts = append(cfg.BankAccounts, config.BankAccount{
			ID:   strings.TrimSpace(id),
			Name: strings.TrimSpace(display),
			Type: "bank",
		})
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(filepath.Join(dir, config.FileName), cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Write .gitignore. Credentials stay out of history.
	gitignore := ".env\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	// Keep the empty directories in git.
	for _, d := range []string{"import", ledger.Dir, "mappings"} {
		if err := os.WriteFile(filepath.Join(dir, d, ".gitkeep"), []byte{}, 0o644); err != nil {
			return fmt.Errorf("writing %s/.gitkeep: %w", d, err)
		}
	}

	// Initialize git and create initial commit.
	if err := gitops.Init(ctx, dir); err != nil {
		return fmt.Errorf("git init: %w", err)
	}

	author := gitops.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}
	hash, err := gitops.CommitPaths(ctx, dir, "init: Initialize "+name, author)
	if err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}

	fmt.Printf("Initialized ledger at %s (%s)\n", dir, hash)
	return nil
}

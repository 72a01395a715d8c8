package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/stmtimport/internal/dedupe"
	"github.com/cleared-dev/stmtimport/internal/normalize"
	"github.com/cleared-dev/stmtimport/internal/session"
	"github.com/cleared-dev/stmtimport/internal/table"
)

// FileName is the config file at the ledger repo root.
const FileName = "stmtimport.yaml"

// Environment overrides.
const (
	EnvDatabaseURL = "STMTIMPORT_DATABASE_URL"
	EnvLogLevel    = "STMTIMPORT_LOG_LEVEL"
	EnvStoreDriver = "STMTIMPORT_STORE"
)

// Store drivers.
const (
	DriverCSV      = "csv"
	DriverPostgres = "postgres"
)

// Config represents the top-level stmtimport.yaml configuration.
type Config struct {
	Ledger       LedgerConfig  `yaml:"ledger"`
	BankAccounts []BankAccount `yaml:"bank_accounts,omitempty"`
	Import       ImportConfig  `yaml:"import"`
	Dedupe       DedupeConfig  `yaml:"dedupe"`
	Commit       CommitConfig  `yaml:"commit"`
	Store        StoreConfig   `yaml:"store"`
	Git          GitConfig     `yaml:"git"`
	Log          LogConfig     `yaml:"log"`
}

// LedgerConfig identifies the ledger.
type LedgerConfig struct {
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
}

// BankAccount is an account statements can be imported into.
type BankAccount struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	LastFour string `yaml:"last_four,omitempty"`
}

// ImportConfig tunes table location and row normalization.
type ImportConfig struct {
	DateFormats     []string `yaml:"date_formats"`
	TabularScanRows int      `yaml:"tabular_scan_rows"`
	TextScanRows    int      `yaml:"text_scan_rows"`
	FallbackRows    int      `yaml:"fallback_rows"`
	MaxReasons      int      `yaml:"max_reasons"`
	Encoding        string   `yaml:"encoding,omitempty"` // "" detects UTF-8 vs Windows-1252
}

// DedupeConfig holds the duplicate-detection tiers.
type DedupeConfig struct {
	StrongSimilarity     float64         `yaml:"strong_similarity"`
	PossibleSimilarity   float64         `yaml:"possible_similarity"`
	ExactAmountTolerance decimal.Decimal `yaml:"exact_amount_tolerance"`
	PossibleAmountPct    decimal.Decimal `yaml:"possible_amount_pct"`
	DateWindowDays       int             `yaml:"date_window_days"`
	PerDayPenalty        float64         `yaml:"per_day_penalty"`
	Workers              int             `yaml:"workers"`
}

// CommitConfig controls the write phase.
type CommitConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// StoreConfig selects where transactions live.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// GitConfig controls git integration.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a stmtimport.yaml file from disk. Sections left out of the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new ledger.
func Default(ledgerName string) *Config {
	th := dedupe.DefaultThresholds()
	return &Config{
		Ledger: LedgerConfig{
			Name:     ledgerName,
			Currency: "USD",
		},
		Import: ImportConfig{
			DateFormats:     append([]string(nil), normalize.DefaultDateFormats...),
			TabularScanRows: table.DefaultTabularBound,
			TextScanRows:    table.DefaultTextBound,
			FallbackRows:    table.DefaultFallbackRows,
			MaxReasons:      normalize.DefaultMaxReasons,
		},
		Dedupe: DedupeConfig{
			StrongSimilarity:     th.StrongSimilarity,
			PossibleSimilarity:   th.PossibleSimilarity,
			ExactAmountTolerance: th.ExactAmountTolerance,
			PossibleAmountPct:    th.PossibleAmountPct,
			DateWindowDays:       th.DateWindowDays,
			PerDayPenalty:        th.PerDayPenalty,
			Workers:              dedupe.DefaultWorkers,
		},
		Commit: CommitConfig{
			BatchSize: session.DefaultBatchSize,
		},
		Store: StoreConfig{
			Driver: DriverCSV,
		},
		Git: GitConfig{
			AutoCommit:  true,
			AuthorName:  "stmtimport",
			AuthorEmail: "stmtimport@localhost",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadEnv loads dir/.env when present. Variables already set in the
// process environment win.
func LoadEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// ApplyEnv overrides config values from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Store.DatabaseURL = v
		if os.Getenv(EnvStoreDriver) == "" {
			c.Store.Driver = DriverPostgres
		}
	}
	if v := os.Getenv(EnvStoreDriver); v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Account returns the bank account with the given id.
func (c *Config) Account(id string) (BankAccount, bool) {
	for _, a := range c.BankAccounts {
		if a.ID == id {
			return a, true
		}
	}
	return BankAccount{}, false
}

// Validate checks the config for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	d := c.Dedupe
	if d.StrongSimilarity <= 0 || d.StrongSimilarity > 100 {
		errs = append(errs, fmt.Errorf("dedupe.strong_similarity %v not in (0,100]", d.StrongSimilarity))
	}
	if d.PossibleSimilarity <= 0 || d.PossibleSimilarity > d.StrongSimilarity {
		errs = append(errs, fmt.Errorf("dedupe.possible_similarity %v not in (0,strong_similarity]", d.PossibleSimilarity))
	}
	if d.ExactAmountTolerance.IsNegative() || d.PossibleAmountPct.IsNegative() {
		errs = append(errs, errors.New("dedupe amount tolerances must not be negative"))
	}
	if d.DateWindowDays < 0 || d.PerDayPenalty < 0 {
		errs = append(errs, errors.New("dedupe.date_window_days and per_day_penalty must not be negative"))
	}
	if c.Commit.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("commit.batch_size %d must be positive", c.Commit.BatchSize))
	}
	for _, f := range c.Import.DateFormats {
		if _, err := normalize.LayoutFromPattern(f); err != nil {
			errs = append(errs, fmt.Errorf("import.date_formats: %w", err))
		}
	}

	switch c.Store.Driver {
	case DriverCSV:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("store.database_url (or %s) is required for postgres", EnvDatabaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be %s or %s", c.Store.Driver, DriverCSV, DriverPostgres))
	}

	seen := make(map[string]bool)
	for i, a := range c.BankAccounts {
		switch {
		case a.ID == "":
			errs = append(errs, fmt.Errorf("bank_accounts[%d]: id is required", i))
		case strings.ContainsAny(a.ID, `/\ `):
			errs = append(errs, fmt.Errorf("bank_accounts[%d]: id %q must not contain slashes or spaces", i, a.ID))
		case seen[a.ID]:
			errs = append(errs, fmt.Errorf("bank_accounts[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
	}
	return errors.Join(errs...)
}

// Thresholds returns the duplicate-detection tiers.
func (c *Config) Thresholds() dedupe.Thresholds {
	return dedupe.Thresholds{
		StrongSimilarity:     c.Dedupe.StrongSimilarity,
		PossibleSimilarity:   c.Dedupe.PossibleSimilarity,
		ExactAmountTolerance: c.Dedupe.ExactAmountTolerance,
		PossibleAmountPct:    c.Dedupe.PossibleAmountPct,
		DateWindowDays:       c.Dedupe.DateWindowDays,
		PerDayPenalty:        c.Dedupe.PerDayPenalty,
	}
}

// SessionOptions returns the coordinator settings.
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.Locator = table.Locator{
		TabularBound: c.Import.TabularScanRows,
		TextBound:    c.Import.TextScanRows,
		FallbackRows: c.Import.FallbackRows,
	}
	opts.Thresholds = c.Thresholds()
	opts.Workers = c.Dedupe.Workers
	if len(c.Import.DateFormats) > 0 {
		opts.DateFormats = c.Import.DateFormats
	}
	opts.MaxReasons = c.Import.MaxReasons
	opts.BatchSize = c.Commit.BatchSize
	return opts
}

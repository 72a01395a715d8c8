// Package pgstore keeps imported transactions in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/stmtimport/internal/model"
)

// ErrNotFound is returned when an update targets an unknown transaction.
var ErrNotFound = errors.New("transaction not found")

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL,
	date               DATE NOT NULL,
	description        TEXT NOT NULL,
	amount             NUMERIC NOT NULL CHECK (amount <> 0),
	type               TEXT NOT NULL CHECK (type IN ('income', 'expense')),
	reference          TEXT NOT NULL DEFAULT '',
	session_id         TEXT NOT NULL DEFAULT '',
	source_fingerprint TEXT NOT NULL DEFAULT '',
	source_label       TEXT NOT NULL DEFAULT '',
	imported_at        TIMESTAMPTZ,
	notes              TEXT NOT NULL DEFAULT ''
);
ALTER TABLE transactions ALTER COLUMN amount TYPE NUMERIC;
CREATE INDEX IF NOT EXISTS transactions_account_date ON transactions (account_id, date);
CREATE INDEX IF NOT EXISTS transactions_account_ref ON transactions (account_id, lower(reference)) WHERE reference <> '';
`

// querier is the part of *pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store serves duplicate lookups and commits from a transactions table.
type Store struct {
	pool *pgxpool.Pool
	db   querier
	log  zerolog.Logger
}

// Open connects to databaseURL and makes sure the schema exists.
func Open(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database url not set")
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{pool: pool, db: pool, log: log}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug().Str("host", config.ConnConfig.Host).Str("database", config.ConnConfig.Database).Msg("postgres store ready")
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the transactions table if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

const selectExisting = `SELECT id, date, amount::text, description, reference FROM transactions`

// FindCandidateMatches returns the account's transactions dated in [from, to].
func (s *Store) FindCandidateMatches(ctx context.Context, accountID string, from, to time.Time) ([]model.ExistingTransaction, error) {
	rows, err := s.db.Query(ctx,
		selectExisting+` WHERE account_id = $1 AND date BETWEEN $2::date AND $3::date ORDER BY date, id`,
		accountID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	return collectExisting(rows)
}

// FindByReference returns the account's transactions carrying ref,
// compared case-insensitively.
func (s *Store) FindByReference(ctx context.Context, accountID, ref string) ([]model.ExistingTransaction, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		selectExisting+` WHERE account_id = $1 AND reference <> '' AND lower(reference) = lower($2) ORDER BY date, id`,
		accountID, ref)
	if err != nil {
		return nil, fmt.Errorf("querying by reference: %w", err)
	}
	return collectExisting(rows)
}

// Apply writes one adjudicated candidate as a single statement and returns
// the transaction id. Skip decisions write nothing.
func (s *Store) Apply(ctx context.Context, accountID string, item model.CommitItem) (string, error) {
	args := applyArgs(accountID, item)

	switch item.Decision.Action {
	case model.ActionSkip:
		return "", nil
	case model.ActionImportNew, model.ActionForceAdd:
		txnID := uuid.NewString()
		_, err := s.db.Exec(ctx, `
			INSERT INTO transactions (
				id, account_id, date, description, amount, type, reference,
				session_id, source_fingerprint, source_label, imported_at
			) VALUES ($11, $1, $2::date, $3, $4::numeric, $5, $6, $7, $8, $9, $10)`,
			append(args, txnID)...)
		if err != nil {
			return "", fmt.Errorf("inserting transaction: %w", err)
		}
		return txnID, nil
	case model.ActionUpdateExisting:
		txnID := item.Decision.TargetExistingID
		tag, err := s.db.Exec(ctx, `
			UPDATE transactions SET
				date = $2::date, description = $3, amount = $4::numeric, type = $5,
				reference = $6, session_id = $7, source_fingerprint = $8,
				source_label = $9, imported_at = $10
			WHERE id = $11 AND account_id = $1`,
			append(args, txnID)...)
		if err != nil {
			return "", fmt.Errorf("updating transaction %s: %w", txnID, err)
		}
		if tag.RowsAffected() == 0 {
			return "", fmt.Errorf("%s in %s: %w", txnID, accountID, ErrNotFound)
		}
		return txnID, nil
	default:
		return "", fmt.Errorf("unknown action %q", item.Decision.Action)
	}
}

// applyArgs are the $1..$10 parameters of the insert and update statements.
// The amount keeps the candidate's full precision.
func applyArgs(accountID string, item model.CommitItem) []any {
	c := item.Candidate
	return []any{
		accountID,
		dateOnly(c.Date),
		c.Description,
		c.Amount.String(),
		string(c.Type),
		c.ReferenceID,
		item.Meta.SessionID,
		item.Meta.SourceFingerprint,
		item.Meta.SourceLabel,
		nullTime(item.Meta.ImportedAt),
	}
}

func collectExisting(rows pgx.Rows) ([]model.ExistingTransaction, error) {
	defer rows.Close()
	var out []model.ExistingTransaction
	for rows.Next() {
		var (
			e      model.ExistingTransaction
			amount string
		)
		if err := rows.Scan(&e.ID, &e.Date, &amount, &e.Description, &e.ReferenceID); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parsing amount %q of %s: %w", amount, e.ID, err)
		}
		e.Amount = d
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading transactions: %w", err)
	}
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

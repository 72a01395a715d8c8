package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/stmtimport/internal/id"
	"github.com/cleared-dev/stmtimport/internal/model"
)

// ValidationError describes a single invariant violation.
type ValidationError struct {
	Invariant int
	ID        string
	Message   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invariant %d [%s]: %s", e.Invariant, e.ID, e.Message)
}

// ValidateRecords enforces the month file invariants on recs.
func ValidateRecords(recs []Record, year, month int) []ValidationError {
	var errs []ValidationError
	hundred := decimal.NewFromInt(100)
	seen := make(map[string]bool)

	for _, rec := range recs {
		// Invariant 1: non-zero amount whose sign agrees with the type.
		if rec.Amount.IsZero() {
			errs = append(errs, ValidationError{1, rec.ID, "amount is zero"})
		} else if rec.Type != model.TypeFor(rec.Amount) {
			errs = append(errs, ValidationError{1, rec.ID, fmt.Sprintf("type %q does not match amount %s", rec.Type, rec.Amount.StringFixed(2))})
		}

		// Invariant 2: date within the file's month.
		if rec.Date.Year() != year || int(rec.Date.Month()) != month {
			errs = append(errs, ValidationError{2, rec.ID, fmt.Sprintf("date %s not in %04d-%02d", rec.Date.Format(dateFormat), year, month)})
		}

		// Invariant 3: no more than 2 decimal places.
		if !rec.Amount.Mul(hundred).Equal(rec.Amount.Mul(hundred).Floor()) {
			errs = append(errs, ValidationError{3, rec.ID, fmt.Sprintf("amount %s has more than 2 decimal places", rec.Amount)})
		}

		// Invariant 4: well-formed unique ids of this month.
		y, m, _, err := id.ParseTxnID(rec.ID)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{4, rec.ID, fmt.Sprintf("invalid id: %v", err)})
		case y != year || m != month:
			errs = append(errs, ValidationError{4, rec.ID, fmt.Sprintf("id not in %04d-%02d", year, month)})
		case seen[rec.ID]:
			errs = append(errs, ValidationError{4, rec.ID, "duplicate id"})
		}
		seen[rec.ID] = true

		// Invariant 5: a description.
		if strings.TrimSpace(rec.Description) == "" {
			errs = append(errs, ValidationError{5, rec.ID, "empty description"})
		}
	}
	return errs
}

func joinValidation(verrs []ValidationError) error {
	msgs := make([]string, len(verrs))
	for i, ve := range verrs {
		msgs[i] = ve.Error()
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

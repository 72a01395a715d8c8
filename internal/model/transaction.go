package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxnType is the direction of a transaction.
type TxnType string

const (
	TypeIncome  TxnType = "income"
	TypeExpense TxnType = "expense"
)

// TypeFor returns the direction implied by the sign of amount.
func TypeFor(amount decimal.Decimal) TxnType {
	if amount.IsNegative() {
		return TypeExpense
	}
	return TypeIncome
}

// Candidate is a validated transaction built from one statement row.
type Candidate struct {
	SourceRowIndex int
	Date           time.Time
	Description    string
	Amount         decimal.Decimal // negative = expense, positive = income
	Type           TxnType
	ReferenceID    string
	RawFields      []string
}

// ExistingTransaction is a transaction already stored for an account.
type ExistingTransaction struct {
	ID          string
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	ReferenceID string
}

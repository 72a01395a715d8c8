package mapping

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/stmtimport/internal/model"
)

// RuleKind tags how a row's signed amount and direction are derived.
type RuleKind string

const (
	// RuleSignedAmount reads one signed amount column; the sign is the direction.
	RuleSignedAmount RuleKind = "signedAmount"
	// RuleTypeFlag reads an amount column plus a debit/credit flag column.
	RuleTypeFlag RuleKind = "typeFlag"
	// RuleDebitCredit reads separate debit and credit columns: a non-empty
	// debit means expense, a non-empty credit means income.
	RuleDebitCredit RuleKind = "debitCredit"
)

// ValueRule resolves the signed amount and direction of one row. An error
// is a row-level rejection reason, not a failure of the import.
type ValueRule interface {
	Kind() RuleKind
	Resolve(row model.RawRow) (decimal.Decimal, model.TxnType, error)
}

// ErrNoRule is returned when no value rule fits the mapped columns.
var ErrNoRule = errors.New("no value rule fits the mapped columns")

// ValueRule builds the rule the mapping is tagged with.
func (m ColumnMapping) ValueRule() (ValueRule, error) {
	kind := m.Rule
	if kind == "" || !m.ruleSatisfied() {
		kind = m.deriveRule()
	}
	switch kind {
	case RuleSignedAmount:
		return SignedAmountRule{Col: m.Columns[FieldAmount]}, nil
	case RuleTypeFlag:
		return TypeFlagRule{AmountCol: m.Columns[FieldAmount], TypeCol: m.Columns[FieldType]}, nil
	case RuleDebitCredit:
		return DebitCreditRule{DebitCol: m.Columns[FieldDebit], CreditCol: m.Columns[FieldCredit]}, nil
	default:
		return nil, ErrNoRule
	}
}

// SignedAmountRule reads a single signed column.
type SignedAmountRule struct {
	Col int
}

func (r SignedAmountRule) Kind() RuleKind { return RuleSignedAmount }

func (r SignedAmountRule) Resolve(row model.RawRow) (decimal.Decimal, model.TxnType, error) {
	amt, empty, err := ParseAmount(row.Cell(r.Col))
	switch {
	case err != nil:
		return decimal.Zero, "", err
	case empty:
		return decimal.Zero, "", errors.New("amount is empty")
	case amt.IsZero():
		return decimal.Zero, "", errors.New("amount is zero")
	}
	return amt, model.TypeFor(amt), nil
}

// TypeFlagRule reads an unsigned (or signed) amount and a flag column such
// as "DR"/"CR". An unrecognised flag falls back to the amount's sign.
type TypeFlagRule struct {
	AmountCol int
	TypeCol   int
}

var (
	debitFlags  = []string{"dr", "d", "debit", "withdrawal", "expense", "out"}
	creditFlags = []string{"cr", "c", "credit", "deposit", "income", "in"}
)

func (r TypeFlagRule) Kind() RuleKind { return RuleTypeFlag }

func (r TypeFlagRule) Resolve(row model.RawRow) (decimal.Decimal, model.TxnType, error) {
	amt, typ, err := SignedAmountRule{Col: r.AmountCol}.Resolve(row)
	if err != nil {
		return amt, typ, err
	}
	flag := strings.ToLower(strings.Trim(row.Cell(r.TypeCol), ". "))
	switch {
	case slices.Contains(debitFlags, flag):
		return amt.Abs().Neg(), model.TypeExpense, nil
	case slices.Contains(creditFlags, flag):
		return amt.Abs(), model.TypeIncome, nil
	default:
		return amt, typ, nil
	}
}

// DebitCreditRule reads the dual-column shape. Exactly one side must hold
// a non-zero value.
type DebitCreditRule struct {
	DebitCol  int
	CreditCol int
}

func (r DebitCreditRule) Kind() RuleKind { return RuleDebitCredit }

func (r DebitCreditRule) Resolve(row model.RawRow) (decimal.Decimal, model.TxnType, error) {
	debit, debitEmpty, err := ParseAmount(row.Cell(r.DebitCol))
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("debit: %w", err)
	}
	credit, creditEmpty, err := ParseAmount(row.Cell(r.CreditCol))
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("credit: %w", err)
	}

	hasDebit := !debitEmpty && !debit.IsZero()
	hasCredit := !creditEmpty && !credit.IsZero()
	switch {
	case hasDebit && hasCredit:
		return decimal.Zero, "", errors.New("both debit and credit are set")
	case hasDebit:
		return debit.Abs().Neg(), model.TypeExpense, nil
	case hasCredit:
		return credit.Abs(), model.TypeIncome, nil
	default:
		return decimal.Zero, "", errors.New("neither debit nor credit is set")
	}
}

// currencyTokens are stripped from either end of an amount cell. Longer
// tokens come first so "r$" wins over "$" and "rs." over "rs".
var currencyTokens = []string{"us$", "r$", "rs.", "rs", "inr", "usd", "eur", "gbp", "brl", "₹", "$", "€", "£", "¥"}

// ParseAmount reads a statement amount. It tolerates known currency
// symbols and codes, thousands separators, a decimal comma, parentheses for
// negatives, and a trailing Dr/Cr marker. Any other letter, or a space
// between digit groups, makes the cell non-numeric. empty is true for a
// blank or dash-only cell.
func ParseAmount(s string) (amt decimal.Decimal, empty bool, err error) {
	raw := strings.TrimSpace(s)
	if raw == "" || raw == "-" || raw == "--" {
		return decimal.Zero, true, nil
	}
	notNumeric := fmt.Errorf("amount %q is not numeric", raw)

	neg := false
	body := strings.ToLower(raw)
	for _, m := range []struct {
		suffix string
		neg    bool
	}{{"dr.", true}, {"dr", true}, {"cr.", false}, {"cr", false}} {
		if strings.HasSuffix(body, m.suffix) {
			body = strings.TrimSuffix(body, m.suffix)
			neg = m.neg
			break
		}
	}
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "(") && strings.HasSuffix(body, ")") {
		neg = true
		body = body[1 : len(body)-1]
	}
	if strings.HasSuffix(body, "-") {
		neg = true
		body = strings.TrimSuffix(body, "-")
	}

	// Peel currency tokens and a leading sign in any order: "-$5", "$-5", "Rs. -5".
	for {
		body = strings.TrimSpace(body)
		switch {
		case strings.HasPrefix(body, "-"):
			neg = !neg
			body = body[1:]
			continue
		case strings.HasPrefix(body, "+"):
			body = body[1:]
			continue
		}
		tok, ok := currencyToken(body)
		if !ok {
			break
		}
		if strings.HasPrefix(body, tok) {
			body = body[len(tok):]
		} else {
			body = body[:len(body)-len(tok)]
		}
	}

	var b strings.Builder
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '\'':
		default:
			return decimal.Zero, false, notNumeric
		}
	}

	digits := normalizeSeparators(b.String())
	if digits == "" || strings.Trim(digits, ".") == "" {
		return decimal.Zero, false, notNumeric
	}
	amt, err = decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, false, notNumeric
	}
	if neg {
		amt = amt.Neg()
	}
	return amt, false, nil
}

// currencyToken returns the currency token at either end of s.
func currencyToken(s string) (string, bool) {
	for _, tok := range currencyTokens {
		if strings.HasPrefix(s, tok) || strings.HasSuffix(s, tok) {
			return tok, true
		}
	}
	return "", false
}

// normalizeSeparators rewrites 1.234,56 / 1,234.56 / 12,50 to 1234.56 form.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	default:
		return s
	}
}

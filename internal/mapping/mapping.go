// Package mapping maps statement header cells onto canonical transaction
// fields and decides how a row's amount and direction are read.
package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cleared-dev/stmtimport/internal/model"
)

// Field is a canonical transaction attribute.
type Field string

const (
	FieldDate        Field = "date"
	FieldDescription Field = "description"
	FieldDebit       Field = "debit"
	FieldCredit      Field = "credit"
	FieldAmount      Field = "amount"
	FieldReference   Field = "reference"
	FieldType        Field = "type"
)

// Priority breaks ties between fields whose keywords match equally long.
var Priority = []Field{
	FieldDate,
	FieldDescription,
	FieldDebit,
	FieldCredit,
	FieldAmount,
	FieldReference,
	FieldType,
}

// Keywords lists the header substrings recognised for each field.
var Keywords = map[Field][]string{
	FieldDate:        {"date", "txn date", "value date", "posting date", "transaction date", "booking date"},
	FieldDescription: {"description", "narration", "particulars", "details", "memo", "remarks", "payee"},
	FieldDebit:       {"debit", "withdrawal", "paid out", "money out", "debit amount", "withdrawal amt", "withdrawal amount"},
	FieldCredit:      {"credit", "deposit", "paid in", "money in", "credit amount", "deposit amt", "deposit amount"},
	FieldAmount:      {"amount", "amt", "transaction amount"},
	FieldReference:   {"reference", "ref no", "ref", "chq", "cheque", "transaction id", "utr"},
	FieldType:        {"type", "dr/cr", "cr/dr", "debit/credit", "transaction type", "txn type"},
}

// ColumnMapping maps canonical fields to source column indices. A field
// absent from Columns is unmapped.
type ColumnMapping struct {
	Columns    map[Field]int `yaml:"columns"`
	Rule       RuleKind      `yaml:"rule,omitempty"`
	DateFormat string        `yaml:"date_format,omitempty"` // e.g. "DD/MM/YYYY"; "" = detect
}

// Suggest proposes a mapping for a header row. Each cell is assigned the
// field with the longest matching keyword; a field keeps the first column
// that claims it.
func Suggest(header model.RawRow) ColumnMapping {
	m := ColumnMapping{Columns: make(map[Field]int)}
	for col, c := range header.Cells {
		cell := strings.ToLower(strings.TrimSpace(c))
		if cell == "" {
			continue
		}
		f, ok := bestField(cell)
		if !ok {
			continue
		}
		if _, taken := m.Columns[f]; taken {
			continue
		}
		m.Columns[f] = col
	}
	m.Rule = m.deriveRule()
	return m
}

func bestField(cell string) (Field, bool) {
	var best Field
	bestLen := 0
	for _, f := range Priority {
		for _, kw := range Keywords[f] {
			if len(kw) > bestLen && strings.Contains(cell, kw) {
				best, bestLen = f, len(kw)
			}
		}
	}
	return best, bestLen > 0
}

// Index returns the column mapped to f.
func (m ColumnMapping) Index(f Field) (int, bool) {
	col, ok := m.Columns[f]
	return col, ok && col >= 0
}

// With returns a copy of m with f mapped to col; a negative col unmaps f.
// The value rule is re-derived unless it is still satisfiable.
func (m ColumnMapping) With(f Field, col int) ColumnMapping {
	out := m.Clone()
	if col < 0 {
		delete(out.Columns, f)
	} else {
		out.Columns[f] = col
	}
	if !out.ruleSatisfied() {
		out.Rule = out.deriveRule()
	}
	return out
}

// Clone returns a deep copy.
func (m ColumnMapping) Clone() ColumnMapping {
	out := ColumnMapping{Columns: make(map[Field]int, len(m.Columns)), Rule: m.Rule, DateFormat: m.DateFormat}
	for f, c := range m.Columns {
		out.Columns[f] = c
	}
	return out
}

// Fields returns the mapped fields in priority order.
func (m ColumnMapping) Fields() []Field {
	var out []Field
	for _, f := range Priority {
		if _, ok := m.Index(f); ok {
			out = append(out, f)
		}
	}
	return out
}

// String renders the mapping as "date=0 description=1 ... rule=...".
func (m ColumnMapping) String() string {
	var parts []string
	for _, f := range m.Fields() {
		parts = append(parts, fmt.Sprintf("%s=%d", f, m.Columns[f]))
	}
	if m.Rule != "" {
		parts = append(parts, "rule="+string(m.Rule))
	}
	return strings.Join(parts, " ")
}

func (m ColumnMapping) deriveRule() RuleKind {
	_, hasAmount := m.Index(FieldAmount)
	_, hasType := m.Index(FieldType)
	_, hasDebit := m.Index(FieldDebit)
	_, hasCredit := m.Index(FieldCredit)
	switch {
	case hasAmount && hasType:
		return RuleTypeFlag
	case hasAmount:
		return RuleSignedAmount
	case hasDebit && hasCredit:
		return RuleDebitCredit
	default:
		return ""
	}
}

func (m ColumnMapping) ruleSatisfied() bool {
	has := func(f Field) bool { _, ok := m.Index(f); return ok }
	switch m.Rule {
	case RuleSignedAmount:
		return has(FieldAmount)
	case RuleTypeFlag:
		return has(FieldAmount) && has(FieldType)
	case RuleDebitCredit:
		return has(FieldDebit) && has(FieldCredit)
	default:
		return false
	}
}

// MappingIncompleteError names the canonical fields a mapping still lacks.
type MappingIncompleteError struct {
	Missing []Field
}

func (e *MappingIncompleteError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
		if f == FieldAmount {
			names[i] = "amount (or debit and credit)"
		}
	}
	return "column mapping incomplete: missing " + strings.Join(names, ", ")
}

// Complete checks that date, description and an amount source are mapped.
func (m ColumnMapping) Complete() error {
	var missing []Field
	has := func(f Field) bool { _, ok := m.Index(f); return ok }

	if !has(FieldDate) {
		missing = append(missing, FieldDate)
	}
	if !has(FieldDescription) {
		missing = append(missing, FieldDescription)
	}
	if !has(FieldAmount) {
		switch {
		case has(FieldDebit) && has(FieldCredit):
		case has(FieldDebit):
			missing = append(missing, FieldCredit)
		case has(FieldCredit):
			missing = append(missing, FieldDebit)
		default:
			missing = append(missing, FieldAmount)
		}
	}
	if m.Rule != "" && !m.ruleSatisfied() && len(missing) == 0 {
		missing = append(missing, m.ruleFields()...)
	}

	if len(missing) > 0 {
		return &MappingIncompleteError{Missing: missing}
	}
	return nil
}

func (m ColumnMapping) ruleFields() []Field {
	var need []Field
	switch m.Rule {
	case RuleTypeFlag:
		need = []Field{FieldAmount, FieldType}
	case RuleDebitCredit:
		need = []Field{FieldDebit, FieldCredit}
	default:
		need = []Field{FieldAmount}
	}
	var missing []Field
	for _, f := range need {
		if _, ok := m.Index(f); !ok {
			missing = append(missing, f)
		}
	}
	sort.SliceStable(missing, func(i, j int) bool { return rank(missing[i]) < rank(missing[j]) })
	return missing
}

func rank(f Field) int {
	for i, p := range Priority {
		if p == f {
			return i
		}
	}
	return len(Priority)
}

// ParseField accepts a canonical field name.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Keywords[f]; !ok {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}

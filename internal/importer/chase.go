package importer

import (
	"slices"
	"strings"

	"github.com/cleared-dev/stmtimport/internal/mapping"
	"github.com/cleared-dev/stmtimport/internal/model"
)

// Preset pins the column mapping for an institution whose header keywords
// would mislead the suggestion.
type Preset struct {
	Name    string
	Header  []string // normalised header cells
	Mapping mapping.ColumnMapping
}

// Matches reports whether header is the preset's header.
func (p Preset) Matches(header model.RawRow) bool {
	cells := make([]string, 0, len(header.Cells))
	for _, c := range header.Cells {
		cells = append(cells, strings.ToLower(strings.TrimSpace(c)))
	}
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return slices.Equal(cells, p.Header)
}

// AddPreset registers a preset.
func (r *Registry) AddPreset(p Preset) {
	r.presets = append(r.presets, p)
}

// PresetFor returns the first preset matching header.
func (r *Registry) PresetFor(header model.RawRow) (Preset, bool) {
	for _, p := range r.presets {
		if p.Matches(header) {
			return p, true
		}
	}
	return Preset{}, false
}

// ChasePreset maps Chase checking exports. Their first column "Details"
// holds DEBIT/CREDIT, not a description, and dates are month-first.
func ChasePreset() Preset {
	const (
		chaseColDetails = 0
		chaseColDate    = 1
		chaseColDesc    = 2
		chaseColAmount  = 3
	)
	return Preset{
		Name:   "chase",
		Header: []string{"details", "posting date", "description", "amount", "type", "balance", "check or slip #"},
		Mapping: mapping.ColumnMapping{
			Columns: map[mapping.Field]int{
				mapping.FieldDate:        chaseColDate,
				mapping.FieldDescription: chaseColDesc,
				mapping.FieldAmount:      chaseColAmount,
				mapping.FieldType:        chaseColDetails,
			},
			Rule:       mapping.RuleTypeFlag,
			DateFormat: "MM/DD/YYYY",
		},
	}
}

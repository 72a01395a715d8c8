package normalize

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDateFormats are tried in priority order.
var DefaultDateFormats = []string{"DD/MM/YYYY", "MM/DD/YYYY", "YYYY-MM-DD"}

var patternTokens = []struct{ token, layout string }{
	{"YYYY", "2006"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"YY", "06"},
	{"MM", "1"},
	{"DD", "2"},
}

// LayoutFromPattern converts a DD/MM/YYYY style pattern into a Go time
// layout. Day and month accept one or two digits.
func LayoutFromPattern(p string) (string, error) {
	var b strings.Builder
	rest := strings.ToUpper(strings.TrimSpace(p))
	if rest == "" {
		return "", fmt.Errorf("empty date format")
	}
	seen := false
	for rest != "" {
		matched := false
		for _, t := range patternTokens {
			if strings.HasPrefix(rest, t.token) {
				b.WriteString(t.layout)
				rest = rest[len(t.token):]
				matched, seen = true, true
				break
			}
		}
		if matched {
			continue
		}
		c := rest[0]
		if c >= 'A' && c <= 'Z' {
			return "", fmt.Errorf("unsupported token in date format %q", p)
		}
		b.WriteByte(c)
		rest = rest[1:]
	}
	if !seen {
		return "", fmt.Errorf("date format %q has no date fields", p)
	}
	return b.String(), nil
}

// dateParser tries a fixed, ordered list of layouts.
type dateParser struct {
	patterns []string
	layouts  []string
}

func newDateParser(patterns []string) (*dateParser, error) {
	if len(patterns) == 0 {
		patterns = DefaultDateFormats
	}
	dp := &dateParser{}
	for _, p := range patterns {
		layout, err := LayoutFromPattern(p)
		if err != nil {
			return nil, err
		}
		dp.patterns = append(dp.patterns, p)
		dp.layouts = append(dp.layouts, layout)
	}
	return dp, nil
}

// parseWith parses cell under layout i. Spreadsheet cells such as
// "2025-01-03 00:00:00" are retried on their first token.
func (dp *dateParser) parseWith(i int, cell string) (time.Time, bool) {
	cell = strings.TrimSpace(cell)
	if t, err := time.Parse(dp.layouts[i], cell); err == nil {
		return t, true
	}
	if first, _, found := strings.Cut(cell, " "); found {
		if t, err := time.Parse(dp.layouts[i], first); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseAny returns the distinct dates cell parses to across all layouts.
func (dp *dateParser) parseAny(cell string) []time.Time {
	var out []time.Time
	for i := range dp.layouts {
		t, ok := dp.parseWith(i, cell)
		if !ok {
			continue
		}
		dup := false
		for _, o := range out {
			if o.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	return out
}

// consistentLayout returns the first layout, in priority order, that parses
// every cell some layout can parse. -1 means the column mixes formats.
func (dp *dateParser) consistentLayout(cells []string) int {
	var parseable []string
	for _, c := range cells {
		if len(dp.parseAny(c)) > 0 {
			parseable = append(parseable, c)
		}
	}
	if len(parseable) == 0 {
		return -1
	}
	for i := range dp.layouts {
		ok := true
		for _, c := range parseable {
			if _, parsed := dp.parseWith(i, c); !parsed {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

package rowgrid

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// CSVOptions overrides detection for delimited sources.
type CSVOptions struct {
	Delimiter rune   // 0 = sniff
	Encoding  string // "", "utf-8", "windows-1252", "iso-8859-1"; "" = detect
}

var candidateDelimiters = []rune{',', ';', '\t', '|'}

const sniffLines = 30

// FromCSV reads a delimited file into a tabular grid. Rows may have a
// varying number of fields since statement preambles rarely line up with
// the transaction table.
func FromCSV(r io.Reader, opts CSVOptions) (Grid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Grid{}, fmt.Errorf("reading delimited source: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	data, err = decodeText(data, opts.Encoding)
	if err != nil {
		return Grid{}, err
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = SniffDelimiter(data)
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var rows [][]string
	var lines []int
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Grid{}, fmt.Errorf("reading delimited source: %w", err)
		}
		line, _ := cr.FieldPos(0)
		rows = append(rows, rec)
		lines = append(lines, line-1)
	}

	g := FromRecords(KindTabular, rows)
	for i := range g.Rows {
		g.Rows[i].Index = lines[i]
	}
	return g, nil
}

// SniffDelimiter picks the delimiter whose per-line count is most
// consistent over the first lines of data.
func SniffDelimiter(data []byte) rune {
	lines := strings.Split(string(data), "\n")
	if len(lines) > sniffLines {
		lines = lines[:sniffLines]
	}

	best := ','
	bestLines, bestCount := 0, 0
	for _, d := range candidateDelimiters {
		freq := make(map[int]int)
		for _, l := range lines {
			if n := strings.Count(l, string(d)); n > 0 {
				freq[n]++
			}
		}
		for count, nlines := range freq {
			if nlines > bestLines || (nlines == bestLines && count > bestCount) {
				best, bestLines, bestCount = d, nlines, count
			}
		}
	}
	return best
}

func decodeText(data []byte, name string) ([]byte, error) {
	var enc encoding.Encoding
	switch strings.ToLower(name) {
	case "", "auto":
		if utf8.Valid(data) {
			return data, nil
		}
		enc = charmap.Windows1252
	case "utf-8", "utf8":
		return data, nil
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	case "iso-8859-1", "latin1":
		enc = charmap.ISO8859_1
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return out, nil
}

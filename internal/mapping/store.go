package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/stmtimport/internal/model"
)

// mappingsDir holds confirmed mappings keyed by header fingerprint.
const mappingsDir = "mappings"

// HeaderFingerprint identifies a header shape independent of case and
// spacing, so the same institution export maps the same way next time.
func HeaderFingerprint(header model.RawRow) string {
	cells := make([]string, 0, len(header.Cells))
	for _, c := range header.Cells {
		cells = append(cells, strings.Join(strings.Fields(strings.ToLower(c)), " "))
	}
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	sum := sha256.Sum256([]byte(strings.Join(cells, "|")))
	return hex.EncodeToString(sum[:8])
}

// savedMapping is the YAML shape of a remembered mapping.
type savedMapping struct {
	Header  []string      `yaml:"header"`
	Mapping ColumnMapping `yaml:"mapping"`
}

// SaveConfirmed writes m under <repoRoot>/mappings/<fingerprint>.yaml.
func SaveConfirmed(repoRoot string, header model.RawRow, m ColumnMapping) error {
	dir := filepath.Join(repoRoot, mappingsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating mappings dir: %w", err)
	}

	data, err := yaml.Marshal(savedMapping{Header: header.Cells, Mapping: m})
	if err != nil {
		return fmt.Errorf("marshaling mapping: %w", err)
	}
	path := filepath.Join(dir, HeaderFingerprint(header)+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing mapping: %w", err)
	}
	return nil
}

// LoadConfirmed returns the mapping previously saved for header, if any.
func LoadConfirmed(repoRoot string, header model.RawRow) (ColumnMapping, bool, error) {
	path := filepath.Join(repoRoot, mappingsDir, HeaderFingerprint(header)+".yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ColumnMapping{}, false, nil
	}
	if err != nil {
		return ColumnMapping{}, false, fmt.Errorf("reading mapping: %w", err)
	}

	var saved savedMapping
	if err := yaml.Unmarshal(data, &saved); err != nil {
		return ColumnMapping{}, false, fmt.Errorf("parsing mapping %s: %w", path, err)
	}
	if saved.Mapping.Columns == nil {
		saved.Mapping.Columns = make(map[Field]int)
	}
	return saved.Mapping, true, nil
}

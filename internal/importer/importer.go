// Package importer decodes statement files into row grids and manages the
// import inbox of a ledger repo.
package importer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cleared-dev/stmtimport/internal/rowgrid"
)

// Decoder converts one statement file format into a Row Grid.
type Decoder interface {
	Decode(r io.Reader) (rowgrid.Grid, error)
	Format() string
	Extensions() []string
}

// Registry holds decoders by format and file extension, plus mapping
// presets for known institutions.
type Registry struct {
	decoders map[string]Decoder
	byExt    map[string]Decoder
	presets  []Preset
}

// FileInfo describes a statement file in the import directory.
type FileInfo struct {
	Name   string
	Path   string
	Size   int64
	Format string
}

// Source is a decoded statement file.
type Source struct {
	Name        string
	Grid        rowgrid.Grid
	Fingerprint string // sha256 of the file bytes
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder), byExt: make(map[string]Decoder)}
}

// Register adds a decoder. Panics on duplicate format or extension.
func (r *Registry) Register(d Decoder) {
	key := strings.ToLower(d.Format())
	if _, ok := r.decoders[key]; ok {
		panic("duplicate decoder format: " + key)
	}
	r.decoders[key] = d
	for _, ext := range d.Extensions() {
		ext = strings.ToLower(ext)
		if _, ok := r.byExt[ext]; ok {
			panic("duplicate decoder extension: " + ext)
		}
		r.byExt[ext] = d
	}
}

// Get returns the decoder for format, or nil.
func (r *Registry) Get(format string) Decoder {
	return r.decoders[strings.ToLower(format)]
}

// ForFile returns the decoder for a file name by its extension, or nil.
func (r *Registry) ForFile(name string) Decoder {
	return r.byExt[strings.ToLower(filepath.Ext(name))]
}

// Formats returns the registered format names, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.decoders))
	for k := range r.decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns a registry with all built-in decoders and presets.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&CSVDecoder{})
	r.Register(&SpreadsheetDecoder{})
	r.Register(&TextDecoder{})
	r.AddPreset(ChasePreset())
	return r
}

// Open decodes the file at path. format overrides the extension lookup.
func (r *Registry) Open(path, format string) (Source, error) {
	d := r.ForFile(path)
	if format != "" {
		d = r.Get(format)
	}
	if d == nil {
		if format != "" {
			return Source{}, fmt.Errorf("unknown format %q (have %s)", format, strings.Join(r.Formats(), ", "))
		}
		return Source{}, fmt.Errorf("no decoder for %s (have %s)", filepath.Base(path), strings.Join(r.Formats(), ", "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("reading %s: %w", path, err)
	}
	g, err := d.Decode(bytes.NewReader(data))
	if err != nil {
		return Source{}, fmt.Errorf("decoding %s as %s: %w", filepath.Base(path), d.Format(), err)
	}
	sum := sha256.Sum256(data)
	return Source{
		Name:        filepath.Base(path),
		Grid:        g,
		Fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

// importDir is the subdirectory for statement files.
const importDir = "import"

// processedDir is the subdirectory for imported statement files.
const processedDir = "import/processed"

// Scan returns the decodable statement files in <repoRoot>/import/.
func (r *Registry) Scan(repoRoot string) ([]FileInfo, error) {
	dir := filepath.Join(repoRoot, importDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		d := r.ForFile(e.Name())
		if d == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name:   e.Name(),
			Path:   filepath.Join(dir, e.Name()),
			Size:   info.Size(),
			Format: d.Format(),
		})
	}
	return files, nil
}

// MarkProcessed moves a file from import/ to import/processed/.
func MarkProcessed(repoRoot, fileName string) error {
	src := filepath.Join(repoRoot, importDir, fileName)
	dstDir := filepath.Join(repoRoot, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}

// InInbox reports whether path is a file directly inside <repoRoot>/import/.
func InInbox(repoRoot, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	inbox, err := filepath.Abs(filepath.Join(repoRoot, importDir))
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == inbox
}

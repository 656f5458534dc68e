// Package jsonfs is the file-backed store for unit timelines, sources, feeds,
// settings and inquiries under one data root.
package jsonfs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tidwall/jsonc"

	"channel_manager/internal/domain"
)

var codeRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidCode reports whether s is a safe unit or platform code.
func ValidCode(s string) bool { return codeRe.MatchString(s) }

// Store lays files out as
//
//	units/<U>/{local_bookings,occupancy,occupancy_merged,occupancy_public,site_settings}.json
//	units/<U>/external/<platform>_{ics.json,raw.ics}
//	units/site_settings.json
//	integrations/<U>.json
//	inquiries/<YYYY>/<MM>/{pending,confirmed}/<ID>.json
type Store struct {
	root string
}

func New(root string) *Store { return &Store{root: root} }

func (s *Store) Root() string { return s.root }

func (s *Store) UnitsRoot() string { return filepath.Join(s.root, "units") }

func (s *Store) unitDir(unit string) (string, error) {
	if !ValidCode(unit) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidUnit, unit)
	}
	return filepath.Join(s.UnitsRoot(), unit), nil
}

func (s *Store) unitFile(unit, name string) (string, error) {
	dir, err := s.unitDir(unit)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

/********** atomic JSON io **********/

// encodeJSON renders the on-disk form: two-space indent, no HTML escaping,
// trailing newline. Same value in, same bytes out.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(path string, v any) error {
	b, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, b)
}

// writeAtomic writes through a temp file in the target directory and renames
// it into place, so readers never observe a partial file.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o664); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	success = true
	return nil
}

// readFile returns domain.ErrNotFound for a missing file.
func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	}
	return b, err
}

// readRecords decodes a JSON array of objects. Missing or empty files are an
// empty list; non-object elements are skipped; malformed JSON is an error.
func readRecords(path string, lenient bool) ([]domain.RawRecord, error) {
	b, err := readFile(path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	if lenient {
		b = jsonc.ToJSON(b)
	}
	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return objects(items), nil
}

// readObject decodes a JSON object, tolerating comments and trailing commas.
// A missing file is an empty object.
func readObject(path string) (map[string]any, error) {
	b, err := readFile(path)
	if errors.Is(err, domain.ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(b), &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func objects(items []any) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

package jsonfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"channel_manager/internal/domain"
)

const (
	mergedFile    = "occupancy_merged.json"
	publishedFile = "occupancy_public.json"
	externalDir   = "external"
	feedSuffix    = "_ics.json"
	rawSuffix     = "_raw.ics"
)

func (s *Store) UnitExists(_ context.Context, unit string) (bool, error) {
	dir, err := s.unitDir(unit)
	if err != nil {
		return false, nil
	}
	fi, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func (s *Store) ListUnits(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.UnitsRoot())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.IsDir() && ValidCode(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

/********** sources **********/

func (s *Store) sourcePath(unit string, src domain.SourceFile) (string, error) {
	switch src {
	case domain.SourceLocalBookings, domain.SourceReservations:
	default:
		return "", fmt.Errorf("unknown source file %q", src)
	}
	return s.unitFile(unit, string(src)+".json")
}

func (s *Store) ReadSource(_ context.Context, unit string, src domain.SourceFile) ([]domain.RawRecord, error) {
	p, err := s.sourcePath(unit, src)
	if err != nil {
		return nil, err
	}
	// local_bookings is edited by hand in the admin tooling
	return readRecords(p, src == domain.SourceLocalBookings)
}

func (s *Store) WriteSource(_ context.Context, unit string, src domain.SourceFile, rows []domain.RawRecord) error {
	p, err := s.sourcePath(unit, src)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []domain.RawRecord{}
	}
	return writeJSON(p, rows)
}

func (s *Store) SnapshotSource(_ context.Context, unit string, src domain.SourceFile) (domain.SourceSnapshot, error) {
	snap := domain.SourceSnapshot{Unit: unit, Source: src}
	p, err := s.sourcePath(unit, src)
	if err != nil {
		return snap, err
	}
	b, err := readFile(p)
	if errors.Is(err, domain.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	snap.Existed, snap.Data = true, b
	return snap, nil
}

func (s *Store) RestoreSource(_ context.Context, snap domain.SourceSnapshot) error {
	p, err := s.sourcePath(snap.Unit, snap.Source)
	if err != nil {
		return err
	}
	if !snap.Existed {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeAtomic(p, snap.Data)
}

/********** canonical + published **********/

func (s *Store) WriteMerged(_ context.Context, unit string, segs []domain.Segment) error {
	p, err := s.unitFile(unit, mergedFile)
	if err != nil {
		return err
	}
	if segs == nil {
		segs = []domain.Segment{}
	}
	return writeJSON(p, segs)
}

func (s *Store) ReadMerged(_ context.Context, unit string) ([]byte, error) {
	p, err := s.unitFile(unit, mergedFile)
	if err != nil {
		return nil, err
	}
	return readFile(p)
}

func (s *Store) WritePublished(_ context.Context, unit string, segs []domain.Segment) error {
	p, err := s.unitFile(unit, publishedFile)
	if err != nil {
		return err
	}
	if segs == nil {
		segs = []domain.Segment{}
	}
	return writeJSON(p, segs)
}

func (s *Store) ReadPublished(_ context.Context, unit string) ([]domain.RawRecord, error) {
	p, err := s.unitFile(unit, publishedFile)
	if err != nil {
		return nil, err
	}
	return readRecords(p, false)
}

/********** external feeds **********/

func (s *Store) feedPath(unit, platform, suffix string) (string, error) {
	if !ValidCode(platform) {
		return "", fmt.Errorf("invalid platform %q", platform)
	}
	return s.unitFile(unit, filepath.Join(externalDir, platform+suffix))
}

// ReadExternal returns the events of the last fetched feed of one platform.
// Both {events:[...]} and a bare array are accepted.
func (s *Store) ReadExternal(_ context.Context, unit, platform string) ([]domain.RawRecord, error) {
	p, err := s.feedPath(unit, platform, feedSuffix)
	if err != nil {
		return nil, err
	}
	b, err := readFile(p)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
	}
	switch t := doc.(type) {
	case []any:
		return objects(t), nil
	case map[string]any:
		events, _ := t["events"].([]any)
		return objects(events), nil
	}
	return nil, nil
}

func (s *Store) CachedPlatforms(_ context.Context, unit string) ([]string, error) {
	dir, err := s.unitDir(unit)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, externalDir, "*"+feedSuffix))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		p := strings.TrimSuffix(filepath.Base(m), feedSuffix)
		if ValidCode(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SaveFeed stores the raw calendar and its normalized event list.
func (s *Store) SaveFeed(_ context.Context, unit string, raw []byte, feed domain.ExternalFeed) error {
	rawPath, err := s.feedPath(unit, feed.Platform, rawSuffix)
	if err != nil {
		return err
	}
	jsonPath, err := s.feedPath(unit, feed.Platform, feedSuffix)
	if err != nil {
		return err
	}
	if feed.Events == nil {
		feed.Events = []domain.Segment{}
	}
	if err := writeAtomic(rawPath, raw); err != nil {
		return fmt.Errorf("write raw feed: %w", err)
	}
	if err := writeJSON(jsonPath, feed); err != nil {
		return fmt.Errorf("write feed json: %w", err)
	}
	return nil
}

/********** integration config **********/

func (s *Store) integrationPath(unit string) (string, error) {
	if !ValidCode(unit) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidUnit, unit)
	}
	return filepath.Join(s.root, "integrations", unit+".json"), nil
}

func (s *Store) ReadIntegration(_ context.Context, unit string) (domain.IntegrationConfig, error) {
	p, err := s.integrationPath(unit)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}
	raw, err := readObject(p)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}
	return domain.ParseIntegrationConfig(raw), nil
}

// MarkFeedStatus touches connections.<p>.status: last_ok on success, last_err
// and last_err_msg on failure. Other keys of the document are preserved.
func (s *Store) MarkFeedStatus(_ context.Context, unit, platform string, fetchErr error, at time.Time) error {
	p, err := s.integrationPath(unit)
	if err != nil {
		return err
	}
	doc, err := readObject(p)
	if err != nil {
		return err
	}
	conns := childObject(doc, "connections")
	conn := childObject(conns, platform)
	st, _ := conn["status"].(map[string]any)
	if st == nil {
		st = map[string]any{}
	}
	ts := at.UTC().Format(time.RFC3339)
	if fetchErr == nil {
		st["last_ok"] = ts
		delete(st, "last_err")
		delete(st, "last_err_msg")
		delete(st, "last_error")
	} else {
		st["last_err"] = ts
		st["last_err_msg"] = fetchErr.Error()
	}
	conn["status"] = st
	return writeJSON(p, doc)
}

func childObject(m map[string]any, k string) map[string]any {
	c, ok := m[k].(map[string]any)
	if !ok {
		c = map[string]any{}
		m[k] = c
	}
	return c
}

/********** settings **********/

// AutopilotLayers returns the "autopilot" sections of the global and the unit settings.
func (s *Store) AutopilotLayers(_ context.Context, unit string) (map[string]any, map[string]any, error) {
	global, err := readObject(filepath.Join(s.UnitsRoot(), "site_settings.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("global settings: %w", err)
	}
	g, _ := global["autopilot"].(map[string]any)
	if unit == "" || !ValidCode(unit) {
		return g, nil, nil
	}
	unitSt, err := readObject(filepath.Join(s.UnitsRoot(), unit, "site_settings.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("unit settings: %w", err)
	}
	u, _ := unitSt["autopilot"].(map[string]any)
	return g, u, nil
}

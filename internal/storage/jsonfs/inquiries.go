package jsonfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

// inquiry ids start with YYYYMM, which is also their directory bucket
var inquiryIDRe = regexp.MustCompile(`^[0-9]{6}[A-Za-z0-9_-]*$`)

const (
	statePending   = "pending"
	stateConfirmed = "confirmed"
)

func (s *Store) inquiryPath(id, state string) (string, error) {
	if !inquiryIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: inquiry id %q", domain.ErrNotFound, id)
	}
	return filepath.Join(s.root, "inquiries", id[:4], id[4:6], state, id+".json"), nil
}

func (s *Store) GetPending(_ context.Context, id string) (domain.Request, error) {
	p, err := s.inquiryPath(id, statePending)
	if err != nil {
		return domain.Request{}, err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return domain.Request{}, fmt.Errorf("%w: pending inquiry %s", domain.ErrNotFound, id)
	}
	doc, err := readObject(p)
	if err != nil {
		return domain.Request{}, err
	}
	return requestFromDoc(doc), nil
}

// ListPending reads every pending inquiry of one unit. Unreadable files are skipped.
func (s *Store) ListPending(ctx context.Context, unit string) ([]domain.Request, error) {
	files, err := filepath.Glob(filepath.Join(s.root, "inquiries", "*", "*", statePending, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var out []domain.Request
	for _, f := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		doc, err := readObject(f)
		if err != nil {
			log.Warn().Err(err).Str("file", f).Msg("skip unreadable pending inquiry")
			continue
		}
		r := requestFromDoc(doc)
		if r.Unit != unit {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// SavePrecheck stores the decision under autopilot.precheck of the pending inquiry.
func (s *Store) SavePrecheck(_ context.Context, id string, d domain.Decision) error {
	p, err := s.inquiryPath(id, statePending)
	if err != nil {
		return err
	}
	doc, err := readObject(p)
	if err != nil {
		return err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var pre map[string]any
	if err := json.Unmarshal(b, &pre); err != nil {
		return err
	}
	childObject(doc, "autopilot")["precheck"] = pre
	return writeJSON(p, doc)
}

// MarkConfirmed moves a pending inquiry into the confirmed bucket.
func (s *Store) MarkConfirmed(_ context.Context, id string) error {
	src, err := s.inquiryPath(id, statePending)
	if err != nil {
		return err
	}
	dst, err := s.inquiryPath(id, stateConfirmed)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: pending inquiry %s", domain.ErrNotFound, id)
	}
	doc, err := readObject(src)
	if err != nil {
		return err
	}
	doc["status"] = stateConfirmed
	doc["confirmed_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := writeJSON(dst, doc); err != nil {
		return err
	}
	return os.Remove(src)
}

func requestFromDoc(doc map[string]any) domain.Request {
	r := domain.Request{
		ID:     strings.TrimSpace(str(doc["id"])),
		Unit:   strings.TrimSpace(str(doc["unit"])),
		From:   strings.TrimSpace(str(doc["from"])),
		To:     strings.TrimSpace(str(doc["to"])),
		Status: str(doc["status"]),
		Nights: intOf(doc["nights"]),
	}
	if meta, ok := doc["meta"].(map[string]any); ok {
		r.Source = str(meta["source"])
		if r.Source == "" {
			r.Source = str(meta["channel"])
		}
	}
	return r
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func intOf(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	}
	return 0
}

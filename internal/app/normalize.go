package app

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"channel_manager/internal/domain"
)

/********** alias registries (single source of truth) **********/

// segmentAliases lists accepted field names per canonical key, preferred first.
// No other component sees the legacy from/to/type names.
var segmentAliases = map[string][]string{
	"start":  {"start", "from"},
	"end":    {"end", "to"},
	"status": {"status", "type"},
}

var statusAliases = map[string]domain.Status{
	"booking":  domain.StatusReserved,
	"reserved": domain.StatusReserved,
	"block":    domain.StatusBlocked,
	"blocked":  domain.StatusBlocked,
	"busy":     domain.StatusBlocked,
}

const ymd = "2006-01-02"

/********** tiny helpers **********/

// firstAlias returns the first present, non-empty string for a canonical key.
func firstAlias(m domain.RawRecord, key string) string {
	for _, k := range segmentAliases[key] {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// parseDay accepts YYYY-MM-DD or a longer timestamp whose first 10 chars are a date.
func parseDay(s string) (string, bool) {
	if len(s) < len(ymd) {
		return "", false
	}
	d := s[:len(ymd)]
	if _, err := time.Parse(ymd, d); err != nil {
		return "", false
	}
	return d, true
}

// stringID stringifies JSON ids; numbers come back as float64 or json.Number.
func stringID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

func optString(m domain.RawRecord, k string) string {
	s, _ := m[k].(string)
	return strings.TrimSpace(s)
}

/********** segment normalizer **********/

// NormalizeSegment converts a raw record in any accepted shape into a canonical
// Segment. It fails with domain.ErrInvalidSegment when start, end or status
// cannot be resolved, or when the interval is empty.
func NormalizeSegment(raw domain.RawRecord) (domain.Segment, error) {
	if raw == nil {
		return domain.Segment{}, fmt.Errorf("%w: nil record", domain.ErrInvalidSegment)
	}
	start, ok := parseDay(firstAlias(raw, "start"))
	if !ok {
		return domain.Segment{}, fmt.Errorf("%w: start", domain.ErrInvalidSegment)
	}
	end, ok := parseDay(firstAlias(raw, "end"))
	if !ok {
		return domain.Segment{}, fmt.Errorf("%w: end", domain.ErrInvalidSegment)
	}
	if end <= start {
		return domain.Segment{}, fmt.Errorf("%w: end %s not after start %s", domain.ErrInvalidSegment, end, start)
	}
	rawStatus := firstAlias(raw, "status")
	status, ok := statusAliases[strings.ToLower(rawStatus)]
	if !ok {
		return domain.Segment{}, fmt.Errorf("%w: status %q", domain.ErrInvalidSegment, rawStatus)
	}

	seg := domain.Segment{
		Start:  start,
		End:    end,
		Status: status,
		Source: optString(raw, "source"),
		ID:     stringID(raw["id"]),
		Reason: optString(raw, "reason"),
		Note:   optString(raw, "note"),
	}
	switch domain.Lock(strings.ToLower(optString(raw, "lock"))) {
	case domain.LockHard:
		seg.Lock = domain.LockHard
	case domain.LockSoft:
		seg.Lock = domain.LockSoft
	}
	if b, ok := raw["export"].(bool); ok {
		seg.Export = domain.BoolPtr(b)
	}
	if m, ok := raw["meta"].(map[string]any); ok && len(m) > 0 {
		seg.Meta = maps.Clone(m)
	}
	seg.Platform = optString(raw, "platform")
	if seg.Platform == "" {
		seg.Platform = seg.MetaString("platform")
	}
	return seg, nil
}

// ToRecord is the inverse view of a canonical segment, used when segments are
// fed back through NormalizeSegment or written into source files.
func ToRecord(s domain.Segment) domain.RawRecord {
	r := domain.RawRecord{"start": s.Start, "end": s.End, "status": string(s.Status)}
	if s.Lock != "" {
		r["lock"] = string(s.Lock)
	}
	if s.Source != "" {
		r["source"] = s.Source
	}
	if s.ID != "" {
		r["id"] = s.ID
	}
	if s.Platform != "" {
		r["platform"] = s.Platform
	}
	if s.Export != nil {
		r["export"] = *s.Export
	}
	if s.Reason != "" {
		r["reason"] = s.Reason
	}
	if s.Note != "" {
		r["note"] = s.Note
	}
	if len(s.Meta) > 0 {
		r["meta"] = maps.Clone(s.Meta)
	}
	return r
}

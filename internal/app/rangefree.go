package app

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

// RangeChecker answers whether a requested interval is free on a unit's
// canonical timeline. Missing or unusable data is never free.
type RangeChecker struct {
	store domain.TimelineStore
}

func NewRangeChecker(s domain.TimelineStore) *RangeChecker { return &RangeChecker{store: s} }

func (c *RangeChecker) Free(ctx context.Context, unit, from, to string) bool {
	if unit == "" || from == "" || to == "" {
		return false
	}
	doc, err := c.store.ReadMerged(ctx, unit)
	if err != nil {
		log.Warn().Err(err).Str("unit", unit).Msg("range check: no canonical timeline")
		return false
	}
	return RangeFreeIn(doc, from, to)
}

var dayKeyRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// RangeFreeIn checks [from, to) against a timeline document in either the
// segment-list form or the legacy day-map form ({"YYYY-MM-DD": occupancy|null}).
func RangeFreeIn(doc []byte, from, to string) bool {
	rqFrom, err1 := time.Parse(ymd, from)
	rqTo, err2 := time.Parse(ymd, to)
	if err1 != nil || err2 != nil || !rqTo.After(rqFrom) {
		return false
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return false
	}

	switch t := v.(type) {
	case []any:
		for _, row := range t {
			m, ok := row.(map[string]any)
			if !ok {
				continue
			}
			s, okS := parseDay(firstAlias(m, "start"))
			e, okE := parseDay(firstAlias(m, "end"))
			if !okS || !okE {
				continue
			}
			if domain.Overlaps(from, to, s, e) {
				return false
			}
		}
		return true
	case map[string]any:
		if !looksLikeDayMap(t) {
			return false
		}
		for d := rqFrom; d.Before(rqTo); d = d.AddDate(0, 0, 1) {
			if occupied(t[d.Format(ymd)]) {
				return false
			}
		}
		return true
	}
	return false
}

func looksLikeDayMap(m map[string]any) bool {
	for k := range m {
		if dayKeyRe.MatchString(k) {
			return true
		}
	}
	return false
}

// occupied treats any non-empty day entry as taken.
func occupied(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

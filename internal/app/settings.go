package app

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

var defaultAutopilot = map[string]any{
	"enabled":                    false,
	"mode":                       "auto_confirm_on_accept",
	"min_days_before_arrival":    2,
	"max_nights":                 14,
	"allowed_sources":            []any{"direct", "website", "public"},
	"check_ics_on_accept":        false,
	"check_ics_on_guest_confirm": false,
	"test_mode":                  false,
	"test_mode_until":            "",
	"timezone":                   "",
}

var untilLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", ymd}

// ResolveSettings overlays unit over global over the fixed defaults and
// normalizes the result. Enabled production settings always require a feed refresh.
func ResolveSettings(global, unit map[string]any, now time.Time, defaultTZ string) domain.AutopilotSettings {
	m := maps.Clone(defaultAutopilot)
	maps.Copy(m, global)
	maps.Copy(m, unit)

	s := domain.AutopilotSettings{
		Enabled:                      asBool(m["enabled"]),
		Mode:                         asString(m["mode"]),
		TestMode:                     asBool(m["test_mode"]),
		TestModeUntil:                strings.TrimSpace(asString(m["test_mode_until"])),
		MinDaysBeforeArrival:         asInt(m["min_days_before_arrival"]),
		MaxNights:                    asInt(m["max_nights"]),
		RequireRefreshOnAccept:       asBool(m["check_ics_on_accept"]),
		RequireRefreshOnGuestConfirm: asBool(m["check_ics_on_guest_confirm"]),
		Timezone:                     strings.TrimSpace(asString(m["timezone"])),
	}

	if defaultTZ == "" {
		defaultTZ = domain.DefaultTimezone
	}
	if s.Timezone == "" {
		s.Timezone = defaultTZ
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		log.Warn().Str("timezone", s.Timezone).Msg("autopilot: unknown timezone, using default")
		s.Timezone = defaultTZ
		if loc, err = time.LoadLocation(defaultTZ); err != nil {
			loc = time.UTC
		}
	}
	s.Location = loc

	if list, ok := m["allowed_sources"].([]any); ok {
		for _, v := range list {
			if str := strings.TrimSpace(asString(v)); str != "" {
				s.AllowedSources = append(s.AllowedSources, strings.ToLower(str))
			}
		}
	} else {
		s.AllowedSources = []string{"direct", "website", "public"}
	}

	if s.TestModeUntil != "" {
		for _, layout := range untilLayouts {
			if until, err := time.ParseInLocation(layout, s.TestModeUntil, loc); err == nil {
				if until.After(now) {
					s.TestMode = true
				}
				break
			}
		}
	}

	if s.Enabled && !s.TestMode {
		s.RequireRefreshOnAccept = true
		s.RequireRefreshOnGuestConfirm = true
	}
	return s
}

// SettingsLoader resolves AutopilotSettings from the settings files once per request.
type SettingsLoader struct {
	src       domain.SettingsSource
	defaultTZ string
}

func NewSettingsLoader(src domain.SettingsSource, defaultTZ string) *SettingsLoader {
	return &SettingsLoader{src: src, defaultTZ: defaultTZ}
}

// Load never fails: unreadable settings resolve to the defaults, which keep
// the autopilot disabled.
func (l *SettingsLoader) Load(ctx context.Context, unit string, now time.Time) domain.AutopilotSettings {
	g, u, err := l.src.AutopilotLayers(ctx, unit)
	if err != nil {
		log.Error().Err(err).Str("unit", unit).Msg("autopilot settings unreadable, using defaults")
		g, u = nil, nil
	}
	return ResolveSettings(g, u, now, l.defaultTZ)
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != "" && t != "0" && !strings.EqualFold(t, "false")
	}
	return false
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	case bool:
		if t {
			return 1
		}
	}
	return 0
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

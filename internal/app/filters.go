package app

import (
	"slices"
	"strings"
	"time"

	"channel_manager/internal/domain"
)

const unknownSource = "unknown"

// CheckFilters evaluates the static eligibility rules in order and stops at the
// first failure: enabled, range, source, lead time, stay length.
func CheckFilters(req domain.Request, s domain.AutopilotSettings, now time.Time) domain.FilterResult {
	if !s.Enabled {
		return domain.FilterResult{Reason: domain.ReasonDisabled}
	}
	if strings.TrimSpace(req.Unit) == "" || req.From == "" || req.To == "" {
		return domain.FilterResult{Reason: domain.ReasonMissingRange}
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	from, errFrom := time.ParseInLocation(ymd, req.From, loc)
	to, errTo := time.ParseInLocation(ymd, req.To, loc)
	if errFrom != nil || errTo != nil || !to.After(from) {
		return domain.FilterResult{Reason: domain.ReasonInvalidDates}
	}

	src := strings.ToLower(strings.TrimSpace(req.Source))
	if src == "" {
		src = unknownSource
	}
	if !slices.Contains(s.AllowedSources, src) {
		return domain.FilterResult{Reason: domain.ReasonSourceNotAllowed, Source: src, Allowed: s.AllowedSources}
	}

	days := DaysBeforeArrival(now.In(loc), from)
	if s.MinDaysBeforeArrival > 0 && days < s.MinDaysBeforeArrival {
		return domain.FilterResult{
			Reason: domain.ReasonTooSoon, Source: src,
			DaysBeforeArrival: days, MinDays: s.MinDaysBeforeArrival,
		}
	}

	nights := req.Nights
	if nights <= 0 {
		nights = calendarDays(from, to)
	}
	if s.MaxNights > 0 && nights > s.MaxNights {
		return domain.FilterResult{
			Reason: domain.ReasonTooLong, Source: src,
			DaysBeforeArrival: days, Nights: nights, MaxNights: s.MaxNights,
		}
	}

	return domain.FilterResult{
		OK: true, Reason: domain.ReasonOK, Source: src,
		DaysBeforeArrival: days, Nights: nights,
	}
}

// DaysBeforeArrival counts whole days from now until arrival midnight, both in
// the same zone. An arrival already in the past counts as zero.
func DaysBeforeArrival(now, arrival time.Time) int {
	if arrival.Before(now) {
		return 0
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	days := calendarDays(today, arrival)
	if now.After(today) {
		days--
	}
	return max(days, 0)
}

// calendarDays is the number of calendar dates between a and b, DST-safe.
func calendarDays(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

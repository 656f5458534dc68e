package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

var errNoChange = errors.New("no change")

// SoftHoldSweeper drops expired TTL soft holds from reservations and re-merges
// the affected units.
type SoftHoldSweeper struct {
	units    domain.UnitLister
	bookings *BookingService
	loc      *time.Location
}

func NewSoftHoldSweeper(units domain.UnitLister, b *BookingService, loc *time.Location) *SoftHoldSweeper {
	if loc == nil {
		loc = time.UTC
	}
	return &SoftHoldSweeper{units: units, bookings: b, loc: loc}
}

type SweepReport struct {
	UnitsScanned int               `json:"units_scanned"`
	UnitsChanged int               `json:"units_changed"`
	Expired      int               `json:"expired_count"`
	PerUnit      map[string]int    `json:"units"`
	Errors       map[string]string `json:"errors,omitempty"`
}

func (s *SoftHoldSweeper) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	rep := SweepReport{PerUnit: map[string]int{}, Errors: map[string]string{}}
	units, err := s.units.ListUnits(ctx)
	if err != nil {
		return rep, err
	}
	rep.UnitsScanned = len(units)
	for _, u := range units {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		removed := 0
		_, err := s.bookings.mutate(ctx, u, domain.SourceReservations, func(rows []domain.RawRecord) ([]domain.RawRecord, error) {
			kept := make([]domain.RawRecord, 0, len(rows))
			for _, r := range rows {
				if s.expired(r, now) {
					removed++
					continue
				}
				kept = append(kept, r)
			}
			if removed == 0 {
				return nil, errNoChange
			}
			return kept, nil
		})
		switch {
		case errors.Is(err, errNoChange):
			continue
		case err != nil:
			rep.Errors[u] = err.Error()
			log.Error().Err(err).Str("unit", u).Msg("soft-hold sweep failed")
			continue
		}
		rep.UnitsChanged++
		rep.Expired += removed
		rep.PerUnit[u] = removed
		log.Info().Str("unit", u).Int("expired", removed).Msg("soft holds expired")
	}
	return rep, nil
}

// IsTTLSoftHold matches soft holds created for inquiries: lock=soft, source
// internal (or legacy reason soft-hold) and traceable through an id.
func IsTTLSoftHold(r domain.RawRecord) bool {
	if lock, _ := r["lock"].(string); lock != string(domain.LockSoft) {
		return false
	}
	src, _ := r["source"].(string)
	reason, _ := r["reason"].(string)
	if src != "internal" && reason != "soft-hold" {
		return false
	}
	if stringID(r["id"]) != "" {
		return true
	}
	meta, _ := r["meta"].(map[string]any)
	return stringID(meta["inquiry_id"]) != ""
}

func (s *SoftHoldSweeper) expired(r domain.RawRecord, now time.Time) bool {
	if !IsTTLSoftHold(r) {
		return false
	}
	meta, _ := r["meta"].(map[string]any)
	raw, _ := meta["expires_at"].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	for _, layout := range untilLayouts {
		if t, err := time.ParseInLocation(layout, raw, s.loc); err == nil {
			return !t.After(now)
		}
	}
	return false
}

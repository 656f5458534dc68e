package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

// UnitView is a read model of one unit's segments.
type UnitView struct {
	Unit     string           `json:"unit"`
	Count    int              `json:"count"`
	Segments []domain.Segment `json:"segments"`
}

// QueryService serves the published view and the canonical timeline through a
// read-through cache. The merge engine invalidates a unit after each run.
type QueryService struct {
	store    domain.TimelineStore
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(s domain.TimelineStore, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{store: s, cache: c, cacheTTL: ttl}
}

func availabilityKey(unit string) string { return "avail:" + unit }
func timelineKey(unit string) string     { return "timeline:" + unit }

// Availability returns the published view. A unit that was never merged has
// an empty view.
func (s *QueryService) Availability(ctx context.Context, unit string) (UnitView, error) {
	return s.cached(ctx, availabilityKey(unit), unit, func() ([]domain.Segment, error) {
		rows, err := s.store.ReadPublished(ctx, unit)
		if err != nil {
			return nil, err
		}
		return PublicView(rows), nil
	})
}

// Timeline returns the canonical timeline in stored order; ErrNotFound until
// the first merge.
func (s *QueryService) Timeline(ctx context.Context, unit string) (UnitView, error) {
	return s.cached(ctx, timelineKey(unit), unit, func() ([]domain.Segment, error) {
		b, err := s.store.ReadMerged(ctx, unit)
		if err != nil {
			return nil, err
		}
		var rows []domain.RawRecord
		if err := json.Unmarshal(b, &rows); err != nil {
			return nil, fmt.Errorf("decode merged: %w", err)
		}
		segs := make([]domain.Segment, 0, len(rows))
		for _, r := range rows {
			if seg, err := NormalizeSegment(r); err == nil {
				segs = append(segs, seg)
			}
		}
		return segs, nil
	})
}

func (s *QueryService) cached(ctx context.Context, key, unit string, load func() ([]domain.Segment, error)) (UnitView, error) {
	var v UnitView
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &v); ok {
			return v, nil
		}
	}
	ok, err := s.store.UnitExists(ctx, unit)
	if err != nil {
		return UnitView{}, err
	}
	if !ok {
		return UnitView{}, fmt.Errorf("%w: %s", domain.ErrUnitUnknown, unit)
	}
	segs, err := load()
	if err != nil {
		return UnitView{}, err
	}
	if segs == nil {
		segs = []domain.Segment{}
	}
	v = UnitView{Unit: unit, Count: len(segs), Segments: segs}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, v, int(s.cacheTTL.Seconds()))
	}
	return v, nil
}

// InvalidateUnit implements Invalidator.
func (s *QueryService) InvalidateUnit(ctx context.Context, unit string) {
	if s.cache == nil {
		return
	}
	var errs []error
	for _, k := range []string{availabilityKey(unit), timelineKey(unit)} {
		if err := s.cache.Del(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Str("unit", unit).Msg("cache invalidation failed")
	}
}

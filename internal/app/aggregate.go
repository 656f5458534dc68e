package app

import (
	"context"
	"fmt"
	"maps"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

// Aggregator collects the normalized segments of one unit from manual blocks,
// reservations and every enabled external feed.
type Aggregator struct {
	store domain.SourceStore
}

func NewAggregator(s domain.SourceStore) *Aggregator {
	return &Aggregator{store: s}
}

type AggregateStats struct {
	ManualBlocks int      `json:"manual_blocks"`
	Reservations int      `json:"reservations"`
	External     int      `json:"external"`
	Rejected     int      `json:"rejected"`
	Platforms    []string `json:"platforms"`
	Fallback     bool     `json:"platform_fallback"`
}

func (a *Aggregator) Collect(ctx context.Context, unit string) ([]domain.Segment, AggregateStats, error) {
	var (
		out   []domain.Segment
		stats AggregateStats
	)

	manual, err := a.store.ReadSource(ctx, unit, domain.SourceLocalBookings)
	if err != nil {
		return nil, stats, fmt.Errorf("read manual blocks: %w", err)
	}
	for _, r := range manual {
		if !exportedHardBlock(r) {
			continue
		}
		if _, ok := r["source"]; !ok {
			r = withDefault(r, "source", "admin")
		}
		seg, err := NormalizeSegment(r)
		if err != nil {
			stats.Rejected++
			continue
		}
		seg.Status = domain.StatusBlocked
		if seg.Meta == nil {
			seg.Meta = map[string]any{}
		}
		seg.Meta["exported_from"] = "local_bookings"
		out = append(out, seg)
		stats.ManualBlocks++
	}

	reservations, err := a.store.ReadSource(ctx, unit, domain.SourceReservations)
	if err != nil {
		return nil, stats, fmt.Errorf("read reservations: %w", err)
	}
	for _, r := range reservations {
		seg, err := NormalizeSegment(r)
		if err != nil {
			stats.Rejected++
			continue
		}
		out = append(out, seg)
		stats.Reservations++
	}

	platforms, fallback, err := a.platforms(ctx, unit)
	if err != nil {
		return nil, stats, err
	}
	stats.Platforms, stats.Fallback = platforms, fallback
	for _, p := range platforms {
		events, err := a.store.ReadExternal(ctx, unit, p)
		if err != nil {
			return nil, stats, fmt.Errorf("read %s feed: %w", p, err)
		}
		for _, ev := range events {
			seg, err := NormalizeSegment(externalDefaults(ev, p))
			if err != nil {
				stats.Rejected++
				continue
			}
			out = append(out, seg)
			stats.External++
		}
	}

	if stats.Rejected > 0 {
		log.Warn().Str("unit", unit).Int("rejected", stats.Rejected).Msg("aggregate: records rejected by normalizer")
	}
	return out, stats, nil
}

// platforms resolves the enabled platform set; with none enabled, cached feed
// files on disk are used so existing external data is never silently dropped.
func (a *Aggregator) platforms(ctx context.Context, unit string) ([]string, bool, error) {
	cfg, err := a.store.ReadIntegration(ctx, unit)
	if err != nil {
		return nil, false, fmt.Errorf("read integration config: %w", err)
	}
	if ps := cfg.EnabledPlatforms(); len(ps) > 0 {
		return ps, false, nil
	}
	cached, err := a.store.CachedPlatforms(ctx, unit)
	if err != nil {
		return nil, false, fmt.Errorf("list cached feeds: %w", err)
	}
	return cached, len(cached) > 0, nil
}

func exportedHardBlock(r domain.RawRecord) bool {
	lock, _ := r["lock"].(string)
	export, _ := r["export"].(bool)
	return lock == string(domain.LockHard) && export
}

func externalDefaults(ev domain.RawRecord, platform string) domain.RawRecord {
	out := maps.Clone(ev)
	if out == nil {
		out = domain.RawRecord{}
	}
	if _, ok := out["source"]; !ok {
		out["source"] = "ics"
	}
	meta, _ := out["meta"].(map[string]any)
	meta = maps.Clone(meta)
	if meta == nil {
		meta = map[string]any{}
	}
	if _, ok := meta["platform"]; !ok {
		meta["platform"] = platform
	}
	out["meta"] = meta
	return out
}

func withDefault(r domain.RawRecord, k string, v any) domain.RawRecord {
	out := maps.Clone(r)
	out[k] = v
	return out
}

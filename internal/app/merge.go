package app

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/adapters/observability"
	"channel_manager/internal/domain"
)

// MergeResult is the canonical timeline plus the bookkeeping of one merge.
type MergeResult struct {
	Segments    []domain.Segment
	In          int
	Duplicates  int
	DroppedSoft int
}

// Merge deduplicates, applies hard-over-soft precedence and orders the result
// by (start, end, lock, status). Any permutation of the same input yields the
// same output.
func Merge(in []domain.Segment) MergeResult {
	res := MergeResult{In: len(in)}
	keyed := withTieBreak(in)

	slices.SortFunc(keyed, func(a, b keyedSegment) int {
		return cmp.Or(
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(a.End, b.End),
			cmp.Compare(a.Status, b.Status),
			a.compareTie(b),
		)
	})

	seen := make(map[string]struct{}, len(keyed))
	deduped := make([]keyedSegment, 0, len(keyed))
	for _, s := range keyed {
		k := dedupKey(s.Segment)
		if _, dup := seen[k]; dup {
			res.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		deduped = append(deduped, s)
	}

	var hard, soft []keyedSegment
	for _, s := range deduped {
		if s.IsHard() {
			hard = append(hard, s)
		} else {
			soft = append(soft, s)
		}
	}

	out := append(make([]keyedSegment, 0, len(deduped)), hard...)
	for _, s := range soft {
		if overlapsAny(s.Segment, hard) {
			res.DroppedSoft++
			continue
		}
		out = append(out, s)
	}

	slices.SortFunc(out, func(a, b keyedSegment) int {
		return cmp.Or(
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(a.End, b.End),
			cmp.Compare(a.Lock, b.Lock),
			cmp.Compare(a.Status, b.Status),
			a.compareTie(b),
		)
	})

	res.Segments = make([]domain.Segment, len(out))
	for i, s := range out {
		res.Segments[i] = s.Segment
	}
	return res
}

// MergeRecords normalizes raw records, discards rejects and merges the rest.
func MergeRecords(raw []domain.RawRecord) MergeResult {
	segs := make([]domain.Segment, 0, len(raw))
	for _, r := range raw {
		if s, err := NormalizeSegment(r); err == nil {
			segs = append(segs, s)
		}
	}
	res := Merge(segs)
	res.In = len(raw)
	return res
}

func dedupKey(s domain.Segment) string {
	if s.ID != "" {
		return "id:" + s.ID
	}
	return "k:" + s.Start + "|" + s.End + "|" + string(s.Status) + "|" + s.Source + "|" + s.Platform
}

func overlapsAny(s domain.Segment, hard []keyedSegment) bool {
	for _, h := range hard {
		if s.Overlaps(h.Segment) {
			return true
		}
	}
	return false
}

// keyedSegment carries a canonical encoding used as the last-resort tie-break,
// so that equal-keyed segments never depend on input order.
type keyedSegment struct {
	domain.Segment
	canon string
}

func withTieBreak(in []domain.Segment) []keyedSegment {
	out := make([]keyedSegment, len(in))
	for i, s := range in {
		b, _ := json.Marshal(s)
		out[i] = keyedSegment{Segment: s, canon: string(b)}
	}
	return out
}

func (a keyedSegment) compareTie(b keyedSegment) int {
	return cmp.Or(
		cmp.Compare(a.ID, b.ID),
		cmp.Compare(a.Source, b.Source),
		cmp.Compare(a.Platform, b.Platform),
		cmp.Compare(a.canon, b.canon),
	)
}

/********** merge engine **********/

// Invalidator drops cached read models of a unit after its timeline changes.
type Invalidator interface {
	InvalidateUnit(ctx context.Context, unit string)
}

type MergeReport struct {
	Unit        string         `json:"unit"`
	In          int            `json:"in"`
	Out         int            `json:"out"`
	Duplicates  int            `json:"duplicates"`
	DroppedSoft int            `json:"dropped_soft"`
	Published   int            `json:"published"`
	Sources     AggregateStats `json:"sources"`
}

// MergeEngine recomputes and persists the canonical timeline of one unit, then
// republishes the public view. The whole cycle is a full overwrite.
type MergeEngine struct {
	agg       *Aggregator
	store     domain.TimelineStore
	publisher *Publisher
	inval     Invalidator
}

func NewMergeEngine(src domain.SourceStore, store domain.TimelineStore, inval Invalidator) *MergeEngine {
	return &MergeEngine{
		agg:       NewAggregator(src),
		store:     store,
		publisher: NewPublisher(store),
		inval:     inval,
	}
}

// Regenerate runs aggregate, merge, write and publish for one unit. Any failure
// is reported wrapped in domain.ErrMergeFailed; success is never reported
// unless both the canonical and the published view were durably written.
func (e *MergeEngine) Regenerate(ctx context.Context, unit string) (MergeReport, error) {
	start := time.Now()
	rep, err := e.regenerate(ctx, unit)
	observability.ObserveMerge(err, rep.In, rep.Out, rep.DroppedSoft, rep.Duplicates, time.Since(start))
	if err != nil {
		log.Error().Err(err).Str("unit", unit).Msg("merge failed")
		return rep, err
	}
	log.Info().
		Str("unit", unit).
		Int("in", rep.In).
		Int("out", rep.Out).
		Int("dropped_soft", rep.DroppedSoft).
		Int("duplicates", rep.Duplicates).
		Strs("platforms", rep.Sources.Platforms).
		Dur("duration", time.Since(start)).
		Msg("merge complete")
	return rep, nil
}

func (e *MergeEngine) regenerate(ctx context.Context, unit string) (MergeReport, error) {
	rep := MergeReport{Unit: unit}
	ok, err := e.store.UnitExists(ctx, unit)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", domain.ErrMergeFailed, err)
	}
	if !ok {
		return rep, fmt.Errorf("%w: %w: %s", domain.ErrMergeFailed, domain.ErrUnitUnknown, unit)
	}

	segs, stats, err := e.agg.Collect(ctx, unit)
	rep.Sources = stats
	if err != nil {
		return rep, fmt.Errorf("%w: %w", domain.ErrMergeFailed, err)
	}

	res := Merge(segs)
	rep.In, rep.Out = res.In+stats.Rejected, len(res.Segments)
	rep.Duplicates, rep.DroppedSoft = res.Duplicates, res.DroppedSoft

	if err := e.store.WriteMerged(ctx, unit, res.Segments); err != nil {
		return rep, fmt.Errorf("%w: write merged: %w", domain.ErrMergeFailed, err)
	}
	if e.inval != nil {
		defer e.inval.InvalidateUnit(ctx, unit)
	}
	n, err := e.publisher.Publish(ctx, unit)
	if err != nil {
		return rep, fmt.Errorf("%w: publish: %w", domain.ErrMergeFailed, err)
	}
	rep.Published = n
	return rep, nil
}

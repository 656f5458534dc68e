package app

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"channel_manager/internal/domain"
)

// Publisher derives the public availability view from the persisted canonical timeline.
type Publisher struct {
	store domain.TimelineStore
}

func NewPublisher(s domain.TimelineStore) *Publisher { return &Publisher{store: s} }

// Publish re-validates every merged segment, orders them by (start, end, status)
// and writes the public view. It returns the number of published segments.
func (p *Publisher) Publish(ctx context.Context, unit string) (int, error) {
	raw, err := p.store.ReadMerged(ctx, unit)
	if err != nil {
		return 0, fmt.Errorf("read merged: %w", err)
	}
	var rows []domain.RawRecord
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0, fmt.Errorf("decode merged: %w", err)
	}
	view := PublicView(rows)
	if err := p.store.WritePublished(ctx, unit, view); err != nil {
		return 0, fmt.Errorf("write published: %w", err)
	}
	return len(view), nil
}

// PublicView normalizes rows and sorts them by (start, end, status). Unlike the
// canonical timeline the public ordering ignores lock.
func PublicView(rows []domain.RawRecord) []domain.Segment {
	keyed := make([]keyedSegment, 0, len(rows))
	for _, r := range rows {
		s, err := NormalizeSegment(r)
		if err != nil {
			continue
		}
		keyed = append(keyed, withTieBreak([]domain.Segment{s})...)
	}
	slices.SortFunc(keyed, func(a, b keyedSegment) int {
		return cmp.Or(
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(a.End, b.End),
			cmp.Compare(a.Status, b.Status),
			a.compareTie(b),
		)
	})
	out := make([]domain.Segment, len(keyed))
	for i, k := range keyed {
		out[i] = k.Segment
	}
	return out
}

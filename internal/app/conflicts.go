package app

import (
	"context"

	"channel_manager/internal/domain"
)

// ConflictScanner finds other pending requests competing for the same dates.
type ConflictScanner struct {
	pending domain.PendingStore
}

func NewConflictScanner(p domain.PendingStore) *ConflictScanner { return &ConflictScanner{pending: p} }

// Scan reports every other pending request of the unit whose [from, to) overlaps
// the given interval. The request under evaluation and id-less rows are ignored.
func (c *ConflictScanner) Scan(ctx context.Context, unit, from, to, selfID string) (domain.ConflictCare, error) {
	out := domain.ConflictCare{PendingConflicts: []domain.PendingConflict{}}
	if unit == "" || from == "" || to == "" {
		return out, nil
	}
	reqs, err := c.pending.ListPending(ctx, unit)
	if err != nil {
		return out, err
	}
	for _, r := range reqs {
		if r.ID == "" || r.ID == selfID || r.Unit != unit {
			continue
		}
		if r.From == "" || r.To == "" {
			continue
		}
		if !domain.Overlaps(from, to, r.From, r.To) {
			continue
		}
		out.PendingConflicts = append(out.PendingConflicts, domain.PendingConflict{
			ID: r.ID, Unit: r.Unit, From: r.From, To: r.To, Status: r.Status, Source: r.Source,
		})
	}
	out.HasConflicts = len(out.PendingConflicts) > 0
	return out, nil
}

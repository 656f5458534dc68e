package refresher

import (
	"context"

	"channel_manager/internal/domain"
)

// Chain tries refreshers in order; the first one that is not unavailable decides.
type Chain []domain.FeedRefresher

func (c Chain) Refresh(ctx context.Context, unit string) domain.RefreshResult {
	last := domain.RefreshResult{Outcome: domain.RefreshUnavailable, Error: "no refresher configured"}
	for _, r := range c {
		if r == nil {
			continue
		}
		res := r.Refresh(ctx, unit)
		if res.Outcome != domain.RefreshUnavailable {
			return res
		}
		last = res
	}
	return last
}

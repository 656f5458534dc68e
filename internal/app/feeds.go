package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

// FeedPuller fetches a single platform's calendar for a unit.
type FeedPuller interface {
	Pull(ctx context.Context, unit, platform string) (domain.ExternalFeed, error)
}

// FeedService couples feed pulls with the merge that makes them visible.
type FeedService struct {
	puller    FeedPuller
	refresher domain.FeedRefresher
	merger    Regenerator
}

func NewFeedService(p FeedPuller, r domain.FeedRefresher, m Regenerator) *FeedService {
	return &FeedService{puller: p, refresher: r, merger: m}
}

type PullReport struct {
	Unit     string      `json:"unit"`
	Platform string      `json:"platform"`
	Events   int         `json:"count"`
	Merge    MergeReport `json:"merge"`
}

// PullPlatform pulls one platform on demand and regenerates the unit.
func (s *FeedService) PullPlatform(ctx context.Context, unit, platform string) (PullReport, error) {
	feed, err := s.puller.Pull(ctx, unit, platform)
	if err != nil {
		return PullReport{}, err
	}
	rep, err := s.merger.Regenerate(ctx, unit)
	if err != nil {
		return PullReport{}, fmt.Errorf("pulled %d events but %w", feed.Count, err)
	}
	return PullReport{Unit: unit, Platform: platform, Events: feed.Count, Merge: rep}, nil
}

type SyncReport struct {
	Unit    string               `json:"unit"`
	Refresh domain.RefreshResult `json:"refresh"`
	Merge   *MergeReport         `json:"merge,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// SyncUnit refreshes every feed of the unit and merges. The merge runs even when
// the refresh failed so local changes still reach the published view.
func (s *FeedService) SyncUnit(ctx context.Context, unit string) SyncReport {
	out := SyncReport{Unit: unit}
	if s.refresher != nil {
		out.Refresh = s.refresher.Refresh(ctx, unit)
	} else {
		out.Refresh = domain.RefreshResult{Outcome: domain.RefreshUnavailable}
	}
	rep, err := s.merger.Regenerate(ctx, unit)
	if err != nil {
		out.Error = err.Error()
		log.Error().Err(err).Str("unit", unit).Msg("sync merge failed")
		return out
	}
	out.Merge = &rep
	return out
}

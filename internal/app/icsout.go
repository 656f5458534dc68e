package app

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"channel_manager/internal/adapters/ics"
	"channel_manager/internal/domain"
)

const (
	FeedModeBooked  = "booked"
	FeedModeBlocked = "blocked"

	exportProdID = "-//ChannelManager//ICS OUT 2.0//EN"
)

// ExportSources is what the outward feed reads: the per-unit key config and
// the published view.
type ExportSources interface {
	ReadIntegration(ctx context.Context, unit string) (domain.IntegrationConfig, error)
	ReadPublished(ctx context.Context, unit string) ([]domain.RawRecord, error)
}

// FeedExport asks for one unit's outward calendar. Extras is -1 when the caller
// did not say, 0 or 1 otherwise.
type FeedExport struct {
	Unit   string
	Mode   string
	Key    string
	Extras int
}

type FeedExporter struct {
	src ExportSources
	now func() time.Time
}

func NewFeedExporter(src ExportSources) *FeedExporter {
	return &FeedExporter{src: src, now: time.Now}
}

// Export renders the feed. Unknown modes are treated as blocked. It fails with
// ErrNotFound for an unconfigured unit and ErrForbidden for a wrong key.
func (e *FeedExporter) Export(ctx context.Context, req FeedExport) ([]byte, error) {
	if req.Mode != FeedModeBooked {
		req.Mode = FeedModeBlocked
	}
	cfg, err := e.src.ReadIntegration(ctx, req.Unit)
	if err != nil {
		return nil, err
	}
	if !cfg.Configured {
		return nil, fmt.Errorf("%w: unit not configured: %s", domain.ErrNotFound, req.Unit)
	}
	want := cfg.ExportKey(req.Mode)
	if want == "" || req.Key == "" || subtle.ConstantTimeCompare([]byte(want), []byte(req.Key)) != 1 {
		return nil, fmt.Errorf("%w: bad key", domain.ErrForbidden)
	}

	extras := req.Extras
	if extras < 0 && req.Mode == FeedModeBlocked && cfg.Export.IncludeExtrasDefault {
		extras = 1
	}
	rows, err := e.src.ReadPublished(ctx, req.Unit)
	if err != nil {
		return nil, err
	}

	title := "Booked " + req.Unit
	if req.Mode == FeedModeBlocked {
		title = "Booked+Blocked " + req.Unit
	}
	cal := ics.Calendar{ProdID: exportProdID, Name: title, Stamp: e.now()}
	for _, s := range PublicView(rows) {
		summary, ok := exportSummary(s, req.Mode, extras == 1)
		if !ok {
			continue
		}
		cal.Events = append(cal.Events, ics.Event{
			UID:     stableUID(req.Unit, s),
			Start:   s.Start,
			End:     s.End,
			Summary: summary,
		})
	}
	return cal.Render(), nil
}

// exportSummary decides whether a segment goes out and under which title.
// Only hard rows are exported; guest details never are.
func exportSummary(s domain.Segment, mode string, extras bool) (string, bool) {
	if !s.IsHard() {
		return "", false
	}
	if s.Status == domain.StatusReserved {
		return "Reserved", true
	}
	if mode == FeedModeBooked || s.Status != domain.StatusBlocked {
		return "", false
	}
	if s.Export != nil && !*s.Export {
		return "", false
	}
	kind := blockKind(s)
	if kind != "Blocked" && !extras && (s.Export == nil || !*s.Export) {
		return "", false
	}
	return kind, true
}

// blockKind splits cleaning and maintenance blocks, which are opt-in, from ordinary ones.
func blockKind(s domain.Segment) string {
	reason := strings.ToLower(s.Reason)
	if reason == "" {
		reason = strings.ToLower(s.MetaString("kind"))
	}
	switch {
	case reason == "cleaning" || strings.HasPrefix(reason, "clean-"):
		return "Cleaning"
	case reason == "maintenance" || strings.Contains(reason, "maint"):
		return "Maintenance"
	}
	return "Blocked"
}

func stableUID(unit string, s domain.Segment) string {
	key := s.ID
	if key == "" {
		key = string(s.Status) + "|" + s.Start + "|" + s.End + "|" + s.Source
	}
	sum := sha1.Sum([]byte(key))
	return "cm:" + unit + ":" + hex.EncodeToString(sum[:]) + "@cm.local"
}

// Package refresher implements domain.FeedRefresher: pulling inbound platform
// calendars before the autopilot trusts a unit's timeline.
package refresher

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"channel_manager/internal/adapters/ics"
	"channel_manager/internal/domain"
)

// Fetcher downloads one feed body. *ics.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, platform, url string) ([]byte, error)
}

// Store is the persistence the HTTP refresher needs.
type Store interface {
	ReadIntegration(ctx context.Context, unit string) (domain.IntegrationConfig, error)
	domain.FeedStore
}

// HTTP pulls every enabled platform feed of a unit in parallel under one
// bounded timeout.
type HTTP struct {
	store      Store
	fetch      Fetcher
	timeout    time.Duration
	publicHost string
	audit      domain.AuditLog
	now        func() time.Time
}

type HTTPOption func(*HTTP)

// WithPublicHost makes the refresher refuse feed URLs that point back at our own export.
func WithPublicHost(host string) HTTPOption {
	return func(h *HTTP) { h.publicHost = strings.ToLower(strings.TrimSpace(host)) }
}

func WithAudit(a domain.AuditLog) HTTPOption { return func(h *HTTP) { h.audit = a } }

func WithClock(now func() time.Time) HTTPOption { return func(h *HTTP) { h.now = now } }

func NewHTTP(store Store, f Fetcher, timeout time.Duration, opts ...HTTPOption) *HTTP {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	h := &HTTP{store: store, fetch: f, timeout: timeout, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Refresh implements domain.FeedRefresher. A unit without any enabled platform
// carrying an ics_url has nothing to refresh and reports unavailable.
func (h *HTTP) Refresh(ctx context.Context, unit string) domain.RefreshResult {
	start := time.Now()
	res := domain.RefreshResult{Refresher: "http"}
	defer func() { res.Duration = time.Since(start) }()

	cfg, err := h.store.ReadIntegration(ctx, unit)
	if err != nil {
		res.Outcome, res.Error = domain.RefreshUnavailable, "integration config: "+err.Error()
		return res
	}
	var platforms []string
	for _, p := range cfg.EnabledPlatforms() {
		if cfg.FeedURL(p) != "" {
			platforms = append(platforms, p)
		}
	}
	if len(platforms) == 0 {
		res.Outcome, res.Error = domain.RefreshUnavailable, "no enabled platform with ics_url"
		return res
	}
	res.Attempted, res.Platforms = true, platforms

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu   sync.Mutex
		errs []string
	)
	var g errgroup.Group
	for _, p := range platforms {
		g.Go(func() error {
			_, err := h.pull(ctx, unit, p, cfg.FeedURL(p))
			if err != nil {
				mu.Lock()
				errs = append(errs, p+": "+err.Error())
				mu.Unlock()
			}
			return err
		})
	}
	err = g.Wait()
	switch {
	case err == nil:
		res.Outcome = domain.RefreshOK
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Outcome = domain.RefreshTimeout
	default:
		res.Outcome = domain.RefreshError
	}
	if len(errs) > 0 {
		res.Error = strings.Join(errs, "; ")
	}
	return res
}

// Pull fetches one platform on demand. The connection must be explicitly
// enabled inbound and carry an ics_url.
func (h *HTTP) Pull(ctx context.Context, unit, platform string) (domain.ExternalFeed, error) {
	cfg, err := h.store.ReadIntegration(ctx, unit)
	if err != nil {
		return domain.ExternalFeed{}, err
	}
	conn, ok := cfg.Connections[platform]
	if !ok || !conn.InEnabled {
		return domain.ExternalFeed{}, fmt.Errorf("%w: inbound feed for %s is not enabled", domain.ErrForbidden, platform)
	}
	u := cfg.FeedURL(platform)
	if u == "" {
		return domain.ExternalFeed{}, fmt.Errorf("%w: %s has no ics_url", domain.ErrRefreshUnavailable, platform)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.pull(ctx, unit, platform, u)
}

func (h *HTTP) pull(ctx context.Context, unit, platform, feedURL string) (domain.ExternalFeed, error) {
	start := time.Now()
	rec := domain.FeedFetch{Unit: unit, Platform: platform, URL: redact(feedURL), FetchedAt: h.now().UTC()}
	feed, err := h.pullOnce(ctx, unit, platform, feedURL)
	rec.Duration = time.Since(start)
	rec.Events = feed.Count
	rec.Outcome = domain.RefreshOK
	if err != nil {
		rec.Outcome, rec.Error = domain.RefreshError, err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			rec.Outcome = domain.RefreshTimeout
		}
		log.Warn().Err(err).Str("unit", unit).Str("platform", platform).Msg("feed pull failed")
	} else {
		log.Info().Str("unit", unit).Str("platform", platform).Int("events", feed.Count).Msg("feed pulled")
	}
	if h.audit != nil {
		if aerr := h.audit.LogFeedFetch(context.WithoutCancel(ctx), rec); aerr != nil {
			log.Warn().Err(aerr).Str("unit", unit).Msg("audit feed fetch failed")
		}
	}
	return feed, err
}

func (h *HTTP) pullOnce(ctx context.Context, unit, platform, feedURL string) (domain.ExternalFeed, error) {
	if err := h.guardSelfImport(feedURL); err != nil {
		return domain.ExternalFeed{}, err
	}
	mark := func(ferr error) {
		if err := h.store.MarkFeedStatus(context.WithoutCancel(ctx), unit, platform, ferr, h.now()); err != nil {
			log.Warn().Err(err).Str("unit", unit).Str("platform", platform).Msg("store feed status failed")
		}
	}

	body, err := h.fetch.Fetch(ctx, platform, feedURL)
	if err != nil {
		mark(err)
		return domain.ExternalFeed{}, err
	}
	evs, err := ics.Parse(bytes.NewReader(body))
	if err != nil {
		mark(err)
		return domain.ExternalFeed{}, fmt.Errorf("parse feed: %w", err)
	}
	feed := domain.ExternalFeed{
		Unit:      unit,
		Platform:  platform,
		FetchedAt: h.now().Format(time.RFC3339),
		Count:     len(evs),
		Events:    ToSegments(unit, platform, evs),
	}
	if err := h.store.SaveFeed(ctx, unit, body, feed); err != nil {
		mark(err)
		return domain.ExternalFeed{}, err
	}
	mark(nil)
	return feed, nil
}

// ToSegments maps parsed events to hard reservations. Events without a UID get
// an id derived from their position so re-pulls of the same feed stay stable.
func ToSegments(unit, platform string, evs []ics.VEvent) []domain.Segment {
	out := make([]domain.Segment, 0, len(evs))
	for i, ev := range evs {
		id := "ics:" + platform + ":" + ev.UID
		if ev.UID == "" {
			sum := sha1.Sum([]byte(unit + "|" + platform + "|" + ev.Start + "|" + ev.End + "|" + strconv.Itoa(i)))
			id = "ics:" + platform + ":" + hex.EncodeToString(sum[:])[:16]
		}
		meta := map[string]any{"platform": platform}
		if ev.Summary != "" {
			meta["summary"] = ev.Summary
		}
		out = append(out, domain.Segment{
			ID:       id,
			Start:    ev.Start,
			End:      ev.End,
			Status:   domain.StatusReserved,
			Lock:     domain.LockHard,
			Source:   "ics",
			Platform: platform,
			Meta:     meta,
		})
	}
	return out
}

func (h *HTTP) guardSelfImport(feedURL string) error {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid feed url %q", redact(feedURL))
	}
	host := strings.ToLower(u.Hostname())
	if h.publicHost != "" {
		own := h.publicHost
		if hh, _, err := net.SplitHostPort(own); err == nil {
			own = hh
		}
		if host == own {
			return fmt.Errorf("%w: %s", domain.ErrSelfImport, host)
		}
	}
	if strings.HasPrefix(u.Path, "/v1/units/") && strings.HasSuffix(u.Path, "/calendar.ics") {
		return fmt.Errorf("%w: %s", domain.ErrSelfImport, u.Path)
	}
	return nil
}

// redact drops the query string, which usually carries the platform's secret.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i] + "?…"
	}
	return raw
}

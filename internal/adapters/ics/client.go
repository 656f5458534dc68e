package ics

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"channel_manager/internal/adapters/observability"
)

const (
	UserAgent    = "ChannelManager-ICS/1.0"
	maxFeedBytes = 8 << 20
)

var (
	ErrNotFound   = errors.New("ics: feed not found")
	ErrForbidden  = errors.New("ics: feed forbidden")
	ErrBadStatus  = errors.New("ics: bad status")
	ErrFeedTooBig = errors.New("ics: feed too large")
)

// Client downloads remote calendar feeds with client-side rate limiting and
// retries on 429 and transient 5xx.
type Client struct {
	hc *http.Client
	rl *rate.Limiter
}

// NewClient builds a client with a 10s connect timeout and the given total
// request timeout.
func NewClient(timeout time.Duration, rps int) *Client {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	return &Client{
		hc: &http.Client{Timeout: timeout, Transport: tr},
		rl: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Fetch returns the body of a 2xx response. platform only labels metrics.
// The body must look like a VCALENDAR or ErrNotCalendar is returned.
func (c *Client) Fetch(ctx context.Context, platform, url string) ([]byte, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/calendar, */*;q=0.5")
		req.Header.Set("User-Agent", UserAgent)

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("ics", platform, 0, time.Since(start))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if i < 2 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, lastErr
		}
		observability.ObserveExternal("ics", platform, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			if len(body) > maxFeedBytes {
				return nil, ErrFeedTooBig
			}
			if !LooksLikeCalendar(body) {
				return nil, ErrNotCalendar
			}
			return body, nil

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrNotFound

		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrForbidden

		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
			if i < 2 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %d: %s", ErrBadStatus, resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After in seconds or HTTP-date form, capped at 10s.
func retryAfter(resp *http.Response) time.Duration {
	h := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if h == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(h); err == nil {
		d = time.Until(t)
	}
	if d < 0 {
		return 0
	}
	return min(d, 10*time.Second)
}

// backoff is 300ms doubling per attempt plus up to 50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 300 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	return base + time.Duration(0.5*float64(b[0])/255.0*float64(base))
}

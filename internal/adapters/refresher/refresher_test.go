package refresher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"channel_manager/internal/adapters/ics"
	"channel_manager/internal/adapters/refresher"
	"channel_manager/internal/domain"
)

type fakeStore struct {
	mu     sync.Mutex
	cfg    domain.IntegrationConfig
	feeds  map[string]domain.ExternalFeed
	raw    map[string][]byte
	status map[string]error
}

func newFakeStore(conns map[string]domain.Connection) *fakeStore {
	return &fakeStore{
		cfg:    domain.IntegrationConfig{Connections: conns},
		feeds:  map[string]domain.ExternalFeed{},
		raw:    map[string][]byte{},
		status: map[string]error{},
	}
}

func (f *fakeStore) ReadIntegration(context.Context, string) (domain.IntegrationConfig, error) {
	return f.cfg, nil
}

func (f *fakeStore) SaveFeed(_ context.Context, _ string, raw []byte, feed domain.ExternalFeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[feed.Platform] = feed
	f.raw[feed.Platform] = raw
	return nil
}

func (f *fakeStore) MarkFeedStatus(_ context.Context, _, platform string, err error, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[platform] = err
	return nil
}

const feed = "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:r1\r\nDTSTART;VALUE=DATE:20260603\r\nDTEND;VALUE=DATE:20260607\r\nSUMMARY:Airbnb (Not available)\r\nEND:VEVENT\r\nBEGIN:VEVENT\r\nDTSTART;VALUE=DATE:20260701\r\nDTEND;VALUE=DATE:20260703\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func TestHTTP_RefreshStoresFeeds(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer ts.Close()

	st := newFakeStore(map[string]domain.Connection{
		"airbnb":  {InEnabled: true, ICSURL: ts.URL + "/a.ics"},
		"booking": {InEnabled: false, ICSURL: ts.URL + "/b.ics"},
	})
	r := refresher.NewHTTP(st, ics.NewClient(time.Second, 100), 2*time.Second)

	res := r.Refresh(context.Background(), "A1")
	require.Equal(t, domain.RefreshOK, res.Outcome, res.Error)
	require.True(t, res.Attempted)
	require.Equal(t, []string{"airbnb"}, res.Platforms)

	got := st.feeds["airbnb"]
	require.Equal(t, 2, got.Count)
	require.Equal(t, "ics:airbnb:r1", got.Events[0].ID)
	require.Equal(t, domain.LockHard, got.Events[0].Lock)
	require.Equal(t, "Airbnb (Not available)", got.Events[0].Meta["summary"])
	require.Len(t, got.Events[1].ID, len("ics:airbnb:")+16)
	require.NoError(t, st.status["airbnb"])

	// a broken platform fails the whole refresh
	st.cfg.Connections["booking"] = domain.Connection{InEnabled: true, ICSURL: ts.URL + "/broken"}
	res = r.Refresh(context.Background(), "A1")
	require.Equal(t, domain.RefreshError, res.Outcome)
	require.Error(t, st.status["booking"])
}

func TestHTTP_RefreshUnavailableWithoutURL(t *testing.T) {
	st := newFakeStore(map[string]domain.Connection{"airbnb": {InEnabled: true}})
	res := refresher.NewHTTP(st, ics.NewClient(time.Second, 100), time.Second).Refresh(context.Background(), "A1")
	if res.Outcome != domain.RefreshUnavailable || res.Attempted {
		t.Fatalf("want unavailable, got %+v", res)
	}
}

func TestHTTP_RefreshTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	st := newFakeStore(map[string]domain.Connection{"airbnb": {InEnabled: true, ICSURL: ts.URL}})
	res := refresher.NewHTTP(st, ics.NewClient(5*time.Second, 100), 100*time.Millisecond).Refresh(context.Background(), "A1")
	if res.Outcome != domain.RefreshTimeout {
		t.Fatalf("want timeout, got %+v", res)
	}
}

func TestHTTP_PullGuards(t *testing.T) {
	st := newFakeStore(map[string]domain.Connection{
		"airbnb": {InEnabled: true, ICSURL: "https://cm.example.com/feed.ics"},
		"vrbo":   {LegacyEnabled: true, ICSURL: "https://vrbo.example.com/x.ics"},
		"self":   {InEnabled: true, ICSURL: "https://other.example.com/v1/units/A1/calendar.ics?key=x"},
		"nourl":  {InEnabled: true},
	})
	r := refresher.NewHTTP(st, ics.NewClient(time.Second, 100), time.Second, refresher.WithPublicHost("cm.example.com:443"))
	ctx := context.Background()

	_, err := r.Pull(ctx, "A1", "airbnb")
	require.True(t, errors.Is(err, domain.ErrSelfImport), "got %v", err)
	_, err = r.Pull(ctx, "A1", "self")
	require.True(t, errors.Is(err, domain.ErrSelfImport), "got %v", err)
	_, err = r.Pull(ctx, "A1", "vrbo")
	require.True(t, errors.Is(err, domain.ErrForbidden), "got %v", err)
	_, err = r.Pull(ctx, "A1", "nourl")
	require.True(t, errors.Is(err, domain.ErrRefreshUnavailable), "got %v", err)
}

func writeScript(t *testing.T, root, unit, body string) {
	t.Helper()
	dir := filepath.Join(root, unit)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, refresher.ScriptName), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func TestCommand_ExitCodeContract(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "OK", "exit 0")
	writeScript(t, root, "BAD", "echo boom; exit 3")
	writeScript(t, root, "SLOW", "sleep 5")
	c := refresher.NewCommand(root, 200*time.Millisecond)
	ctx := context.Background()

	require.Equal(t, domain.RefreshOK, c.Refresh(ctx, "OK").Outcome)

	bad := c.Refresh(ctx, "BAD")
	require.Equal(t, domain.RefreshError, bad.Outcome)
	require.Contains(t, bad.Error, "boom")

	require.Equal(t, domain.RefreshTimeout, c.Refresh(ctx, "SLOW").Outcome)

	missing := c.Refresh(ctx, "NONE")
	require.Equal(t, domain.RefreshUnavailable, missing.Outcome)
	require.False(t, missing.Attempted)
}

type staticRefresher domain.RefreshResult

func (s staticRefresher) Refresh(context.Context, string) domain.RefreshResult {
	return domain.RefreshResult(s)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	unavailable := staticRefresher{Outcome: domain.RefreshUnavailable, Refresher: "a"}
	failed := staticRefresher{Outcome: domain.RefreshError, Refresher: "b"}
	ok := staticRefresher{Outcome: domain.RefreshOK, Refresher: "c"}

	require.Equal(t, "b", refresher.Chain{unavailable, failed, ok}.Refresh(ctx, "A1").Refresher)
	require.Equal(t, "c", refresher.Chain{unavailable, nil, ok}.Refresh(ctx, "A1").Refresher)
	require.Equal(t, domain.RefreshUnavailable, refresher.Chain{}.Refresh(ctx, "A1").Outcome)
}

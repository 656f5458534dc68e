package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"channel_manager/internal/app"
	"channel_manager/internal/domain"
)

var ljubljana = mustLoc("Europe/Ljubljana")

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func enabledSettings() domain.AutopilotSettings {
	return app.ResolveSettings(map[string]any{"enabled": true}, nil, time.Now(), "Europe/Ljubljana")
}

func TestResolveSettings(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, ljubljana)

	def := app.ResolveSettings(nil, nil, now, "")
	require.False(t, def.Enabled)
	require.Equal(t, 2, def.MinDaysBeforeArrival)
	require.Equal(t, 14, def.MaxNights)
	require.Equal(t, []string{"direct", "website", "public"}, def.AllowedSources)
	require.Equal(t, domain.DefaultTimezone, def.Timezone)
	require.False(t, def.RequireRefreshOnAccept)

	s := app.ResolveSettings(
		map[string]any{"enabled": true, "max_nights": float64(7), "allowed_sources": []any{"Direct", "Airbnb"}},
		map[string]any{"max_nights": "10", "timezone": "Not/AZone"},
		now, "Europe/Ljubljana",
	)
	require.True(t, s.Enabled)
	require.Equal(t, 10, s.MaxNights, "unit overrides global")
	require.Equal(t, []string{"direct", "airbnb"}, s.AllowedSources)
	require.Equal(t, "Europe/Ljubljana", s.Timezone, "bad zone falls back to default")
	require.True(t, s.RequireRefreshOnAccept && s.RequireRefreshOnGuestConfirm, "production forces refresh")

	tm := app.ResolveSettings(map[string]any{"enabled": true, "test_mode_until": "2026-05-02"}, nil, now, "")
	require.True(t, tm.TestMode)
	require.False(t, tm.RequireRefreshOnAccept)

	expired := app.ResolveSettings(map[string]any{"enabled": true, "test_mode_until": "2026-04-30T10:00:00+02:00"}, nil, now, "")
	require.False(t, expired.TestMode)

	none := app.ResolveSettings(map[string]any{"allowed_sources": []any{}}, nil, now, "")
	require.Empty(t, none.AllowedSources)
}

func TestSettingsLoader_UnreadableMeansDisabled(t *testing.T) {
	st := newMemTimeline("A1")
	st.settingsErr = errInjected
	s := app.NewSettingsLoader(st, "").Load(context.Background(), "A1", time.Now())
	require.False(t, s.Enabled)
}

func TestCheckFilters(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, ljubljana)
	s := enabledSettings()
	s.Location = ljubljana

	base := domain.Request{ID: "260601a", Unit: "A1", From: "2026-06-10", To: "2026-06-13", Nights: 3, Source: "Direct"}
	tests := []struct {
		name   string
		mutate func(*domain.Request, *domain.AutopilotSettings)
		want   domain.ReasonCode
	}{
		{"ok", nil, domain.ReasonOK},
		{"disabled", func(_ *domain.Request, s *domain.AutopilotSettings) { s.Enabled = false }, domain.ReasonDisabled},
		{"missing unit", func(r *domain.Request, _ *domain.AutopilotSettings) { r.Unit = " " }, domain.ReasonMissingRange},
		{"unparseable", func(r *domain.Request, _ *domain.AutopilotSettings) { r.From = "10.6.2026" }, domain.ReasonInvalidDates},
		{"reversed", func(r *domain.Request, _ *domain.AutopilotSettings) { r.To = "2026-06-09" }, domain.ReasonInvalidDates},
		{"source", func(r *domain.Request, _ *domain.AutopilotSettings) { r.Source = "booking" }, domain.ReasonSourceNotAllowed},
		{"no source is unknown", func(r *domain.Request, _ *domain.AutopilotSettings) { r.Source = "" }, domain.ReasonSourceNotAllowed},
		{"tomorrow", func(r *domain.Request, _ *domain.AutopilotSettings) { r.From, r.To = "2026-06-02", "2026-06-04" }, domain.ReasonTooSoon},
		{"past arrival", func(r *domain.Request, _ *domain.AutopilotSettings) { r.From, r.To = "2026-05-20", "2026-05-22" }, domain.ReasonTooSoon},
		{"no lead time", func(r *domain.Request, s *domain.AutopilotSettings) {
			r.From, r.To = "2026-06-01", "2026-06-02"
			s.MinDaysBeforeArrival = 0
		}, domain.ReasonOK},
		{"too long", func(r *domain.Request, _ *domain.AutopilotSettings) { r.Nights = 15 }, domain.ReasonTooLong},
		{"unlimited", func(r *domain.Request, s *domain.AutopilotSettings) { r.Nights, s.MaxNights = 60, 0 }, domain.ReasonOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ss := base, s
			if tt.mutate != nil {
				tt.mutate(&r, &ss)
			}
			got := app.CheckFilters(r, ss, now)
			require.Equal(t, tt.want, got.Reason)
			require.Equal(t, tt.want == domain.ReasonOK, got.OK)
		})
	}

	ok := app.CheckFilters(base, s, now)
	require.Equal(t, 8, ok.DaysBeforeArrival)
	require.Equal(t, 3, ok.Nights)
	require.Equal(t, "direct", ok.Source)
}

func TestDaysBeforeArrival(t *testing.T) {
	arrival := time.Date(2026, 3, 31, 0, 0, 0, 0, ljubljana)
	// across the spring DST switch on 2026-03-29
	require.Equal(t, 4, app.DaysBeforeArrival(time.Date(2026, 3, 27, 0, 0, 0, 0, ljubljana), arrival))
	require.Equal(t, 3, app.DaysBeforeArrival(time.Date(2026, 3, 27, 9, 0, 0, 0, ljubljana), arrival))
	require.Equal(t, 0, app.DaysBeforeArrival(time.Date(2026, 4, 2, 9, 0, 0, 0, ljubljana), arrival))
}

func TestRangeFreeIn(t *testing.T) {
	list := []byte(`[{"start":"2026-06-03","end":"2026-06-07","status":"reserved","lock":"hard"},{"from":"2026-07-01","to":"2026-07-02","type":"blocked"}]`)
	tests := []struct {
		name     string
		doc      []byte
		from, to string
		want     bool
	}{
		{"free before", list, "2026-06-01", "2026-06-03", true},
		{"overlap", list, "2026-06-06", "2026-06-08", false},
		{"legacy row overlap", list, "2026-06-30", "2026-07-02", false},
		{"empty timeline", []byte(`[]`), "2026-06-01", "2026-06-03", true},
		{"garbage", []byte(`{oops`), "2026-06-01", "2026-06-03", false},
		{"bad range", list, "2026-06-03", "2026-06-03", false},
		{"day map free", []byte(`{"2026-06-01":null,"2026-06-02":""}`), "2026-06-01", "2026-06-03", true},
		{"day map taken", []byte(`{"2026-06-02":{"status":"reserved"}}`), "2026-06-01", "2026-06-03", false},
		{"not a day map", []byte(`{"segments":[]}`), "2026-06-01", "2026-06-03", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, app.RangeFreeIn(tt.doc, tt.from, tt.to))
		})
	}
}

func TestRangeChecker_FailClosedWithoutData(t *testing.T) {
	st := newMemTimeline("A1")
	rc := app.NewRangeChecker(st)
	for _, r := range [][2]string{{"2026-06-01", "2026-06-03"}, {"2030-01-01", "2030-02-01"}} {
		if rc.Free(context.Background(), "A1", r[0], r[1]) {
			t.Fatalf("range %v reported free without timeline", r)
		}
	}
	st.setMerged("A1", `[]`)
	require.True(t, rc.Free(context.Background(), "A1", "2026-06-01", "2026-06-03"))
}

func TestConflictScanner(t *testing.T) {
	st := newMemTimeline("A1")
	st.addPending(
		domain.Request{ID: "260901a", Unit: "A1", From: "2026-09-10", To: "2026-09-12"},
		domain.Request{ID: "260901b", Unit: "A1", From: "2026-09-11", To: "2026-09-14"},
		domain.Request{ID: "260901c", Unit: "A1", From: "2026-09-12", To: "2026-09-14"},
		domain.Request{ID: "260901d", Unit: "B2", From: "2026-09-10", To: "2026-09-12"},
	)
	cc, err := app.NewConflictScanner(st).Scan(context.Background(), "A1", "2026-09-10", "2026-09-12", "260901a")
	require.NoError(t, err)
	require.True(t, cc.HasConflicts)
	require.Len(t, cc.PendingConflicts, 1)
	require.Equal(t, "260901b", cc.PendingConflicts[0].ID)
}

func TestRefreshGate(t *testing.T) {
	ctx := context.Background()
	prod := enabledSettings()
	test := prod
	test.TestMode, test.RequireRefreshOnAccept, test.RequireRefreshOnGuestConfirm = true, true, false

	tests := []struct {
		name    string
		s       domain.AutopilotSettings
		trig    domain.Trigger
		outcome domain.RefreshOutcome
		nilRef  bool
		want    domain.ReasonCode
		ran     bool
	}{
		{"prod ok", prod, domain.TriggerOnAccept, domain.RefreshOK, false, domain.ReasonOK, true},
		{"prod no refresher", prod, domain.TriggerOnAccept, "", true, domain.ReasonRefreshNotPossible, true},
		{"prod unavailable", prod, domain.TriggerOnAccept, domain.RefreshUnavailable, false, domain.ReasonRefreshNotPossible, true},
		{"prod error", prod, domain.TriggerOnAccept, domain.RefreshError, false, domain.ReasonRefreshFailed, true},
		{"prod timeout", prod, domain.TriggerOnAccept, domain.RefreshTimeout, false, domain.ReasonRefreshFailed, true},
		{"test unavailable tolerated", test, domain.TriggerOnAccept, domain.RefreshUnavailable, false, domain.ReasonOK, true},
		{"test failure still fails", test, domain.TriggerOnAccept, domain.RefreshError, false, domain.ReasonRefreshFailed, true},
		{"test trigger not required", test, domain.TriggerOnGuestConfirm, domain.RefreshError, false, domain.ReasonOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ref domain.FeedRefresher
			if !tt.nilRef {
				ref = &fakeRefresher{res: domain.RefreshResult{Attempted: true, Outcome: tt.outcome}}
			}
			g := app.NewRefreshGate(ref, nil).Check(ctx, "A1", tt.s, tt.trig)
			require.Equal(t, tt.want, g.Reason)
			require.Equal(t, tt.want == domain.ReasonOK, g.OK)
			require.Equal(t, tt.ran, g.Ran)
		})
	}
}

func TestRefreshGate_MergeFailureIsRefreshFailure(t *testing.T) {
	st := newMemTimeline() // unit unknown: merge fails
	ref := &fakeRefresher{res: domain.RefreshResult{Outcome: domain.RefreshOK}}
	g := app.NewRefreshGate(ref, app.NewMergeEngine(st, st, nil)).Check(context.Background(), "A1", enabledSettings(), domain.TriggerOnAccept)
	require.Equal(t, domain.ReasonRefreshFailed, g.Reason)
	require.Contains(t, g.Result.Error, "merge_failed")
}

package app_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"channel_manager/internal/app"
	"channel_manager/internal/domain"
)

func seg(start, end string, st domain.Status, lock domain.Lock) domain.Segment {
	return domain.Segment{Start: start, End: end, Status: st, Lock: lock}
}

func TestNormalizeSegment(t *testing.T) {
	tests := []struct {
		name string
		raw  domain.RawRecord
		want domain.Segment
		err  bool
	}{
		{
			name: "canonical",
			raw:  domain.RawRecord{"start": "2026-06-01", "end": "2026-06-05", "status": "reserved", "lock": "hard", "source": "admin", "id": "r1"},
			want: domain.Segment{Start: "2026-06-01", End: "2026-06-05", Status: domain.StatusReserved, Lock: domain.LockHard, Source: "admin", ID: "r1"},
		},
		{
			name: "legacy names and status",
			raw:  domain.RawRecord{"from": "2026-06-01T14:00:00+02:00", "to": "2026-06-03", "type": "busy"},
			want: domain.Segment{Start: "2026-06-01", End: "2026-06-03", Status: domain.StatusBlocked},
		},
		{
			name: "numeric id, platform from meta, export",
			raw: domain.RawRecord{"start": "2026-06-01", "end": "2026-06-02", "status": "booking", "id": float64(42),
				"export": false, "meta": map[string]any{"platform": "airbnb"}},
			want: domain.Segment{Start: "2026-06-01", End: "2026-06-02", Status: domain.StatusReserved, ID: "42",
				Export: domain.BoolPtr(false), Platform: "airbnb", Meta: map[string]any{"platform": "airbnb"}},
		},
		{
			name: "unknown lock dropped",
			raw:  domain.RawRecord{"start": "2026-06-01", "end": "2026-06-02", "status": "block", "lock": "maybe"},
			want: domain.Segment{Start: "2026-06-01", End: "2026-06-02", Status: domain.StatusBlocked},
		},
		{name: "missing start", raw: domain.RawRecord{"end": "2026-06-02", "status": "reserved"}, err: true},
		{name: "bad date", raw: domain.RawRecord{"start": "2026-13-01", "end": "2026-06-02", "status": "reserved"}, err: true},
		{name: "empty interval", raw: domain.RawRecord{"start": "2026-06-02", "end": "2026-06-02", "status": "reserved"}, err: true},
		{name: "unknown status", raw: domain.RawRecord{"start": "2026-06-01", "end": "2026-06-02", "status": "tentative"}, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := app.NormalizeSegment(tt.raw)
			if tt.err {
				require.ErrorIs(t, err, domain.ErrInvalidSegment)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMerge_HardBeatsSoft(t *testing.T) {
	res := app.Merge([]domain.Segment{
		seg("2026-06-01", "2026-06-05", domain.StatusBlocked, domain.LockSoft),
		seg("2026-06-03", "2026-06-07", domain.StatusReserved, domain.LockHard),
	})
	require.Equal(t, []domain.Segment{seg("2026-06-03", "2026-06-07", domain.StatusReserved, domain.LockHard)}, res.Segments)
	require.Equal(t, 1, res.DroppedSoft)
}

func TestMerge_NonOverlappingSoftRetained(t *testing.T) {
	res := app.Merge([]domain.Segment{
		seg("2026-08-01", "2026-08-05", domain.StatusReserved, domain.LockHard),
		seg("2026-07-01", "2026-07-03", domain.StatusBlocked, domain.LockSoft),
	})
	require.Equal(t, []domain.Segment{
		seg("2026-07-01", "2026-07-03", domain.StatusBlocked, domain.LockSoft),
		seg("2026-08-01", "2026-08-05", domain.StatusReserved, domain.LockHard),
	}, res.Segments)
}

func TestMerge_TouchingIntervalsDoNotOverlap(t *testing.T) {
	res := app.Merge([]domain.Segment{
		seg("2026-06-01", "2026-06-03", domain.StatusBlocked, ""),
		seg("2026-06-03", "2026-06-05", domain.StatusReserved, domain.LockHard),
	})
	require.Len(t, res.Segments, 2)
	require.Equal(t, domain.Lock(""), res.Segments[0].Lock)
}

func TestMerge_Dedup(t *testing.T) {
	a := seg("2026-06-01", "2026-06-03", domain.StatusReserved, domain.LockHard)
	a.ID = "r1"
	moved := seg("2026-06-10", "2026-06-12", domain.StatusReserved, domain.LockHard)
	moved.ID = "r1"
	b := seg("2026-07-01", "2026-07-03", domain.StatusBlocked, domain.LockHard)
	b.Source = "admin"

	res := app.Merge([]domain.Segment{moved, a, b, b})
	require.Equal(t, 2, res.Duplicates)
	require.Len(t, res.Segments, 2)
	// the earlier occurrence after the first sort wins
	require.Equal(t, "2026-06-01", res.Segments[0].Start)

	// same key but different platform is not a duplicate
	c := b
	c.Platform = "airbnb"
	require.Len(t, app.Merge([]domain.Segment{b, c}).Segments, 2)
}

func TestMerge_PropertiesOverPermutations(t *testing.T) {
	in := []domain.Segment{
		seg("2026-06-01", "2026-06-05", domain.StatusBlocked, domain.LockSoft),
		seg("2026-06-03", "2026-06-07", domain.StatusReserved, domain.LockHard),
		seg("2026-06-03", "2026-06-07", domain.StatusBlocked, domain.LockHard),
		seg("2026-06-10", "2026-06-12", domain.StatusReserved, ""),
		seg("2026-06-10", "2026-06-12", domain.StatusReserved, domain.LockSoft),
		seg("2026-06-11", "2026-06-14", domain.StatusBlocked, domain.LockHard),
		seg("2026-07-01", "2026-07-02", domain.StatusBlocked, domain.LockSoft),
	}
	in[1].ID, in[1].Source = "x", "ics"
	in[2].Source = "admin"
	in[5].Platform = "booking"
	in[6].Meta = map[string]any{"note": "a"}
	dup := in[6]
	dup.Meta = map[string]any{"note": "b"}
	in = append(in, dup)

	want := app.Merge(in).Segments

	// no hard segment is lost
	hardIn := 0
	for _, s := range in {
		if s.IsHard() {
			hardIn++
		}
	}
	hardOut := 0
	for _, s := range want {
		if s.IsHard() {
			hardOut++
		}
	}
	require.Equal(t, hardIn, hardOut)

	// no soft segment overlaps a hard one
	for _, s := range want {
		if s.IsHard() {
			continue
		}
		for _, h := range want {
			if h.IsHard() && s.Overlaps(h) {
				t.Fatalf("soft %+v overlaps hard %+v", s, h)
			}
		}
	}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		p := append([]domain.Segment(nil), in...)
		r.Shuffle(len(p), func(a, b int) { p[a], p[b] = p[b], p[a] })
		require.Equal(t, want, app.Merge(p).Segments, "permutation %d", i)
	}

	// merging the output again changes nothing
	require.Equal(t, want, app.Merge(want).Segments)
}

func TestMergeRecords_DiscardsRejects(t *testing.T) {
	res := app.MergeRecords([]domain.RawRecord{
		{"start": "2026-06-01", "end": "2026-06-02", "status": "reserved"},
		{"start": "nope", "end": "2026-06-02", "status": "reserved"},
		{"start": "2026-06-01", "end": "2026-06-02"},
	})
	require.Equal(t, 3, res.In)
	require.Len(t, res.Segments, 1)
}

func TestMergeEngine_RegenerateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newMemTimeline("A1")
	st.setSource("A1", domain.SourceLocalBookings,
		domain.RawRecord{"id": "b1", "start": "2026-06-20", "end": "2026-06-22", "status": "blocked", "lock": "hard", "export": true, "reason": "cleaning"},
		domain.RawRecord{"id": "b2", "start": "2026-06-25", "end": "2026-06-26", "status": "blocked", "lock": "hard"}, // not exported
	)
	st.setSource("A1", domain.SourceReservations,
		domain.RawRecord{"id": "h1", "start": "2026-06-01", "end": "2026-06-05", "status": "blocked", "lock": "soft", "source": "internal"},
		domain.RawRecord{"from": "2026-06-03", "to": "2026-06-07", "type": "booking", "lock": "hard", "source": "local"},
	)
	st.cfg["A1"] = domain.IntegrationConfig{Connections: map[string]domain.Connection{"airbnb": {InEnabled: true}}}
	st.setExternal("A1", "airbnb", domain.RawRecord{"id": "ics:airbnb:u1", "start": "2026-07-01", "end": "2026-07-04", "status": "reserved", "lock": "hard"})
	st.setExternal("A1", "vrbo", domain.RawRecord{"id": "ics:vrbo:u1", "start": "2026-08-01", "end": "2026-08-04", "status": "reserved", "lock": "hard"})

	inval := &countingInvalidator{}
	eng := app.NewMergeEngine(st, st, inval)

	rep, err := eng.Regenerate(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, 3, rep.Out)
	require.Equal(t, 1, rep.DroppedSoft)
	require.Equal(t, []string{"airbnb"}, rep.Sources.Platforms)
	require.Equal(t, 3, rep.Published)
	require.Equal(t, 1, inval.n)

	first, _ := st.ReadMerged(ctx, "A1")
	_, err = eng.Regenerate(ctx, "A1")
	require.NoError(t, err)
	second, _ := st.ReadMerged(ctx, "A1")
	require.True(t, bytes.Equal(first, second), "merge output is not byte-identical")

	pub, _ := st.ReadPublished(ctx, "A1")
	require.Equal(t, "admin", pub[1]["source"])
	require.Equal(t, "ics", pub[2]["source"])
}

func TestMergeEngine_FallbackToCachedFeeds(t *testing.T) {
	st := newMemTimeline("A1")
	st.setExternal("A1", "booking", domain.RawRecord{"start": "2026-07-01", "end": "2026-07-04", "status": "reserved", "lock": "hard"})
	rep, err := app.NewMergeEngine(st, st, nil).Regenerate(context.Background(), "A1")
	require.NoError(t, err)
	require.True(t, rep.Sources.Fallback)
	require.Equal(t, 1, rep.Out)
}

func TestMergeEngine_Failures(t *testing.T) {
	ctx := context.Background()
	st := newMemTimeline("A1")
	eng := app.NewMergeEngine(st, st, nil)

	_, err := eng.Regenerate(ctx, "ZZ")
	require.ErrorIs(t, err, domain.ErrMergeFailed)
	require.ErrorIs(t, err, domain.ErrUnitUnknown)

	st.failWriteMerged = true
	_, err = eng.Regenerate(ctx, "A1")
	require.True(t, errors.Is(err, domain.ErrMergeFailed) && errors.Is(err, errInjected), "got %v", err)

	st.failWriteMerged, st.failPublish = false, true
	_, err = eng.Regenerate(ctx, "A1")
	require.ErrorIs(t, err, domain.ErrMergeFailed)
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) InvalidateUnit(context.Context, string) { c.n++ }

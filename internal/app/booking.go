package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

// BookingSources is the file access the booking service needs.
type BookingSources interface {
	ReadSource(ctx context.Context, unit string, src domain.SourceFile) ([]domain.RawRecord, error)
	domain.SourceWriter
}

// BookingService mutates reservations and manual blocks under the merge-first
// contract: write the source, merge, and only report success when the merge and
// publish succeeded. On failure the source write is rolled back.
//
// Mutations of one unit are serialized in-process. Writers in other processes
// (syncd, cmctl) are not coordinated with.
type BookingService struct {
	src     BookingSources
	merger  Regenerator
	pending domain.PendingStore

	mu    sync.Mutex
	units map[string]*sync.Mutex
}

func NewBookingService(src BookingSources, m Regenerator, p domain.PendingStore) *BookingService {
	return &BookingService{src: src, merger: m, pending: p, units: map[string]*sync.Mutex{}}
}

type Reservation struct {
	ID     string         `json:"id"`
	Start  string         `json:"start" validate:"required,datetime=2006-01-02"`
	End    string         `json:"end" validate:"required,datetime=2006-01-02"`
	Source string         `json:"source"`
	Note   string         `json:"note"`
	Meta   map[string]any `json:"meta"`
}

type ManualBlock struct {
	ID     string `json:"id"`
	Start  string `json:"start" validate:"required,datetime=2006-01-02"`
	End    string `json:"end" validate:"required,datetime=2006-01-02"`
	Reason string `json:"reason" validate:"max=64"`
	Note   string `json:"note" validate:"max=500"`
	Export *bool  `json:"export"`
}

func (b *BookingService) lockUnit(unit string) func() {
	b.mu.Lock()
	m, ok := b.units[unit]
	if !ok {
		m = &sync.Mutex{}
		b.units[unit] = m
	}
	b.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Confirm appends a hard reservation and re-merges the unit.
func (b *BookingService) Confirm(ctx context.Context, unit string, r Reservation) (MergeReport, error) {
	if r.ID == "" {
		r.ID = "res-" + uuid.NewString()
	}
	row := domain.RawRecord{
		"id":     r.ID,
		"start":  r.Start,
		"end":    r.End,
		"status": string(domain.StatusReserved),
		"lock":   string(domain.LockHard),
		"source": r.Source,
	}
	if r.Source == "" {
		row["source"] = "local"
	}
	if r.Note != "" {
		row["note"] = r.Note
	}
	if len(r.Meta) > 0 {
		row["meta"] = r.Meta
	}
	if _, err := NormalizeSegment(row); err != nil {
		return MergeReport{}, err
	}
	return b.mutate(ctx, unit, domain.SourceReservations, func(rows []domain.RawRecord) ([]domain.RawRecord, error) {
		return append(rows, row), nil
	})
}

// Cancel removes every reservation row carrying the id.
func (b *BookingService) Cancel(ctx context.Context, unit, id string) (MergeReport, error) {
	return b.mutate(ctx, unit, domain.SourceReservations, removeByID(id))
}

// AddManualBlock stores a hard admin block. Blocks are exported unless the
// caller opts out.
func (b *BookingService) AddManualBlock(ctx context.Context, unit string, mb ManualBlock) (domain.Segment, MergeReport, error) {
	if mb.ID == "" {
		mb.ID = "blk-" + uuid.NewString()
	}
	export := true
	if mb.Export != nil {
		export = *mb.Export
	}
	row := domain.RawRecord{
		"id":     mb.ID,
		"start":  mb.Start,
		"end":    mb.End,
		"status": string(domain.StatusBlocked),
		"lock":   string(domain.LockHard),
		"export": export,
		"source": "admin",
	}
	if mb.Reason != "" {
		row["reason"] = mb.Reason
	}
	if mb.Note != "" {
		row["note"] = mb.Note
	}
	seg, err := NormalizeSegment(row)
	if err != nil {
		return domain.Segment{}, MergeReport{}, err
	}
	rep, err := b.mutate(ctx, unit, domain.SourceLocalBookings, func(rows []domain.RawRecord) ([]domain.RawRecord, error) {
		return append(rows, row), nil
	})
	return seg, rep, err
}

func (b *BookingService) RemoveManualBlock(ctx context.Context, unit, id string) (MergeReport, error) {
	return b.mutate(ctx, unit, domain.SourceLocalBookings, removeByID(id))
}

// Commit confirms an autopilot-approved request and moves it out of pending.
func (b *BookingService) Commit(ctx context.Context, req domain.Request) error {
	src := req.Source
	if src == "" {
		src = "autopilot"
	}
	_, err := b.Confirm(ctx, req.Unit, Reservation{
		ID:     req.ID,
		Start:  req.From,
		End:    req.To,
		Source: src,
		Meta:   map[string]any{"inquiry_id": req.ID, "confirmed_by": "autopilot"},
	})
	if err != nil {
		return err
	}
	if b.pending == nil {
		return nil
	}
	if err := b.pending.MarkConfirmed(ctx, req.ID); err != nil {
		// the dates stay held; only the inquiry bookkeeping is behind
		return fmt.Errorf("mark inquiry %s confirmed: %w", req.ID, err)
	}
	return nil
}

func (b *BookingService) mutate(ctx context.Context, unit string, src domain.SourceFile, fn func([]domain.RawRecord) ([]domain.RawRecord, error)) (MergeReport, error) {
	unlock := b.lockUnit(unit)
	defer unlock()

	snap, err := b.src.SnapshotSource(ctx, unit, src)
	if err != nil {
		return MergeReport{}, fmt.Errorf("snapshot %s: %w", src, err)
	}
	rows, err := b.src.ReadSource(ctx, unit, src)
	if err != nil {
		return MergeReport{}, fmt.Errorf("read %s: %w", src, err)
	}
	next, err := fn(rows)
	if err != nil {
		return MergeReport{}, err
	}
	if err := b.src.WriteSource(ctx, unit, src, next); err != nil {
		return MergeReport{}, fmt.Errorf("write %s: %w", src, err)
	}

	rep, err := b.merger.Regenerate(ctx, unit)
	if err == nil {
		return rep, nil
	}
	if rerr := b.src.RestoreSource(ctx, snap); rerr != nil {
		log.Error().Err(rerr).Str("unit", unit).Str("source", string(src)).Msg("rollback of source write failed")
		return rep, errors.Join(err, rerr)
	}
	if _, rerr := b.merger.Regenerate(ctx, unit); rerr != nil {
		log.Warn().Err(rerr).Str("unit", unit).Msg("re-merge after rollback failed")
	}
	log.Warn().Err(err).Str("unit", unit).Str("source", string(src)).Msg("source write rolled back after merge failure")
	return rep, err
}

func removeByID(id string) func([]domain.RawRecord) ([]domain.RawRecord, error) {
	return func(rows []domain.RawRecord) ([]domain.RawRecord, error) {
		out := make([]domain.RawRecord, 0, len(rows))
		for _, r := range rows {
			if id != "" && stringID(r["id"]) == id {
				continue
			}
			out = append(out, r)
		}
		if len(out) == len(rows) {
			return nil, fmt.Errorf("%w: id %q", domain.ErrNotFound, id)
		}
		return out, nil
	}
}

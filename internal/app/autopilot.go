package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"channel_manager/internal/adapters/observability"
	"channel_manager/internal/domain"
)

// Orchestrator runs the autopilot decision pipeline for one request:
// filters, refresh gate, range check, conflict-care, then lock and commit.
type Orchestrator struct {
	settings  *SettingsLoader
	gate      *RefreshGate
	ranges    *RangeChecker
	conflicts *ConflictScanner
	pending   domain.PendingStore
	locker    domain.UnitLocker
	committer domain.Committer
	audit     domain.AuditLog
	now       func() time.Time
}

type OrchestratorDeps struct {
	Settings  domain.SettingsSource
	DefaultTZ string
	Refresher domain.FeedRefresher
	Merger    Regenerator
	Timeline  domain.TimelineStore
	Pending   domain.PendingStore
	Locker    domain.UnitLocker
	Committer domain.Committer
	Audit     domain.AuditLog  // optional
	Now       func() time.Time // optional, defaults to time.Now
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		settings:  NewSettingsLoader(d.Settings, d.DefaultTZ),
		gate:      NewRefreshGate(d.Refresher, d.Merger),
		ranges:    NewRangeChecker(d.Timeline),
		conflicts: NewConflictScanner(d.Pending),
		pending:   d.Pending,
		locker:    d.Locker,
		committer: d.Committer,
		audit:     d.Audit,
		now:       now,
	}
}

// Precheck evaluates every check without locking or committing.
func (o *Orchestrator) Precheck(ctx context.Context, req domain.Request, trig domain.Trigger) domain.Decision {
	return o.finish(ctx, o.evaluate(ctx, req, trig))
}

// Run evaluates the request and, when every check passes, commits it while
// holding the unit lock. The lock is released before Run returns.
func (o *Orchestrator) Run(ctx context.Context, req domain.Request, trig domain.Trigger) domain.Decision {
	d := o.evaluate(ctx, req, trig)
	if d.Success {
		o.lockAndCommit(ctx, &d, req)
	}
	return o.finish(ctx, d)
}

// PrecheckByID loads a pending inquiry, evaluates it and stores the result on the inquiry.
func (o *Orchestrator) PrecheckByID(ctx context.Context, id string, trig domain.Trigger) (domain.Decision, error) {
	req, err := o.pending.GetPending(ctx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	d := o.evaluate(ctx, req, trig)
	o.savePrecheck(ctx, id, d)
	return o.finish(ctx, d), nil
}

// RunByID is PrecheckByID followed by lock and commit when the precheck is green.
func (o *Orchestrator) RunByID(ctx context.Context, id string, trig domain.Trigger) (domain.Decision, error) {
	req, err := o.pending.GetPending(ctx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	d := o.evaluate(ctx, req, trig)
	o.savePrecheck(ctx, id, d)
	if d.Success {
		o.lockAndCommit(ctx, &d, req)
	}
	return o.finish(ctx, d), nil
}

func (o *Orchestrator) evaluate(ctx context.Context, req domain.Request, trig domain.Trigger) domain.Decision {
	if trig == "" {
		trig = domain.TriggerOnAccept
	}
	now := o.now()
	s := o.settings.Load(ctx, req.Unit, now)

	d := domain.Decision{
		DecisionID: uuid.NewString(),
		RequestID:  req.ID,
		Unit:       req.Unit,
		From:       req.From,
		To:         req.To,
		Nights:     req.Nights,
		Trigger:    trig,
		Enabled:    s.Enabled,
		TestMode:   s.TestMode,
		Stages:     []domain.Stage{domain.StageInit},
		ConflictCare: domain.ConflictCare{
			PendingConflicts: []domain.PendingConflict{},
		},
	}

	if req.Unit == "" || req.From == "" || req.To == "" || req.Nights <= 0 {
		d.Reason = domain.ReasonMissingFields
		return d
	}
	if !s.Enabled {
		d.Reason = domain.ReasonDisabled
		return d
	}
	d.Attempted = true

	f := CheckFilters(req, s, now)
	d.Filters = &f
	if !f.OK {
		d.Reason = f.Reason
		return d
	}
	d.Stages = append(d.Stages, domain.StageFiltersChecked)

	g := o.gate.Check(ctx, req.Unit, s, trig)
	d.Refresh = g.Result
	if !g.OK {
		d.Reason = g.Reason
		return d
	}
	d.Stages = append(d.Stages, domain.StageRefreshChecked)

	d.RangeFree = o.ranges.Free(ctx, req.Unit, req.From, req.To)
	if !d.RangeFree {
		d.Reason = domain.ReasonRangeNotFree
		return d
	}
	d.Stages = append(d.Stages, domain.StageRangeChecked)

	cc, err := o.conflicts.Scan(ctx, req.Unit, req.From, req.To, req.ID)
	if err != nil {
		// cannot prove there is no competitor; leave it to a human
		log.Error().Err(err).Str("unit", req.Unit).Msg("conflict-care scan failed")
		d.Reason = domain.ReasonPendingConflict
		return d
	}
	d.ConflictCare = cc
	if cc.HasConflicts {
		d.Reason = domain.ReasonPendingConflict
		return d
	}
	d.Stages = append(d.Stages, domain.StageConflictChecked)

	d.Success, d.Reason = true, domain.ReasonOK
	return d
}

func (o *Orchestrator) lockAndCommit(ctx context.Context, d *domain.Decision, req domain.Request) {
	if req.Unit == "" {
		d.Success, d.Reason = false, domain.ReasonUnitUnknown
		return
	}
	lock, err := o.locker.TryAcquire(req.Unit)
	if err != nil {
		d.Success, d.Reason = false, domain.ReasonUnitLockBusy
		d.Lock = &domain.LockOutcome{Error: lockError(err)}
		return
	}
	defer lock.Release()
	d.Lock = &domain.LockOutcome{Acquired: true}
	d.Stages = append(d.Stages, domain.StageLocked)

	d.Commit = &domain.CommitOutcome{}
	if o.committer == nil {
		d.Commit.Error = "no committer configured"
		return
	}
	if err := o.committer.Commit(ctx, req); err != nil {
		log.Error().Err(err).Str("unit", req.Unit).Str("request_id", req.ID).Msg("autopilot commit failed")
		d.Commit.Error = err.Error()
		return
	}
	d.Commit.OK = true
}

func lockError(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnitUnknown):
		return "unit_dir_missing"
	case errors.Is(err, domain.ErrLockBusy):
		return "lock_busy"
	}
	return err.Error()
}

func (o *Orchestrator) savePrecheck(ctx context.Context, id string, d domain.Decision) {
	if err := o.pending.SavePrecheck(ctx, id, d); err != nil {
		log.Warn().Err(err).Str("request_id", id).Msg("store precheck on inquiry failed")
	}
}

func (o *Orchestrator) finish(ctx context.Context, d domain.Decision) domain.Decision {
	d.Stages = append(d.Stages, domain.StageDecided)
	d.DecidedAt = o.now().UTC()

	observability.ObserveDecision(string(d.Reason))
	ev := log.Info()
	if !d.Success {
		ev = log.Warn()
	}
	ev.Str("decision_id", d.DecisionID).
		Str("request_id", d.RequestID).
		Str("unit", d.Unit).
		Str("trigger", string(d.Trigger)).
		Bool("attempted", d.Attempted).
		Bool("success", d.Success).
		Bool("committed", d.Committed()).
		Str("reason", string(d.Reason)).
		Msg("autopilot decision")

	if o.audit != nil {
		if err := o.audit.RecordDecision(ctx, d); err != nil {
			log.Warn().Err(err).Str("decision_id", d.DecisionID).Msg("audit decision failed")
		}
	}
	return d
}

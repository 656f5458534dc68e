package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"channel_manager/internal/domain"
)

// Regenerator re-runs the merge cycle of one unit.
type Regenerator interface {
	Regenerate(ctx context.Context, unit string) (MergeReport, error)
}

// RefreshGate makes sure external feed data is fresh before the timeline is
// trusted for an auto-confirm decision.
type RefreshGate struct {
	refresher domain.FeedRefresher
	merger    Regenerator
}

func NewRefreshGate(r domain.FeedRefresher, m Regenerator) *RefreshGate {
	return &RefreshGate{refresher: r, merger: m}
}

type GateResult struct {
	Ran    bool
	OK     bool
	Reason domain.ReasonCode
	Result *domain.RefreshResult
}

// Check applies the fail-closed policy. Outside test mode a refresh is
// mandatory: no refresher is ics_refresh_not_possible, any failed or timed out
// refresh is ics_refresh_failed. In test mode the gate only runs when the
// trigger asks for it, and only a missing refresher is tolerated.
func (g *RefreshGate) Check(ctx context.Context, unit string, s domain.AutopilotSettings, trig domain.Trigger) GateResult {
	if s.TestMode && !s.RequiresRefresh(trig) {
		return GateResult{OK: true, Reason: domain.ReasonOK}
	}

	res := g.refresh(ctx, unit)
	out := GateResult{Ran: true, Result: &res}

	switch {
	case res.OK():
		out.OK, out.Reason = true, domain.ReasonOK
	case res.Outcome == domain.RefreshUnavailable && s.TestMode:
		out.OK, out.Reason = true, domain.ReasonOK
	case res.Outcome == domain.RefreshUnavailable:
		out.Reason = domain.ReasonRefreshNotPossible
	default:
		out.Reason = domain.ReasonRefreshFailed
	}

	log.Info().
		Str("unit", unit).
		Str("outcome", string(res.Outcome)).
		Bool("test_mode", s.TestMode).
		Str("reason", string(out.Reason)).
		Msg("refresh gate")
	return out
}

func (g *RefreshGate) refresh(ctx context.Context, unit string) domain.RefreshResult {
	if g.refresher == nil {
		return domain.RefreshResult{Outcome: domain.RefreshUnavailable, Error: "no refresher configured"}
	}
	start := time.Now()
	res := g.refresher.Refresh(ctx, unit)
	if res.Outcome == "" {
		res.Outcome = domain.RefreshError
	}
	if res.OK() && g.merger != nil {
		if _, err := g.merger.Regenerate(ctx, unit); err != nil {
			res.Outcome, res.Error = domain.RefreshError, "merge_failed: "+err.Error()
		} else {
			res.Merged = true
		}
	}
	res.Duration = time.Since(start)
	return res
}

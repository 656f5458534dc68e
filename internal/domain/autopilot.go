package domain

import "time"

type ReasonCode string

const (
	ReasonDisabled           ReasonCode = "disabled"
	ReasonMissingFields      ReasonCode = "missing_fields"
	ReasonMissingRange       ReasonCode = "missing_range"
	ReasonSourceNotAllowed   ReasonCode = "source_not_allowed"
	ReasonTooSoon            ReasonCode = "too_soon"
	ReasonTooLong            ReasonCode = "too_long"
	ReasonInvalidDates       ReasonCode = "invalid_dates"
	ReasonRefreshNotPossible ReasonCode = "ics_refresh_not_possible"
	ReasonRefreshFailed      ReasonCode = "ics_refresh_failed"
	ReasonRangeNotFree       ReasonCode = "range_not_free"
	ReasonPendingConflict    ReasonCode = "pending_conflict"
	ReasonUnitUnknown        ReasonCode = "unit_unknown"
	ReasonUnitLockBusy       ReasonCode = "unit_lock_busy"
	ReasonOK                 ReasonCode = "ok"
)

// Stage is a state of the autopilot decision machine.
type Stage string

const (
	StageInit            Stage = "init"
	StageFiltersChecked  Stage = "filters_checked"
	StageRefreshChecked  Stage = "refresh_checked"
	StageRangeChecked    Stage = "range_checked"
	StageConflictChecked Stage = "conflict_checked"
	StageLocked          Stage = "locked"
	StageDecided         Stage = "decided"
)

// Trigger names the event that asked for an autopilot decision.
type Trigger string

const (
	TriggerOnAccept       Trigger = "on_accept"
	TriggerOnGuestConfirm Trigger = "on_guest_confirm"
)

const DefaultTimezone = "Europe/Ljubljana"

// AutopilotSettings is resolved once per request and passed down the pipeline.
type AutopilotSettings struct {
	Enabled                      bool     `json:"enabled"`
	Mode                         string   `json:"mode"`
	TestMode                     bool     `json:"test_mode"`
	TestModeUntil                string   `json:"test_mode_until,omitempty"`
	MinDaysBeforeArrival         int      `json:"min_days_before_arrival"`
	MaxNights                    int      `json:"max_nights"`
	AllowedSources               []string `json:"allowed_sources"`
	RequireRefreshOnAccept       bool     `json:"check_ics_on_accept"`
	RequireRefreshOnGuestConfirm bool     `json:"check_ics_on_guest_confirm"`
	Timezone                     string   `json:"timezone"`

	Location *time.Location `json:"-"`
}

func (s AutopilotSettings) RequiresRefresh(t Trigger) bool {
	if t == TriggerOnGuestConfirm {
		return s.RequireRefreshOnGuestConfirm
	}
	return s.RequireRefreshOnAccept
}

// Request is a pending booking inquiry under evaluation.
type Request struct {
	ID     string `json:"id"`
	Unit   string `json:"unit"`
	From   string `json:"from"`
	To     string `json:"to"`
	Nights int    `json:"nights"`
	Status string `json:"status,omitempty"`
	Source string `json:"source,omitempty"`
}

type FilterResult struct {
	OK                bool       `json:"ok"`
	Reason            ReasonCode `json:"reason"`
	Source            string     `json:"source,omitempty"`
	Allowed           []string   `json:"allowed,omitempty"`
	DaysBeforeArrival int        `json:"days_before_arrival"`
	MinDays           int        `json:"min_days,omitempty"`
	Nights            int        `json:"nights"`
	MaxNights         int        `json:"max_nights,omitempty"`
}

type RefreshOutcome string

const (
	RefreshOK          RefreshOutcome = "ok"
	RefreshError       RefreshOutcome = "error"
	RefreshTimeout     RefreshOutcome = "timeout"
	RefreshUnavailable RefreshOutcome = "unavailable"
)

type RefreshResult struct {
	Attempted bool           `json:"attempted"`
	Outcome   RefreshOutcome `json:"outcome"`
	Refresher string         `json:"refresher,omitempty"`
	Platforms []string       `json:"platforms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Merged    bool           `json:"merged"`
	Duration  time.Duration  `json:"duration_ns"`
}

func (r RefreshResult) OK() bool { return r.Outcome == RefreshOK }

type PendingConflict struct {
	ID     string `json:"id"`
	Unit   string `json:"unit"`
	From   string `json:"from"`
	To     string `json:"to"`
	Status string `json:"status,omitempty"`
	Source string `json:"source,omitempty"`
}

type ConflictCare struct {
	HasConflicts     bool              `json:"has_conflicts"`
	PendingConflicts []PendingConflict `json:"pending_conflicts"`
}

type LockOutcome struct {
	Acquired bool   `json:"acquired"`
	Error    string `json:"error,omitempty"`
}

type CommitOutcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Decision is the auditable result of one autopilot evaluation.
type Decision struct {
	DecisionID   string         `json:"decision_id"`
	RequestID    string         `json:"request_id"`
	Unit         string         `json:"unit"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	Nights       int            `json:"nights"`
	Trigger      Trigger        `json:"trigger"`
	Enabled      bool           `json:"enabled"`
	TestMode     bool           `json:"test_mode"`
	Attempted    bool           `json:"attempted"`
	Success      bool           `json:"success"`
	Reason       ReasonCode     `json:"reason"`
	Stages       []Stage        `json:"stages"`
	Filters      *FilterResult  `json:"filters,omitempty"`
	Refresh      *RefreshResult `json:"ics_refresh,omitempty"`
	RangeFree    bool           `json:"range_free"`
	ConflictCare ConflictCare   `json:"conflict_care"`
	Lock         *LockOutcome   `json:"lock,omitempty"`
	Commit       *CommitOutcome `json:"commit,omitempty"`
	DecidedAt    time.Time      `json:"decided_at"`
}

// Committed reports whether the commit step ran and succeeded.
func (d Decision) Committed() bool { return d.Commit != nil && d.Commit.OK }

// Reached reports whether the decision passed through the given stage.
func (d Decision) Reached(s Stage) bool {
	for _, st := range d.Stages {
		if st == s {
			return true
		}
	}
	return false
}

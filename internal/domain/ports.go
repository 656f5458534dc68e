package domain

import (
	"context"
	"encoding/json"
	"time"
)

// SourceFile names a per-unit source record file.
type SourceFile string

const (
	SourceLocalBookings SourceFile = "local_bookings"
	SourceReservations  SourceFile = "occupancy"
)

// SourceStore is the read side the aggregator collects from.
type SourceStore interface {
	ReadSource(ctx context.Context, unit string, src SourceFile) ([]RawRecord, error)
	ReadExternal(ctx context.Context, unit, platform string) ([]RawRecord, error)
	// CachedPlatforms lists platforms with a fetched feed file on disk, sorted.
	CachedPlatforms(ctx context.Context, unit string) ([]string, error)
	ReadIntegration(ctx context.Context, unit string) (IntegrationConfig, error)
}

// SourceWriter mutates per-unit source files. Snapshots back the merge-first rollback.
type SourceWriter interface {
	WriteSource(ctx context.Context, unit string, src SourceFile, rows []RawRecord) error
	SnapshotSource(ctx context.Context, unit string, src SourceFile) (SourceSnapshot, error)
	RestoreSource(ctx context.Context, snap SourceSnapshot) error
}

type SourceSnapshot struct {
	Unit    string
	Source  SourceFile
	Existed bool
	Data    []byte
}

// TimelineStore persists the canonical timeline and the published view.
type TimelineStore interface {
	UnitExists(ctx context.Context, unit string) (bool, error)
	WriteMerged(ctx context.Context, unit string, segs []Segment) error
	// ReadMerged returns the raw merged document; ErrNotFound when absent.
	ReadMerged(ctx context.Context, unit string) ([]byte, error)
	WritePublished(ctx context.Context, unit string, segs []Segment) error
	ReadPublished(ctx context.Context, unit string) ([]RawRecord, error)
}

// ExternalFeed is the stored form of one fetched platform calendar.
type ExternalFeed struct {
	Unit      string    `json:"unit"`
	Platform  string    `json:"platform"`
	FetchedAt string    `json:"fetched_at"`
	Count     int       `json:"count"`
	Events    []Segment `json:"events"`
}

type FeedStore interface {
	SaveFeed(ctx context.Context, unit string, raw []byte, feed ExternalFeed) error
	// MarkFeedStatus records last_ok (fetchErr == nil) or last_err on the connection.
	MarkFeedStatus(ctx context.Context, unit, platform string, fetchErr error, at time.Time) error
}

type UnitLister interface {
	ListUnits(ctx context.Context) ([]string, error)
}

// SettingsSource returns the raw autopilot sections of the global and unit settings files.
type SettingsSource interface {
	AutopilotLayers(ctx context.Context, unit string) (global, unitLayer map[string]any, err error)
}

type PendingStore interface {
	GetPending(ctx context.Context, id string) (Request, error)
	ListPending(ctx context.Context, unit string) ([]Request, error)
	SavePrecheck(ctx context.Context, id string, d Decision) error
	MarkConfirmed(ctx context.Context, id string) error
}

// FeedRefresher refreshes external calendar data for one unit under a bounded timeout.
type FeedRefresher interface {
	Refresh(ctx context.Context, unit string) RefreshResult
}

type UnitLock interface {
	Release()
}

// UnitLocker hands out non-blocking exclusive per-unit locks.
type UnitLocker interface {
	TryAcquire(unit string) (UnitLock, error)
}

// Committer performs the confirmation once the autopilot says ok.
type Committer interface {
	Commit(ctx context.Context, req Request) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

type FeedFetch struct {
	Unit      string
	Platform  string
	URL       string
	Outcome   RefreshOutcome
	Events    int
	Error     string
	Duration  time.Duration
	FetchedAt time.Time
}

// AuditLog is the append-only trail of decisions and feed fetches.
type AuditLog interface {
	RecordDecision(ctx context.Context, d Decision) error
	LogFeedFetch(ctx context.Context, f FeedFetch) error
}

// DecisionRecord is one audited decision as read back from the trail.
type DecisionRecord struct {
	DecisionID string          `json:"decision_id"`
	RequestID  string          `json:"request_id"`
	Unit       string          `json:"unit"`
	Trigger    Trigger         `json:"trigger"`
	Reason     string          `json:"reason"`
	Success    bool            `json:"success"`
	Committed  bool            `json:"committed"`
	TestMode   bool            `json:"test_mode"`
	DecidedAt  time.Time       `json:"decided_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

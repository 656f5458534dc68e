package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"channel_manager/internal/domain"
)

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Repo is the append-only audit trail of autopilot decisions and feed fetches.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) RecordDecision(ctx context.Context, d domain.Decision) error {
	stages, err := json.Marshal(d.Stages)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, insertDecisionSQL,
		d.DecisionID,
		d.RequestID,
		d.Unit,
		string(d.Trigger),
		string(d.Reason),
		d.Success,
		d.Committed(),
		d.TestMode,
		string(stages),
		string(payload),
		d.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.DecisionID, err)
	}
	return nil
}

func (r *Repo) LogFeedFetch(ctx context.Context, f domain.FeedFetch) error {
	_, err := r.db.ExecContext(ctx, insertFeedFetchSQL,
		f.Unit,
		f.Platform,
		valStr(f.URL),
		string(f.Outcome),
		f.Events,
		valStr(f.Error),
		f.Duration.Milliseconds(),
		f.FetchedAt.UTC(),
	)
	return err
}

// ListDecisions returns the newest decisions for one request.
func (r *Repo) ListDecisions(ctx context.Context, requestID string, limit int) ([]domain.DecisionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listDecisionsSQL, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DecisionRecord
	for rows.Next() {
		var (
			rec     domain.DecisionRecord
			trigger string
			payload sql.RawBytes
		)
		if err := rows.Scan(
			&rec.DecisionID,
			&rec.RequestID,
			&rec.Unit,
			&trigger,
			&rec.Reason,
			&rec.Success,
			&rec.Committed,
			&rec.TestMode,
			&payload,
			&rec.DecidedAt,
		); err != nil {
			return nil, err
		}
		rec.Trigger = domain.Trigger(trigger)
		if len(payload) > 0 {
			rec.Payload = append([]byte(nil), payload...)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LastFetch returns the most recent fetch of one platform feed.
func (r *Repo) LastFetch(ctx context.Context, unit, platform string) (domain.FeedFetch, error) {
	f := domain.FeedFetch{Unit: unit, Platform: platform}
	var (
		outcome string
		errMsg  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, lastFetchSQL, unit, platform).Scan(&outcome, &f.Events, &errMsg, &f.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return f, domain.ErrNotFound
	}
	if err != nil {
		return f, err
	}
	f.Outcome = domain.RefreshOutcome(outcome)
	if errMsg.Valid {
		f.Error = errMsg.String
	}
	return f, nil
}

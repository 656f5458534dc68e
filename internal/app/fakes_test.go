package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"channel_manager/internal/domain"
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory stand-in for the file store.
type memStore struct {
	mu sync.Mutex

	units     map[string]bool
	sources   map[string]map[domain.SourceFile][]domain.RawRecord
	external  map[string]map[string][]domain.RawRecord
	cfg       map[string]domain.IntegrationConfig
	merged    map[string][]byte
	published map[string][]domain.RawRecord

	global       map[string]any
	unitSettings map[string]map[string]any
	settingsErr  error

	pending   map[string]domain.Request
	prechecks map[string]domain.Decision
	confirmed []string

	failWriteMerged bool
	failPublish     bool
	failListPending bool
	mergedWrites    int
}

func newMemTimeline(units ...string) *memStore {
	m := &memStore{
		units:        map[string]bool{},
		sources:      map[string]map[domain.SourceFile][]domain.RawRecord{},
		external:     map[string]map[string][]domain.RawRecord{},
		cfg:          map[string]domain.IntegrationConfig{},
		merged:       map[string][]byte{},
		published:    map[string][]domain.RawRecord{},
		unitSettings: map[string]map[string]any{},
		pending:      map[string]domain.Request{},
		prechecks:    map[string]domain.Decision{},
	}
	for _, u := range units {
		m.units[u] = true
	}
	return m
}

func (m *memStore) setSource(unit string, src domain.SourceFile, rows ...domain.RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sources[unit] == nil {
		m.sources[unit] = map[domain.SourceFile][]domain.RawRecord{}
	}
	m.sources[unit][src] = rows
}

func (m *memStore) setExternal(unit, platform string, rows ...domain.RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.external[unit] == nil {
		m.external[unit] = map[string][]domain.RawRecord{}
	}
	m.external[unit][platform] = rows
}

func (m *memStore) setMerged(unit string, doc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merged[unit] = []byte(doc)
}

/********** SourceStore + SourceWriter **********/

func (m *memStore) ReadSource(_ context.Context, unit string, src domain.SourceFile) ([]domain.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.sources[unit][src]), nil
}

func (m *memStore) ReadExternal(_ context.Context, unit, platform string) ([]domain.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.external[unit][platform]), nil
}

func (m *memStore) CachedPlatforms(_ context.Context, unit string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.external[unit] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) ReadIntegration(_ context.Context, unit string) (domain.IntegrationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg[unit], nil
}

func (m *memStore) WriteSource(_ context.Context, unit string, src domain.SourceFile, rows []domain.RawRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sources[unit] == nil {
		m.sources[unit] = map[domain.SourceFile][]domain.RawRecord{}
	}
	m.sources[unit][src] = cloneRows(rows)
	return nil
}

func (m *memStore) SnapshotSource(_ context.Context, unit string, src domain.SourceFile) (domain.SourceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.sources[unit][src]
	b, _ := json.Marshal(rows)
	return domain.SourceSnapshot{Unit: unit, Source: src, Existed: ok, Data: b}, nil
}

func (m *memStore) RestoreSource(_ context.Context, snap domain.SourceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !snap.Existed {
		delete(m.sources[snap.Unit], snap.Source)
		return nil
	}
	var rows []domain.RawRecord
	if err := json.Unmarshal(snap.Data, &rows); err != nil {
		return err
	}
	m.sources[snap.Unit][snap.Source] = rows
	return nil
}

/********** TimelineStore **********/

func (m *memStore) UnitExists(_ context.Context, unit string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.units[unit], nil
}

func (m *memStore) WriteMerged(_ context.Context, unit string, segs []domain.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWriteMerged {
		return errInjected
	}
	if segs == nil {
		segs = []domain.Segment{}
	}
	b, err := json.MarshalIndent(segs, "", "  ")
	if err != nil {
		return err
	}
	m.merged[unit] = append(b, '\n')
	m.mergedWrites++
	return nil
}

func (m *memStore) ReadMerged(_ context.Context, unit string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.merged[unit]
	if !ok {
		return nil, fmt.Errorf("%w: merged %s", domain.ErrNotFound, unit)
	}
	return append([]byte(nil), b...), nil
}

func (m *memStore) WritePublished(_ context.Context, unit string, segs []domain.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPublish {
		return errInjected
	}
	rows := make([]domain.RawRecord, 0, len(segs))
	for _, s := range segs {
		b, _ := json.Marshal(s)
		var r domain.RawRecord
		_ = json.Unmarshal(b, &r)
		rows = append(rows, r)
	}
	m.published[unit] = rows
	return nil
}

func (m *memStore) ReadPublished(_ context.Context, unit string) ([]domain.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.published[unit]), nil
}

/********** UnitLister + SettingsSource **********/

func (m *memStore) ListUnits(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for u := range m.units {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) AutopilotLayers(_ context.Context, unit string) (map[string]any, map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingsErr != nil {
		return nil, nil, m.settingsErr
	}
	return m.global, m.unitSettings[unit], nil
}

/********** PendingStore **********/

func (m *memStore) addPending(reqs ...domain.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reqs {
		m.pending[r.ID] = r
	}
}

func (m *memStore) GetPending(_ context.Context, id string) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.pending[id]
	if !ok {
		return domain.Request{}, fmt.Errorf("%w: inquiry %s", domain.ErrNotFound, id)
	}
	return r, nil
}

func (m *memStore) ListPending(_ context.Context, unit string) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListPending {
		return nil, errInjected
	}
	var out []domain.Request
	for _, r := range m.pending {
		if unit == "" || r.Unit == unit {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SavePrecheck(_ context.Context, id string, d domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prechecks[id] = d
	return nil
}

func (m *memStore) MarkConfirmed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; !ok {
		return fmt.Errorf("%w: inquiry %s", domain.ErrNotFound, id)
	}
	delete(m.pending, id)
	m.confirmed = append(m.confirmed, id)
	return nil
}

func cloneRows(in []domain.RawRecord) []domain.RawRecord {
	if in == nil {
		return nil
	}
	out := make([]domain.RawRecord, len(in))
	for i, r := range in {
		c := make(domain.RawRecord, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

/********** refresher, locker, committer, audit **********/

type fakeRefresher struct {
	mu    sync.Mutex
	res   domain.RefreshResult
	calls int
}

func (f *fakeRefresher) Refresh(context.Context, string) domain.RefreshResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res
}

type memLock struct {
	l    *memLocker
	unit string
	once sync.Once
}

func (l *memLock) Release() {
	l.once.Do(func() {
		l.l.mu.Lock()
		delete(l.l.held, l.unit)
		l.l.mu.Unlock()
	})
}

type memLocker struct {
	mu      sync.Mutex
	held    map[string]bool
	missing map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}, missing: map[string]bool{}}
}

func (l *memLocker) TryAcquire(unit string) (domain.UnitLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.missing[unit] {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnitUnknown, unit)
	}
	if l.held[unit] {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockBusy, unit)
	}
	l.held[unit] = true
	return &memLock{l: l, unit: unit}, nil
}

func (l *memLocker) isHeld(unit string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[unit]
}

type recordingCommitter struct {
	mu          sync.Mutex
	commits     []domain.Request
	delay       time.Duration
	err         error
	inFlight    int
	maxInFlight int
}

func (c *recordingCommitter) Commit(_ context.Context, req domain.Request) error {
	c.mu.Lock()
	c.inFlight++
	c.maxInFlight = max(c.maxInFlight, c.inFlight)
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--
	if c.err != nil {
		return c.err
	}
	c.commits = append(c.commits, req)
	return nil
}

func (c *recordingCommitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commits)
}

type memAudit struct {
	mu        sync.Mutex
	decisions []domain.Decision
	fetches   []domain.FeedFetch
}

func (a *memAudit) RecordDecision(_ context.Context, d domain.Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisions = append(a.decisions, d)
	return nil
}

func (a *memAudit) LogFeedFetch(_ context.Context, f domain.FeedFetch) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches = append(a.fetches, f)
	return nil
}

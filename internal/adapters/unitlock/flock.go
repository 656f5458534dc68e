// Package unitlock provides the non-blocking per-unit lock held while the
// autopilot commits. It is an flock(2) on units/<U>/autopilot.lock, so it
// excludes other goroutines and other processes on the same host alike.
package unitlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"channel_manager/internal/adapters/observability"
	"channel_manager/internal/domain"
)

const FileName = "autopilot.lock"

type Manager struct {
	unitsRoot string
}

func New(unitsRoot string) *Manager { return &Manager{unitsRoot: unitsRoot} }

type fileLock struct {
	f    *os.File
	once sync.Once
}

// TryAcquire never waits. A missing unit directory fails with ErrUnitUnknown
// and a held lock with ErrLockBusy.
func (m *Manager) TryAcquire(unit string) (domain.UnitLock, error) {
	if unit == "" || filepath.Base(unit) != unit || unit == "." || unit == ".." {
		observability.ObserveLock("missing")
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidUnit, unit)
	}
	dir := filepath.Join(m.unitsRoot, unit)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		observability.ObserveLock("missing")
		return nil, fmt.Errorf("%w: %s", domain.ErrUnitUnknown, unit)
	}

	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_RDWR|os.O_CREATE, 0o664)
	if err != nil {
		observability.ObserveLock("error")
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			observability.ObserveLock("busy")
			return nil, fmt.Errorf("%w: %s", domain.ErrLockBusy, unit)
		}
		observability.ObserveLock("error")
		return nil, fmt.Errorf("flock %s: %w", unit, err)
	}
	observability.ObserveLock("acquired")
	return &fileLock{f: f}, nil
}

// Release is safe to call more than once.
func (l *fileLock) Release() {
	l.once.Do(func() {
		_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
		_ = l.f.Close()
		observability.ObserveLock("released")
	})
}

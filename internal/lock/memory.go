package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-process Locker used by tests and local dry
// runs. It enforces the same single-holder semantics as the remote
// backends.
type MemoryLocker struct {
	mu             sync.Mutex
	locks          map[string]Info
	StaleThreshold time.Duration
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]Info)}
}

// Acquire implements Locker.
func (m *MemoryLocker) Acquire(_ context.Context, key string, info Info) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.locks[key]; ok {
		return nil, &HeldError{Info: held, Stale: IsStale(held, m.StaleThreshold)}
	}

	info.ID = newID()
	if info.Created.IsZero() {
		info.Created = time.Now()
	}
	m.locks[key] = info
	return &Handle{Key: key, Info: info}, nil
}

// Release implements Locker.
func (m *MemoryLocker) Release(_ context.Context, h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[h.Key]
	if !ok {
		return ErrNotLocked
	}
	if held.ID != h.Info.ID {
		return ErrLockIDMismatch
	}
	delete(m.locks, h.Key)
	return nil
}

// Inspect implements Locker.
func (m *MemoryLocker) Inspect(_ context.Context, key string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.locks[key]; ok {
		out := held
		return &out, nil
	}
	return nil, nil
}

// ForceRelease implements Locker.
func (m *MemoryLocker) ForceRelease(_ context.Context, key, lockID string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[key]
	if !ok {
		return nil, ErrNotLocked
	}
	if held.ID != lockID {
		return nil, ErrLockIDMismatch
	}
	delete(m.locks, key)
	out := held
	return &out, nil
}

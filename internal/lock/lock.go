// Package lock implements the mutual-exclusion record guarding
// mutating provisioning operations. At most one holder may own a key
// at a time; a lock left behind by an interrupted run is reported as
// stale but is never cleared automatically. Removal requires the
// operator-facing force-release path with the exact lock ID.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Info describes a lock record.
type Info struct {
	ID        string    `json:"id"`
	Holder    string    `json:"holder"`
	Operation string    `json:"operation"`
	Created   time.Time `json:"created"`
}

// Handle is a successfully acquired lock. It must be released by the
// same code path that acquired it, on success and failure alike.
type Handle struct {
	Key  string
	Info Info
}

// ErrNotLocked is returned when releasing or force-releasing a key
// that holds no lock.
var ErrNotLocked = errors.New("state is not locked")

// ErrLockIDMismatch is returned when a release names a lock ID other
// than the one currently held.
var ErrLockIDMismatch = errors.New("lock ID does not match current holder")

// HeldError is returned when acquisition fails because another
// operation holds the lock.
type HeldError struct {
	Info  Info
	Stale bool
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("lock held by %s since %s (operation %q, id %s)",
		e.Info.Holder, e.Info.Created.Format(time.RFC3339), e.Info.Operation, e.Info.ID)
	if e.Stale {
		msg += "; lock looks stale, inspect before force-unlocking"
	}
	return msg
}

// Locker is the mutual-exclusion backend.
type Locker interface {
	// Acquire takes the lock for key, failing with *HeldError if it
	// is already held. The ID field of info is assigned by the locker.
	Acquire(ctx context.Context, key string, info Info) (*Handle, error)

	// Release gives up a held lock.
	Release(ctx context.Context, h *Handle) error

	// Inspect returns the current lock record for key, or nil when
	// the key is unlocked.
	Inspect(ctx context.Context, key string) (*Info, error)

	// ForceRelease removes the lock for key provided lockID matches
	// the held record exactly. It returns the removed record for
	// audit logging.
	ForceRelease(ctx context.Context, key, lockID string) (*Info, error)
}

// DefaultStaleThreshold is the age beyond which a held lock is
// reported stale.
const DefaultStaleThreshold = 15 * time.Minute

// IsStale reports whether a lock record is older than the threshold.
// A zero threshold uses the default.
func IsStale(info Info, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return time.Since(info.Created) > threshold
}

// newID returns a fresh lock ID.
func newID() string {
	return ulid.Make().String()
}

// Package await provides the single poll-until-ready primitive shared
// by data-store readiness gating, rollout waits, and health checks.
package await

import (
	"context"
	"fmt"
	"time"
)

// Probe reports whether the awaited condition holds. Returning an
// error does not abort the wait; the last error is carried on the
// timeout for diagnosis.
type Probe func(ctx context.Context) (bool, error)

// TimeoutError is returned when the condition does not hold within
// the timeout.
type TimeoutError struct {
	Resource string
	Elapsed  time.Duration
	LastErr  error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("%s not ready after %s (last error: %v)", e.Resource, e.Elapsed, e.LastErr)
	}
	return fmt.Sprintf("%s not ready after %s", e.Resource, e.Elapsed)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// Await polls probe at the given interval until it reports true, the
// timeout elapses, or the context is cancelled. The probe runs once
// immediately before the first sleep.
func Await(ctx context.Context, resource string, interval, timeout time.Duration, probe Probe) error {
	start := time.Now()
	deadline := start.Add(timeout)

	var lastErr error
	for {
		ok, err := probe(ctx)
		if err != nil {
			lastErr = err
		} else if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Resource: resource, Elapsed: time.Since(start).Round(time.Second), LastErr: lastErr}
		}
		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMemoryLockerSingleHolder(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	h, err := l.Acquire(ctx, "env/production", Info{Holder: "op-a", Operation: "apply"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Info.ID == "" {
		t.Error("acquired handle has no lock ID")
	}

	_, err = l.Acquire(ctx, "env/production", Info{Holder: "op-b", Operation: "apply"})
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("second acquire error = %v, want *HeldError", err)
	}
	if held.Info.Holder != "op-a" {
		t.Errorf("held by %q, want op-a", held.Info.Holder)
	}

	// A different key is independent.
	if _, err := l.Acquire(ctx, "env/staging", Info{Holder: "op-b"}); err != nil {
		t.Fatalf("acquire other key: %v", err)
	}

	if err := l.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := l.Acquire(ctx, "env/production", Info{Holder: "op-b"}); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestMemoryLockerConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan *Handle, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h, err := l.Acquire(ctx, "shared", Info{Holder: "worker"}); err == nil {
				wins <- h
			}
		}()
	}
	wg.Wait()
	close(wins)

	var handles []*Handle
	for h := range wins {
		handles = append(handles, h)
	}
	if len(handles) != 1 {
		t.Fatalf("%d concurrent acquires succeeded, want exactly 1", len(handles))
	}
}

func TestMemoryLockerReleaseRequiresMatchingID(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	h, err := l.Acquire(ctx, "k", Info{Holder: "a"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	bogus := &Handle{Key: "k", Info: Info{ID: "not-the-id"}}
	if err := l.Release(ctx, bogus); !errors.Is(err, ErrLockIDMismatch) {
		t.Errorf("release with wrong ID = %v, want ErrLockIDMismatch", err)
	}

	// The real holder can still release.
	if err := l.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(ctx, h); !errors.Is(err, ErrNotLocked) {
		t.Errorf("double release = %v, want ErrNotLocked", err)
	}
}

func TestMemoryLockerForceRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	h, err := l.Acquire(ctx, "k", Info{Holder: "interrupted-run", Operation: "apply"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := l.ForceRelease(ctx, "k", "wrong"); !errors.Is(err, ErrLockIDMismatch) {
		t.Errorf("force-release with wrong ID = %v, want ErrLockIDMismatch", err)
	}

	removed, err := l.ForceRelease(ctx, "k", h.Info.ID)
	if err != nil {
		t.Fatalf("ForceRelease: %v", err)
	}
	if removed.Holder != "interrupted-run" {
		t.Errorf("removed holder = %q, want interrupted-run", removed.Holder)
	}

	got, err := l.Inspect(ctx, "k")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if got != nil {
		t.Error("lock still present after force-release")
	}
}

func TestIsStale(t *testing.T) {
	fresh := Info{Created: time.Now()}
	if IsStale(fresh, 0) {
		t.Error("fresh lock reported stale")
	}

	old := Info{Created: time.Now().Add(-time.Hour)}
	if !IsStale(old, 0) {
		t.Error("hour-old lock not reported stale with default threshold")
	}
	if IsStale(old, 2*time.Hour) {
		t.Error("hour-old lock reported stale with 2h threshold")
	}
}

func TestHeldErrorMessage(t *testing.T) {
	e := &HeldError{
		Info:  Info{ID: "01ABC", Holder: "ci", Operation: "apply", Created: time.Now().Add(-time.Hour)},
		Stale: true,
	}
	msg := e.Error()
	for _, want := range []string{"ci", "apply", "01ABC", "stale"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

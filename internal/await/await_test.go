package await

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitImmediateSuccess(t *testing.T) {
	calls := 0
	err := Await(context.Background(), "thing", time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if calls != 1 {
		t.Errorf("probe called %d times, want 1", calls)
	}
}

func TestAwaitEventualSuccess(t *testing.T) {
	calls := 0
	err := Await(context.Background(), "thing", time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if calls != 3 {
		t.Errorf("probe called %d times, want 3", calls)
	}
}

func TestAwaitTimeout(t *testing.T) {
	probeErr := errors.New("connection refused")
	err := Await(context.Background(), "data-store", time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, probeErr
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *TimeoutError", err)
	}
	if te.Resource != "data-store" {
		t.Errorf("Resource = %q, want %q", te.Resource, "data-store")
	}
	if !errors.Is(err, probeErr) {
		t.Error("timeout should carry the last probe error")
	}
}

func TestAwaitCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Await(ctx, "thing", 10*time.Millisecond, time.Minute, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

package internal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryUntil_Success(t *testing.T) {
	attempts := 0
	err := RetryUntil(context.Background(), time.Second, func(attempt int) error {
		attempts = attempt
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryUntil_GivesUpWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	fail := errors.New("connection refused")
	attempts := 0
	err := RetryUntil(ctx, 20*time.Millisecond, func(int) error {
		attempts++
		return fail
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if !errors.Is(err, fail) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected several attempts, got %d", attempts)
	}
}

func TestRetryUntil_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := RetryUntil(ctx, time.Second, func(int) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("fn should not be called with a cancelled context")
	}
}

func TestRetryResultUntil_ReturnsValue(t *testing.T) {
	result, err := RetryResultUntil(context.Background(), time.Second, func(attempt int) (string, error) {
		if attempt < 2 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected 'ok', got %q", result)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	if d := backoff(0, time.Second); d != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %s", d)
	}
	if d := backoff(3, time.Second); d != 800*time.Millisecond {
		t.Fatalf("expected 800ms, got %s", d)
	}
	if d := backoff(10, time.Second); d != time.Second {
		t.Fatalf("expected cap of 1s, got %s", d)
	}
	if d := backoff(100, 2*time.Second); d != 2*time.Second {
		t.Fatalf("expected cap of 2s, got %s", d)
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	out, err := Do(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", out, calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond}

	wantErr := errors.New("persistent")
	calls := 0
	_, err := Do(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, cfg, func() (int, error) {
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker()
	fail := func() error { return errors.New("down") }

	for i := 0; i < breakerFailureThreshold; i++ {
		if err := b.Call(fail); err == nil {
			t.Fatal("expected failure")
		}
	}
	if err := b.Call(fail); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_ResetsOnSuccess(t *testing.T) {
	b := NewBreaker()

	for i := 0; i < breakerFailureThreshold-1; i++ {
		b.Record(errors.New("down"))
	}
	b.Record(nil)

	if !b.Allow() {
		t.Error("breaker should be closed after a success")
	}
	if b.failures != 0 {
		t.Errorf("failures = %d, want 0", b.failures)
	}
}

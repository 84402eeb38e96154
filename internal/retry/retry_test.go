package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("busy")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestWithRetry(t *testing.T) {
	permanent := errors.New("permanent")

	tests := []struct {
		name      string
		errs      []error // returned by successive calls; nil after the list ends
		wantErr   error
		wantCalls int
	}{
		{name: "success first try", errs: nil, wantErr: nil, wantCalls: 1},
		{name: "success after retries", errs: []error{errBusy, errBusy}, wantErr: nil, wantCalls: 3},
		{name: "permanent error", errs: []error{permanent}, wantErr: permanent, wantCalls: 1},
		{name: "max retries exceeded", errs: []error{errBusy, errBusy, errBusy, errBusy, errBusy}, wantErr: errBusy, wantCalls: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), fastConfig(), "test", isBusy, func() error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("WithRetry() error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second

	calls := 0
	err := WithRetry(ctx, cfg, "test", isBusy, func() error {
		calls++
		cancel()
		return errBusy
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WithRetry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_Unlimited(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = Unlimited

	calls := 0
	err := WithRetry(context.Background(), cfg, "test", isBusy, func() error {
		calls++
		if calls < 10 {
			return errBusy
		}
		return nil
	})
	if err != nil {
		t.Errorf("WithRetry() error = %v, want nil", err)
	}
	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2.0}

	for attempt, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, time.Second, time.Second} {
		got := calculateBackoff(cfg, attempt)
		lo, hi := base*3/4, base*5/4
		if got < lo || got > hi {
			t.Errorf("calculateBackoff(%d) = %v, want within [%v, %v]", attempt, got, lo, hi)
		}
	}
}

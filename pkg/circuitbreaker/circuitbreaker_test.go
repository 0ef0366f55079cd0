package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

var errUpstream = errors.New("upstream boom")

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, _ = b.Execute(func() (interface{}, error) {
			return nil, errUpstream
		})
	}
}

func TestStaysClosedBelowThreshold(t *testing.T) {
	b := New(Settings{Name: "test", ErrorThreshold: 50, MinRequests: 4, ResetTimeout: time.Minute})

	// 1 failure out of 3 calls: under both the sample floor and the
	// percentage.
	_, _ = b.Execute(func() (interface{}, error) { return nil, errUpstream })
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(func() (interface{}, error) { return "ok", nil })
	}

	if got := b.State(); got != gobreaker.StateClosed {
		t.Fatalf("expected closed, got %v", got)
	}
}

func TestOpensAtErrorThreshold(t *testing.T) {
	b := New(Settings{Name: "test", ErrorThreshold: 50, MinRequests: 4, ResetTimeout: time.Minute})

	failN(t, b, 4)

	if got := b.State(); got != gobreaker.StateOpen {
		t.Fatalf("expected open after threshold, got %v", got)
	}

	// Open means fail-fast: the call function must not run.
	ran := false
	_, err := b.Execute(func() (interface{}, error) {
		ran = true
		return "ok", nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
	if ran {
		t.Fatal("call function ran while breaker open")
	}
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	b := New(Settings{Name: "test", ErrorThreshold: 50, MinRequests: 2, ResetTimeout: 30 * time.Millisecond})

	failN(t, b, 2)
	if got := b.State(); got != gobreaker.StateOpen {
		t.Fatalf("expected open, got %v", got)
	}

	time.Sleep(50 * time.Millisecond)

	// One successful probe closes the breaker and resets counters.
	if _, err := b.Execute(func() (interface{}, error) { return "ok", nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := b.State(); got != gobreaker.StateClosed {
		t.Fatalf("expected closed after successful probe, got %v", got)
	}
	if stats := b.Stats(); stats.Failures != 0 {
		t.Fatalf("expected reset counters, got %+v", stats)
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	b := New(Settings{Name: "test", ErrorThreshold: 50, MinRequests: 2, ResetTimeout: 30 * time.Millisecond})

	failN(t, b, 2)
	time.Sleep(50 * time.Millisecond)

	failN(t, b, 1)
	if got := b.State(); got != gobreaker.StateOpen {
		t.Fatalf("expected reopen after failed probe, got %v", got)
	}
}

func TestStatsSnapshot(t *testing.T) {
	b := New(Settings{Name: "test", ErrorThreshold: 90, MinRequests: 100, ResetTimeout: time.Minute})

	_, _ = b.Execute(func() (interface{}, error) { return "ok", nil })
	failN(t, b, 2)

	stats := b.Stats()
	if stats.State != "CLOSED" {
		t.Fatalf("expected CLOSED, got %s", stats.State)
	}
	if stats.Requests != 3 || stats.Successes != 1 || stats.Failures != 2 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
}

package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// Settings mirrors the knobs the breaker exposes for each upstream
// dependency.
type Settings struct {
	Name string
	// ErrorThreshold is the failure percentage over the rolling sample
	// that trips the breaker.
	ErrorThreshold float64
	// ResetTimeout is how long the breaker stays open before allowing
	// a half-open probe.
	ResetTimeout time.Duration
	// Interval is the rolling sample period for the failure counters.
	Interval time.Duration
	// MinRequests is the minimum sample size before the threshold is
	// evaluated, so a single early failure cannot trip the breaker.
	MinRequests uint32

	OnStateChange func(name string, from, to gobreaker.State)
}

// Breaker wraps a gobreaker instance and exposes its state and
// counters for health reporting.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(st Settings) *Breaker {
	if st.ErrorThreshold <= 0 {
		st.ErrorThreshold = 50
	}
	if st.ResetTimeout <= 0 {
		st.ResetTimeout = 30 * time.Second
	}
	if st.Interval <= 0 {
		st.Interval = 10 * time.Second
	}
	if st.MinRequests == 0 {
		st.MinRequests = 3
	}

	settings := gobreaker.Settings{
		Name: st.Name,
		// A single successful probe closes the breaker; a failed one
		// reopens it.
		MaxRequests: 1,
		Interval:    st.Interval,
		Timeout:     st.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < st.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return ratio >= st.ErrorThreshold
		},
		OnStateChange: st.OnStateChange,
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

func (b *Breaker) Name() string           { return b.cb.Name() }
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Stats is the health-endpoint snapshot of one breaker.
type Stats struct {
	State     string `json:"state"`
	Requests  uint32 `json:"fires"`
	Successes uint32 `json:"successes"`
	Failures  uint32 `json:"failures"`
}

func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()
	return Stats{
		State:     stateName(b.cb.State()),
		Requests:  counts.Requests,
		Successes: counts.TotalSuccesses,
		Failures:  counts.TotalFailures,
	}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "OPEN"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// IsOpen reports whether fn would currently fail fast.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

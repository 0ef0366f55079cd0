package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"notifygate/internal/models"
	"notifygate/internal/ratelimit"
)

type stubLimiter struct {
	result   ratelimit.Result
	err      error
	identity string
}

func (s *stubLimiter) Check(_ context.Context, identity string) (ratelimit.Result, error) {
	s.identity = identity
	return s.result, s.err
}

func rateRouter(limiter ratelimit.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(RateLimit(limiter, zerolog.Nop()))
	r.POST("/notify", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return r
}

func TestRateLimitAllowedSetsHeaders(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{
		Allowed:   true,
		Limit:     100,
		Remaining: 99,
		ResetAt:   time.Unix(1700000060, 0),
	}}

	w := httptest.NewRecorder()
	rateRouter(limiter).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/notify", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("limit header = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "99" {
		t.Errorf("remaining header = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got != "1700000060" {
		t.Errorf("reset header = %q", got)
	}
}

func TestRateLimitRejected(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{
		Allowed:    false,
		Limit:      100,
		Remaining:  0,
		ResetAt:    time.Unix(1700000060, 0),
		RetryAfter: 60 * time.Second,
	}}

	w := httptest.NewRecorder()
	rateRouter(limiter).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/notify", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("retry-after = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("remaining header = %q", got)
	}
	if resp := decodeEnvelope(t, w); resp.Error != models.CodeRateLimitExceeded {
		t.Errorf("error code = %q", resp.Error)
	}
}

func TestRateLimitStoreOutageFailsOpen(t *testing.T) {
	limiter := &stubLimiter{
		err: errors.New("redis down"),
		result: ratelimit.Result{
			Limit:     100,
			Remaining: 100,
			ResetAt:   time.Unix(1700000060, 0),
		},
	}

	w := httptest.NewRecorder()
	rateRouter(limiter).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/notify", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected fail-open accept, got %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("limit header = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "100" {
		t.Errorf("remaining header = %q", got)
	}
}

func TestClientIdentityResolutionOrder(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: true}}
	r := rateRouter(limiter)

	req := httptest.NewRequest(http.MethodPost, "/notify", nil)
	req.Header.Set("X-Client-ID", "app-1")
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if limiter.identity != "client:app-1" {
		t.Fatalf("identity = %q, want client header to win", limiter.identity)
	}

	req = httptest.NewRequest(http.MethodPost, "/notify", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if limiter.identity != "ip:10.0.0.9" {
		t.Fatalf("identity = %q, want first forwarded hop", limiter.identity)
	}

	req = httptest.NewRequest(http.MethodPost, "/notify", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if limiter.identity == "" {
		t.Fatal("identity must fall back to the peer address")
	}
}

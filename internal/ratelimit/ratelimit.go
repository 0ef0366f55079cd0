package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one admission check. It is populated even
// when the request is rejected so the caller can emit quota headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is the admission quota check used by the HTTP middleware.
// Check returns the configured quota bounds in Result even when it
// errors, so the caller can still emit them.
type Limiter interface {
	Check(ctx context.Context, identity string) (Result, error)
}

// SlidingWindow counts accepted requests per identity in a trailing
// window backed by a redis sorted set. Entries are scored by accept
// time and pruned lazily on each check.
type SlidingWindow struct {
	rdb    redis.Cmdable
	window time.Duration
	max    int
}

func NewSlidingWindow(rdb redis.Cmdable, window time.Duration, maxRequests int) *SlidingWindow {
	return &SlidingWindow{rdb: rdb, window: window, max: maxRequests}
}

func (s *SlidingWindow) Check(ctx context.Context, identity string) (Result, error) {
	key := "rate-limit:" + identity
	now := time.Now()
	windowStart := now.Add(-s.window).UnixMilli()

	res := Result{
		Limit:     s.max,
		Remaining: s.max,
		ResetAt:   now.Add(s.window),
	}

	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return res, fmt.Errorf("rate window lookup: %w", err)
	}

	current := int(count.Val())
	res.Remaining = s.max - current
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	if current >= s.max {
		res.Allowed = false
		res.RetryAfter = s.window
		return res, nil
	}

	// Record the accepted request. The nonce keeps members unique when
	// two requests land on the same millisecond.
	member := strconv.FormatInt(now.UnixMilli(), 10) + ":" + uuid.NewString()
	add := s.rdb.TxPipeline()
	add.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	add.Expire(ctx, key, s.window+time.Second)
	if _, err := add.Exec(ctx); err != nil {
		return res, fmt.Errorf("rate window insert: %w", err)
	}

	res.Allowed = true
	res.Remaining = res.Remaining - 1
	return res, nil
}

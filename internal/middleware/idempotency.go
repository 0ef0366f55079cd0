package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const idempotencyTTL = 24 * time.Hour

// CachedResponse is the stored first response for an idempotency key.
type CachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore maps client-supplied keys to the first response
// returned under that key. A nil response with nil error means the key
// has not been seen.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Set(ctx context.Context, key string, resp CachedResponse) error
}

// RedisIdempotencyStore keeps cached responses in the counting store
// with a 24h TTL.
type RedisIdempotencyStore struct {
	rdb redis.Cmdable
}

func NewRedisIdempotencyStore(rdb redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := s.rdb.Get(ctx, "idempotency:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("decoding cached response: %w", err)
	}
	return &cached, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, resp CachedResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding cached response: %w", err)
	}
	if err := s.rdb.Set(ctx, "idempotency:"+key, body, idempotencyTTL).Err(); err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	return nil
}

// responseRecorder captures the response body so it can be replayed
// for duplicate submissions.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Idempotency replays the first response for a repeated
// Idempotency-Key verbatim, without re-running any side effects.
// Requests without a key always proceed.
func Idempotency(store IdempotencyStore, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cached, err := store.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("idempotency lookup failed, proceeding")
			c.Next()
			return
		}
		if cached != nil {
			c.Header("X-Idempotent-Replayed", "true")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			err := store.Set(ctx, key, CachedResponse{
				Status:      status,
				ContentType: recorder.Header().Get("Content-Type"),
				Body:        recorder.body.Bytes(),
			})
			if err != nil {
				log.Warn().Err(err).Msg("idempotency store failed")
			}
		}
	}
}

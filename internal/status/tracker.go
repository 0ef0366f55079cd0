package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notifygate/internal/models"
)

// ErrNotFound marks an unknown or expired correlation ID.
var ErrNotFound = errors.New("notification status not found")

const recordTTL = 24 * time.Hour

// Store is the lifecycle-record surface shared by the gateway and the
// workers.
type Store interface {
	Get(ctx context.Context, correlationID string) (models.CorrelationRecord, error)
	Set(ctx context.Context, record models.CorrelationRecord) error
}

// Tracker keeps one CorrelationRecord per correlation ID in redis.
// Every write refreshes the 24h TTL so a long-cycling retry keeps its
// record alive. Writes are last-writer-wins; a record only moves
// forward through the lifecycle, so no locking is needed.
type Tracker struct {
	rdb redis.Cmdable
}

func NewTracker(rdb redis.Cmdable) *Tracker {
	return &Tracker{rdb: rdb}
}

func key(correlationID string) string {
	return "notification:" + correlationID
}

func (t *Tracker) Get(ctx context.Context, correlationID string) (models.CorrelationRecord, error) {
	data, err := t.rdb.Get(ctx, key(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CorrelationRecord{}, ErrNotFound
	}
	if err != nil {
		return models.CorrelationRecord{}, fmt.Errorf("reading status record: %w", err)
	}
	var record models.CorrelationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.CorrelationRecord{}, fmt.Errorf("decoding status record: %w", err)
	}
	return record, nil
}

func (t *Tracker) Set(ctx context.Context, record models.CorrelationRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding status record: %w", err)
	}
	if err := t.rdb.Set(ctx, key(record.CorrelationID), body, recordTTL).Err(); err != nil {
		return fmt.Errorf("writing status record: %w", err)
	}
	return nil
}

// Package analytics keeps per-job event counters in Redis so operators
// can see run and failure rates without querying execution history.
// Writes are best effort; a Redis outage never affects job execution.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/easy-batch/internal/domain"
)

type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
}

// NewRedisSink creates a sink bucketing counters by window and expiring
// them after retention.
func NewRedisSink(client *redis.Client, window, retention time.Duration) *RedisSink {
	if window <= 0 {
		window = time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisSink{client: client, window: window, retention: retention}
}

// Record increments the counter for the event's job, type and time
// bucket. Errors are logged, never returned; analytics must not slow or
// fail an execution.
func (s *RedisSink) Record(ctx context.Context, event domain.ExecutionEvent) {
	key := buildKey(event.JobID.String(), event.Type, event.Timestamp, s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline failed key=%s: %v", key, err)
	}
}

// Count returns the counter for one job, event type and time bucket.
// Missing keys read as zero.
func (s *RedisSink) Count(ctx context.Context, jobID string, typ domain.EventType, at time.Time) (int64, error) {
	key := buildKey(jobID, typ, at, s.window)
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return n, nil
}

func buildKey(jobID string, typ domain.EventType, t time.Time, window time.Duration) string {
	return fmt.Sprintf("j:%s:%s:%s", jobID, typ, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}

// Package integrity evaluates fraud heuristics over the engine's event
// stream. Rules read sliding-window counts from a Redis-backed history and
// raise append-only alerts; a history outage degrades to skipping the rule,
// never to blocking the triggering operation.
package integrity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// History is the sliding-window event count backing the rate-based rules.
type History interface {
	RecordReview(ctx context.Context, businessID, fingerprint string, at time.Time) error
	CountReviews(ctx context.Context, businessID, fingerprint string, window time.Duration, now time.Time) (int, error)
	RecordAudit(ctx context.Context, auditorID string, at time.Time) error
	CountAudits(ctx context.Context, auditorID string, window time.Duration, now time.Time) (int, error)
}

// RedisHistory keeps per-key sorted sets scored by event time in
// milliseconds. Entries age out with the configured TTL; window counts are
// ZCOUNT over the cutoff.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHistory wraps a connected client. ttl bounds how long any entry
// is kept regardless of rule windows.
func NewRedisHistory(client *redis.Client, ttl time.Duration) *RedisHistory {
	return &RedisHistory{client: client, ttl: ttl}
}

func reviewKey(businessID, fingerprint string) string {
	return fmt.Sprintf("integrity:reviews:%s:%s", businessID, fingerprint)
}

func auditKey(auditorID string) string {
	return fmt.Sprintf("integrity:audits:%s", auditorID)
}

func (h *RedisHistory) RecordReview(ctx context.Context, businessID, fingerprint string, at time.Time) error {
	return h.record(ctx, reviewKey(businessID, fingerprint), at)
}

func (h *RedisHistory) CountReviews(ctx context.Context, businessID, fingerprint string, window time.Duration, now time.Time) (int, error) {
	return h.count(ctx, reviewKey(businessID, fingerprint), window, now)
}

func (h *RedisHistory) RecordAudit(ctx context.Context, auditorID string, at time.Time) error {
	return h.record(ctx, auditKey(auditorID), at)
}

func (h *RedisHistory) CountAudits(ctx context.Context, auditorID string, window time.Duration, now time.Time) (int, error) {
	return h.count(ctx, auditKey(auditorID), window, now)
}

func (h *RedisHistory) record(ctx context.Context, key string, at time.Time) error {
	// Member carries a uuid so equal timestamps never collapse into one entry.
	member := fmt.Sprintf("%d:%s", at.UnixMilli(), uuid.NewString())
	pipe := h.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, h.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (h *RedisHistory) count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-window).UnixMilli()
	n, err := h.client.ZCount(ctx, key,
		strconv.FormatInt(cutoff, 10),
		strconv.FormatInt(now.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

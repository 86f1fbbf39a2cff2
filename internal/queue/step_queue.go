// Package queue coordinates ready, in-flight, and scheduled pipeline step
// queues in Redis. It backs the retry engine: a step is only acked after
// its handler returns, and expired leases are reclaimed so a crashed worker
// never loses work.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/a1j9o94/jobagent/internal/config"
)

const (
	readyKey     = "steps:ready"
	scheduledKey = "steps:scheduled"
	inflightKey  = "steps:inflight"
	deadKey      = "steps:dead"
)

// StepQueue is the Redis-backed work queue for pipeline steps.
type StepQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
}

// New wraps an existing Redis client.
func New(client *redis.Client, visibility time.Duration) *StepQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &StepQueue{client: client, visibilityTTL: visibility}
}

// NewFromConfig dials Redis using the shared runtime configuration.
func NewFromConfig(cfg config.Config) *StepQueue {
	return New(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), cfg.VisibilityTimeout)
}

// Enqueue makes a step runnable now or at runAt, whichever is later.
func (q *StepQueue) Enqueue(ctx context.Context, stepID string, runAt time.Time) error {
	if runAt.After(time.Now()) {
		return q.Schedule(ctx, stepID, runAt)
	}
	return q.client.RPush(ctx, readyKey, stepID).Err()
}

// Schedule defers a step until runAt. Used for retry backoff.
func (q *StepQueue) Schedule(ctx context.Context, stepID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: stepID,
	}).Err()
}

// PromoteScheduled moves due scheduled steps into the ready queue and
// returns how many were promoted.
func (q *StepQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, scheduledKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops one step from the ready queue and records it as
// in-flight with a visibility deadline. Returns "" when the queue is empty.
func (q *StepQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{readyKey, inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	stepID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return stepID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight step.
func (q *StepQueue) ExtendLease(ctx context.Context, stepID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: stepID,
	}).Err()
}

// Ack removes a step from in-flight tracking. This is the late
// acknowledgment: it only happens after the handler has returned.
func (q *StepQueue) Ack(ctx context.Context, stepID string) error {
	return q.client.ZRem(ctx, inflightKey, stepID).Err()
}

// RequeueExpired reclaims leases that timed out, making their steps ready
// again for another worker.
func (q *StepQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeadLetterPush records a terminally failed step for operational
// inspection.
func (q *StepQueue) DeadLetterPush(ctx context.Context, stepID string) error {
	return q.client.RPush(ctx, deadKey, stepID).Err()
}

// DeadLetterPeek reads up to count dead-lettered step IDs.
func (q *StepQueue) DeadLetterPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, deadKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready queue.
func (q *StepQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local step = redis.call('LPOP', KEYS[1])
if step then
  redis.call('ZADD', KEYS[2], ARGV[1], step)
  return step
end
return nil
`)

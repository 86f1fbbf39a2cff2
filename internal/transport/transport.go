// Package transport implements the shared multi-queue handoff between this
// core and the external browser-automation worker. Each task type has its
// own FIFO Redis list; ordering is guaranteed within a type only.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/a1j9o94/jobagent/internal/config"
)

// Task types carried on the transport. The first is produced by this core
// for the automation worker; the middle two flow back from the worker;
// send_notification is reserved for direct notification dispatch.
const (
	TaskSubmitApplication = "job_application"
	TaskStatusUpdate      = "update_job_status"
	TaskApprovalRequest   = "approval_request"
	TaskSendNotification  = "send_notification"
)

// AllTaskTypes is the fixed queue set reported by Stats.
var AllTaskTypes = []string{
	TaskSubmitApplication,
	TaskStatusUpdate,
	TaskApprovalRequest,
	TaskSendNotification,
}

// Transport is a handle over the shared queue store. It is constructed once
// at process start and injected into every component that publishes or
// consumes; there is no package-level singleton.
type Transport struct {
	client *redis.Client
}

// New wraps an existing Redis client. The caller owns the client lifecycle.
func New(client *redis.Client) *Transport {
	return &Transport{client: client}
}

// NewFromConfig dials Redis using the shared runtime configuration.
func NewFromConfig(cfg config.Config) *Transport {
	return New(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}))
}

func queueKey(taskType string) string {
	return "tasks:" + taskType
}

func heartbeatKey(workerID string) string {
	return "heartbeat:" + workerID
}

// newTaskID builds a globally unique, time-ordered, greppable identifier.
func newTaskID(taskType string) string {
	return fmt.Sprintf("%s_%d_%s", taskType, time.Now().UTC().Unix(), uuid.NewString()[:8])
}

// Publish appends one task to the tail of the queue for taskType. The write
// is a single RPUSH of the full envelope, so consumers never observe a
// partial task. Priority is carried in the envelope but does not reorder
// the queue.
func (t *Transport) Publish(ctx context.Context, taskType string, payload any, priority int) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := Task{
		ID:        newTaskID(taskType),
		Type:      taskType,
		Payload:   raw,
		Retries:   0,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Priority:  priority,
	}
	blob, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if err := t.client.RPush(ctx, queueKey(taskType), blob).Err(); err != nil {
		return "", fmt.Errorf("publish %s: %w", taskType, err)
	}
	return task.ID, nil
}

// Consume pops the head of the queue for taskType. With timeout > 0 it
// blocks up to that long before giving up; with timeout == 0 it returns
// immediately. An empty queue yields (nil, nil).
func (t *Transport) Consume(ctx context.Context, taskType string, timeout time.Duration) (*Task, error) {
	var blob string
	if timeout > 0 {
		res, err := t.client.BLPop(ctx, timeout, queueKey(taskType)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("consume %s: %w", taskType, err)
		}
		// BLPOP returns [key, value].
		blob = res[1]
	} else {
		res, err := t.client.LPop(ctx, queueKey(taskType)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("consume %s: %w", taskType, err)
		}
		blob = res
	}

	var task Task
	if err := json.Unmarshal([]byte(blob), &task); err != nil {
		return nil, fmt.Errorf("decode task from %s: %w", taskType, err)
	}
	return &task, nil
}

// Depth returns the number of pending tasks for taskType.
func (t *Transport) Depth(ctx context.Context, taskType string) (int64, error) {
	n, err := t.client.LLen(ctx, queueKey(taskType)).Result()
	if err != nil {
		return 0, fmt.Errorf("depth %s: %w", taskType, err)
	}
	return n, nil
}

// Stats returns the depth of every known queue.
func (t *Transport) Stats(ctx context.Context) (map[string]int64, error) {
	pipe := t.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(AllTaskTypes))
	for _, tt := range AllTaskTypes {
		cmds[tt] = pipe.LLen(ctx, queueKey(tt))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	out := make(map[string]int64, len(cmds))
	for tt, c := range cmds {
		out[tt] = c.Val()
	}
	return out, nil
}

// RecordHeartbeat stores a liveness timestamp for workerID. The external
// worker calls the equivalent on its side of the protocol.
func (t *Transport) RecordHeartbeat(ctx context.Context, workerID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return t.client.Set(ctx, heartbeatKey(workerID), now, 0).Err()
}

// LastHeartbeat reads the last-seen liveness timestamp for workerID. The
// second return is false when the worker has never reported.
func (t *Transport) LastHeartbeat(ctx context.Context, workerID string) (time.Time, bool, error) {
	v, err := t.client.Get(ctx, heartbeatKey(workerID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read heartbeat %s: %w", workerID, err)
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse heartbeat %s: %w", workerID, err)
	}
	return ts, true, nil
}

// Health is a cheap reachability probe on the underlying store.
func (t *Transport) Health(ctx context.Context) bool {
	return t.client.Ping(ctx).Err() == nil
}

// Close releases the underlying Redis connection.
func (t *Transport) Close() error {
	return t.client.Close()
}

package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *StepQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "step-1", time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "step-1" {
		t.Fatalf("dequeue got id=%q err=%v", id, err)
	}

	// Leased, so a second dequeue comes up empty.
	id, err = q.DequeueWithLease(ctx)
	if err != nil || id != "" {
		t.Fatalf("expected empty dequeue, got id=%q err=%v", id, err)
	}

	if err := q.Ack(ctx, "step-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(reclaimed) != 0 {
		t.Fatalf("acked step must not be reclaimed, got %v", reclaimed)
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "step-crash", time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Simulate a crashed worker: no ack, lease passes its deadline.
	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != "step-crash" {
		t.Fatalf("expected step-crash reclaimed, got %v", reclaimed)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "step-crash" {
		t.Fatalf("reclaimed step should be dequeuable again, got id=%q err=%v", id, err)
	}
}

func TestScheduledPromotion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	runAt := time.Now().Add(time.Hour)
	if err := q.Enqueue(ctx, "step-later", runAt); err != nil {
		t.Fatalf("enqueue deferred: %v", err)
	}

	// Not due yet.
	n, err := q.PromoteScheduled(ctx, time.Now(), 10)
	if err != nil || n != 0 {
		t.Fatalf("expected no promotion, got n=%d err=%v", n, err)
	}
	if id, _ := q.DequeueWithLease(ctx); id != "" {
		t.Fatalf("deferred step must not be ready, got %q", id)
	}

	n, err = q.PromoteScheduled(ctx, runAt.Add(time.Second), 10)
	if err != nil || n != 1 {
		t.Fatalf("expected one promotion, got n=%d err=%v", n, err)
	}
	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "step-later" {
		t.Fatalf("expected step-later ready, got id=%q err=%v", id, err)
	}
}

func TestDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.DeadLetterPush(ctx, "step-dead"); err != nil {
		t.Fatalf("dlq push: %v", err)
	}
	items, err := q.DeadLetterPeek(ctx, 10)
	if err != nil {
		t.Fatalf("dlq peek: %v", err)
	}
	if len(items) != 1 || items[0] != "step-dead" {
		t.Fatalf("unexpected dlq contents: %v", items)
	}
}

func TestReadyDepth(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id, time.Now()); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	depth, err := q.ReadyDepth(ctx)
	if err != nil || depth != 3 {
		t.Fatalf("expected depth 3, got %d err=%v", depth, err)
	}
}

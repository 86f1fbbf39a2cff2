package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/queue"
)

// Enqueuer creates step records and makes them visible on the step queue.
// Shared by the API (user-triggered steps), the cron schedules, and the
// processor's chaining path.
type Enqueuer struct {
	store       StepStore
	queue       *queue.StepQueue
	maxAttempts int
}

func NewEnqueuer(cfg config.Config, st StepStore, q *queue.StepQueue) *Enqueuer {
	return &Enqueuer{store: st, queue: q, maxAttempts: cfg.StepMaxAttempts}
}

// Enqueue persists a new step and pushes its id onto the queue. The record
// is written first so a dequeued id always resolves.
func (e *Enqueuer) Enqueue(ctx context.Context, stepType string, payload map[string]any, delay time.Duration) (models.Step, error) {
	now := time.Now().UTC()
	st := models.Step{
		ID:          uuid.NewString(),
		Type:        stepType,
		Payload:     payload,
		Status:      models.StepQueued,
		MaxAttempts: e.maxAttempts,
		NextRunAt:   now.Add(delay),
	}
	if err := e.store.CreateStep(ctx, st); err != nil {
		return models.Step{}, fmt.Errorf("create step: %w", err)
	}
	if err := e.queue.Enqueue(ctx, st.ID, st.NextRunAt); err != nil {
		return models.Step{}, fmt.Errorf("enqueue step: %w", err)
	}
	return st, nil
}

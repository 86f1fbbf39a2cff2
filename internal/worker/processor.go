package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/queue"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/telemetry"
)

// ErrRecycle is returned by Run after the processor has handled its step
// budget. The supervisor in cmd/worker restarts the loop with fresh state.
var ErrRecycle = errors.New("worker step budget reached")

// Handler executes one step and may return followup steps to chain. A step
// only succeeds once its followups are enqueued.
type Handler func(ctx context.Context, step models.Step) ([]Followup, error)

// StepStore is the slice of the datastore the step loop needs. *store.Store
// satisfies it.
type StepStore interface {
	CreateStep(ctx context.Context, step models.Step) error
	GetStep(ctx context.Context, id string) (models.Step, error)
	MarkStepInProgress(ctx context.Context, id string) (int, error)
	MarkStepSucceeded(ctx context.Context, id string) error
	MarkStepFailedRetry(ctx context.Context, id, reason string, nextRunAt time.Time) error
	MarkStepDeadLetter(ctx context.Context, id, reason string) error
	AppendStepAudit(ctx context.Context, stepID, event, detail string) error
}

// Processor drives the step execution loop: one leased step at a time, late
// ack after the outcome is persisted.
type Processor struct {
	cfg      config.Config
	queue    *queue.StepQueue
	store    StepStore
	enq      *Enqueuer
	handlers map[string]Handler
	log      *zap.Logger
}

func NewProcessor(cfg config.Config, q *queue.StepQueue, st StepStore, enq *Enqueuer, log *zap.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		enq:      enq,
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// RegisterHandler binds a handler to a step type.
func (p *Processor) RegisterHandler(stepType string, handler Handler) {
	if stepType == "" || handler == nil {
		return
	}
	p.handlers[stepType] = handler
}

// Run executes steps until context cancellation or the recycle budget is hit.
func (p *Processor) Run(ctx context.Context) error {
	processed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if p.cfg.WorkerMaxSteps > 0 && processed >= p.cfg.WorkerMaxSteps {
			p.log.Info("recycling worker", zap.Int("steps_processed", processed))
			return ErrRecycle
		}

		p.housekeep(ctx)

		stepID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || stepID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.process(ctx, stepID)
		processed++
	}
}

// housekeep promotes due scheduled steps and reclaims expired leases before
// each dequeue, so a single worker keeps the queue healthy on its own.
func (p *Processor) housekeep(ctx context.Context) {
	_, _ = p.queue.PromoteScheduled(ctx, time.Now(), int64(p.cfg.ScheduledBatchSize))
	if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
		telemetry.StepsInFlight.Sub(float64(len(reclaimed)))
		p.log.Warn("reclaimed expired leases", zap.Int("count", len(reclaimed)))
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.StepQueueDepth.Set(float64(depth))
	}
}

func (p *Processor) process(ctx context.Context, stepID string) {
	step, err := p.store.GetStep(ctx, stepID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Nothing to run against; drop the queue entry.
			p.log.Error("leased step has no record", zap.String("step_id", stepID), zap.Error(err))
			_ = p.queue.Ack(ctx, stepID)
			return
		}
		// Transient store failure: keep the lease so RequeueExpired
		// redelivers the step once it lapses.
		p.log.Warn("step load failed, keeping lease", zap.String("step_id", stepID), zap.Error(err))
		return
	}
	if step.Status == models.StepSucceeded || step.Status == models.StepDeadLetter {
		_ = p.queue.Ack(ctx, stepID)
		return
	}

	attempt, err := p.store.MarkStepInProgress(ctx, step.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = p.queue.Ack(ctx, step.ID)
			return
		}
		p.log.Warn("step claim failed, keeping lease", zap.String("step_id", step.ID), zap.Error(err))
		return
	}
	step.Attempts = attempt
	telemetry.StepsInFlight.Inc()
	defer telemetry.StepsInFlight.Dec()

	followups, runErr := p.runStep(ctx, step)
	if runErr == nil {
		// Chain before recording success and acking. A crash anywhere in
		// this window redelivers the step; re-running the idempotent
		// handler and re-enqueuing followups beats losing a chained child.
		runErr = p.chain(ctx, step, followups)
	}
	if runErr == nil {
		_ = p.store.MarkStepSucceeded(ctx, step.ID)
		if err := p.store.AppendStepAudit(ctx, step.ID, "succeeded", step.Type); err != nil {
			p.log.Warn("audit write failed", zap.String("step_id", step.ID), zap.Error(err))
		}
		telemetry.StepSuccess.Inc()
		_ = p.queue.Ack(ctx, step.ID)
		return
	}

	if isFatal(runErr) || attempt >= step.MaxAttempts {
		_ = p.store.MarkStepDeadLetter(ctx, step.ID, runErr.Error())
		_ = p.queue.Ack(ctx, step.ID)
		_ = p.queue.DeadLetterPush(ctx, step.ID)
		_ = p.store.AppendStepAudit(ctx, step.ID, "dead_letter", runErr.Error())
		telemetry.StepDeadLetter.Inc()
		p.log.Error("step dead-lettered",
			zap.String("step_id", step.ID),
			zap.String("type", step.Type),
			zap.Int("attempts", attempt),
			zap.Error(runErr))
		return
	}

	backoff := p.backoffFor(step.Type, attempt)
	nextRun := time.Now().Add(backoff)
	_ = p.store.MarkStepFailedRetry(ctx, step.ID, runErr.Error(), nextRun)
	_ = p.queue.Ack(ctx, step.ID)
	_ = p.queue.Schedule(ctx, step.ID, nextRun)
	_ = p.store.AppendStepAudit(ctx, step.ID, "retry_scheduled",
		fmt.Sprintf("next_run=%s attempts=%d", nextRun.UTC().Format(time.RFC3339), attempt))
	telemetry.StepFailures.Inc()
	p.log.Warn("step failed, retry scheduled",
		zap.String("step_id", step.ID),
		zap.String("type", step.Type),
		zap.Int("attempts", attempt),
		zap.Duration("backoff", backoff),
		zap.Error(runErr))
}

func (p *Processor) runStep(ctx context.Context, step models.Step) ([]Followup, error) {
	handler, ok := p.handlers[step.Type]
	if !ok {
		return nil, Fatal(fmt.Sprintf("no handler registered for type %q", step.Type), nil)
	}
	return handler(ctx, step)
}

// chain enqueues followup steps. An enqueue failure fails the parent step so
// the retry re-runs the handler and re-attempts the chain.
func (p *Processor) chain(ctx context.Context, parent models.Step, followups []Followup) error {
	for _, f := range followups {
		child, err := p.enq.Enqueue(ctx, f.Type, f.Payload, f.Delay)
		if err != nil {
			p.log.Error("followup enqueue failed",
				zap.String("parent_step_id", parent.ID),
				zap.String("followup_type", f.Type),
				zap.Error(err))
			return fmt.Errorf("chain %s: %w", f.Type, err)
		}
		_ = p.store.AppendStepAudit(ctx, parent.ID, "chained", fmt.Sprintf("child=%s type=%s", child.ID, f.Type))
	}
	return nil
}

// backoffFor picks the retry delay. Submission steps use a linear schedule
// so the external automation worker gets a quiet minute between retries;
// everything else backs off exponentially with jitter.
func (p *Processor) backoffFor(stepType string, attempt int) time.Duration {
	if stepType == models.StepEnqueueSubmission {
		return p.cfg.SubmissionBackoff * time.Duration(attempt)
	}
	return backoffWithJitter(p.cfg.BackoffBase, p.cfg.BackoffMax, attempt)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}

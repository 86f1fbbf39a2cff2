// Package reconciler drains the worker-report queues and folds the reports
// into application state. It runs on a schedule, pulls a bounded batch per
// queue per tick, and treats every report as at-least-once delivered:
// duplicates and out-of-order reports are rejected by the state machine and
// dropped.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/lifecycle"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/notify"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/telemetry"
	"github.com/a1j9o94/jobagent/internal/transport"
)

// Datastore is the slice of the persistence layer the reconciler touches.
type Datastore interface {
	GetApplication(ctx context.Context, id int64) (models.Application, error)
	GetRoleWithCompany(ctx context.Context, id int64) (store.RoleWithCompany, error)
	SetRoleStatus(ctx context.Context, id int64, status string) error
	ApplyStatusReport(ctx context.Context, id int64, u store.StatusReportUpdate) error
	SetApprovalContext(ctx context.Context, id int64, approval map[string]any) error
}

// Reconciler owns the drain loop.
type Reconciler struct {
	cfg      config.Config
	store    Datastore
	queue    *transport.Transport
	notifier notify.Notifier
	log      *zap.Logger
}

func New(cfg config.Config, ds Datastore, q *transport.Transport, n notify.Notifier, log *zap.Logger) *Reconciler {
	return &Reconciler{cfg: cfg, store: ds, queue: q, notifier: n, log: log}
}

// Run drains one bounded batch from each report queue. Called from the cron
// schedule; a failure consuming one queue does not block the other.
func (r *Reconciler) Run(ctx context.Context) {
	r.drain(ctx, transport.TaskStatusUpdate)
	r.drain(ctx, transport.TaskApprovalRequest)
}

func (r *Reconciler) drain(ctx context.Context, taskType string) {
	for i := 0; i < r.cfg.ReconcilerBatch; i++ {
		task, err := r.queue.Consume(ctx, taskType, r.cfg.ConsumeTimeout)
		if err != nil {
			r.log.Error("consume failed", zap.String("queue", taskType), zap.Error(err))
			return
		}
		if task == nil {
			return
		}
		if err := r.apply(ctx, task); err != nil {
			// Reports are dropped, never requeued: a malformed or
			// unresolvable report cannot become valid later.
			telemetry.ReportsDiscarded.Inc()
			r.log.Warn("report discarded",
				zap.String("task_id", task.ID),
				zap.String("queue", taskType),
				zap.Error(err))
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, task *transport.Task) error {
	decoded, err := task.Decode()
	if err != nil {
		return err
	}
	switch p := decoded.(type) {
	case transport.StatusReportPayload:
		return r.applyStatusReport(ctx, p)
	case transport.ApprovalRequestPayload:
		return r.applyApprovalRequest(ctx, p)
	default:
		return fmt.Errorf("unexpected payload type %T on %s", decoded, task.Type)
	}
}

// reportEvents maps worker-reported statuses onto state machine events.
var reportEvents = map[string]lifecycle.Event{
	transport.ReportApplied:         lifecycle.WorkerReportedApplied,
	transport.ReportFailed:          lifecycle.WorkerReportedFailed,
	transport.ReportWaitingApproval: lifecycle.WorkerReportedWaitingInput,
	transport.ReportNeedsUserInfo:   lifecycle.WorkerReportedNeedsUserInfo,
}

func (r *Reconciler) applyStatusReport(ctx context.Context, p transport.StatusReportPayload) error {
	event, ok := reportEvents[p.Status]
	if !ok {
		return fmt.Errorf("unknown report status %q", p.Status)
	}

	app, err := r.store.GetApplication(ctx, p.ApplicationID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("application %d not found for report", p.ApplicationID)
	}
	if err != nil {
		return fmt.Errorf("load application: %w", err)
	}

	next, err := lifecycle.Transition(app.Status, event)
	if err != nil {
		// Duplicate or out-of-order report. State stays untouched.
		return fmt.Errorf("report %s on application %d in %s: %w", p.Status, app.ID, app.Status, err)
	}

	if err := r.store.ApplyStatusReport(ctx, app.ID, store.StatusReportUpdate{
		Status:        next,
		Notes:         p.Notes,
		ErrorMessage:  p.ErrorMessage,
		ScreenshotURL: p.ScreenshotURL,
		SubmittedAt:   r.parseSubmittedAt(p.SubmittedAt),
	}); err != nil {
		return fmt.Errorf("persist report: %w", err)
	}
	telemetry.ReportsApplied.Inc()

	if next == models.AppSubmitted {
		if err := r.store.SetRoleStatus(ctx, app.RoleID, models.RoleApplied); err != nil {
			r.log.Warn("marking role applied failed", zap.Int64("role_id", app.RoleID), zap.Error(err))
		}
	}

	r.log.Info("status report applied",
		zap.Int64("application_id", app.ID),
		zap.String("from", app.Status),
		zap.String("to", next))
	r.notifyTransition(ctx, app, next, p)
	return nil
}

func (r *Reconciler) applyApprovalRequest(ctx context.Context, p transport.ApprovalRequestPayload) error {
	app, err := r.store.GetApplication(ctx, p.ApplicationID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("application %d not found for approval request", p.ApplicationID)
	}
	if err != nil {
		return fmt.Errorf("load application: %w", err)
	}

	if _, err := lifecycle.Transition(app.Status, lifecycle.WorkerReportedNeedsUserInfo); err != nil {
		return fmt.Errorf("approval request on application %d in %s: %w", app.ID, app.Status, err)
	}

	approval := map[string]any{"question": p.Question}
	if p.CurrentState != nil {
		approval["current_state"] = *p.CurrentState
	}
	if p.ScreenshotURL != nil {
		approval["screenshot_url"] = *p.ScreenshotURL
	}
	for k, v := range p.Context {
		approval[k] = v
	}
	if err := r.store.SetApprovalContext(ctx, app.ID, approval); err != nil {
		return fmt.Errorf("persist approval context: %w", err)
	}
	telemetry.ReportsApplied.Inc()

	r.sendNotification(ctx, app.RoleID, fmt.Sprintf("needs your input: %s", p.Question))
	return nil
}

// parseSubmittedAt reads the worker-reported submission time. An absent or
// unparseable timestamp falls back to nil, so the store stamps the receipt
// time instead.
func (r *Reconciler) parseSubmittedAt(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		r.log.Warn("unparseable submitted_at in report", zap.String("submitted_at", *raw), zap.Error(err))
		return nil
	}
	utc := ts.UTC()
	return &utc
}

// notifyTransition fires a user notification on attention-worthy
// transitions. Best effort only.
func (r *Reconciler) notifyTransition(ctx context.Context, app models.Application, next string, p transport.StatusReportPayload) {
	switch next {
	case models.AppSubmitted:
		r.sendNotification(ctx, app.RoleID, "application submitted")
	case models.AppError:
		msg := "submission failed"
		if p.ErrorMessage != nil {
			msg = fmt.Sprintf("submission failed: %s", *p.ErrorMessage)
		}
		r.sendNotification(ctx, app.RoleID, msg)
	case models.AppNeedsUserInfo:
		r.sendNotification(ctx, app.RoleID, "submission is waiting on your input")
	}
}

func (r *Reconciler) sendNotification(ctx context.Context, roleID int64, suffix string) {
	label := fmt.Sprintf("role %d", roleID)
	if role, err := r.store.GetRoleWithCompany(ctx, roleID); err == nil {
		label = fmt.Sprintf("%s at %s", role.Title, role.CompanyName)
	}
	if err := r.notifier.Send(ctx, fmt.Sprintf("%s: %s", label, suffix)); err != nil {
		r.log.Warn("notification delivery failed", zap.Error(err))
	}
}

// Package lifecycle defines the authoritative application state machine.
// Transitions are pure; persistence and side-table updates live in store.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/a1j9o94/jobagent/internal/models"
)

// Event names the causes of application state changes. Pipeline steps emit
// the first three; the reconciler emits the worker_reported events when it
// drains the transport.
type Event string

const (
	DocumentsReady              Event = "documents_ready"
	DocumentsFailed             Event = "documents_failed"
	EnqueuedForSubmission       Event = "enqueued_for_submission"
	WorkerReportedApplied       Event = "worker_reported_applied"
	WorkerReportedFailed        Event = "worker_reported_failed"
	WorkerReportedWaitingInput  Event = "worker_reported_waiting_approval"
	WorkerReportedNeedsUserInfo Event = "worker_reported_needs_info"
)

// ErrIllegalTransition marks a (status, event) pair outside the legality
// table. Callers log and drop; the application row stays untouched. This is
// the guard against out-of-order and duplicate worker reports.
var ErrIllegalTransition = errors.New("illegal application transition")

// legal maps current status -> event -> next status. Anything absent is
// rejected.
var legal = map[string]map[Event]string{
	models.AppDraft: {
		DocumentsReady:  models.AppReadyToSubmit,
		DocumentsFailed: models.AppError,
	},
	models.AppReadyToSubmit: {
		// Re-drafting overwrites artifact URLs; the status is unchanged.
		DocumentsReady:        models.AppReadyToSubmit,
		DocumentsFailed:       models.AppError,
		EnqueuedForSubmission: models.AppSubmitting,
	},
	models.AppSubmitting: {
		WorkerReportedApplied:      models.AppSubmitted,
		WorkerReportedFailed:       models.AppError,
		WorkerReportedWaitingInput: models.AppNeedsUserInfo,
	},
	models.AppNeedsUserInfo: {
		// The worker resumes after the user answers, so it may still
		// conclude the submission either way.
		WorkerReportedApplied: models.AppSubmitted,
		WorkerReportedFailed:  models.AppError,
	},
}

// Transition returns the status that results from applying event to current.
// Illegal pairs return ErrIllegalTransition and leave interpretation to the
// caller; a duplicate worker_reported_applied on an already submitted
// application lands here, which is what makes reconciliation idempotent.
func Transition(current string, event Event) (string, error) {
	// An external approval request parks the application for user input
	// regardless of where it currently is, except once it is terminally
	// closed out.
	if event == WorkerReportedNeedsUserInfo {
		switch current {
		case models.AppClosed, models.AppRejected:
			return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, current)
		}
		return models.AppNeedsUserInfo, nil
	}

	if next, ok := legal[current][event]; ok {
		return next, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, current)
}

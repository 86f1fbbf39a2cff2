package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a1j9o94/jobagent/internal/models"
)

func TestTransitionHappyPath(t *testing.T) {
	status := models.AppDraft

	for _, step := range []struct {
		event Event
		want  string
	}{
		{DocumentsReady, models.AppReadyToSubmit},
		{EnqueuedForSubmission, models.AppSubmitting},
		{WorkerReportedApplied, models.AppSubmitted},
	} {
		next, err := Transition(status, step.event)
		require.NoError(t, err, "event %s from %s", step.event, status)
		assert.Equal(t, step.want, next)
		status = next
	}
}

func TestTransitionFailurePaths(t *testing.T) {
	cases := []struct {
		from  string
		event Event
		want  string
	}{
		{models.AppDraft, DocumentsFailed, models.AppError},
		{models.AppReadyToSubmit, DocumentsFailed, models.AppError},
		{models.AppSubmitting, WorkerReportedFailed, models.AppError},
		{models.AppSubmitting, WorkerReportedWaitingInput, models.AppNeedsUserInfo},
		{models.AppNeedsUserInfo, WorkerReportedApplied, models.AppSubmitted},
		{models.AppNeedsUserInfo, WorkerReportedFailed, models.AppError},
		// Re-drafting an already drafted application is allowed.
		{models.AppReadyToSubmit, DocumentsReady, models.AppReadyToSubmit},
	}
	for _, c := range cases {
		next, err := Transition(c.from, c.event)
		require.NoError(t, err, "%s on %s", c.event, c.from)
		assert.Equal(t, c.want, next)
	}
}

func TestNeedsUserInfoFromAnyActiveState(t *testing.T) {
	for _, from := range []string{
		models.AppDraft, models.AppReadyToSubmit, models.AppSubmitting,
		models.AppSubmitted, models.AppNeedsUserInfo, models.AppError,
	} {
		next, err := Transition(from, WorkerReportedNeedsUserInfo)
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, models.AppNeedsUserInfo, next)
	}

	for _, from := range []string{models.AppClosed, models.AppRejected} {
		_, err := Transition(from, WorkerReportedNeedsUserInfo)
		assert.ErrorIs(t, err, ErrIllegalTransition, "from %s", from)
	}
}

// Every (status, event) pair not in the legality table must be rejected and
// must not suggest a new status.
func TestTransitionRejectsEverythingElse(t *testing.T) {
	statuses := []string{
		models.AppDraft, models.AppNeedsUserInfo, models.AppReadyToSubmit,
		models.AppSubmitting, models.AppSubmitted, models.AppError,
		models.AppRejected, models.AppInterview, models.AppOffer, models.AppClosed,
	}
	events := []Event{
		DocumentsReady, DocumentsFailed, EnqueuedForSubmission,
		WorkerReportedApplied, WorkerReportedFailed, WorkerReportedWaitingInput,
	}

	for _, s := range statuses {
		for _, e := range events {
			_, legalPair := legal[s][e]
			next, err := Transition(s, e)
			if legalPair {
				require.NoError(t, err, "%s on %s", e, s)
				continue
			}
			assert.ErrorIs(t, err, ErrIllegalTransition, "%s on %s", e, s)
			assert.Empty(t, next)
		}
	}
}

// A duplicate applied report is an illegal transition, not a second apply.
func TestDuplicateAppliedReportRejected(t *testing.T) {
	next, err := Transition(models.AppSubmitting, WorkerReportedApplied)
	require.NoError(t, err)
	require.Equal(t, models.AppSubmitted, next)

	_, err = Transition(next, WorkerReportedApplied)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

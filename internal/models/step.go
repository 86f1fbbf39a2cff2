package models

import (
	"time"
)

// StepStatus enumerates pipeline step lifecycle states persisted in Postgres.
const (
	StepQueued     = "queued"
	StepInProgress = "in_progress"
	StepSucceeded  = "succeeded"
	StepFailed     = "failed"
	StepDeadLetter = "dead_lettered"
)

// Step types executed by the pipeline worker.
const (
	StepRankRole          = "rank_role"
	StepStartApplication  = "start_application"
	StepGenerateDocuments = "generate_documents"
	StepEnqueueSubmission = "enqueue_submission"
	StepSourceSweep       = "source_sweep"
	StepDailyReport       = "daily_report"
)

// Step is one independently retryable unit of pipeline work.
type Step struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	NextRunAt   time.Time      `json:"next_run_at"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// StepAudit is a simple audit event row for a step.
type StepAudit struct {
	StepID   string    `json:"step_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}

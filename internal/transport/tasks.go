package transport

import (
	"encoding/json"
	"fmt"
)

// Task is the wire envelope shared with the external worker. Payload stays
// raw until the consumer decodes it against the schema for its type.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Retries   int             `json:"retries"`
	CreatedAt string          `json:"created_at"`
	Priority  int             `json:"priority"`
}

// SubmitApplicationPayload is published by this core for the automation
// worker: everything needed to drive one submission.
type SubmitApplicationPayload struct {
	RoleID        int64             `json:"job_id"`
	ApplicationID int64             `json:"application_id"`
	PostingURL    string            `json:"job_url"`
	Company       string            `json:"company"`
	Title         string            `json:"title"`
	UserData      map[string]any    `json:"user_data"`
	Credentials   map[string]string `json:"credentials,omitempty"`
	CustomAnswers map[string]any    `json:"custom_answers,omitempty"`
}

// Worker-reported submission outcomes carried in StatusReportPayload.Status.
const (
	ReportApplied         = "applied"
	ReportFailed          = "failed"
	ReportWaitingApproval = "waiting_approval"
	ReportNeedsUserInfo   = "needs_user_info"
)

// StatusReportPayload flows back from the worker on the update_job_status
// queue.
type StatusReportPayload struct {
	RoleID        int64   `json:"job_id"`
	ApplicationID int64   `json:"application_id"`
	Status        string  `json:"status"`
	Notes         *string `json:"notes,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	ScreenshotURL *string `json:"screenshot_url,omitempty"`
	SubmittedAt   *string `json:"submitted_at,omitempty"`
}

// ApprovalRequestPayload flows back when the worker is blocked on a question
// only the user can answer.
type ApprovalRequestPayload struct {
	RoleID        int64          `json:"job_id"`
	ApplicationID int64          `json:"application_id"`
	Question      string         `json:"question"`
	CurrentState  *string        `json:"current_state,omitempty"`
	ScreenshotURL *string        `json:"screenshot_url,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// NotifyPayload is reserved for direct notification dispatch through the
// queue.
type NotifyPayload struct {
	Message     string `json:"message"`
	Destination string `json:"destination"`
}

// Decode validates and unpacks the payload against the schema for the task
// type, returning one of the typed payload structs above.
func (t *Task) Decode() (any, error) {
	switch t.Type {
	case TaskSubmitApplication:
		var p SubmitApplicationPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		if p.ApplicationID == 0 || p.PostingURL == "" {
			return nil, fmt.Errorf("task %s: application_id and job_url are required", t.ID)
		}
		return p, nil
	case TaskStatusUpdate:
		var p StatusReportPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		if p.ApplicationID == 0 || p.Status == "" {
			return nil, fmt.Errorf("task %s: application_id and status are required", t.ID)
		}
		return p, nil
	case TaskApprovalRequest:
		var p ApprovalRequestPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		if p.ApplicationID == 0 || p.Question == "" {
			return nil, fmt.Errorf("task %s: application_id and question are required", t.ID)
		}
		return p, nil
	case TaskSendNotification:
		var p NotifyPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("task %s: unknown type %q", t.ID, t.Type)
	}
}

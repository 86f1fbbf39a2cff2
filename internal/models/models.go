package models

import (
	"time"
)

// RoleStatus values persisted in Postgres and exposed on the wire.
const (
	RoleSourced  = "sourced"
	RoleRanked   = "ranked"
	RoleApplying = "applying"
	RoleApplied  = "applied"
	RoleIgnored  = "ignored"
)

// ApplicationStatus values persisted in Postgres and exposed on the wire.
const (
	AppDraft         = "draft"
	AppNeedsUserInfo = "needs_user_info"
	AppReadyToSubmit = "ready_to_submit"
	AppSubmitting    = "submitting"
	AppSubmitted     = "submitted"
	AppError         = "error"
	AppRejected      = "rejected"
	AppInterview     = "interview"
	AppOffer         = "offer"
	AppClosed        = "closed"
)

// Company is created on first reference by name and immutable afterwards.
type Company struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Website *string `json:"website,omitempty"`
}

// Role is a job posting deduplicated by UniqueHash.
type Role struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	PostingURL    string    `json:"posting_url"`
	UniqueHash    string    `json:"unique_hash"`
	Status        string    `json:"status"`
	RankScore     *float64  `json:"rank_score,omitempty"`
	RankRationale *string   `json:"rank_rationale,omitempty"`
	CompanyID     int64     `json:"company_id"`
	Location      *string   `json:"location,omitempty"`
	Requirements  *string   `json:"requirements,omitempty"`
	SalaryRange   *string   `json:"salary_range,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Skill is get-or-create by name, linked many-to-many with roles.
type Skill struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Profile is the applicant identity.
type Profile struct {
	ID        int64     `json:"id"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preference is a key/value pair scoped to a profile, unique per (profile, key).
type Preference struct {
	ID          int64     `json:"id"`
	ProfileID   int64     `json:"profile_id"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	LastUpdated time.Time `json:"last_updated"`
}

// Application is the central workflow entity driven by the pipeline and by
// reports from the external automation worker.
type Application struct {
	ID                  int64          `json:"id"`
	RoleID              int64          `json:"role_id"`
	ProfileID           int64          `json:"profile_id"`
	ExternalTaskRef     *string        `json:"external_task_ref,omitempty"`
	QueueTaskRef        *string        `json:"queue_task_ref,omitempty"`
	Status              string         `json:"status"`
	ResumeArtifactURL   *string        `json:"resume_artifact_url,omitempty"`
	CoverLetterArtifact *string        `json:"cover_letter_artifact_url,omitempty"`
	CustomAnswers       map[string]any `json:"custom_answers,omitempty"`
	ApprovalContext     map[string]any `json:"approval_context,omitempty"`
	ScreenshotURL       *string        `json:"screenshot_url,omitempty"`
	ErrorMessage        *string        `json:"error_message,omitempty"`
	Notes               *string        `json:"notes,omitempty"`
	SubmittedAt         *time.Time     `json:"submitted_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// ActiveApplication reports whether status counts against the one-active
// application per (role, profile) constraint.
func ActiveApplication(status string) bool {
	switch status {
	case AppError, AppClosed, AppRejected:
		return false
	}
	return true
}

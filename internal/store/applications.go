package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/a1j9o94/jobagent/internal/models"
)

const applicationColumns = `id, role_id, profile_id, external_task_ref, queue_task_ref, status,
	resume_artifact_url, cover_letter_artifact_url, custom_answers, approval_context,
	screenshot_url, error_message, notes, submitted_at, created_at`

func scanApplication(row pgx.Row) (models.Application, error) {
	var a models.Application
	var externalRef, queueRef, resume, cover, screenshot, errMsg, notes pgtype.Text
	var submittedAt pgtype.Timestamptz
	var answers, approval []byte
	err := row.Scan(&a.ID, &a.RoleID, &a.ProfileID, &externalRef, &queueRef, &a.Status,
		&resume, &cover, &answers, &approval, &screenshot, &errMsg, &notes, &submittedAt, &a.CreatedAt)
	if err != nil {
		return models.Application{}, err
	}
	a.ExternalTaskRef = textPtr(externalRef)
	a.QueueTaskRef = textPtr(queueRef)
	a.ResumeArtifactURL = textPtr(resume)
	a.CoverLetterArtifact = textPtr(cover)
	a.ScreenshotURL = textPtr(screenshot)
	a.ErrorMessage = textPtr(errMsg)
	a.Notes = textPtr(notes)
	if submittedAt.Valid {
		t := submittedAt.Time
		a.SubmittedAt = &t
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &a.CustomAnswers); err != nil {
			return models.Application{}, fmt.Errorf("decode custom answers: %w", err)
		}
	}
	if len(approval) > 0 {
		if err := json.Unmarshal(approval, &a.ApprovalContext); err != nil {
			return models.Application{}, fmt.Errorf("decode approval context: %w", err)
		}
	}
	return a, nil
}

// CreateApplication opens a draft application for (role, profile). The
// applications_one_active partial index rejects a second concurrent attempt;
// the violation surfaces as DuplicateApplicationError with the live row's id.
func (s *Store) CreateApplication(ctx context.Context, roleID, profileID int64) (models.Application, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO applications (role_id, profile_id, status)
		VALUES ($1, $2, $3)
		RETURNING `+applicationColumns+`
	`, roleID, profileID, models.AppDraft)

	app, err := scanApplication(row)
	if err == nil {
		return app, nil
	}
	if !uniqueViolation(err, "applications_one_active") {
		return models.Application{}, fmt.Errorf("insert application: %w", err)
	}

	var existingID int64
	if err := s.pool.QueryRow(ctx, `
		SELECT id FROM applications
		WHERE role_id = $1 AND profile_id = $2 AND status NOT IN ($3, $4, $5)
	`, roleID, profileID, models.AppError, models.AppClosed, models.AppRejected).Scan(&existingID); err != nil {
		return models.Application{}, fmt.Errorf("select duplicate application: %w", err)
	}
	return models.Application{}, &DuplicateApplicationError{ExistingID: existingID}
}

// GetApplication fetches an application by id.
func (s *Store) GetApplication(ctx context.Context, id int64) (models.Application, error) {
	app, err := scanApplication(s.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Application{}, fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Application{}, fmt.Errorf("select application: %w", err)
	}
	return app, nil
}

// SetApplicationDocuments records generated artifact URLs and moves the
// application into the given status (ready_to_submit on success).
func (s *Store) SetApplicationDocuments(ctx context.Context, id int64, resumeURL, coverURL, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications
		SET resume_artifact_url = $2, cover_letter_artifact_url = $3, status = $4
		WHERE id = $1
	`, id, resumeURL, coverURL, status)
	if err != nil {
		return fmt.Errorf("update application documents: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetApplicationStatus writes a bare status change.
func (s *Store) SetApplicationStatus(ctx context.Context, id int64, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE applications SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkApplicationError moves the application to error with a message.
func (s *Store) MarkApplicationError(ctx context.Context, id int64, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications SET status = $2, error_message = $3 WHERE id = $1
	`, id, models.AppError, message)
	if err != nil {
		return fmt.Errorf("mark application error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkApplicationSubmitting records the outbound queue task id and flips the
// application to submitting in one statement.
func (s *Store) MarkApplicationSubmitting(ctx context.Context, id int64, queueTaskRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications SET status = $2, queue_task_ref = $3 WHERE id = $1
	`, id, models.AppSubmitting, queueTaskRef)
	if err != nil {
		return fmt.Errorf("mark application submitting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return nil
}

// StatusReportUpdate is the persisted slice of a worker status report.
// SubmittedAt carries the worker-reported submission time; when absent the
// reconciler's receipt time is used instead.
type StatusReportUpdate struct {
	Status        string
	Notes         *string
	ErrorMessage  *string
	ScreenshotURL *string
	SubmittedAt   *time.Time
}

// ApplyStatusReport writes the outcome of a worker report. submitted_at is
// COALESCEd so only the first transition into submitted stamps it; later
// writes never move it.
func (s *Store) ApplyStatusReport(ctx context.Context, id int64, u StatusReportUpdate) error {
	var submittedAt *time.Time
	if u.Status == models.AppSubmitted {
		submittedAt = u.SubmittedAt
		if submittedAt == nil {
			now := time.Now().UTC()
			submittedAt = &now
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications
		SET status = $2,
		    notes = COALESCE($3, notes),
		    error_message = COALESCE($4, error_message),
		    screenshot_url = COALESCE($5, screenshot_url),
		    submitted_at = COALESCE(submitted_at, $6)
		WHERE id = $1
	`, id, u.Status, u.Notes, u.ErrorMessage, u.ScreenshotURL, submittedAt)
	if err != nil {
		return fmt.Errorf("apply status report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetCustomAnswers replaces the user-supplied answers that are forwarded to
// the automation worker with the submission payload.
func (s *Store) SetCustomAnswers(ctx context.Context, id int64, answers map[string]any) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode custom answers: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications SET custom_answers = $2 WHERE id = $1
	`, id, raw)
	if err != nil {
		return fmt.Errorf("set custom answers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetApprovalContext stores the question block an approval_request carried,
// so the pending-input view can show what the worker is blocked on.
func (s *Store) SetApprovalContext(ctx context.Context, id int64, approval map[string]any) error {
	raw, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("encode approval context: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications SET approval_context = $2, status = $3 WHERE id = $1
	`, id, raw, models.AppNeedsUserInfo)
	if err != nil {
		return fmt.Errorf("set approval context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountSubmittedBetween reports applications first submitted inside a window.
func (s *Store) CountSubmittedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM applications WHERE submitted_at >= $1 AND submitted_at < $2
	`, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count submitted applications: %w", err)
	}
	return n, nil
}

// PendingInputSummary is one row of the daily report's blocked section.
type PendingInputSummary struct {
	ApplicationID int64
	RoleTitle     string
	CompanyName   string
}

// ListPendingInput returns applications stuck in needs_user_info, oldest
// first, joined with role and company for a readable report line.
func (s *Store) ListPendingInput(ctx context.Context, limit int) ([]PendingInputSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, r.title, c.name
		FROM applications a
		JOIN roles r ON r.id = a.role_id
		JOIN companies c ON c.id = r.company_id
		WHERE a.status = $1
		ORDER BY a.created_at ASC
		LIMIT $2
	`, models.AppNeedsUserInfo, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending input: %w", err)
	}
	defer rows.Close()

	var out []PendingInputSummary
	for rows.Next() {
		var p PendingInputSummary
		if err := rows.Scan(&p.ApplicationID, &p.RoleTitle, &p.CompanyName); err != nil {
			return nil, fmt.Errorf("scan pending input: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

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

const stepColumns = `id, type, payload, status, attempts, max_attempts, next_run_at, last_error, created_at, updated_at`

func scanStep(row pgx.Row) (models.Step, error) {
	var st models.Step
	var payload []byte
	var lastErr pgtype.Text
	err := row.Scan(&st.ID, &st.Type, &payload, &st.Status, &st.Attempts,
		&st.MaxAttempts, &st.NextRunAt, &lastErr, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return models.Step{}, err
	}
	st.LastError = textPtr(lastErr)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &st.Payload); err != nil {
			return models.Step{}, fmt.Errorf("decode step payload: %w", err)
		}
	}
	return st, nil
}

// CreateStep persists a queued step record. The queue carries only the id;
// payload and retry bookkeeping live here.
func (s *Store) CreateStep(ctx context.Context, st models.Step) error {
	raw, err := json.Marshal(st.Payload)
	if err != nil {
		return fmt.Errorf("encode step payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_steps (id, type, payload, status, attempts, max_attempts, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, st.ID, st.Type, raw, models.StepQueued, 0, st.MaxAttempts, st.NextRunAt)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// GetStep fetches a step by id.
func (s *Store) GetStep(ctx context.Context, id string) (models.Step, error) {
	st, err := scanStep(s.pool.QueryRow(ctx, `
		SELECT `+stepColumns+` FROM pipeline_steps WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Step{}, fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Step{}, fmt.Errorf("select step: %w", err)
	}
	return st, nil
}

// MarkStepInProgress bumps the attempt counter and flips the step to
// in_progress. Returns the new attempt number.
func (s *Store) MarkStepInProgress(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE pipeline_steps
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING attempts
	`, id, models.StepInProgress).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("mark step in progress: %w", err)
	}
	return attempts, nil
}

// MarkStepSucceeded finalizes a step.
func (s *Store) MarkStepSucceeded(ctx context.Context, id string) error {
	return s.setStepStatus(ctx, id, models.StepSucceeded, nil, nil)
}

// MarkStepFailedRetry records a failed attempt and the time the step becomes
// runnable again.
func (s *Store) MarkStepFailedRetry(ctx context.Context, id, reason string, nextRunAt time.Time) error {
	return s.setStepStatus(ctx, id, models.StepFailed, &reason, &nextRunAt)
}

// MarkStepDeadLetter parks a step permanently.
func (s *Store) MarkStepDeadLetter(ctx context.Context, id, reason string) error {
	return s.setStepStatus(ctx, id, models.StepDeadLetter, &reason, nil)
}

func (s *Store) setStepStatus(ctx context.Context, id, status string, lastErr *string, nextRunAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_steps
		SET status = $2,
		    last_error = COALESCE($3, last_error),
		    next_run_at = COALESCE($4, next_run_at),
		    updated_at = NOW()
		WHERE id = $1
	`, id, status, lastErr, nextRunAt)
	if err != nil {
		return fmt.Errorf("update step status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendStepAudit records one audit event for a step. Audit writes are
// advisory; callers log and continue when they fail.
func (s *Store) AppendStepAudit(ctx context.Context, stepID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO step_audits (step_id, event, detail) VALUES ($1, $2, $3)
	`, stepID, event, detail)
	if err != nil {
		return fmt.Errorf("insert step audit: %w", err)
	}
	return nil
}

// CountStepsByStatus returns step counts grouped by status, for the health
// endpoint and the daily report.
func (s *Store) CountStepsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM pipeline_steps GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count steps: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan step count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

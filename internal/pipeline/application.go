package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/lifecycle"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/render"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/transport"
	"github.com/a1j9o94/jobagent/internal/worker"
)

// StartApplication opens a draft application for a role and chains document
// generation. Re-running against an existing active application reuses it,
// so at-least-once delivery never opens a second draft.
func (p *Pipeline) StartApplication(ctx context.Context, step models.Step) ([]worker.Followup, error) {
	roleID, err := payloadInt64(step.Payload, "role_id")
	if err != nil {
		return nil, worker.Fatal("invalid start payload", err)
	}
	profileID := p.cfg.DefaultProfileID
	if id, err := payloadInt64(step.Payload, "profile_id"); err == nil {
		profileID = id
	}

	if _, err := p.store.GetRoleWithCompany(ctx, roleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, worker.Fatal("role gone before application start", err)
		}
		return nil, fmt.Errorf("load role: %w", err)
	}
	if _, err := p.store.GetProfile(ctx, profileID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, worker.Fatal("profile gone before application start", err)
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}

	app, err := p.store.CreateApplication(ctx, roleID, profileID)
	if err != nil {
		var dup *store.DuplicateApplicationError
		if errors.As(err, &dup) {
			p.log.Info("reusing active application",
				zap.Int64("role_id", roleID),
				zap.Int64("application_id", dup.ExistingID))
			app = models.Application{ID: dup.ExistingID}
		} else {
			return nil, fmt.Errorf("create application: %w", err)
		}
	}

	if err := p.store.SetRoleStatus(ctx, roleID, models.RoleApplying); err != nil {
		return nil, fmt.Errorf("mark role applying: %w", err)
	}

	return []worker.Followup{{
		Type:    models.StepGenerateDocuments,
		Payload: map[string]any{"application_id": app.ID},
	}}, nil
}

// GenerateDocuments drafts resume and cover letter for an application,
// uploads both artifacts, and chains the submission handoff. Re-runs
// overwrite the artifact URLs.
func (p *Pipeline) GenerateDocuments(ctx context.Context, step models.Step) ([]worker.Followup, error) {
	appID, err := payloadInt64(step.Payload, "application_id")
	if err != nil {
		return nil, worker.Fatal("invalid drafting payload", err)
	}

	app, err := p.store.GetApplication(ctx, appID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, worker.Fatal("application gone before drafting", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load application: %w", err)
	}

	next, err := lifecycle.Transition(app.Status, lifecycle.DocumentsReady)
	if err != nil {
		p.log.Warn("drafting requested in illegal state",
			zap.Int64("application_id", appID),
			zap.String("status", app.Status))
		return nil, worker.Fatal("application not draftable", err)
	}

	role, err := p.store.GetRoleWithCompany(ctx, app.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	profile, err := p.store.GetProfile(ctx, app.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	prefs, err := p.store.PreferencesMap(ctx, app.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	docs, err := p.drafter.Draft(ctx, role, profile, prefs)
	if err != nil {
		return nil, p.failDocuments(ctx, step, appID, fmt.Errorf("draft documents: %w", err))
	}

	resumeURL, err := p.uploadDocument(ctx, appID, "resume", role.Title+" Resume", docs.ResumeMarkdown)
	if err != nil {
		return nil, p.failDocuments(ctx, step, appID, err)
	}
	coverURL, err := p.uploadDocument(ctx, appID, "cover_letter", role.Title+" Cover Letter", docs.CoverLetterMarkdown)
	if err != nil {
		return nil, p.failDocuments(ctx, step, appID, err)
	}

	if err := p.store.SetApplicationDocuments(ctx, appID, resumeURL, coverURL, next); err != nil {
		return nil, fmt.Errorf("record documents: %w", err)
	}
	p.log.Info("documents ready",
		zap.Int64("application_id", appID),
		zap.Bool("degraded", docs.Degraded))

	return []worker.Followup{{
		Type:    models.StepEnqueueSubmission,
		Payload: map[string]any{"application_id": appID},
	}}, nil
}

func (p *Pipeline) uploadDocument(ctx context.Context, appID int64, kind, title, markdown string) (string, error) {
	html, err := render.Document(title, markdown)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	key := fmt.Sprintf("applications/%d/%s.html", appID, kind)
	url, err := p.uploader.Upload(ctx, key, html, "text/html")
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", kind, err)
	}
	return url, nil
}

// failDocuments moves the application to error when the step has no retries
// left, then hands the error back for the scheduler's bookkeeping.
func (p *Pipeline) failDocuments(ctx context.Context, step models.Step, appID int64, cause error) error {
	if finalAttempt(step) {
		if err := p.store.MarkApplicationError(ctx, appID, cause.Error()); err != nil {
			p.log.Error("marking application error failed",
				zap.Int64("application_id", appID), zap.Error(err))
		}
	}
	return cause
}

// EnqueueSubmission publishes the application to the external automation
// worker and flips it to submitting with the queue task ref recorded. An
// application already submitting is a completed re-run, not an error.
func (p *Pipeline) EnqueueSubmission(ctx context.Context, step models.Step) ([]worker.Followup, error) {
	appID, err := payloadInt64(step.Payload, "application_id")
	if err != nil {
		return nil, worker.Fatal("invalid submission payload", err)
	}

	app, err := p.store.GetApplication(ctx, appID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, worker.Fatal("application gone before submission", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load application: %w", err)
	}

	if app.Status == models.AppSubmitting && app.QueueTaskRef != nil {
		p.log.Info("submission already published",
			zap.Int64("application_id", appID),
			zap.String("queue_task_ref", *app.QueueTaskRef))
		return nil, nil
	}
	if _, err := lifecycle.Transition(app.Status, lifecycle.EnqueuedForSubmission); err != nil {
		p.log.Warn("submission requested in illegal state",
			zap.Int64("application_id", appID),
			zap.String("status", app.Status))
		return nil, worker.Fatal("application not ready to submit", err)
	}

	role, err := p.store.GetRoleWithCompany(ctx, app.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	profile, err := p.store.GetProfile(ctx, app.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	prefs, err := p.store.PreferencesMap(ctx, app.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	userData := map[string]any{
		"headline": profile.Headline,
		"summary":  profile.Summary,
	}
	for k, v := range prefs {
		userData[k] = v
	}
	if app.ResumeArtifactURL != nil {
		userData["resume_url"] = *app.ResumeArtifactURL
	}
	if app.CoverLetterArtifact != nil {
		userData["cover_letter_url"] = *app.CoverLetterArtifact
	}

	taskID, err := p.pub.Publish(ctx, transport.TaskSubmitApplication, transport.SubmitApplicationPayload{
		RoleID:        app.RoleID,
		ApplicationID: app.ID,
		PostingURL:    role.PostingURL,
		Company:       role.CompanyName,
		Title:         role.Title,
		UserData:      userData,
		CustomAnswers: app.CustomAnswers,
	}, 0)
	if err != nil {
		// No fallback here: out of retries means the application errors out.
		if finalAttempt(step) {
			if merr := p.store.MarkApplicationError(ctx, appID, err.Error()); merr != nil {
				p.log.Error("marking application error failed",
					zap.Int64("application_id", appID), zap.Error(merr))
			}
		}
		return nil, fmt.Errorf("publish submission: %w", err)
	}

	if err := p.store.MarkApplicationSubmitting(ctx, appID, taskID); err != nil {
		return nil, fmt.Errorf("mark submitting: %w", err)
	}
	p.log.Info("submission enqueued",
		zap.Int64("application_id", appID),
		zap.String("queue_task_ref", taskID))
	return nil, nil
}

// Package drafting produces tailored resume and cover letter documents for
// an application. Like scoring, the external model is wrapped with retries
// and a deterministic fallback built from the stored profile.
package drafting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/telemetry"
)

// Documents is one drafting outcome, both documents as Markdown.
type Documents struct {
	ResumeMarkdown      string
	CoverLetterMarkdown string
	Degraded            bool
}

// Drafter generates application documents for a role/profile pair.
type Drafter interface {
	Draft(ctx context.Context, role store.RoleWithCompany, profile models.Profile, prefs map[string]string) (Documents, error)
}

// RetryingDrafter wraps a Drafter with per-call timeouts, bounded retries
// and the profile-derived fallback. After the last attempt fails it returns
// a Degraded document set instead of an error.
type RetryingDrafter struct {
	inner       Drafter
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
	log         *zap.Logger
}

func NewRetryingDrafter(cfg config.Config, inner Drafter, log *zap.Logger) *RetryingDrafter {
	return &RetryingDrafter{
		inner:       inner,
		maxAttempts: cfg.AdapterMaxAttempts,
		timeout:     cfg.AdapterTimeout,
		backoff:     cfg.AdapterBackoffBase,
		log:         log,
	}
}

func (d *RetryingDrafter) Draft(ctx context.Context, role store.RoleWithCompany, profile models.Profile, prefs map[string]string) (Documents, error) {
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		docs, err := d.inner.Draft(callCtx, role, profile, prefs)
		cancel()
		if err == nil {
			return docs, nil
		}
		lastErr = err
		d.log.Warn("drafting attempt failed",
			zap.Int64("role_id", role.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == d.maxAttempts {
			break
		}
		wait := d.backoff * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return Documents{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	telemetry.AdapterFallbacks.Inc()
	d.log.Error("drafting exhausted retries, using fallback documents",
		zap.Int64("role_id", role.ID),
		zap.Error(lastErr))
	return FallbackDocuments(role, profile), nil
}

// FallbackDocuments builds plain documents straight from the stored profile.
// They are intentionally unremarkable but always valid, so a model outage
// never blocks an application from reaching review.
func FallbackDocuments(role store.RoleWithCompany, profile models.Profile) Documents {
	var resume strings.Builder
	fmt.Fprintf(&resume, "# %s\n\n", profile.Headline)
	fmt.Fprintf(&resume, "%s\n\n", profile.Summary)
	fmt.Fprintf(&resume, "## Target Role\n\n%s at %s\n", role.Title, role.CompanyName)

	var cover strings.Builder
	fmt.Fprintf(&cover, "Dear %s hiring team,\n\n", role.CompanyName)
	fmt.Fprintf(&cover, "I am applying for the %s position. %s\n\n", role.Title, profile.Summary)
	fmt.Fprintf(&cover, "I would welcome the chance to discuss how my background fits this role.\n\nBest regards,\n%s\n", profile.Headline)

	return Documents{
		ResumeMarkdown:      resume.String(),
		CoverLetterMarkdown: cover.String(),
		Degraded:            true,
	}
}

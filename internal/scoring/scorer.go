// Package scoring ranks sourced roles against the applicant profile through
// an external model, with bounded retries and a neutral fallback so the
// pipeline keeps moving when the model is down.
package scoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/telemetry"
)

// Result is one scoring outcome. Degraded marks the neutral fallback taken
// after retries are exhausted; callers must not treat a degraded score as a
// real ranking.
type Result struct {
	Score     float64
	Rationale string
	Skills    []string
	Degraded  bool
}

// Scorer produces a fit score in [0,1] for a role against a profile.
type Scorer interface {
	Score(ctx context.Context, role store.RoleWithCompany, profile models.Profile, prefs map[string]string) (Result, error)
}

// FallbackScore is the neutral score recorded when scoring is unavailable.
const FallbackScore = 0.5

// RetryingScorer wraps a Scorer with per-call timeouts, bounded retries and
// the degraded fallback. It never returns an error: after the last attempt
// fails it returns a Degraded result instead.
type RetryingScorer struct {
	inner       Scorer
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
	log         *zap.Logger
}

func NewRetryingScorer(cfg config.Config, inner Scorer, log *zap.Logger) *RetryingScorer {
	return &RetryingScorer{
		inner:       inner,
		maxAttempts: cfg.AdapterMaxAttempts,
		timeout:     cfg.AdapterTimeout,
		backoff:     cfg.AdapterBackoffBase,
		log:         log,
	}
}

func (s *RetryingScorer) Score(ctx context.Context, role store.RoleWithCompany, profile models.Profile, prefs map[string]string) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.inner.Score(callCtx, role, profile, prefs)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		s.log.Warn("scoring attempt failed",
			zap.Int64("role_id", role.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == s.maxAttempts {
			break
		}
		wait := s.backoff * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	telemetry.AdapterFallbacks.Inc()
	s.log.Error("scoring exhausted retries, using neutral fallback",
		zap.Int64("role_id", role.ID),
		zap.Error(lastErr))
	return Result{
		Score:     FallbackScore,
		Rationale: "scoring unavailable, neutral fallback applied",
		Degraded:  true,
	}, nil
}

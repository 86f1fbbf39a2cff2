package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/worker"
)

// RankRole scores one sourced role against the profile. A degraded scoring
// result still writes score and rationale, but leaves the role sourced so a
// later sweep retries it with a working model.
func (p *Pipeline) RankRole(ctx context.Context, step models.Step) ([]worker.Followup, error) {
	roleID, err := payloadInt64(step.Payload, "role_id")
	if err != nil {
		return nil, worker.Fatal("invalid rank payload", err)
	}

	role, err := p.store.GetRoleWithCompany(ctx, roleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, worker.Fatal("role gone before ranking", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}

	profileID := p.cfg.DefaultProfileID
	if id, err := payloadInt64(step.Payload, "profile_id"); err == nil {
		profileID = id
	}
	profile, err := p.store.GetProfile(ctx, profileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, worker.Fatal("profile gone before ranking", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	prefs, err := p.store.PreferencesMap(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	res, err := p.scorer.Score(ctx, role, profile, prefs)
	if err != nil {
		return nil, fmt.Errorf("score role: %w", err)
	}

	if err := p.store.UpdateRoleRank(ctx, roleID, res.Score, res.Rationale, !res.Degraded); err != nil {
		return nil, fmt.Errorf("record rank: %w", err)
	}
	if !res.Degraded && len(res.Skills) > 0 {
		if err := p.store.LinkRoleSkills(ctx, roleID, res.Skills); err != nil {
			// Skills are enrichment, not workflow state.
			p.log.Warn("linking skills failed", zap.Int64("role_id", roleID), zap.Error(err))
		}
	}

	p.log.Info("role ranked",
		zap.Int64("role_id", roleID),
		zap.Float64("score", res.Score),
		zap.Bool("degraded", res.Degraded))
	return nil, nil
}

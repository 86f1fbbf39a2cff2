package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/worker"
)

// SourceSweep re-enqueues ranking for roles still sitting in sourced. This
// catches both freshly ingested postings and roles whose earlier scoring hit
// the degraded fallback.
func (p *Pipeline) SourceSweep(ctx context.Context, step models.Step) ([]worker.Followup, error) {
	batch := p.cfg.ScheduledBatchSize
	if batch <= 0 {
		batch = 20
	}
	ids, err := p.store.ListRoleIDsByStatus(ctx, models.RoleSourced, batch)
	if err != nil {
		return nil, fmt.Errorf("list sourced roles: %w", err)
	}

	followups := make([]worker.Followup, 0, len(ids))
	for _, id := range ids {
		followups = append(followups, worker.Followup{
			Type:    models.StepRankRole,
			Payload: map[string]any{"role_id": id},
		})
	}
	p.log.Info("source sweep", zap.Int("unranked_roles", len(ids)))
	return followups, nil
}

// DailyReport summarizes the last 24 hours for the user: roles sourced,
// applications submitted, and anything blocked on their input. Delivery is
// best effort.
func (p *Pipeline) DailyReport(ctx context.Context, step models.Step) ([]worker.Followup, error) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)

	sourced, err := p.store.CountRolesCreatedBetween(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("count sourced roles: %w", err)
	}
	submitted, err := p.store.CountSubmittedBetween(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	pending, err := p.store.ListPendingInput(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("list pending input: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Daily pipeline report</b>\n")
	fmt.Fprintf(&b, "Roles sourced: %d\n", sourced)
	fmt.Fprintf(&b, "Applications submitted: %d\n", submitted)
	if depths, err := p.pub.Stats(ctx); err == nil {
		var total int64
		for _, d := range depths {
			total += d
		}
		fmt.Fprintf(&b, "Queued worker tasks: %d\n", total)
	}
	if len(pending) > 0 {
		b.WriteString("\nWaiting on your input:\n")
		for _, item := range pending {
			fmt.Fprintf(&b, "- %s at %s (application %d)\n", item.RoleTitle, item.CompanyName, item.ApplicationID)
		}
	}

	if err := p.notifier.Send(ctx, b.String()); err != nil {
		p.log.Warn("daily report delivery failed", zap.Error(err))
	}
	return nil, nil
}

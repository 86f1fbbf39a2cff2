// Package pipeline implements the step handlers that drive a role from
// sourced posting to submitted application: scoring, application start,
// document generation, and submission handoff, plus the scheduled sweep and
// daily report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/drafting"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/notify"
	"github.com/a1j9o94/jobagent/internal/scoring"
	"github.com/a1j9o94/jobagent/internal/storage"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/worker"
)

// Datastore is the slice of the persistence layer the handlers touch.
// *store.Store satisfies it; tests substitute a fake.
type Datastore interface {
	GetRoleWithCompany(ctx context.Context, id int64) (store.RoleWithCompany, error)
	UpdateRoleRank(ctx context.Context, id int64, score float64, rationale string, ranked bool) error
	SetRoleStatus(ctx context.Context, id int64, status string) error
	ListRoleIDsByStatus(ctx context.Context, status string, limit int) ([]int64, error)
	CountRolesCreatedBetween(ctx context.Context, from, to time.Time) (int64, error)
	LinkRoleSkills(ctx context.Context, roleID int64, skillNames []string) error
	GetProfile(ctx context.Context, id int64) (models.Profile, error)
	PreferencesMap(ctx context.Context, profileID int64) (map[string]string, error)
	CreateApplication(ctx context.Context, roleID, profileID int64) (models.Application, error)
	GetApplication(ctx context.Context, id int64) (models.Application, error)
	SetApplicationDocuments(ctx context.Context, id int64, resumeURL, coverURL, status string) error
	MarkApplicationError(ctx context.Context, id int64, message string) error
	MarkApplicationSubmitting(ctx context.Context, id int64, queueTaskRef string) error
	CountSubmittedBetween(ctx context.Context, from, to time.Time) (int64, error)
	ListPendingInput(ctx context.Context, limit int) ([]store.PendingInputSummary, error)
}

// Publisher is the outbound half of the queue transport.
type Publisher interface {
	Publish(ctx context.Context, taskType string, payload any, priority int) (string, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// Pipeline bundles the handler dependencies.
type Pipeline struct {
	cfg      config.Config
	store    Datastore
	scorer   scoring.Scorer
	drafter  drafting.Drafter
	uploader storage.Uploader
	pub      Publisher
	notifier notify.Notifier
	log      *zap.Logger
}

func New(cfg config.Config, ds Datastore, sc scoring.Scorer, dr drafting.Drafter, up storage.Uploader, pub Publisher, n notify.Notifier, log *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    ds,
		scorer:   sc,
		drafter:  dr,
		uploader: up,
		pub:      pub,
		notifier: n,
		log:      log,
	}
}

// Register binds every handler to its step type.
func (p *Pipeline) Register(proc *worker.Processor) {
	proc.RegisterHandler(models.StepRankRole, p.RankRole)
	proc.RegisterHandler(models.StepStartApplication, p.StartApplication)
	proc.RegisterHandler(models.StepGenerateDocuments, p.GenerateDocuments)
	proc.RegisterHandler(models.StepEnqueueSubmission, p.EnqueueSubmission)
	proc.RegisterHandler(models.StepSourceSweep, p.SourceSweep)
	proc.RegisterHandler(models.StepDailyReport, p.DailyReport)
}

// payloadInt64 reads an integer id out of a decoded JSON payload, where
// numbers arrive as float64.
func payloadInt64(payload map[string]any, key string) (int64, error) {
	v, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("payload missing %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("payload %q has non-numeric type %T", key, v)
	}
}

// finalAttempt reports whether this execution is the step's last allowed try.
func finalAttempt(step models.Step) bool {
	return step.Attempts >= step.MaxAttempts
}

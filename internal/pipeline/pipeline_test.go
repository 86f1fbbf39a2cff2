package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/drafting"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/notify"
	"github.com/a1j9o94/jobagent/internal/scoring"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/worker"
)

type fakeStore struct {
	roles        map[int64]store.RoleWithCompany
	roleStatus   map[int64]string
	rankedCalls  []rankCall
	linkedSkills map[int64][]string
	profiles     map[int64]models.Profile
	prefs        map[int64]map[string]string
	apps         map[int64]models.Application
	nextAppID    int64
	dupAppID     int64
	docsSet      map[int64][2]string
	appErrors    map[int64]string
	submitting   map[int64]string
	sourcedIDs   []int64
}

type rankCall struct {
	roleID int64
	score  float64
	ranked bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:        make(map[int64]store.RoleWithCompany),
		roleStatus:   make(map[int64]string),
		linkedSkills: make(map[int64][]string),
		profiles:     make(map[int64]models.Profile),
		prefs:        make(map[int64]map[string]string),
		apps:         make(map[int64]models.Application),
		nextAppID:    100,
		docsSet:      make(map[int64][2]string),
		appErrors:    make(map[int64]string),
		submitting:   make(map[int64]string),
	}
}

func (f *fakeStore) GetRoleWithCompany(_ context.Context, id int64) (store.RoleWithCompany, error) {
	r, ok := f.roles[id]
	if !ok {
		return store.RoleWithCompany{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) UpdateRoleRank(_ context.Context, id int64, score float64, _ string, ranked bool) error {
	f.rankedCalls = append(f.rankedCalls, rankCall{roleID: id, score: score, ranked: ranked})
	return nil
}

func (f *fakeStore) SetRoleStatus(_ context.Context, id int64, status string) error {
	f.roleStatus[id] = status
	return nil
}

func (f *fakeStore) ListRoleIDsByStatus(_ context.Context, _ string, limit int) ([]int64, error) {
	if len(f.sourcedIDs) > limit {
		return f.sourcedIDs[:limit], nil
	}
	return f.sourcedIDs, nil
}

func (f *fakeStore) CountRolesCreatedBetween(context.Context, time.Time, time.Time) (int64, error) {
	return int64(len(f.roles)), nil
}

func (f *fakeStore) LinkRoleSkills(_ context.Context, roleID int64, names []string) error {
	f.linkedSkills[roleID] = names
	return nil
}

func (f *fakeStore) GetProfile(_ context.Context, id int64) (models.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return models.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) PreferencesMap(_ context.Context, id int64) (map[string]string, error) {
	return f.prefs[id], nil
}

func (f *fakeStore) CreateApplication(_ context.Context, roleID, profileID int64) (models.Application, error) {
	if f.dupAppID != 0 {
		return models.Application{}, &store.DuplicateApplicationError{ExistingID: f.dupAppID}
	}
	f.nextAppID++
	app := models.Application{ID: f.nextAppID, RoleID: roleID, ProfileID: profileID, Status: models.AppDraft}
	f.apps[app.ID] = app
	return app, nil
}

func (f *fakeStore) GetApplication(_ context.Context, id int64) (models.Application, error) {
	a, ok := f.apps[id]
	if !ok {
		return models.Application{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) SetApplicationDocuments(_ context.Context, id int64, resumeURL, coverURL, status string) error {
	f.docsSet[id] = [2]string{resumeURL, coverURL}
	a := f.apps[id]
	a.Status = status
	a.ResumeArtifactURL = &resumeURL
	a.CoverLetterArtifact = &coverURL
	f.apps[id] = a
	return nil
}

func (f *fakeStore) MarkApplicationError(_ context.Context, id int64, msg string) error {
	f.appErrors[id] = msg
	a := f.apps[id]
	a.Status = models.AppError
	f.apps[id] = a
	return nil
}

func (f *fakeStore) MarkApplicationSubmitting(_ context.Context, id int64, ref string) error {
	f.submitting[id] = ref
	a := f.apps[id]
	a.Status = models.AppSubmitting
	a.QueueTaskRef = &ref
	f.apps[id] = a
	return nil
}

func (f *fakeStore) CountSubmittedBetween(context.Context, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) ListPendingInput(context.Context, int) ([]store.PendingInputSummary, error) {
	return nil, nil
}

type fixedScorer struct{ res scoring.Result }

func (s fixedScorer) Score(context.Context, store.RoleWithCompany, models.Profile, map[string]string) (scoring.Result, error) {
	return s.res, nil
}

type fixedDrafter struct{ docs drafting.Documents }

func (d fixedDrafter) Draft(context.Context, store.RoleWithCompany, models.Profile, map[string]string) (drafting.Documents, error) {
	return d.docs, nil
}

type memUploader struct{ uploads map[string][]byte }

func (u *memUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	if u.uploads == nil {
		u.uploads = make(map[string][]byte)
	}
	u.uploads[key] = body
	return "mem://" + key, nil
}

type fakePublisher struct {
	published []string
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, taskType string, _ any, _ int) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	id := taskType + "_1"
	p.published = append(p.published, taskType)
	return id, nil
}

func (p *fakePublisher) Stats(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func testPipeline(fs *fakeStore, pub *fakePublisher, sc scoring.Scorer, dr drafting.Drafter) *Pipeline {
	cfg := config.Config{DefaultProfileID: 1, ScheduledBatchSize: 10}
	return New(cfg, fs, sc, dr, &memUploader{}, pub, &notify.LogNotifier{Log: zap.NewNop()}, zap.NewNop())
}

func seedRole(fs *fakeStore, id int64) {
	fs.roles[id] = store.RoleWithCompany{
		Role:        models.Role{ID: id, Title: "Backend Engineer", PostingURL: "https://acme.example/jobs/1", Status: models.RoleSourced},
		CompanyName: "Acme",
	}
	fs.profiles[1] = models.Profile{ID: 1, Headline: "Engineer", Summary: "Go and Postgres."}
}

func step(stepType string, payload map[string]any) models.Step {
	return models.Step{ID: "s1", Type: stepType, Payload: payload, Attempts: 1, MaxAttempts: 3}
}

func TestRankRoleRecordsScore(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	p := testPipeline(fs, &fakePublisher{}, fixedScorer{res: scoring.Result{Score: 0.9, Skills: []string{"go", "sql"}}}, fixedDrafter{})

	followups, err := p.RankRole(context.Background(), step(models.StepRankRole, map[string]any{"role_id": float64(7)}))
	require.NoError(t, err)
	assert.Empty(t, followups)
	require.Len(t, fs.rankedCalls, 1)
	assert.True(t, fs.rankedCalls[0].ranked)
	assert.Equal(t, []string{"go", "sql"}, fs.linkedSkills[7])
}

func TestRankRoleDegradedStaysSourced(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	p := testPipeline(fs, &fakePublisher{}, fixedScorer{res: scoring.Result{Score: scoring.FallbackScore, Degraded: true}}, fixedDrafter{})

	_, err := p.RankRole(context.Background(), step(models.StepRankRole, map[string]any{"role_id": float64(7)}))
	require.NoError(t, err)
	require.Len(t, fs.rankedCalls, 1)
	assert.False(t, fs.rankedCalls[0].ranked, "degraded result must not promote to ranked")
	assert.Empty(t, fs.linkedSkills[7])
}

func TestRankRoleMissingRoleIsFatal(t *testing.T) {
	fs := newFakeStore()
	p := testPipeline(fs, &fakePublisher{}, fixedScorer{}, fixedDrafter{})

	_, err := p.RankRole(context.Background(), step(models.StepRankRole, map[string]any{"role_id": float64(99)}))
	var fatal *worker.FatalError
	require.ErrorAs(t, err, &fatal)
}

func TestStartApplicationChainsDrafting(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	p := testPipeline(fs, &fakePublisher{}, fixedScorer{}, fixedDrafter{})

	followups, err := p.StartApplication(context.Background(), step(models.StepStartApplication, map[string]any{"role_id": float64(7)}))
	require.NoError(t, err)
	require.Len(t, followups, 1)
	assert.Equal(t, models.StepGenerateDocuments, followups[0].Type)
	assert.Equal(t, models.RoleApplying, fs.roleStatus[7])
}

func TestStartApplicationReusesActiveDuplicate(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	fs.dupAppID = 42
	p := testPipeline(fs, &fakePublisher{}, fixedScorer{}, fixedDrafter{})

	followups, err := p.StartApplication(context.Background(), step(models.StepStartApplication, map[string]any{"role_id": float64(7)}))
	require.NoError(t, err)
	require.Len(t, followups, 1)
	assert.EqualValues(t, 42, followups[0].Payload["application_id"])
}

func TestGenerateDocumentsUploadsAndChains(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	fs.apps[101] = models.Application{ID: 101, RoleID: 7, ProfileID: 1, Status: models.AppDraft}
	p := testPipeline(fs, &fakePublisher{}, fixedScorer{}, fixedDrafter{docs: drafting.Documents{
		ResumeMarkdown:      "# Resume",
		CoverLetterMarkdown: "Dear team",
	}})

	followups, err := p.GenerateDocuments(context.Background(), step(models.StepGenerateDocuments, map[string]any{"application_id": float64(101)}))
	require.NoError(t, err)
	require.Len(t, followups, 1)
	assert.Equal(t, models.StepEnqueueSubmission, followups[0].Type)

	urls := fs.docsSet[101]
	assert.Equal(t, "mem://applications/101/resume.html", urls[0])
	assert.Equal(t, "mem://applications/101/cover_letter.html", urls[1])
	assert.Equal(t, models.AppReadyToSubmit, fs.apps[101].Status)
}

func TestGenerateDocumentsRejectsSubmittedApplication(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	fs.apps[101] = models.Application{ID: 101, RoleID: 7, ProfileID: 1, Status: models.AppSubmitted}
	p := testPipeline(fs, &fakePublisher{}, fixedScorer{}, fixedDrafter{})

	_, err := p.GenerateDocuments(context.Background(), step(models.StepGenerateDocuments, map[string]any{"application_id": float64(101)}))
	var fatal *worker.FatalError
	require.ErrorAs(t, err, &fatal)
}

func TestEnqueueSubmissionPublishesAndMarks(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	resume := "mem://resume"
	fs.apps[101] = models.Application{ID: 101, RoleID: 7, ProfileID: 1, Status: models.AppReadyToSubmit, ResumeArtifactURL: &resume}
	pub := &fakePublisher{}
	p := testPipeline(fs, pub, fixedScorer{}, fixedDrafter{})

	followups, err := p.EnqueueSubmission(context.Background(), step(models.StepEnqueueSubmission, map[string]any{"application_id": float64(101)}))
	require.NoError(t, err)
	assert.Empty(t, followups)
	assert.Len(t, pub.published, 1)
	assert.NotEmpty(t, fs.submitting[101])
}

func TestEnqueueSubmissionIdempotentRerun(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	ref := "job_application_1"
	fs.apps[101] = models.Application{ID: 101, RoleID: 7, ProfileID: 1, Status: models.AppSubmitting, QueueTaskRef: &ref}
	pub := &fakePublisher{}
	p := testPipeline(fs, pub, fixedScorer{}, fixedDrafter{})

	_, err := p.EnqueueSubmission(context.Background(), step(models.StepEnqueueSubmission, map[string]any{"application_id": float64(101)}))
	require.NoError(t, err)
	assert.Empty(t, pub.published, "re-run must not publish a second submission")
}

func TestEnqueueSubmissionFinalFailureErrorsApplication(t *testing.T) {
	fs := newFakeStore()
	seedRole(fs, 7)
	fs.apps[101] = models.Application{ID: 101, RoleID: 7, ProfileID: 1, Status: models.AppReadyToSubmit}
	pub := &fakePublisher{err: errors.New("redis down")}
	p := testPipeline(fs, pub, fixedScorer{}, fixedDrafter{})

	st := step(models.StepEnqueueSubmission, map[string]any{"application_id": float64(101)})
	st.Attempts = st.MaxAttempts
	_, err := p.EnqueueSubmission(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, models.AppError, fs.apps[101].Status)
	assert.Contains(t, fs.appErrors[101], "redis down")
}

func TestSourceSweepChainsRanking(t *testing.T) {
	fs := newFakeStore()
	fs.sourcedIDs = []int64{3, 4, 5}
	p := testPipeline(fs, &fakePublisher{}, fixedScorer{}, fixedDrafter{})

	followups, err := p.SourceSweep(context.Background(), step(models.StepSourceSweep, map[string]any{}))
	require.NoError(t, err)
	require.Len(t, followups, 3)
	for i, id := range fs.sourcedIDs {
		assert.Equal(t, models.StepRankRole, followups[i].Type)
		assert.EqualValues(t, id, followups[i].Payload["role_id"])
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/queue"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/transport"
)

// fakeStore backs handler tests without Postgres.
type fakeStore struct {
	apps    map[int64]models.Application
	answers map[int64]map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		apps:    make(map[int64]models.Application),
		answers: make(map[int64]map[string]any),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetOrCreateCompany(_ context.Context, name string) (models.Company, error) {
	return models.Company{ID: 1, Name: name}, nil
}

func (f *fakeStore) CreateRole(_ context.Context, p store.CreateRoleParams) (models.Role, error) {
	return models.Role{ID: 1, Title: p.Title, Status: models.RoleSourced}, nil
}

func (f *fakeStore) GetRole(_ context.Context, id int64) (models.Role, error) {
	return models.Role{}, store.ErrNotFound
}

func (f *fakeStore) GetApplication(_ context.Context, id int64) (models.Application, error) {
	a, ok := f.apps[id]
	if !ok {
		return models.Application{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) SetCustomAnswers(_ context.Context, id int64, answers map[string]any) error {
	f.answers[id] = answers
	return nil
}

func (f *fakeStore) CreateProfile(_ context.Context, headline, summary string) (models.Profile, error) {
	return models.Profile{ID: 1, Headline: headline, Summary: summary}, nil
}

func (f *fakeStore) GetProfile(_ context.Context, id int64) (models.Profile, error) {
	return models.Profile{}, store.ErrNotFound
}

func (f *fakeStore) DeleteProfile(context.Context, int64) error { return store.ErrNotFound }

func (f *fakeStore) UpsertPreference(_ context.Context, profileID int64, key, value string) (models.Preference, error) {
	return models.Preference{ProfileID: profileID, Key: key, Value: value}, nil
}

func TestQueueHealthThresholds(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tr := transport.New(client)
	sq := queue.New(client, 0)
	cfg := config.Config{QueueDepthDegraded: 2, QueueDepthUnhealthy: 5}
	s := New(cfg, nil, nil, sq, tr, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := tr.Publish(context.Background(), transport.TaskSubmitApplication, transport.SubmitApplicationPayload{
			ApplicationID: int64(i + 1),
			PostingURL:    "https://acme.example/jobs/1",
		}, 0)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health/queues", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
		Queues map[string]struct {
			Depth  int64  `json:"depth"`
			Status string `json:"status"`
		} `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.EqualValues(t, 3, body.Queues[transport.TaskSubmitApplication].Depth)
	assert.Equal(t, "degraded", body.Queues[transport.TaskSubmitApplication].Status)
}

func newAnswersServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fs := newFakeStore()
	return New(config.Config{}, fs, nil, queue.New(client, 0), transport.New(client), nil, zap.NewNop()), fs
}

func TestPutCustomAnswers(t *testing.T) {
	s, fs := newAnswersServer(t)
	fs.apps[42] = models.Application{ID: 42, Status: models.AppDraft}

	body := `{"answers": {"visa_sponsorship": "not required", "notice_period": "2 weeks"}}`
	req := httptest.NewRequest(http.MethodPut, "/applications/42/answers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, fs.answers, int64(42))
	assert.Equal(t, "not required", fs.answers[42]["visa_sponsorship"])
}

func TestPutCustomAnswersUnknownApplication(t *testing.T) {
	s, _ := newAnswersServer(t)

	req := httptest.NewRequest(http.MethodPut, "/applications/42/answers", strings.NewReader(`{"answers": {}}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutCustomAnswersAfterSubmissionRejected(t *testing.T) {
	s, fs := newAnswersServer(t)
	fs.apps[42] = models.Application{ID: 42, Status: models.AppSubmitted}

	req := httptest.NewRequest(http.MethodPut, "/applications/42/answers", strings.NewReader(`{"answers": {"k": "v"}}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, fs.answers)
}

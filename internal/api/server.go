// Package api is the outer HTTP surface: posting ingestion, application
// workflow triggers, profile and preference management, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/fingerprint"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/queue"
	"github.com/a1j9o94/jobagent/internal/ratelimit"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/telemetry"
	"github.com/a1j9o94/jobagent/internal/transport"
	"github.com/a1j9o94/jobagent/internal/worker"
)

// Datastore is the slice of the persistence layer the HTTP surface touches.
// *store.Store satisfies it.
type Datastore interface {
	Ping(ctx context.Context) error
	GetOrCreateCompany(ctx context.Context, name string) (models.Company, error)
	CreateRole(ctx context.Context, p store.CreateRoleParams) (models.Role, error)
	GetRole(ctx context.Context, id int64) (models.Role, error)
	GetApplication(ctx context.Context, id int64) (models.Application, error)
	SetCustomAnswers(ctx context.Context, id int64, answers map[string]any) error
	CreateProfile(ctx context.Context, headline, summary string) (models.Profile, error)
	GetProfile(ctx context.Context, id int64) (models.Profile, error)
	DeleteProfile(ctx context.Context, id int64) error
	UpsertPreference(ctx context.Context, profileID int64, key, value string) (models.Preference, error)
}

// Server wires the HTTP handlers.
type Server struct {
	cfg       config.Config
	store     Datastore
	enq       *worker.Enqueuer
	stepQueue *queue.StepQueue
	transport *transport.Transport
	limiter   *ratelimit.IngestLimiter
	log       *zap.Logger
}

func New(cfg config.Config, st Datastore, enq *worker.Enqueuer, sq *queue.StepQueue, tr *transport.Transport, limiter *ratelimit.IngestLimiter, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		enq:       enq,
		stepQueue: sq,
		transport: tr,
		limiter:   limiter,
		log:       log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/health/queues", s.handleQueueHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/roles", s.handleIngestRole)
	r.Get("/roles/{id}", s.handleGetRole)
	r.Post("/roles/{id}/apply", s.handleApply)
	r.Get("/applications/{id}", s.handleGetApplication)
	r.Put("/applications/{id}/answers", s.handlePutCustomAnswers)

	r.Post("/profiles", s.handleCreateProfile)
	r.Delete("/profiles/{id}", s.handleDeleteProfile)
	r.Put("/profiles/{id}/preferences/{key}", s.handlePutPreference)

	return r
}

type ingestRequest struct {
	CompanyName  string  `json:"company_name"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	PostingURL   string  `json:"posting_url"`
	Source       string  `json:"source"`
	Location     *string `json:"location,omitempty"`
	Requirements *string `json:"requirements,omitempty"`
	SalaryRange  *string `json:"salary_range,omitempty"`
}

func (s *Server) handleIngestRole(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.CompanyName == "" || req.Title == "" || req.PostingURL == "" {
		writeError(w, http.StatusBadRequest, "company_name, title and posting_url are required")
		return
	}

	if s.limiter != nil {
		source := req.Source
		if source == "" {
			source = "manual"
		}
		allowed, _, err := s.limiter.Allow(r.Context(), source)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	company, err := s.store.GetOrCreateCompany(r.Context(), req.CompanyName)
	if err != nil {
		s.log.Error("company lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "company lookup failed")
		return
	}

	role, err := s.store.CreateRole(r.Context(), store.CreateRoleParams{
		Title:        req.Title,
		Description:  req.Description,
		PostingURL:   req.PostingURL,
		UniqueHash:   fingerprint.Hash(req.CompanyName, req.Title),
		CompanyID:    company.ID,
		Location:     req.Location,
		Requirements: req.Requirements,
		SalaryRange:  req.SalaryRange,
	})
	if err != nil {
		var dup *store.DuplicateRoleError
		if errors.As(err, &dup) {
			telemetry.RolesDeduped.Inc()
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":            "role already exists",
				"existing_role_id": dup.ExistingID,
			})
			return
		}
		s.log.Error("role insert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "role insert failed")
		return
	}
	telemetry.RolesIngested.Inc()

	if _, err := s.enq.Enqueue(r.Context(), models.StepRankRole, map[string]any{"role_id": role.ID}, 0); err != nil {
		// The sweep will pick the role up; ingestion itself succeeded.
		s.log.Error("rank enqueue failed", zap.Int64("role_id", role.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	role, err := s.store.GetRole(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "role not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "role lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

type applyRequest struct {
	ProfileID int64 `json:"profile_id"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role id")
		return
	}

	var req applyRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	profileID := req.ProfileID
	if profileID == 0 {
		profileID = s.cfg.DefaultProfileID
	}

	if _, err := s.store.GetRole(r.Context(), roleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "role not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "role lookup failed")
		return
	}
	if _, err := s.store.GetProfile(r.Context(), profileID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "profile lookup failed")
		return
	}

	step, err := s.enq.Enqueue(r.Context(), models.StepStartApplication, map[string]any{
		"role_id":    roleID,
		"profile_id": profileID,
	}, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"step_id": step.ID})
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	app, err := s.store.GetApplication(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "application lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type customAnswersRequest struct {
	Answers map[string]any `json:"answers"`
}

// handlePutCustomAnswers stores answers to application-specific questions.
// They ride along in the submission payload, so they must be set before the
// application reaches the automation worker.
func (s *Server) handlePutCustomAnswers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	var req customAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Answers == nil {
		writeError(w, http.StatusBadRequest, "answers object is required")
		return
	}

	app, err := s.store.GetApplication(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "application lookup failed")
		return
	}
	if app.Status == models.AppSubmitted || app.Status == models.AppClosed {
		writeError(w, http.StatusConflict, "application already submitted")
		return
	}

	if err := s.store.SetCustomAnswers(r.Context(), id, req.Answers); err != nil {
		writeError(w, http.StatusInternalServerError, "custom answers update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application_id": id,
		"custom_answers": req.Answers,
	})
}

type profileRequest struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Headline == "" {
		writeError(w, http.StatusBadRequest, "headline is required")
		return
	}
	profile, err := s.store.CreateProfile(r.Context(), req.Headline, req.Summary)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "profile insert failed")
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	if err := s.store.DeleteProfile(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "profile delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type preferenceRequest struct {
	Value string `json:"value"`
}

func (s *Server) handlePutPreference(w http.ResponseWriter, r *http.Request) {
	profileID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	key := chi.URLParam(r, "key")
	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if _, err := s.store.GetProfile(r.Context(), profileID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "profile lookup failed")
		return
	}

	pref, err := s.store.UpsertPreference(r.Context(), profileID, key, req.Value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "preference upsert failed")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// handleHealth reports overall service health: Postgres, Redis, and the
// external automation worker's heartbeat.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	detail := map[string]any{}

	if err := s.store.Ping(r.Context()); err != nil {
		status = "unhealthy"
		detail["postgres"] = "unreachable"
	} else {
		detail["postgres"] = "ok"
	}
	if !s.transport.Health(r.Context()) {
		status = "unhealthy"
		detail["redis"] = "unreachable"
	} else {
		detail["redis"] = "ok"
	}

	last, ok, err := s.transport.LastHeartbeat(r.Context(), s.cfg.AutomationWorkerID)
	switch {
	case err != nil || !ok:
		detail["worker"] = "no heartbeat"
		if status == "healthy" {
			status = "degraded"
		}
	case time.Since(last) > s.cfg.HeartbeatMaxAge:
		detail["worker"] = "heartbeat stale"
		detail["last_heartbeat"] = last.UTC().Format(time.RFC3339)
		if status == "healthy" {
			status = "degraded"
		}
	default:
		detail["worker"] = "ok"
		detail["last_heartbeat"] = last.UTC().Format(time.RFC3339)
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	detail["status"] = status
	writeJSON(w, code, detail)
}

// handleQueueHealth reports depth per worker queue with the configured
// degraded/unhealthy thresholds applied.
func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	depths, err := s.transport.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}

	status := "healthy"
	queues := map[string]any{}
	for name, depth := range depths {
		qs := "healthy"
		if depth >= s.cfg.QueueDepthUnhealthy {
			qs = "unhealthy"
			status = "unhealthy"
		} else if depth >= s.cfg.QueueDepthDegraded {
			qs = "degraded"
			if status == "healthy" {
				status = "degraded"
			}
		}
		queues[name] = map[string]any{"depth": depth, "status": qs}
	}
	if depth, err := s.stepQueue.ReadyDepth(r.Context()); err == nil {
		queues["pipeline_steps"] = map[string]any{"depth": depth}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": status, "queues": queues})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zenyx/fleet/pkg/gateway"
	"github.com/zenyx/fleet/pkg/log"
	"github.com/zenyx/fleet/pkg/manager"
	"github.com/zenyx/fleet/pkg/metrics"
	"github.com/zenyx/fleet/pkg/storage"
	"github.com/zenyx/fleet/pkg/supervisor"
	"github.com/zenyx/fleet/pkg/types"
)

// Server exposes the management REST API
type Server struct {
	manager    *manager.Manager
	supervisor *supervisor.Supervisor
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the API server over the manager and supervisor
func NewServer(mgr *manager.Manager, sup *supervisor.Supervisor) *Server {
	s := &Server{
		manager:    mgr,
		supervisor: sup,
		logger:     log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/bots", func(r chi.Router) {
			r.Post("/", s.handleCreateBot)
			r.Get("/", s.handleListBots)

			r.Route("/{botID}", func(r chi.Router) {
				r.Get("/", s.handleGetBot)
				r.Delete("/", s.handleDeleteBot)
				r.Post("/pause", s.handlePauseBot)
				r.Post("/resume", s.handleResumeBot)
				r.Post("/rekey", s.handleRekeyBot)
				r.Get("/config/{feature}", s.handleGetConfig)
				r.Put("/config/{feature}", s.handlePutConfig)
				r.Post("/broadcast", s.handleBroadcast)
				r.Post("/followup", s.handleFollowUp)
			})
		})

		r.Get("/fleet/status", s.handleFleetStatus)
	})

	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start serves the API on the given address, blocking until shutdown
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	metrics.RegisterComponent("api", true, "listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the context deadline
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// instrument records request metrics per route pattern
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Request/response bodies

type createBotRequest struct {
	OwnerID string `json:"owner_id"`
	Token   string `json:"token"`
}

type rekeyRequest struct {
	Token string `json:"token"`
}

type broadcastRequest struct {
	Payload     types.Payload `json:"payload"`
	Concurrency int           `json:"concurrency,omitempty"`
	PerSecond   float64       `json:"per_second,omitempty"`
}

type followUpRequest struct {
	Recipient string `json:"recipient"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handlers

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OwnerID == "" || req.Token == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("owner_id and token are required"))
		return
	}

	bot, err := s.manager.CreateBot(r.Context(), req.OwnerID, req.Token)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, redact(bot))
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.manager.ListBots(r.URL.Query().Get("owner"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]*types.Bot, 0, len(bots))
	for _, bot := range bots {
		out = append(out, redact(bot))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := s.manager.GetBot(chi.URLParam(r, "botID"))
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, redact(bot))
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteBot(chi.URLParam(r, "botID")); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseBot(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.PauseBot(chi.URLParam(r, "botID")); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeBot(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ResumeBot(chi.URLParam(r, "botID")); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRekeyBot(w http.ResponseWriter, r *http.Request) {
	var req rekeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Token == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("token is required"))
		return
	}

	bot, err := s.manager.RekeyBot(r.Context(), chi.URLParam(r, "botID"), req.Token)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, redact(bot))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.manager.GetFeatureConfig(chi.URLParam(r, "botID"), chi.URLParam(r, "feature"))
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	err := s.manager.SaveFeatureConfig(chi.URLParam(r, "botID"), chi.URLParam(r, "feature"), payload)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	botID := chi.URLParam(r, "botID")
	_, err := s.manager.StartBroadcast(botID, req.Payload, manager.BroadcastOptions{
		Concurrency: req.Concurrency,
		PerSecond:   req.PerSecond,
	})
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	audience, _ := s.manager.SubscriberCount(botID)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "started",
		"audience": audience,
	})
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	var req followUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Recipient == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("recipient is required"))
		return
	}

	_, err := s.manager.ScheduleFollowUp(chi.URLParam(r, "botID"), req.Recipient)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "scheduled",
		"fires_in": s.manager.FollowUpDelay().String(),
	})
}

func (s *Server) handleFleetStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"workers": s.supervisor.WorkerStatuses(),
	})
}

// Helpers

// redact strips the credential from API responses
func redact(bot *types.Bot) *types.Bot {
	clean := *bot
	clean.Token = ""
	return &clean
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrBotDeleted):
		return http.StatusGone
	case errors.Is(err, manager.ErrWorkerNotRunning):
		return http.StatusConflict
	case errors.Is(err, manager.ErrFeatureInactive):
		return http.StatusConflict
	case gateway.IsCredentialError(err):
		return http.StatusUnprocessableEntity
	case gateway.IsTransientError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

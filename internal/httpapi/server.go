package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"courier/internal/command"
	"courier/internal/journal"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/reconcile"
	"courier/internal/session"
	"courier/internal/task"
)

// Session is the part of a running session the API reads and drives.
type Session interface {
	Tasks(ctx context.Context) ([]task.Task, error)
	Task(ctx context.Context, id string) (task.Task, bool, error)
	Rows(ctx context.Context, p task.Kind) ([]reconcile.Row, error)
	Status(ctx context.Context) (session.Status, error)
	Controls(ctx context.Context) ([]command.ControlState, error)
	Cancel(p task.Kind, id, reason string) error
	CancelAll(p task.Kind) error
	Refresh(p task.Kind) error
}

// History reads journaled transitions.
type History interface {
	History(ctx context.Context, taskID string, limit int) ([]journal.Entry, error)
}

// Options configures a Server.
type Options struct {
	Bind    string
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// History is optional; without it /v1/history answers 404.
	History History
	// Token, when set, must be sent as a bearer token on control requests.
	Token string
}

// Server exposes one session over HTTP.
type Server struct {
	bind    string
	logger  *slog.Logger
	session Session
	history History
	metrics *observability.Metrics
	token   string

	listener net.Listener
	server   *http.Server
}

// New builds a Server. Call Start to listen or use Router directly.
func New(sess Session, opts Options) *Server {
	s := &Server{
		bind:    strings.TrimSpace(opts.Bind),
		logger:  logging.NewComponentLogger(opts.Logger, "api"),
		session: sess,
		history: opts.History,
		metrics: opts.Metrics,
		token:   strings.TrimSpace(opts.Token),
	}
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Get("/v1/queues/{pipeline}", s.handleQueue)
	r.Get("/v1/controls", s.handleControls)
	r.Get("/v1/history", s.handleHistory)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/v1/tasks/{id}/cancel", s.handleCancelTask)
		r.Post("/v1/queues/{pipeline}/cancel-all", s.handleCancelAll)
		r.Post("/v1/queues/{pipeline}/refresh", s.handleRefresh)
	})

	return r
}

// Start listens on the configured bind address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr is the bound listener address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting up to five seconds for open requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// requireToken rejects requests without the configured bearer token. With no
// token configured every request passes.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.token {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.session.Status(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": st.Connected,
		"tracked":   st.Tracked,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotFound, "metrics_disabled", "metrics are not enabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.session.Tasks(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	st, err := s.session.Status(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	pipeline, err := optionalPipeline(r.URL.Query().Get("pipeline"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pipeline", err.Error())
		return
	}
	resp := TaskListResponse{Connected: st.Connected, Tasks: make([]TaskView, 0, len(tasks))}
	for _, t := range tasks {
		if pipeline != "" && t.Kind != pipeline {
			continue
		}
		resp.Tasks = append(resp.Tasks, FromTask(t))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	t, ok, err := s.session.Task(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "task_not_found", fmt.Sprintf("task %s is not tracked", id))
		return
	}
	respondJSON(w, http.StatusOK, FromTask(t))
}

type cancelRequest struct {
	Pipeline string `json:"pipeline"`
	Reason   string `json:"reason"`
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	q := r.URL.Query()
	if req.Pipeline == "" {
		req.Pipeline = q.Get("pipeline")
	}
	if req.Reason == "" {
		req.Reason = q.Get("reason")
	}

	t, ok, err := s.session.Task(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "task_not_found", fmt.Sprintf("task %s is not tracked", id))
		return
	}
	if t.Terminal() {
		respondError(w, http.StatusConflict, "task_finished", fmt.Sprintf("task %s is already %s", id, t.Status))
		return
	}
	pipeline, err := optionalPipeline(req.Pipeline)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pipeline", err.Error())
		return
	}
	if pipeline == "" {
		pipeline = t.Kind
	}
	if err := s.session.Cancel(pipeline, id, req.Reason); err != nil {
		s.writeSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", Op: command.OpCancel, Pipeline: pipeline, TaskID: id})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := s.pipelineParam(w, r)
	if !ok {
		return
	}
	rows, err := s.session.Rows(r.Context(), pipeline)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	st, err := s.session.Status(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	q := st.Queues[pipeline]
	resp := QueueResponse{
		Pipeline: pipeline,
		Known:    q.Known,
		Total:    q.Total,
		Active:   q.Active,
		Waiting:  q.Waiting,
		Rows:     make([]RowView, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Rows = append(resp.Rows, FromRow(row))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := s.pipelineParam(w, r)
	if !ok {
		return
	}
	if err := s.session.CancelAll(pipeline); err != nil {
		s.writeSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", Op: command.OpCancelAll, Pipeline: pipeline})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := s.pipelineParam(w, r)
	if !ok {
		return
	}
	if err := s.session.Refresh(pipeline); err != nil {
		s.writeSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", Op: command.OpRefresh, Pipeline: pipeline})
}

func (s *Server) handleControls(w http.ResponseWriter, r *http.Request) {
	controls, err := s.session.Controls(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ControlsResponse{Controls: controls})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "journal_disabled", "the transition journal is not enabled")
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	entries, err := s.history.History(r.Context(), strings.TrimSpace(q.Get("task_id")), limit)
	if err != nil {
		s.logger.Warn("history query failed", logging.Error(err))
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	resp := HistoryResponse{Entries: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, FromEntry(e))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) pipelineParam(w http.ResponseWriter, r *http.Request) (task.Kind, bool) {
	pipeline, err := task.ParseKind(chi.URLParam(r, "pipeline"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pipeline", err.Error())
		return "", false
	}
	return pipeline, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, "session_stopped", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "session_busy", err.Error())
	default:
		s.logger.Warn("session request failed", logging.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func optionalPipeline(value string) (task.Kind, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return task.ParseKind(value)
}

func parseLimit(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", value)
	}
	return n, nil
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

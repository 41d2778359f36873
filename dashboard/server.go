// Package dashboard provides the control-surface HTTP server.
//
// It exposes a JSON API over the engine:
//   - watcher CRUD and manual runs
//   - workflow CRUD, manual execution, execution history
//   - workflow variable management
//   - change-log listing, inspection, comparison, and statistics
//   - cookie-store status and engine metrics
//
// CORS is wide-open so a frontend dev server can reach the API directly;
// operators exposing the server on a public interface should front it with a
// reverse proxy.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GabriWar/vigilant/config"
	"github.com/GabriWar/vigilant/executor"
	"github.com/GabriWar/vigilant/logger"
	"github.com/GabriWar/vigilant/metrics"
	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/store"
	"github.com/GabriWar/vigilant/workflow"
)

// Server provides the HTTP endpoints of the control surface.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	exec    *executor.Executor
	runner  *workflow.Runner
	metrics *metrics.Metrics
	log     *logger.Logger
	mux     *http.ServeMux
}

// New creates a dashboard Server.  Call ListenAndServe to start accepting
// connections, or use Handler for tests.
func New(cfg *config.Config, st *store.Store, ex *executor.Executor,
	runner *workflow.Runner, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		exec:    ex,
		runner:  runner,
		metrics: m,
		log:     log,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the fully routed handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.mux)
}

// ListenAndServe starts the HTTP server on addr (e.g. ":8080") and blocks.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Infof("dashboard: listening on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/watchers", s.handleListWatchers)
	s.mux.HandleFunc("POST /api/watchers", s.handleCreateWatcher)
	s.mux.HandleFunc("GET /api/watchers/{id}", s.handleGetWatcher)
	s.mux.HandleFunc("PUT /api/watchers/{id}", s.handleUpdateWatcher)
	s.mux.HandleFunc("DELETE /api/watchers/{id}", s.handleDeleteWatcher)
	s.mux.HandleFunc("POST /api/watchers/{id}/run", s.handleRunWatcher)
	s.mux.HandleFunc("GET /api/watchers/{id}/snapshot", s.handleGetSnapshot)

	s.mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	s.mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	s.mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	s.mux.HandleFunc("PUT /api/workflows/{id}", s.handleUpdateWorkflow)
	s.mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	s.mux.HandleFunc("POST /api/workflows/{id}/execute", s.handleExecuteWorkflow)
	s.mux.HandleFunc("GET /api/workflows/{id}/executions", s.handleListExecutions)
	s.mux.HandleFunc("GET /api/workflows/{id}/variables", s.handleListVariables)
	s.mux.HandleFunc("POST /api/workflows/{id}/variables", s.handleCreateVariable)
	s.mux.HandleFunc("DELETE /api/variables/{id}", s.handleDeleteVariable)

	s.mux.HandleFunc("GET /api/changelogs", s.handleListChangeLogs)
	s.mux.HandleFunc("GET /api/changelogs/statistics", s.handleChangeLogStatistics)
	s.mux.HandleFunc("GET /api/changelogs/compare", s.handleCompareChangeLogs)
	s.mux.HandleFunc("GET /api/changelogs/{id}", s.handleGetChangeLog)

	s.mux.HandleFunc("GET /api/cookies/stats", s.handleCookieStats)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)
}

func (s *Server) withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// ── helpers ──

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("dashboard: encode response: %v", err)
	}
}

// writeError maps the engine's error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, model.ErrNetwork), errors.Is(err, model.ErrTimeout):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("invalid JSON body: %v: %w", err, model.ErrValidation))
		return false
	}
	return true
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", r.PathValue("id"), model.ErrValidation)
	}
	return id, nil
}

// ── watchers ──

func (s *Server) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	watchers, err := s.store.ListWatchers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, watchers)
}

func (s *Server) handleCreateWatcher(w http.ResponseWriter, r *http.Request) {
	var watcher model.Watcher
	if !s.decode(w, r, &watcher) {
		return
	}
	if err := s.store.CreateWatcher(r.Context(), &watcher); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, watcher)
}

func (s *Server) handleGetWatcher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	watcher, err := s.store.GetWatcher(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, watcher)
}

func (s *Server) handleUpdateWatcher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var watcher model.Watcher
	if !s.decode(w, r, &watcher) {
		return
	}
	watcher.ID = id
	if err := s.store.UpdateWatcher(r.Context(), &watcher); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, watcher)
}

func (s *Server) handleDeleteWatcher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteWatcher(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunWatcher triggers a manual run.  The run executes synchronously
// within the request unless the body asks for background execution.
func (s *Server) handleRunWatcher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	watcher, err := s.store.GetWatcher(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body struct {
		Background bool              `json:"background"`
		Variables  map[string]string `json:"variables"`
	}
	if r.ContentLength > 0 && !s.decode(w, r, &body) {
		return
	}

	if body.Background {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout())
			defer cancel()
			_, _ = s.exec.Run(ctx, watcher, body.Variables) //nolint:errcheck
		}()
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"watcher_id": id, "started": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RunTimeout())
	defer cancel()
	res, err := s.exec.Run(ctx, watcher, body.Variables)
	if err != nil {
		// The failed run is recorded; report it with its error kind.
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"watcher_id":  id,
		"change_type": res.ChangeType,
		"change_log":  res.Log,
	})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := s.store.GetSnapshot(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// ── workflows ──

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, workflows)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if !s.decode(w, r, &wf) {
		return
	}
	if err := s.store.CreateWorkflow(r.Context(), &wf); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var wf model.Workflow
	if !s.decode(w, r, &wf) {
		return
	}
	wf.ID = id
	if err := s.store.UpdateWorkflow(r.Context(), &wf); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteWorkflow(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteWorkflow starts a workflow run, optionally with caller-supplied
// variable overrides.  A run already marked running refuses a second one.
func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	running, err := s.store.HasRunningExecution(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if running {
		s.writeError(w, fmt.Errorf("workflow %d already has a running execution: %w", id, model.ErrConflict))
		return
	}

	var body struct {
		Background bool              `json:"background"`
		Variables  map[string]string `json:"variables"`
	}
	if r.ContentLength > 0 && !s.decode(w, r, &body) {
		return
	}

	limit := s.cfg.RunTimeout() * time.Duration(maxSteps(wf))
	if body.Background {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), limit)
			defer cancel()
			if _, err := s.runner.Execute(ctx, wf, body.Variables); err != nil {
				s.log.Errorf("dashboard: background workflow %d: %v", id, err)
			}
		}()
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"workflow_id": id, "started": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), limit)
	defer cancel()
	exec, err := s.runner.Execute(ctx, wf, body.Variables)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func maxSteps(wf *model.Workflow) int {
	if len(wf.Steps) == 0 {
		return 1
	}
	return len(wf.Steps)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	execs, err := s.store.ListExecutions(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, execs)
}

// ── variables ──

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	vars, err := s.store.ListVariables(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vars)
}

func (s *Server) handleCreateVariable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var v model.Variable
	if !s.decode(w, r, &v) {
		return
	}
	v.WorkflowID = id
	if err := s.store.CreateVariable(r.Context(), &v); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteVariable(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── change logs ──

func (s *Server) handleListChangeLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := changeLogFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	logs, err := s.store.ListChangeLogs(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func changeLogFilter(r *http.Request) (store.ChangeLogFilter, error) {
	q := r.URL.Query()
	var f store.ChangeLogFilter

	if v := q.Get("watcher_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("watcher_id %q: %w", v, model.ErrValidation)
		}
		f.WatcherID = &id
	}
	if v := q.Get("change_type"); v != "" {
		ct := model.ChangeType(v)
		f.ChangeType = &ct
	}
	if v := q.Get("date_from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("date_from %q: %w", v, model.ErrValidation)
		}
		f.DateFrom = &ts
	}
	if v := q.Get("date_to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("date_to %q: %w", v, model.ErrValidation)
		}
		f.DateTo = &ts
	}
	if v := q.Get("min_size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("min_size %q: %w", v, model.ErrValidation)
		}
		f.MinSize = &n
	}
	if v := q.Get("max_size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("max_size %q: %w", v, model.ErrValidation)
		}
		f.MaxSize = &n
	}
	f.Search = q.Get("search")
	f.OrderBy = q.Get("order_by")
	f.Direction = q.Get("direction")
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func (s *Server) handleGetChangeLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cl, err := s.store.GetChangeLog(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cl)
}

// handleCompareChangeLogs returns 2–5 change logs side by side, selected via
// ?ids=1,2,3.
func (s *Server) handleCompareChangeLogs(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		s.writeError(w, fmt.Errorf("ids parameter required: %w", model.ErrValidation))
		return
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("ids %q: %w", raw, model.ErrValidation))
			return
		}
		ids = append(ids, id)
	}
	logs, err := s.store.CompareChangeLogs(r.Context(), ids)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleChangeLogStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var sq store.StatisticsQuery
	if v := q.Get("watcher_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("watcher_id %q: %w", v, model.ErrValidation))
			return
		}
		sq.WatcherID = &id
	}
	if v := q.Get("date_from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, fmt.Errorf("date_from %q: %w", v, model.ErrValidation))
			return
		}
		sq.DateFrom = &ts
	}
	if v := q.Get("date_to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, fmt.Errorf("date_to %q: %w", v, model.ErrValidation))
			return
		}
		sq.DateTo = &ts
	}
	sq.GroupBy = q.Get("group_by")

	stats, err := s.store.ChangeLogStatistics(r.Context(), sq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// ── cookies and metrics ──

func (s *Server) handleCookieStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.CountCookies(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	horizon := time.Duration(s.cfg.CookieWarnHours) * time.Hour
	expiring, err := s.store.CookiesExpiringWithin(r.Context(), horizon)
	if err != nil {
		s.writeError(w, err)
		return
	}
	expired, err := s.store.ExpiredCookies(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":              total,
		"expiring_soon":      len(expiring),
		"expired":            len(expired),
		"warn_horizon_hours": s.cfg.CookieWarnHours,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	checks, changes, errs, workflowRuns := s.metrics.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"checks":            checks,
		"changes":           changes,
		"errors":            errs,
		"workflow_runs":     workflowRuns,
		"checks_per_second": s.metrics.ChecksPerSecond(),
		"timestamp":         time.Now().UnixMilli(),
	})
}

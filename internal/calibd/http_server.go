package calibd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibration"
	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/internal/report"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
)

type HTTPServer struct {
	mux      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
}

func NewHTTPServer(store *RunStore, executor *RunExecutor) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/metrics", s.handleMetrics)
	s.mux.HandleFunc("/v1/runs", s.handleRuns)
	s.mux.HandleFunc("/v1/runs/", s.handleRunByID)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /v1/metrics
func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"metrics": s.Executor.Metrics().Snapshot(),
	})
}

// handleRuns handles /v1/runs endpoint
func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type runRoute struct {
	suffix  string
	method  string
	handler func(http.ResponseWriter, *http.Request, string)
}

// handleRunByID handles /v1/runs/{id} and its sub-resources
func (s *HTTPServer) handleRunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	routes := []runRoute{
		{":start", http.MethodPost, s.handleStartRun},
		{":stop", http.MethodPost, s.handleStopRun},
		{"/result", http.MethodGet, s.handleGetResult},
		{"/fitness", http.MethodGet, s.handleFitness},
		{"/chart", http.MethodGet, s.handleChart},
		{"/plot", http.MethodGet, s.handlePlot},
		{"", http.MethodGet, s.handleGetRun},
	}
	for _, rt := range routes {
		if !strings.HasSuffix(path, rt.suffix) {
			continue
		}
		runID := strings.TrimSuffix(path, rt.suffix)
		if runID == "" {
			s.writeError(w, http.StatusBadRequest, "run ID is required")
			return
		}
		if r.Method != rt.method {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rt.handler(w, r, runID)
		return
	}
}

// handleCreateRun handles POST /v1/runs. With start=true in the body the
// run is started right away.
func (s *HTTPServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID          string `json:"run_id,omitempty"`
		ConfigYAML     string `json:"config_yaml"`
		Start          bool   `json:"start,omitempty"`
		CallbackURL    string `json:"callback_url,omitempty"`
		CallbackSecret string `json:"callback_secret,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ConfigYAML == "" {
		s.writeError(w, http.StatusBadRequest, "config_yaml is required")
		return
	}
	cfg, err := config.ParseConfigYAMLString(req.ConfigYAML)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.store.Create(req.RunID, cfg)
	if err != nil {
		if errors.Is(err, ErrRunExists) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CallbackURL != "" {
		if err := s.store.SetCallback(rec.Run.ID, Callback{URL: req.CallbackURL, Secret: req.CallbackSecret}); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	logger.Info("run created (HTTP)", "run_id", rec.Run.ID)

	if req.Start {
		rec, err = s.Executor.Start(rec.Run.ID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"run": convertRunToJSON(rec.Run),
	})
}

// handleListRuns handles GET /v1/runs with pagination and filtering
func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if parsed, err := strconv.Atoi(q.Get("limit")); err == nil && parsed > 0 {
		limit = clampLimit(parsed)
	}
	offset := 0
	if parsed, err := strconv.Atoi(q.Get("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}

	var filter Status
	if raw := q.Get("status"); raw != "" {
		st, ok := ParseStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		filter = st
	}

	runs := s.store.List(limit, offset, filter)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runs": convertRunsToJSON(runs),
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(runs),
		},
	})
}

// handleGetRun handles GET /v1/runs/{id}
func (s *HTTPServer) handleGetRun(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run": convertRunToJSON(rec.Run),
	})
}

// handleStartRun handles POST /v1/runs/{id}:start
func (s *HTTPServer) handleStartRun(w http.ResponseWriter, _ *http.Request, runID string) {
	updated, err := s.Executor.Start(runID)
	if err != nil {
		s.writeExecutorError(w, err)
		return
	}
	logger.Info("run started (HTTP)", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run": convertRunToJSON(updated.Run),
	})
}

// handleStopRun handles POST /v1/runs/{id}:stop
func (s *HTTPServer) handleStopRun(w http.ResponseWriter, _ *http.Request, runID string) {
	updated, err := s.Executor.Stop(runID)
	if err != nil {
		s.writeExecutorError(w, err)
		return
	}
	logger.Info("run cancelled (HTTP)", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run": convertRunToJSON(updated.Run),
	})
}

func (s *HTTPServer) writeExecutorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRunIDMissing):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRunTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleGetResult handles GET /v1/runs/{id}/result
func (s *HTTPServer) handleGetResult(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if rec.Result == nil {
		s.writeError(w, http.StatusPreconditionFailed, "result not available")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run":    convertRunToJSON(rec.Run),
		"result": convertResultToJSON(rec.Result),
	})
}

// handleFitness handles GET /v1/runs/{id}/fitness: the fitness of every
// evaluation so far and the running best
func (s *HTTPServer) handleFitness(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	labels := metrics.RunLabels(runID)
	series := map[string]any{}
	for _, name := range []string{metrics.SeriesFitness, metrics.SeriesBestFitness} {
		points := rec.Collector.Series(name, labels)
		out := make([]any, 0, len(points))
		for _, p := range points {
			out = append(out, map[string]any{
				"timestamp": p.Timestamp.Format(time.RFC3339Nano),
				"value":     finiteOrNil(p.Value),
			})
		}
		series[name] = out
	}
	resp := map[string]any{"run_id": runID, "series": series}
	if agg := rec.Collector.Aggregate(metrics.SeriesFitness, labels); agg != nil {
		resp["summary"] = map[string]any{
			"count": agg.Count,
			"min":   finiteOrNil(agg.Min),
			"max":   finiteOrNil(agg.Max),
			"mean":  finiteOrNil(agg.Mean),
			"p50":   finiteOrNil(agg.P50),
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleChart handles GET /v1/runs/{id}/chart: an HTML convergence chart
// built from the run's optimization log
func (s *HTTPServer) handleChart(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	entries, err := report.ReadOptimizationLog(filepath.Join(s.Executor.WorkDir(rec), calibration.OptimizationLogFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, http.StatusPreconditionFailed, "optimization log not available")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := report.ConvergenceChart(&buf, "run "+runID, entries); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Error("failed to write chart", "run_id", runID, "error", err)
	}
}

// handlePlot handles GET /v1/runs/{id}/plot: the spacing plot of the best
// candidate as PNG
func (s *HTTPServer) handlePlot(w http.ResponseWriter, r *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	path := filepath.Join(s.Executor.WorkDir(rec), store.BestTrajectoryFile)
	if _, err := os.Stat(path); err != nil {
		s.writeError(w, http.StatusPreconditionFailed, "best trajectory not available")
		return
	}
	db, err := store.Open(r.Context(), path)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer db.Close()
	rows, err := db.BestTrajectory(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) == 0 {
		s.writeError(w, http.StatusPreconditionFailed, "best trajectory not available")
		return
	}

	var buf bytes.Buffer
	if err := report.RenderSpacingPlot(&buf, rows); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Error("failed to write plot", "run_id", runID, "error", err)
	}
}

// Helper functions

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}

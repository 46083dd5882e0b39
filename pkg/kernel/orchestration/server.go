package orchestration

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	oapiruntime "github.com/oapi-codegen/runtime"
	"github.com/rs/cors"

	orch "github.com/manthysbr/auleOS/internal/core/orchestration"
	"github.com/manthysbr/auleOS/internal/core/services"
)

// Server exposes the orchestration core over HTTP: submit a
// workflow, inspect a run's state/progress/metrics, cancel it, and
// render its dependency graph.
type Server struct {
	logger       *slog.Logger
	orchestrator *services.Orchestrator
}

// NewServer builds the HTTP surface over orchestrator.
func NewServer(logger *slog.Logger, orchestrator *services.Orchestrator) *Server {
	return &Server{logger: logger, orchestrator: orchestrator}
}

// Handler builds the full request pipeline: OpenAPI validation, CORS,
// then routing to the orchestration endpoints.
func (s *Server) Handler() (http.Handler, error) {
	validator, err := newOrchestrationRequestValidator()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orchestration/workflows", s.handleSubmitWorkflow)
	mux.HandleFunc("GET /orchestration/workflows/{runId}", s.handleGetState)
	mux.HandleFunc("GET /orchestration/workflows/{runId}/progress", s.handleGetProgress)
	mux.HandleFunc("POST /orchestration/workflows/{runId}/cancel", s.handleCancel)
	mux.HandleFunc("GET /orchestration/workflows/{runId}/metrics", s.handleGetMetrics)
	mux.HandleFunc("POST /orchestration/visualize", s.handleVisualize)

	corsWrapped := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)

	return validator.Middleware(corsWrapped), nil
}

func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf orch.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// The HTTP surface is request/response, not streaming, so callers get
	// the final state directly; GetWorkflowProgress remains available for
	// pull-based polling mid-run.
	state, err := s.orchestrator.ExecuteWorkflow(r.Context(), wf, nil)
	if err != nil {
		var oe *orch.OrchestrationError
		if errors.As(err, &oe) {
			writeJSON(w, http.StatusBadRequest, oe)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	state, ok := s.orchestrator.GetWorkflowState(runID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	progress, ok := s.orchestrator.GetWorkflowProgress(runID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if !s.orchestrator.CancelWorkflow(runID) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	metrics, ok := s.orchestrator.GetWorkflowMetrics(runID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// visualizeQuery is the set of query parameters accepted by
// POST /orchestration/visualize, bound with oapi-codegen/runtime the way
// generated strict-server bindings bind non-body parameters.
type visualizeQuery struct {
	Format         services.VisualizationFormat
	IncludeMetrics bool
	RunID          string
}

func bindVisualizeQuery(values url.Values) (visualizeQuery, error) {
	q := visualizeQuery{Format: services.VisualizationMermaid}

	var format string
	if values.Has("format") {
		if err := oapiruntime.BindQueryParameter("form", true, false, "format", values, &format); err != nil {
			return q, err
		}
		q.Format = services.VisualizationFormat(format)
	}

	if values.Has("include_metrics") {
		if err := oapiruntime.BindQueryParameter("form", true, false, "include_metrics", values, &q.IncludeMetrics); err != nil {
			return q, err
		}
	}

	if values.Has("run_id") {
		if err := oapiruntime.BindQueryParameter("form", true, false, "run_id", values, &q.RunID); err != nil {
			return q, err
		}
	}
	return q, nil
}

func (s *Server) handleVisualize(w http.ResponseWriter, r *http.Request) {
	query, err := bindVisualizeQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var wf orch.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rendered, err := s.orchestrator.Visualize(wf, query.RunID, query.Format, query.IncludeMetrics)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if query.Format == services.VisualizationJSON {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rendered))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	apperrors "github.com/flowforge/pipelinectl/pkg/errors"
)

type startRequest struct {
	PipelineID      string                 `json:"pipeline_id"`
	Variables       map[string]interface{} `json:"variables"`
	TriggerSource   string                 `json:"trigger_source"`
	TriggerMetadata map[string]interface{} `json:"trigger_metadata"`
}

type startResponse struct {
	ExecutionID string `json:"execution_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeoutContext(r)
	defer cancel()

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PipelineID == "" {
		writeError(w, http.StatusBadRequest, errors.New("pipeline_id is required"))
		return
	}

	executionID, err := s.supervisor.Start(ctx, engineStartRequest(req))
	if err != nil {
		writeError(w, startErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{ExecutionID: executionID})
}

func startErrorStatus(err error) int {
	var domainErr *pipeline.DomainError
	if errors.As(err, &domainErr) && domainErr.Code == pipeline.ErrCodeNotFound {
		return http.StatusNotFound
	}
	var admissionErr *apperrors.AdmissionError
	if errors.As(err, &admissionErr) {
		switch admissionErr.Reason {
		case "duplicate_run":
			return http.StatusConflict
		case "risk_blocked":
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeoutContext(r)
	defer cancel()

	executionID := chi.URLParam(r, "executionID")
	execution, err := s.store.GetExecution(ctx, executionID)
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeoutContext(r)
	defer cancel()

	executionID := chi.URLParam(r, "executionID")
	if _, err := s.store.GetExecution(ctx, executionID); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	level := pipeline.LogLevel(r.URL.Query().Get("level"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit = n
	}

	logs, err := s.store.ListLogs(ctx, executionID, level, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, func(execution pipeline.Execution) bool {
		return execution.Status.IsTerminal()
	}, s.supervisor.Stop)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, func(execution pipeline.Execution) bool {
		return execution.Status != pipeline.ExecutionRunning
	}, s.supervisor.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, func(execution pipeline.Execution) bool {
		return execution.Status != pipeline.ExecutionPaused
	}, s.supervisor.Resume)
}

// handleControl implements the shared 404/409/200 shape of stop, pause, and
// resume: look the execution up in the durable store first so "unknown" and
// "wrong state" can be told apart, then delegate to the supervisor.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, conflicts func(pipeline.Execution) bool, act func(string) error) {
	ctx, cancel := timeoutContext(r)
	defer cancel()

	executionID := chi.URLParam(r, "executionID")
	execution, err := s.store.GetExecution(ctx, executionID)
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if conflicts(execution) {
		writeError(w, http.StatusConflict, errors.New("execution not in a valid state for this operation"))
		return
	}
	if err := act(executionID); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func isNotFound(err error) bool {
	var domainErr *pipeline.DomainError
	return errors.As(err, &domainErr) && domainErr.Code == pipeline.ErrCodeNotFound
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// Package callback implements the external orchestrator's trigger/callback
// channel (spec §6): an advisory HTTP endpoint the orchestrator posts to
// with the outcome of a dag_run it is tracking independently of this
// engine's own supervision. This engine remains the system of record --
// callbacks may only move an execution into a terminal state when the
// engine's own record is still non-terminal, and never revive a terminal
// execution.
package callback

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// Kind is the closed set of callback kinds the orchestrator may report.
type Kind string

const (
	KindRunning   Kind = "running"
	KindSuccess   Kind = "success"
	KindFailure   Kind = "failure"
	KindCancelled Kind = "cancelled"
	KindRetry     Kind = "retry"
)

func (k Kind) terminalStatus() (pipeline.ExecutionStatus, bool) {
	switch k {
	case KindSuccess:
		return pipeline.ExecutionCompleted, true
	case KindFailure:
		return pipeline.ExecutionFailed, true
	case KindCancelled:
		return pipeline.ExecutionCancelled, true
	default:
		return "", false
	}
}

// Handler authenticates and applies orchestrator callbacks against the
// durable store. It holds no in-process execution state: callbacks are a
// secondary, advisory channel, not the primary stage-completion path.
type Handler struct {
	store  ports.Store
	secret string
}

// NewHandler builds a callback Handler. secret is compared against the
// X-Callback-Secret header using a constant-time comparison so a timing
// side-channel cannot leak it byte by byte.
func NewHandler(store ports.Store, secret string) *Handler {
	return &Handler{store: store, secret: secret}
}

// Mount registers the callback route on r under the given path prefix, e.g.
// Mount(router, "/callbacks").
func (h *Handler) Mount(r chi.Router, prefix string) {
	r.Post(prefix+"/{executionID}", h.handleCallback)
}

type callbackRequest struct {
	Kind      Kind                   `json:"kind"`
	DagID     string                 `json:"dag_id"`
	DagRunID  string                 `json:"dag_run_id"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Timestamp time.Time              `json:"timestamp"`
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.authenticated(r) {
		writeError(w, http.StatusUnauthorized, errors.New("invalid or missing callback secret"))
		return
	}

	executionID := chi.URLParam(r, "executionID")
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	execution, err := h.store.GetExecution(ctx, executionID)
	if err != nil {
		var domainErr *pipeline.DomainError
		if errors.As(err, &domainErr) && domainErr.Code == pipeline.ErrCodeNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if !matchesTrigger(execution, req.DagID, req.DagRunID) {
		writeError(w, http.StatusConflict, errors.New("dag_id/dag_run_id do not match this execution's trigger metadata"))
		return
	}

	if err := h.apply(ctx, execution, req); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// apply records the callback as a log entry and, for terminal kinds, moves
// the execution's status forward -- but only while it is still non-terminal.
// A terminal execution is never revived or overwritten by a late callback.
func (h *Handler) apply(ctx context.Context, execution pipeline.Execution, req callbackRequest) error {
	message := req.Message
	if message == "" {
		message = "orchestrator callback: " + string(req.Kind)
	}
	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	if err := h.store.AppendLog(ctx, pipeline.LogEntry{
		ExecutionID: execution.ID,
		Timestamp:   timestamp,
		Level:       pipeline.LogLevelInfo,
		Message:     message,
		Fields:      req.Fields,
	}); err != nil {
		return err
	}

	status, isTerminal := req.Kind.terminalStatus()
	if !isTerminal {
		return nil
	}
	if execution.Status.IsTerminal() {
		return nil
	}
	return h.store.UpdateExecutionStatus(ctx, execution.ID, status, ports.ExecutionStatusUpdate{})
}

func matchesTrigger(execution pipeline.Execution, dagID, dagRunID string) bool {
	if dagID == "" && dagRunID == "" {
		return true
	}
	if execution.TriggerMetadata == nil {
		return false
	}
	if dagID != "" {
		if v, ok := execution.TriggerMetadata["dag_id"].(string); !ok || v != dagID {
			return false
		}
	}
	if dagRunID != "" {
		if v, ok := execution.TriggerMetadata["dag_run_id"].(string); !ok || v != dagRunID {
			return false
		}
	}
	return true
}

func (h *Handler) authenticated(r *http.Request) bool {
	if h.secret == "" {
		return true
	}
	got := r.Header.Get("X-Callback-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/service"
)

// GenerateStage handles POST /api/sessions/{id}/stages/{stage}/generate.
// The invocation runs to completion before the response is written.
func (h *Handler) GenerateStage(w http.ResponseWriter, r *http.Request) {
	stage, ok := protocol.ParseStage(chi.URLParam(r, "stage"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stage: "+chi.URLParam(r, "stage"))
		return
	}

	run, err := h.svc.GenerateStage(r.Context(), chi.URLParam(r, "id"), stage)
	writeRun(w, run, err)
}

type executionRequest struct {
	Mode            string   `json:"mode,omitempty"`
	SelectedTaskIDs []string `json:"selectedTaskIds,omitempty"`
}

// StartExecution handles POST /api/sessions/{id}/execution/start. Tasks
// always run one at a time; PARALLEL is accepted for compatibility.
func (h *Handler) StartExecution(w http.ResponseWriter, r *http.Request) {
	var req executionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	switch req.Mode {
	case "", "SEQUENTIAL", "PARALLEL":
	default:
		writeError(w, http.StatusBadRequest, "mode must be SEQUENTIAL or PARALLEL")
		return
	}

	res, err := h.svc.StartExecution(r.Context(), chi.URLParam(r, "id"), req.SelectedTaskIDs)
	if err != nil {
		if res == nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, statusFor(err), map[string]any{
			"error":       err.Error(),
			"executionId": res.ExecutionID,
			"runIds":      res.RunIDs,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExecuteTask handles POST /api/sessions/{id}/tasks/{taskId}/execute
func (h *Handler) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.ExecuteTask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskId"))
	writeRun(w, run, err)
}

type retryRequest struct {
	ExtraPrompt *string `json:"extraPrompt"`
}

// RetryTask handles POST /api/sessions/{id}/tasks/{taskId}/retry
func (h *Handler) RetryTask(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ExtraPrompt == nil {
		writeError(w, http.StatusBadRequest, "extraPrompt is required")
		return
	}

	run, err := h.svc.RetryTask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskId"), *req.ExtraPrompt)
	writeRun(w, run, err)
}

// ListRuns handles GET /api/sessions/{id}/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.ListRuns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/{runId}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListEvents handles GET /api/runs/{runId}/events?limit=&offset=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.svc.ListEvents(r.Context(), chi.URLParam(r, "runId"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// ListRequirements handles GET /api/sessions/{id}/requirements
func (h *Handler) ListRequirements(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListRequirements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateRequirement handles POST /api/sessions/{id}/requirements
func (h *Handler) CreateRequirement(w http.ResponseWriter, r *http.Request) {
	var req protocol.Requirement
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	item, err := h.svc.CreateRequirement(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateRequirement handles PATCH /api/sessions/{id}/requirements/{reqId}
func (h *Handler) UpdateRequirement(w http.ResponseWriter, r *http.Request) {
	var patch protocol.RequirementPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	item, err := h.svc.UpdateRequirement(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "reqId"), patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteRequirement handles DELETE /api/sessions/{id}/requirements/{reqId}
func (h *Handler) DeleteRequirement(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRequirement(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "reqId")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ListCriteria handles GET /api/sessions/{id}/acceptance-criteria
func (h *Handler) ListCriteria(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListCriteria(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateCriterion handles POST /api/sessions/{id}/acceptance-criteria
func (h *Handler) CreateCriterion(w http.ResponseWriter, r *http.Request) {
	var req protocol.AcceptanceCriterion
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	item, err := h.svc.CreateCriterion(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateCriterion handles PATCH /api/sessions/{id}/acceptance-criteria/{acId}
func (h *Handler) UpdateCriterion(w http.ResponseWriter, r *http.Request) {
	var patch protocol.CriterionPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	item, err := h.svc.UpdateCriterion(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "acId"), patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteCriterion handles DELETE /api/sessions/{id}/acceptance-criteria/{acId}
func (h *Handler) DeleteCriterion(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCriterion(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "acId")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// GetImpact handles GET /api/sessions/{id}/impact-analysis
func (h *Handler) GetImpact(w http.ResponseWriter, r *http.Request) {
	ia, err := h.svc.GetImpact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ia)
}

// UpsertImpact handles PUT /api/sessions/{id}/impact-analysis
func (h *Handler) UpsertImpact(w http.ResponseWriter, r *http.Request) {
	var req protocol.ImpactAnalysis
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ia, err := h.svc.UpsertImpact(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ia)
}

// ListTasks handles GET /api/sessions/{id}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListTasks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateTask handles POST /api/sessions/{id}/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req protocol.Task
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	item, err := h.svc.CreateTask(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// taskPatchRequest distinguishes an explicit "lastError": null, which
// clears the field, from an absent key
type taskPatchRequest struct {
	protocol.TaskPatch
	LastError json.RawMessage `json:"lastError"`
}

// UpdateTask handles PATCH /api/sessions/{id}/tasks/{taskId}
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	patch := req.TaskPatch
	if len(req.LastError) > 0 {
		if bytes.Equal(bytes.TrimSpace(req.LastError), []byte("null")) {
			patch.ClearLastError = true
		} else {
			var msg string
			if err := json.Unmarshal(req.LastError, &msg); err != nil {
				writeError(w, http.StatusBadRequest, "lastError must be a string or null")
				return
			}
			patch.LastError = &msg
		}
	}

	item, err := h.svc.UpdateTask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskId"), patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteTask handles DELETE /api/sessions/{id}/tasks/{taskId}
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskId")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

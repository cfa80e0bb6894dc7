package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bishoku/autopilot-codex/internal/protocol"
	"github.com/bishoku/autopilot-codex/internal/scheduler"
	"github.com/bishoku/autopilot-codex/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
	RunID string `json:"runId,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type runResponse struct {
	RunID string `json:"runId"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads the request body into v. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

// statusFor maps service and orchestration errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNoUpdates),
		errors.Is(err, service.ErrInvalid),
		errors.Is(err, scheduler.ErrUnsupportedStage):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, scheduler.ErrSessionNotFound),
		errors.Is(err, scheduler.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict),
		errors.Is(err, scheduler.ErrSessionBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNoUpdates) {
		writeError(w, http.StatusBadRequest, service.ErrNoUpdates.Error())
		return
	}
	writeError(w, statusFor(err), err.Error())
}

// writeRun answers an invocation endpoint. A failed invocation that still
// produced a Run reports its id so the caller can inspect the record.
func writeRun(w http.ResponseWriter, run *protocol.Run, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, runResponse{RunID: run.ID})
		return
	}
	if run == nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusInternalServerError
	if errors.Is(err, scheduler.ErrSessionBusy) {
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RunID: run.ID})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

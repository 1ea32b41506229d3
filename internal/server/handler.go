package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/franklinbaldo/baliza-sub001/internal/apperror"
	"github.com/franklinbaldo/baliza-sub001/internal/attempt"
	"github.com/franklinbaldo/baliza-sub001/internal/payload"
	"github.com/franklinbaldo/baliza-sub001/internal/task"
)

type handler struct {
	taskSvc    *task.Service
	attemptSvc *attempt.Service
	payloads   payload.Store
}

type summaryResponse struct {
	Tasks    map[task.Status]int64 `json:"tasks"`
	Payloads payload.Stats         `json:"payloads"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	req := task.ListTasksRequest{
		Source: r.URL.Query().Get("source"),
		Status: r.URL.Query().Get("status"),
		Limit:  parseLimit(r),
	}

	tasks, err := h.taskSvc.List(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	req := task.GetTaskRequest{Key: r.PathValue("key")}

	t, err := h.taskSvc.Get(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	req := attempt.ListAttemptsRequest{
		TaskKey: r.URL.Query().Get("task"),
		Limit:   parseLimit(r),
	}

	attempts, err := h.attemptSvc.List(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.taskSvc.Counts(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	stats, err := h.payloads.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Tasks: counts, Payloads: stats})
}

func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1 // rejected by request validation
	}
	return n
}

func writeErr(w http.ResponseWriter, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

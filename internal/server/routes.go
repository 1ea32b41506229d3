package server

import (
	"net/http"

	"github.com/franklinbaldo/baliza-sub001/internal/attempt"
	"github.com/franklinbaldo/baliza-sub001/internal/payload"
	"github.com/franklinbaldo/baliza-sub001/internal/task"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer). The metrics handler
// is passed in so the server does not depend on the registry wiring.
func NewHandler(taskSvc *task.Service, attemptSvc *attempt.Service, payloads payload.Store, metrics http.Handler) http.Handler {
	h := &handler{
		taskSvc:    taskSvc,
		attemptSvc: attemptSvc,
		payloads:   payloads,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/tasks", h.listTasks)
	mux.HandleFunc("GET /api/v1/tasks/{key}", h.getTask)
	mux.HandleFunc("GET /api/v1/attempts", h.listAttempts)
	mux.HandleFunc("GET /api/v1/summary", h.summary)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// Middleware stack: recovery -> requestID -> logging.
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mshogin/deepresearch/internal/application/services"
	"github.com/mshogin/deepresearch/internal/domain/models"
	"github.com/mshogin/deepresearch/internal/infrastructure/keypool"
	"github.com/mshogin/deepresearch/internal/infrastructure/logging"
)

// Handler handles HTTP requests for the research API.
type Handler struct {
	controller *services.WorkflowController
	pool       *keypool.Pool
}

// NewHandler creates a new Handler instance.
func NewHandler(controller *services.WorkflowController, pool *keypool.Pool) *Handler {
	return &Handler{
		controller: controller,
		pool:       pool,
	}
}

// ResearchRequest is the body of POST /v1/research.
type ResearchRequest struct {
	Question string `json:"question"`
	Effort   string `json:"effort"`
	Stream   bool   `json:"stream"`
}

// SubmitResearch handles POST /v1/research.
func (h *Handler) SubmitResearch(w http.ResponseWriter, r *http.Request) {
	var req ResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Stream {
		h.streamResponse(w, r, &req)
	} else {
		h.asyncResponse(w, r, &req)
	}
}

// streamResponse runs the session on the request context and relays every
// stage event over SSE. A client disconnect cancels the session.
func (h *Handler) streamResponse(w http.ResponseWriter, r *http.Request, req *ResearchRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.sendErrorResponse(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	sessionID, events, err := h.controller.Submit(r.Context(), req.Question, req.Effort)
	if err != nil {
		h.sendSubmitError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for event := range events {
		sse, err := event.ToSSE()
		if err != nil {
			logging.Error("failed to encode stage event", err, map[string]interface{}{
				"session_id": sessionID,
			})
			continue
		}
		if _, err := w.Write([]byte(sse)); err != nil {
			// Client is gone; the request context cancellation stops the
			// session, we just stop relaying.
			return
		}
		flusher.Flush()
	}
}

// asyncResponse starts the session detached from the request and returns its
// id immediately; the caller polls GET /v1/research/{sessionID}.
func (h *Handler) asyncResponse(w http.ResponseWriter, r *http.Request, req *ResearchRequest) {
	sessionID, events, err := h.controller.Submit(context.Background(), req.Question, req.Effort)
	if err != nil {
		h.sendSubmitError(w, err)
		return
	}

	// Nobody streams this session, so drain its events to let the workflow
	// goroutine finish.
	go func() {
		for range events {
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"session_id": sessionID,
	})
}

// GetSession handles GET /v1/research/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.controller.Get(sessionID)
	if err != nil {
		h.sendErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// CancelSession handles POST /v1/research/{sessionID}/cancel. Cancellation
// is idempotent: repeating the call acknowledges the same way.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.controller.Cancel(sessionID); err != nil {
		h.sendErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"session_id": sessionID,
		"status":     "cancelling",
	})
}

// KeyStatus handles GET /v1/keys. Key material is always masked.
func (h *Handler) KeyStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.pool.Snapshot())
}

// ResetKeys handles POST /v1/keys/reset, re-enabling disabled credentials.
func (h *Handler) ResetKeys(w http.ResponseWriter, r *http.Request) {
	h.pool.Reset()
	logging.Info("credential pool reset via API")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.pool.Snapshot())
}

// Health handles GET /health endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"keys_available": h.pool.Available(),
	})
}

// sendSubmitError maps submission failures onto HTTP status codes.
func (h *Handler) sendSubmitError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, models.ErrEmptyQuestion) || errors.Is(err, models.ErrInvalidEffort) {
		status = http.StatusBadRequest
	}
	h.sendErrorResponse(w, status, err.Error())
}

// sendErrorResponse sends an error response.
func (h *Handler) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// CORSMiddleware allows browser clients on other origins to reach the API.
func CORSMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Accept", "Content-Type", "Authorization",
			}, ", "))
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

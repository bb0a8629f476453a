package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/brunobiangulo/medgraph"
	"github.com/brunobiangulo/medgraph/metrics"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type routerOptions struct {
	APIKey      string
	CORSOrigins []string
}

type handler struct {
	engine medgraph.Engine
}

// newRouter wires the API routes. Middleware order, outermost first:
// recovery, request id, cors, auth, logging and metrics.
func newRouter(e medgraph.Engine, m *metrics.Collector, opts routerOptions) http.Handler {
	h := &handler{engine: e}

	r := chi.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(chimiddleware.RequestID)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         86400,
		}))
	}
	r.Use(authMiddleware(opts.APIKey))
	r.Use(logMiddleware(m))

	r.Post("/initialize", h.handleInitialize)
	r.Post("/reinitialize", h.handleReinitialize)
	r.Post("/ask", h.handleAsk)
	r.Get("/stats", h.handleStats)
	r.Get("/system", h.handleSystem)
	r.Get("/health", h.handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}

// POST /initialize
func (h *handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	h.build(w, r, h.engine.Initialize)
}

// POST /reinitialize
func (h *handler) handleReinitialize(w http.ResponseWriter, r *http.Request) {
	h.build(w, r, h.engine.Reinitialize)
}

func (h *handler) build(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	st, err := h.engine.SystemStats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.engine.Ask(r.Context(), req.Question)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GraphStats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /system
func (h *handler) handleSystem(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.SystemStats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  h.engine.State().String(),
	})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, medgraph.ErrInvalidQuestion):
		return http.StatusBadRequest
	case errors.Is(err, medgraph.ErrAlreadyInitialized), errors.Is(err, medgraph.ErrInitializing):
		return http.StatusConflict
	case errors.Is(err, medgraph.ErrEmptyGraph):
		return http.StatusUnprocessableEntity
	case errors.Is(err, medgraph.ErrNotInitialized), errors.Is(err, medgraph.ErrStoreClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, medgraph.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

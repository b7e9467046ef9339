package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Routes returns the HTTP surface of the agent. timeout bounds each request.
func (h *Handler) Routes(timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Get("/health", h.handleHealth)
	r.Post("/a2a/time-coordinate", h.handleRPC)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Agent: agentName}, h.correlationID(r.Header.Get(correlationHeader)))
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	correlationID := h.correlationID(r.Header.Get(correlationHeader))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.log.Warn("failed to read request body", zap.String("correlation_id", correlationID), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, codeParseError, "Parse error", nil), correlationID)
		return
	}

	status, resp := h.Process(r.Context(), correlationID, body)
	writeJSON(w, status, resp, correlationID)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			h.log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		}()

		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(correlationHeader, correlationID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

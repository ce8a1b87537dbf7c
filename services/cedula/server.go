package cedula

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handler wires the lookup endpoints to the service.
type Handler struct {
	service Service
	metrics *Metrics
}

func NewHandler(service Service, metrics *Metrics) *Handler {
	return &Handler{
		service: service,
		metrics: metrics,
	}
}

// Register mounts the lookup endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.HandleUsage)
	r.Get("/check", h.HandleCheck)
}

type errorBody struct {
	Error string `json:"error"`
}

// HandleCheck handles GET /check?cedula=... requests.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	cedula := r.URL.Query().Get("cedula")

	result, err := h.service.Lookup(ctx, cedula)
	if errors.Is(err, ErrMissingCedula) {
		h.metrics.Lookups.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "lookup failed",
			"cedula", cedula,
			"err", err,
		)
		h.metrics.Lookups.WithLabelValues("failure").Inc()
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	slog.InfoContext(ctx, "lookup succeeded",
		"cedula", cedula,
		"fallecido", result.Fallecido,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	h.metrics.Lookups.WithLabelValues("success").Inc()
	h.metrics.ObserveLookup(start)
	writeJSON(w, http.StatusOK, result)
}

// HandleUsage handles GET / with static usage instructions.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "TSE Cedula Checker API",
		"usage":   "GET /check?cedula=<cedula_number>",
		"example": "/check?cedula=102920417",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Error("failed to encode response body", "err", err)
	}
}

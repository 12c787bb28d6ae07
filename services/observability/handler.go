package observability

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the observability service over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.With("component", "observability-http"),
	}
}

// Register mounts the observability routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Route("/traces", func(r chi.Router) {
		r.Get("/", h.handleListTraces)
		r.Post("/spans", h.handleCreateSpans)
		r.Patch("/spans", h.handleUpdateSpans)
		r.Delete("/", h.handleDeleteTraces)
		r.Post("/score", h.handleScoreTraces)
		r.Get("/{traceID}", h.handleGetTrace)
		r.Get("/{traceID}/{spanID}/scores", h.handleListScores)
	})
}

// spanResponse decorates a span with its derived status for API consumers.
type spanResponse struct {
	*SpanRecord
	Status SpanStatus `json:"status"`
}

func toSpanResponse(span *SpanRecord) spanResponse {
	return spanResponse{SpanRecord: span, Status: span.Status()}
}

func toSpanResponses(spans []*SpanRecord) []spanResponse {
	out := make([]spanResponse, len(spans))
	for i, span := range spans {
		out[i] = toSpanResponse(span)
	}
	return out
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleListTraces(w http.ResponseWriter, r *http.Request) {
	arg, err := ParseTraceQueryValues(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	page, err := h.service.GetTracesPaginated(r.Context(), *arg)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"spans":      toSpanResponses(page.Spans),
		"pagination": page.Pagination,
	})
}

func (h *Handler) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")

	trace, err := h.service.GetTrace(r.Context(), traceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"traceId": trace.TraceID,
		"spans":   toSpanResponses(trace.Spans),
	})
}

func (h *Handler) handleCreateSpans(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Spans []*SpanRecord `json:"spans"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, validationf("body", "invalid JSON: %v", err))
		return
	}
	if len(body.Spans) == 0 {
		h.writeError(w, validationf("spans", "at least one span is required"))
		return
	}

	if err := h.service.BatchCreateSpans(r.Context(), body.Spans); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":    "created",
		"spanCount": len(body.Spans),
	})
}

func (h *Handler) handleUpdateSpans(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Records []UpdateSpanArg `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, validationf("body", "invalid JSON: %v", err))
		return
	}
	if len(body.Records) == 0 {
		h.writeError(w, validationf("records", "at least one record is required"))
		return
	}

	if err := h.service.BatchUpdateSpans(r.Context(), body.Records); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "updated",
		"recordCount": len(body.Records),
	})
}

func (h *Handler) handleDeleteTraces(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TraceIDs []string `json:"traceIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, validationf("body", "invalid JSON: %v", err))
		return
	}
	if len(body.TraceIDs) == 0 {
		h.writeError(w, validationf("traceIds", "at least one trace ID is required"))
		return
	}

	if err := h.service.BatchDeleteTraces(r.Context(), body.TraceIDs); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "deleted",
		"traceCount": len(body.TraceIDs),
	})
}

func (h *Handler) handleScoreTraces(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScorerName string        `json:"scorerName"`
		Targets    []ScoreTarget `json:"targets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, validationf("body", "invalid JSON: %v", err))
		return
	}

	count, err := h.service.ScoreTraces(body.ScorerName, body.Targets)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Scoring runs in the background; acknowledge immediately.
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "queued",
		"message":    "scoring runs asynchronously; results appear as scores on the target spans",
		"traceCount": count,
	})
}

func (h *Handler) handleListScores(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	spanID := chi.URLParam(r, "spanID")

	arg, err := ParseTraceQueryValues(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	var p PaginationArgs
	if arg.Pagination != nil {
		p = *arg.Pagination
	}

	page, err := h.service.ListScoresBySpan(r.Context(), traceID, spanID, p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": verr.Errors,
		})
		return
	}

	var nfe *NotFoundError
	if errors.As(err, &nfe) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nfe.Error()})
		return
	}

	var uerr *UnavailableError
	if errors.As(err, &uerr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": uerr.Error()})
		return
	}

	h.logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

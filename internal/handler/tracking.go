package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErr "github.com/samims/pricewatch/internal/errors"
	"github.com/samims/pricewatch/internal/service"
	"github.com/samims/pricewatch/pkg/tracing"
)

type TrackingHandler struct {
	svc    service.TrackingService
	logger *slog.Logger
	tracer *tracing.Tracer
}

func NewTrackingHandler(s service.TrackingService, logger *slog.Logger) *TrackingHandler {
	return &TrackingHandler{
		svc:    s,
		logger: logger.With("layer", "handler", "component", "trackingHandler"),
		tracer: tracing.NewTracer("tracking-handler"),
	}
}

// RegisterSubscriber handles PUT /subscribers/{id}.
func (h *TrackingHandler) RegisterSubscriber(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.StartServerSpan(r.Context(), "RegisterSubscriber")
	defer span.End()

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.logger.Warn("Invalid request body for RegisterSubscriber", slog.Any("error", err))
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sub, err := h.svc.RegisterSubscriber(ctx, chi.URLParam(r, "id"), body.DisplayName)
	if err != nil {
		h.tracer.RecordError(span, err)
		h.respondServiceError(w, "RegisterSubscriber", err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// AddTracking handles POST /subscribers/{id}/trackings.
func (h *TrackingHandler) AddTracking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.StartServerSpan(r.Context(), "AddTracking")
	defer span.End()

	subscriberID := chi.URLParam(r, "id")

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("Invalid request body for AddTracking", slog.String("subscriber_id", subscriberID))
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.AddTracking(ctx, subscriberID, body.URL)
	if err != nil {
		var already *appErr.AlreadyTrackingError
		if errors.As(err, &already) {
			respondJSON(w, http.StatusConflict, map[string]any{
				"error":      "already tracking",
				"product_id": already.ProductID,
				"unified":    already.Unified,
			})
			return
		}
		h.tracer.RecordError(span, err)
		h.respondServiceError(w, "AddTracking", err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// ListTrackings handles GET /subscribers/{id}/trackings.
func (h *TrackingHandler) ListTrackings(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.StartServerSpan(r.Context(), "ListTrackings")
	defer span.End()

	list, err := h.svc.ListTrackings(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.tracer.RecordError(span, err)
		h.respondServiceError(w, "ListTrackings", err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// RemoveTracking handles DELETE /subscribers/{id}/trackings/{productID}.
func (h *TrackingHandler) RemoveTracking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.StartServerSpan(r.Context(), "RemoveTracking")
	defer span.End()

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.svc.RemoveTracking(ctx, chi.URLParam(r, "id"), productID); err != nil {
		h.tracer.RecordError(span, err)
		h.respondServiceError(w, "RemoveTracking", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PriceHistory handles GET /products/{id}/history?limit=N.
func (h *TrackingHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.StartServerSpan(r.Context(), "PriceHistory")
	defer span.End()

	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	history, err := h.svc.PriceHistory(ctx, productID, limit)
	if err != nil {
		h.tracer.RecordError(span, err)
		h.respondServiceError(w, "PriceHistory", err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (h *TrackingHandler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case appErr.IsInvalidLink(err), appErr.IsInvalidInput(err):
		h.logger.Warn(op+" rejected input", slog.Any("error", err))
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, appErr.ErrSubscriberNotFound), appErr.IsNotFound(err):
		h.logger.Warn(op+" target not found", slog.Any("error", err))
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, appErr.ErrExtractionFailed):
		h.logger.Warn(op+" could not read product page", slog.Any("error", err))
		respondError(w, http.StatusUnprocessableEntity, "product page could not be read")
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	appErr "github.com/samims/pricewatch/internal/errors"
	"github.com/samims/pricewatch/internal/model"
	"github.com/samims/pricewatch/internal/monitor"
	"github.com/samims/pricewatch/pkg/tracing"
)

type Monitor interface {
	RunOnce(ctx context.Context) (monitor.CycleReport, error)
	Status() monitor.Status
}

type StatsProvider interface {
	Stats(ctx context.Context) (model.Stats, error)
}

type MonitorHandler struct {
	monitor Monitor
	stats   StatsProvider
	logger  *slog.Logger
	tracer  *tracing.Tracer
}

func NewMonitorHandler(m Monitor, stats StatsProvider, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitor: m,
		stats:   stats,
		logger:  logger.With("layer", "handler", "component", "monitorHandler"),
		tracer:  tracing.NewTracer("monitor-handler"),
	}
}

// Run triggers a poll cycle and waits for its report.
func (h *MonitorHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.StartServerSpan(r.Context(), "RunOnce")
	defer span.End()

	report, err := h.monitor.RunOnce(ctx)
	if err != nil {
		switch {
		case appErr.IsAlreadyRunning(err):
			respondError(w, http.StatusConflict, err.Error())
		case appErr.IsSchedulerStopping(err):
			respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.tracer.RecordError(span, err)
			h.logger.Error("Manual poll cycle failed", slog.Any("error", err))
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to load stats", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Scheduler monitor.Status `json:"scheduler"`
		Stats     model.Stats    `json:"stats"`
	}{h.monitor.Status(), stats})
}

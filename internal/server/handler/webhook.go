package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/instabets/marketd/internal/domain"
)

// EventSink consumes monitor events; *tracker.Tracker implements it.
type EventSink interface {
	HandleEvent(ctx context.Context, ev domain.MonitorEvent)
}

// WebhookHandler receives callbacks from the live-condition monitor.
type WebhookHandler struct {
	sink   EventSink
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler delivering events to sink.
func NewWebhookHandler(sink EventSink, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		sink:   sink,
		logger: logger,
	}
}

// monitorCallback is the monitor's webhook payload. Error callbacks nest the
// job id under data.
type monitorCallback struct {
	Event string `json:"event"`
	JobID string `json:"job_id"`
	Data  struct {
		JobID string `json:"job_id"`
	} `json:"data"`
}

// HandleMonitorEvent accepts a monitor callback. The monitor treats any
// non-2xx as "redeliver", so the 200 goes out before any processing: a
// malformed body or an unknown job must never look like a delivery failure.
// POST /webhook/machinefi
func (h *WebhookHandler) HandleMonitorEvent(w http.ResponseWriter, r *http.Request) {
	var cb monitorCallback
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&cb)

	// Acknowledge unconditionally, before any processing.
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})

	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: malformed monitor callback",
			slog.String("error", err.Error()),
		)
		return
	}

	ev := domain.MonitorEvent{Event: cb.Event, JobID: cb.JobID}
	if ev.JobID == "" {
		ev.JobID = cb.Data.JobID
	}

	// Process after the response; the sender's delivery loop must not wait
	// on ledger transactions.
	go h.sink.HandleEvent(context.WithoutCancel(r.Context()), ev)
}

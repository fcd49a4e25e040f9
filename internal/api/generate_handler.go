package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-pipeline/internal/api/shared"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/events"
	"github.com/phrazzld/scry-pipeline/internal/pipeline"
	"github.com/phrazzld/scry-pipeline/internal/platform/logger"
	"github.com/phrazzld/scry-pipeline/internal/redact"
)

// RunService starts and cancels pipeline runs.
type RunService interface {
	Run(ctx context.Context, req domain.GenerationRequest, handler events.EventHandler) (*pipeline.Outcome, error)
	Cancel(runID uuid.UUID) bool
}

// streamBuffer is the number of events buffered between a run and the
// response writer.
const streamBuffer = 32

// GenerateHandler streams generation runs to clients.
type GenerateHandler struct {
	runs   RunService
	extra  []events.EventHandler
	logger *slog.Logger
}

// NewGenerateHandler creates a GenerateHandler. Every event of every run is
// also passed to the extra handlers, after the client.
func NewGenerateHandler(runs RunService, logger *slog.Logger, extra ...events.EventHandler) *GenerateHandler {
	return &GenerateHandler{
		runs:   runs,
		extra:  extra,
		logger: logger.With("component", "generate_handler"),
	}
}

// Generate handles POST /api/generate. The response is a server-sent event
// stream that always ends with a result, error or cancelled event.
// Disconnecting cancels the run.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	genReq, resolution := pipeline.FromDocument(req.toDomain(), req.Document)
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	if resolution.Source != "" {
		w.Header().Set("X-Content-Source", string(resolution.Source))
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := events.NewChannelSink(streamBuffer)
	handler := events.EventHandler(sink)
	if len(h.extra) > 0 {
		handler = fanOut(append([]events.EventHandler{sink}, h.extra...), log)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sink.Close()
		if _, err := h.runs.Run(r.Context(), genReq, handler); err != nil {
			log.Debug("run ended with error", "error", err)
		}
	}()

	broken := false
	for ev := range sink.Events() {
		if broken {
			continue
		}
		if err := events.WriteSSE(w, ev); err != nil {
			log.Debug("client stream closed", "error", err)
			broken = true
			continue
		}
		flusher.Flush()
	}
	<-done
}

// Cancel handles POST /api/runs/{id}/cancel.
func (h *GenerateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid run ID", err)
		return
	}

	if !h.runs.Cancel(runID) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Run not found or already finished")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, CancelResponse{RunID: runID.String(), Cancelled: true})
}

// fanOut delivers each event to every handler in order. Only the first
// handler's error is returned; the others are logged.
func fanOut(handlers []events.EventHandler, log *slog.Logger) events.EventHandler {
	return events.HandlerFunc(func(ctx context.Context, event *events.Event) error {
		var first error
		for i, hd := range handlers {
			if err := hd.HandleEvent(ctx, event); err != nil {
				if i == 0 {
					first = err
					continue
				}
				log.Warn("event handler failed", "event_type", event.Type, "error", redact.Error(err))
			}
		}
		return first
	})
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-pipeline/internal/api/shared"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/store"
	"github.com/phrazzld/scry-pipeline/internal/task"
)

// ExportQueue accepts export tasks and reports their status.
type ExportQueue interface {
	Submit(ctx context.Context, t task.Task) error
	Status(ctx context.Context, taskID uuid.UUID) (task.Record, error)
}

// ExportHandler queues card exports.
type ExportHandler struct {
	factory *task.ExportTaskFactory
	queue   ExportQueue
	logger  *slog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(factory *task.ExportTaskFactory, queue ExportQueue, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		factory: factory,
		queue:   queue,
		logger:  logger.With("component", "export_handler"),
	}
}

// CreateExport handles POST /api/exports. The cards are uploaded in the
// background; the response carries the task ID to poll.
func (h *ExportHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cards := make([]domain.ExportCard, len(req.Cards))
	for i, c := range req.Cards {
		if strings.TrimSpace(c.Deck) == "" {
			c.Deck = strings.TrimSpace(req.Deck)
		}
		if len(req.Tags) > 0 {
			c.Tags = append(append([]string(nil), c.Tags...), req.Tags...)
		}
		cards[i] = c
	}

	t, err := h.factory.CreateTask(req.RunID, cards)
	if err != nil {
		respondWithMappedError(w, r, err)
		return
	}
	if err := h.queue.Submit(r.Context(), t); err != nil {
		respondWithMappedError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "export queued", "task_id", t.ID(), "cards", len(cards))
	shared.RespondWithJSON(w, r, http.StatusAccepted, ExportResponse{
		TaskID: t.ID().String(),
		Status: string(task.TaskStatusPending),
		Cards:  len(cards),
	})
}

// GetExport handles GET /api/exports/{id}.
func (h *ExportHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid task ID", err)
		return
	}

	rec, err := h.queue.Status(r.Context(), taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithErrorAndLog(w, r, http.StatusNotFound, "Export task not found", err)
			return
		}
		respondWithMappedError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, rec)
}

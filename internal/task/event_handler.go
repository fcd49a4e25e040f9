package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/events"
)

// Submitter accepts tasks for background execution.
type Submitter interface {
	Submit(ctx context.Context, task Task) error
}

// ExportEventHandler implements events.EventHandler. When a run's result
// event arrives it queues an export task for the accepted cards.
type ExportEventHandler struct {
	factory *ExportTaskFactory
	runner  Submitter
	deck    string
	tags    []string
	logger  *slog.Logger
}

// NewExportEventHandler creates a handler that exports every result to deck.
func NewExportEventHandler(factory *ExportTaskFactory, runner Submitter, deck string, tags []string, logger *slog.Logger) (*ExportEventHandler, error) {
	if factory == nil {
		return nil, fmt.Errorf("task factory cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("task runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &ExportEventHandler{
		factory: factory,
		runner:  runner,
		deck:    deck,
		tags:    tags,
		logger:  logger.With("component", "export_event_handler"),
	}, nil
}

// HandleEvent implements events.EventHandler. Events other than result are
// ignored, as are results without accepted cards.
func (h *ExportEventHandler) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.Result {
		return nil
	}

	var payload struct {
		RunID string                 `json:"run_id"`
		Cards []domain.CardCandidate `json:"cards"`
	}
	if err := event.UnmarshalData(&payload); err != nil {
		h.logger.Error("failed to unmarshal result", "error", err, "event_id", event.ID)
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}

	cards := FromCandidates(payload.Cards, h.deck, h.tags)
	if len(cards) == 0 {
		h.logger.Debug("no accepted cards to export", "run_id", payload.RunID)
		return nil
	}

	t, err := h.factory.CreateTask(payload.RunID, cards)
	if err != nil {
		h.logger.Error("failed to create export task", "error", err, "run_id", payload.RunID)
		return fmt.Errorf("failed to create export task: %w", err)
	}
	if err := h.runner.Submit(ctx, t); err != nil {
		h.logger.Error("failed to submit export task", "error", err, "task_id", t.ID())
		return fmt.Errorf("failed to submit export task: %w", err)
	}

	h.logger.Info("export task submitted", "task_id", t.ID(), "run_id", payload.RunID, "cards", len(cards))
	return nil
}

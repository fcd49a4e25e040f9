package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/sink"
)

// ErrInvalidPayload is returned when a stored export payload cannot be
// decoded.
var ErrInvalidPayload = errors.New("invalid export payload")

// ExportPayload is the stored payload of an export task.
type ExportPayload struct {
	RunID string              `json:"run_id,omitempty"`
	Cards []domain.ExportCard `json:"cards"`
}

// ExportTask uploads a batch of cards to a card sink.
type ExportTask struct {
	id      uuid.UUID
	payload ExportPayload
	raw     []byte
	status  TaskStatus
	sink    sink.CardSink
	logger  *slog.Logger
}

var _ Task = (*ExportTask)(nil)

// ID implements Task.
func (t *ExportTask) ID() uuid.UUID { return t.id }

// Type implements Task.
func (t *ExportTask) Type() string { return TaskTypeCardExport }

// Payload implements Task.
func (t *ExportTask) Payload() []byte { return t.raw }

// Status implements Task.
func (t *ExportTask) Status() TaskStatus { return t.status }

// Cards returns the cards the task exports.
func (t *ExportTask) Cards() []domain.ExportCard { return t.payload.Cards }

// Execute uploads the cards. The sink either stores the whole batch or
// nothing, so a failed task can be retried as a whole.
func (t *ExportTask) Execute(ctx context.Context) error {
	t.status = TaskStatusProcessing
	if err := t.sink.Upload(ctx, t.payload.Cards); err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("failed to upload %d cards: %w", len(t.payload.Cards), err)
	}
	t.status = TaskStatusCompleted
	t.logger.InfoContext(ctx, "cards exported", "task_id", t.id, "run_id", t.payload.RunID, "count", len(t.payload.Cards))
	return nil
}

// ExportTaskFactory creates export tasks bound to one sink.
type ExportTaskFactory struct {
	sink        sink.CardSink
	defaultDeck string
	logger      *slog.Logger
}

// NewExportTaskFactory creates a factory. Cards without a deck are put in
// defaultDeck.
func NewExportTaskFactory(cardSink sink.CardSink, defaultDeck string, logger *slog.Logger) (*ExportTaskFactory, error) {
	if cardSink == nil {
		return nil, fmt.Errorf("card sink cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if strings.TrimSpace(defaultDeck) == "" {
		defaultDeck = "Default"
	}
	return &ExportTaskFactory{
		sink:        cardSink,
		defaultDeck: defaultDeck,
		logger:      logger.With("component", "export_task"),
	}, nil
}

// CreateTask validates cards and creates a pending export task.
func (f *ExportTaskFactory) CreateTask(runID string, cards []domain.ExportCard) (*ExportTask, error) {
	out := make([]domain.ExportCard, len(cards))
	for i, c := range cards {
		if strings.TrimSpace(c.Deck) == "" {
			c.Deck = f.defaultDeck
		}
		out[i] = c
	}
	if err := sink.ValidateCards(out); err != nil {
		return nil, err
	}
	return f.build(uuid.New(), ExportPayload{RunID: runID, Cards: out})
}

// Restore rebuilds a stored export task so it can be executed again.
func (f *ExportTaskFactory) Restore(rec Record) (Task, error) {
	if rec.Type != TaskTypeCardExport {
		return nil, fmt.Errorf("%w: unsupported task type %q", ErrInvalidPayload, rec.Type)
	}
	var payload ExportPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return f.build(rec.ID, payload)
}

func (f *ExportTaskFactory) build(id uuid.UUID, payload ExportPayload) (*ExportTask, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export payload: %w", err)
	}
	return &ExportTask{
		id:      id,
		payload: payload,
		raw:     raw,
		status:  TaskStatusPending,
		sink:    f.sink,
		logger:  f.logger,
	}, nil
}

// FromCandidates converts accepted candidates into export cards for deck.
// Rejected candidates are skipped.
func FromCandidates(cands []domain.CardCandidate, deck string, tags []string) []domain.ExportCard {
	out := make([]domain.ExportCard, 0, len(cands))
	for _, c := range cands {
		if !c.Accepted() {
			continue
		}
		out = append(out, c.ToExport(deck, tags))
	}
	return out
}

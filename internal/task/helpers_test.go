package task

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-pipeline/internal/domain"
)

// fakeTask implements Task for tests.
type fakeTask struct {
	id      uuid.UUID
	typ     string
	payload []byte
	execFn  func(ctx context.Context) error
}

func newFakeTask(execFn func(ctx context.Context) error) *fakeTask {
	return &fakeTask{id: uuid.New(), typ: "fake", payload: []byte(`{}`), execFn: execFn}
}

func (t *fakeTask) ID() uuid.UUID      { return t.id }
func (t *fakeTask) Type() string       { return t.typ }
func (t *fakeTask) Payload() []byte    { return t.payload }
func (t *fakeTask) Status() TaskStatus { return TaskStatusPending }

func (t *fakeTask) Execute(ctx context.Context) error {
	if t.execFn != nil {
		return t.execFn(ctx)
	}
	return nil
}

// recordingSink implements sink.CardSink and keeps every uploaded batch.
type recordingSink struct {
	mu       sync.Mutex
	batches  [][]domain.ExportCard
	UploadFn func(ctx context.Context, cards []domain.ExportCard) error
}

func (s *recordingSink) Upload(ctx context.Context, cards []domain.ExportCard) error {
	if s.UploadFn != nil {
		if err := s.UploadFn(ctx, cards); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, cards)
	return nil
}

func (s *recordingSink) Batches() [][]domain.ExportCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]domain.ExportCard(nil), s.batches...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func exportCard(front string) domain.ExportCard {
	return domain.ExportCard{
		Front:          front,
		Back:           "The powerhouse of the cell.",
		SourceEvidence: "Mitochondria are the powerhouse of the cell.",
	}
}

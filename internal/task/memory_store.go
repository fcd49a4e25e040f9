package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-pipeline/internal/store"
)

// MemoryStore keeps task records in process memory. It is the store used
// when no database is configured; records do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
	now     func() time.Time
}

var _ TaskStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SaveTask implements TaskStore.
func (s *MemoryStore) SaveTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.records[task.ID()] = Record{
		ID:        task.ID(),
		Type:      task.Type(),
		Payload:   append([]byte(nil), task.Payload()...),
		Status:    task.Status(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// UpdateTaskStatus implements TaskStore. Unknown ids are a no-op.
func (s *MemoryStore) UpdateTaskStatus(_ context.Context, taskID uuid.UUID, status TaskStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[taskID]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.Error = errorMsg
	rec.UpdatedAt = s.now()
	s.records[taskID] = rec
	return nil
}

// GetTask implements TaskStore.
func (s *MemoryStore) GetTask(_ context.Context, taskID uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[taskID]
	if !ok {
		return Record{}, store.ErrTaskNotFound
	}
	return rec, nil
}

// GetPendingTasks implements TaskStore.
func (s *MemoryStore) GetPendingTasks(_ context.Context) ([]Record, error) {
	return s.byStatus(TaskStatusPending, 0), nil
}

// GetProcessingTasks implements TaskStore.
func (s *MemoryStore) GetProcessingTasks(_ context.Context, olderThan time.Duration) ([]Record, error) {
	return s.byStatus(TaskStatusProcessing, olderThan), nil
}

func (s *MemoryStore) byStatus(status TaskStatus, olderThan time.Duration) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []Record
	for _, rec := range s.records {
		if rec.Status != status {
			continue
		}
		if olderThan > 0 && now.Sub(rec.UpdatedAt) <= olderThan {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

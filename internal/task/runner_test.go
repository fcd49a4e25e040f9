package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/store"
)

func fastConfig() TaskRunnerConfig {
	cfg := DefaultTaskRunnerConfig()
	cfg.WorkerCount = 2
	cfg.QueueSize = 10
	cfg.StuckTaskCheckInterval = time.Hour
	cfg.TaskTimeout = 5 * time.Second
	return cfg
}

func waitForStatus(t *testing.T, s TaskStore, id uuid.UUID, want TaskStatus) Record {
	t.Helper()
	var rec Record
	require.Eventually(t, func() bool {
		var err error
		rec, err = s.GetTask(context.Background(), id)
		return err == nil && rec.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return rec
}

func TestTaskRunner_SubmitAndProcess(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	runner := NewTaskRunner(st, nil, fastConfig(), testLogger())
	require.NoError(t, runner.Start())
	defer runner.Stop()

	var ran atomic.Int32
	task := newFakeTask(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	require.NoError(t, runner.Submit(context.Background(), task))

	rec := waitForStatus(t, st, task.ID(), TaskStatusCompleted)
	assert.Equal(t, "fake", rec.Type)
	assert.Empty(t, rec.Error)
	assert.Equal(t, int32(1), ran.Load())

	got, err := runner.Status(context.Background(), task.ID())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, got.Status)
}

func TestTaskRunner_Status_NotFound(t *testing.T) {
	t.Parallel()

	runner := NewTaskRunner(NewMemoryStore(), nil, fastConfig(), testLogger())
	_, err := runner.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestTaskRunner_QueueFull(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	cfg := fastConfig()
	cfg.QueueSize = 1
	runner := NewTaskRunner(st, nil, cfg, testLogger())

	require.NoError(t, runner.Submit(context.Background(), newFakeTask(nil)))

	overflow := newFakeTask(nil)
	err := runner.Submit(context.Background(), overflow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)

	rec, err := st.GetTask(context.Background(), overflow.ID())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, rec.Status)
}

func TestTaskRunner_TaskFailure(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	runner := NewTaskRunner(st, nil, fastConfig(), testLogger())

	handled := make(chan error, 1)
	runner.SetErrorHandler(func(task Task, err error) { handled <- err })
	require.NoError(t, runner.Start())
	defer runner.Stop()

	boom := errors.New("sink offline")
	task := newFakeTask(func(ctx context.Context) error { return boom })
	require.NoError(t, runner.Submit(context.Background(), task))

	rec := waitForStatus(t, st, task.ID(), TaskStatusFailed)
	assert.Contains(t, rec.Error, "sink offline")

	select {
	case err := <-handled:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("error handler not called")
	}
}

func TestTaskRunner_RecoverRestoresExportTasks(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	cardSink := &recordingSink{}
	factory, err := NewExportTaskFactory(cardSink, "Biology", testLogger())
	require.NoError(t, err)

	pending, err := factory.CreateTask("run-1", []domain.ExportCard{exportCard("What are mitochondria?")})
	require.NoError(t, err)
	interrupted, err := factory.CreateTask("run-2", []domain.ExportCard{exportCard("What do mitochondria produce?")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.SaveTask(ctx, pending))
	require.NoError(t, st.SaveTask(ctx, interrupted))
	require.NoError(t, st.UpdateTaskStatus(ctx, interrupted.ID(), TaskStatusProcessing, ""))

	runner := NewTaskRunner(st, factory, fastConfig(), testLogger())
	require.NoError(t, runner.Start())
	defer runner.Stop()

	waitForStatus(t, st, pending.ID(), TaskStatusCompleted)
	waitForStatus(t, st, interrupted.ID(), TaskStatusCompleted)
	assert.Len(t, cardSink.Batches(), 2)
}

func TestTaskRunner_RecoverWithoutRestorerFailsTasks(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	task := newFakeTask(nil)
	require.NoError(t, st.SaveTask(context.Background(), task))

	runner := NewTaskRunner(st, nil, fastConfig(), testLogger())
	require.NoError(t, runner.Recover())

	rec, err := st.GetTask(context.Background(), task.ID())
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
}

func TestTaskRunner_StuckTasksAreRequeued(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	cardSink := &recordingSink{}
	factory, err := NewExportTaskFactory(cardSink, "Biology", testLogger())
	require.NoError(t, err)

	cfg := fastConfig()
	cfg.StuckTaskAge = time.Millisecond
	cfg.StuckTaskCheckInterval = 10 * time.Millisecond
	runner := NewTaskRunner(st, factory, cfg, testLogger())
	require.NoError(t, runner.Start())
	defer runner.Stop()

	stuck, err := factory.CreateTask("run-3", []domain.ExportCard{exportCard("Where is ATP made?")})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.SaveTask(ctx, stuck))
	require.NoError(t, st.UpdateTaskStatus(ctx, stuck.ID(), TaskStatusProcessing, ""))

	waitForStatus(t, st, stuck.ID(), TaskStatusCompleted)
	assert.NotEmpty(t, cardSink.Batches())
}

func TestTaskRunner_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	runner := NewTaskRunner(NewMemoryStore(), nil, fastConfig(), testLogger())
	require.NoError(t, runner.Start())
	runner.Stop()
	runner.Stop()

	err := runner.Submit(context.Background(), newFakeTask(nil))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

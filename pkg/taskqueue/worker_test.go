// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftlabs/driftfs/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	taskType taskqueue.TaskType
	calls    atomic.Int64
	err      error
}

func (h *countingHandler) Type() taskqueue.TaskType { return h.taskType }

func (h *countingHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	h.calls.Add(1)
	return h.err
}

func TestWorkerProcessesTasks(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	handler := &countingHandler{taskType: taskqueue.TaskTypeRepair}
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "test-worker",
		Queue:        q,
		PollInterval: 10 * time.Millisecond,
		Concurrency:  2,
	})
	w.RegisterHandler(handler)

	task := &taskqueue.Task{Type: taskqueue.TaskTypeRepair}
	require.NoError(t, q.Enqueue(ctx, task))

	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		stored, err := q.Get(ctx, task.ID)
		return err == nil && stored.Status == taskqueue.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), handler.calls.Load())
}

func TestWorkerDeadLettersFailedTask(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	handler := &countingHandler{taskType: taskqueue.TaskTypeChunkDelete, err: errors.New("worker unreachable")}
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "test-worker",
		Queue:        q,
		PollInterval: 10 * time.Millisecond,
	})
	w.RegisterHandler(handler)

	task := &taskqueue.Task{Type: taskqueue.TaskTypeChunkDelete, MaxRetries: 1}
	require.NoError(t, q.Enqueue(ctx, task))

	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		stored, err := q.Get(ctx, task.ID)
		return err == nil && stored.Status == taskqueue.StatusDeadLetter
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), handler.calls.Load())
	stored, _ := q.Get(ctx, task.ID)
	assert.Contains(t, stored.LastError, "unreachable")
}

func TestWorkerIgnoresUnhandledTypes(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	handler := &countingHandler{taskType: taskqueue.TaskTypeRepair}
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "test-worker",
		Queue:        q,
		PollInterval: 10 * time.Millisecond,
	})
	w.RegisterHandler(handler)

	other := &taskqueue.Task{Type: taskqueue.TaskTypeRebalance}
	require.NoError(t, q.Enqueue(ctx, other))

	w.Start(ctx)
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	stored, err := q.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, stored.Status, "tasks of unregistered types stay queued")
	assert.Equal(t, int64(0), handler.calls.Load())
}

package valkeyqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmediator/wecom-bridge/domain/queue"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkey"
)

// newTestQueue connects to a real Valkey instance, following the
// skip-if-unavailable idiom workspace/debug_valkey_test.go uses for its
// own real-backend tests.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	client, err := valkey.NewClient(valkey.Config{
		Address:        "localhost:6379",
		KeyPrefix:      "wecom-bridge-test",
		ConnectTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Skip("no valkey instance reachable at localhost:6379")
	}
	t.Cleanup(client.Close)
	return New(client)
}

func Test_JobState_ReportsAbsentForUnknownJob(t *testing.T) {
	q := newTestQueue(t)
	state, err := q.JobState(context.Background(), "job", "missing")
	require.NoError(t, err)
	assert.Equal(t, queue.StateAbsent, state)
}

func Test_Enqueue_ImmediateJobIsProcessedOnceStarted(t *testing.T) {
	q := newTestQueue(t)
	var processed int32
	done := make(chan struct{})
	q.RegisterWorker("job", 1, func(_ context.Context, _ []byte) error {
		atomic.AddInt32(&processed, 1)
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Enqueue(ctx, queue.Job{Name: "job", JobID: "j1"}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job was never processed")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&processed))
}

func Test_Enqueue_ReplacesExistingWaitingOrDelayedJob(t *testing.T) {
	q := newTestQueue(t)
	var lastPayload atomic.Value
	processed := make(chan struct{}, 2)
	q.RegisterWorker("replace-job", 1, func(_ context.Context, payload []byte) error {
		lastPayload.Store(string(payload))
		processed <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))

	require.NoError(t, q.Enqueue(ctx, queue.Job{Name: "replace-job", JobID: "j1", DelayMs: 300, Payload: []byte("first")}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{Name: "replace-job", JobID: "j1", DelayMs: 300, Payload: []byte("second")}))

	select {
	case <-processed:
	case <-time.After(3 * time.Second):
		t.Fatal("replaced job was never processed")
	}
	assert.Equal(t, "second", lastPayload.Load())

	select {
	case <-processed:
		t.Fatal("only the latest enqueue for the same job id should run")
	case <-time.After(200 * time.Millisecond):
	}
}

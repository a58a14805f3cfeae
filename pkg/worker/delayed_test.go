package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenyx/fleet/pkg/types"
)

func TestDelayedTask_FiresOnce(t *testing.T) {
	conn := newFakeConn()
	w := startWorker(t, conn, nil, nil)

	var fires atomic.Int64
	task := w.Schedule(20*time.Millisecond, types.Payload{Text: "offer"}, func(ctx context.Context, payload types.Payload) error {
		fires.Add(1)
		assert.Equal(t, "offer", payload.Text)
		return nil
	})

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task never completed")
	}

	assert.True(t, task.Fired())
	assert.NoError(t, task.Err())
	assert.Equal(t, int64(1), fires.Load())

	// A completed task ignores further cancellation.
	task.Cancel()
	assert.True(t, task.Fired())
	assert.Equal(t, int64(1), fires.Load())
}

func TestDelayedTask_CancelPreventsFire(t *testing.T) {
	conn := newFakeConn()
	w := startWorker(t, conn, nil, nil)

	var fires atomic.Int64
	task := w.Schedule(time.Hour, types.Payload{Text: "offer"}, func(ctx context.Context, payload types.Payload) error {
		fires.Add(1)
		return nil
	})

	task.Cancel()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled task never completed")
	}

	assert.False(t, task.Fired())
	assert.Equal(t, int64(0), fires.Load())
}

func TestDelayedTask_WorkerStopCancels(t *testing.T) {
	conn := newFakeConn()
	w := startWorker(t, conn, nil, nil)

	var fires atomic.Int64
	task := w.Schedule(time.Hour, types.Payload{Text: "offer"}, func(ctx context.Context, payload types.Payload) error {
		fires.Add(1)
		return nil
	})

	w.Stop()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task outlived its worker")
	}

	assert.False(t, task.Fired(), "stopped worker must never send")
	assert.Equal(t, int64(0), fires.Load())
}

func TestDelayedTask_SendErrorReported(t *testing.T) {
	conn := newFakeConn()
	w := startWorker(t, conn, nil, nil)

	sendErr := errors.New("recipient gone")
	task := w.Schedule(10*time.Millisecond, types.Payload{Text: "offer"}, func(ctx context.Context, payload types.Payload) error {
		return sendErr
	})

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task never completed")
	}

	assert.True(t, task.Fired(), "a failed send still counts as fired")
	require.Error(t, task.Err())
	assert.ErrorIs(t, task.Err(), sendErr)
}

func TestDelayedTask_IndependentTasks(t *testing.T) {
	conn := newFakeConn()
	w := startWorker(t, conn, nil, nil)

	var fires atomic.Int64
	send := func(ctx context.Context, payload types.Payload) error {
		fires.Add(1)
		return nil
	}

	kept := w.Schedule(20*time.Millisecond, types.Payload{Text: "a"}, send)
	dropped := w.Schedule(20*time.Millisecond, types.Payload{Text: "b"}, send)
	dropped.Cancel()

	select {
	case <-kept.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("kept task never completed")
	}
	<-dropped.Done()

	assert.True(t, kept.Fired())
	assert.False(t, dropped.Fired(), "cancelling one task must not touch its sibling")
	assert.Equal(t, int64(1), fires.Load())
}

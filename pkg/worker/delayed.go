package worker

import (
	"context"
	"sync"
	"time"

	"github.com/zenyx/fleet/pkg/metrics"
	"github.com/zenyx/fleet/pkg/types"
)

// SendFunc delivers a delayed payload when the task fires
type SendFunc func(ctx context.Context, payload types.Payload) error

// DelayedTask is a cancellable single-shot timer bound to a worker's
// cancellation scope. Firing and cancellation are mutually exclusive:
// exactly one of them happens, never both.
type DelayedTask struct {
	worker  *Worker
	fireAt  time.Time
	payload types.Payload
	send    SendFunc

	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}

	mu      sync.Mutex
	fired   bool
	sendErr error
}

// Schedule registers a delayed send scoped to this worker's lifetime.
// If the worker stops before the delay elapses the task is cancelled
// and send never executes. Send failures are reported via Err, not
// retried; retry policy belongs to the caller.
func (w *Worker) Schedule(delay time.Duration, payload types.Payload, send SendFunc) *DelayedTask {
	ctx, cancel := context.WithCancel(w.ctx)

	t := &DelayedTask{
		worker:  w,
		fireAt:  time.Now().Add(delay),
		payload: payload,
		send:    send,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go t.wait(delay)

	return t
}

func (t *DelayedTask) wait(delay time.Duration) {
	defer close(t.done)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		// The timer and a concurrent cancellation can race; the scope
		// check decides the outcome so a torn-down worker never sends.
		if t.ctx.Err() != nil {
			metrics.DelayedTasksCancelledTotal.Inc()
			return
		}
		t.fire()
	case <-t.ctx.Done():
		metrics.DelayedTasksCancelledTotal.Inc()
	}
}

func (t *DelayedTask) fire() {
	metrics.DelayedTasksFiredTotal.Inc()

	err := t.send(t.ctx, t.payload)

	t.mu.Lock()
	t.fired = true
	t.sendErr = err
	t.mu.Unlock()

	if err != nil {
		t.worker.logger.Warn().Err(err).Time("fire_at", t.fireAt).Msg("delayed send failed")
	}
}

// Cancel cancels the task if it has not fired yet
func (t *DelayedTask) Cancel() {
	t.cancel()
}

// Done is closed once the task has fired or been cancelled
func (t *DelayedTask) Done() <-chan struct{} { return t.done }

// Fired reports whether the payload was delivered to the send function
func (t *DelayedTask) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Err returns the send error, if the task fired and the send failed
func (t *DelayedTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendErr
}

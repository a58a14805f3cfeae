package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/zenyx/fleet/pkg/metrics"
	"github.com/zenyx/fleet/pkg/types"
)

// Audience streams recipient chat IDs to the callback one at a time.
// Implementations must not materialize the full audience; the storage
// layer's subscriber cursor satisfies this shape directly. Returning an
// error from the callback ends the stream.
type Audience func(fn func(recipient string) error) error

// BroadcastJob fans one message out to a lazily-enumerated audience
// through a bounded pool of concurrent sends, throttled to a maximum
// send rate. The job is scoped to its worker: stopping the worker stops
// the job at the next recipient, and partial completion is a valid
// terminal state.
type BroadcastJob struct {
	worker      *Worker
	audience    Audience
	payload     types.Payload
	concurrency int64
	limiter     *rate.Limiter

	sent   atomic.Int64
	failed atomic.Int64
}

// Broadcast builds a job over the given audience. concurrency bounds
// in-flight sends; perSecond bounds overall send rate.
func (w *Worker) Broadcast(audience Audience, payload types.Payload, concurrency int, perSecond float64) *BroadcastJob {
	if concurrency < 1 {
		concurrency = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}

	return &BroadcastJob{
		worker:      w,
		audience:    audience,
		payload:     payload,
		concurrency: int64(concurrency),
		limiter:     rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Run consumes the audience until it is exhausted or the worker stops,
// then waits for in-flight sends and reports the final counters. No
// ordering is guaranteed across recipients.
func (j *BroadcastJob) Run() types.BroadcastResult {
	ctx := j.worker.ctx
	sem := semaphore.NewWeighted(j.concurrency)
	var wg sync.WaitGroup

	err := j.audience(func(recipient string) error {
		// The rate limiter and the semaphore are the job's two
		// suspension points; both abort when the worker scope dies.
		if err := j.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			j.sendOne(recipient)
		}()
		return nil
	})
	if err != nil && ctx.Err() == nil {
		j.worker.logger.Warn().Err(err).Msg("audience enumeration ended early")
	}

	wg.Wait()

	result := types.BroadcastResult{
		BotID:    j.worker.id,
		Sent:     j.sent.Load(),
		Failed:   j.failed.Load(),
		Finished: time.Now(),
	}

	j.worker.logger.Info().
		Int64("sent", result.Sent).
		Int64("failed", result.Failed).
		Msg("broadcast finished")

	return result
}

// sendOne delivers to a single recipient. Per-recipient failures are
// counted and never abort the job.
func (j *BroadcastJob) sendOne(recipient string) {
	ctx := j.worker.ctx
	if ctx.Err() != nil {
		return
	}

	if err := j.worker.Send(ctx, recipient, j.payload); err != nil {
		j.failed.Add(1)
		metrics.BroadcastFailedTotal.Inc()
		j.worker.logger.Debug().Err(err).Str("recipient", recipient).Msg("broadcast send failed")
		return
	}

	j.sent.Add(1)
	metrics.BroadcastSentTotal.Inc()
}

// Progress reports the running counters while the job executes
func (j *BroadcastJob) Progress() (sent, failed int64) {
	return j.sent.Load(), j.failed.Load()
}

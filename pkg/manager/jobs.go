package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zenyx/fleet/pkg/events"
	"github.com/zenyx/fleet/pkg/storage"
	"github.com/zenyx/fleet/pkg/types"
	"github.com/zenyx/fleet/pkg/worker"
)

// ErrFeatureInactive is returned when a follow-up is requested for a
// bot whose offer config is missing or switched off
var ErrFeatureInactive = errors.New("follow-up offer not configured or inactive")

// BroadcastOptions tunes one broadcast run; zero values fall back to
// the manager's configured defaults.
type BroadcastOptions struct {
	Concurrency int
	PerSecond   float64
}

// StartBroadcast fans a message out to every subscriber of a bot. The
// job runs under the worker's cancellation scope in the background; the
// final counters are published as a broadcast.finished event. The
// returned job exposes running counters for progress reporting.
func (m *Manager) StartBroadcast(botID string, payload types.Payload, opts BroadcastOptions) (*worker.BroadcastJob, error) {
	w, err := m.runningWorker(botID)
	if err != nil {
		return nil, err
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = m.broadcastConcurrency
	}
	if opts.PerSecond <= 0 {
		opts.PerSecond = m.broadcastRate
	}

	audience := func(fn func(recipient string) error) error {
		return m.store.ForEachSubscriber(botID, func(sub *types.Subscriber) error {
			return fn(sub.ChatID)
		})
	}

	job := w.Broadcast(audience, payload, opts.Concurrency, opts.PerSecond)

	go func() {
		result := job.Run()
		m.publish(events.EventBroadcastFinished, botID,
			fmt.Sprintf("broadcast finished: %d sent, %d failed", result.Sent, result.Failed))
	}()

	m.logger.Info().Str("bot_id", botID).Int("concurrency", opts.Concurrency).Msg("broadcast started")
	return job, nil
}

// ScheduleFollowUp schedules the configured offer to be sent to one
// recipient after the follow-up delay. The task is a child of the
// worker's scope: if the bot is paused or deleted before the delay
// elapses, nothing is sent. The offer config is re-read at fire time so
// a feature switched off in the meantime stays silent.
func (m *Manager) ScheduleFollowUp(botID, recipient string) (*worker.DelayedTask, error) {
	w, err := m.runningWorker(botID)
	if err != nil {
		return nil, err
	}

	cfg, err := m.followUpConfig(botID)
	if err != nil {
		return nil, err
	}
	if !cfg.Active {
		return nil, ErrFeatureInactive
	}

	send := func(ctx context.Context, payload types.Payload) error {
		// Re-check at fire time; the tenant may have switched the
		// feature off while the timer ran.
		current, err := m.followUpConfig(botID)
		if err != nil || !current.Active {
			return nil
		}

		err = w.Send(ctx, recipient, types.Payload{
			Text:       current.Text,
			ButtonText: current.ButtonText,
			ButtonURL:  current.Link,
		})
		if err != nil {
			return err
		}

		m.publish(events.EventFollowUpSent, botID, "follow-up offer sent")
		return nil
	}

	task := w.Schedule(m.followUpDelay, types.Payload{}, send)
	m.logger.Info().Str("bot_id", botID).Str("recipient", recipient).Dur("delay", m.followUpDelay).Msg("follow-up scheduled")
	return task, nil
}

// followUpConfig loads and decodes the "upsell" feature config
func (m *Manager) followUpConfig(botID string) (*types.FollowUpConfig, error) {
	cfg, err := m.store.GetFeatureConfig(botID, "upsell")
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrFeatureInactive
		}
		return nil, err
	}

	data, err := json.Marshal(cfg.Payload)
	if err != nil {
		return nil, fmt.Errorf("malformed follow-up config: %w", err)
	}

	var parsed types.FollowUpConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("malformed follow-up config: %w", err)
	}
	return &parsed, nil
}

// runningWorker resolves a live worker handle for job operations
func (m *Manager) runningWorker(botID string) (*worker.Worker, error) {
	if m.registry == nil {
		return nil, ErrWorkerNotRunning
	}
	w, ok := m.registry.WorkerFor(botID)
	if !ok {
		return nil, ErrWorkerNotRunning
	}
	return w, nil
}

// SubscriberCount reports how many subscribers a bot can broadcast to
func (m *Manager) SubscriberCount(botID string) (int, error) {
	return m.store.CountSubscribers(botID)
}

// FollowUpDelay reports the configured follow-up delay
func (m *Manager) FollowUpDelay() time.Duration {
	return m.followUpDelay
}

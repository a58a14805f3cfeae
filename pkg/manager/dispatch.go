package manager

import (
	"context"
	"fmt"

	"github.com/zenyx/fleet/pkg/types"
	"github.com/zenyx/fleet/pkg/worker"
)

// Dispatch is the per-tenant message callback handed to every worker.
// It records the sender as a subscriber so broadcasts can reach them;
// the conversational menu logic layers on top of this hook.
func (m *Manager) Dispatch(ctx context.Context, msg types.InboundMessage, w *worker.Worker) error {
	if msg.ChatID == "" {
		return nil
	}

	err := m.store.UpsertSubscriber(&types.Subscriber{
		BotID:    w.ID(),
		ChatID:   msg.ChatID,
		Username: msg.Username,
	})
	if err != nil {
		return fmt.Errorf("failed to record subscriber: %w", err)
	}

	m.logger.Debug().
		Str("bot_id", w.ID()).
		Str("chat_id", msg.ChatID).
		Int64("update_id", msg.UpdateID).
		Msg("message dispatched")

	return nil
}

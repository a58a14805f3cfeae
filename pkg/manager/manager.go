package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zenyx/fleet/pkg/events"
	"github.com/zenyx/fleet/pkg/gateway"
	"github.com/zenyx/fleet/pkg/log"
	"github.com/zenyx/fleet/pkg/storage"
	"github.com/zenyx/fleet/pkg/types"
	"github.com/zenyx/fleet/pkg/worker"
)

var (
	// ErrBotDeleted is returned for operations on a deleted bot
	ErrBotDeleted = errors.New("bot is deleted")
	// ErrWorkerNotRunning is returned when an operation needs a live worker
	ErrWorkerNotRunning = errors.New("no worker running for bot")
)

// WorkerRegistry is the supervisor's read-only handle surface, used to
// reach the live worker for background-job operations. Implemented by
// *supervisor.Supervisor.
type WorkerRegistry interface {
	WorkerFor(botID string) (*worker.Worker, bool)
}

// Config holds manager configuration
type Config struct {
	Store   storage.Store
	Gateway gateway.Client
	Broker  *events.Broker

	BroadcastConcurrency int
	BroadcastRate        float64
	FollowUpDelay        time.Duration
}

// Manager is the tenant-facing management surface: bot CRUD, feature
// configuration, and entry points for broadcasts and follow-up offers.
// Desired-state changes go through the store; the supervisor picks them
// up via its reconciliation loop, helped along by published events.
type Manager struct {
	store  storage.Store
	gw     gateway.Client
	broker *events.Broker

	registry WorkerRegistry

	broadcastConcurrency int
	broadcastRate        float64
	followUpDelay        time.Duration

	logger zerolog.Logger
}

// NewManager creates the management surface
func NewManager(cfg Config) *Manager {
	if cfg.BroadcastConcurrency <= 0 {
		cfg.BroadcastConcurrency = 8
	}
	if cfg.BroadcastRate <= 0 {
		cfg.BroadcastRate = 25
	}
	if cfg.FollowUpDelay <= 0 {
		cfg.FollowUpDelay = 3 * time.Minute
	}

	return &Manager{
		store:                cfg.Store,
		gw:                   cfg.Gateway,
		broker:               cfg.Broker,
		broadcastConcurrency: cfg.BroadcastConcurrency,
		broadcastRate:        cfg.BroadcastRate,
		followUpDelay:        cfg.FollowUpDelay,
		logger:               log.WithComponent("manager"),
	}
}

// AttachRegistry wires the supervisor's worker handles in after both
// components exist. Operations needing a live worker fail with
// ErrWorkerNotRunning until this is called.
func (m *Manager) AttachRegistry(r WorkerRegistry) {
	m.registry = r
}

// CreateBot validates the credential against the gateway and stores a
// new active bot record. The validation connection is closed
// immediately; the supervisor opens the long-lived one.
func (m *Manager) CreateBot(ctx context.Context, ownerID, token string) (*types.Bot, error) {
	conn, err := m.gw.Open(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("credential validation failed: %w", err)
	}
	identity := conn.Identity()
	_ = conn.Close()

	bot := &types.Bot{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Token:       token,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Status:      types.BotStatusActive,
	}

	if err := m.store.CreateBot(bot); err != nil {
		return nil, fmt.Errorf("failed to store bot: %w", err)
	}

	m.publish(events.EventBotCreated, bot.ID, "bot created")
	m.logger.Info().Str("bot_id", bot.ID).Str("owner_id", ownerID).Str("username", identity.Username).Msg("bot created")

	return bot, nil
}

// GetBot returns one bot record
func (m *Manager) GetBot(id string) (*types.Bot, error) {
	return m.store.GetBot(id)
}

// ListBots returns all bots, or an owner's bots if ownerID is non-empty
func (m *Manager) ListBots(ownerID string) ([]*types.Bot, error) {
	if ownerID == "" {
		return m.store.ListBots()
	}
	return m.store.ListBotsByOwner(ownerID)
}

// PauseBot marks a bot inactive; the supervisor stops its worker
func (m *Manager) PauseBot(id string) error {
	return m.setStatus(id, types.BotStatusInactive)
}

// ResumeBot marks a bot active; the supervisor starts its worker
func (m *Manager) ResumeBot(id string) error {
	return m.setStatus(id, types.BotStatusActive)
}

func (m *Manager) setStatus(id string, status types.BotStatus) error {
	bot, err := m.store.GetBot(id)
	if err != nil {
		return err
	}
	if bot.Status == types.BotStatusDeleted {
		return ErrBotDeleted
	}

	if err := m.store.UpdateBotStatus(id, status); err != nil {
		return err
	}

	m.publish(events.EventBotUpdated, id, fmt.Sprintf("status set to %s", status))
	return nil
}

// RekeyBot replaces a bot's credential after validating the new one.
// The supervisor observes the token change and recycles the worker,
// closing the old connection before opening the new one.
func (m *Manager) RekeyBot(ctx context.Context, id, newToken string) (*types.Bot, error) {
	bot, err := m.store.GetBot(id)
	if err != nil {
		return nil, err
	}
	if bot.Status == types.BotStatusDeleted {
		return nil, ErrBotDeleted
	}

	conn, err := m.gw.Open(ctx, newToken)
	if err != nil {
		return nil, fmt.Errorf("new credential validation failed: %w", err)
	}
	identity := conn.Identity()
	_ = conn.Close()

	bot.Token = newToken
	bot.Username = identity.Username
	bot.DisplayName = identity.DisplayName
	bot.Status = types.BotStatusActive

	if err := m.store.UpdateBot(bot); err != nil {
		return nil, fmt.Errorf("failed to update bot: %w", err)
	}

	m.publish(events.EventBotUpdated, id, "credential replaced")
	m.logger.Info().Str("bot_id", id).Msg("bot re-keyed")

	return bot, nil
}

// DeleteBot marks a bot deleted. Deleted is terminal: the supervisor
// stops the worker and never restarts it for this ID.
func (m *Manager) DeleteBot(id string) error {
	if err := m.store.UpdateBotStatus(id, types.BotStatusDeleted); err != nil {
		return err
	}
	if err := m.store.DeleteFeatureConfigs(id); err != nil {
		m.logger.Warn().Err(err).Str("bot_id", id).Msg("failed to delete feature configs")
	}

	m.publish(events.EventBotDeleted, id, "bot deleted")
	m.logger.Info().Str("bot_id", id).Msg("bot deleted")
	return nil
}

// SaveFeatureConfig stores an opaque per-feature configuration blob
func (m *Manager) SaveFeatureConfig(botID, feature string, payload map[string]any) error {
	if _, err := m.store.GetBot(botID); err != nil {
		return err
	}
	return m.store.SaveFeatureConfig(&types.FeatureConfig{
		BotID:   botID,
		Feature: feature,
		Payload: payload,
	})
}

// GetFeatureConfig returns a bot's configuration for one feature
func (m *Manager) GetFeatureConfig(botID, feature string) (*types.FeatureConfig, error) {
	return m.store.GetFeatureConfig(botID, feature)
}

// publish emits an event when a broker is attached
func (m *Manager) publish(eventType events.EventType, botID, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:    eventType,
		BotID:   botID,
		Message: message,
	})
}

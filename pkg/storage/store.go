package storage

import (
	"errors"
	"time"

	"github.com/zenyx/fleet/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ErrStopIteration stops a ForEachSubscriber scan early without error
var ErrStopIteration = errors.New("stop iteration")

// Store defines the interface for fleet state storage.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Bots
	CreateBot(bot *types.Bot) error
	GetBot(id string) (*types.Bot, error)
	ListBots() ([]*types.Bot, error)
	ListBotsByOwner(ownerID string) ([]*types.Bot, error)
	// ListBotsChangedSince returns bots whose UpdatedAt is strictly after
	// ts. The reconciliation loop uses this as its delta feed.
	ListBotsChangedSince(ts time.Time) ([]*types.Bot, error)
	UpdateBot(bot *types.Bot) error
	UpdateBotStatus(id string, status types.BotStatus) error
	UpdateBotIdentity(id, displayName, username string) error

	// Feature configs
	SaveFeatureConfig(cfg *types.FeatureConfig) error
	GetFeatureConfig(botID, feature string) (*types.FeatureConfig, error)
	DeleteFeatureConfigs(botID string) error

	// Subscribers
	UpsertSubscriber(sub *types.Subscriber) error
	CountSubscribers(botID string) (int, error)
	// ForEachSubscriber streams a bot's subscribers to fn in key order
	// without materializing the audience. Returning ErrStopIteration from
	// fn ends the scan early; any other error aborts it.
	ForEachSubscriber(botID string, fn func(*types.Subscriber) error) error

	// Utility
	Close() error
}

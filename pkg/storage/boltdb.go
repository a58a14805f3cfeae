package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zenyx/fleet/pkg/types"
)

var (
	// Bucket names
	bucketBots        = []byte("bots")
	bucketConfigs     = []byte("configs")
	bucketSubscribers = []byte("subscribers")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleet.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketBots,
			bucketConfigs,
			bucketSubscribers,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Bot operations

func (s *BoltStore) CreateBot(bot *types.Bot) error {
	now := time.Now()
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now
	}
	bot.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBots)
		data, err := json.Marshal(bot)
		if err != nil {
			return err
		}
		return b.Put([]byte(bot.ID), data)
	})
}

func (s *BoltStore) GetBot(id string) (*types.Bot, error) {
	var bot types.Bot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBots)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("bot %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &bot)
	})
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (s *BoltStore) ListBots() ([]*types.Bot, error) {
	var bots []*types.Bot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBots)
		return b.ForEach(func(k, v []byte) error {
			var bot types.Bot
			if err := json.Unmarshal(v, &bot); err != nil {
				return err
			}
			bots = append(bots, &bot)
			return nil
		})
	})
	return bots, err
}

func (s *BoltStore) ListBotsByOwner(ownerID string) ([]*types.Bot, error) {
	bots, err := s.ListBots()
	if err != nil {
		return nil, err
	}

	var owned []*types.Bot
	for _, bot := range bots {
		if bot.OwnerID == ownerID {
			owned = append(owned, bot)
		}
	}
	return owned, nil
}

func (s *BoltStore) ListBotsChangedSince(ts time.Time) ([]*types.Bot, error) {
	bots, err := s.ListBots()
	if err != nil {
		return nil, err
	}

	var changed []*types.Bot
	for _, bot := range bots {
		if bot.UpdatedAt.After(ts) {
			changed = append(changed, bot)
		}
	}
	return changed, nil
}

func (s *BoltStore) UpdateBot(bot *types.Bot) error {
	bot.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBots)
		if b.Get([]byte(bot.ID)) == nil {
			return fmt.Errorf("bot %s: %w", bot.ID, ErrNotFound)
		}
		data, err := json.Marshal(bot)
		if err != nil {
			return err
		}
		return b.Put([]byte(bot.ID), data)
	})
}

func (s *BoltStore) UpdateBotStatus(id string, status types.BotStatus) error {
	return s.mutateBot(id, func(bot *types.Bot) {
		bot.Status = status
	})
}

func (s *BoltStore) UpdateBotIdentity(id, displayName, username string) error {
	return s.mutateBot(id, func(bot *types.Bot) {
		bot.DisplayName = displayName
		bot.Username = username
	})
}

// mutateBot applies fn to a bot record inside one transaction and bumps
// UpdatedAt so the change shows up in the reconciliation delta feed.
func (s *BoltStore) mutateBot(id string, fn func(*types.Bot)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBots)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("bot %s: %w", id, ErrNotFound)
		}

		var bot types.Bot
		if err := json.Unmarshal(data, &bot); err != nil {
			return err
		}

		fn(&bot)
		bot.UpdatedAt = time.Now()

		updated, err := json.Marshal(&bot)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// Feature config operations

func configKey(botID, feature string) []byte {
	return []byte(botID + "/" + feature)
}

func (s *BoltStore) SaveFeatureConfig(cfg *types.FeatureConfig) error {
	cfg.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfigs)
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put(configKey(cfg.BotID, cfg.Feature), data)
	})
}

func (s *BoltStore) GetFeatureConfig(botID, feature string) (*types.FeatureConfig, error) {
	var cfg types.FeatureConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfigs)
		data := b.Get(configKey(botID, feature))
		if data == nil {
			return fmt.Errorf("config %s/%s: %w", botID, feature, ErrNotFound)
		}
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStore) DeleteFeatureConfigs(botID string) error {
	prefix := []byte(botID + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketConfigs).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Subscriber operations

func subscriberKey(botID, chatID string) []byte {
	return []byte(botID + "/" + chatID)
}

func (s *BoltStore) UpsertSubscriber(sub *types.Subscriber) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscribers)
		key := subscriberKey(sub.BotID, sub.ChatID)

		now := time.Now()
		if existing := b.Get(key); existing != nil {
			var prev types.Subscriber
			if err := json.Unmarshal(existing, &prev); err == nil {
				sub.FirstSeen = prev.FirstSeen
			}
		}
		if sub.FirstSeen.IsZero() {
			sub.FirstSeen = now
		}
		sub.LastSeen = now

		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) CountSubscribers(botID string) (int, error) {
	count := 0
	prefix := []byte(botID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSubscribers).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// subscriberScanBatch bounds how long one read transaction stays open
// during an audience scan. Broadcast callbacks block on rate limiting,
// so each page is collected in its own transaction and the callbacks
// run with no transaction held.
const subscriberScanBatch = 256

func (s *BoltStore) ForEachSubscriber(botID string, fn func(*types.Subscriber) error) error {
	prefix := []byte(botID + "/")
	var after []byte

	for {
		page := make([]*types.Subscriber, 0, subscriberScanBatch)
		err := s.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(bucketSubscribers).Cursor()

			var k, v []byte
			if after == nil {
				k, v = c.Seek(prefix)
			} else {
				k, v = c.Seek(after)
				if bytes.Equal(k, after) {
					k, v = c.Next()
				}
			}
			for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				var sub types.Subscriber
				if err := json.Unmarshal(v, &sub); err != nil {
					return err
				}
				page = append(page, &sub)
				after = append(after[:0], k...)
				if len(page) == subscriberScanBatch {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, sub := range page {
			if err := fn(sub); err != nil {
				if errors.Is(err, ErrStopIteration) {
					return nil
				}
				return err
			}
		}

		if len(page) < subscriberScanBatch {
			return nil
		}
	}
}

package types

import (
	"time"
)

// Bot represents one tenant-owned connection to the messaging gateway.
// It is the durable desired-state record the supervisor reconciles against.
type Bot struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Token       string    `json:"token"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username"`
	Status      BotStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BotStatus represents the desired state of a bot connection
type BotStatus string

const (
	BotStatusActive   BotStatus = "active"
	BotStatusInactive BotStatus = "inactive"
	// BotStatusDeleted is terminal. Once a bot record reaches this status
	// the supervisor never runs a worker for its ID again, even if the
	// status is later rewritten.
	BotStatusDeleted BotStatus = "deleted"
)

// WorkerState represents the lifecycle state of a running worker
type WorkerState string

const (
	WorkerStateStarting WorkerState = "starting"
	WorkerStateRunning  WorkerState = "running"
	WorkerStateStopping WorkerState = "stopping"
	WorkerStateStopped  WorkerState = "stopped"
	WorkerStateFailed   WorkerState = "failed"
)

// InboundMessage is one message delivered by the gateway to a bot
type InboundMessage struct {
	UpdateID  int64     `json:"update_id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Payload is an outbound message body plus optional inline button
type Payload struct {
	Text       string `json:"text"`
	ButtonText string `json:"button_text,omitempty"`
	ButtonURL  string `json:"button_url,omitempty"`
}

// Subscriber is one end user known to a bot, recorded from inbound
// traffic and enumerated as the audience for broadcasts.
type Subscriber struct {
	BotID     string    `json:"bot_id"`
	ChatID    string    `json:"chat_id"`
	Username  string    `json:"username"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// FeatureConfig is an opaque per-feature configuration blob attached to a
// bot (upsell, remarketing, support, payment credentials). The supervisor
// never interprets the payload; the menu layer owns its schema.
type FeatureConfig struct {
	BotID     string         `json:"bot_id"`
	Feature   string         `json:"feature"`
	Payload   map[string]any `json:"payload"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FollowUpConfig is the payload schema for the "upsell" feature config,
// read by the follow-up scheduling path.
type FollowUpConfig struct {
	Text       string  `json:"text"`
	ButtonText string  `json:"button_text"`
	Price      float64 `json:"price"`
	Link       string  `json:"link"`
	Active     bool    `json:"active"`
}

// BroadcastResult reports the terminal counters of one broadcast job.
// Partial completion (worker stopped mid-job) is a valid terminal state.
type BroadcastResult struct {
	BotID    string    `json:"bot_id"`
	Sent     int64     `json:"sent"`
	Failed   int64     `json:"failed"`
	Finished time.Time `json:"finished"`
}

// WorkerStatus is a read-only snapshot of one worker, reported by the
// supervisor's status surface.
type WorkerStatus struct {
	BotID        string      `json:"bot_id"`
	State        WorkerState `json:"state"`
	RestartCount int         `json:"restart_count"`
	LastError    string      `json:"last_error,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds daemon configuration, populated from the environment.
// CLI flags override individual fields after Load.
type Config struct {
	DataDir           string        `env:"FLEET_DATA_DIR" envDefault:"/var/lib/fleet"`
	APIAddr           string        `env:"FLEET_API_ADDR" envDefault:":8080"`
	GatewayBaseURL    string        `env:"FLEET_GATEWAY_URL" envDefault:"https://api.telegram.org"`
	ReconcileInterval time.Duration `env:"FLEET_RECONCILE_INTERVAL" envDefault:"5s"`
	ShutdownGrace     time.Duration `env:"FLEET_SHUTDOWN_GRACE" envDefault:"15s"`
	LogLevel          string        `env:"FLEET_LOG_LEVEL" envDefault:"info"`
	LogJSON           bool          `env:"FLEET_LOG_JSON" envDefault:"false"`

	// Broadcast defaults, overridable per request.
	BroadcastConcurrency int     `env:"FLEET_BROADCAST_CONCURRENCY" envDefault:"8"`
	BroadcastRate        float64 `env:"FLEET_BROADCAST_RATE" envDefault:"25"`

	// Delay before a follow-up offer is sent after a qualifying event.
	FollowUpDelay time.Duration `env:"FLEET_FOLLOWUP_DELAY" envDefault:"3m"`
}

// Load parses configuration from the environment
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &c, nil
}

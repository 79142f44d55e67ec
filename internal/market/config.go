package market

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"

	"marketengine/internal/model"
)

// Config holds every tunable of a Store. Zero fields are filled from the
// default tags by New.
type Config struct {
	MaxCandles     int                               `mapstructure:"max_candles" default:"1000" validate:"gte=1"`
	MaxAlerts      int                               `mapstructure:"max_alerts" default:"50" validate:"gte=1"`
	AlertRetention time.Duration                     `mapstructure:"alert_retention" default:"5m" validate:"gte=0"`
	AlertCooldown  time.Duration                     `mapstructure:"alert_cooldown" default:"10s" validate:"gte=0"`
	CooldownByType map[model.AlertType]time.Duration `mapstructure:"cooldown_by_type"`
	MaxSignals     int                               `mapstructure:"max_signals" default:"50" validate:"gte=1"`

	ReconnectIntervals   []time.Duration `mapstructure:"reconnect_intervals"`
	MaxReconnectAttempts int             `mapstructure:"max_reconnect_attempts" default:"5" validate:"gte=0"`
	HeartbeatInterval    time.Duration   `mapstructure:"heartbeat_interval" default:"30s" validate:"gte=0"`
	AnalysisInterval     time.Duration   `mapstructure:"analysis_interval" default:"5s" validate:"gt=0"`
}

// DefaultReconnectIntervals is the geometric retry schedule.
var DefaultReconnectIntervals = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second,
	8 * time.Second, 16 * time.Second, 30 * time.Second,
}

// SetDefaults implements defaults.Setter for fields tags cannot express.
func (c *Config) SetDefaults() {
	if c.ReconnectIntervals == nil {
		c.ReconnectIntervals = append([]time.Duration(nil), DefaultReconnectIntervals...)
	}
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// Only reachable with a malformed default tag.
		panic(fmt.Sprintf("market: default config: %v", err))
	}
	return c
}

func (c *Config) normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("market: apply defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("market: invalid config: %w", err)
	}
	for t := range c.CooldownByType {
		if !t.Valid() {
			return fmt.Errorf("market: invalid config: unknown alert type %q in cooldown_by_type", t)
		}
	}
	return nil
}

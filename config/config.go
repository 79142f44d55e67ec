// Package config loads the engine configuration from an optional YAML file
// and MARKETENGINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"marketengine/internal/feed"
	"marketengine/internal/logger"
	"marketengine/internal/market"
	"marketengine/internal/notification"
	storeredis "marketengine/internal/store/redis"
)

// EnvPrefix prefixes every environment override, e.g.
// MARKETENGINE_HTTP_ADDR or MARKETENGINE_FEED_MODE.
const EnvPrefix = "MARKETENGINE"

// Feed modes.
const (
	FeedSim = "sim"
	FeedWS  = "ws"
)

// Config holds all application configuration.
type Config struct {
	Log          logger.Config      `mapstructure:"log"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Market       market.Config      `mapstructure:"market"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Notification NotificationConfig `mapstructure:"notification"`
	TickServer   TickServerConfig   `mapstructure:"tickserver"`
}

// HTTPConfig configures the query API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StreamBuffer    int           `mapstructure:"stream_buffer" validate:"gte=1"`
}

// FeedConfig selects and configures the candle source.
type FeedConfig struct {
	Mode        string            `mapstructure:"mode" validate:"oneof=sim ws"`
	URL         string            `mapstructure:"url" validate:"required_if=Mode ws"`
	Interval    time.Duration     `mapstructure:"interval" validate:"gt=0"`
	Seed        int64             `mapstructure:"seed"`
	Instruments []feed.Instrument `mapstructure:"instruments" validate:"dive"`
}

// RedisConfig enables the Redis event bridge.
type RedisConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	WarmStart        bool          `mapstructure:"warm_start"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`

	storeredis.Config `mapstructure:",squash"`
}

// NotificationConfig enables alert notifiers.
type NotificationConfig struct {
	Log        bool                          `mapstructure:"log"`
	WebhookURL string                        `mapstructure:"webhook_url" validate:"omitempty,url"`
	Telegram   notification.TelegramConfig   `mapstructure:"telegram"`
	Dispatcher notification.DispatcherConfig `mapstructure:"dispatcher"`
}

// TickServerConfig configures cmd/tickserver.
type TickServerConfig struct {
	Addr     string        `mapstructure:"addr" validate:"required"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Seed     int64         `mapstructure:"seed"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.stream_buffer", 256)

	v.SetDefault("feed.mode", FeedSim)
	v.SetDefault("feed.url", "ws://localhost:9001/ws")
	v.SetDefault("feed.interval", time.Second)
	v.SetDefault("feed.seed", 0)

	d := market.DefaultConfig()
	v.SetDefault("market.max_candles", d.MaxCandles)
	v.SetDefault("market.max_alerts", d.MaxAlerts)
	v.SetDefault("market.alert_retention", d.AlertRetention)
	v.SetDefault("market.alert_cooldown", d.AlertCooldown)
	v.SetDefault("market.max_signals", d.MaxSignals)
	v.SetDefault("market.reconnect_intervals", d.ReconnectIntervals)
	v.SetDefault("market.max_reconnect_attempts", d.MaxReconnectAttempts)
	v.SetDefault("market.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("market.analysis_interval", d.AnalysisInterval)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.warm_start", true)
	v.SetDefault("redis.liveness_interval", 15*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "marketengine")
	v.SetDefault("redis.stream_max_len", d.MaxCandles)
	v.SetDefault("redis.max_buffered", 10000)
	v.SetDefault("redis.breaker_failures", 5)
	v.SetDefault("redis.breaker_reset", 10*time.Second)

	v.SetDefault("notification.log", true)
	v.SetDefault("notification.webhook_url", "")
	v.SetDefault("notification.telegram.bot_token", "")
	v.SetDefault("notification.telegram.chat_id", "")
	v.SetDefault("notification.telegram.max_retries", 3)
	v.SetDefault("notification.telegram.retry_delay", time.Second)
	v.SetDefault("notification.dispatcher.queue_size", 256)
	v.SetDefault("notification.dispatcher.send_timeout", 15*time.Second)
	v.SetDefault("notification.dispatcher.min_severity", "medium")

	v.SetDefault("tickserver.addr", ":9001")
	v.SetDefault("tickserver.interval", time.Second)
	v.SetDefault("tickserver.seed", 0)
}

// Load reads path (optional; empty or missing file means defaults), then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(cfg.Feed.Instruments) == 0 {
		cfg.Feed.Instruments = append([]feed.Instrument(nil), feed.DefaultInstruments...)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App           AppSettings          `mapstructure:"app"`
	Redis         RedisSettings        `mapstructure:"redis"`
	Session       SessionSettings      `mapstructure:"session"`
	Notifications NotificationSettings `mapstructure:"notifications"`
	Kafka         KafkaSettings        `mapstructure:"kafka"`
	RateLimit     RateLimitSettings    `mapstructure:"rate_limit"`
	CORS          CORSSettings         `mapstructure:"cors"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RedisSettings configures the Redis connection and key prefixes.
type RedisSettings struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DB            int    `mapstructure:"db"`
	Password      string `mapstructure:"password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	SessionPrefix string `mapstructure:"session_prefix"`
	ServerPrefix  string `mapstructure:"server_prefix"`
}

// SessionSettings governs the session lifecycle state machine. The TTL is the
// store-side backstop and must be strictly greater than the inactivity
// timeout, so logical eviction always happens first when sweeps are running.
type SessionSettings struct {
	TTL               time.Duration `mapstructure:"ttl"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
}

// NotificationSettings configures the outbound webhook. An empty URL is a
// valid silent no-op state.
type NotificationSettings struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Timezone   string        `mapstructure:"timezone"`
}

// KafkaSettings configures the lifecycle event producer. No brokers means
// events are logged instead of published.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// RateLimitSettings configures sliding-window limiting of the presence POST
// endpoint. A zero limit disables it.
type RateLimitSettings struct {
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	PresenceMaxAttempts int           `mapstructure:"presence_max_attempts"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PRESENCE")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.session_prefix",
		"redis.server_prefix",
		"session.ttl",
		"session.inactivity_timeout",
		"notifications.webhook_url",
		"notifications.timeout",
		"notifications.timezone",
		"kafka.brokers",
		"kafka.topic_prefix",
		"rate_limit.window_duration",
		"rate_limit.presence_max_attempts",
		"cors.allowed_origins",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *AppConfig) error {
	if cfg.Session.InactivityTimeout <= 0 {
		return fmt.Errorf("session.inactivity_timeout must be positive")
	}
	if cfg.Session.TTL <= cfg.Session.InactivityTimeout {
		return fmt.Errorf("session.ttl (%s) must be strictly greater than session.inactivity_timeout (%s)",
			cfg.Session.TTL, cfg.Session.InactivityTimeout)
	}
	if cfg.Notifications.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Notifications.Timezone); err != nil {
			return fmt.Errorf("invalid notifications.timezone: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "who-is-using-the-server")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.session_prefix", "presence:session")
	v.SetDefault("redis.server_prefix", "presence:server")

	v.SetDefault("session.ttl", "5m")
	v.SetDefault("session.inactivity_timeout", "90s")

	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.timeout", "5s")
	v.SetDefault("notifications.timezone", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "presence")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.presence_max_attempts", 0)

	v.SetDefault("cors.allowed_origins", []string{"*"})
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "PRESENCE_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

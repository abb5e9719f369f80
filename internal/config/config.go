package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects how updates are received
type Mode string

const (
	ModePolling Mode = "polling"
	ModeWebhook Mode = "webhook"
)

// Stats backends
const (
	StatsMemory     = "memory"
	StatsClickHouse = "clickhouse"
)

// Error is a missing or invalid configuration value
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Msg)
}

// Config holds the application configuration
type Config struct {
	TelegramToken string
	Port          int

	// Bot mode configuration
	Mode          Mode
	WebhookURL    string // public base URL (required in webhook mode)
	WebhookSecret string // path secret; derived from the token when empty

	// Poller
	DropPendingUpdates bool
	PollTimeout        time.Duration
	PollMaxRetries     int // 0 retries forever

	// Dispatcher
	Workers         int
	QueueSize       int
	HandlerTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Dispatch statistics
	StatsBackend string

	// ClickHouse configuration
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool
}

// NewViper returns a viper instance reading the environment
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("BOT_MODE", string(ModePolling))
	v.SetDefault("DROP_PENDING_UPDATES", "true")
	v.SetDefault("POLL_TIMEOUT", "30s")
	v.SetDefault("POLL_MAX_RETRIES", "0")
	v.SetDefault("WORKERS", "4")
	v.SetDefault("QUEUE_SIZE", "64")
	v.SetDefault("HANDLER_TIMEOUT", "30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("STATS_BACKEND", StatsMemory)
	v.SetDefault("CLICKHOUSE_PORT", "9000")
	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.SetDefault("CLICKHOUSE_USER", "default")
	return v
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	return Load(NewViper())
}

// Load reads and validates configuration from v
func Load(v *viper.Viper) (*Config, error) {
	config := &Config{}
	var err error

	// Telegram Bot Token (required)
	config.TelegramToken = strings.TrimSpace(v.GetString("TELEGRAM_BOT_TOKEN"))
	if config.TelegramToken == "" {
		return nil, &Error{Key: "TELEGRAM_BOT_TOKEN", Msg: "is required"}
	}

	if config.Port, err = positiveInt(v, "PORT"); err != nil {
		return nil, err
	}
	if config.Port > 65535 {
		return nil, &Error{Key: "PORT", Msg: "must be at most 65535"}
	}

	// Bot mode configuration
	config.Mode = Mode(strings.ToLower(strings.TrimSpace(v.GetString("BOT_MODE"))))
	switch config.Mode {
	case ModePolling:
	case ModeWebhook:
		config.WebhookURL = strings.TrimRight(strings.TrimSpace(v.GetString("WEBHOOK_URL")), "/")
		if config.WebhookURL == "" {
			return nil, &Error{Key: "WEBHOOK_URL", Msg: "is required when BOT_MODE is webhook"}
		}
		u, perr := url.Parse(config.WebhookURL)
		if perr != nil || u.Scheme != "https" || u.Host == "" {
			return nil, &Error{Key: "WEBHOOK_URL", Msg: "must be an absolute https URL"}
		}
		config.WebhookSecret = strings.TrimSpace(v.GetString("WEBHOOK_SECRET"))
	default:
		return nil, &Error{Key: "BOT_MODE", Msg: fmt.Sprintf("must be %q or %q", ModePolling, ModeWebhook)}
	}

	if config.DropPendingUpdates, err = boolValue(v, "DROP_PENDING_UPDATES"); err != nil {
		return nil, err
	}
	if config.PollTimeout, err = duration(v, "POLL_TIMEOUT"); err != nil {
		return nil, err
	}
	if config.PollMaxRetries, err = nonNegativeInt(v, "POLL_MAX_RETRIES"); err != nil {
		return nil, err
	}
	if config.Workers, err = positiveInt(v, "WORKERS"); err != nil {
		return nil, err
	}
	if config.QueueSize, err = positiveInt(v, "QUEUE_SIZE"); err != nil {
		return nil, err
	}
	if config.HandlerTimeout, err = duration(v, "HANDLER_TIMEOUT"); err != nil {
		return nil, err
	}
	if config.ShutdownTimeout, err = duration(v, "SHUTDOWN_TIMEOUT"); err != nil {
		return nil, err
	}

	config.LogLevel = strings.ToLower(v.GetString("LOG_LEVEL"))
	config.LogFormat = strings.ToLower(v.GetString("LOG_FORMAT"))
	if config.LogFormat != "json" && config.LogFormat != "console" {
		return nil, &Error{Key: "LOG_FORMAT", Msg: `must be "json" or "console"`}
	}

	config.StatsBackend = strings.ToLower(v.GetString("STATS_BACKEND"))
	switch config.StatsBackend {
	case StatsMemory:
	case StatsClickHouse:
		if err := loadClickHouse(v, config); err != nil {
			return nil, err
		}
	default:
		return nil, &Error{Key: "STATS_BACKEND", Msg: fmt.Sprintf("must be %q or %q", StatsMemory, StatsClickHouse)}
	}

	return config, nil
}

// loadClickHouse reads the ClickHouse settings required by the clickhouse backend
func loadClickHouse(v *viper.Viper, config *Config) error {
	var err error

	config.ClickHouseHost = v.GetString("CLICKHOUSE_HOST")
	if config.ClickHouseHost == "" {
		return &Error{Key: "CLICKHOUSE_HOST", Msg: "is required when STATS_BACKEND is clickhouse"}
	}

	if config.ClickHousePort, err = positiveInt(v, "CLICKHOUSE_PORT"); err != nil {
		return err
	}

	config.ClickHouseDatabase = v.GetString("CLICKHOUSE_DATABASE")
	config.ClickHouseUser = v.GetString("CLICKHOUSE_USER")
	// Password is optional, can be empty
	config.ClickHousePassword = v.GetString("CLICKHOUSE_PASSWORD")

	if config.ClickHouseUseTLS, err = boolValue(v, "CLICKHOUSE_USE_TLS"); err != nil {
		return err
	}
	return nil
}

func positiveInt(v *viper.Viper, key string) (int, error) {
	n, err := nonNegativeInt(v, key)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, &Error{Key: key, Msg: "must be positive"}
	}
	return n, nil
}

func nonNegativeInt(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, &Error{Key: key, Msg: "must be an integer"}
	}
	if n < 0 {
		return 0, &Error{Key: key, Msg: "must not be negative"}
	}
	return n, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, &Error{Key: key, Msg: "must be a duration such as 10s"}
	}
	if d <= 0 {
		return 0, &Error{Key: key, Msg: "must be positive"}
	}
	return d, nil
}

func boolValue(v *viper.Viper, key string) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &Error{Key: key, Msg: "must be true or false"}
	}
	return b, nil
}

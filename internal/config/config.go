package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the pipeline.
// Values are read by viper from a config file or environment variables.
type Config struct {
	// Collection
	SearchQuery     string        `mapstructure:"SEARCH_QUERY" validate:"required"`
	TargetCount     int           `mapstructure:"TARGET_COUNT" validate:"gt=0"`
	MaxRounds       int           `mapstructure:"MAX_ROUNDS" validate:"gt=0"`
	SiteOrigin      string        `mapstructure:"SITE_ORIGIN" validate:"required,url"`
	SearchPath      string        `mapstructure:"SEARCH_PATH" validate:"required,startswith=/"`
	SettleDelay     time.Duration `mapstructure:"SETTLE_DELAY" validate:"gte=0"`
	InitialDelay    time.Duration `mapstructure:"INITIAL_DELAY" validate:"gte=0"`
	NavTimeout      time.Duration `mapstructure:"NAV_TIMEOUT" validate:"gt=0"`
	StagnationLimit int           `mapstructure:"STAGNATION_LIMIT" validate:"gt=0"`

	// Browser
	Headless       bool   `mapstructure:"HEADLESS"`
	BrowserBin     string `mapstructure:"BROWSER_BIN"`
	UserAgent      string `mapstructure:"USER_AGENT"`
	ViewportWidth  int    `mapstructure:"VIEWPORT_WIDTH" validate:"gt=0"`
	ViewportHeight int    `mapstructure:"VIEWPORT_HEIGHT" validate:"gt=0"`

	// Staging and storage
	RawFile     string `mapstructure:"RAW_FILE" validate:"required"`
	CleanedFile string `mapstructure:"CLEANED_FILE" validate:"required"`
	DBPath      string `mapstructure:"DB_PATH" validate:"required"`
	RunLogPath  string `mapstructure:"RUNLOG_PATH" validate:"required"`
	MinYield    int    `mapstructure:"MIN_YIELD" validate:"gte=0"`
	SampleSize  int    `mapstructure:"SAMPLE_SIZE" validate:"gte=0"`

	// Scheduling
	StageRetries int           `mapstructure:"STAGE_RETRIES" validate:"gte=0"`
	RetryDelay   time.Duration `mapstructure:"RETRY_DELAY" validate:"gte=0"`
	RunPeriod    time.Duration `mapstructure:"RUN_PERIOD" validate:"gte=0"`
	RunLockTTL   time.Duration `mapstructure:"RUN_LOCK_TTL" validate:"gt=0"`

	// Observability
	LogLevel       string `mapstructure:"LOG_LEVEL" validate:"oneof=trace debug info warn warning error"`
	LogFile        string `mapstructure:"LOG_FILE"`
	PushgatewayURL string `mapstructure:"PUSHGATEWAY_URL" validate:"omitempty,url"`

	// Notifications are disabled unless both are set.
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `mapstructure:"TELEGRAM_CHAT_ID"`
}

// defaults are registered with viper so that AutomaticEnv can override every key.
var defaults = map[string]any{
	"SEARCH_QUERY":       "data science",
	"TARGET_COUNT":       150,
	"MAX_ROUNDS":         20,
	"SITE_ORIGIN":        "https://www.pinterest.com",
	"SEARCH_PATH":        "/search/pins/",
	"SETTLE_DELAY":       "2s",
	"INITIAL_DELAY":      "3s",
	"NAV_TIMEOUT":        "60s",
	"STAGNATION_LIMIT":   3,
	"HEADLESS":           true,
	"BROWSER_BIN":        "",
	"USER_AGENT":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"VIEWPORT_WIDTH":     1920,
	"VIEWPORT_HEIGHT":    1080,
	"RAW_FILE":           "data/raw_pins.json",
	"CLEANED_FILE":       "data/cleaned_pins.json",
	"DB_PATH":            "data/output.db",
	"RUNLOG_PATH":        "data/runlog",
	"MIN_YIELD":          100,
	"SAMPLE_SIZE":        5,
	"STAGE_RETRIES":      2,
	"RETRY_DELAY":        "5m",
	"RUN_PERIOD":         "24h",
	"RUN_LOCK_TTL":       "2h",
	"LOG_LEVEL":          "info",
	"LOG_FILE":           "",
	"PUSHGATEWAY_URL":    "",
	"TELEGRAM_BOT_TOKEN": "",
	"TELEGRAM_CHAT_ID":   0,
}

var validate = validator.New()

// LoadConfig reads configuration from an optional config.yaml in path and
// from environment variables, which take precedence.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, env vars and defaults still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags on c.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// NotificationsEnabled reports whether a Telegram target is configured.
func (c Config) NotificationsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Port                             string `mapstructure:"PORT"`
	GinMode                          string `mapstructure:"GIN_MODE"`
	StoreBackend                     string `mapstructure:"STORE_BACKEND"`
	FirebaseProjectID                string `mapstructure:"FIREBASE_PROJECT_ID"`
	GoogleApplicationCredentials     string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirebaseServiceAccountJSONBase64 string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64"`
	ClientURL                        string `mapstructure:"CLIENT_URL"`
	DevAuthHeader                    bool   `mapstructure:"DEV_AUTH_HEADER"`
	AdminClaim                       string `mapstructure:"ADMIN_CLAIM"`
	EconomyConfigPath                string `mapstructure:"ECONOMY_CONFIG_PATH"`

	// Ad reward validation
	AdDailyLimit         int `mapstructure:"AD_DAILY_LIMIT"`
	AdCooldownSeconds    int `mapstructure:"AD_COOLDOWN_SECONDS"`
	AdValidWindowSeconds int `mapstructure:"AD_VALID_WINDOW_SECONDS"`
	AdMaxUsedIDs         int `mapstructure:"AD_MAX_USED_IDS"`

	UpgradeLockTTLSeconds int `mapstructure:"UPGRADE_LOCK_TTL_SECONDS"`

	// Idempotency cache; Redis is used when RedisAddr is set.
	RedisAddr             string `mapstructure:"REDIS_ADDR"`
	RedisPassword         string `mapstructure:"REDIS_PASSWORD"`
	RedisDB               int    `mapstructure:"REDIS_DB"`
	IdempotencyTTLSeconds int    `mapstructure:"IDEMPOTENCY_TTL_SECONDS"`

	// Anomaly alert fan-out, all optional.
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	AlertQueueName string `mapstructure:"ALERT_QUEUE_NAME"`
	SMTPHost       string `mapstructure:"SMTP_HOST"`
	SMTPPort       string `mapstructure:"SMTP_PORT"`
	SMTPUser       string `mapstructure:"SMTP_USER"`
	SMTPPass       string `mapstructure:"SMTP_PASS"`
	AlertEmailFrom string `mapstructure:"ALERT_EMAIL_FROM"`
	AlertEmailTo   string `mapstructure:"ALERT_EMAIL_TO"`

	CatalogRetrySeconds int `mapstructure:"CATALOG_RETRY_SECONDS"`
}

var appConfig *Config

var envKeys = []string{
	"PORT", "GIN_MODE", "STORE_BACKEND", "FIREBASE_PROJECT_ID",
	"GOOGLE_APPLICATION_CREDENTIALS", "FIREBASE_SERVICE_ACCOUNT_JSON_BASE64",
	"CLIENT_URL", "DEV_AUTH_HEADER", "ADMIN_CLAIM", "ECONOMY_CONFIG_PATH",
	"AD_DAILY_LIMIT", "AD_COOLDOWN_SECONDS", "AD_VALID_WINDOW_SECONDS", "AD_MAX_USED_IDS",
	"UPGRADE_LOCK_TTL_SECONDS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "IDEMPOTENCY_TTL_SECONDS",
	"RABBITMQ_URL", "ALERT_QUEUE_NAME",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "ALERT_EMAIL_FROM", "ALERT_EMAIL_TO",
	"CATALOG_RETRY_SECONDS",
}

// LoadConfig loads configuration from environment variables using Viper.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("STORE_BACKEND", StoreFirestore)
	v.SetDefault("ADMIN_CLAIM", "admin")
	v.SetDefault("AD_DAILY_LIMIT", 10)
	v.SetDefault("AD_COOLDOWN_SECONDS", 60)
	v.SetDefault("AD_VALID_WINDOW_SECONDS", 300)
	v.SetDefault("AD_MAX_USED_IDS", 100)
	v.SetDefault("UPGRADE_LOCK_TTL_SECONDS", 300)
	v.SetDefault("IDEMPOTENCY_TTL_SECONDS", 900)
	v.SetDefault("ALERT_QUEUE_NAME", "ad_anomaly_alerts")
	v.SetDefault("SMTP_PORT", "2525")
	v.SetDefault("CATALOG_RETRY_SECONDS", 300)

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return appConfig, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required when STORE_BACKEND=firestore")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreFirestore, StoreMemory, c.StoreBackend)
	}
	if c.AdDailyLimit <= 0 {
		return errors.New("AD_DAILY_LIMIT must be positive")
	}
	if c.AdCooldownSeconds < 0 {
		return errors.New("AD_COOLDOWN_SECONDS cannot be negative")
	}
	if c.AdValidWindowSeconds <= 0 {
		return errors.New("AD_VALID_WINDOW_SECONDS must be positive")
	}
	if c.AdMaxUsedIDs <= 0 {
		return errors.New("AD_MAX_USED_IDS must be positive")
	}
	if c.UpgradeLockTTLSeconds <= 0 {
		return errors.New("UPGRADE_LOCK_TTL_SECONDS must be positive")
	}
	if c.IdempotencyTTLSeconds <= 0 {
		return errors.New("IDEMPOTENCY_TTL_SECONDS must be positive")
	}
	if c.AlertEmailTo != "" && c.SMTPHost == "" {
		return errors.New("SMTP_HOST is required when ALERT_EMAIL_TO is set")
	}
	return nil
}

func (c *Config) AdCooldown() time.Duration {
	return time.Duration(c.AdCooldownSeconds) * time.Second
}

func (c *Config) AdValidWindow() time.Duration {
	return time.Duration(c.AdValidWindowSeconds) * time.Second
}

func (c *Config) UpgradeLockTTL() time.Duration {
	return time.Duration(c.UpgradeLockTTLSeconds) * time.Second
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

func (c *Config) CatalogRetry() time.Duration {
	return time.Duration(c.CatalogRetrySeconds) * time.Second
}

// GetConfig returns the loaded application configuration.
// It will panic if LoadConfig has not been called successfully.
func GetConfig() *Config {
	if appConfig == nil {
		panic("config not loaded; call LoadConfig first")
	}
	return appConfig
}

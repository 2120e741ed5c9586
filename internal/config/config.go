package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Timer backends selectable through TIMER_BACKEND.
const (
	TimerBackendMemory   = "memory"
	TimerBackendRedis    = "redis"
	TimerBackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`

	// Bearer tokens are HS256 JWTs signed with this secret. Empty disables
	// authentication and trusts the X-User-ID header.
	AuthJWTSecret string `mapstructure:"auth_jwt_secret"`

	Worker WorkerConfig `mapstructure:"worker"`

	// Notification channels
	Firebase            FirebaseConfig            `mapstructure:"firebase"`
	NotificationGateway NotificationGatewayConfig `mapstructure:"notification_gateway"`
	Webhook             WebhookConfig             `mapstructure:"webhook"`
}

type WorkerConfig struct {
	TimerBackend      string        `mapstructure:"timer_backend"` // memory, redis, postgres
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RehydrateInterval time.Duration `mapstructure:"rehydrate_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	TimerKeyPrefix    string        `mapstructure:"timer_key_prefix"`
	ActionQueue       string        `mapstructure:"action_queue"`
}

type FirebaseConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

type NotificationGatewayConfig struct {
	URL        string `mapstructure:"url"`
	InstanceID string `mapstructure:"instance_id"`
	APIToken   string `mapstructure:"api_token"`
}

type WebhookConfig struct {
	SigningKey string `mapstructure:"signing_key"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present (local development convenience)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("worker.timer_backend", TimerBackendPostgres)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.rehydrate_interval", 5*time.Minute)
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.timer_key_prefix", "inres:escalation")
	v.SetDefault("worker.action_queue", "inres:escalation:actions")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config") // dev.config.yaml
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("inres")

	// Standard environment variables (Docker/deploy compatibility)
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("log_level", "LOG_LEVEL")
	_ = v.BindEnv("auth_jwt_secret", "AUTH_JWT_SECRET")

	_ = v.BindEnv("worker.timer_backend", "TIMER_BACKEND")
	_ = v.BindEnv("worker.poll_interval", "WORKER_POLL_INTERVAL")
	_ = v.BindEnv("worker.rehydrate_interval", "WORKER_REHYDRATE_INTERVAL")
	_ = v.BindEnv("worker.batch_size", "WORKER_BATCH_SIZE")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")

	_ = v.BindEnv("firebase.credentials_file", "FIREBASE_CREDENTIALS_FILE")
	_ = v.BindEnv("notification_gateway.url", "inres_CLOUD_URL")
	_ = v.BindEnv("notification_gateway.api_token", "inres_CLOUD_TOKEN")
	_ = v.BindEnv("notification_gateway.instance_id", "inres_INSTANCE_ID")
	_ = v.BindEnv("webhook.signing_key", "WEBHOOK_SIGNING_KEY")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("Loaded config from: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	App = cfg
	return nil
}

// Validate rejects settings the binaries cannot start with.
func (c *Config) Validate() error {
	switch c.Worker.TimerBackend {
	case TimerBackendMemory, TimerBackendPostgres:
	case TimerBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("timer backend %q requires REDIS_URL", c.Worker.TimerBackend)
		}
	default:
		return fmt.Errorf("unknown timer backend %q", c.Worker.TimerBackend)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive, got %s", c.Worker.PollInterval)
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch size must be positive, got %d", c.Worker.BatchSize)
	}
	return nil
}

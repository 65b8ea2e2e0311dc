// --- File: notificationservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/fcm"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const defaultFCMTimeout = 10 * time.Second

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// FCMConfig holds the server key and the per-message defaults applied to
// every legacy FCM send.
type FCMConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration

	Priority              string
	TimeToLive            *int // nil keeps the server default
	CollapseKey           string
	RestrictedPackageName string
	DryRun                bool
	DelayWhileIdle        bool
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	IdentityServiceURL     string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	FCM        FCMConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// FCM Overrides
	if err := applyFCMOverrides(&cfg.FCM, logger); err != nil {
		return nil, err
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if err := validateFCM(&cfg.FCM); err != nil {
		return nil, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = "http://localhost:3000"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyFCMOverrides(f *FCMConfig, logger *slog.Logger) error {
	if val := os.Getenv("FCM_API_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_API_KEY", "source", "env")
		f.APIKey = val
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_ENDPOINT", "source", "env")
		f.Endpoint = val
	}
	if val := os.Getenv("FCM_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid FCM_TIMEOUT %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "FCM_TIMEOUT", "source", "env")
		f.Timeout = d
	}
	if val := os.Getenv("FCM_PRIORITY"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_PRIORITY", "source", "env")
		f.Priority = val
	}
	if val := os.Getenv("FCM_TIME_TO_LIVE"); val != "" {
		ttl, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid FCM_TIME_TO_LIVE %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "FCM_TIME_TO_LIVE", "source", "env")
		f.TimeToLive = &ttl
	}
	if val := os.Getenv("FCM_DRY_RUN"); val != "" {
		dryRun, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid FCM_DRY_RUN %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "FCM_DRY_RUN", "source", "env")
		f.DryRun = dryRun
	}
	return nil
}

func validateFCM(f *FCMConfig) error {
	if f.APIKey == "" {
		return fmt.Errorf("fcm.api_key is required (set via YAML or FCM_API_KEY env var)")
	}
	switch fcm.Priority(f.Priority) {
	case "", fcm.PriorityNormal, fcm.PriorityHigh:
	default:
		return fmt.Errorf("fcm.priority must be %q or %q, got %q", fcm.PriorityNormal, fcm.PriorityHigh, f.Priority)
	}
	if f.Endpoint == "" {
		f.Endpoint = fcm.ServerURI
	}
	if f.Timeout <= 0 {
		f.Timeout = defaultFCMTimeout
	}
	return nil
}

// --- File: notificationservice/config/config_test.go ---
package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fcm-legacy/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/fcm"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clearEnv blanks every variable the overrides read, so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROJECT_ID", "PORT", "SUBSCRIPTION_ID", "SUBSCRIPTION_DLQ_TOPIC_ID", "NUM_PIPELINE_WORKERS",
		"IDENTITY_SERVICE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_ENABLED",
		"VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "VAPID_SUB_EMAIL", "CORS_ALLOWED_ORIGINS",
		"FCM_API_KEY", "FCM_ENDPOINT", "FCM_TIMEOUT", "FCM_PRIORITY", "FCM_TIME_TO_LIVE", "FCM_DRY_RUN",
	} {
		t.Setenv(key, "")
	}
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
			FCM: config.FCMConfig{
				APIKey:   "base-key",
				Priority: "normal",
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_PRIVATE_KEY", "env-priv")
		t.Setenv("VAPID_SUB_EMAIL", "env@test.com")
		t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.com, ,http://b.com ")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.Equal(t, "env-sub", finalCfg.PubsubConsumerConfig.SubscriptionID)

		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "env-priv", finalCfg.Vapid.PrivateKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.SubscriberEmail)
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
	})

	t.Run("Success - FCM overrides applied", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()

		t.Setenv("FCM_API_KEY", "env-key")
		t.Setenv("FCM_ENDPOINT", "http://localhost:9999/fcm/send")
		t.Setenv("FCM_TIMEOUT", "3s")
		t.Setenv("FCM_PRIORITY", "high")
		t.Setenv("FCM_TIME_TO_LIVE", "0")
		t.Setenv("FCM_DRY_RUN", "true")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-key", finalCfg.FCM.APIKey)
		assert.Equal(t, "http://localhost:9999/fcm/send", finalCfg.FCM.Endpoint)
		assert.Equal(t, 3*time.Second, finalCfg.FCM.Timeout)
		assert.Equal(t, "high", finalCfg.FCM.Priority)
		require.NotNil(t, finalCfg.FCM.TimeToLive)
		assert.Equal(t, 0, *finalCfg.FCM.TimeToLive)
		assert.True(t, finalCfg.FCM.DryRun)
	})

	t.Run("Success - Defaults preserved and filled", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()
		cfg.ListenAddr = ""
		cfg.NumPipelineWorkers = 0

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, "base-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, ":8080", finalCfg.ListenAddr)
		assert.Equal(t, 1, finalCfg.NumPipelineWorkers)
		assert.Equal(t, fcm.ServerURI, finalCfg.FCM.Endpoint)
		assert.Equal(t, 10*time.Second, finalCfg.FCM.Timeout)
		assert.Nil(t, finalCfg.FCM.TimeToLive)
		assert.Equal(t, 24*time.Hour, finalCfg.Redis.TTL)
		assert.Equal(t, "http://localhost:3000", finalCfg.IdentityServiceURL)
		assert.NotNil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Validation Failure - Missing ProjectID", func(t *testing.T) {
		clearEnv(t)
		cfg := &config.Config{SubscriptionID: "sub", FCM: config.FCMConfig{APIKey: "k"}}
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Missing FCM api key", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()
		cfg.FCM.APIKey = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FCM_API_KEY")
	})

	t.Run("Validation Failure - Unknown priority", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FCM_PRIORITY", "urgent")
		_, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Malformed FCM env values", func(t *testing.T) {
		for key, val := range map[string]string{
			"FCM_TIMEOUT":      "soon",
			"FCM_TIME_TO_LIVE": "a week",
			"FCM_DRY_RUN":      "maybe",
		} {
			t.Run(key, func(t *testing.T) {
				clearEnv(t)
				t.Setenv(key, val)
				_, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
				require.Error(t, err)
				assert.Contains(t, err.Error(), key)
			})
		}
	})
}

package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("ORDERS_TABLE", "orders")
	t.Setenv("SOURCE_BUCKET", "fonts-src")
	t.Setenv("DESTINATION_BUCKET", "downloads")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(RoleWorker)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
	assert.Equal(t, 2*time.Hour, cfg.DownloadURLTTL)
	assert.Equal(t, 20*time.Second, cfg.ExternalCallTimeout)
	assert.Equal(t, 48*time.Hour, cfg.WebhookDedupeTTL)
	assert.Equal(t, 2*time.Minute, cfg.WebhookClaimLease)
	assert.Equal(t, "TypeFoundry/Fulfillment", cfg.MetricsNamespace)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.False(t, cfg.RunLocal)
	assert.Equal(t, zerolog.InfoLevel, cfg.ZerologLevel())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("IDEMPOTENCY_TABLE", "events")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")
	t.Setenv("DOWNLOAD_URL_TTL", "30m")
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")

	cfg, err := Load(RoleAPI)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.DownloadURLTTL)
	assert.True(t, cfg.RunLocal)
	assert.Equal(t, zerolog.DebugLevel, cfg.ZerologLevel())
	assert.Equal(t, "http://localhost:4566", cfg.AWSEndpoint)
}

func TestLoad_APIRequiresWebhookSettings(t *testing.T) {
	setRequired(t)

	_, err := Load(RoleAPI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDEMPOTENCY_TABLE")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(RoleWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OrdersTable")
}

func TestLoad_WorkerSecretRequiredWithWorkerURL(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKER_URL", "https://worker.internal")

	_, err := Load(RoleWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WorkerSecret")

	t.Setenv("WORKER_SECRET", "s3cret")
	_, err = Load(RoleWorker)
	require.NoError(t, err)
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	setRequired(t)
	t.Setenv("EXTERNAL_CALL_TIMEOUT", "0s")

	_, err := Load(RoleWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXTERNAL_CALL_TIMEOUT")
}

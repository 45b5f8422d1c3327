package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/weave/pkg/artifacts"
	"github.com/Mindburn-Labs/weave/pkg/config"
	"github.com/Mindburn-Labs/weave/pkg/fcp"
)

var envKeys = []string{
	"LOG_LEVEL", "LOG_FORMAT", "WEAVE_DATABASE_URL", "WEAVE_REDIS_ADDR", "WEAVE_KV_DIR",
	"WEAVE_OTEL_ENDPOINT", "WEAVE_FCP_MAX_DEPTH", "WEAVE_ARTIFACT_STORE", "WEAVE_ARTIFACT_DIR",
	"WEAVE_ARTIFACT_BUCKET", "WEAVE_ARTIFACT_REGION", "WEAVE_ARTIFACT_ENDPOINT", "WEAVE_ARTIFACT_PREFIX",
	"WEAVE_FETCH_RPS", "WEAVE_FETCH_BURST", "EXM", "LAZY_EVALUATION", "SHOW_ERRORS", "TX_DATE",
	"WEAVE_GAS_LIMIT", "WEAVE_EVM_GAS_LIMIT", "WEAVE_TIME_LIMIT_MS", "WEAVE_WASM_MEMORY_LIMIT_BYTES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":memory:", cfg.DatabaseURL)
	assert.Equal(t, fcp.DefaultMaxDepth, cfg.FCPMaxDepth)
	assert.Equal(t, uint64(30_000_000), cfg.Limits.EVMGasLimit)
	assert.False(t, cfg.Settings.EXM)
	assert.True(t, cfg.Fetch.IsAllowed("example.com"))
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("WEAVE_DATABASE_URL", "postgres://production:5432/weave")
	t.Setenv("WEAVE_ARTIFACT_STORE", "s3")
	t.Setenv("WEAVE_ARTIFACT_BUCKET", "snaps")
	t.Setenv("WEAVE_FCP_MAX_DEPTH", "4")
	t.Setenv("WEAVE_FETCH_RPS", "2.5")
	t.Setenv("EXM", "true")
	t.Setenv("TX_DATE", "1650000000000")
	t.Setenv("WEAVE_TIME_LIMIT_MS", "750")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/weave", cfg.DatabaseURL)
	assert.Equal(t, artifacts.StoreTypeS3, cfg.Artifacts.Type)
	assert.Equal(t, "snaps", cfg.Artifacts.Bucket)
	assert.Equal(t, 4, cfg.FCPMaxDepth)
	assert.InDelta(t, 2.5, cfg.Fetch.RPS, 0.0001)
	assert.True(t, cfg.Settings.EXM)
	assert.Equal(t, int64(1650000000000), cfg.Settings.TxDate)
	assert.Equal(t, int64(750), cfg.Limits.TimeLimitMs)
}

func TestLoad_InvalidValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEAVE_FCP_MAX_DEPTH", "deep")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEAVE_FCP_MAX_DEPTH")
}

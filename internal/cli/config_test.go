package cli

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/rbs"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("RBS_PROJECT_ID", "proj")
	t.Setenv("RBS_REGION", "eu-west-1-beta")
	t.Setenv("RBS_STORE", "Redis")
	t.Setenv("RBS_REDIS_ADDR", "cache:6380")
	t.Setenv("RBS_REDIS_DB", "2")
	t.Setenv("RBS_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, StoreRedis, cfg.Store)
	require.Equal(t, "cache:6380", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Redis.DB)
	require.Equal(t, "rbs:", cfg.Redis.Prefix)
	require.Equal(t, 5*time.Second, cfg.Timeout)

	sdk, err := cfg.SDKConfig()
	require.NoError(t, err)
	require.Equal(t, "proj", sdk.ProjectID)
	require.Equal(t, rbs.RegionEuWest1Beta, sdk.Region)
}

func TestLoadConfigRejectsUnknownStore(t *testing.T) {
	t.Setenv("RBS_STORE", "etcd")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "unknown store")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	ok := Config{Store: StoreMemory, Timeout: time.Second}
	require.NoError(t, ok.Validate())

	noPath := Config{Store: StoreSQLite, Timeout: time.Second}
	require.Error(t, noPath.Validate())

	noTimeout := Config{Store: StoreMemory}
	require.Error(t, noTimeout.Validate())

	_, err := Config{Region: "mars-1"}.SDKConfig()
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// chdir moves into a fresh directory so no stray vcard.yaml or .env is read.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, "localhost:9090", cfg.HTTPAddr)
	require.Equal(t, "file", cfg.StoreBackend)
	require.Equal(t, 2, cfg.ReplacementsPerMonth)
	require.Equal(t, 1_000_000, cfg.Pool.TargetSize)
	require.Equal(t, time.Minute, cfg.PoolRefreshInterval)
}

func TestLoad_FileEnvAndPrecedence(t *testing.T) {
	dir := chdir(t)

	yaml := `
http_addr: 0.0.0.0:8080
daily_limit: 250
pool:
  target_size: 5000
  min_size: 500
pool_refresh_interval: 30s
product_years:
  virtual: 4
`
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("VCARD_DAILY_LIMIT", "300")
	t.Setenv("VCARD_POOL_BATCH_SIZE", "64")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	require.Equal(t, 300.0, cfg.DailyLimit)
	require.Equal(t, 5000, cfg.Pool.TargetSize)
	require.Equal(t, 500, cfg.Pool.MinSize)
	require.Equal(t, 64, cfg.Pool.BatchSize)
	require.Equal(t, 30*time.Second, cfg.PoolRefreshInterval)
	require.Equal(t, 4, cfg.ProductYears["virtual"])
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("VCARD_REDIS_ADDR=localhost:6379\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("VCARD_REDIS_ADDR") })

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	chdir(t)
	_, err := Load(viper.New(), "does-not-exist.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t)

	t.Setenv("VCARD_STORE_BACKEND", "pg")
	_, err := Load(viper.New(), "")
	require.ErrorContains(t, err, "db_dsn is required")

	t.Setenv("VCARD_DB_DSN", "postgres://localhost/vcard")
	_, err = Load(viper.New(), "")
	require.ErrorContains(t, err, "pan_hash_key is required")

	t.Setenv("VCARD_STORE_BACKEND", "sqlite")
	_, err = Load(viper.New(), "")
	require.ErrorContains(t, err, "store_backend must be")
}

// Package config loads the issuer configuration from defaults, an optional
// YAML file, a .env file and VCARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/alovak/vcard/issuer"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "VCARD"
	ConfigName = "vcard"
)

// Load reads the configuration into a fresh issuer.Config. Flags bound to v
// win over the environment, which wins over the config file. cfgFile may be
// empty, in which case vcard.yaml is looked up in the working directory and
// a missing file is not an error.
func Load(v *viper.Viper, cfgFile string) (*issuer.Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(ConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := issuer.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv exports the variables of path into the process environment.
// Variables already set are kept. A missing file is ignored.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// SetDefaults registers every key of issuer.DefaultConfig so that
// AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	d := issuer.DefaultConfig()

	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("store_backend", d.StoreBackend)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_dsn", d.DBDSN)
	v.SetDefault("pan_hash_key", d.PANHashKey)
	v.SetDefault("expiry_tz", d.ExpiryTZ)
	v.SetDefault("validity_years", d.ValidityYears)
	v.SetDefault("product_years", d.ProductYears)
	v.SetDefault("daily_limit", d.DailyLimit)
	v.SetDefault("monthly_limit", d.MonthlyLimit)
	v.SetDefault("card_type", d.CardType)
	v.SetDefault("network", d.Network)
	v.SetDefault("issuer_name", d.IssuerName)
	v.SetDefault("funding_source", d.FundingSource)
	v.SetDefault("replacements_per_month", d.ReplacementsPerMonth)

	v.SetDefault("pool.target_size", d.Pool.TargetSize)
	v.SetDefault("pool.min_size", d.Pool.MinSize)
	v.SetDefault("pool.top_up_increment", d.Pool.TopUpIncrement)
	v.SetDefault("pool.emergency_threshold", d.Pool.EmergencyThreshold)
	v.SetDefault("pool.low_watermark", d.Pool.LowWatermark)
	v.SetDefault("pool.batch_size", d.Pool.BatchSize)
	v.SetDefault("pool_snapshot", d.PoolSnapshot)
	v.SetDefault("pool_refresh_interval", d.PoolRefreshInterval)

	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("redis_stream", d.RedisStream)
}

// Validate rejects settings the issuer cannot run with.
func Validate(cfg *issuer.Config) error {
	switch cfg.StoreBackend {
	case "file", "mem", "pg":
	default:
		return fmt.Errorf("store_backend must be file, mem or pg, got %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "pg" {
		if cfg.DBDSN == "" {
			return errors.New("db_dsn is required when store_backend is pg")
		}
		if cfg.PANHashKey == "" {
			return errors.New("pan_hash_key is required when store_backend is pg")
		}
	}
	if cfg.DailyLimit <= 0 || cfg.MonthlyLimit <= 0 {
		return errors.New("daily_limit and monthly_limit must be positive")
	}
	if cfg.Pool.MinSize > cfg.Pool.TargetSize {
		return fmt.Errorf("pool.min_size %d exceeds pool.target_size %d", cfg.Pool.MinSize, cfg.Pool.TargetSize)
	}
	return nil
}

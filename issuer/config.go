package issuer

import (
	"time"

	"github.com/alovak/vcard/internal/pool"
	"github.com/shopspring/decimal"
)

// Config is a configuration for the issuer application
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	// StoreBackend selects the card record store: file, pg or mem.
	StoreBackend string `mapstructure:"store_backend"`
	// DataDir holds one JSON document per account for the file backend.
	DataDir    string `mapstructure:"data_dir"`
	DBDSN      string `mapstructure:"db_dsn"`
	PANHashKey string `mapstructure:"pan_hash_key"`

	// ExpiryTZ is an IANA timezone name for expiry and calendar computations (e.g., "Europe/Berlin").
	ExpiryTZ string `mapstructure:"expiry_tz"`
	// ValidityYears overrides the virtual product validity when > 0.
	ValidityYears int `mapstructure:"validity_years"`
	// ProductYears maps card product to validity years (e.g., virtual=10).
	ProductYears map[string]int `mapstructure:"product_years"`

	DailyLimit   float64 `mapstructure:"daily_limit"`
	MonthlyLimit float64 `mapstructure:"monthly_limit"`
	CardType     string  `mapstructure:"card_type"`
	Network      string  `mapstructure:"network"`
	IssuerName   string  `mapstructure:"issuer_name"`
	// FundingSource is the merchant recorded on credits when the caller names none.
	FundingSource string `mapstructure:"funding_source"`

	ReplacementsPerMonth int `mapstructure:"replacements_per_month"`

	Pool pool.Config `mapstructure:"pool"`
	// PoolSnapshot is the pool snapshot file; empty keeps the pool in memory.
	PoolSnapshot string `mapstructure:"pool_snapshot"`
	// PoolRefreshInterval is how often the daily regeneration check runs.
	PoolRefreshInterval time.Duration `mapstructure:"pool_refresh_interval"`

	RedisAddr   string `mapstructure:"redis_addr"`
	RedisStream string `mapstructure:"redis_stream"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:             "localhost:9090",
		StoreBackend:         "file",
		DataDir:              "data/accounts",
		ValidityYears:        10,
		DailyLimit:           1000,
		MonthlyLimit:         5000,
		CardType:             "Visa Virtual Card",
		Network:              "Visa",
		IssuerName:           "TorCOIN Bank (Visa Partner)",
		FundingSource:        "TorCOIN Wallet",
		ReplacementsPerMonth: DefaultReplacementsPerMonth,
		Pool:                 pool.DefaultConfig(),
		PoolSnapshot:         "data/card_pool.json",
		PoolRefreshInterval:  time.Minute,
		RedisStream:          "vcard.events",
	}
}

// CardDefaults turns the product settings into the values stamped on new cards.
func (c *Config) CardDefaults() CardDefaults {
	return CardDefaults{
		ValidityYears: c.ValidityYears,
		DailyLimit:    decimal.NewFromFloat(c.DailyLimit).Round(2),
		MonthlyLimit:  decimal.NewFromFloat(c.MonthlyLimit).Round(2),
		CardType:      c.CardType,
		Network:       c.Network,
		IssuerName:    c.IssuerName,
	}
}

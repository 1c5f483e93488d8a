package pool

// Config sizes the identifier pool.
type Config struct {
	// TargetSize is the number of identifiers generated by a daily regeneration.
	TargetSize int `mapstructure:"target_size"`
	// MinSize triggers a top-up on EnsureFresh when the pool is smaller.
	MinSize int `mapstructure:"min_size"`
	// TopUpIncrement is how many identifiers a top-up adds.
	TopUpIncrement int `mapstructure:"top_up_increment"`
	// EmergencyThreshold makes Issue top up synchronously before popping.
	EmergencyThreshold int `mapstructure:"emergency_threshold"`
	// LowWatermark makes Issue schedule a background top-up after popping.
	LowWatermark int `mapstructure:"low_watermark"`
	// BatchSize bounds how many candidates a background top-up inserts per lock.
	BatchSize int `mapstructure:"batch_size"`
}

func DefaultConfig() Config {
	return Config{
		TargetSize:         1_000_000,
		MinSize:            100_000,
		TopUpIncrement:     100_000,
		EmergencyThreshold: 1_000,
		LowWatermark:       50_000,
		BatchSize:          5_000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TargetSize <= 0 {
		c.TargetSize = d.TargetSize
	}
	if c.MinSize <= 0 {
		c.MinSize = d.MinSize
	}
	if c.TopUpIncrement <= 0 {
		c.TopUpIncrement = d.TopUpIncrement
	}
	if c.EmergencyThreshold <= 0 {
		c.EmergencyThreshold = d.EmergencyThreshold
	}
	if c.LowWatermark <= 0 {
		c.LowWatermark = d.LowWatermark
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

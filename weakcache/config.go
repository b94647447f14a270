package weakcache

// Config holds configuration for a Cache
type Config struct {
	// Name is used for logging purposes to identify the cache
	// default: "weakcache"
	Name string `mapstructure:"name"`
	// CountLimit is the number of entries at which an insert first triggers
	// an implicit FlushUnused. Zero disables the limit.
	// default: 0 (unlimited)
	CountLimit int `mapstructure:"count_limit"`
}

// DefaultConfig returns the default configuration for a Cache
func DefaultConfig() *Config {
	return &Config{
		Name:       "weakcache",
		CountLimit: 0,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CountLimit < 0 {
		return ErrInvalidCountLimit(c.CountLimit)
	}
	return nil
}

package levelcache

import "time"

// Config holds configuration for a levelcache Cache
type Config struct {
	// Path is the LevelDB directory (required)
	Path string `mapstructure:"path"`
	// MaxAge is how old a stored entity may grow before pruning removes it
	// default: 7 * 24 * time.Hour
	MaxAge time.Duration `mapstructure:"max_age"`
	// PruneSpec is the cron schedule for pruning, standard cron format
	// default: "@hourly"
	PruneSpec string `mapstructure:"prune_spec"`
}

// DefaultConfig returns the default configuration
// Note: Path has no default value and must be explicitly set by the user
func DefaultConfig() *Config {
	return &Config{
		MaxAge:    7 * 24 * time.Hour,
		PruneSpec: "@hourly",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrInvalidPath(c.Path)
	}
	if c.MaxAge <= 0 {
		return ErrInvalidMaxAge(c.MaxAge)
	}
	return nil
}

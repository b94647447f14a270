package levelcache

import (
	"fmt"
	"time"
)

// ErrClosed is returned when operations are attempted on a closed cache
var ErrClosed = fmt.Errorf("levelcache: cache is closed")

// ErrInvalidPath returns an error for a missing database path
func ErrInvalidPath(path string) error {
	return fmt.Errorf("levelcache: invalid path: %q (must be non-empty)", path)
}

// ErrInvalidMaxAge returns an error for a non-positive max age
func ErrInvalidMaxAge(age time.Duration) error {
	return fmt.Errorf("levelcache: invalid max age: %v (must be > 0)", age)
}

// ErrInvalidPruneSpec returns an error for an unparsable cron spec
func ErrInvalidPruneSpec(spec string, err error) error {
	return fmt.Errorf("levelcache: invalid prune spec %q: %w", spec, err)
}

// ErrOpen wraps a database open error
func ErrOpen(path string, err error) error {
	return fmt.Errorf("levelcache: failed to open %q: %w", path, err)
}

// ErrRead wraps a database read error
func ErrRead(key string, err error) error {
	return fmt.Errorf("levelcache: read failed for key %q: %w", key, err)
}

// ErrWrite wraps a database write error
func ErrWrite(key string, err error) error {
	return fmt.Errorf("levelcache: write failed for key %q: %w", key, err)
}

// ErrEncode wraps an entity encoding error
func ErrEncode(key string, err error) error {
	return fmt.Errorf("levelcache: encode failed for key %q: %w", key, err)
}

// ErrDecode wraps an entity decoding error
func ErrDecode(key string, err error) error {
	return fmt.Errorf("levelcache: decode failed for key %q: %w", key, err)
}

package gormcache

import "fmt"

// ErrClosed is returned when operations are attempted on a closed cache
var ErrClosed = fmt.Errorf("gormcache: cache is closed")

// ErrInvalidConfig invalid config
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("gormcache: invalid config: %s", msg)
}

// ErrConnection database connection error
func ErrConnection(err error) error {
	return fmt.Errorf("gormcache: connection failed: %w", err)
}

// ErrMigrate wraps a schema migration error
func ErrMigrate(err error) error {
	return fmt.Errorf("gormcache: migration failed: %w", err)
}

// ErrRead wraps a database read error
func ErrRead(key string, err error) error {
	return fmt.Errorf("gormcache: read failed for key %q: %w", key, err)
}

// ErrWrite wraps a database write error
func ErrWrite(key string, err error) error {
	return fmt.Errorf("gormcache: write failed for key %q: %w", key, err)
}

// ErrEncode wraps a header encoding error
func ErrEncode(key string, err error) error {
	return fmt.Errorf("gormcache: encode failed for key %q: %w", key, err)
}

// ErrDecode wraps a header decoding error
func ErrDecode(key string, err error) error {
	return fmt.Errorf("gormcache: decode failed for key %q: %w", key, err)
}

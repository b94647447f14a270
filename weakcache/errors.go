package weakcache

import "fmt"

// ErrInvalidCountLimit returns an error for a negative count limit
func ErrInvalidCountLimit(limit int) error {
	return fmt.Errorf("weakcache: invalid count limit: %d (must be >= 0)", limit)
}

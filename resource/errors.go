package resource

import (
	"errors"
	"fmt"
	"time"
)

// Cause taxonomy. These sentinels populate Error.Cause and can be tested
// with errors.Is.
var (
	// ErrRequestCancelled marks a request that was cancelled before
	// completing. Cancellation is a distinct signal, not an ordinary failure.
	ErrRequestCancelled = errors.New("resource: request cancelled")

	// ErrNoLocalDataFor304 is the cause when the server answers 304 Not
	// Modified but the resource holds no data the 304 could refer to.
	ErrNoLocalDataFor304 = errors.New("resource: no local data for 304 response")

	// ErrEmptyResponseBody is the cause when a transformer requires a body
	// and the response carried none.
	ErrEmptyResponseBody = errors.New("resource: empty response body")

	// ErrUndecodableText is the cause when the response declares a text
	// encoding this client cannot decode.
	ErrUndecodableText = errors.New("resource: undecodable text encoding")

	// ErrJSONStructureInvalid is the cause when a JSON root is neither an
	// object nor an array.
	ErrJSONStructureInvalid = errors.New("resource: JSON root is neither an object nor an array")

	// ErrUnencodableText is the cause when request text cannot be encoded.
	ErrUnencodableText = errors.New("resource: text cannot be encoded")

	// ErrInvalidJSONObject is the cause when a request body value is not a
	// valid JSON object.
	ErrInvalidJSONObject = errors.New("resource: not a valid JSON object")

	// ErrNotURLEncodable is the cause when a string cannot be URL-encoded.
	ErrNotURLEncodable = errors.New("resource: string cannot be URL-encoded")
)

// URL validation details wrapped by ErrInvalidURL.
var (
	errNoBase      = errors.New("relative URL requires a service base URL")
	errNoHost      = errors.New("URL has no host")
	errInvalidBase = errors.New("base URL must be absolute")
	errNotAbsolute = errors.New("URL must be absolute")
)

// ErrWrongInputType is the cause when a transformer receives content of a
// type it does not handle.
func ErrWrongInputType(got any, want string) error {
	return fmt.Errorf("resource: transformer expected %s input, got %T", want, got)
}

// ErrInvalidURL returns an error for an unparsable resource URL
func ErrInvalidURL(raw string, err error) error {
	return fmt.Errorf("resource: invalid URL %q: %w", raw, err)
}

// ErrInvalidPattern returns an error for an unusable configuration pattern
func ErrInvalidPattern(pattern string, err error) error {
	return fmt.Errorf("resource: invalid configuration pattern %q: %w", pattern, err)
}

// ErrInvalidRule returns an error for a malformed declarative rule
func ErrInvalidRule(index int, err error) error {
	return fmt.Errorf("resource: invalid rule %d: %w", index, err)
}

// ErrInvalidExpiration returns an error for a non-positive expiration time
func ErrInvalidExpiration(d time.Duration) error {
	return fmt.Errorf("resource: invalid expiration time: %v (must be > 0)", d)
}

// ErrInvalidRetryTime returns an error for a non-positive retry time
func ErrInvalidRetryTime(d time.Duration) error {
	return fmt.Errorf("resource: invalid retry time: %v (must be > 0)", d)
}

// ErrInvalidWorkerLimit returns an error for a non-positive worker limit
func ErrInvalidWorkerLimit(limit int64) error {
	return fmt.Errorf("resource: invalid worker limit: %d (must be >= 1)", limit)
}

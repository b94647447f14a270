package resource

import (
	"mime"
	"net/http"
	"time"
)

// Entity is an immutable-by-replacement snapshot of a resource's content
// plus metadata. New server responses, cache hits, and local overrides each
// produce a fresh Entity; the only in-place mutation is Touch, which
// refreshes the timestamp after a 304.
type Entity struct {
	// Content is the payload. Its concrete type is established by the
	// pipeline: raw responses carry []byte, the default text decoder
	// produces string, the default JSON decoder produces map[string]any
	// or []any.
	Content any

	// ContentType is the media type without parameters, e.g. "application/json".
	ContentType string

	// Charset is the charset parameter of the Content-Type header, if any.
	Charset string

	// ETag is the entity tag supplied by the server, used for conditional
	// requests.
	ETag string

	// Headers holds the response headers. Lookup is case-insensitive via
	// http.Header canonicalization.
	Headers http.Header

	// Timestamp records when this entity was last known fresh.
	Timestamp time.Time
}

// NewEntity creates an entity holding content with the given media type.
// The timestamp is left zero and stamped by the resource on receipt.
func NewEntity(content any, contentType string) *Entity {
	return &Entity{
		Content:     content,
		ContentType: contentType,
		Headers:     http.Header{"Content-Type": []string{contentType}},
	}
}

// entityFromTransport builds an Entity from a raw transport result.
func entityFromTransport(status int, headers http.Header, body []byte, now time.Time) *Entity {
	contentType, charset := parseContentType(headers.Get("Content-Type"))
	return &Entity{
		Content:     body,
		ContentType: contentType,
		Charset:     charset,
		ETag:        headers.Get("Etag"),
		Headers:     cloneHeader(headers),
		Timestamp:   now,
	}
}

// parseContentType splits a Content-Type header value into media type and
// charset. Malformed or missing values fall back to application/octet-stream.
func parseContentType(value string) (contentType, charset string) {
	if value == "" {
		return "application/octet-stream", ""
	}
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		return "application/octet-stream", ""
	}
	return mediaType, params["charset"]
}

// Touch refreshes the timestamp. Timestamps are monotonic per entity:
// a touch with an earlier time is ignored.
func (e *Entity) Touch(now time.Time) {
	if now.After(e.Timestamp) {
		e.Timestamp = now
	}
}

// Header returns the named response header, case-insensitively.
func (e *Entity) Header(name string) string {
	return e.Headers.Get(name)
}

// Bytes returns the content as a byte slice if it is []byte or string,
// and nil otherwise.
func (e *Entity) Bytes() []byte {
	switch c := e.Content.(type) {
	case []byte:
		return c
	case string:
		return []byte(c)
	}
	return nil
}

// Text returns the content as a string if it is string or []byte,
// and "" otherwise.
func (e *Entity) Text() string {
	switch c := e.Content.(type) {
	case string:
		return c
	case []byte:
		return string(c)
	}
	return ""
}

// ContentAs returns the entity's content as T, or fallback when the entity
// is nil or the content is not a T. Failed downcasts degrade to the
// fallback rather than panicking.
func ContentAs[T any](e *Entity, fallback T) T {
	if e == nil {
		return fallback
	}
	if v, ok := e.Content.(T); ok {
		return v
	}
	return fallback
}

// withContent returns a copy of the entity carrying new content,
// preserving metadata and timestamp.
func (e *Entity) withContent(content any) *Entity {
	clone := *e
	clone.Content = content
	return &clone
}

// cloneHeader deep-copies an http.Header. Nil maps yield an empty header.
func cloneHeader(h http.Header) http.Header {
	clone := make(http.Header, len(h))
	for name, values := range h {
		clone[name] = append([]string(nil), values...)
	}
	return clone
}

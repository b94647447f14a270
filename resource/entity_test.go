package resource

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestEntityFromTransport(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	headers := http.Header{
		"Content-Type": {"text/html; charset=utf-8"},
		"Etag":         {`"abc"`},
	}
	entity := entityFromTransport(200, headers, []byte("<p>"), now)

	if entity.ContentType != "text/html" {
		t.Errorf("ContentType = %q", entity.ContentType)
	}
	if entity.Charset != "utf-8" {
		t.Errorf("Charset = %q", entity.Charset)
	}
	if entity.ETag != `"abc"` {
		t.Errorf("ETag = %q", entity.ETag)
	}
	if !entity.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v", entity.Timestamp)
	}
	if entity.Header("content-type") != "text/html; charset=utf-8" {
		t.Error("header lookup is not case-insensitive")
	}
}

func TestParseContentType(t *testing.T) {
	tests := []struct {
		value       string
		contentType string
		charset     string
	}{
		{"application/json; charset=utf-8", "application/json", "utf-8"},
		{"Text/HTML", "text/html", ""},
		{"", "application/octet-stream", ""},
		{"garbage;;;", "application/octet-stream", ""},
	}
	for _, tt := range tests {
		contentType, charset := parseContentType(tt.value)
		if contentType != tt.contentType || charset != tt.charset {
			t.Errorf("parseContentType(%q) = (%q, %q), want (%q, %q)",
				tt.value, contentType, charset, tt.contentType, tt.charset)
		}
	}
}

func TestEntity_TouchIsMonotonic(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entity := &Entity{Timestamp: base}

	entity.Touch(base.Add(time.Minute))
	if !entity.Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("Timestamp = %v after forward touch", entity.Timestamp)
	}
	entity.Touch(base)
	if !entity.Timestamp.Equal(base.Add(time.Minute)) {
		t.Error("a backward touch rewound the timestamp")
	}
}

func TestEntity_BytesAndText(t *testing.T) {
	if got := (&Entity{Content: []byte("b")}).Text(); got != "b" {
		t.Errorf("Text() = %q", got)
	}
	if got := (&Entity{Content: "s"}).Bytes(); string(got) != "s" {
		t.Errorf("Bytes() = %q", got)
	}
	if got := (&Entity{Content: 42}).Bytes(); got != nil {
		t.Errorf("Bytes() = %v for non-textual content", got)
	}
	if got := (&Entity{Content: 42}).Text(); got != "" {
		t.Errorf("Text() = %q for non-textual content", got)
	}
}

func TestContentAs(t *testing.T) {
	entity := NewEntity(map[string]any{"a": 1}, "application/json")

	if got := ContentAs[map[string]any](entity, nil); got["a"] != 1 {
		t.Errorf("ContentAs = %#v", got)
	}
	if got := ContentAs[string](entity, "fallback"); got != "fallback" {
		t.Errorf("failed downcast = %q, want fallback", got)
	}
	if got := ContentAs[string](nil, "fallback"); got != "fallback" {
		t.Errorf("nil entity = %q, want fallback", got)
	}
}

func TestEntity_WithContentPreservesMetadata(t *testing.T) {
	original := NewEntity([]byte("raw"), "text/plain")
	original.ETag = `"v1"`
	clone := original.withContent("decoded")

	if clone.Content != "decoded" || clone.ETag != `"v1"` || clone.ContentType != "text/plain" {
		t.Errorf("withContent() = %+v", clone)
	}
	if s, ok := original.Content.(string); ok && s == "decoded" {
		t.Error("withContent mutated the original")
	}
}

// ============ Error Tests ============

func TestNewError_MessageDerivation(t *testing.T) {
	tests := []struct {
		name    string
		message string
		status  int
		cause   error
		want    string
	}{
		{"explicit message wins", "custom", 500, errors.New("cause"), "custom"},
		{"cause message", "", 500, errors.New("connection refused"), "connection refused"},
		{"package prefix trimmed", "", 0, ErrEmptyResponseBody, "empty response body"},
		{"status text", "", 502, nil, "Bad Gateway"},
		{"generic fallback", "", 0, nil, "Request failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newError(tt.message, tt.status, nil, tt.cause)
			if err.UserMessage != tt.want {
				t.Errorf("UserMessage = %q, want %q", err.UserMessage, tt.want)
			}
			if err.Error() != tt.want {
				t.Errorf("Error() = %q", err.Error())
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := newError("", 0, nil, ErrJSONStructureInvalid)
	if !errors.Is(err, ErrJSONStructureInvalid) {
		t.Error("errors.Is failed to reach the cause")
	}
}

func TestError_IsCancellation(t *testing.T) {
	if !newError("", 0, nil, ErrRequestCancelled).IsCancellation() {
		t.Error("cancellation not detected")
	}
	if newError("", 500, nil, errors.New("boom")).IsCancellation() {
		t.Error("ordinary failure flagged as cancellation")
	}
	if newError("boom", 500, nil, nil).IsCancellation() {
		t.Error("cause-less failure flagged as cancellation")
	}
}

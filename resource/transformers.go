package resource

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// matchingTransformer wraps a transformer with a content-type guard.
// Successes whose entity matches the pattern are transformed; with
// processErrors set, failure responses carrying a matching entity get
// their entity content transformed in place while staying failures.
type matchedTransformer struct {
	inner         Transformer
	pattern       *regexp.Regexp
	processErrors bool
}

func matchingTransformer(contentTypePattern string, t Transformer, processErrors bool) Transformer {
	return &matchedTransformer{
		inner:         t,
		pattern:       compileContentTypePattern(contentTypePattern),
		processErrors: processErrors,
	}
}

// compileContentTypePattern turns "text/*" or "*/json" into a matcher.
// "*" spans one media-type component.
func compileContentTypePattern(pattern string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^/]+`)
	return regexp.MustCompile(`^` + escaped + `$`)
}

func (m *matchedTransformer) Process(resp Response) Response {
	if resp.IsSuccess() {
		if m.pattern.MatchString(resp.Entity().ContentType) {
			return m.inner.Process(resp)
		}
		return resp
	}

	failure := resp.Failure()
	if !m.processErrors || failure.Entity == nil || !m.pattern.MatchString(failure.Entity.ContentType) {
		return resp
	}
	// Transform the error body, keeping the failure. A transformer that
	// cannot parse the error body leaves it as is.
	transformed := m.inner.Process(NewDataResponse(failure.Entity))
	if !transformed.IsSuccess() {
		return resp
	}
	clone := *failure
	clone.Entity = transformed.Entity()
	return NewFailureResponse(&clone)
}

// TextDecoder returns the default transformer for textual content: []byte
// in, string out, honoring the entity's declared charset. Only UTF-8 and
// its subsets are decodable; anything else fails with ErrUndecodableText.
func TextDecoder() Transformer {
	return TransformerFunc(func(resp Response) Response {
		if !resp.IsSuccess() {
			return resp
		}
		entity := resp.Entity()
		raw, ok := entity.Content.([]byte)
		if !ok {
			if _, already := entity.Content.(string); already {
				return resp
			}
			return NewFailureResponse(newError("", 0, nil, ErrWrongInputType(entity.Content, "[]byte")))
		}

		switch strings.ToLower(entity.Charset) {
		case "", "utf-8", "utf8", "us-ascii", "ascii":
		default:
			return NewFailureResponse(newError("", 0, nil, ErrUndecodableText))
		}
		if !utf8.Valid(raw) {
			return NewFailureResponse(newError("", 0, nil, ErrUndecodableText))
		}
		return NewDataResponse(entity.withContent(string(raw)))
	})
}

// JSONDecoder returns the default transformer for JSON content: []byte or
// string in, map[string]any or []any out. Roots that are neither objects
// nor arrays fail with ErrJSONStructureInvalid.
func JSONDecoder() Transformer {
	return TransformerFunc(func(resp Response) Response {
		if !resp.IsSuccess() {
			return resp
		}
		entity := resp.Entity()
		raw := entity.Bytes()
		if raw == nil {
			return NewFailureResponse(newError("", 0, nil, ErrWrongInputType(entity.Content, "[]byte or string")))
		}
		if len(raw) == 0 {
			return NewFailureResponse(newError("", 0, nil, ErrEmptyResponseBody))
		}

		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return NewFailureResponse(newError("Cannot parse server response", 0, nil, err))
		}
		switch parsed.(type) {
		case map[string]any, []any:
			return NewDataResponse(entity.withContent(parsed))
		}
		return NewFailureResponse(newError("", 0, nil, ErrJSONStructureInvalid))
	})
}

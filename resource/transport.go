package resource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/restkit/restkit/logger"
	"github.com/restkit/restkit/routine"
	"go.uber.org/zap"
)

// RequestSpec describes one HTTP-like request to the transport.
type RequestSpec struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// TransportResult is the single completion value of a transport request.
// Err is set for transport-level failures; otherwise StatusCode, Headers,
// and Body describe the response.
type TransportResult struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Err        error
}

// TransportHandle allows best-effort cancellation of an in-flight request.
type TransportHandle interface {
	Cancel()
}

// Transport is the raw networking boundary. StartRequest issues the request
// and invokes completion exactly once, from any goroutine. Implementations
// must map their own cancellation signal to an error matching
// ErrRequestCancelled via errors.Is.
type Transport interface {
	StartRequest(spec RequestSpec, completion func(TransportResult)) TransportHandle
}

// httpTransport is the default Transport over net/http.
type httpTransport struct {
	log    logger.Logger
	client *http.Client
}

// NewHTTPTransport creates the default transport. A nil client falls back
// to http.DefaultClient.
func NewHTTPTransport(log logger.Logger, client *http.Client) Transport {
	if log == nil {
		log = logger.Nop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTransport{log: log, client: client}
}

type httpHandle struct {
	cancel context.CancelFunc
}

func (h *httpHandle) Cancel() {
	h.cancel()
}

func (t *httpTransport) StartRequest(spec RequestSpec, completion func(TransportResult)) TransportHandle {
	ctx, cancel := context.WithCancel(context.Background())

	routine.GoNamed(t.log, "transport-request", func() {
		completion(t.perform(ctx, spec))
	})

	return &httpHandle{cancel: cancel}
}

func (t *httpTransport) perform(ctx context.Context, spec RequestSpec) TransportResult {
	var bodyReader io.Reader
	if len(spec.Body) > 0 {
		bodyReader = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bodyReader)
	if err != nil {
		return TransportResult{Err: err}
	}
	for name, values := range spec.Headers {
		req.Header[name] = append([]string(nil), values...)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return TransportResult{Err: t.mapError(ctx, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TransportResult{Err: t.mapError(ctx, err)}
	}

	t.log.Debug("request completed",
		zap.String("method", spec.Method),
		zap.String("url", spec.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)

	return TransportResult{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}
}

// mapError normalizes context cancellation into the package cancellation
// cause so the resource layer can tell it apart from ordinary failures.
func (t *httpTransport) mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ErrRequestCancelled
	}
	return err
}

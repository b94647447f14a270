package resource

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/restkit/restkit/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, _ := logger.New(&logger.Config{Level: "debug", Encoding: "console"})
	return log
}

// fakeClock is a manually advanced time source for staleness tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// scriptedTransport replays canned results in request order. With hold set,
// responses wait until releaseAll; a cancelled held request completes with
// ErrRequestCancelled instead.
type scriptedTransport struct {
	mu      sync.Mutex
	results []TransportResult
	specs   []RequestSpec
	hold    bool
	release chan struct{}
}

func newScriptedTransport(results ...TransportResult) *scriptedTransport {
	return &scriptedTransport{
		results: results,
		release: make(chan struct{}),
	}
}

func (ft *scriptedTransport) holdResponses() {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.hold = true
}

func (ft *scriptedTransport) releaseAll() {
	close(ft.release)
}

func (ft *scriptedTransport) requests() []RequestSpec {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]RequestSpec(nil), ft.specs...)
}

type scriptedHandle struct {
	once   sync.Once
	cancel chan struct{}
}

func (h *scriptedHandle) Cancel() {
	h.once.Do(func() { close(h.cancel) })
}

func (ft *scriptedTransport) StartRequest(spec RequestSpec, completion func(TransportResult)) TransportHandle {
	ft.mu.Lock()
	ft.specs = append(ft.specs, spec)
	result := TransportResult{StatusCode: http.StatusOK, Headers: http.Header{}}
	if len(ft.results) > 0 {
		result = ft.results[0]
		ft.results = ft.results[1:]
	}
	hold := ft.hold
	release := ft.release
	ft.mu.Unlock()

	handle := &scriptedHandle{cancel: make(chan struct{})}
	go func() {
		if hold {
			select {
			case <-release:
			case <-handle.cancel:
				completion(TransportResult{Err: ErrRequestCancelled})
				return
			}
		}
		completion(result)
	}()
	return handle
}

func jsonResult(status int, body string) TransportResult {
	return TransportResult{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"application/json; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func textResult(status int, body string) TransportResult {
	return TransportResult{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte(body),
	}
}

// recordingObserver captures every event it receives, in order.
type recordingObserver struct {
	mu      sync.Mutex
	events  []Event
	stopped int
}

func (o *recordingObserver) ResourceChanged(_ *Resource, event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) StoppedObserving(_ *Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped++
}

func (o *recordingObserver) Events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

func (o *recordingObserver) Stopped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

// memCache is an in-memory EntityCache for pipeline and seeding tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*Entity
	usable  bool
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*Entity), usable: true}
}

func (m *memCache) Key(resourceURL string) (string, bool) {
	return resourceURL, m.usable
}

func (m *memCache) ReadEntity(key string) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	clone := *entity
	return &clone, nil
}

func (m *memCache) WriteEntity(entity *Entity, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entity
	m.entries[key] = &clone
	return nil
}

func (m *memCache) UpdateEntityTimestamp(timestamp time.Time, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entity, ok := m.entries[key]; ok {
		entity.Timestamp = timestamp
	}
	return nil
}

func (m *memCache) RemoveEntity(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memCache) stored(key string) *Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key]
}

func (m *memCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// newTestService builds a service against a scripted transport and a fake
// clock. The default config uses a short base URL so tests can use
// relative paths.
func newTestService(t *testing.T, cfg *Config, opts ...Option) (*Service, *scriptedTransport, *fakeClock) {
	t.Helper()
	ft := newScriptedTransport()
	clock := newFakeClock()
	if cfg == nil {
		cfg = &Config{BaseURL: "https://api.example.com"}
	}
	opts = append([]Option{WithTransport(ft), WithClock(clock.Now)}, opts...)
	svc, err := NewService(testLogger(t), cfg, opts...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, ft, clock
}

func mustResource(t *testing.T, svc *Service, url string) *Resource {
	t.Helper()
	res, err := svc.Resource(url)
	if err != nil {
		t.Fatalf("Resource(%q) failed: %v", url, err)
	}
	return res
}

// awaitCompletion registers a completion hook and waits for it.
func awaitCompletion(t *testing.T, req Request) Response {
	t.Helper()
	done := make(chan Response, 1)
	req.OnCompletion(func(resp Response) { done <- resp })
	select {
	case resp := <-done:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request completion")
		return Response{}
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

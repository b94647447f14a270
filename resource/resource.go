package resource

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Resource is the canonical state holder for one URL. All instances come
// from a Service, which guarantees one Resource per canonical URL for as
// long as anything references or observes it.
//
// A resource keeps its latest data and latest error independently: a new
// error never discards existing data, and new data always clears the
// error. All methods are safe for concurrent use.
type Resource struct {
	svc    *Service
	url    string
	config *Configuration

	// cacheBindings are derived once at construction, before any
	// background work can need them.
	cacheBindings []cacheBinding

	// Guarded by svc.mu.
	latestData      *Entity
	latestError     *Error
	invalidated     bool
	loadRequests    []*networkRequest
	allRequests     []*networkRequest
	observerEntries []*observerEntry
}

// newResource builds the resource and schedules the one-time seed read
// from persistent caches. Resource-level settings come from the GET
// configuration. Caller holds the service lock.
func newResource(svc *Service, url string) *Resource {
	config := svc.configurationForLocked(url, http.MethodGet)
	r := &Resource{
		svc:           svc,
		url:           url,
		config:        config,
		cacheBindings: config.Pipeline.deriveCacheBindings(url),
	}
	if len(r.cacheBindings) > 0 {
		r.seedFromCache()
	}
	return r
}

// URL returns the canonical URL this resource represents.
func (r *Resource) URL() string {
	return r.url
}

func (r *Resource) pipeline() *Pipeline {
	return r.config.Pipeline
}

// LatestData returns the most recent data, or nil. Data persists across
// subsequent errors.
func (r *Resource) LatestData() *Entity {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	return r.latestData
}

// LatestError returns the most recent error, or nil. The error is cleared
// by any successful load, 304, or local override.
func (r *Resource) LatestError() *Error {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	return r.latestError
}

// Text returns the latest data's content as text, or "".
func (r *Resource) Text() string {
	if data := r.LatestData(); data != nil {
		return data.Text()
	}
	return ""
}

// Timestamp returns the newer of the data and error timestamps, or the
// zero time for an empty resource.
func (r *Resource) Timestamp() time.Time {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	return r.timestampLocked()
}

func (r *Resource) timestampLocked() time.Time {
	var ts time.Time
	if r.latestData != nil {
		ts = r.latestData.Timestamp
	}
	if r.latestError != nil && r.latestError.Timestamp.After(ts) {
		ts = r.latestError.Timestamp
	}
	return ts
}

// IsLoading reports whether a load request is in flight.
func (r *Resource) IsLoading() bool {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	return len(r.loadRequests) > 0
}

// IsRequesting reports whether any request, load or ad hoc, is in flight.
func (r *Resource) IsRequesting() bool {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	return len(r.allRequests) > 0
}

// IsUpToDate reports whether the current state is fresh enough that
// LoadIfNeeded would not start a request: not invalidated, and younger
// than the configured expiration window (retry window while in error).
func (r *Resource) IsUpToDate() bool {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	return r.isUpToDateLocked()
}

func (r *Resource) isUpToDateLocked() bool {
	if r.invalidated {
		return false
	}
	ts := r.timestampLocked()
	if ts.IsZero() {
		return false
	}
	window := r.config.ExpirationTime
	if r.latestError != nil {
		window = r.config.RetryTime
	}
	return r.svc.now().Sub(ts) <= window
}

// Invalidate forces the next LoadIfNeeded to trigger a load regardless of
// freshness, without discarding current data or error. Any subsequent
// data or error update clears the flag.
func (r *Resource) Invalidate() {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	r.invalidated = true
}

// Load starts a GET for this resource, attaching If-None-Match when data
// with an etag exists. If a load is already in flight, that request is
// returned instead of starting another. Observers receive EventRequested
// before the load's outcome event.
func (r *Resource) Load() Request {
	s := r.svc
	s.mu.Lock()
	if len(r.loadRequests) > 0 {
		req := r.loadRequests[0]
		s.mu.Unlock()
		return req
	}

	headers := cloneHeader(r.config.Headers)
	if r.latestData != nil && r.latestData.ETag != "" {
		headers.Set("If-None-Match", r.latestData.ETag)
	}
	req := newNetworkRequest(r, http.MethodGet, headers, nil, true)
	r.loadRequests = append(r.loadRequests, req)
	r.allRequests = append(r.allRequests, req)
	r.notifyObserversLocked(Event{Kind: EventRequested})
	s.mu.Unlock()

	req.start()
	return req
}

// LoadIfNeeded returns the in-flight load if one exists, nil when the
// resource is up to date, and otherwise starts a Load.
func (r *Resource) LoadIfNeeded() Request {
	s := r.svc
	s.mu.Lock()
	if len(r.loadRequests) > 0 {
		req := r.loadRequests[0]
		s.mu.Unlock()
		return req
	}
	if r.isUpToDateLocked() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return r.Load()
}

// Request starts an ad hoc request against this resource's URL using the
// headers configured for the given method. Ad hoc requests are tracked for
// cancellation but never update the resource's data or error, and emit no
// observer events.
func (r *Resource) Request(method string, body []byte) Request {
	return r.requestWithBody(method, "", body)
}

// RequestWithText starts an ad hoc request carrying a text/plain body.
// Text that is not valid UTF-8 fails without reaching the transport.
func (r *Resource) RequestWithText(method, text string) Request {
	if !utf8.ValidString(text) {
		return r.failedRequest(ErrUnencodableText)
	}
	return r.requestWithBody(method, "text/plain; charset=utf-8", []byte(text))
}

// RequestWithJSON starts an ad hoc request carrying body serialized as
// JSON. Unserializable values fail without reaching the transport.
func (r *Resource) RequestWithJSON(method string, body any) Request {
	data, err := json.Marshal(body)
	if err != nil {
		return r.failedRequest(ErrInvalidJSONObject)
	}
	return r.requestWithBody(method, "application/json", data)
}

// RequestWithURLEncoded starts an ad hoc request carrying params as a form
// body. Keys or values that are not valid UTF-8 fail without reaching the
// transport.
func (r *Resource) RequestWithURLEncoded(method string, params map[string]string) Request {
	form := url.Values{}
	for key, value := range params {
		if !utf8.ValidString(key) || !utf8.ValidString(value) {
			return r.failedRequest(ErrNotURLEncodable)
		}
		form.Set(key, value)
	}
	return r.requestWithBody(method, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func (r *Resource) requestWithBody(method, contentType string, body []byte) Request {
	s := r.svc
	method = strings.ToUpper(method)

	s.mu.Lock()
	headers := cloneHeader(s.configurationForLocked(r.url, method).Headers)
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	req := newNetworkRequest(r, method, headers, body, false)
	r.allRequests = append(r.allRequests, req)
	s.mu.Unlock()

	req.start()
	return req
}

// failedRequest produces a request that is already complete with a local
// encoding failure.
func (r *Resource) failedRequest(cause error) Request {
	failure := newError("", 0, nil, cause)
	failure.Timestamp = r.svc.now()
	return &completedRequest{svc: r.svc, failure: failure}
}

// Wipe cancels every in-flight request, clears data and error, notifies
// observers with a wipe event, and then re-seeds from the persistent
// caches exactly as at construction.
func (r *Resource) Wipe() {
	s := r.svc
	s.mu.Lock()
	inFlight := append([]*networkRequest(nil), r.allRequests...)
	s.mu.Unlock()

	for _, req := range inFlight {
		req.Cancel()
	}

	s.mu.Lock()
	r.latestData = nil
	r.latestError = nil
	r.invalidated = false
	r.notifyObserversLocked(Event{Kind: EventNewData, Source: SourceWipe})
	s.mu.Unlock()

	if len(r.cacheBindings) > 0 {
		r.seedFromCache()
	}
}

// OverrideLocalData injects an entity as if it were a network success,
// tagged as a local override. The resource's persistent cache entries are
// purged, since locally injected data may not match what is stored.
func (r *Resource) OverrideLocalData(entity *Entity) {
	s := r.svc
	s.mu.Lock()
	r.receiveNewDataLocked(entity, SourceLocalOverride)
	s.mu.Unlock()

	r.purgeCacheEntries()
}

// OverrideLocalContent replaces only the payload of the current entity,
// preserving headers, and re-touches its timestamp. With no current
// entity, a fresh one is synthesized around the content.
func (r *Resource) OverrideLocalContent(content any) {
	s := r.svc
	s.mu.Lock()
	var entity *Entity
	if r.latestData != nil {
		entity = r.latestData.withContent(content)
		entity.Timestamp = time.Time{}
	} else {
		entity = NewEntity(content, "application/binary")
	}
	r.receiveNewDataLocked(entity, SourceLocalOverride)
	s.mu.Unlock()

	r.purgeCacheEntries()
}

func (r *Resource) purgeCacheEntries() {
	if len(r.cacheBindings) == 0 {
		return
	}
	bindings := r.cacheBindings
	r.svc.dispatcher.work("cache-purge", func() {
		r.pipeline().removeCacheEntries(bindings, r.svc.log)
	})
}

// seedFromCache schedules the one-time persistent-cache read. The read is
// purely additive: a hit is discarded when data arrived first.
func (r *Resource) seedFromCache() {
	s := r.svc
	bindings := r.cacheBindings
	s.dispatcher.work("cache-seed", func() {
		entity, ok := r.pipeline().cachedEntity(bindings, s.log)
		if !ok {
			return
		}
		s.mu.Lock()
		if r.latestData == nil {
			r.receiveNewDataLocked(entity, SourceCache)
		}
		s.mu.Unlock()
	})
}

// receiveNewDataLocked applies the new-data transition: data replaced,
// error cleared, invalidation cleared. Caller holds the service lock.
func (r *Resource) receiveNewDataLocked(entity *Entity, source DataSource) {
	if entity.Timestamp.IsZero() {
		entity.Touch(r.svc.now())
	}
	r.latestData = entity
	r.latestError = nil
	r.invalidated = false
	r.notifyObserversLocked(Event{Kind: EventNewData, Source: source})
}

// receiveErrorLocked applies the error transition: error replaced, data
// left untouched, invalidation cleared. Caller holds the service lock.
func (r *Resource) receiveErrorLocked(failure *Error) {
	if failure.Timestamp.IsZero() {
		failure.Timestamp = r.svc.now()
	}
	r.latestError = failure
	r.invalidated = false
	r.notifyObserversLocked(Event{Kind: EventError})
}

// removeRequestLocked drops a completed request from both tracking lists.
// Caller holds the service lock.
func (r *Resource) removeRequestLocked(req *networkRequest) {
	r.loadRequests = removeRequest(r.loadRequests, req)
	r.allRequests = removeRequest(r.allRequests, req)
}

func removeRequest(reqs []*networkRequest, req *networkRequest) []*networkRequest {
	for i, candidate := range reqs {
		if candidate == req {
			return append(reqs[:i], reqs[i+1:]...)
		}
	}
	return reqs
}

// applyResponse finishes a request whose outcome is ordinary data or
// failure. For loads, the resource state machine advances; ad hoc requests
// only complete their hooks.
func (s *Service) applyResponse(req *networkRequest, resp Response, notModified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := req.res
	res.removeRequestLocked(req)
	if req.abandoned() {
		// A cancellation won while the outcome was still in the
		// pipeline; the late result is dropped.
		return
	}
	if req.isLoad {
		if resp.IsSuccess() {
			res.receiveNewDataLocked(resp.Entity(), SourceNetwork)
		} else {
			res.receiveErrorLocked(resp.Failure())
		}
	}
	req.complete(requestResult{response: resp, notModified: notModified})
}

// applyNotModified finishes a request answered with 304. For a load with
// prior data the entity is merely touched and the pipeline caches learn
// the new timestamp; without prior data the 304 is an error. An ad hoc
// request completes with the raw 304 entity.
func (s *Service) applyNotModified(req *networkRequest, raw *Entity) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	res := req.res
	res.removeRequestLocked(req)
	if req.abandoned() {
		return
	}

	if !req.isLoad {
		req.complete(requestResult{response: NewDataResponse(raw), notModified: true})
		return
	}

	if res.latestData == nil {
		failure := newError("", http.StatusNotModified, nil, ErrNoLocalDataFor304)
		res.receiveErrorLocked(failure)
		req.complete(requestResult{response: NewFailureResponse(failure)})
		return
	}

	res.latestData.Touch(now)
	res.latestError = nil
	res.invalidated = false
	if len(res.cacheBindings) > 0 {
		bindings := res.cacheBindings
		ts := res.latestData.Timestamp
		s.dispatcher.work("cache-touch", func() {
			res.pipeline().updateCacheEntryTimestamps(ts, bindings, s.log)
		})
	}
	res.notifyObserversLocked(Event{Kind: EventNotModified})
	req.complete(requestResult{response: NewDataResponse(res.latestData), notModified: true})
}

// applyCancellation finishes a cancelled request. Cancellation is a
// distinct signal: observers of a load see EventRequestCancelled, and
// neither latestData nor latestError changes.
func (s *Service) applyCancellation(req *networkRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := req.res
	res.removeRequestLocked(req)
	if req.IsCompleted() {
		// The real outcome won the race against the cancel.
		return
	}
	if req.isLoad {
		res.notifyObserversLocked(Event{Kind: EventRequestCancelled})
	}
	failure := newError("", 0, nil, ErrRequestCancelled)
	failure.Timestamp = s.now()
	req.complete(requestResult{response: NewFailureResponse(failure), cancelled: true})
}

package resource

import (
	"errors"
	"net/http"
	"sync"
)

// Request is a tracked in-flight request for a resource. Hooks may be
// registered at any time; a hook added after completion still fires, with
// the request's final result. All hooks run on the service's notification
// goroutine.
type Request interface {
	// OnCompletion fires exactly once, whatever the outcome, including
	// cancellation.
	OnCompletion(fn func(Response)) Request

	// OnSuccess fires for new data and for 304 Not Modified, with the
	// resulting entity.
	OnSuccess(fn func(*Entity)) Request

	// OnNewData fires only when the request produced new data.
	OnNewData(fn func(*Entity)) Request

	// OnNotModified fires only for 304 Not Modified.
	OnNotModified(fn func()) Request

	// OnFailure fires for failures other than cancellation.
	OnFailure(fn func(*Error)) Request

	// Cancel stops the request. Its completion hooks fire with a
	// cancellation-flavored failure. Cancelling a completed request is a
	// no-op.
	Cancel()

	// IsCompleted reports whether the request has finished.
	IsCompleted() bool
}

// completedRequest is a Request that was born finished, used for requests
// whose body could not even be encoded. Hooks fire asynchronously on the
// notification goroutine, like every other callback. Only the
// failure-flavored hooks can ever match: OnSuccess, OnNewData, and
// OnNotModified return without registering anything, which is the same
// observable behavior as registering a hook whose condition never holds.
type completedRequest struct {
	svc     *Service
	failure *Error
}

func (r *completedRequest) OnCompletion(fn func(Response)) Request {
	resp := NewFailureResponse(r.failure)
	r.svc.dispatcher.notify(func() { fn(resp) })
	return r
}

func (r *completedRequest) OnSuccess(fn func(*Entity)) Request { return r }
func (r *completedRequest) OnNewData(fn func(*Entity)) Request { return r }
func (r *completedRequest) OnNotModified(fn func()) Request    { return r }

func (r *completedRequest) OnFailure(fn func(*Error)) Request {
	failure := r.failure
	r.svc.dispatcher.notify(func() { fn(failure) })
	return r
}

func (r *completedRequest) Cancel()           {}
func (r *completedRequest) IsCompleted() bool { return true }

// requestResult is the final state of a completed request.
type requestResult struct {
	response    Response
	notModified bool
	cancelled   bool
}

// networkRequest implements Request for transport-backed requests.
type networkRequest struct {
	svc    *Service
	res    *Resource
	spec   RequestSpec
	isLoad bool

	mu        sync.Mutex
	handle    TransportHandle
	cancelled bool
	done      bool
	result    requestResult
	callbacks []func(requestResult)
}

func newNetworkRequest(res *Resource, method string, headers http.Header, body []byte, isLoad bool) *networkRequest {
	return &networkRequest{
		svc: res.svc,
		res: res,
		spec: RequestSpec{
			Method:  method,
			URL:     res.url,
			Headers: headers,
			Body:    body,
		},
		isLoad: isLoad,
	}
}

// start hands the request to the transport. Called without the service
// lock. A request cancelled before start never reaches the transport; its
// completion already fired from Cancel.
func (r *networkRequest) start() {
	r.mu.Lock()
	if r.cancelled || r.done {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	handle := r.svc.transport.StartRequest(r.spec, r.handleTransportResult)

	r.mu.Lock()
	r.handle = handle
	cancelled := r.cancelled
	r.mu.Unlock()
	if cancelled {
		handle.Cancel()
	}
}

// handleTransportResult interprets the transport's single completion.
// Runs on a transport goroutine.
func (r *networkRequest) handleTransportResult(result TransportResult) {
	r.mu.Lock()
	if r.cancelled || r.done {
		// Cancel already completed this request.
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	now := r.svc.now()

	switch {
	case result.Err != nil:
		if errors.Is(result.Err, ErrRequestCancelled) {
			r.svc.applyCancellation(r)
			return
		}
		failure := newError("", 0, nil, result.Err)
		failure.Timestamp = now
		r.svc.applyResponse(r, NewFailureResponse(failure), false)

	case result.StatusCode == http.StatusNotModified:
		raw := entityFromTransport(result.StatusCode, result.Headers, result.Body, now)
		r.svc.applyNotModified(r, raw)

	default:
		entity := entityFromTransport(result.StatusCode, result.Headers, result.Body, now)
		raw := NewDataResponse(entity)
		if result.StatusCode >= 400 {
			failure := newError("", result.StatusCode, entity, nil)
			failure.Timestamp = now
			raw = NewFailureResponse(failure)
		}
		// Pipeline transforms run off the owning context; cache keys were
		// derived at resource construction.
		r.svc.dispatcher.work("pipeline-process", func() {
			processed := r.res.pipeline().process(raw, r.res.cacheBindings, r.svc.log)
			r.svc.applyResponse(r, processed, false)
		})
	}
}

// Cancel guarantees the completion hooks fire with a cancellation-flavored
// failure, exactly once. Cancelling after completion is a no-op; the
// transport cancel is best-effort.
func (r *networkRequest) Cancel() {
	r.mu.Lock()
	if r.cancelled || r.done {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	handle := r.handle
	r.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
	r.svc.applyCancellation(r)
}

// IsCompleted reports whether the final result is in.
func (r *networkRequest) IsCompleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// abandoned reports whether the request can no longer accept a transport
// outcome: it has completed, or a cancellation is in flight for it.
func (r *networkRequest) abandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done || r.cancelled
}

// complete records the final result and schedules all registered hooks, in
// registration order. Runs at most once.
func (r *networkRequest) complete(result requestResult) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.result = result
	callbacks := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}
	r.svc.dispatcher.notify(func() {
		for _, cb := range callbacks {
			cb(result)
		}
	})
}

// addCallback registers a hook, firing it immediately when the request has
// already completed.
func (r *networkRequest) addCallback(cb func(requestResult)) {
	r.mu.Lock()
	if !r.done {
		r.callbacks = append(r.callbacks, cb)
		r.mu.Unlock()
		return
	}
	result := r.result
	r.mu.Unlock()
	r.svc.dispatcher.notify(func() { cb(result) })
}

func (r *networkRequest) OnCompletion(fn func(Response)) Request {
	r.addCallback(func(result requestResult) {
		fn(result.response)
	})
	return r
}

func (r *networkRequest) OnSuccess(fn func(*Entity)) Request {
	r.addCallback(func(result requestResult) {
		if result.response.IsSuccess() && !result.cancelled {
			fn(result.response.Entity())
		}
	})
	return r
}

func (r *networkRequest) OnNewData(fn func(*Entity)) Request {
	r.addCallback(func(result requestResult) {
		if result.response.IsSuccess() && !result.notModified && !result.cancelled {
			fn(result.response.Entity())
		}
	})
	return r
}

func (r *networkRequest) OnNotModified(fn func()) Request {
	r.addCallback(func(result requestResult) {
		if result.notModified {
			fn()
		}
	})
	return r
}

func (r *networkRequest) OnFailure(fn func(*Error)) Request {
	r.addCallback(func(result requestResult) {
		if !result.response.IsSuccess() && !result.cancelled {
			fn(result.response.Failure())
		}
	})
	return r
}

package resource

import (
	"context"
	"sync"

	"github.com/restkit/restkit/logger"
	"github.com/restkit/restkit/routine"
	"github.com/smallnest/chanx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// dispatcher owns the service's two execution contexts: a single FIFO
// notification goroutine that delivers observer and request callbacks in
// enqueue order, and a semaphore-bounded worker pool for pipeline
// transforms and persistent-cache I/O. Keeping notification single-file
// means observers see transitions in exactly the order they happened;
// keeping transforms on workers means parsing and disk access never block
// state updates.
type dispatcher struct {
	log     logger.Logger
	runner  routine.Runner
	queue   *chanx.UnboundedChan[func()]
	workers *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newDispatcher(log logger.Logger, workerLimit int64) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		log:     log,
		runner:  routine.New(log),
		queue:   chanx.NewUnboundedChan[func()](ctx, 16),
		workers: semaphore.NewWeighted(workerLimit),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.runner.GoNamed("notify-loop", d.loop)
	return d
}

// notify enqueues fn onto the FIFO notification queue. Calls made while
// holding the service lock are delivered in lock-acquisition order. After
// close, notifications are dropped.
func (d *dispatcher) notify(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue.In <- fn
}

// work runs fn on the worker pool. Parallelism is capped by the semaphore;
// a closed dispatcher drops the work.
func (d *dispatcher) work(name string, fn func()) {
	d.runner.GoNamed(name, func() {
		if err := d.workers.Acquire(d.ctx, 1); err != nil {
			return
		}
		defer d.workers.Release(1)
		fn()
	})
}

// loop drains the notification queue. Each callback is isolated so a
// panicking observer cannot take the loop down with it.
func (d *dispatcher) loop() {
	for fn := range d.queue.Out {
		d.safeCall(fn)
	}
}

func (d *dispatcher) safeCall(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("notification callback panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}

// close drains pending notifications, stops the workers, and waits for all
// dispatcher goroutines to finish.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue.In)
	d.mu.Unlock()

	d.runner.Wait()
	d.cancel()
}

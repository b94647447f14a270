package weakcache

import "sync"

// Notifier broadcasts memory pressure to subscribed caches. It is an
// explicit object rather than process-global state so tests and embedding
// applications can run isolated instances.
type Notifier struct {
	mu   sync.Mutex
	subs []func()
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn to be invoked on every Publish.
// Subscriptions cannot be removed; a Notifier should not outlive what it
// notifies by much.
func (n *Notifier) Subscribe(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// Publish invokes every subscribed function, in subscription order.
// Callers signal memory pressure through this; the caches respond by
// flushing unused entries.
func (n *Notifier) Publish() {
	n.mu.Lock()
	subs := make([]func(), len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

package resource

import "reflect"

// Observer receives state-change events for a resource it is attached to.
// Callbacks run on the service's notification goroutine, in attachment
// order, never while internal locks are held, so observers may freely call
// back into the resource API.
type Observer interface {
	ResourceChanged(res *Resource, event Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(res *Resource, event Event)

// ResourceChanged implements Observer.
func (f ObserverFunc) ResourceChanged(res *Resource, event Event) {
	f(res, event)
}

// LifecycleObserver is implemented by observers that want to know when they
// stop observing a resource, whether via owner removal or a wipe of the
// registry. The hook fires exactly once per detached registration.
type LifecycleObserver interface {
	Observer
	StoppedObserving(res *Resource)
}

// EquivalentObserver lets an observer declare structural equivalence with
// another. Attaching an observer equivalent to an existing one merges
// ownership instead of creating a duplicate registration. The default is
// identity equality.
type EquivalentObserver interface {
	Observer
	IsEquivalentTo(other Observer) bool
}

// observerEntry tracks one attached observer: the observer itself, the set
// of external owners (identity-keyed), and whether the observer owns its
// own registration. An entry is defunct once it neither owns itself nor
// has any owners left; liveness is computed from ownership, never from
// collector timing.
type observerEntry struct {
	observer  Observer
	owners    map[any]struct{}
	selfOwned bool
}

func (e *observerEntry) defunct() bool {
	return !e.selfOwned && len(e.owners) == 0
}

// observersEquivalent reports whether two observers should share one entry.
// EquivalentObserver decides for itself; everything else falls back to
// identity equality, guarded against non-comparable dynamic types.
func observersEquivalent(a, b Observer) bool {
	if eq, ok := a.(EquivalentObserver); ok {
		return eq.IsEquivalentTo(b)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

// AddObserver attaches an observer that owns its own registration: it stays
// attached until RemoveObserver or a registry wipe. Attaching an observer
// equivalent to an existing one merges into that entry and delivers no
// event; a genuinely new observer alone receives EventObserverAdded.
// Returns the resource for chaining.
func (r *Resource) AddObserver(observer Observer) *Resource {
	return r.addObserver(observer, nil, true)
}

// AddObserverOwned attaches an observer whose registration is retained by
// owner. The owner must be usable as a map key. Once every owner of an
// entry is removed (and the observer does not own itself), the entry is
// purged and StoppedObserving fires.
func (r *Resource) AddObserverOwned(observer Observer, owner any) *Resource {
	return r.addObserver(observer, owner, false)
}

func (r *Resource) addObserver(observer Observer, owner any, selfOwned bool) *Resource {
	s := r.svc
	s.mu.Lock()
	r.purgeDefunctObserversLocked()

	for _, entry := range r.observerEntries {
		if observersEquivalent(entry.observer, observer) {
			if selfOwned {
				entry.selfOwned = true
			} else {
				entry.owners[owner] = struct{}{}
			}
			s.mu.Unlock()
			return r
		}
	}

	entry := &observerEntry{
		observer:  observer,
		owners:    make(map[any]struct{}),
		selfOwned: selfOwned,
	}
	if !selfOwned {
		entry.owners[owner] = struct{}{}
	}
	r.observerEntries = append(r.observerEntries, entry)
	r.updateRetentionLocked()

	// Delivered to the new observer alone, never to the others.
	res := r
	s.dispatcher.notify(func() {
		observer.ResourceChanged(res, Event{Kind: EventObserverAdded})
	})
	s.mu.Unlock()
	return r
}

// RemoveObserver drops a self-owned registration of an observer equivalent
// to the given one. External ownership of the same entry keeps it alive.
func (r *Resource) RemoveObserver(observer Observer) {
	s := r.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range r.observerEntries {
		if observersEquivalent(entry.observer, observer) {
			entry.selfOwned = false
			break
		}
	}
	r.purgeDefunctObserversLocked()
}

// RemoveObserversOwnedBy removes owner from every entry's owner set, then
// purges entries left without owners, firing StoppedObserving once per
// purged entry.
func (r *Resource) RemoveObserversOwnedBy(owner any) {
	s := r.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range r.observerEntries {
		delete(entry.owners, owner)
	}
	r.purgeDefunctObserversLocked()
}

// ObserverCount returns the number of live observer registrations.
func (r *Resource) ObserverCount() int {
	s := r.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	r.purgeDefunctObserversLocked()
	return len(r.observerEntries)
}

// purgeDefunctObserversLocked drops defunct entries, schedules their
// StoppedObserving hooks, and updates service-side retention. Runs before
// every add, remove, and notify so the live/defunct partition stays
// accurate. Caller holds the service lock.
func (r *Resource) purgeDefunctObserversLocked() {
	live := r.observerEntries[:0]
	var stopped []LifecycleObserver
	for _, entry := range r.observerEntries {
		if entry.defunct() {
			if lo, ok := entry.observer.(LifecycleObserver); ok {
				stopped = append(stopped, lo)
			}
			continue
		}
		live = append(live, entry)
	}
	r.observerEntries = live
	r.updateRetentionLocked()

	if len(stopped) > 0 {
		res := r
		r.svc.dispatcher.notify(func() {
			for _, lo := range stopped {
				lo.StoppedObserving(res)
			}
		})
	}
}

// notifyObserversLocked purges defunct entries and delivers event to every
// remaining observer in attachment order. Delivery happens on the
// notification goroutine; the set of recipients is fixed here, under the
// lock, so observers never see partial updates. Caller holds the service
// lock.
func (r *Resource) notifyObserversLocked(event Event) {
	r.purgeDefunctObserversLocked()
	if len(r.observerEntries) == 0 {
		return
	}
	observers := make([]Observer, len(r.observerEntries))
	for i, entry := range r.observerEntries {
		observers[i] = entry.observer
	}
	res := r
	r.svc.dispatcher.notify(func() {
		for _, o := range observers {
			o.ResourceChanged(res, event)
		}
	})
}

// updateRetentionLocked keeps the service's strong reference to this
// resource in step with whether anything observes it. An observed resource
// must survive weak-cache flushes. Caller holds the service lock.
func (r *Resource) updateRetentionLocked() {
	if len(r.observerEntries) > 0 {
		r.svc.observed[r.url] = r
	} else {
		delete(r.svc.observed, r.url)
	}
}

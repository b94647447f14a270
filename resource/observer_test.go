package resource

import (
	"net/http"
	"testing"
	"time"
)

func waitForEvents(t *testing.T, obs *recordingObserver, n int) []Event {
	t.Helper()
	eventually(t, func() bool { return len(obs.Events()) >= n }, "observer never received enough events")
	return obs.Events()
}

func TestObserver_AddedEventGoesToNewObserverOnly(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res := mustResource(t, svc, "/motd")

	first := &recordingObserver{}
	res.AddObserver(first)
	events := waitForEvents(t, first, 1)
	if events[0].Kind != EventObserverAdded {
		t.Fatalf("first event = %v, want ObserverAdded", events[0].Kind)
	}

	second := &recordingObserver{}
	res.AddObserver(second)
	waitForEvents(t, second, 1)

	if got := first.Events(); len(got) != 1 {
		t.Errorf("existing observer received %d events, want 1", len(got))
	}
}

func TestObserver_DuplicateAddMergesEntry(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res := mustResource(t, svc, "/motd")

	obs := &recordingObserver{}
	res.AddObserver(obs)
	res.AddObserver(obs)

	if n := res.ObserverCount(); n != 1 {
		t.Errorf("ObserverCount() = %d, want 1", n)
	}
	waitForEvents(t, obs, 1)
	time.Sleep(20 * time.Millisecond)
	if got := obs.Events(); len(got) != 1 {
		t.Errorf("merged add delivered %d events, want 1", len(got))
	}
}

func TestObserver_EventOrderAcrossLoad(t *testing.T) {
	svc, ft, _ := newTestService(t, nil)
	ft.results = []TransportResult{textResult(http.StatusOK, "hello")}

	res := mustResource(t, svc, "/motd")
	obs := &recordingObserver{}
	res.AddObserver(obs)

	awaitCompletion(t, res.Load())

	events := waitForEvents(t, obs, 3)
	want := []EventKind{EventObserverAdded, EventRequested, EventNewData}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Fatalf("event %d = %v, want %v (all: %v)", i, events[i].Kind, kind, events)
		}
	}
	if events[2].Source != SourceNetwork {
		t.Errorf("Source = %v, want network", events[2].Source)
	}
}

func TestObserver_Ownership(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res := mustResource(t, svc, "/motd")

	type ownerKey struct{ name string }
	a, b := ownerKey{"a"}, ownerKey{"b"}

	obs := &recordingObserver{}
	res.AddObserverOwned(obs, a)
	res.AddObserverOwned(obs, b)
	if n := res.ObserverCount(); n != 1 {
		t.Fatalf("ObserverCount() = %d, want 1 merged entry", n)
	}

	res.RemoveObserversOwnedBy(a)
	if n := res.ObserverCount(); n != 1 {
		t.Errorf("entry dropped while still owned: count = %d", n)
	}
	if obs.Stopped() != 0 {
		t.Error("StoppedObserving fired while still owned")
	}

	res.RemoveObserversOwnedBy(b)
	if n := res.ObserverCount(); n != 0 {
		t.Errorf("ObserverCount() = %d after last owner removed", n)
	}
	eventually(t, func() bool { return obs.Stopped() == 1 }, "StoppedObserving never fired")
	time.Sleep(20 * time.Millisecond)
	if obs.Stopped() != 1 {
		t.Errorf("StoppedObserving fired %d times, want exactly 1", obs.Stopped())
	}
}

func TestObserver_SelfOwnershipAndExternalOwnershipCombine(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res := mustResource(t, svc, "/motd")

	type ownerKey struct{}
	obs := &recordingObserver{}
	res.AddObserver(obs)
	res.AddObserverOwned(obs, ownerKey{})

	res.RemoveObserver(obs)
	if n := res.ObserverCount(); n != 1 {
		t.Errorf("externally owned entry dropped by RemoveObserver: count = %d", n)
	}

	res.RemoveObserversOwnedBy(ownerKey{})
	if n := res.ObserverCount(); n != 0 {
		t.Errorf("ObserverCount() = %d, want 0", n)
	}
}

func TestObserver_RemoveUnknownIsNoOp(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res := mustResource(t, svc, "/motd")

	res.RemoveObserver(&recordingObserver{})
	res.RemoveObserversOwnedBy("nobody")
	if n := res.ObserverCount(); n != 0 {
		t.Errorf("ObserverCount() = %d, want 0", n)
	}
}

// equivalentObserver declares equivalence by ID rather than identity.
type equivalentObserver struct {
	recordingObserver
	id string
}

func (o *equivalentObserver) IsEquivalentTo(other Observer) bool {
	eq, ok := other.(*equivalentObserver)
	return ok && eq.id == o.id
}

func TestObserver_EquivalenceMerges(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res := mustResource(t, svc, "/motd")

	res.AddObserver(&equivalentObserver{id: "metrics"})
	res.AddObserver(&equivalentObserver{id: "metrics"})
	res.AddObserver(&equivalentObserver{id: "ui"})

	if n := res.ObserverCount(); n != 2 {
		t.Errorf("ObserverCount() = %d, want 2", n)
	}
}

func TestObserver_RemovedObserverReceivesNoFurtherEvents(t *testing.T) {
	svc, ft, _ := newTestService(t, nil)
	ft.results = []TransportResult{textResult(http.StatusOK, "hello")}

	res := mustResource(t, svc, "/motd")
	obs := &recordingObserver{}
	res.AddObserver(obs)
	waitForEvents(t, obs, 1)

	res.RemoveObserver(obs)
	awaitCompletion(t, res.Load())
	time.Sleep(20 * time.Millisecond)

	for _, e := range obs.Events() {
		if e.Kind == EventNewData {
			t.Error("removed observer received EventNewData")
		}
	}
}

// funcObserver exercises ObserverFunc plus reentrant resource access from
// inside a callback.
func TestObserver_ReentrantCallback(t *testing.T) {
	svc, ft, _ := newTestService(t, nil)
	ft.results = []TransportResult{textResult(http.StatusOK, "hello")}

	res := mustResource(t, svc, "/motd")
	seen := make(chan string, 4)
	res.AddObserver(ObserverFunc(func(r *Resource, event Event) {
		if event.Kind == EventNewData {
			// Calling back into the resource from a callback must not
			// deadlock.
			seen <- r.Text()
		}
	}))

	awaitCompletion(t, res.Load())
	select {
	case text := <-seen:
		if text != "hello" {
			t.Errorf("observer read %q, want %q", text, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer callback never ran")
	}
}

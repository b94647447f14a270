package resource

// EventKind identifies a resource state-change event.
type EventKind int

const (
	// EventObserverAdded is delivered once to a newly attached observer,
	// and to no one else.
	EventObserverAdded EventKind = iota
	// EventRequested is delivered when a load request starts. It always
	// precedes that load's outcome event.
	EventRequested
	// EventRequestCancelled is delivered when an in-flight load is
	// cancelled. The resource's data and error are left untouched.
	EventRequestCancelled
	// EventNewData is delivered when latestData was replaced. The event's
	// Source says where the data came from.
	EventNewData
	// EventNotModified is delivered when the server confirmed the existing
	// data is still current (304).
	EventNotModified
	// EventError is delivered when latestError was replaced.
	EventError
)

// String returns a readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventObserverAdded:
		return "ObserverAdded"
	case EventRequested:
		return "Requested"
	case EventRequestCancelled:
		return "RequestCancelled"
	case EventNewData:
		return "NewData"
	case EventNotModified:
		return "NotModified"
	case EventError:
		return "Error"
	}
	return "Unknown"
}

// DataSource says where the data of an EventNewData came from.
type DataSource int

const (
	// SourceNetwork marks data freshly received from the transport.
	SourceNetwork DataSource = iota
	// SourceCache marks data re-inflated from a persistent cache.
	SourceCache
	// SourceLocalOverride marks data injected via OverrideLocalData or
	// OverrideLocalContent.
	SourceLocalOverride
	// SourceWipe marks the empty state produced by Wipe.
	SourceWipe
)

// String returns a readable name for the data source.
func (s DataSource) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceLocalOverride:
		return "local-override"
	case SourceWipe:
		return "wipe"
	}
	return "unknown"
}

// Event carries the details of a resource state-change notification.
type Event struct {
	// Kind is the event type.
	Kind EventKind
	// Source is meaningful only when Kind is EventNewData.
	Source DataSource
}

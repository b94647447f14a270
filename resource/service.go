package resource

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/restkit/restkit/logger"
	"github.com/restkit/restkit/weakcache"
	"go.uber.org/zap"
)

// Service hands out one canonical Resource per URL and owns everything the
// resources share: the transport, the clock, the notification and worker
// contexts, configuration rules, and the weak resource cache.
type Service struct {
	log        logger.Logger
	baseURL    *url.URL
	transport  Transport
	now        func() time.Time
	dispatcher *dispatcher
	pressure   *weakcache.Notifier
	resources  *weakcache.Cache[string, Resource]

	defaultExpiration          time.Duration
	defaultRetry               time.Duration
	disableDefaultTransformers bool

	// mu guards all resource and rule state. Observer callbacks never run
	// under it.
	mu       sync.Mutex
	rules    []configRule
	observed map[string]*Resource
}

// Option customizes a Service beyond its Config.
type Option func(*Service)

// WithTransport replaces the default net/http transport.
func WithTransport(t Transport) Option {
	return func(s *Service) { s.transport = t }
}

// WithClock injects the time source used for entity timestamps and
// staleness checks. Tests inject a fake clock here.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPressureNotifier shares an existing memory-pressure notifier instead
// of the service creating its own.
func WithPressureNotifier(n *weakcache.Notifier) Option {
	return func(s *Service) { s.pressure = n }
}

// NewService creates a Service. A nil logger discards logs, a nil config
// uses defaults; zero config fields are merged with defaults.
func NewService(log logger.Logger, cfg *Config, opts ...Option) (*Service, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		defaults := DefaultConfig()
		if cfg.ExpirationTime == 0 {
			cfg.ExpirationTime = defaults.ExpirationTime
		}
		if cfg.RetryTime == 0 {
			cfg.RetryTime = defaults.RetryTime
		}
		if cfg.WorkerLimit == 0 {
			cfg.WorkerLimit = defaults.WorkerLimit
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var base *url.URL
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil || !parsed.IsAbs() {
			if err == nil {
				err = ErrInvalidURL(cfg.BaseURL, errInvalidBase)
			} else {
				err = ErrInvalidURL(cfg.BaseURL, err)
			}
			return nil, err
		}
		base = parsed
	}

	s := &Service{
		log:                        log,
		baseURL:                    base,
		now:                        time.Now,
		defaultExpiration:          cfg.ExpirationTime,
		defaultRetry:               cfg.RetryTime,
		disableDefaultTransformers: cfg.DisableDefaultTransformers,
		observed:                   make(map[string]*Resource),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = NewHTTPTransport(log, nil)
	}
	if s.pressure == nil {
		s.pressure = weakcache.NewNotifier()
	}
	s.dispatcher = newDispatcher(log, cfg.WorkerLimit)

	resources, err := weakcache.New[string, Resource](log, &weakcache.Config{
		Name:       "resources",
		CountLimit: cfg.ResourceCountLimit,
	})
	if err != nil {
		return nil, err
	}
	resources.ObservePressure(s.pressure)
	s.resources = resources

	log.Info("resource service initialized",
		zap.String("base_url", cfg.BaseURL),
		zap.Duration("expiration_time", cfg.ExpirationTime),
		zap.Duration("retry_time", cfg.RetryTime),
		zap.Int64("worker_limit", cfg.WorkerLimit),
	)
	return s, nil
}

// Resource returns the canonical Resource for the given URL, creating it
// on first lookup. Relative paths resolve against the service base URL.
// Repeated lookups of the same canonical URL return the identical instance
// for as long as it is referenced or observed.
func (s *Service) Resource(rawURL string) (*Resource, error) {
	canonical, err := s.canonicalURL(rawURL)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.resources.Get(canonical, func() *Resource {
		return newResource(s, canonical)
	})
	return res, nil
}

// ResourceAbs is Resource restricted to absolute URLs, for callers that
// must not accidentally resolve against the service base.
func (s *Service) ResourceAbs(rawURL string) (*Resource, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrInvalidURL(rawURL, err)
	}
	if !parsed.IsAbs() {
		return nil, ErrInvalidURL(rawURL, errNotAbsolute)
	}
	return s.Resource(rawURL)
}

// canonicalURL normalizes a URL so that equivalent spellings share one
// resource: base resolution, lowercased scheme and host, dropped fragment,
// query parameters re-encoded in sorted order.
func (s *Service) canonicalURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", ErrInvalidURL(rawURL, err)
	}
	if !parsed.IsAbs() {
		if s.baseURL == nil {
			return "", ErrInvalidURL(rawURL, errNoBase)
		}
		parsed = s.baseURL.ResolveReference(parsed)
	}
	if parsed.Host == "" {
		return "", ErrInvalidURL(rawURL, errNoHost)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	if parsed.RawQuery != "" {
		parsed.RawQuery = parsed.Query().Encode()
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String(), nil
}

// MemoryPressure returns the notifier whose Publish flushes unused
// resources from the cache.
func (s *Service) MemoryPressure() *weakcache.Notifier {
	return s.pressure
}

// FlushUnusedResources demotes all cached resources to weak references,
// letting unreferenced, unobserved ones be collected.
func (s *Service) FlushUnusedResources() {
	s.resources.FlushUnused()
}

// WipeResources wipes every live resource: cancels requests, clears state,
// and re-seeds from persistent caches.
func (s *Service) WipeResources() {
	var live []*Resource
	s.resources.ForEach(func(_ string, res *Resource) {
		live = append(live, res)
	})
	for _, res := range live {
		res.Wipe()
	}
}

// Close drains pending notifications and stops the service's goroutines.
// Resources obtained from a closed service no longer deliver events.
func (s *Service) Close() {
	s.dispatcher.close()
	s.log.Info("resource service closed")
}


package resource

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration for a Service
type Config struct {
	// BaseURL is resolved against relative resource paths and relative
	// configuration patterns. Optional; without it only absolute URLs work.
	BaseURL string `mapstructure:"base_url"`
	// ExpirationTime is how long loaded data stays fresh
	// default: 30 * time.Second
	ExpirationTime time.Duration `mapstructure:"expiration_time"`
	// RetryTime is how long a resource in error waits before LoadIfNeeded
	// retries
	// default: 1 * time.Second
	RetryTime time.Duration `mapstructure:"retry_time"`
	// WorkerLimit caps concurrent pipeline and cache work
	// default: 4
	WorkerLimit int64 `mapstructure:"worker_limit"`
	// ResourceCountLimit is the weak-cache entry limit for resources.
	// Zero disables the limit.
	ResourceCountLimit int `mapstructure:"resource_count_limit"`
	// DisableDefaultTransformers leaves new pipelines empty instead of
	// installing the text and JSON decoders.
	DisableDefaultTransformers bool `mapstructure:"disable_default_transformers"`
}

// DefaultConfig returns the default configuration for a Service
func DefaultConfig() *Config {
	return &Config{
		ExpirationTime: 30 * time.Second,
		RetryTime:      1 * time.Second,
		WorkerLimit:    4,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ExpirationTime <= 0 {
		return ErrInvalidExpiration(c.ExpirationTime)
	}
	if c.RetryTime <= 0 {
		return ErrInvalidRetryTime(c.RetryTime)
	}
	if c.WorkerLimit < 1 {
		return ErrInvalidWorkerLimit(c.WorkerLimit)
	}
	return nil
}

// Configuration is the per-resource configuration computed by pattern
// matching when a resource is first created: freshness windows, default
// request headers, and the processing pipeline.
type Configuration struct {
	// ExpirationTime is how long data stays fresh for this resource.
	ExpirationTime time.Duration
	// RetryTime is the back-off window after an error.
	RetryTime time.Duration
	// Headers are attached to every request for this resource.
	Headers http.Header
	// Pipeline processes this resource's responses.
	Pipeline *Pipeline
}

// configRule pairs a compiled URL pattern with a configuration mutation,
// optionally restricted to specific request methods.
type configRule struct {
	pattern   string
	re        *regexp.Regexp
	methods   map[string]struct{}
	configure func(*Configuration)
}

func (r configRule) appliesTo(method string) bool {
	if len(r.methods) == 0 {
		return true
	}
	_, ok := r.methods[method]
	return ok
}

// Configure registers a configuration closure for resources whose URL
// matches pattern. Patterns support "*" (within one path segment) and "**"
// (any remainder); relative patterns resolve against the service base URL.
// Rules apply in registration order on top of the service defaults, to
// resources created afterwards.
func (s *Service) Configure(pattern string, fn func(*Configuration)) error {
	return s.ConfigureForMethods(pattern, nil, fn)
}

// ConfigureForMethods is Configure restricted to the given request methods.
// An empty method list applies to all methods. Resource-level settings
// (freshness windows, the pipeline) come from the GET configuration; other
// methods contribute only at request time.
func (s *Service) ConfigureForMethods(pattern string, methods []string, fn func(*Configuration)) error {
	re, err := s.compilePattern(pattern)
	if err != nil {
		return err
	}
	var methodSet map[string]struct{}
	if len(methods) > 0 {
		methodSet = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			methodSet[strings.ToUpper(m)] = struct{}{}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, configRule{pattern: pattern, re: re, methods: methodSet, configure: fn})
	return nil
}

func (s *Service) compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, ErrInvalidPattern(pattern, fmt.Errorf("pattern is empty"))
	}
	full := pattern
	if !strings.Contains(pattern, "://") {
		if s.baseURL == nil {
			return nil, ErrInvalidPattern(pattern, fmt.Errorf("relative pattern requires a base URL"))
		}
		full = strings.TrimRight(s.baseURL.String(), "/") + "/" + strings.TrimLeft(pattern, "/")
	}
	escaped := regexp.QuoteMeta(full)
	escaped = strings.ReplaceAll(escaped, `\*\*`, `.*`)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^/]*`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil, ErrInvalidPattern(pattern, err)
	}
	return re, nil
}

// configurationForLocked computes the configuration for one canonical URL
// and request method: service defaults, then every matching rule in
// registration order. Caller holds the service lock.
func (s *Service) configurationForLocked(canonicalURL, method string) *Configuration {
	cfg := &Configuration{
		ExpirationTime: s.defaultExpiration,
		RetryTime:      s.defaultRetry,
		Headers:        http.Header{},
		Pipeline:       s.newDefaultPipeline(),
	}
	target := stripQuery(canonicalURL)
	for _, rule := range s.rules {
		if rule.appliesTo(method) && rule.re.MatchString(target) {
			rule.configure(cfg)
		}
	}
	return cfg
}

// newDefaultPipeline builds a fresh pipeline with the default decoders,
// unless the service was configured bare.
func (s *Service) newDefaultPipeline() *Pipeline {
	p := NewPipeline()
	if !s.disableDefaultTransformers {
		p.Stage(StageDecoding).AddFor("text/*", TextDecoder())
		p.Stage(StageParsing).AddForErrors("*/json", JSONDecoder())
	}
	return p
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// Rule is one declarative configuration rule, loadable from YAML.
type Rule struct {
	// Pattern is the URL pattern, required.
	Pattern string `yaml:"pattern"`
	// Expiration is a duration string ("90s", "5m"). Empty keeps the default.
	Expiration string `yaml:"expiration"`
	// Retry is a duration string. Empty keeps the default.
	Retry string `yaml:"retry"`
	// Methods restricts the rule to specific request methods. Empty means
	// all methods.
	Methods []string `yaml:"methods"`
	// Headers are merged into the configured request headers.
	Headers map[string]string `yaml:"headers"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads declarative YAML rules and registers each via Configure.
//
// File format:
//
//	rules:
//	  - pattern: "/users/**"
//	    expiration: 90s
//	    headers:
//	      Accept: application/json
func (s *Service) LoadRules(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	for i, rule := range file.Rules {
		if rule.Pattern == "" {
			return ErrInvalidRule(i, fmt.Errorf("pattern is required"))
		}
		var expiration, retry time.Duration
		if rule.Expiration != "" {
			if expiration, err = time.ParseDuration(rule.Expiration); err != nil {
				return ErrInvalidRule(i, err)
			}
		}
		if rule.Retry != "" {
			if retry, err = time.ParseDuration(rule.Retry); err != nil {
				return ErrInvalidRule(i, err)
			}
		}
		headers := rule.Headers
		if err := s.ConfigureForMethods(rule.Pattern, rule.Methods, func(cfg *Configuration) {
			if expiration > 0 {
				cfg.ExpirationTime = expiration
			}
			if retry > 0 {
				cfg.RetryTime = retry
			}
			for name, value := range headers {
				cfg.Headers.Set(name, value)
			}
		}); err != nil {
			return ErrInvalidRule(i, err)
		}
	}
	return nil
}

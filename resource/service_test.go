package resource

import (
	"net/http"
	"runtime"
	"strings"
	"testing"
	"time"
)

// ============ Config Tests ============

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"negative expiration", &Config{ExpirationTime: -time.Second, RetryTime: time.Second, WorkerLimit: 4}, true},
		{"zero retry", &Config{ExpirationTime: time.Second, RetryTime: 0, WorkerLimit: 4}, true},
		{"zero workers", &Config{ExpirationTime: time.Second, RetryTime: time.Second, WorkerLimit: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewService_MergesDefaults(t *testing.T) {
	svc, _, _ := newTestService(t, &Config{BaseURL: "https://api.example.com"})
	if svc.defaultExpiration != 30*time.Second {
		t.Errorf("defaultExpiration = %v, want 30s", svc.defaultExpiration)
	}
	if svc.defaultRetry != time.Second {
		t.Errorf("defaultRetry = %v, want 1s", svc.defaultRetry)
	}
}

func TestNewService_InvalidBaseURL(t *testing.T) {
	_, err := NewService(nil, &Config{BaseURL: "not a url"})
	if err == nil {
		t.Fatal("NewService accepted a relative base URL")
	}
}

// ============ Resource Lookup Tests ============

func TestService_ResourceIdentity(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	a := mustResource(t, svc, "/users/42")
	b := mustResource(t, svc, "/users/42")
	if a != b {
		t.Error("same URL produced distinct resources")
	}

	other := mustResource(t, svc, "/users/43")
	if a == other {
		t.Error("distinct URLs produced the same resource")
	}
}

func TestService_CanonicalURL(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"fragment dropped", "/users/42#section", "/users/42"},
		{"host case", "HTTPS://API.EXAMPLE.COM/users/42", "/users/42"},
		{"query order", "/search?b=2&a=1", "/search?a=1&b=2"},
		{"relative vs absolute", "users/42", "https://api.example.com/users/42"},
		{"empty path", "https://api.example.com", "https://api.example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustResource(t, svc, tt.a)
			b := mustResource(t, svc, tt.b)
			if a != b {
				t.Errorf("%q and %q resolved to %q and %q", tt.a, tt.b, a.URL(), b.URL())
			}
		})
	}
}

func TestService_ResourceErrors(t *testing.T) {
	noBase, _, _ := newTestService(t, &Config{})

	if _, err := noBase.Resource("/users/42"); err == nil {
		t.Error("relative URL without base URL should fail")
	}
	if _, err := noBase.Resource("https://"); err == nil {
		t.Error("URL without host should fail")
	}
	if _, err := noBase.Resource("://bad"); err == nil {
		t.Error("unparsable URL should fail")
	}
}

// ============ Configuration Rule Tests ============

func TestService_ConfigurePatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		url     string
		match   bool
	}{
		{"star within segment", "/users/*", "/users/42", true},
		{"star does not cross segments", "/users/*", "/users/42/posts", false},
		{"star requires the segment", "/users/*/posts", "/users/42/posts", true},
		{"double star crosses segments", "/users/**", "/users/42/posts", true},
		{"query ignored for matching", "/users/*", "/users/42?page=2", true},
		{"absolute pattern other host", "https://other.example.com/**", "/users/42", false},
		{"absolute pattern same host", "https://api.example.com/users/*", "/users/42", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, nil)
			if err := svc.Configure(tt.pattern, func(cfg *Configuration) {
				cfg.ExpirationTime = 90 * time.Second
			}); err != nil {
				t.Fatalf("Configure failed: %v", err)
			}
			res := mustResource(t, svc, tt.url)
			matched := res.config.ExpirationTime == 90*time.Second
			if matched != tt.match {
				t.Errorf("pattern %q vs %q: matched = %v, want %v", tt.pattern, tt.url, matched, tt.match)
			}
		})
	}
}

func TestService_ConfigureOrder(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if err := svc.Configure("/**", func(cfg *Configuration) {
		cfg.ExpirationTime = time.Minute
		cfg.Headers.Set("Accept", "application/json")
	}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := svc.Configure("/users/**", func(cfg *Configuration) {
		cfg.ExpirationTime = 5 * time.Minute
	}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	res := mustResource(t, svc, "/users/42")
	if res.config.ExpirationTime != 5*time.Minute {
		t.Errorf("later rule should win: ExpirationTime = %v", res.config.ExpirationTime)
	}
	if res.config.Headers.Get("Accept") != "application/json" {
		t.Error("earlier rule's headers lost")
	}
}

func TestService_ConfigureErrors(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if err := svc.Configure("", func(*Configuration) {}); err == nil {
		t.Error("empty pattern accepted")
	}

	noBase, _, _ := newTestService(t, &Config{})
	if err := noBase.Configure("/users/*", func(*Configuration) {}); err == nil {
		t.Error("relative pattern without base URL accepted")
	}
}

func TestService_LoadRules(t *testing.T) {
	svc, ft, _ := newTestService(t, nil)
	rules := `
rules:
  - pattern: "/users/**"
    expiration: 90s
    retry: 5s
    headers:
      Accept: application/json
`
	if err := svc.LoadRules(strings.NewReader(rules)); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	res := mustResource(t, svc, "/users/42")
	if res.config.ExpirationTime != 90*time.Second {
		t.Errorf("ExpirationTime = %v, want 90s", res.config.ExpirationTime)
	}
	if res.config.RetryTime != 5*time.Second {
		t.Errorf("RetryTime = %v, want 5s", res.config.RetryTime)
	}

	awaitCompletion(t, res.Load())
	reqs := ft.requests()
	if len(reqs) != 1 || reqs[0].Headers.Get("Accept") != "application/json" {
		t.Errorf("configured headers not attached: %+v", reqs)
	}
}

func TestService_LoadRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing pattern", "rules:\n  - expiration: 90s\n"},
		{"bad duration", "rules:\n  - pattern: \"/x\"\n    expiration: soon\n"},
		{"not yaml", "rules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, nil)
			if err := svc.LoadRules(strings.NewReader(tt.yaml)); err == nil {
				t.Error("LoadRules accepted invalid input")
			}
		})
	}
}

// ============ Lifecycle Tests ============

func TestService_ObservedResourceSurvivesFlush(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	res := mustResource(t, svc, "/users/42")
	res.AddObserver(&recordingObserver{})

	svc.FlushUnusedResources()
	runtime.GC()

	if again := mustResource(t, svc, "/users/42"); again != res {
		t.Error("observed resource was not retained across a flush")
	}
}

func TestService_WipeResources(t *testing.T) {
	svc, ft, _ := newTestService(t, nil)
	ft.results = []TransportResult{textResult(http.StatusOK, "hello")}

	res := mustResource(t, svc, "/motd")
	awaitCompletion(t, res.Load())
	if res.LatestData() == nil {
		t.Fatal("load did not produce data")
	}

	svc.WipeResources()
	if res.LatestData() != nil {
		t.Error("wipe left data behind")
	}
}

func TestService_ResourceAbs(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	res, err := svc.ResourceAbs("https://api.example.com/users/42")
	if err != nil {
		t.Fatalf("ResourceAbs failed: %v", err)
	}
	if same := mustResource(t, svc, "/users/42"); same != res {
		t.Error("ResourceAbs and Resource disagree on the canonical instance")
	}

	if _, err := svc.ResourceAbs("/users/42"); err == nil {
		t.Error("ResourceAbs accepted a relative URL")
	}
}

func TestService_ConfigureForMethods(t *testing.T) {
	svc, ft, _ := newTestService(t, nil)
	if err := svc.ConfigureForMethods("/users/**", []string{"post"}, func(cfg *Configuration) {
		cfg.Headers.Set("X-Write-Token", "tok")
	}); err != nil {
		t.Fatalf("ConfigureForMethods failed: %v", err)
	}

	res := mustResource(t, svc, "/users/42")
	awaitCompletion(t, res.Load())
	awaitCompletion(t, res.Request(http.MethodPost, nil))

	reqs := ft.requests()
	if len(reqs) != 2 {
		t.Fatalf("transport saw %d requests", len(reqs))
	}
	if reqs[0].Headers.Get("X-Write-Token") != "" {
		t.Error("method-restricted header leaked onto GET")
	}
	if reqs[1].Headers.Get("X-Write-Token") != "tok" {
		t.Error("method-restricted header missing from POST")
	}
}

func TestService_LoadRulesMethods(t *testing.T) {
	svc, ft, _ := newTestService(t, nil)
	rules := `
rules:
  - pattern: "/**"
    methods: [POST, PUT]
    headers:
      X-Write-Token: tok
`
	if err := svc.LoadRules(strings.NewReader(rules)); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	res := mustResource(t, svc, "/users/42")
	awaitCompletion(t, res.Request(http.MethodPut, nil))
	awaitCompletion(t, res.Load())

	reqs := ft.requests()
	if reqs[0].Headers.Get("X-Write-Token") != "tok" {
		t.Error("PUT missing rule header")
	}
	if reqs[1].Headers.Get("X-Write-Token") != "" {
		t.Error("GET picked up a write-only rule header")
	}
}

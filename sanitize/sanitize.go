// Package sanitize normalizes and strips dangerous content from untrusted
// request input before any other layer processes it: methods are checked
// against an allow-list, structural ceilings are enforced, control
// characters and traversal sequences are removed from URLs, and markup,
// script, and event-handler patterns are stripped recursively from every
// string leaf of headers, query parameters, and bodies.
package sanitize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Request is the untrusted input handed to the gateway. Body may be a
// string, map[string]any, []any, or any JSON-serializable value.
type Request struct {
	URL       string
	Method    string
	Headers   map[string]string
	Query     map[string]string
	Params    map[string]string
	Body      any
	IPAddress string
	UserAgent string
}

// Result is the outcome of sanitizing a request.
type Result struct {
	// Request is the cleaned request.
	Request Request

	// Valid is false when structural limits were exceeded or a
	// non-recoverable violation was found. Callers must not process an
	// invalid request.
	Valid bool

	// Sanitized is true when any value differs from its input.
	Sanitized bool

	// Violations lists every problem found, recoverable or not.
	Violations []string
}

// Config bounds the sanitizer.
type Config struct {
	// AllowedMethods is the method allow-list. Empty uses the default
	// GET/POST/PUT/PATCH/DELETE/HEAD/OPTIONS set.
	AllowedMethods []string

	// RequireHTTPS rejects absolute URLs with a non-https scheme.
	// Relative URLs are always accepted. Default: true via DefaultConfig.
	RequireHTTPS bool

	// MaxBodyBytes caps the JSON-encoded body size. Default: 1 MiB.
	MaxBodyBytes int

	// MaxHeaders caps the header count. Default: 50.
	MaxHeaders int

	// MaxQueryParams caps the query parameter count. Default: 50.
	MaxQueryParams int
}

// DefaultConfig returns the sanitizer's secure defaults.
func DefaultConfig() Config {
	return Config{
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		RequireHTTPS:   true,
		MaxBodyBytes:   1 << 20,
		MaxHeaders:     50,
		MaxQueryParams: 50,
	}
}

// Sanitizer cleans untrusted requests.
type Sanitizer struct {
	cfg     Config
	methods map[string]struct{}
	logger  *slog.Logger
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithLogger sets the logger for violation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sanitizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Sanitizer. Zero-valued config fields fall back to
// DefaultConfig values.
func New(cfg Config, opts ...Option) *Sanitizer {
	def := DefaultConfig()
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = def.AllowedMethods
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.MaxHeaders <= 0 {
		cfg.MaxHeaders = def.MaxHeaders
	}
	if cfg.MaxQueryParams <= 0 {
		cfg.MaxQueryParams = def.MaxQueryParams
	}

	s := &Sanitizer{
		cfg:     cfg,
		methods: make(map[string]struct{}, len(cfg.AllowedMethods)),
		logger:  slog.Default(),
	}
	for _, m := range cfg.AllowedMethods {
		s.methods[strings.ToUpper(m)] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize cleans the request and returns it with an exhaustive violation
// list. The input request is not modified.
func (s *Sanitizer) Sanitize(req Request) Result {
	res := Result{Valid: true}

	// Structural checks are non-recoverable: exceeding a ceiling or
	// using a disallowed method invalidates the request outright.
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if _, ok := s.methods[method]; !ok {
		res.Valid = false
		res.Violations = append(res.Violations, "method_not_allowed")
	}
	req.Method = method

	if s.cfg.RequireHTTPS && hasInsecureScheme(req.URL) {
		res.Valid = false
		res.Violations = append(res.Violations, "insecure_scheme")
	}
	if len(req.Headers) > s.cfg.MaxHeaders {
		res.Valid = false
		res.Violations = append(res.Violations, "too_many_headers")
	}
	if len(req.Query) > s.cfg.MaxQueryParams {
		res.Valid = false
		res.Violations = append(res.Violations, "too_many_query_params")
	}
	if req.Body != nil {
		if size, err := bodySize(req.Body); err != nil {
			res.Valid = false
			res.Violations = append(res.Violations, "body_not_serializable")
		} else if size > s.cfg.MaxBodyBytes {
			res.Valid = false
			res.Violations = append(res.Violations, "body_too_large")
		}
	}

	// Record which injection patterns the raw input matched before
	// cleaning, so downstream scoring sees the original signal.
	for _, name := range scanRequest(req) {
		res.Violations = append(res.Violations, "injection_pattern:"+name)
	}

	// Cleaning is recoverable: strip and continue.
	cleanedURL, urlChanged := cleanURL(req.URL)
	if urlChanged {
		res.Sanitized = true
		res.Violations = append(res.Violations, "url_rewritten")
	}
	req.URL = cleanedURL

	var changed bool
	req.Headers, changed = cleanStringMap(req.Headers)
	res.Sanitized = res.Sanitized || changed
	req.Query, changed = cleanStringMap(req.Query)
	res.Sanitized = res.Sanitized || changed
	req.Params, changed = cleanStringMap(req.Params)
	res.Sanitized = res.Sanitized || changed
	req.Body, changed = cleanValue(req.Body)
	res.Sanitized = res.Sanitized || changed

	res.Request = req

	if len(res.Violations) > 0 {
		s.logger.Debug("request sanitized",
			"valid", res.Valid,
			"violations", res.Violations)
	}
	return res
}

// scanRequest collects the injection pattern names matched anywhere in
// the raw request, deduplicated in pattern order.
func scanRequest(req Request) []string {
	seen := make(map[string]struct{})
	var names []string

	record := func(s string) {
		for _, name := range ScanString(s) {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}

	record(req.URL)
	for k, v := range req.Headers {
		record(k)
		record(v)
	}
	for k, v := range req.Query {
		record(k)
		record(v)
	}
	for k, v := range req.Params {
		record(k)
		record(v)
	}
	scanValue(req.Body, record)
	return names
}

func scanValue(v any, record func(string)) {
	switch val := v.(type) {
	case string:
		record(val)
	case map[string]any:
		for k, item := range val {
			record(k)
			scanValue(item, record)
		}
	case []any:
		for _, item := range val {
			scanValue(item, record)
		}
	}
}

// cleanURL strips control characters and traversal sequences from the URL.
func cleanURL(url string) (string, bool) {
	cleaned := controlCharsRe.ReplaceAllString(url, "")
	cleaned = traversalRe.ReplaceAllString(cleaned, "")
	return cleaned, cleaned != url
}

func cleanStringMap(m map[string]string) (map[string]string, bool) {
	if m == nil {
		return nil, false
	}

	out := make(map[string]string, len(m))
	changed := false
	for k, v := range m {
		cleaned, c := cleanString(v)
		changed = changed || c
		out[k] = cleaned
	}
	return out, changed
}

// cleanValue recursively strips dangerous content from the string leaves
// of a JSON-shaped value. Non-string scalars pass through untouched.
func cleanValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		return cleanString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		changed := false
		for k, item := range val {
			cleaned, c := cleanValue(item)
			changed = changed || c
			out[k] = cleaned
		}
		return out, changed
	case []any:
		out := make([]any, len(val))
		changed := false
		for i, item := range val {
			cleaned, c := cleanValue(item)
			changed = changed || c
			out[i] = cleaned
		}
		return out, changed
	default:
		return v, false
	}
}

func bodySize(body any) (int, error) {
	if s, ok := body.(string); ok {
		return len(s), nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("measuring body: %w", err)
	}
	return len(data), nil
}

// hasInsecureScheme reports whether url carries an explicit non-https
// scheme. Scheme-less (relative) URLs are fine.
func hasInsecureScheme(url string) bool {
	lower := strings.ToLower(url)
	if !strings.Contains(lower, "://") {
		return false
	}
	return !strings.HasPrefix(lower, "https://")
}

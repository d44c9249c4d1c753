package threat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/manglanigaurav01-jpg/trustgate/audit"
	"github.com/manglanigaurav01-jpg/trustgate/sanitize"
)

// patternScorer flags requests matching the injection pattern set shared
// with the sanitizer. Sanitizer violations are trusted as-is; requests
// that bypassed sanitization are scanned directly.
type patternScorer struct{}

func (patternScorer) Name() string { return "injection_pattern" }

func (patternScorer) Score(in Input) *Finding {
	var matched []string
	for _, v := range in.Violations {
		if name, ok := strings.CutPrefix(v, "injection_pattern:"); ok {
			matched = append(matched, name)
		}
	}
	if len(matched) == 0 {
		matched = append(matched, sanitize.ScanString(in.Request.URL)...)
		matched = append(matched, sanitize.ScanString(in.Request.UserAgent)...)
	}
	if len(matched) == 0 {
		return nil
	}
	return &Finding{
		Severity:   audit.SeverityHigh,
		Confidence: 0.95,
		Reason:     strings.Join(matched, ","),
		Action:     ActionBlock,
	}
}

// bruteForceScorer flags repeated authentication failures from one IP or
// against one subject inside the tracking window.
type bruteForceScorer struct {
	cfg Config
}

func (bruteForceScorer) Name() string { return "brute_force" }

func (s bruteForceScorer) Score(in Input) *Finding {
	failures := in.IPFailures
	source := "ip"
	if in.SubjectFailures > failures {
		failures = in.SubjectFailures
		source = "subject"
	}
	if failures < s.cfg.BruteForceThreshold {
		return nil
	}

	// Confidence scales with how far past the threshold the burst is.
	confidence := 0.7 + 0.05*float64(failures-s.cfg.BruteForceThreshold)
	if confidence > 0.99 {
		confidence = 0.99
	}
	return &Finding{
		Severity:   audit.SeverityHigh,
		Confidence: confidence,
		Reason:     fmt.Sprintf("%d failed attempts (%s)", failures, source),
		Action:     ActionBlock,
	}
}

// loginScorer combines weak signals around an authentication attempt:
// automated user agents and recent failures for the same IP or subject.
type loginScorer struct {
	cfg Config
}

func (loginScorer) Name() string { return "suspicious_login" }

func (s loginScorer) Score(in Input) *Finding {
	var score float64
	var reasons []string

	if isAutomatedUserAgent(in.Request.UserAgent) {
		score += 0.4
		reasons = append(reasons, "automated_user_agent")
	}
	if in.IPFailures > 0 {
		score += 0.3
		reasons = append(reasons, "recent_ip_failures")
	}
	if in.SubjectFailures > 0 {
		score += 0.3
		reasons = append(reasons, "recent_subject_failures")
	}

	if score < 0.5 {
		return nil
	}
	severity := audit.SeverityMedium
	if score >= 0.8 {
		severity = audit.SeverityHigh
	}
	return &Finding{
		Severity:   severity,
		Confidence: score,
		Reason:     strings.Join(reasons, ","),
		Action:     ActionThrottle,
	}
}

// anomalyScorer accumulates behavioral oddities; only their combination
// crosses the reporting threshold, so a single quirk stays quiet.
type anomalyScorer struct {
	cfg Config
}

func (anomalyScorer) Name() string { return "anomaly" }

func (s anomalyScorer) Score(in Input) *Finding {
	var score float64
	var reasons []string

	if size := approximateBodySize(in.Request.Body); size > s.cfg.MaxNormalBodyBytes {
		score += 0.3
		reasons = append(reasons, "oversized_body")
	}
	if !isStandardMethod(in.Request.Method) {
		score += 0.2
		reasons = append(reasons, "nonstandard_method")
	}
	if in.FrequencyExceeded {
		score += 0.3
		reasons = append(reasons, "high_request_frequency")
	}
	if in.Hour < 6 || in.Hour >= 23 {
		score += 0.1
		reasons = append(reasons, "off_hours")
	}
	if hasLongRepeat(in.Request.URL, 12) || bodyHasLongRepeat(in.Request.Body, 12) {
		score += 0.2
		reasons = append(reasons, "repeated_characters")
	}

	if score < s.cfg.AnomalyThreshold {
		return nil
	}
	severity := audit.SeverityMedium
	if score >= 0.9 {
		severity = audit.SeverityHigh
	}
	return &Finding{
		Severity:   severity,
		Confidence: score,
		Reason:     strings.Join(reasons, ","),
		Action:     ActionThrottle,
	}
}

var automatedAgentMarkers = []string{
	"curl", "wget", "python-requests", "go-http-client", "scrapy",
	"bot", "spider", "crawler", "headless",
}

func isAutomatedUserAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, marker := range automatedAgentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isStandardMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		return true
	}
	return false
}

// hasLongRepeat reports a run of n identical bytes, a common filler in
// fuzzing and overflow probes.
func hasLongRepeat(s string, n int) bool {
	run := 0
	var prev byte
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i] == prev {
			run++
			if run+1 >= n {
				return true
			}
		} else {
			run = 0
		}
		prev = s[i]
	}
	return false
}

func bodyHasLongRepeat(body any, n int) bool {
	switch v := body.(type) {
	case string:
		return hasLongRepeat(v, n)
	case map[string]any:
		for _, item := range v {
			if bodyHasLongRepeat(item, n) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if bodyHasLongRepeat(item, n) {
				return true
			}
		}
	}
	return false
}

func approximateBodySize(body any) int {
	if body == nil {
		return 0
	}
	if s, ok := body.(string); ok {
		return len(s)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0
	}
	return len(data)
}

package sanitize

import "regexp"

// Pattern is a named dangerous-content matcher. The same pattern set is
// used here to clean input and by the threat detector to score it, so the
// two layers always agree on what counts as dangerous.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

var injectionPatterns = []Pattern{
	{Name: "path_traversal", Re: regexp.MustCompile(`(?i)\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f`)},
	{Name: "script_tag", Re: regexp.MustCompile(`(?i)<script\b`)},
	{Name: "event_handler", Re: regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|submit|input|change)\s*=`)},
	{Name: "javascript_uri", Re: regexp.MustCompile(`(?i)javascript\s*:`)},
	{Name: "embedded_frame", Re: regexp.MustCompile(`(?i)<(iframe|object|embed|form)\b`)},
	{Name: "sql_injection", Re: regexp.MustCompile(`(?i)(\bunion\s+(all\s+)?select\b|\binsert\s+into\b|\bdrop\s+table\b|\bdelete\s+from\b|'\s*or\s*'?1'?\s*=\s*'?1)`)},
	{Name: "dangerous_extension", Re: regexp.MustCompile(`(?i)\.(php\d?|aspx?|jsp|cgi|exe|bat|cmd|sh)([/?#]|$)`)},
}

// InjectionPatterns returns the shared dangerous-content pattern set.
// The returned slice must not be modified.
func InjectionPatterns() []Pattern {
	return injectionPatterns
}

// ScanString returns the names of all injection patterns matching s, in
// pattern order. An empty result means s is clean.
func ScanString(s string) []string {
	var matched []string
	for _, p := range injectionPatterns {
		if p.Re.MatchString(s) {
			matched = append(matched, p.Name)
		}
	}
	return matched
}

// MatchesInjection reports whether s matches any injection pattern.
func MatchesInjection(s string) bool {
	for _, p := range injectionPatterns {
		if p.Re.MatchString(s) {
			return true
		}
	}
	return false
}

// Stripping patterns applied to string leaves. Script blocks go first so
// their contents don't survive as loose text inside other tags.
var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	htmlTagRe      = regexp.MustCompile(`(?i)</?[a-z][^>]*>`)
	eventHandlerRe = regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|submit|input|change)\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	jsURIRe        = regexp.MustCompile(`(?i)javascript\s*:`)
	traversalRe    = regexp.MustCompile(`(?i)\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f`)
	controlCharsRe = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
)

// cleanString strips dangerous content from one string leaf and reports
// whether anything changed.
func cleanString(s string) (string, bool) {
	cleaned := scriptBlockRe.ReplaceAllString(s, "")
	cleaned = htmlTagRe.ReplaceAllString(cleaned, "")
	cleaned = eventHandlerRe.ReplaceAllString(cleaned, "")
	cleaned = jsURIRe.ReplaceAllString(cleaned, "")
	cleaned = controlCharsRe.ReplaceAllString(cleaned, "")
	return cleaned, cleaned != s
}

// Package sanitize implements the static security passes applied to untrusted
// document content: HTML stripping, CSS filtering and scoping, and an SVG
// clamp pass. Everything here is destructive by default; content that cannot
// be proven safe is removed.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/livdocs/engine/internal/monitoring"
)

// Sanitizer applies all static passes. Safe for concurrent use.
type Sanitizer struct {
	policy  *bluemonday.Policy
	metrics *monitoring.Metrics
}

// New creates a sanitizer. The HTML policy starts from the UGC baseline:
// no script or executable elements, no event handler attributes, and only
// http/https/mailto URL schemes, which excludes javascript:, vbscript:, and
// data: on href and src.
func New(metrics *monitoring.Metrics) *Sanitizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class", "id").Globally()
	policy.AllowAttrs("data-element-id").Globally()
	policy.AllowElements("section", "article", "figure", "figcaption", "svg")

	return &Sanitizer{
		policy:  policy,
		metrics: metrics,
	}
}

// HTML strips executable content from markup.
func (s *Sanitizer) HTML(markup string) string {
	out := s.policy.Sanitize(markup)
	if out != markup && s.metrics != nil {
		s.metrics.SanitizerStrips.WithLabelValues("html").Inc()
	}
	return out
}

var errorEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
)

// ErrorText makes an error message safe for inline display.
func ErrorText(msg string) string {
	return errorEscaper.Replace(msg)
}

// ExecutableValue reports whether an attribute or style value can carry
// executable behavior.
func ExecutableValue(value string) bool {
	v := strings.ToLower(value)
	return strings.Contains(v, "expression(") ||
		strings.Contains(v, "behavior:") ||
		strings.Contains(v, "javascript:") ||
		strings.Contains(v, "vbscript:")
}

// UnsafeAttribute reports whether an attribute must never cross an isolation
// boundary: event handler names, or values with executable content.
func UnsafeAttribute(name, value string) bool {
	return strings.HasPrefix(strings.ToLower(name), "on") || ExecutableValue(value)
}

var scopeIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidScopeID reports whether an id is usable as a style scope prefix.
func ValidScopeID(id string) bool {
	return scopeIDPattern.MatchString(id)
}

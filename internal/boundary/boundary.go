// Package boundary implements the isolation layer between untrusted document
// content and the host surface. Two variants share one interface: a static
// scope that sanitizes everything and never executes, and a script frame that
// executes under sandbox flags derived from the security policy.
package boundary

import (
	"context"
	"errors"
	"time"

	"github.com/livdocs/engine/internal/dom"
	"github.com/livdocs/engine/internal/security"
)

// DefaultLoadTimeout bounds how long Ready waits for content to settle.
const DefaultLoadTimeout = 5 * time.Second

var (
	// ErrLoadFailed is returned when content does not become ready in time.
	ErrLoadFailed = errors.New("boundary load failed")
	// ErrDestroyed is returned for operations after Destroy.
	ErrDestroyed = errors.New("boundary destroyed")
)

// Kind names the boundary variant.
type Kind string

const (
	KindStatic Kind = "static"
	KindScript Kind = "script"
)

// Boundary is the host's handle on isolated content. Implementations are
// chosen by Select; there is no inheritance between them.
type Boundary interface {
	// Kind reports which variant this is.
	Kind() Kind
	// SetContent replaces the boundary content with the given markup.
	SetContent(ctx context.Context, markup string) error
	// ApplyStyles adds a stylesheet, filtered and scoped per the variant.
	ApplyStyles(css string) error
	// Surface exposes the element tree for policy-gated access.
	Surface() *dom.Surface
	// HTML serializes the boundary for display, styles included.
	HTML() string
	// Clear drops content but keeps the scaffolding.
	Clear() error
	// Ready blocks until content has settled or the load timeout expires.
	Ready(ctx context.Context) error
	// Destroy tears the boundary down. Idempotent.
	Destroy() error
}

// Flags are the sandbox restrictions attached to a script frame. Each one is
// derived from the policy, never set directly by documents.
type Flags struct {
	AllowScripts    bool
	AllowForms      bool
	AllowSameOrigin bool
}

// FlagsFromPolicy derives sandbox flags: scripts only for sandboxed
// execution, forms only with write access, same-origin only with outbound
// network.
func FlagsFromPolicy(policy security.SecurityPolicy) Flags {
	return Flags{
		AllowScripts:    policy.Script.ExecutionMode == security.ExecutionSandboxed,
		AllowForms:      policy.Script.DOMAccess == security.DOMAccessWrite,
		AllowSameOrigin: policy.Network.AllowOutbound,
	}
}

// Select picks the boundary variant for a policy: a static scope when
// execution is disabled, a script frame otherwise.
func Select(policy security.SecurityPolicy, deps Deps) Boundary {
	if policy.Script.ExecutionMode == security.ExecutionNone {
		return NewStaticScope(deps)
	}
	return NewScriptFrame(policy, deps)
}

package boundary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/dom"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/sanitize"
	"github.com/livdocs/engine/internal/security"
)

// ErrScriptsNotAllowed is returned when loading script into a frame whose
// flags forbid execution.
var ErrScriptsNotAllowed = errors.New("scripts not allowed in this frame")

// ScriptFrame is the hard-walled boundary for interactive content. Isolation
// comes from the frame itself: content inside it executes in a separate VM
// and only the sandbox flags decide what crosses the wall.
type ScriptFrame struct {
	scopeID     string
	flags       Flags
	csp         string
	sanitizer   *sanitize.Sanitizer
	logger      *logging.Logger
	loadTimeout time.Duration
	cpuLimit    time.Duration

	mu        sync.Mutex
	surface   *dom.Surface
	vm        *goja.Runtime
	styles    []string
	ready     chan struct{}
	readyOnce sync.Once
	destroyed bool
}

// NewScriptFrame creates a frame with sandbox flags derived from the policy.
func NewScriptFrame(policy security.SecurityPolicy, deps Deps) *ScriptFrame {
	deps.fill()
	cpuLimit := policy.Module.CPUTimeLimit
	if cpuLimit <= 0 {
		cpuLimit = time.Second
	}

	f := &ScriptFrame{
		scopeID:     deps.ScopeID,
		flags:       FlagsFromPolicy(policy),
		csp:         policy.ContentSecurityPolicy,
		sanitizer:   deps.Sanitizer,
		logger:      deps.Logger.Named("script-frame"),
		loadTimeout: deps.LoadTimeout,
		cpuLimit:    cpuLimit,
		surface:     dom.NewSurface(deps.ScopeID),
		ready:       make(chan struct{}),
	}
	f.decorateRoot()
	return f
}

func (f *ScriptFrame) Kind() Kind { return KindScript }

// Flags returns the sandbox restrictions in effect.
func (f *ScriptFrame) Flags() Flags { return f.flags }

// SetContent installs markup inside the frame. The frame wall, not a
// sanitizer pass, is the isolation mechanism here.
func (f *ScriptFrame) SetContent(ctx context.Context, markup string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return ErrDestroyed
	}

	if err := f.surface.SetHTML(markup); err != nil {
		return err
	}
	scrubAttrs(f.surface.Root())
	f.decorateRoot()
	f.readyOnce.Do(func() { close(f.ready) })
	return nil
}

// scrubAttrs drops event handler and executable-value attributes from a
// subtree. Frame content executes only in the VM; its serialized form must
// never carry handlers into the embedding host.
func scrubAttrs(node *dom.Node) {
	for name, value := range node.Attrs {
		if sanitize.UnsafeAttribute(name, value) {
			delete(node.Attrs, name)
		}
	}
	for _, child := range node.Children {
		scrubAttrs(child)
	}
}

// LoadScript runs script content in the frame VM. Denied outright unless the
// flags allow scripts.
func (f *ScriptFrame) LoadScript(ctx context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return ErrDestroyed
	}
	if !f.flags.AllowScripts {
		return ErrScriptsNotAllowed
	}

	if f.vm == nil {
		f.vm = goja.New()
		f.vm.SetMaxCallStackSize(1024)
		f.neuterGlobals()
		f.injectDocument()
	}

	timer := time.AfterFunc(f.cpuLimit, func() {
		f.vm.Interrupt("script time limit exceeded")
	})
	_, err := f.vm.RunString(source)
	timer.Stop()
	f.vm.ClearInterrupt()
	if err != nil {
		f.logger.Warn("frame script failed", zap.Error(err))
		return fmt.Errorf("frame script: %w", err)
	}
	return nil
}

// ApplyStyles filters and scopes a stylesheet for the frame subtree.
func (f *ScriptFrame) ApplyStyles(css string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return ErrDestroyed
	}

	scoped := sanitize.ScopeCSS(f.scopeID, f.sanitizer.CSS(css))
	if scoped != "" {
		f.styles = append(f.styles, scoped)
	}
	return nil
}

// Surface exposes the element tree.
func (f *ScriptFrame) Surface() *dom.Surface { return f.surface }

// HTML serializes the frame with its sandbox attributes on the scaffolding.
func (f *ScriptFrame) HTML() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	if len(f.styles) > 0 {
		b.WriteString("<style>")
		b.WriteString(strings.Join(f.styles, "\n"))
		b.WriteString("</style>")
	}
	b.WriteString(f.surface.HTML())
	return b.String()
}

// Clear drops frame content but keeps the scaffolding and its flags.
func (f *ScriptFrame) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return ErrDestroyed
	}
	f.surface.Clear()
	f.styles = nil
	f.decorateRoot()
	return nil
}

// Ready blocks until content was set or the load timeout expires.
func (f *ScriptFrame) Ready(ctx context.Context) error {
	timer := time.NewTimer(f.loadTimeout)
	defer timer.Stop()
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLoadFailed
	}
}

// Destroy drops the VM and all content. Calling it twice is a no-op.
func (f *ScriptFrame) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return nil
	}
	f.destroyed = true
	f.vm = nil
	f.surface.Clear()
	f.styles = nil
	return nil
}

// SandboxAttr renders the flags as a sandbox attribute value.
func (f *ScriptFrame) SandboxAttr() string {
	var parts []string
	if f.flags.AllowScripts {
		parts = append(parts, "allow-scripts")
	}
	if f.flags.AllowForms {
		parts = append(parts, "allow-forms")
	}
	if f.flags.AllowSameOrigin {
		parts = append(parts, "allow-same-origin")
	}
	return strings.Join(parts, " ")
}

// decorateRoot stamps the sandbox flags and CSP onto the scaffolding so they
// survive serialization.
func (f *ScriptFrame) decorateRoot() {
	root := f.surface.Root()
	root.Attrs["data-sandbox"] = f.SandboxAttr()
	if f.csp != "" {
		root.Attrs["data-csp"] = f.csp
	}
}

func (f *ScriptFrame) neuterGlobals() {
	for _, name := range []string{"require", "process", "module", "exports", "eval", "Function"} {
		f.vm.Set(name, goja.Undefined())
	}
	f.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	f.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
}

// injectDocument exposes a minimal document proxy over the frame surface.
func (f *ScriptFrame) injectDocument() {
	document := f.vm.NewObject()
	document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		node, err := f.surface.Get(call.Arguments[0].String())
		if err != nil {
			return goja.Null()
		}
		return f.vm.ToValue(f.elementProxy(node))
	})
	document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		nodes := f.surface.Query(call.Arguments[0].String())
		if len(nodes) == 0 {
			return goja.Null()
		}
		return f.vm.ToValue(f.elementProxy(nodes[0]))
	})
	f.vm.Set("document", document)
}

func (f *ScriptFrame) elementProxy(node *dom.Node) map[string]any {
	return map[string]any{
		"id":          node.ID,
		"tagName":     node.Tag,
		"textContent": node.Text,
		"getAttribute": func(name string) string {
			return node.Attrs[name]
		},
		"setAttribute": func(name, value string) {
			if sanitize.UnsafeAttribute(name, value) {
				f.logger.Warn("frame script attribute rejected", zap.String("name", name))
				return
			}
			node.Attrs[name] = value
		},
		"setText": func(text string) {
			node.Text = text
		},
	}
}

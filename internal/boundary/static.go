package boundary

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/livdocs/engine/internal/dom"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/sanitize"
	"github.com/livdocs/engine/internal/shared/id"
)

// Deps are the collaborators shared by both boundary variants.
type Deps struct {
	Sanitizer   *sanitize.Sanitizer
	Logger      *logging.Logger
	ScopeID     string
	LoadTimeout time.Duration
}

func (d *Deps) fill() {
	if d.Sanitizer == nil {
		d.Sanitizer = sanitize.New(nil)
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.ScopeID == "" {
		d.ScopeID = id.NewElementID().String()
	}
	if d.LoadTimeout <= 0 {
		d.LoadTimeout = DefaultLoadTimeout
	}
}

// StaticScope renders sanitized content in an encapsulated subtree with
// scoped styles. Nothing inside it ever executes.
type StaticScope struct {
	scopeID     string
	sanitizer   *sanitize.Sanitizer
	logger      *logging.Logger
	loadTimeout time.Duration

	mu        sync.Mutex
	surface   *dom.Surface
	styles    []string
	ready     chan struct{}
	readyOnce sync.Once
	destroyed bool
}

// NewStaticScope creates an empty static scope.
func NewStaticScope(deps Deps) *StaticScope {
	deps.fill()
	return &StaticScope{
		scopeID:     deps.ScopeID,
		sanitizer:   deps.Sanitizer,
		logger:      deps.Logger.Named("static-scope"),
		loadTimeout: deps.LoadTimeout,
		surface:     dom.NewSurface(deps.ScopeID),
		ready:       make(chan struct{}),
	}
}

func (s *StaticScope) Kind() Kind { return KindStatic }

// SetContent sanitizes the markup and installs it in the scope.
func (s *StaticScope) SetContent(ctx context.Context, markup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}

	clean := s.sanitizer.HTML(markup)
	if err := s.surface.SetHTML(clean); err != nil {
		return err
	}
	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

// ApplyStyles filters the stylesheet and scopes it to this subtree.
func (s *StaticScope) ApplyStyles(css string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}

	scoped := sanitize.ScopeCSS(s.scopeID, s.sanitizer.CSS(css))
	if scoped != "" {
		s.styles = append(s.styles, scoped)
	}
	return nil
}

// Surface exposes the element tree.
func (s *StaticScope) Surface() *dom.Surface { return s.surface }

// HTML serializes the scope, scoped styles first.
func (s *StaticScope) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	if len(s.styles) > 0 {
		b.WriteString("<style>")
		b.WriteString(strings.Join(s.styles, "\n"))
		b.WriteString("</style>")
	}
	b.WriteString(s.surface.HTML())
	return b.String()
}

// Clear drops content and styles but keeps the scaffolding.
func (s *StaticScope) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	s.surface.Clear()
	s.styles = nil
	return nil
}

// Ready blocks until content was set or the load timeout expires.
func (s *StaticScope) Ready(ctx context.Context) error {
	timer := time.NewTimer(s.loadTimeout)
	defer timer.Stop()
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLoadFailed
	}
}

// Destroy clears the scope. Calling it twice is a no-op.
func (s *StaticScope) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	s.surface.Clear()
	s.styles = nil
	return nil
}

package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/boundary"
	"github.com/livdocs/engine/internal/config"
	"github.com/livdocs/engine/internal/document"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/monitoring"
	"github.com/livdocs/engine/internal/sandbox"
	"github.com/livdocs/engine/internal/sanitize"
	"github.com/livdocs/engine/internal/security"
	"github.com/livdocs/engine/internal/shared/id"
)

var (
	// ErrNotInteractive is returned when interactions arrive outside the
	// interactive-active phase.
	ErrNotInteractive = errors.New("render is not interactive")
	// ErrRenderTimeout marks an interactive attempt that outran its budget.
	ErrRenderTimeout = errors.New("interactive render timed out")
)

// SessionFactory builds a sandbox session for a policy. Injected so hosting
// environments decide how the sandbox peer is wired.
type SessionFactory func(policy security.SecurityPolicy) (*sandbox.Session, error)

// PerformanceMetrics summarizes one render.
type PerformanceMetrics struct {
	RenderTime    time.Duration `json:"render_time"`
	FallbackUsed  bool          `json:"fallback_used"`
	ModulesLoaded int           `json:"modules_loaded"`
	FramesApplied uint64        `json:"frames_applied"`
}

// Orchestrator runs the rendering pipeline.
type Orchestrator struct {
	cfg       config.RendererConfig
	sessions  SessionFactory
	sanitizer *sanitize.Sanitizer
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewOrchestrator creates an orchestrator. The session factory may be nil
// for static-only deployments.
func NewOrchestrator(cfg config.RendererConfig, sessions SessionFactory, logger *logging.Logger, metrics *monitoring.Metrics) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		sessions:  sessions,
		sanitizer: sanitize.New(metrics),
		logger:    logger.Named("renderer"),
		metrics:   metrics,
	}
}

// Render is one live or finished render.
type Render struct {
	id      id.RenderID
	machine *Machine
	pacer   *Pacer
	logger  *logging.Logger
	metrics *monitoring.Metrics

	animationsEnabled bool

	mu       sync.Mutex
	boundary boundary.Boundary
	session  *sandbox.Session
	errors   []string
	perf     PerformanceMetrics
	closed   bool
}

// Render runs the full pipeline for one document. The returned Render always
// carries displayable HTML, an inline error surface included; the error
// return is non-nil only for terminal failures.
func (o *Orchestrator) Render(ctx context.Context, doc *document.Document) (*Render, error) {
	r := &Render{
		id:                id.NewRenderID(),
		machine:           NewMachine(),
		pacer:             NewPacer(o.cfg.TargetFPS),
		metrics:           o.metrics,
		animationsEnabled: o.cfg.EnableAnimations,
	}
	r.logger = o.logger.With(zap.String("render_id", r.id.String()))
	start := time.Now()

	_ = r.machine.Transition(PhaseValidating)
	if err := doc.Validate(o.cfg.StrictSecurity); err != nil {
		return o.fail(r, start, err)
	}

	policy := doc.Manifest.Security
	interactive := doc.HasInteractive() &&
		policy.Script.ExecutionMode != security.ExecutionNone &&
		o.sessions != nil

	if interactive {
		_ = r.machine.Transition(PhaseInteractiveAttempt)
		if err := o.attemptInteractive(ctx, r, doc); err != nil {
			r.recordError(err)
			r.destroySession()
			r.dropBoundary()
			if !o.cfg.EnableFallback {
				return o.fail(r, start, err)
			}
			r.logger.Warn("interactive attempt failed, falling back", zap.Error(err))
			_ = r.machine.Transition(PhaseFallback)
			if err := o.renderFallback(ctx, r, doc); err != nil {
				return o.fail(r, start, err)
			}
			o.finish(r, start, "fallback")
		} else {
			_ = r.machine.Transition(PhaseInteractiveActive)
			o.finish(r, start, "interactive")
		}
	} else {
		_ = r.machine.Transition(PhaseFallback)
		if err := o.renderFallback(ctx, r, doc); err != nil {
			return o.fail(r, start, err)
		}
		o.finish(r, start, "fallback")
	}
	return r, nil
}

// attemptInteractive runs the interactive path under the render time budget.
// Everything inside shares one deadline; the caller destroys the session on
// failure.
func (o *Orchestrator) attemptInteractive(ctx context.Context, r *Render, doc *document.Document) error {
	budget := o.cfg.MaxRenderTime
	if budget <= 0 {
		budget = 5 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	policy := doc.Manifest.Security
	session, err := o.sessions(policy)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	r.mu.Lock()
	r.session = session
	r.mu.Unlock()

	if err := session.Initialize(attemptCtx); err != nil {
		return wrapTimeout(attemptCtx, err)
	}

	for _, module := range doc.Modules {
		if err := session.LoadModule(attemptCtx, module.Data, module.Descriptor); err != nil {
			return wrapTimeout(attemptCtx, err)
		}
		r.mu.Lock()
		r.perf.ModulesLoaded++
		r.mu.Unlock()
	}

	b := boundary.Select(policy, boundary.Deps{
		Sanitizer:   o.sanitizer,
		Logger:      o.logger,
		LoadTimeout: budget,
	})
	r.mu.Lock()
	r.boundary = b
	r.mu.Unlock()

	if err := b.SetContent(attemptCtx, doc.Content.HTML); err != nil {
		return wrapTimeout(attemptCtx, err)
	}
	if doc.Content.CSS != "" {
		if err := b.ApplyStyles(doc.Content.CSS); err != nil {
			return wrapTimeout(attemptCtx, err)
		}
	}

	spec := doc.Content.Interactive
	if spec.Script != "" {
		frame, ok := b.(*boundary.ScriptFrame)
		if !ok {
			return fmt.Errorf("script content requires a script frame")
		}
		if err := frame.LoadScript(attemptCtx, spec.Script); err != nil {
			return wrapTimeout(attemptCtx, err)
		}
	}

	if spec.ModuleName != "" {
		entry := spec.EntryFunction
		if entry == "" {
			entry = "main"
		}
		var args []any
		if len(spec.Parameters) > 0 {
			args = append(args, spec.Parameters)
		}
		result, err := session.ExecuteFunction(attemptCtx, spec.ModuleName, entry, args)
		if err != nil {
			return wrapTimeout(attemptCtx, err)
		}
		if !result.Success {
			return fmt.Errorf("entry function %s.%s failed: %s", spec.ModuleName, entry, result.Error)
		}
	}

	if err := b.Ready(attemptCtx); err != nil {
		return wrapTimeout(attemptCtx, err)
	}
	return nil
}

// renderFallback builds the static representation: the declared fallback
// body when present, the interactive body through the sanitizer otherwise.
// No modules load and no events wire up on this path.
func (o *Orchestrator) renderFallback(ctx context.Context, r *Render, doc *document.Document) error {
	scope := boundary.NewStaticScope(boundary.Deps{
		Sanitizer: o.sanitizer,
		Logger:    o.logger,
	})
	r.mu.Lock()
	r.boundary = scope
	r.perf.FallbackUsed = true
	r.mu.Unlock()

	content := doc.Content.StaticFallback
	if content == "" {
		content = doc.Content.HTML
	}
	if err := scope.SetContent(ctx, content); err != nil {
		return err
	}
	if doc.Content.CSS != "" {
		if err := scope.ApplyStyles(doc.Content.CSS); err != nil {
			return err
		}
	}
	return scope.Ready(ctx)
}

// fail moves the render to errored and installs the sanitized inline error
// surface. The render never ends up blank.
func (o *Orchestrator) fail(r *Render, start time.Time, err error) (*Render, error) {
	r.recordError(err)
	r.destroySession()
	_ = r.machine.Transition(PhaseErrored)

	scope := boundary.NewStaticScope(boundary.Deps{Sanitizer: o.sanitizer, Logger: o.logger})
	markup := fmt.Sprintf(`<div class="render-error" role="alert">Document could not be displayed: %s</div>`,
		sanitize.ErrorText(err.Error()))
	if setErr := scope.SetContent(context.Background(), markup); setErr == nil {
		r.mu.Lock()
		r.boundary = scope
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.perf.RenderTime = time.Since(start)
	r.mu.Unlock()
	if o.metrics != nil {
		o.metrics.RendersTotal.WithLabelValues("error").Inc()
		o.metrics.RenderDuration.Observe(time.Since(start).Seconds())
	}
	r.logger.Error("render failed", zap.Error(err))
	return r, err
}

func (o *Orchestrator) finish(r *Render, start time.Time, outcome string) {
	r.mu.Lock()
	r.perf.RenderTime = time.Since(start)
	r.mu.Unlock()
	if r.machine.Phase() == PhaseFallback {
		_ = r.machine.Transition(PhaseComplete)
	}
	if o.metrics != nil {
		o.metrics.RendersTotal.WithLabelValues(outcome).Inc()
		o.metrics.RenderDuration.Observe(time.Since(start).Seconds())
	}
	r.logger.Info("render finished",
		zap.String("outcome", outcome),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// ID returns the render identifier.
func (r *Render) ID() id.RenderID { return r.id }

// Phase returns the current lifecycle phase.
func (r *Render) Phase() Phase { return r.machine.Phase() }

// HTML returns the displayable output.
func (r *Render) HTML() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.boundary == nil {
		return ""
	}
	return r.boundary.HTML()
}

// Errors returns the errors recorded during the render.
func (r *Render) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Metrics returns the render's performance summary.
func (r *Render) Metrics() PerformanceMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perf
}

// Boundary exposes the active boundary, for gateway construction.
func (r *Render) Boundary() boundary.Boundary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boundary
}

// Pacer exposes the frame scheduler.
func (r *Render) Pacer() *Pacer { return r.pacer }

// HandleInteraction forwards a user interaction to the sandbox. Only legal
// while the render is interactive-active.
func (r *Render) HandleInteraction(ctx context.Context, event InteractionEvent) error {
	if r.machine.Phase() != PhaseInteractiveActive {
		return fmt.Errorf("%w: phase %s", ErrNotInteractive, r.machine.Phase())
	}
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return ErrNotInteractive
	}

	data := map[string]any{}
	for k, v := range event.Data {
		data[k] = v
	}
	if event.ElementID != "" {
		data["element_id"] = event.ElementID
	}
	return session.SendEvent(ctx, event.Type, data)
}

// ApplyUpdate applies one update batch to the surface, operations in
// emission order, paced to the frame rate.
func (r *Render) ApplyUpdate(ctx context.Context, update RenderUpdate) error {
	phase := r.machine.Phase()
	if phase != PhaseInteractiveActive && phase != PhaseInteractiveAttempt {
		return fmt.Errorf("%w: phase %s", ErrNotInteractive, phase)
	}
	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.boundary == nil {
		return ErrNotInteractive
	}
	surface := r.boundary.Surface()

	for _, op := range update.DOMOperations {
		var err error
		switch op.Kind {
		case OpCreate:
			if err = screenAttrs(op.Attrs); err == nil {
				_, err = surface.CreateElement(op.ParentID, op.ElementID, op.Tag, op.Attrs)
			}
		case OpUpdate:
			if err = screenAttrs(op.Attrs); err == nil {
				err = surface.UpdateElement(op.ElementID, op.Attrs, op.Text)
			}
		case OpRemove:
			err = surface.RemoveElement(op.ElementID)
		case OpMove:
			err = surface.MoveElement(op.ElementID, op.ParentID, op.Index)
		default:
			err = fmt.Errorf("unknown operation kind %q", op.Kind)
		}
		if err != nil {
			return err
		}
	}

	for _, change := range update.StyleChanges {
		if sanitize.ExecutableValue(change.Value) {
			return security.Denied("dom.style", "style value for %q carries executable content", change.Property)
		}
		if err := surface.SetStyle(change.ElementID, map[string]string{change.Property: change.Value}); err != nil {
			return err
		}
	}

	if r.animationsEnabled {
		// The cap bounds concurrent animations, so it applies per batch.
		animCap := r.pacer.AnimationCap()
		for i, anim := range update.AnimationUpdates {
			if i >= animCap {
				break
			}
			if sanitize.ExecutableValue(anim.To) {
				return security.Denied("dom.style", "animation value for %q carries executable content", anim.Property)
			}
			if err := surface.SetStyle(anim.ElementID, map[string]string{anim.Property: anim.To}); err != nil {
				return err
			}
		}
	}

	r.perf.FramesApplied++
	if r.metrics != nil {
		r.metrics.FramesApplied.Inc()
	}
	return nil
}

// Close finishes the render: the session is destroyed and a live phase moves
// to complete. Calling it twice is a no-op.
func (r *Render) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.destroySession()
	switch r.machine.Phase() {
	case PhaseInteractiveActive, PhaseFallback:
		_ = r.machine.Transition(PhaseComplete)
	}
	r.mu.Lock()
	b := r.boundary
	r.mu.Unlock()
	if b != nil {
		return b.Destroy()
	}
	return nil
}

// screenAttrs rejects attributes the sandbox must never place on the
// surface: event handlers and executable values. Updates come from untrusted
// module code, so the check runs on every attribute crossing the wall.
func screenAttrs(attrs map[string]string) error {
	for name, value := range attrs {
		if sanitize.UnsafeAttribute(name, value) {
			return security.Denied("dom.attribute", "attribute %q rejected at the boundary", name)
		}
	}
	return nil
}

func (r *Render) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err.Error())
}

func (r *Render) destroySession() {
	r.mu.Lock()
	session := r.session
	r.session = nil
	r.mu.Unlock()
	if session != nil {
		_ = session.Destroy()
	}
}

func (r *Render) dropBoundary() {
	r.mu.Lock()
	b := r.boundary
	r.boundary = nil
	r.mu.Unlock()
	if b != nil {
		_ = b.Destroy()
	}
}

// wrapTimeout attributes an error to the render budget when the attempt
// deadline has expired.
func wrapTimeout(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrRenderTimeout, err)
	}
	return err
}

// Package sandbox provides the host-side session that loads modules into the
// sandboxed peer and executes their exported functions under a security
// policy. Permission checks happen here, before anything crosses the wire.
package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/config"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/monitoring"
	"github.com/livdocs/engine/internal/protocol"
	"github.com/livdocs/engine/internal/security"
	"github.com/livdocs/engine/internal/shared/id"
)

var (
	// ErrNotInitialized is returned when a session entry point is called
	// before Initialize.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrModuleNotLoaded is returned for calls against an unregistered
	// module. No message is sent in that case.
	ErrModuleNotLoaded = errors.New("module not loaded")
	// ErrFunctionNotExported is returned when a function is absent from the
	// module's exports allowlist. No message is sent in that case.
	ErrFunctionNotExported = errors.New("function not exported")
	// ErrModuleExists is returned when loading a module name twice.
	ErrModuleExists = errors.New("module already loaded")
)

// ModuleDescriptor declares a compiled module: its identity, its exported
// surface, and the permissions it requests.
type ModuleDescriptor struct {
	Name        string                     `json:"name"`
	Version     string                     `json:"version"`
	EntryPoint  string                     `json:"entry_point"`
	Exports     []string                   `json:"exports"`
	Imports     []string                   `json:"imports"`
	Permissions security.ModulePermissions `json:"permissions"`
	Metadata    map[string]string          `json:"metadata,omitempty"`
}

// ExecutionResult is the first-class outcome of a function call. A failed
// execution is a result with Success=false, not a transport error.
type ExecutionResult struct {
	Success    bool          `json:"success"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	MemoryUsed uint64        `json:"memory_used,omitempty"`
}

// Stats tracks session activity.
type Stats struct {
	ModulesLoaded uint64
	FunctionCalls uint64
	EventsSent    uint64
	Errors        uint64
	CPUTime       time.Duration
}

// Session is the host's handle on one sandboxed execution context.
type Session struct {
	id        id.SessionID
	transport *protocol.Transport
	validator *security.Validator
	policy    security.SecurityPolicy
	cfg       config.SessionConfig
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu          sync.RWMutex
	initialized bool
	destroyed   bool
	modules     map[string]ModuleDescriptor
	stats       Stats
}

// NewSession creates a session over an initialized-or-not transport. The
// policy is fixed for the session lifetime.
func NewSession(transport *protocol.Transport, policy security.SecurityPolicy, cfg config.SessionConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Session {
	if logger == nil {
		logger = logging.NewNop()
	}
	sessionID := id.NewSessionID()
	return &Session{
		id:        sessionID,
		transport: transport,
		validator: security.NewValidator(),
		policy:    policy,
		cfg:       cfg,
		logger:    logger.Named("session").With(zap.String("session_id", sessionID.String())),
		metrics:   metrics,
		modules:   make(map[string]ModuleDescriptor),
	}
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID { return s.id }

// Policy returns the session's security policy.
func (s *Session) Policy() security.SecurityPolicy { return s.policy }

// Initialize brings up the transport and performs the session handshake.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return protocol.ErrDestroyed
	}
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.transport.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}
	s.logger.Info("session initialized")
	return nil
}

// LoadModule validates the module's requested permissions against the
// session policy, transfers the bytes to the sandbox, and registers the
// module only after the sandbox confirms the load.
func (s *Session) LoadModule(ctx context.Context, moduleBytes []byte, desc ModuleDescriptor) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	s.mu.RLock()
	_, exists := s.modules[desc.Name]
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrModuleExists, desc.Name)
	}

	if err := s.validator.ValidateModule(desc.Permissions, s.policy); err != nil {
		s.recordError()
		if s.metrics != nil {
			s.metrics.ModuleLoads.WithLabelValues("denied").Inc()
		}
		s.logger.Warn("module load denied",
			zap.String("module", desc.Name),
			zap.Error(err),
		)
		return err
	}

	msg := protocol.NewMessage(protocol.KindControl, "host", "sandbox", protocol.ControlPayload("load_module", map[string]any{
		"name":        desc.Name,
		"version":     desc.Version,
		"entry_point": desc.EntryPoint,
		"exports":     desc.Exports,
		"module_data": base64.StdEncoding.EncodeToString(moduleBytes),
	}))

	resp, err := s.transport.Request(ctx, msg, s.cfg.Timeout)
	if err != nil {
		s.recordError()
		if s.metrics != nil {
			s.metrics.ModuleLoads.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("load module %s: %w", desc.Name, err)
	}
	if resp.Kind == protocol.KindError {
		s.recordError()
		if s.metrics != nil {
			s.metrics.ModuleLoads.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("load module %s: %s", desc.Name, resp.ErrorText())
	}

	s.mu.Lock()
	s.modules[desc.Name] = desc
	s.stats.ModulesLoaded++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ModuleLoads.WithLabelValues("ok").Inc()
	}
	s.logger.Info("module loaded",
		zap.String("module", desc.Name),
		zap.String("version", desc.Version),
		zap.Int("bytes", len(moduleBytes)),
	)
	return nil
}

// ExecuteFunction calls an exported function of a loaded module. Registry and
// export checks fail before any message is sent. Execution failures reported
// by the sandbox come back as a failed ExecutionResult, not an error.
func (s *Session) ExecuteFunction(ctx context.Context, module, function string, args []any) (*ExecutionResult, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	desc, exists := s.modules[module]
	s.mu.RUnlock()
	if !exists {
		s.recordError()
		return nil, fmt.Errorf("%w: %s", ErrModuleNotLoaded, module)
	}
	if !exported(desc.Exports, function) {
		s.recordError()
		return nil, fmt.Errorf("%w: %s.%s", ErrFunctionNotExported, module, function)
	}

	msg := protocol.NewMessage(protocol.KindFunctionCall, "host", "sandbox",
		protocol.FunctionCallPayload(module, function, args))

	start := time.Now()
	resp, err := s.transport.Request(ctx, msg, s.cfg.Timeout)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.stats.FunctionCalls++
	s.stats.CPUTime += elapsed
	s.mu.Unlock()

	if err != nil {
		s.recordError()
		if s.metrics != nil {
			result := "error"
			if errors.Is(err, protocol.ErrResponseTimeout) {
				result = "timeout"
			}
			s.metrics.FunctionCalls.WithLabelValues(result).Inc()
		}
		return nil, fmt.Errorf("execute %s.%s: %w", module, function, err)
	}

	result := &ExecutionResult{Duration: elapsed}
	if resp.Kind == protocol.KindError {
		result.Error = resp.ErrorText()
	} else {
		result.Success = true
		if resp.Payload != nil {
			result.Result = resp.Payload["result"]
			if success, ok := resp.Payload["success"].(bool); ok {
				result.Success = success
			}
			if errText, ok := resp.Payload["error"].(string); ok && errText != "" {
				result.Error = errText
				result.Success = false
			}
			if mem, ok := resp.Payload["memory_used"].(float64); ok {
				result.MemoryUsed = uint64(mem)
			}
		}
	}

	if !result.Success {
		s.recordError()
	}
	if s.metrics != nil {
		outcome := "ok"
		if !result.Success {
			outcome = "error"
		}
		s.metrics.FunctionCalls.WithLabelValues(outcome).Inc()
		s.metrics.FunctionDuration.Observe(elapsed.Seconds())
	}
	return result, nil
}

// SendEvent forwards an event to the sandbox without awaiting a response.
func (s *Session) SendEvent(ctx context.Context, eventType string, data map[string]any) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	msg := protocol.NewMessage(protocol.KindEvent, "host", "sandbox",
		protocol.EventPayload(eventType, data))
	if err := s.transport.Send(ctx, msg); err != nil {
		s.recordError()
		return fmt.Errorf("send event %s: %w", eventType, err)
	}

	s.mu.Lock()
	s.stats.EventsSent++
	s.mu.Unlock()
	return nil
}

// Modules returns the names of all registered modules.
func (s *Session) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	return names
}

// Stats returns a snapshot of session statistics.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Destroy tears down the transport and clears the module registry. Calling
// it twice is a no-op.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	wasInitialized := s.initialized
	s.initialized = false
	s.modules = make(map[string]ModuleDescriptor)
	s.mu.Unlock()

	if err := s.transport.Destroy(); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	if wasInitialized && s.metrics != nil {
		s.metrics.SessionsActive.Dec()
	}
	s.logger.Info("session destroyed")
	return nil
}

func (s *Session) ensureInitialized() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return protocol.ErrDestroyed
	}
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (s *Session) recordError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

func exported(exports []string, function string) bool {
	for _, name := range exports {
		if name == function {
			return true
		}
	}
	return false
}

package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/protocol"
)

// EventHandler receives events forwarded from the host side.
type EventHandler func(eventType string, data map[string]any)

// Host is the sandbox-side peer. It answers control commands, dispatches
// function calls to its runner, and forwards events. It speaks the same
// codec chain as the host transport.
type Host struct {
	conduit protocol.Conduit
	codec   protocol.Codec
	runner  Runner
	logger  *logging.Logger

	mu      sync.Mutex
	onEvent EventHandler
	closed  bool
}

// NewHost creates a sandbox peer over the given conduit. A nil codec means
// identity.
func NewHost(conduit protocol.Conduit, codec protocol.Codec, runner Runner, logger *logging.Logger) *Host {
	if codec == nil {
		codec = protocol.Identity()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Host{
		conduit: conduit,
		codec:   codec,
		runner:  runner,
		logger:  logger.Named("engine"),
	}
}

// OnEvent registers the handler for forwarded events.
func (h *Host) OnEvent(fn EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = fn
}

// Run serves the conduit until the context is cancelled, the conduit closes,
// or the peer sends a destroy command.
func (h *Host) Run(ctx context.Context) error {
	defer h.Close(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-h.conduit.Receive():
			if !ok {
				return nil
			}
			if done := h.handleFrame(ctx, frame); done {
				return nil
			}
		}
	}
}

// Close releases the runner. Safe to call more than once.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.runner.Close(ctx)
}

// handleFrame processes one inbound frame. It reports true when the peer
// requested teardown.
func (h *Host) handleFrame(ctx context.Context, frame []byte) bool {
	raw, err := h.codec.Decode(frame)
	if err != nil {
		h.logger.Warn("dropping undecodable frame", zap.Error(err))
		return false
	}

	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warn("dropping unparsable frame", zap.Error(err))
		return false
	}

	switch msg.Kind {
	case protocol.KindControl:
		return h.handleControl(ctx, &msg)
	case protocol.KindFunctionCall:
		h.handleFunctionCall(ctx, &msg)
	case protocol.KindEvent:
		h.handleEvent(&msg)
	case protocol.KindHeartbeat:
		// Liveness only; nothing to do.
	default:
		h.logger.Warn("unexpected message kind", zap.String("kind", string(msg.Kind)))
	}
	return false
}

func (h *Host) handleControl(ctx context.Context, msg *protocol.Message) bool {
	command, _ := msg.Payload["command"].(string)
	switch command {
	case "initialize":
		h.logger.Debug("session handshake received")
	case "load_module":
		h.handleLoadModule(ctx, msg)
	case "destroy":
		h.logger.Debug("teardown requested by peer")
		return true
	default:
		h.respond(ctx, protocol.NewErrorResponse(msg, "unknown control command: "+command))
	}
	return false
}

func (h *Host) handleLoadModule(ctx context.Context, msg *protocol.Message) {
	name, _ := msg.Payload["name"].(string)
	entryPoint, _ := msg.Payload["entry_point"].(string)
	encoded, _ := msg.Payload["module_data"].(string)

	moduleBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		h.respond(ctx, protocol.NewErrorResponse(msg, "invalid module data: "+err.Error()))
		return
	}

	if err := h.runner.Load(ctx, name, moduleBytes, entryPoint); err != nil {
		h.logger.Warn("module load failed", zap.String("module", name), zap.Error(err))
		h.respond(ctx, protocol.NewErrorResponse(msg, err.Error()))
		return
	}

	h.logger.Info("module loaded", zap.String("module", name), zap.Int("bytes", len(moduleBytes)))
	h.respond(ctx, protocol.NewResponse(msg, map[string]any{"loaded": true}))
}

func (h *Host) handleFunctionCall(ctx context.Context, msg *protocol.Message) {
	module, _ := msg.Payload["module_name"].(string)
	function, _ := msg.Payload["function_name"].(string)
	args, _ := msg.Payload["arguments"].([]any)

	result, err := h.runner.Call(ctx, module, function, args)
	if err != nil {
		// Execution failures are results on the wire, not protocol errors.
		h.respond(ctx, protocol.NewResponse(msg, map[string]any{
			"success": false,
			"error":   err.Error(),
		}))
		return
	}

	h.respond(ctx, protocol.NewResponse(msg, map[string]any{
		"success":     true,
		"result":      result.Value,
		"memory_used": result.MemoryUsed,
	}))
}

func (h *Host) handleEvent(msg *protocol.Message) {
	eventType, _ := msg.Payload["event_type"].(string)
	data, _ := msg.Payload["data"].(map[string]any)

	h.mu.Lock()
	handler := h.onEvent
	h.mu.Unlock()
	if handler != nil {
		handler(eventType, data)
	}
}

func (h *Host) respond(ctx context.Context, msg *protocol.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal response", zap.Error(err))
		return
	}
	frame, err := h.codec.Encode(raw)
	if err != nil {
		h.logger.Error("encode response", zap.Error(err))
		return
	}
	if err := h.conduit.Send(ctx, frame); err != nil {
		h.logger.Warn("send response", zap.Error(err))
	}
}

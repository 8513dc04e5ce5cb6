package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/monitoring"
)

// Status is the transport connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusErrored      Status = "error"
)

var (
	// ErrNotConnected is returned when sending while not connected. The
	// conduit is never touched in that case.
	ErrNotConnected = errors.New("transport not connected")
	// ErrMessageTooLarge is returned when a frame exceeds the size ceiling.
	ErrMessageTooLarge = errors.New("message exceeds size ceiling")
	// ErrResponseTimeout is returned when no correlated response arrives
	// within the deadline.
	ErrResponseTimeout = errors.New("response timeout")
	// ErrTransportUnavailable is the terminal reconnect failure.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrDestroyed is returned for operations after Destroy.
	ErrDestroyed = errors.New("transport destroyed")
)

// Stats tracks transport activity.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	Errors           uint64
	LastHeartbeat    time.Time
}

// Config holds transport tuning.
type Config struct {
	Source            string
	Target            string
	MaxMessageSize    int
	HeartbeatInterval time.Duration
	ResponseTimeout   time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	EnableCompression bool
	EnableEncryption  bool
	EncryptionKey     []byte
}

// DefaultConfig returns transport defaults.
func DefaultConfig() Config {
	return Config{
		Source:            "host",
		Target:            "sandbox",
		MaxMessageSize:    1 << 20,
		HeartbeatInterval: 30 * time.Second,
		ResponseTimeout:   10 * time.Second,
		ReconnectAttempts: 3,
		ReconnectDelay:    time.Second,
	}
}

// CodecFor builds the codec chain a config implies. Both ends of a conduit
// must use the same config to interoperate.
func CodecFor(cfg Config) (Codec, error) {
	var codecs []Codec
	if cfg.EnableCompression {
		codecs = append(codecs, Gzip())
	}
	if cfg.EnableEncryption {
		sealed, err := Sealed(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, sealed)
	}
	return Chain(codecs...), nil
}

// Handler processes an inbound message of a given kind.
type Handler func(ctx context.Context, msg *Message)

// Transport is the bidirectional message layer over an injected conduit.
// Lifecycle is construct, Initialize, use, Destroy; Destroy is idempotent.
type Transport struct {
	conduit Conduit
	codec   Codec
	cfg     Config
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu              sync.RWMutex
	status          Status
	stats           Stats
	handlers        map[Kind]Handler
	pending         map[string]chan *Message
	messageWatchers []func(*Message)
	statusWatchers  []func(Status)
	errorWatchers   []func(error)
	destroyed       bool
	started         bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a transport over the given conduit. The codec chain is built
// from the config: gzip if compression is enabled, then authenticated
// encryption if enabled; identity otherwise.
func New(conduit Conduit, cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) (*Transport, error) {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	codec, err := CodecFor(cfg)
	if err != nil {
		return nil, err
	}

	return &Transport{
		conduit:  conduit,
		codec:    codec,
		cfg:      cfg,
		logger:   logger.Named("transport"),
		metrics:  metrics,
		status:   StatusDisconnected,
		handlers: make(map[Kind]Handler),
		pending:  make(map[string]chan *Message),
		stop:     make(chan struct{}),
	}, nil
}

// Initialize probes the conduit, announces the session to the peer, and
// starts the heartbeat and receive loops.
func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	t.mu.Unlock()

	if t.conduit == nil {
		t.setStatus(StatusErrored)
		return fmt.Errorf("%w: no conduit", ErrTransportUnavailable)
	}

	t.setStatus(StatusConnecting)

	init := NewMessage(KindControl, t.cfg.Source, t.cfg.Target, ControlPayload("initialize", nil))
	if err := t.transmit(ctx, init); err != nil {
		t.setStatus(StatusErrored)
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	t.mu.Lock()
	if !t.started {
		t.started = true
		t.wg.Add(2)
		go t.receiveLoop()
		go t.heartbeatLoop()
	}
	t.mu.Unlock()

	t.setStatus(StatusConnected)
	t.logger.Debug("transport initialized", zap.String("source", t.cfg.Source))
	return nil
}

// Send transmits a message. It rejects without touching the conduit when the
// transport is not connected or the encoded frame exceeds the size ceiling.
func (t *Transport) Send(ctx context.Context, msg *Message) error {
	t.mu.RLock()
	status := t.status
	destroyed := t.destroyed
	t.mu.RUnlock()

	if destroyed {
		return ErrDestroyed
	}
	if status != StatusConnected {
		return fmt.Errorf("%w: status %s", ErrNotConnected, status)
	}
	return t.transmit(ctx, msg)
}

// Request sends a message and awaits the correlated response. A timeout of
// zero uses the configured response timeout. On timeout the pending entry is
// removed and the caller rejected.
func (t *Transport) Request(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = t.cfg.ResponseTimeout
	}

	ch := make(chan *Message, 1)
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil, ErrDestroyed
	}
	t.pending[msg.ID] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, msg.ID)
		t.mu.Unlock()
	}()

	if err := t.Send(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrDestroyed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		t.recordError(fmt.Errorf("%w: message %s after %s", ErrResponseTimeout, msg.ID, timeout))
		return nil, fmt.Errorf("%w: message %s after %s", ErrResponseTimeout, msg.ID, timeout)
	}
}

// Handle registers the handler for a message kind. Heartbeats are consumed
// internally and never dispatched.
func (t *Transport) Handle(kind Kind, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = h
}

// OnMessage registers an observer invoked for every dispatched inbound
// message.
func (t *Transport) OnMessage(fn func(*Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageWatchers = append(t.messageWatchers, fn)
}

// OnStatus registers a connection status observer.
func (t *Transport) OnStatus(fn func(Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusWatchers = append(t.statusWatchers, fn)
}

// OnError registers an error observer.
func (t *Transport) OnError(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorWatchers = append(t.errorWatchers, fn)
}

// Reconnect retries Initialize up to the configured attempt count, with the
// delay scaled linearly by attempt number. Exhaustion is terminal.
func (t *Transport) Reconnect(ctx context.Context) error {
	attempts := t.cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		delay := time.Duration(attempt) * t.cfg.ReconnectDelay
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		t.logger.Debug("reconnect attempt",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if lastErr = t.Initialize(ctx); lastErr == nil {
			return nil
		}
	}

	t.setStatus(StatusErrored)
	err := fmt.Errorf("%w: %d attempts exhausted: %v", ErrTransportUnavailable, attempts, lastErr)
	t.recordError(err)
	return err
}

// Destroy best-effort notifies the peer, stops all timers, rejects pending
// requests, and clears observers. Calling it twice is a no-op.
func (t *Transport) Destroy() error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil
	}
	t.destroyed = true
	started := t.started
	connected := t.status == StatusConnected
	t.mu.Unlock()

	if connected {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		bye := NewMessage(KindControl, t.cfg.Source, t.cfg.Target, ControlPayload("destroy", nil))
		_ = t.transmit(ctx, bye)
		cancel()
	}

	if started {
		close(t.stop)
		t.wg.Wait()
	}

	t.mu.Lock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.handlers = make(map[Kind]Handler)
	t.messageWatchers = nil
	t.statusWatchers = nil
	t.errorWatchers = nil
	t.status = StatusDisconnected
	t.mu.Unlock()

	t.logger.Debug("transport destroyed")
	return nil
}

// Status returns the current connection status.
func (t *Transport) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Stats returns a snapshot of transport statistics.
func (t *Transport) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// transmit serializes, size-checks, encodes, and sends a message without a
// status gate. Initialize, heartbeats, and the destroy notification use it
// directly.
func (t *Transport) transmit(ctx context.Context, msg *Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(raw) > t.cfg.MaxMessageSize {
		err := fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(raw), t.cfg.MaxMessageSize)
		t.recordError(err)
		return err
	}

	frame, err := t.codec.Encode(raw)
	if err != nil {
		t.recordError(err)
		return err
	}
	if err := t.conduit.Send(ctx, frame); err != nil {
		t.recordError(err)
		return err
	}

	t.mu.Lock()
	t.stats.MessagesSent++
	t.stats.BytesSent += uint64(len(frame))
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.MessagesSent.WithLabelValues(string(msg.Kind)).Inc()
		t.metrics.MessageBytes.WithLabelValues("out").Add(float64(len(frame)))
	}
	return nil
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stop:
			return
		case frame, ok := <-t.conduit.Receive():
			if !ok {
				return
			}
			t.handleFrame(frame)
		}
	}
}

func (t *Transport) handleFrame(frame []byte) {
	raw, err := t.codec.Decode(frame)
	if err != nil {
		t.recordError(fmt.Errorf("decode frame: %w", err))
		return
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.recordError(fmt.Errorf("parse message: %w", err))
		return
	}

	t.mu.Lock()
	t.stats.MessagesReceived++
	t.stats.BytesReceived += uint64(len(frame))
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.MessagesReceived.WithLabelValues(string(msg.Kind)).Inc()
		t.metrics.MessageBytes.WithLabelValues("in").Add(float64(len(frame)))
	}

	// Heartbeats only touch stats, never handlers.
	if msg.Kind == KindHeartbeat {
		t.mu.Lock()
		t.stats.LastHeartbeat = msg.Timestamp
		t.mu.Unlock()
		if t.metrics != nil {
			t.metrics.LastHeartbeat.SetToCurrentTime()
		}
		return
	}

	// Responses are matched strictly by correlation id.
	if msg.IsResponse {
		t.mu.RLock()
		ch, exists := t.pending[msg.ID]
		t.mu.RUnlock()
		if exists {
			select {
			case ch <- &msg:
			default:
			}
		}
		return
	}

	t.mu.RLock()
	handler := t.handlers[msg.Kind]
	watchers := append([]func(*Message){}, t.messageWatchers...)
	t.mu.RUnlock()

	for _, fn := range watchers {
		fn(&msg)
	}
	if handler == nil {
		t.logger.Warn("no handler for message kind", zap.String("kind", string(msg.Kind)))
		return
	}
	handler(context.Background(), &msg)
}

func (t *Transport) heartbeatLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if t.Status() != StatusConnected {
				continue
			}
			hb := NewMessage(KindHeartbeat, t.cfg.Source, t.cfg.Target, map[string]any{
				"status": "alive",
			})
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := t.transmit(ctx, hb); err != nil {
				t.logger.Warn("heartbeat send failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (t *Transport) setStatus(status Status) {
	t.mu.Lock()
	if t.status == status {
		t.mu.Unlock()
		return
	}
	t.status = status
	watchers := append([]func(Status){}, t.statusWatchers...)
	t.mu.Unlock()

	for _, fn := range watchers {
		fn(status)
	}
}

func (t *Transport) recordError(err error) {
	t.mu.Lock()
	t.stats.Errors++
	watchers := append([]func(error){}, t.errorWatchers...)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.TransportErrors.Inc()
	}
	for _, fn := range watchers {
		fn(err)
	}
}

package protocol

import (
	"context"
	"errors"
	"sync"
)

// ErrConduitClosed is returned when sending on a closed conduit.
var ErrConduitClosed = errors.New("conduit closed")

// Conduit is the injected primitive that moves raw frames between the host
// and the sandbox peer. The transport owns all envelope semantics; a conduit
// only moves bytes.
type Conduit interface {
	Send(ctx context.Context, frame []byte) error
	Receive() <-chan []byte
	Close() error
}

// PipeEnd is one side of an in-process conduit pair. Used for same-process
// engine hosting and for tests.
type PipeEnd struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
	once   *sync.Once
}

// NewPipe creates two linked conduit ends with the given buffer depth.
// Frames sent on one end arrive on the other.
func NewPipe(buffer int) (*PipeEnd, *PipeEnd) {
	if buffer <= 0 {
		buffer = 64
	}
	aToB := make(chan []byte, buffer)
	bToA := make(chan []byte, buffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &PipeEnd{out: aToB, in: bToA, closed: closed, once: once}
	b := &PipeEnd{out: bToA, in: aToB, closed: closed, once: once}
	return a, b
}

// Send delivers a frame to the peer end, honoring context cancellation.
func (p *PipeEnd) Send(ctx context.Context, frame []byte) error {
	select {
	case <-p.closed:
		return ErrConduitClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return ErrConduitClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the channel of frames arriving from the peer end.
func (p *PipeEnd) Receive() <-chan []byte {
	return p.in
}

// Close closes both ends. Safe to call from either side, multiple times.
func (p *PipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

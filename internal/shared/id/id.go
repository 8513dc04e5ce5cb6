// Package id provides centralized ID generation for the engine.
//
// ULIDs are used for every identifier: lexicographically sortable, prefixed
// per type for readable logs, and collision-free across components.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a sandbox session.
type SessionID string

// RenderID identifies a single document render.
type RenderID string

// ElementID identifies a node on the rendering surface.
type ElementID string

const (
	SessionPrefix = "sess"
	RenderPrefix  = "rend"
	ElementPrefix = "el"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator with secure entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new sandbox session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRenderID generates a new render ID.
func NewRenderID() RenderID {
	return RenderID(Default().GenerateWithPrefix(RenderPrefix))
}

// NewElementID generates a new surface element ID.
func NewElementID() ElementID {
	return ElementID(Default().GenerateWithPrefix(ElementPrefix))
}

func (id SessionID) String() string { return string(id) }
func (id RenderID) String() string  { return string(id) }
func (id ElementID) String() string { return string(id) }

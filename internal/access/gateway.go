// Package access is the policy-gated surface API for trusted host callers.
// Every operation re-checks the session's DOM access level and the configured
// allowlist; the inherent denylist for executable values applies on top and
// cannot be widened.
package access

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/livdocs/engine/internal/boundary"
	"github.com/livdocs/engine/internal/logging"
	"github.com/livdocs/engine/internal/sanitize"
	"github.com/livdocs/engine/internal/security"
)

// Allowlist bounds what a gateway may touch. Empty lists allow nothing of
// their category; zero MaxElements means no creation at all.
type Allowlist struct {
	AllowedElements   []string
	AllowedAttributes []string
	AllowedEvents     []string
	AllowedStyles     []string
	MaxElements       int
}

// Match is one query result.
type Match struct {
	ID   string
	Tag  string
	Text string
}

// Gateway mediates all surface access for one session.
type Gateway struct {
	boundary  boundary.Boundary
	access    security.DOMAccess
	allow     Allowlist
	sanitizer *sanitize.Sanitizer
	logger    *logging.Logger

	mu        sync.Mutex
	created   []string
	listeners map[string][]string
}

// New creates a gateway over a boundary with the given access level.
func New(b boundary.Boundary, access security.DOMAccess, allow Allowlist, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gateway{
		boundary:  b,
		access:    access,
		allow:     allow,
		sanitizer: sanitize.New(nil),
		logger:    logger.Named("access"),
		listeners: make(map[string][]string),
	}
}

// GetText reads an element's text content.
func (g *Gateway) GetText(elementID string) (string, error) {
	if err := g.requireRead(); err != nil {
		return "", err
	}
	node, err := g.boundary.Surface().Get(elementID)
	if err != nil {
		return "", err
	}
	return node.Text, nil
}

// GetAttribute reads an allowlisted attribute.
func (g *Gateway) GetAttribute(elementID, name string) (string, error) {
	if err := g.requireRead(); err != nil {
		return "", err
	}
	if err := g.checkAttribute(name, ""); err != nil {
		return "", err
	}
	node, err := g.boundary.Surface().Get(elementID)
	if err != nil {
		return "", err
	}
	return node.Attrs[name], nil
}

// Query runs a CSS selector over the rendered surface.
func (g *Gateway) Query(selector string) ([]Match, error) {
	if err := g.requireRead(); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(g.boundary.HTML()))
	if err != nil {
		return nil, fmt.Errorf("parse surface: %w", err)
	}

	var matches []Match
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		matches = append(matches, Match{
			ID:   id,
			Tag:  goquery.NodeName(sel),
			Text: strings.TrimSpace(sel.Text()),
		})
	})
	return matches, nil
}

// SetText writes text content to an element. Text is stored raw and escaped
// at serialization, so it can never become markup.
func (g *Gateway) SetText(elementID, text string) error {
	if err := g.requireWrite(); err != nil {
		return err
	}
	return g.boundary.Surface().UpdateElement(elementID, nil, &text)
}

// SetAttribute writes an allowlisted attribute with a safe value.
func (g *Gateway) SetAttribute(elementID, name, value string) error {
	if err := g.requireWrite(); err != nil {
		return err
	}
	if err := g.checkAttribute(name, value); err != nil {
		return err
	}
	return g.boundary.Surface().UpdateElement(elementID, map[string]string{name: value}, nil)
}

// SetStyle writes an allowlisted style property with a safe value.
func (g *Gateway) SetStyle(elementID, property, value string) error {
	if err := g.requireWrite(); err != nil {
		return err
	}
	if !contains(g.allow.AllowedStyles, strings.ToLower(property)) {
		return security.Denied("dom.style", "style property %q not in allowlist", property)
	}
	if sanitize.ExecutableValue(value) {
		return security.Denied("dom.style", "style value for %q carries executable content", property)
	}
	return g.boundary.Surface().SetStyle(elementID, map[string]string{property: value})
}

// CreateElement adds an allowlisted element under a parent, refusing once the
// element budget is spent.
func (g *Gateway) CreateElement(parentID, tag string, attrs map[string]string) (string, error) {
	if err := g.requireWrite(); err != nil {
		return "", err
	}
	if !contains(g.allow.AllowedElements, strings.ToLower(tag)) {
		return "", security.Denied("dom.create", "element %q not in allowlist", tag)
	}

	for name, value := range attrs {
		if err := g.checkAttribute(name, value); err != nil {
			return "", err
		}
	}

	// Budget check and reservation happen under one lock so concurrent
	// creates cannot both pass on the last slot.
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.created) >= g.allow.MaxElements {
		return "", security.Denied("dom.create", "element budget of %d exhausted", g.allow.MaxElements)
	}

	elementID, err := g.boundary.Surface().CreateElement(parentID, "", tag, attrs)
	if err != nil {
		return "", err
	}
	g.created = append(g.created, elementID)
	return elementID, nil
}

// RemoveElement removes an element this gateway created.
func (g *Gateway) RemoveElement(elementID string) error {
	if err := g.requireWrite(); err != nil {
		return err
	}
	g.mu.Lock()
	owned := contains(g.created, elementID)
	g.mu.Unlock()
	if !owned {
		return security.Denied("dom.remove", "element %q was not created through this gateway", elementID)
	}

	if err := g.boundary.Surface().RemoveElement(elementID); err != nil {
		return err
	}
	g.mu.Lock()
	g.created = remove(g.created, elementID)
	g.mu.Unlock()
	return nil
}

// AddListener registers interest in an allowlisted event on an element.
func (g *Gateway) AddListener(elementID, event string) error {
	if err := g.requireWrite(); err != nil {
		return err
	}
	if !contains(g.allow.AllowedEvents, strings.ToLower(event)) {
		return security.Denied("dom.listen", "event %q not in allowlist", event)
	}
	if _, err := g.boundary.Surface().Get(elementID); err != nil {
		return err
	}

	g.mu.Lock()
	g.listeners[elementID] = append(g.listeners[elementID], event)
	g.mu.Unlock()
	return nil
}

// Listeners returns the events registered on an element through this gateway.
func (g *Gateway) Listeners(elementID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.listeners[elementID]...)
}

// Cleanup removes the elements and listeners this gateway created. Content
// owned by the document itself is left alone.
func (g *Gateway) Cleanup() {
	g.mu.Lock()
	created := g.created
	g.created = nil
	g.listeners = make(map[string][]string)
	g.mu.Unlock()

	surface := g.boundary.Surface()
	for _, elementID := range created {
		if err := surface.RemoveElement(elementID); err != nil {
			g.logger.Debug("cleanup skip", zap.String("element", elementID), zap.Error(err))
		}
	}
}

func (g *Gateway) requireRead() error {
	if !g.access.Allows(security.DOMAccessRead) {
		return security.Denied("dom.read", "access level %q does not permit reads", g.access)
	}
	return nil
}

func (g *Gateway) requireWrite() error {
	if g.access != security.DOMAccessWrite {
		return security.Denied("dom.write", "access level %q does not permit writes", g.access)
	}
	return nil
}

// checkAttribute applies the allowlist and the inherent denylist. The
// denylist wins even for allowlisted names.
func (g *Gateway) checkAttribute(name, value string) error {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "on") {
		return security.Denied("dom.attribute", "event handler attribute %q is always denied", name)
	}
	if !contains(g.allow.AllowedAttributes, lower) {
		return security.Denied("dom.attribute", "attribute %q not in allowlist", name)
	}
	if sanitize.ExecutableValue(value) {
		return security.Denied("dom.attribute", "value for %q carries executable content", name)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func remove(set []string, v string) []string {
	for i, s := range set {
		if s == v {
			return append(set[:i], set[i+1:]...)
		}
	}
	return set
}

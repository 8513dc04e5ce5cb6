// Package dom maintains the rendering surface: an element tree keyed by
// element id, mutated by one writer at a time and serialized to HTML for
// display.
package dom

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/livdocs/engine/internal/shared/id"
)

var (
	// ErrElementNotFound is returned for operations against an unknown
	// element id.
	ErrElementNotFound = errors.New("element not found")
	// ErrElementExists is returned when creating an element whose id is
	// already on the surface.
	ErrElementExists = errors.New("element already exists")
)

// voidElements cannot carry children and self-close on serialization.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// Node is one element on the surface.
type Node struct {
	Tag      string
	ID       string
	Attrs    map[string]string
	Style    map[string]string
	Text     string
	Children []*Node

	parent *Node
}

// Surface is the element tree for one render. The root scaffolding node
// survives Clear; everything under it is replaceable content.
type Surface struct {
	root  *Node
	index map[string]*Node
}

// NewSurface creates a surface whose root carries the given scope id.
func NewSurface(scopeID string) *Surface {
	if scopeID == "" {
		scopeID = id.NewElementID().String()
	}
	root := &Node{
		Tag:   "div",
		ID:    scopeID,
		Attrs: map[string]string{},
		Style: map[string]string{},
	}
	return &Surface{
		root:  root,
		index: map[string]*Node{scopeID: root},
	}
}

// Root returns the scaffolding node.
func (s *Surface) Root() *Node { return s.root }

// Get returns the node with the given element id.
func (s *Surface) Get(elementID string) (*Node, error) {
	node, ok := s.index[elementID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, elementID)
	}
	return node, nil
}

// Len returns the number of elements on the surface, scaffolding included.
func (s *Surface) Len() int { return len(s.index) }

// CreateElement adds an element under the given parent. An empty elementID
// gets a generated one; the assigned id is returned.
func (s *Surface) CreateElement(parentID, elementID, tag string, attrs map[string]string) (string, error) {
	parent, ok := s.index[parentID]
	if !ok {
		return "", fmt.Errorf("%w: parent %s", ErrElementNotFound, parentID)
	}
	if elementID == "" {
		elementID = id.NewElementID().String()
	}
	if _, exists := s.index[elementID]; exists {
		return "", fmt.Errorf("%w: %s", ErrElementExists, elementID)
	}

	node := &Node{
		Tag:    tag,
		ID:     elementID,
		Attrs:  map[string]string{},
		Style:  map[string]string{},
		parent: parent,
	}
	for k, v := range attrs {
		node.Attrs[k] = v
	}
	parent.Children = append(parent.Children, node)
	s.index[elementID] = node
	return elementID, nil
}

// UpdateElement replaces attributes and text of an element. A nil attrs map
// leaves attributes untouched; a nil text pointer leaves text untouched.
func (s *Surface) UpdateElement(elementID string, attrs map[string]string, text *string) error {
	node, ok := s.index[elementID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, elementID)
	}
	for k, v := range attrs {
		if v == "" {
			delete(node.Attrs, k)
			continue
		}
		node.Attrs[k] = v
	}
	if text != nil {
		node.Text = *text
	}
	return nil
}

// SetStyle merges style properties onto an element. An empty value removes
// the property.
func (s *Surface) SetStyle(elementID string, style map[string]string) error {
	node, ok := s.index[elementID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, elementID)
	}
	for prop, value := range style {
		if value == "" {
			delete(node.Style, prop)
			continue
		}
		node.Style[prop] = value
	}
	return nil
}

// RemoveElement detaches an element and its subtree. The scaffolding root
// cannot be removed.
func (s *Surface) RemoveElement(elementID string) error {
	node, ok := s.index[elementID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, elementID)
	}
	if node == s.root {
		return fmt.Errorf("%w: cannot remove surface root", ErrElementExists)
	}
	node.parent.Children = removeChild(node.parent.Children, node)
	s.unindex(node)
	return nil
}

// MoveElement reattaches an element under a new parent at the given child
// index. An index past the end appends.
func (s *Surface) MoveElement(elementID, newParentID string, index int) error {
	node, ok := s.index[elementID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, elementID)
	}
	if node == s.root {
		return fmt.Errorf("%w: cannot move surface root", ErrElementExists)
	}
	parent, ok := s.index[newParentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrElementNotFound, newParentID)
	}
	for p := parent; p != nil; p = p.parent {
		if p == node {
			return fmt.Errorf("cannot move %s under its own subtree", elementID)
		}
	}

	node.parent.Children = removeChild(node.parent.Children, node)
	if index < 0 || index >= len(parent.Children) {
		parent.Children = append(parent.Children, node)
	} else {
		parent.Children = append(parent.Children[:index],
			append([]*Node{node}, parent.Children[index:]...)...)
	}
	node.parent = parent
	return nil
}

// Clear drops all content but keeps the scaffolding root.
func (s *Surface) Clear() {
	for _, child := range s.root.Children {
		s.unindex(child)
	}
	s.root.Children = nil
	s.root.Text = ""
}

// SetHTML replaces the surface content with parsed markup. Elements with an
// id attribute become addressable; others stay anonymous in the tree.
func (s *Surface) SetHTML(markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return fmt.Errorf("parse markup: %w", err)
	}

	s.Clear()
	for _, n := range nodes {
		if child := s.convert(n, s.root); child != nil {
			s.root.Children = append(s.root.Children, child)
		}
	}
	return nil
}

// HTML serializes the surface, scaffolding root included.
func (s *Surface) HTML() string {
	var b strings.Builder
	writeNode(&b, s.root)
	return b.String()
}

// Query finds nodes by a simple selector: #id, .class, or tag name.
func (s *Surface) Query(selector string) []*Node {
	switch {
	case strings.HasPrefix(selector, "#"):
		if node, ok := s.index[strings.TrimPrefix(selector, "#")]; ok {
			return []*Node{node}
		}
		return nil
	case strings.HasPrefix(selector, "."):
		class := strings.TrimPrefix(selector, ".")
		return findAll(s.root, func(n *Node) bool {
			return hasClass(n.Attrs["class"], class)
		})
	default:
		return findAll(s.root, func(n *Node) bool {
			return strings.EqualFold(n.Tag, selector)
		})
	}
}

func (s *Surface) convert(n *html.Node, parent *Node) *Node {
	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text == "" {
			return nil
		}
		if parent != nil {
			parent.Text += text
		}
		return nil
	case html.ElementNode:
	default:
		return nil
	}

	node := &Node{
		Tag:    n.Data,
		Attrs:  map[string]string{},
		Style:  map[string]string{},
		parent: parent,
	}
	for _, attr := range n.Attr {
		if attr.Key == "id" {
			node.ID = attr.Val
			continue
		}
		node.Attrs[attr.Key] = attr.Val
	}
	if node.ID != "" {
		if _, taken := s.index[node.ID]; !taken {
			s.index[node.ID] = node
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := s.convert(c, node); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

func (s *Surface) unindex(node *Node) {
	if node.ID != "" {
		delete(s.index, node.ID)
	}
	for _, child := range node.Children {
		s.unindex(child)
	}
}

func writeNode(b *strings.Builder, n *Node) {
	b.WriteByte('<')
	b.WriteString(n.Tag)
	if n.ID != "" {
		fmt.Fprintf(b, ` id="%s"`, html.EscapeString(n.ID))
	}
	for _, key := range sortedKeys(n.Attrs) {
		fmt.Fprintf(b, ` %s="%s"`, key, html.EscapeString(n.Attrs[key]))
	}
	if len(n.Style) > 0 {
		b.WriteString(` style="`)
		for i, prop := range sortedKeys(n.Style) {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(b, "%s: %s;", prop, html.EscapeString(n.Style[prop]))
		}
		b.WriteByte('"')
	}
	if voidElements[n.Tag] {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	if n.Text != "" {
		b.WriteString(html.EscapeString(n.Text))
	}
	for _, child := range n.Children {
		writeNode(b, child)
	}
	fmt.Fprintf(b, "</%s>", n.Tag)
}

func removeChild(children []*Node, node *Node) []*Node {
	for i, child := range children {
		if child == node {
			return append(children[:i], children[i+1:]...)
		}
	}
	return children
}

func findAll(root *Node, match func(*Node) bool) []*Node {
	var result []*Node
	if match(root) {
		result = append(result, root)
	}
	for _, child := range root.Children {
		result = append(result, findAll(child, match)...)
	}
	return result
}

func hasClass(classAttr, class string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == class {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

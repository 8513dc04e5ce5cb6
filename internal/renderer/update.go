package renderer

import "time"

// OpKind names a surface mutation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpRemove OpKind = "remove"
	OpMove   OpKind = "move"
)

// DOMOperation is one structural mutation.
type DOMOperation struct {
	Kind      OpKind            `json:"kind"`
	ElementID string            `json:"element_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Tag       string            `json:"tag,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Text      *string           `json:"text,omitempty"`
	Index     int               `json:"index,omitempty"`
}

// StyleChange is one style property write.
type StyleChange struct {
	ElementID string `json:"element_id"`
	Property  string `json:"property"`
	Value     string `json:"value"`
}

// AnimationUpdate declares a property animation on an element.
type AnimationUpdate struct {
	ElementID string        `json:"element_id"`
	Property  string        `json:"property"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Duration  time.Duration `json:"duration"`
}

// RenderUpdate is one batch of surface changes. Operations apply one at a
// time in emission order.
type RenderUpdate struct {
	DOMOperations    []DOMOperation    `json:"dom_operations,omitempty"`
	StyleChanges     []StyleChange     `json:"style_changes,omitempty"`
	AnimationUpdates []AnimationUpdate `json:"animation_updates,omitempty"`
}

// InteractionEvent is a user interaction forwarded into the sandbox.
type InteractionEvent struct {
	Type      string         `json:"type"`
	ElementID string         `json:"element_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

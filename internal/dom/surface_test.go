package dom

import (
	"errors"
	"strings"
	"testing"
)

func TestSurfaceMutations(t *testing.T) {
	s := NewSurface("scope")

	boxID, err := s.CreateElement("scope", "box", "div", map[string]string{"class": "card"})
	if err != nil {
		t.Fatalf("CreateElement() error = %v", err)
	}
	if boxID != "box" {
		t.Errorf("assigned id = %s, want box", boxID)
	}

	text := "hello"
	if err := s.UpdateElement("box", map[string]string{"data-k": "v"}, &text); err != nil {
		t.Fatalf("UpdateElement() error = %v", err)
	}
	if err := s.SetStyle("box", map[string]string{"color": "red"}); err != nil {
		t.Fatalf("SetStyle() error = %v", err)
	}

	out := s.HTML()
	for _, want := range []string{`id="box"`, `class="card"`, `data-k="v"`, `color: red;`, ">hello<"} {
		if !strings.Contains(out, want) {
			t.Errorf("HTML() missing %q in %s", want, out)
		}
	}

	if err := s.RemoveElement("box"); err != nil {
		t.Fatalf("RemoveElement() error = %v", err)
	}
	if _, err := s.Get("box"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("Get() after remove error = %v, want ErrElementNotFound", err)
	}
}

func TestSurfaceRejectsUnknownTargets(t *testing.T) {
	s := NewSurface("scope")

	if _, err := s.CreateElement("ghost", "", "div", nil); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("CreateElement() error = %v, want ErrElementNotFound", err)
	}
	if err := s.UpdateElement("ghost", nil, nil); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("UpdateElement() error = %v, want ErrElementNotFound", err)
	}
	if err := s.RemoveElement("ghost"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("RemoveElement() error = %v, want ErrElementNotFound", err)
	}

	if _, err := s.CreateElement("scope", "a", "div", nil); err != nil {
		t.Fatalf("CreateElement() error = %v", err)
	}
	if _, err := s.CreateElement("scope", "a", "div", nil); !errors.Is(err, ErrElementExists) {
		t.Errorf("duplicate CreateElement() error = %v, want ErrElementExists", err)
	}
}

func TestSurfaceMove(t *testing.T) {
	s := NewSurface("scope")
	s.CreateElement("scope", "list", "ul", nil)
	s.CreateElement("scope", "item", "li", nil)

	if err := s.MoveElement("item", "list", 0); err != nil {
		t.Fatalf("MoveElement() error = %v", err)
	}
	list, _ := s.Get("list")
	if len(list.Children) != 1 || list.Children[0].ID != "item" {
		t.Errorf("item not reattached under list")
	}

	// A node can never become its own ancestor.
	if err := s.MoveElement("list", "item", 0); err == nil {
		t.Error("cycle-creating move must fail")
	}
}

func TestSurfaceClearKeepsScaffolding(t *testing.T) {
	s := NewSurface("scope")
	s.CreateElement("scope", "a", "div", nil)
	s.CreateElement("a", "b", "span", nil)

	s.Clear()

	if _, err := s.Get("scope"); err != nil {
		t.Errorf("scaffolding root removed by Clear: %v", err)
	}
	if _, err := s.Get("a"); !errors.Is(err, ErrElementNotFound) {
		t.Error("content survived Clear")
	}
	if s.Len() != 1 {
		t.Errorf("Len() after Clear = %d, want 1", s.Len())
	}
}

func TestSurfaceSetHTML(t *testing.T) {
	s := NewSurface("scope")
	err := s.SetHTML(`<section id="intro" class="lead"><p id="p1">Welcome</p><img src="x.png"></section>`)
	if err != nil {
		t.Fatalf("SetHTML() error = %v", err)
	}

	intro, err := s.Get("intro")
	if err != nil {
		t.Fatalf("parsed element not indexed: %v", err)
	}
	if intro.Attrs["class"] != "lead" {
		t.Errorf("class attr = %q, want lead", intro.Attrs["class"])
	}
	p, err := s.Get("p1")
	if err != nil {
		t.Fatalf("nested element not indexed: %v", err)
	}
	if p.Text != "Welcome" {
		t.Errorf("text = %q, want Welcome", p.Text)
	}

	out := s.HTML()
	if !strings.Contains(out, "<img") || !strings.Contains(out, "/>") {
		t.Errorf("void element serialization wrong: %s", out)
	}
}

func TestSurfaceQuery(t *testing.T) {
	s := NewSurface("scope")
	s.SetHTML(`<div id="a" class="x"></div><div id="b" class="x y"></div><span id="c"></span>`)

	if got := s.Query("#b"); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("Query(#b) = %v", got)
	}
	if got := s.Query(".x"); len(got) != 2 {
		t.Errorf("Query(.x) found %d, want 2", len(got))
	}
	if got := s.Query("span"); len(got) != 1 || got[0].ID != "c" {
		t.Errorf("Query(span) = %v", got)
	}
}

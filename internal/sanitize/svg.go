package sanitize

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxAnimationDur    = 30.0 // seconds
	maxAnimationRepeat = 100
)

// svgBlockedElements execute code or embed foreign content.
var svgBlockedElements = map[string]bool{
	"script":        true,
	"foreignobject": true,
	"iframe":        true,
	"embed":         true,
	"object":        true,
	"use":           false, // kept, but its href is checked below
}

var svgAnimationElements = map[string]bool{
	"animate":          true,
	"animatemotion":    true,
	"animatetransform": true,
	"set":              true,
}

// SVG strips executable and external content from inline vector markup and
// clamps animation timing so a document cannot run unbounded animations.
func (s *Sanitizer) SVG(markup string) string {
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return ""
	}

	var b bytes.Buffer
	for _, n := range nodes {
		cleanSVGNode(n)
		if n != nil {
			_ = html.Render(&b, n)
		}
	}

	out := b.String()
	if out != markup && s.metrics != nil {
		s.metrics.SanitizerStrips.WithLabelValues("svg").Inc()
	}
	return out
}

// cleanSVGNode scrubs a node in place and prunes blocked children.
func cleanSVGNode(n *html.Node) {
	if n.Type == html.ElementNode {
		tag := strings.ToLower(n.Data)
		attrs := n.Attr[:0]
		for _, attr := range n.Attr {
			if keepSVGAttr(tag, attr) {
				attrs = append(attrs, clampSVGAttr(tag, attr))
			}
		}
		n.Attr = attrs
	}

	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && svgBlockedElements[strings.ToLower(c.Data)] {
			n.RemoveChild(c)
			continue
		}
		cleanSVGNode(c)
	}
}

func keepSVGAttr(tag string, attr html.Attribute) bool {
	key := strings.ToLower(attr.Key)
	if strings.HasPrefix(key, "on") {
		return false
	}
	if key == "href" || key == "xlink:href" {
		// Only same-document fragment references survive.
		return strings.HasPrefix(attr.Val, "#")
	}
	return true
}

func clampSVGAttr(tag string, attr html.Attribute) html.Attribute {
	if !svgAnimationElements[tag] {
		return attr
	}
	switch strings.ToLower(attr.Key) {
	case "dur", "begin", "end":
		if secs, ok := parseClockSeconds(attr.Val); ok && secs > maxAnimationDur {
			attr.Val = strconv.FormatFloat(maxAnimationDur, 'f', -1, 64) + "s"
		}
	case "repeatcount":
		if attr.Val == "indefinite" {
			attr.Val = strconv.Itoa(maxAnimationRepeat)
			break
		}
		if count, err := strconv.ParseFloat(attr.Val, 64); err == nil && count > maxAnimationRepeat {
			attr.Val = strconv.Itoa(maxAnimationRepeat)
		}
	}
	return attr
}

// parseClockSeconds reads SMIL clock values of the "1.5s" and "200ms" forms.
func parseClockSeconds(v string) (float64, bool) {
	v = strings.TrimSpace(strings.ToLower(v))
	switch {
	case strings.HasSuffix(v, "ms"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(v, "ms"), 64)
		return n / 1000, err == nil
	case strings.HasSuffix(v, "s"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(v, "s"), 64)
		return n, err == nil
	default:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	}
}

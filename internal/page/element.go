// Package page holds the data model the engine reads from a live document:
// the interactive-element index, page content used for context checks, and
// the small state fingerprint used for post-action verification.
package page

import (
	"context"
	"strings"
)

// MaxTextLength bounds the normalized text kept per element.
const MaxTextLength = 100

// MinRenderedSize is the smallest width/height (px) an element may have to be indexed.
const MinRenderedSize = 5

// BoundingBox is the element's rendered rectangle in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the rendered area.
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// InteractiveElement is one entry of the element index. IDs are stable for
// the lifetime of the page they were assigned on.
type InteractiveElement struct {
	ID          string      `json:"id"`
	Tag         string      `json:"tag"`
	Role        string      `json:"role,omitempty"`
	InputType   string      `json:"inputType,omitempty"`
	Text        string      `json:"text,omitempty"`
	Label       string      `json:"label,omitempty"`
	Title       string      `json:"title,omitempty"`
	Href        string      `json:"href,omitempty"`
	Identifier  string      `json:"identifier,omitempty"`
	Classes     string      `json:"classes,omitempty"`
	Landmark    string      `json:"landmark,omitempty"`
	Visible     bool        `json:"visible"`
	Disabled    bool        `json:"disabled,omitempty"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// Rendered reports whether the element has a visible, non-trivial footprint.
func (e InteractiveElement) Rendered() bool {
	return e.Visible && e.BoundingBox.Width >= MinRenderedSize && e.BoundingBox.Height >= MinRenderedSize
}

// IsPassword reports whether the element is a password input.
func (e InteractiveElement) IsPassword() bool {
	return strings.EqualFold(e.InputType, "password")
}

// Actionable reports whether the element is conventionally clickable.
func (e InteractiveElement) Actionable() bool {
	switch strings.ToLower(e.Tag) {
	case "button", "a":
		return true
	case "input":
		t := strings.ToLower(e.InputType)
		return t == "submit" || t == "button"
	}
	r := strings.ToLower(e.Role)
	return r == "button" || r == "link"
}

// DisplayText returns the best human-readable name for the element.
func (e InteractiveElement) DisplayText() string {
	for _, s := range []string{e.Text, e.Label, e.Title, e.Identifier} {
		if s != "" {
			return s
		}
	}
	return e.Tag
}

// Index is a query capability over the live interactive-element set. It is
// re-enumerated on every call; callers must not cache results across actions.
type Index interface {
	// Elements returns the currently rendered interactive elements.
	Elements(ctx context.Context) ([]InteractiveElement, error)
	// Lookup finds an element by id, including elements that are not rendered.
	Lookup(ctx context.Context, id string) (InteractiveElement, bool, error)
}

// NormalizeText collapses whitespace and truncates to MaxTextLength.
func NormalizeText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > MaxTextLength {
		s = string(r[:MaxTextLength])
	}
	return s
}

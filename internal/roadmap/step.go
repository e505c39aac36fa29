// Package roadmap defines the planner-issued step list the engine executes.
package roadmap

import "strings"

// Step is one planner-issued action. Steps are immutable once issued.
type Step struct {
	ID         int    `json:"step_id,omitempty"`
	Action     string `json:"action"`
	TargetHint string `json:"target_hint"`
	TargetID   string `json:"target_id,omitempty"`
	Value      string `json:"value,omitempty"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// Verb returns the normalized action verb.
func (s Step) Verb() string {
	return NormalizeVerb(s.Action)
}

// Describe renders the step for notices and previews.
func (s Step) Describe() string {
	verb := s.Verb()
	if verb == "" {
		verb = "act on"
	}
	target := strings.TrimSpace(s.TargetHint)
	if target == "" {
		target = s.TargetID
	}
	if s.Value != "" && (verb == "type" || verb == "fill" || verb == "enter" || verb == "select") {
		return verb + " \"" + s.Value + "\" into " + target
	}
	return verb + " " + target
}

var documentVerbs = map[string]bool{"navigate": true, "goto": true, "go to": true, "open": true, "visit": true}

// LoadsDocument reports whether the step replaces the document rather than
// mutating it.
func (s Step) LoadsDocument() bool {
	return documentVerbs[s.Verb()]
}

// NavigationURL returns the absolute URL a document-loading step carries in
// its value, or "" when the step must follow a link instead.
func (s Step) NavigationURL() string {
	if !s.LoadsDocument() {
		return ""
	}
	v := strings.TrimSpace(s.Value)
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return v
	}
	return ""
}

var scrollFiller = map[string]bool{
	"down": true, "up": true, "page": true, "the": true, "a": true, "bit": true,
	"more": true, "further": true, "to": true, "of": true, "bottom": true,
	"window": true, "screen": true, "please": true, "little": true, "scroll": true,
}

// ScrollsPage reports whether the step scrolls the viewport itself: a scroll
// whose hint names only a direction or nothing at all.
func (s Step) ScrollsPage() bool {
	if s.Verb() != "scroll" || strings.TrimSpace(s.TargetID) != "" {
		return false
	}
	for _, w := range strings.Fields(strings.ToLower(s.TargetHint)) {
		if !scrollFiller[strings.Trim(w, ".,!")] {
			return false
		}
	}
	return true
}

// NormalizeVerb lowercases a verb and folds separators so "Sign-Out" and
// "sign_out" compare equal to "sign out".
func NormalizeVerb(verb string) string {
	v := strings.ToLower(strings.TrimSpace(verb))
	v = strings.NewReplacer("_", " ", "-", " ").Replace(v)
	return strings.Join(strings.Fields(v), " ")
}

// Roadmap is the ordered step list for one user goal.
type Roadmap struct {
	Goal  string `json:"goal,omitempty"`
	Steps []Step `json:"steps"`
}

package grounding

import (
	"fmt"
	"strings"

	"groundwork-mcp-server/internal/page"
)

const (
	maxSuggestedPaths    = 4
	maxHeadingSuggestion = 3
	maxNavLabelLength    = 30
	maxHeadingLength     = 40
)

var navigationKeywords = []string{
	"home", "services", "products", "account", "profile", "settings",
	"help", "support", "contact", "about", "dashboard", "menu",
	"register", "sign", "login", "create", "new", "apply",
}

// Guidance is the fallback offered when nothing on the page matches well enough.
type Guidance struct {
	LookingFor        string   `json:"lookingFor"`
	SuggestedPaths    []string `json:"suggestedPaths,omitempty"`
	PointAtNavigation bool     `json:"pointAtNavigation"`
	Message           string   `json:"message"`
}

// Suggest builds guided-discovery hints from the page's navigation and headings.
func Suggest(content page.Content, hint string) Guidance {
	g := Guidance{LookingFor: hint, PointAtNavigation: content.HasNavigation}

	var preferred, others []string
	seen := map[string]bool{}
	for _, raw := range content.NavigationLinks {
		text := strings.TrimSpace(raw)
		key := strings.ToLower(text)
		if len(text) <= 1 || len(text) >= maxNavLabelLength || seen[key] {
			continue
		}
		seen[key] = true
		if containsAny(key, navigationKeywords) {
			preferred = append(preferred, text)
		} else {
			others = append(others, text)
		}
	}
	g.SuggestedPaths = append(preferred, others...)
	if len(g.SuggestedPaths) > maxSuggestedPaths {
		g.SuggestedPaths = g.SuggestedPaths[:maxSuggestedPaths]
	}

	if len(g.SuggestedPaths) == 0 {
		for _, h := range content.Headings {
			h = strings.TrimSpace(h)
			if h == "" || len(h) >= maxHeadingLength {
				continue
			}
			g.SuggestedPaths = append(g.SuggestedPaths, fmt.Sprintf("%q section", h))
			if len(g.SuggestedPaths) == maxHeadingSuggestion {
				break
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I could not find %q on this page.", hint)
	if len(g.SuggestedPaths) > 0 {
		fmt.Fprintf(&b, " Navigation options on this page: %s.", strings.Join(g.SuggestedPaths, ", "))
	}
	if g.PointAtNavigation {
		b.WriteString(" The page has a main navigation area.")
	}
	g.Message = b.String()
	return g
}

// VerifyPrompt is the message shown for a medium-confidence match.
func VerifyPrompt(hint string) string {
	return fmt.Sprintf("I found something that looks right. Please verify this is: %s", hint)
}

// AmbiguityPrompt is the message shown when several candidates compete.
func AmbiguityPrompt(hint string, n int) string {
	return fmt.Sprintf("I see %d similar options for %q. Choose the one you mean.", n, hint)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

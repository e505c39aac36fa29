package autonomy

import (
	"strings"

	"groundwork-mcp-server/internal/grounding"
	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/roadmap"
)

// Verification explains whether a dispatched action had a visible effect.
type Verification struct {
	Verified bool   `json:"verified"`
	Signal   string `json:"signal,omitempty"`
}

// Verify compares the page fingerprint before and after a dispatch.
func Verify(before, after page.State, step roadmap.Step) Verification {
	switch {
	case before.URL != after.URL:
		return Verification{Verified: true, Signal: "location changed"}
	case before.Title != after.Title:
		return Verification{Verified: true, Signal: "title changed"}
	case headingOverlaps(after.TopHeading, step.TargetHint):
		return Verification{Verified: true, Signal: "heading matches target"}
	case after.PanelCount > before.PanelCount:
		return Verification{Verified: true, Signal: "panel opened"}
	case step.ScrollsPage() && after.ScrollY != before.ScrollY:
		return Verification{Verified: true, Signal: "viewport scrolled"}
	}
	return Verification{}
}

func headingOverlaps(heading, target string) bool {
	heading = strings.ToLower(heading)
	if heading == "" {
		return false
	}
	for _, term := range grounding.ParseQuery(target).Terms {
		if strings.Contains(heading, term) {
			return true
		}
	}
	return false
}

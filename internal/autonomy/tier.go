// Package autonomy runs a roadmap against a live page under the tiered
// autonomy policy: silent single navigation, preview and consent, or refusal.
package autonomy

import (
	"groundwork-mcp-server/internal/safety"
)

// Tier is the autonomy level assigned to a prepared action set.
type Tier int

const (
	TierNone Tier = iota
	// TierSilent executes a single safe navigation immediately.
	TierSilent
	// TierPreview shows a preview and waits for consent.
	TierPreview
	// TierBlocked refuses autonomous execution.
	TierBlocked
)

func (t Tier) String() string {
	switch t {
	case TierSilent:
		return "tier1_silent"
	case TierPreview:
		return "tier2_preview"
	case TierBlocked:
		return "tier3_blocked"
	}
	return "none"
}

// DefaultThreshold is the confidence an action needs to run without a prompt.
const DefaultThreshold = 0.7

var simpleNavVerbs = map[string]bool{
	"navigate": true,
	"goto":     true,
	"go to":    true,
	"go":       true,
	"open":     true,
	"visit":    true,
	"click":    true,
	"scroll":   true,
}

// IsSimpleNavigation reports whether verb may run silently.
func IsSimpleNavigation(verb string) bool {
	return simpleNavVerbs[verb]
}

// ClassifyTaskTier assigns a tier to the whole action set. It is a pure
// function of its inputs.
func ClassifyTaskTier(actions []safety.PreparedAction, threshold float64) Tier {
	if len(actions) == 0 {
		return TierNone
	}
	for _, a := range actions {
		if a.Blocked {
			return TierBlocked
		}
	}
	if len(actions) == 1 {
		a := actions[0]
		if IsSimpleNavigation(a.Step.Verb()) && a.Confidence >= threshold && a.Safe {
			return TierSilent
		}
	}
	return TierPreview
}

// Package safety labels prepared actions safe or blocked using only the
// step's declared verb and target text. It never inspects the page.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"groundwork-mcp-server/internal/roadmap"
)

// Verb classes and their baseline confidences.
const (
	NavigationConfidence = 0.9
	EntryConfidence      = 0.75
	DefaultConfidence    = 0.8
)

// BlockedVerbs are never executed autonomously.
var BlockedVerbs = []string{"submit", "delete", "remove", "cancel", "revoke", "logout", "log out", "sign out", "signout"}

// SensitiveKeywords mark targets the engine must not touch.
var SensitiveKeywords = []string{"password", "otp", "captcha", "cvv", "card number", "ssn", "pin"}

var (
	navigationVerbs = map[string]bool{
		"navigate": true, "goto": true, "go to": true, "go": true, "open": true, "visit": true,
		"click": true, "tap": true, "press": true, "scroll": true, "select": true, "choose": true,
		"hover": true, "focus": true, "check": true,
	}
	entryVerbs = map[string]bool{
		"type": true, "fill": true, "enter": true, "input": true, "write": true,
	}
	sensitivePattern = buildSensitivePattern(SensitiveKeywords)
)

func buildSensitivePattern(words []string) *regexp.Regexp {
	alts := make([]string, 0, len(words))
	for _, w := range words {
		alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`))
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(alts, "|") + `)\b`)
}

// Verdict is the classifier output for one action.
type Verdict struct {
	Safe       bool    `json:"safe"`
	Blocked    bool    `json:"blocked"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Check classifies a verb and target description. First matching rule wins.
func Check(verb, target string) Verdict {
	v := roadmap.NormalizeVerb(verb)
	for _, blocked := range BlockedVerbs {
		if v == blocked {
			return Verdict{Blocked: true, Reason: fmt.Sprintf("The %q action is never performed automatically. Please do it yourself.", v)}
		}
	}

	if m := sensitivePattern.FindString(target); m != "" {
		field := strings.ToLower(strings.Join(strings.Fields(m), " "))
		return Verdict{Blocked: true, Reason: fmt.Sprintf("The target looks like a sensitive %s field. Please fill it in yourself.", field)}
	}

	switch {
	case navigationVerbs[v]:
		return Verdict{Safe: true, Confidence: NavigationConfidence}
	case entryVerbs[v]:
		return Verdict{Safe: true, Confidence: EntryConfidence}
	default:
		return Verdict{Safe: true, Confidence: DefaultConfidence}
	}
}

// PreparedAction is a step paired with its safety verdict.
type PreparedAction struct {
	Step        roadmap.Step `json:"step"`
	Safe        bool         `json:"safe"`
	Blocked     bool         `json:"blocked"`
	BlockReason string       `json:"blockReason,omitempty"`
	Confidence  float64      `json:"confidence"`
}

// Prepare classifies every step in order.
func Prepare(steps []roadmap.Step) []PreparedAction {
	out := make([]PreparedAction, 0, len(steps))
	for _, s := range steps {
		v := Check(s.Action, s.TargetHint)
		out = append(out, PreparedAction{
			Step:        s,
			Safe:        v.Safe,
			Blocked:     v.Blocked,
			BlockReason: v.Reason,
			Confidence:  v.Confidence,
		})
	}
	return out
}

// IsEntryVerb reports whether verb writes text into a field.
func IsEntryVerb(verb string) bool {
	return entryVerbs[roadmap.NormalizeVerb(verb)]
}

package guard

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NonCommittal replaces speculative assistant text in autonomous mode.
const NonCommittal = "I can only describe what I have confirmed on this page. Let me check the page directly before pointing you anywhere."

// SpeculativePhrases mark assertions not grounded in a verified finding.
var SpeculativePhrases = []string{
	"look for",
	"might be",
	"may be",
	"usually",
	"typically",
	"probably",
	"try checking",
	"try looking",
	"should be somewhere",
	"could be",
	"i think",
	"perhaps",
	"it seems",
}

// HallucinationFilter rewrites speculative utterances.
type HallucinationFilter struct {
	policy  *bluemonday.Policy
	phrases []string
}

// NewHallucinationFilter builds a filter with the default phrase list.
func NewHallucinationFilter() *HallucinationFilter {
	return &HallucinationFilter{policy: bluemonday.StrictPolicy(), phrases: SpeculativePhrases}
}

// Plain strips markup and collapses whitespace.
func (f *HallucinationFilter) Plain(text string) string {
	stripped := html.UnescapeString(f.policy.Sanitize(text))
	return strings.Join(strings.Fields(stripped), " ")
}

// Filter returns the text to show and whether it was replaced.
func (f *HallucinationFilter) Filter(text string) (string, bool) {
	plain := strings.ToLower(f.Plain(text))
	for _, p := range f.phrases {
		if strings.Contains(plain, p) {
			return NonCommittal, true
		}
	}
	return text, false
}

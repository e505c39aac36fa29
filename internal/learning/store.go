// Package learning persists user disambiguation choices as per-origin element
// signatures so later resolutions on the same site can prefer them.
package learning

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"groundwork-mcp-server/internal/page"
)

// MaxSignatureText bounds the text kept in a signature.
const MaxSignatureText = 50

// MaxLinkSuffix bounds the link suffix kept in a signature.
const MaxLinkSuffix = 40

// Signature is enough to re-identify a semantically equivalent element on a
// later visit to the same origin.
type Signature struct {
	Tag        string    `json:"tag"`
	Identifier string    `json:"identifier,omitempty"`
	Markers    string    `json:"markers,omitempty"`
	Text       string    `json:"text,omitempty"`
	LinkSuffix string    `json:"linkSuffix,omitempty"`
	LearnedAt  time.Time `json:"learnedAt"`
}

// Mapping is one stored (origin, phrase) record.
type Mapping struct {
	Origin    string    `json:"origin"`
	Phrase    string    `json:"phrase"`
	Signature Signature `json:"signature"`
}

// Store remembers phrase to element signatures per origin. Writes are
// last-write-wins.
type Store interface {
	Learn(ctx context.Context, origin, phrase string, sig Signature) error
	Recall(ctx context.Context, origin, phrase string) (Signature, bool, error)
}

// SignatureOf derives a signature from an indexed element.
func SignatureOf(el page.InteractiveElement) Signature {
	markers := el.Role
	if el.Classes != "" {
		if markers != "" {
			markers += " "
		}
		markers += el.Classes
	}
	return Signature{
		Tag:        strings.ToLower(el.Tag),
		Identifier: el.Identifier,
		Markers:    markers,
		Text:       truncate(strings.TrimSpace(el.DisplayText()), MaxSignatureText),
		LinkSuffix: tail(el.Href, MaxLinkSuffix),
		LearnedAt:  time.Now().UTC(),
	}
}

// Matches reports whether el has the signature's tag and contains its text.
func (s Signature) Matches(el page.InteractiveElement) bool {
	if s.Tag == "" || !strings.EqualFold(s.Tag, el.Tag) {
		return false
	}
	if s.Identifier != "" && s.Identifier == el.Identifier {
		return true
	}
	if s.Text == "" {
		return false
	}
	return strings.Contains(strings.ToLower(el.DisplayText()), strings.ToLower(s.Text))
}

// NormalizePhrase trims and lowercases an intent phrase.
func NormalizePhrase(phrase string) string {
	return strings.ToLower(strings.TrimSpace(phrase))
}

// Origin reduces a URL to scheme://host[:port]. Non-URLs are returned lowercased.
func Origin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// bestKey picks the stored key for phrase: exact first, then containment in
// either direction, preferring the longest key.
func bestKey(keys []string, phrase string) (string, bool) {
	for _, k := range keys {
		if k == phrase {
			return k, true
		}
	}
	var matches []string
	for _, k := range keys {
		if k == "" {
			continue
		}
		if strings.Contains(phrase, k) || strings.Contains(k, phrase) {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i]) != len(matches[j]) {
			return len(matches[i]) > len(matches[j])
		}
		return matches[i] < matches[j]
	})
	return matches[0], true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

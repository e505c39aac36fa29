package grounding

import (
	"strings"
	"unicode"

	"groundwork-mcp-server/internal/learning"
	"groundwork-mcp-server/internal/page"
)

// Weights tunes the default scorer.
type Weights struct {
	Text       float64
	Label      float64
	Title      float64
	Href       float64
	Identifier float64
	Classes    float64
	Phrase     float64
	Actionable float64
	Learned    float64
}

// DefaultWeights favour visible text and labels over structural markers.
var DefaultWeights = Weights{
	Text:       10,
	Label:      10,
	Title:      6,
	Href:       4,
	Identifier: 3,
	Classes:    2,
	Phrase:     50,
	Actionable: 5,
	Learned:    100,
}

// Query is a tokenized target description.
type Query struct {
	Phrase  string
	Terms   []string
	Learned *learning.Signature
}

// Score is one element's match strength.
type Score struct {
	Value    float64
	Evidence []string
	Learned  bool
}

// Scorer assigns a match score to an element for a query. Zero means no match.
type Scorer interface {
	Score(el page.InteractiveElement, q Query) Score
}

// WeightedScorer sums weighted term hits across element fields.
type WeightedScorer struct {
	Weights Weights
}

func (s WeightedScorer) Score(el page.InteractiveElement, q Query) Score {
	w := s.Weights
	fields := []struct {
		name   string
		value  string
		weight float64
	}{
		{"text", el.Text, w.Text},
		{"label", el.Label, w.Label},
		{"title", el.Title, w.Title},
		{"href", el.Href, w.Href},
		{"identifier", el.Identifier, w.Identifier},
		{"class", el.Classes, w.Classes},
	}

	var sc Score
	hitFields := map[string]bool{}
	for _, term := range q.Terms {
		for _, f := range fields {
			if f.value != "" && strings.Contains(strings.ToLower(f.value), term) {
				sc.Value += f.weight
				hitFields[f.name] = true
			}
		}
	}
	for _, f := range fields {
		if hitFields[f.name] {
			sc.Evidence = append(sc.Evidence, f.name)
		}
	}

	if q.Phrase != "" {
		if strings.Contains(strings.ToLower(el.Text), q.Phrase) || strings.Contains(strings.ToLower(el.Label), q.Phrase) {
			sc.Value += w.Phrase
			sc.Evidence = append(sc.Evidence, "exact phrase")
		}
	}

	if q.Learned != nil && q.Learned.Matches(el) {
		sc.Value += w.Learned
		sc.Learned = true
		sc.Evidence = append(sc.Evidence, "learned mapping")
	}

	if sc.Value > 0 && el.Actionable() {
		sc.Value += w.Actionable
	}
	return sc
}

var fillerWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"please": true, "click": true, "tap": true, "press": true, "here": true,
	"there": true, "into": true, "onto": true, "from": true, "your": true,
	"button": true, "link": true, "field": true, "option": true, "element": true,
	"page": true,
}

// ParseQuery lowercases hint and keeps meaningful terms longer than two characters.
func ParseQuery(hint string) Query {
	phrase := strings.Join(strings.Fields(strings.ToLower(hint)), " ")
	words := strings.FieldsFunc(phrase, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	q := Query{Phrase: phrase}
	seen := map[string]bool{}
	for _, w := range words {
		if len([]rune(w)) <= 2 || fillerWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		q.Terms = append(q.Terms, w)
	}
	return q
}

// Empty reports whether the query has nothing worth searching for.
func (q Query) Empty() bool {
	return len(q.Terms) == 0
}

package page

import (
	"context"
	"sync"
)

// Snapshot is an in-memory Index over a fixed element list. The live browser
// index produces one per enumeration.
type Snapshot struct {
	mu       sync.RWMutex
	elements []InteractiveElement
}

// NewSnapshot builds a snapshot from elements in document order.
func NewSnapshot(elements ...InteractiveElement) *Snapshot {
	s := &Snapshot{}
	s.Replace(elements)
	return s
}

// Replace swaps the element set.
func (s *Snapshot) Replace(elements []InteractiveElement) {
	cp := make([]InteractiveElement, len(elements))
	copy(cp, elements)
	s.mu.Lock()
	s.elements = cp
	s.mu.Unlock()
}

// All returns every element, rendered or not.
func (s *Snapshot) All() []InteractiveElement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]InteractiveElement, len(s.elements))
	copy(cp, s.elements)
	return cp
}

func (s *Snapshot) Elements(ctx context.Context) ([]InteractiveElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InteractiveElement, 0, len(s.elements))
	for _, el := range s.elements {
		if el.Rendered() {
			out = append(out, el)
		}
	}
	return out, nil
}

func (s *Snapshot) Lookup(ctx context.Context, id string) (InteractiveElement, bool, error) {
	if err := ctx.Err(); err != nil {
		return InteractiveElement{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, el := range s.elements {
		if el.ID == id {
			return el, true, nil
		}
	}
	return InteractiveElement{}, false, nil
}

// Summary is the compact per-element record sent to the planning service.
type Summary struct {
	ID        string `json:"id"`
	Tag       string `json:"tag"`
	InputType string `json:"inputType,omitempty"`
	Text      string `json:"text"`
}

// Summarize converts elements into planner summaries.
func Summarize(elements []InteractiveElement) []Summary {
	out := make([]Summary, 0, len(elements))
	for _, el := range elements {
		out = append(out, Summary{
			ID:        el.ID,
			Tag:       el.Tag,
			InputType: el.InputType,
			Text:      el.DisplayText(),
		})
	}
	return out
}

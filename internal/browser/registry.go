package browser

import (
	"sync"

	"groundwork-mcp-server/internal/page"
)

// ElementRegistry tracks the elements last enumerated on a session's page,
// keyed by their data-agent-id. Navigation invalidates every entry.
type ElementRegistry struct {
	mu         sync.RWMutex
	elements   map[string]page.InteractiveElement
	order      []string
	generation int64
}

// NewElementRegistry creates an empty registry.
func NewElementRegistry() *ElementRegistry {
	return &ElementRegistry{elements: make(map[string]page.InteractiveElement)}
}

// Register adds or updates one element.
func (r *ElementRegistry) Register(el page.InteractiveElement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.elements[el.ID]; !exists {
		r.order = append(r.order, el.ID)
	}
	r.elements[el.ID] = el
}

// RegisterBatch replaces the registry contents with elements, keeping their order.
func (r *ElementRegistry) RegisterBatch(elements []page.InteractiveElement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elements = make(map[string]page.InteractiveElement, len(elements))
	r.order = r.order[:0]
	for _, el := range elements {
		if el.ID == "" {
			continue
		}
		if _, exists := r.elements[el.ID]; !exists {
			r.order = append(r.order, el.ID)
		}
		r.elements[el.ID] = el
	}
}

// Get returns the element registered under id.
func (r *ElementRegistry) Get(id string) (page.InteractiveElement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	el, ok := r.elements[id]
	return el, ok
}

// All returns the registered elements in enumeration order.
func (r *ElementRegistry) All() []page.InteractiveElement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]page.InteractiveElement, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.elements[id])
	}
	return out
}

// Clear drops every entry and bumps the generation.
func (r *ElementRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elements = make(map[string]page.InteractiveElement)
	r.order = nil
	r.generation++
}

// GenerationID returns the number of times the registry was cleared.
func (r *ElementRegistry) GenerationID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Count returns the number of registered elements.
func (r *ElementRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.elements)
}

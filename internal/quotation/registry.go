package quotation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateID is returned when registering a quotation whose
	// normalized id already exists.
	ErrDuplicateID = errors.New("quotation: duplicate quotation id")

	// ErrNotFound is returned when looking up an unknown quotation id.
	ErrNotFound = errors.New("quotation: quotation not found")
)

// RemoveHook runs when a quotation is removed from the registry, before its
// series is cleared. The position engine uses it to force-close every live
// order referencing the quotation at its last known price.
type RemoveHook func(q *Quotation)

// Registry owns all quotations and enforces unique normalized ids.
type Registry struct {
	mu       sync.RWMutex
	mapped   map[string]*Quotation
	onRemove RemoveHook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mapped: make(map[string]*Quotation)}
}

// SetRemoveHook installs the cascade hook invoked on removal and on reload
// for quotations that do not survive the swap.
func (r *Registry) SetRemoveHook(hook RemoveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = hook
}

// Register adds a quotation, failing if its id is already taken.
func (r *Registry) Register(q *Quotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mapped[q.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, q.ID())
	}
	r.mapped[q.ID()] = q
	return nil
}

// Get returns the quotation with the given id, normalized before lookup.
func (r *Registry) Get(id string) (*Quotation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.mapped[NormalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, NormalizeID(id))
	}
	return q, nil
}

// Has reports whether a quotation with the given id exists.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mapped[NormalizeID(id)]
	return ok
}

// Len returns the number of registered quotations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mapped)
}

// Remove deletes a quotation, cascading a force-close of all live orders
// referencing it (via the remove hook) and discarding its series.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	q, ok := r.mapped[NormalizeID(id)]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, NormalizeID(id))
	}
	delete(r.mapped, q.ID())
	hook := r.onRemove
	r.mu.Unlock()

	// Cascade outside the registry lock: the hook settles orders and must
	// not be able to deadlock against registry readers.
	if hook != nil {
		hook(q)
	}
	q.ClearHistory()
	return nil
}

// List returns all quotations ordered by id.
func (r *Registry) List() []*Quotation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Quotation, 0, len(r.mapped))
	for _, q := range r.mapped {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ReplaceAll atomically swaps the registry contents for a freshly loaded set.
// Quotations absent from the new set are cascaded through the remove hook so
// their live orders settle at the last known price.
func (r *Registry) ReplaceAll(quotations []*Quotation) {
	next := make(map[string]*Quotation, len(quotations))
	for _, q := range quotations {
		next[q.ID()] = q
	}

	r.mu.Lock()
	prev := r.mapped
	r.mapped = next
	hook := r.onRemove
	r.mu.Unlock()

	if hook == nil {
		return
	}
	for id, q := range prev {
		if _, survives := next[id]; !survives {
			hook(q)
			q.ClearHistory()
		}
	}
}

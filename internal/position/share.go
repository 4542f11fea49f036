package position

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Share is the tradable unit wrapping an order. The order is exclusively
// owned; the quotation is referenced by id only, so a removed quotation
// leaves the share's settled order behind without a dangling pointer.
// Ownership may change hands: a share circulates as a physical token.
type Share struct {
	id string

	mu    sync.RWMutex
	owner string
	order *Order
}

// NewShare wraps an order for the given holder.
func NewShare(owner string, order *Order) *Share {
	return &Share{
		id:    uuid.New().String(),
		owner: owner,
		order: order,
	}
}

func (s *Share) ID() string { return s.id }

// Owner returns the current holder identity.
func (s *Share) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// Transfer hands the share to a new holder.
func (s *Share) Transfer(newOwner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = newOwner
}

// Order returns the wrapped order.
func (s *Share) Order() *Order { return s.order }

// ShareView is the wire representation of a share token.
type ShareView struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Order View   `json:"order"`
}

// View snapshots the share for serialization.
func (s *Share) View() ShareView {
	s.mu.RLock()
	owner := s.owner
	s.mu.RUnlock()
	return ShareView{
		ID:    s.id,
		Owner: owner,
		Order: s.order.View(),
	}
}

// MarshalJSON serializes the share token.
func (s *Share) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.View())
}

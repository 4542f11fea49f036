package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quotix/stock-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	quotations  map[string]model.QuotationSnapshot
	settlements []model.Settlement
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotations: make(map[string]model.QuotationSnapshot),
	}
}

func (s *MemoryStore) SaveQuotation(_ context.Context, snap model.QuotationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a deep copy so callers cannot mutate the persisted series.
	copied := snap
	copied.Series = append([]model.PriceSample(nil), snap.Series...)
	s.quotations[snap.ID] = copied
	return nil
}

func (s *MemoryStore) LoadQuotations(_ context.Context) ([]model.QuotationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.QuotationSnapshot, 0, len(s.quotations))
	for _, snap := range s.quotations {
		copied := snap
		copied.Series = append([]model.PriceSample(nil), snap.Series...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteQuotation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quotations[id]; !ok {
		return fmt.Errorf("quotation snapshot %s not found", id)
	}
	delete(s.quotations, id)
	return nil
}

func (s *MemoryStore) InsertSettlement(_ context.Context, settlement model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settlements = append(s.settlements, settlement)
	return nil
}

func (s *MemoryStore) SettlementsByOwner(_ context.Context, owner string) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Settlement
	for _, st := range s.settlements {
		if st.Owner == owner {
			result = append(result, st)
		}
	}
	return result, nil
}

func (s *MemoryStore) SettlementsByQuotation(_ context.Context, quotationID string) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Settlement
	for _, st := range s.settlements {
		if st.QuotationID == quotationID {
			result = append(result, st)
		}
	}
	return result, nil
}

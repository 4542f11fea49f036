package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotix/stock-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the ledger queries served on the request path. Writes go to the
// primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveQuotation(ctx context.Context, snap model.QuotationSnapshot) error {
	return s.primary.SaveQuotation(ctx, snap)
}

func (s *CachedStore) DeleteQuotation(ctx context.Context, id string) error {
	if err := s.primary.DeleteQuotation(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, quotationLedgerKey(id))
	return nil
}

func (s *CachedStore) InsertSettlement(ctx context.Context, st model.Settlement) error {
	if err := s.primary.InsertSettlement(ctx, st); err != nil {
		return err
	}
	// Invalidate both ledger views touched by this settlement.
	s.rdb.Del(ctx, ownerLedgerKey(st.Owner), quotationLedgerKey(st.QuotationID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) SettlementsByOwner(ctx context.Context, owner string) ([]model.Settlement, error) {
	return s.cachedSettlements(ctx, ownerLedgerKey(owner), func() ([]model.Settlement, error) {
		return s.primary.SettlementsByOwner(ctx, owner)
	})
}

func (s *CachedStore) SettlementsByQuotation(ctx context.Context, quotationID string) ([]model.Settlement, error) {
	return s.cachedSettlements(ctx, quotationLedgerKey(quotationID), func() ([]model.Settlement, error) {
		return s.primary.SettlementsByQuotation(ctx, quotationID)
	})
}

func (s *CachedStore) cachedSettlements(ctx context.Context, key string, load func() ([]model.Settlement, error)) ([]model.Settlement, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var settlements []model.Settlement
		if json.Unmarshal(data, &settlements) == nil {
			return settlements, nil
		}
	}

	settlements, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(settlements); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return settlements, nil
}

// --- Passthrough (not cached) ---

// LoadQuotations hits the primary directly: reloads are rare and must see
// the authoritative series.
func (s *CachedStore) LoadQuotations(ctx context.Context) ([]model.QuotationSnapshot, error) {
	return s.primary.LoadQuotations(ctx)
}

// --- Cache keys ---

func ownerLedgerKey(owner string) string        { return fmt.Sprintf("ledger:owner:%s", owner) }
func quotationLedgerKey(id string) string       { return fmt.Sprintf("ledger:quotation:%s", id) }

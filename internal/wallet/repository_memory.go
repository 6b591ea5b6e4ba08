package wallet

import (
	"context"
	"sort"
	"sync"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// MemoryRepository keeps payout requests in memory. Vendor locking is left
// to txn.Local, which already serializes every transaction.
type MemoryRepository struct {
	mu      sync.RWMutex
	payouts map[string]PayoutRequest
}

// NewMemoryRepository cria um repositório em memória
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{payouts: make(map[string]PayoutRequest)}
}

func (r *MemoryRepository) LockVendor(_ context.Context, _ txn.Tx, _ string) error {
	return nil
}

func (r *MemoryRepository) Create(_ context.Context, _ txn.Tx, p *PayoutRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payouts[p.ID] = *p
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*PayoutRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payouts[id]
	if !ok {
		return nil, apperr.NotFound("payout request", id)
	}
	return &p, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, _ txn.Tx, id string) (*PayoutRequest, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) Update(_ context.Context, _ txn.Tx, p *PayoutRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payouts[p.ID]; !ok {
		return apperr.NotFound("payout request", p.ID)
	}
	r.payouts[p.ID] = *p
	return nil
}

func (r *MemoryRepository) ListByVendor(_ context.Context, vendorID string, page, limit int) ([]PayoutRequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []PayoutRequest
	for _, p := range r.payouts {
		if p.VendorID == vendorID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].RequestedAt.Equal(all[j].RequestedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].RequestedAt.After(all[j].RequestedAt)
	})

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// MemoryRepository keeps orders in process memory. Orders are deep-copied on
// the way in and out so callers never share item slices.
type MemoryRepository struct {
	mu       sync.RWMutex
	orders   map[string]Order
	byNumber map[string]string
}

// NewMemoryRepository cria um repositório em memória
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:   make(map[string]Order),
		byNumber: make(map[string]string),
	}
}

// Put stores an order as the checkout flow would.
func (r *MemoryRepository) Put(order *Order) error {
	c, err := clone(order)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[c.ID] = *c
	r.byNumber[c.OrderNumber] = c.ID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, ref string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := ref
	if mapped, ok := r.byNumber[ref]; ok {
		id = mapped
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", ref)
	}
	return clone(&o)
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, _ txn.Tx, ref string) (*Order, error) {
	return r.Get(ctx, ref)
}

func (r *MemoryRepository) Save(_ context.Context, _ txn.Tx, order *Order) error {
	c, err := clone(order)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[c.ID]; !ok {
		return apperr.NotFound("order", c.ID)
	}
	r.orders[c.ID] = *c
	return nil
}

func clone(o *Order) (*Order, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to copy order: %w", err)
	}
	var c Order
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to copy order: %w", err)
	}
	return &c, nil
}

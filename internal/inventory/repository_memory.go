package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

type stockKey struct {
	productID string
	sku       string
}

// MemoryRepository keeps stock, reservations and subscriptions in memory.
// Compound operations are serialized by txn.Local.
type MemoryRepository struct {
	mu            sync.RWMutex
	stock         map[stockKey]StockLevel
	reservations  map[string]Reservation
	subscriptions []AlertSubscription
}

// NewMemoryRepository cria um repositório em memória
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		stock:        make(map[stockKey]StockLevel),
		reservations: make(map[string]Reservation),
	}
}

// PutStock seeds a product or variant counter.
func (r *MemoryRepository) PutStock(level StockLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[stockKey{level.ProductID, level.SKU}] = level
}

// Stock returns the current counter, or -1 if unknown.
func (r *MemoryRepository) Stock(productID, sku string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	level, ok := r.stock[stockKey{productID, sku}]
	if !ok {
		return -1
	}
	return level.Stock
}

func (r *MemoryRepository) GetStockForUpdate(_ context.Context, _ txn.Tx, productID, sku string) (*StockLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	level, ok := r.stock[stockKey{productID, sku}]
	if !ok {
		return nil, apperr.NotFound("product", productID)
	}
	return &level, nil
}

func (r *MemoryRepository) SetStock(_ context.Context, _ txn.Tx, productID, sku string, stock int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := stockKey{productID, sku}
	level, ok := r.stock[key]
	if !ok {
		return apperr.NotFound("product", productID)
	}
	level.Stock = stock
	r.stock[key] = level
	return nil
}

func (r *MemoryRepository) CreateReservation(_ context.Context, _ txn.Tx, res *Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations[res.ID] = *res
	return nil
}

func (r *MemoryRepository) GetReservation(_ context.Context, _ txn.Tx, id string) (*Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, apperr.NotFound("reservation", id)
	}
	return &res, nil
}

func (r *MemoryRepository) GetReservationForUpdate(ctx context.Context, tx txn.Tx, id string) (*Reservation, error) {
	return r.GetReservation(ctx, tx, id)
}

func (r *MemoryRepository) UpdateReservationStatus(_ context.Context, _ txn.Tx, res *Reservation, from ReservationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.reservations[res.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	stored.Status = res.Status
	stored.UpdatedAt = res.UpdatedAt
	r.reservations[res.ID] = stored
	return true, nil
}

func (r *MemoryRepository) ExpiredReservationIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []Reservation
	for _, res := range r.reservations {
		if res.Status == ReservationActive && res.Expired(now) {
			due = append(due, res)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })

	ids := make([]string, 0, len(due))
	for _, res := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, res.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) ActiveSubscriptions(_ context.Context, _ txn.Tx, vendorID, productID, sku string) ([]AlertSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []AlertSubscription
	for _, s := range r.subscriptions {
		if s.Active && s.VendorID == vendorID && s.ProductID == productID && s.SKU == sku {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

func (r *MemoryRepository) CreateSubscription(_ context.Context, sub *AlertSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions = append(r.subscriptions, *sub)
	return nil
}

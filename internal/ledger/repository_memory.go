package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// MemoryRepository keeps entries in process memory. Compound operations are
// serialized by txn.Local; the mutex only guards the maps.
type MemoryRepository struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	byReference map[string]string
	order       []string
}

// NewMemoryRepository cria um repositório em memória
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries:     make(map[string]Entry),
		byReference: make(map[string]string),
	}
}

func (r *MemoryRepository) ReferenceExists(_ context.Context, _ txn.Tx, reference string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byReference[reference]
	return ok, nil
}

func (r *MemoryRepository) Insert(_ context.Context, _ txn.Tx, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byReference[entry.Reference]; ok {
		return fmt.Errorf("%w: %s", apperr.ErrDuplicateLedgerEntry, entry.Reference)
	}
	r.entries[entry.ID] = *entry
	r.byReference[entry.Reference] = entry.ID
	r.order = append(r.order, entry.ID)
	return nil
}

func (r *MemoryRepository) GetForUpdate(_ context.Context, _ txn.Tx, id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, apperr.NotFound("ledger entry", id)
	}
	return &e, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, _ txn.Tx, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.entries[entry.ID]
	if !ok {
		return apperr.NotFound("ledger entry", entry.ID)
	}
	stored.Status = entry.Status
	stored.UpdatedAt = entry.UpdatedAt
	r.entries[entry.ID] = stored
	return nil
}

func (r *MemoryRepository) Buckets(_ context.Context, _ txn.Tx, vendorID string) ([]Bucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct {
		t EntryType
		d Direction
		s Status
	}
	sums := make(map[key]decimal.Decimal)
	for _, e := range r.entries {
		if e.VendorID != vendorID {
			continue
		}
		k := key{e.Type, e.Direction, e.Status}
		sums[k] = sums[k].Add(e.Amount)
	}

	buckets := make([]Bucket, 0, len(sums))
	for k, amount := range sums {
		buckets = append(buckets, Bucket{Type: k.t, Direction: k.d, Status: k.s, Amount: amount})
	}
	return buckets, nil
}

func (r *MemoryRepository) List(_ context.Context, filter Filter) (*Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Entry
	for _, id := range r.order {
		e := r.entries[id]
		if e.VendorID != filter.VendorID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	// newest first; insertion order breaks ties
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := &Page{Total: len(matched), Page: filter.Page, Limit: filter.Limit, Entries: []Entry{}}
	start := filter.Offset()
	if start >= len(matched) {
		return page, nil
	}
	end := start + filter.Limit
	if filter.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	page.Entries = append(page.Entries, matched[start:end]...)
	return page, nil
}

// All returns every entry in insertion order.
func (r *MemoryRepository) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

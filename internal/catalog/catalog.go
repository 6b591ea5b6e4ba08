// Package catalog adapts the catalog collaborator: product category, owner
// and inventory tracking flag.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/cache"
)

// Product is what the core needs to know about a catalog product.
type Product struct {
	ID             string `json:"id"`
	VendorID       string `json:"vendorId"`
	Category       string `json:"category"`
	TrackInventory bool   `json:"trackInventory"`
	Stock          int    `json:"stock"`
}

// Lookup resolves products by id. Unknown products yield apperr.ErrNotFound.
type Lookup interface {
	Product(ctx context.Context, productID string) (*Product, error)
}

// PostgresLookup reads the products table.
type PostgresLookup struct {
	db *pgxpool.Pool
}

func NewPostgresLookup(db *pgxpool.Pool) *PostgresLookup {
	return &PostgresLookup{db: db}
}

func (l *PostgresLookup) Product(ctx context.Context, productID string) (*Product, error) {
	var p Product
	err := l.db.QueryRow(ctx, `
		SELECT id, vendor_id, category, track_inventory, stock
		FROM products WHERE id = $1
	`, productID).Scan(&p.ID, &p.VendorID, &p.Category, &p.TrackInventory, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("product", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up product: %w", err)
	}
	return &p, nil
}

// HTTPLookup calls the catalog service.
type HTTPLookup struct {
	client *resty.Client
}

// NewHTTPLookup cria um cliente para o serviço de catálogo
func NewHTTPLookup(baseURL string, timeout time.Duration) *HTTPLookup {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetHeader("Accept", "application/json")
	return &HTTPLookup{client: client}
}

type productEnvelope struct {
	Success bool    `json:"success"`
	Data    Product `json:"data"`
	Message string  `json:"message"`
}

func (l *HTTPLookup) Product(ctx context.Context, productID string) (*Product, error) {
	var body productEnvelope
	resp, err := l.client.R().
		SetContext(ctx).
		SetPathParam("id", productID).
		SetResult(&body).
		Get("/api/products/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to call catalog service: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, apperr.NotFound("product", productID)
	case resp.IsError():
		return nil, fmt.Errorf("catalog service returned %d: %s", resp.StatusCode(), body.Message)
	}

	p := body.Data
	if p.ID == "" {
		p.ID = productID
	}
	return &p, nil
}

// CachedLookup memoizes another Lookup for a TTL. Not-found results are not
// cached.
type CachedLookup struct {
	next  Lookup
	cache *cache.TTL[string, Product]
}

func NewCachedLookup(next Lookup, ttl time.Duration, opts ...cache.Option) *CachedLookup {
	return &CachedLookup{
		next:  next,
		cache: cache.NewTTL[string, Product](ttl, opts...),
	}
}

func (l *CachedLookup) Product(ctx context.Context, productID string) (*Product, error) {
	p, err := l.cache.GetOrLoad(productID, func() (Product, error) {
		p, err := l.next.Product(ctx, productID)
		if err != nil {
			return Product{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Purge drops expired products from the cache.
func (l *CachedLookup) Purge() int {
	return l.cache.Purge()
}

// MemoryLookup is a fixed product table.
type MemoryLookup struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryLookup(products ...Product) *MemoryLookup {
	m := &MemoryLookup{products: make(map[string]Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

// Put adds or replaces a product.
func (m *MemoryLookup) Put(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *MemoryLookup) Product(_ context.Context, productID string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	if !ok {
		return nil, apperr.NotFound("product", productID)
	}
	return &p, nil
}

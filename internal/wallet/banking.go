package wallet

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
)

// BankingProvider resolves a vendor's payout destination. Vendors without
// details yield apperr.ErrNotFound.
type BankingProvider interface {
	BankingDetails(ctx context.Context, vendorID string) (*BankingDetails, error)
}

// PostgresBanking reads vendor_banking_details.
type PostgresBanking struct {
	db *pgxpool.Pool
}

func NewPostgresBanking(db *pgxpool.Pool) *PostgresBanking {
	return &PostgresBanking{db: db}
}

func (b *PostgresBanking) BankingDetails(ctx context.Context, vendorID string) (*BankingDetails, error) {
	details := BankingDetails{VendorID: vendorID}
	err := b.db.QueryRow(ctx, `
		SELECT account_holder, bank_name, account_number, branch_code
		FROM vendor_banking_details WHERE vendor_id = $1
	`, vendorID).Scan(&details.AccountHolder, &details.BankName, &details.AccountNumber, &details.BranchCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("banking details", vendorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get banking details: %w", err)
	}
	return &details, nil
}

// HTTPBanking calls the vendor profile service.
type HTTPBanking struct {
	client *resty.Client
}

// NewHTTPBanking cria um cliente para o serviço de vendedores
func NewHTTPBanking(baseURL string, timeout time.Duration) *HTTPBanking {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetHeader("Accept", "application/json")
	return &HTTPBanking{client: client}
}

type bankingEnvelope struct {
	Success bool           `json:"success"`
	Data    BankingDetails `json:"data"`
	Message string         `json:"message"`
}

func (b *HTTPBanking) BankingDetails(ctx context.Context, vendorID string) (*BankingDetails, error) {
	var body bankingEnvelope
	resp, err := b.client.R().
		SetContext(ctx).
		SetPathParam("vendorId", vendorID).
		SetResult(&body).
		Get("/api/vendors/{vendorId}/banking-details")
	if err != nil {
		return nil, fmt.Errorf("failed to call vendor service: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, apperr.NotFound("banking details", vendorID)
	case resp.IsError():
		return nil, fmt.Errorf("vendor service returned %d: %s", resp.StatusCode(), body.Message)
	}

	details := body.Data
	details.VendorID = vendorID
	return &details, nil
}

// MemoryBanking is a fixed table of banking details.
type MemoryBanking struct {
	mu      sync.RWMutex
	details map[string]BankingDetails
}

func NewMemoryBanking(details ...BankingDetails) *MemoryBanking {
	m := &MemoryBanking{details: make(map[string]BankingDetails)}
	for _, d := range details {
		m.details[d.VendorID] = d
	}
	return m
}

// Put adds or replaces a vendor's details.
func (m *MemoryBanking) Put(d BankingDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[d.VendorID] = d
}

func (m *MemoryBanking) BankingDetails(_ context.Context, vendorID string) (*BankingDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.details[vendorID]
	if !ok {
		return nil, apperr.NotFound("banking details", vendorID)
	}
	return &d, nil
}

package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/catalog"
	"github.com/matheusmosca/marketplace-ledger/internal/ledger"
	"github.com/matheusmosca/marketplace-ledger/internal/orders"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// MockLookup é um mock do catálogo
type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) Product(ctx context.Context, productID string) (*catalog.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

type postingFixture struct {
	orders   *orders.MemoryRepository
	ledger   *ledger.MemoryRepository
	settings *SettingsProvider
	svc      *PostingService
}

func newPostingFixture(t *testing.T, lookup catalog.Lookup, order *orders.Order) *postingFixture {
	t.Helper()

	orderRepo := orders.NewMemoryRepository()
	require.NoError(t, orderRepo.Put(order))

	logger := zap.NewNop()
	tracer := noop.NewTracerProvider().Tracer("test")
	ledgerRepo := ledger.NewMemoryRepository()
	ledgerService := ledger.NewService(ledgerRepo, logger, tracer).WithClock(func() time.Time { return testNow })
	settings := NewSettingsProvider(NewMemorySettingsRepository(), 10, time.Minute, logger)

	svc := NewPostingService(orderRepo, txn.NewLocal(), ledgerService, settings, NewResolver(10), lookup, logger, tracer).
		WithClock(func() time.Time { return testNow })

	return &postingFixture{orders: orderRepo, ledger: ledgerRepo, settings: settings, svc: svc}
}

func scenarioOrder() *orders.Order {
	return orders.NewOrder("order-1", "ORD-1001", []orders.Item{
		{ProductID: "p-a", VendorID: "A", Quantity: 2, UnitPrice: dec("100.00")},
		{ProductID: "p-b", VendorID: "B", Quantity: 1, UnitPrice: dec("50.00")},
	}, testNow)
}

func scenarioCatalog() *catalog.MemoryLookup {
	return catalog.NewMemoryLookup(
		catalog.Product{ID: "p-a", VendorID: "A", Category: "electronics"},
		catalog.Product{ID: "p-b", VendorID: "B", Category: "books"},
	)
}

func entriesByReference(entries []ledger.Entry) map[string]ledger.Entry {
	out := make(map[string]ledger.Entry, len(entries))
	for _, e := range entries {
		out[e.Reference] = e
	}
	return out
}

func TestConfirmPaymentEndToEnd(t *testing.T) {
	// Arrange
	f := newPostingFixture(t, scenarioCatalog(), scenarioOrder())

	// Act
	result, err := f.svc.ConfirmPayment(context.Background(), "ORD-1001")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 4, result.Posted)
	require.Len(t, result.Vendors, 2)
	assert.True(t, result.Vendors[0].Net.Equal(dec("180.00")))
	assert.True(t, result.Vendors[1].Net.Equal(dec("45.00")))

	entries := f.ledger.All()
	require.Len(t, entries, 4)
	byRef := entriesByReference(entries)

	saleA := byRef["ORDER:ORD-1001:VENDOR:A:SALE_CREDIT"]
	assert.Equal(t, ledger.Credit, saleA.Direction)
	assert.Equal(t, ledger.TypeSale, saleA.Type)
	assert.Equal(t, ledger.StatusCompleted, saleA.Status)
	assert.True(t, saleA.Amount.Equal(dec("180.00")))

	commissionA := byRef["ORDER:ORD-1001:VENDOR:A:COMMISSION_DEBIT"]
	assert.Equal(t, ledger.Debit, commissionA.Direction)
	assert.True(t, commissionA.Amount.Equal(dec("20.00")))

	assert.True(t, byRef["ORDER:ORD-1001:VENDOR:B:SALE_CREDIT"].Amount.Equal(dec("45.00")))
	assert.True(t, byRef["ORDER:ORD-1001:VENDOR:B:COMMISSION_DEBIT"].Amount.Equal(dec("5.00")))

	stored, err := f.orders.Get(context.Background(), "ORD-1001")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, stored.PaymentStatus)
	require.NotNil(t, stored.Items[0].GrossAmount)
	assert.True(t, stored.Items[0].GrossAmount.Equal(dec("200.00")))
	assert.True(t, stored.Items[0].CommissionPercent.Equal(dec("10")))
}

func TestConfirmPaymentConservation(t *testing.T) {
	order := orders.NewOrder("order-2", "ORD-2", []orders.Item{
		{ProductID: "p-a", VendorID: "A", Quantity: 3, UnitPrice: dec("19.99")},
		{ProductID: "p-a", VendorID: "A", Quantity: 7, UnitPrice: dec("0.33")},
		{ProductID: "p-b", VendorID: "B", Quantity: 1, UnitPrice: dec("0.05")},
	}, testNow)
	f := newPostingFixture(t, scenarioCatalog(), order)
	_, err := f.settings.Update(context.Background(), Settings{DefaultPercent: 12.5})
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(context.Background(), "ORD-2")
	require.NoError(t, err)

	stored, err := f.orders.Get(context.Background(), "ORD-2")
	require.NoError(t, err)
	for _, item := range stored.Items {
		require.NotNil(t, item.NetAmount)
		diff := item.NetAmount.Add(*item.CommissionAmount).Sub(*item.GrossAmount).Abs()
		assert.True(t, diff.LessThanOrEqual(dec("0.01")), "item %s drifts by %s", item.ProductID, diff)
	}
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	// Arrange
	f := newPostingFixture(t, scenarioCatalog(), scenarioOrder())
	ctx := context.Background()
	_, err := f.svc.ConfirmPayment(ctx, "ORD-1001")
	require.NoError(t, err)

	// Act: redelivery, even after the rate changed
	_, err = f.settings.Update(ctx, Settings{DefaultPercent: 30})
	require.NoError(t, err)
	result, err := f.svc.ConfirmPayment(ctx, "order-1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0, result.Posted)
	assert.Equal(t, 4, result.Skipped)
	assert.Len(t, f.ledger.All(), 4)
	assert.True(t, result.Vendors[0].Commission.Equal(dec("20.00")), "stored breakdown is reused")
}

func TestConfirmPaymentVendorOverride(t *testing.T) {
	f := newPostingFixture(t, scenarioCatalog(), scenarioOrder())
	ctx := context.Background()
	_, err := f.settings.Update(ctx, Settings{
		DefaultPercent: 10,
		PerCategory:    map[string]float64{"electronics": 15},
		PerVendor:      map[string]float64{"A": 5},
	})
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, "ORD-1001")
	require.NoError(t, err)

	byRef := entriesByReference(f.ledger.All())
	assert.True(t, byRef["ORDER:ORD-1001:VENDOR:A:COMMISSION_DEBIT"].Amount.Equal(dec("10.00")))
	assert.True(t, byRef["ORDER:ORD-1001:VENDOR:A:SALE_CREDIT"].Amount.Equal(dec("190.00")))
	assert.True(t, byRef["ORDER:ORD-1001:VENDOR:B:COMMISSION_DEBIT"].Amount.Equal(dec("5.00")))
}

func TestConfirmPaymentSkipsCancelledItems(t *testing.T) {
	order := scenarioOrder()
	_, err := order.CancelItem("B", "p-b", "out of stock", testNow)
	require.NoError(t, err)
	f := newPostingFixture(t, scenarioCatalog(), order)

	result, err := f.svc.ConfirmPayment(context.Background(), "ORD-1001")

	require.NoError(t, err)
	assert.Equal(t, 2, result.Posted)
	require.Len(t, result.Vendors, 1)
	assert.Equal(t, "A", result.Vendors[0].VendorID)
}

func TestConfirmPaymentUnknownProductUsesDefaultTier(t *testing.T) {
	// Arrange
	lookup := new(MockLookup)
	lookup.On("Product", mock.Anything, "p-a").Return(&catalog.Product{ID: "p-a", Category: "electronics"}, nil)
	lookup.On("Product", mock.Anything, "p-b").Return(nil, apperr.NotFound("product", "p-b"))
	f := newPostingFixture(t, lookup, scenarioOrder())
	_, err := f.settings.Update(context.Background(), Settings{
		DefaultPercent: 10,
		PerCategory:    map[string]float64{"electronics": 50, "books": 40},
	})
	require.NoError(t, err)

	// Act
	result, err := f.svc.ConfirmPayment(context.Background(), "ORD-1001")

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Vendors[0].Commission.Equal(dec("100.00")))
	assert.True(t, result.Vendors[1].Commission.Equal(dec("5.00")))
	lookup.AssertExpectations(t)
}

func TestConfirmPaymentCatalogOutageIsRetriedWithRealTier(t *testing.T) {
	// Arrange
	lookup := new(MockLookup)
	lookup.On("Product", mock.Anything, "p-a").Return(nil, errors.New("catalog service returned 503")).Once()
	lookup.On("Product", mock.Anything, "p-a").Return(&catalog.Product{ID: "p-a", Category: "electronics"}, nil)
	lookup.On("Product", mock.Anything, "p-b").Return(&catalog.Product{ID: "p-b", Category: "books"}, nil)
	f := newPostingFixture(t, lookup, scenarioOrder())
	_, err := f.settings.Update(context.Background(), Settings{
		DefaultPercent: 10,
		PerCategory:    map[string]float64{"electronics": 50},
	})
	require.NoError(t, err)

	// Act
	_, firstErr := f.svc.ConfirmPayment(context.Background(), "ORD-1001")
	result, err := f.svc.ConfirmPayment(context.Background(), "ORD-1001")

	// Assert
	require.Error(t, firstErr)
	assert.NotErrorIs(t, firstErr, apperr.ErrNotFound)
	assert.NotErrorIs(t, firstErr, apperr.ErrValidation)

	require.NoError(t, err)
	assert.Equal(t, 4, result.Posted)
	assert.True(t, result.Vendors[0].Commission.Equal(dec("100.00")))

	order, err := f.orders.Get(context.Background(), "ORD-1001")
	require.NoError(t, err)
	assert.True(t, order.Items[0].CommissionAmount.Equal(dec("100.00")))
}

func TestConfirmPaymentRejections(t *testing.T) {
	order := scenarioOrder()
	order.PaymentStatus = orders.PaymentRefunded
	f := newPostingFixture(t, scenarioCatalog(), order)
	ctx := context.Background()

	_, err := f.svc.ConfirmPayment(ctx, "ORD-1001")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.ConfirmPayment(ctx, "ORD-404")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.ConfirmPayment(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Empty(t, f.ledger.All())
}

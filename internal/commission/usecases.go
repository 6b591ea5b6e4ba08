package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/catalog"
	"github.com/matheusmosca/marketplace-ledger/internal/ledger"
	"github.com/matheusmosca/marketplace-ledger/internal/orders"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/telemetry"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// SettingsSource returns the current commission settings.
type SettingsSource interface {
	Get(ctx context.Context) (Settings, error)
}

// VendorPosting is one vendor's share of a paid order.
type VendorPosting struct {
	VendorID   string          `json:"vendorId"`
	Gross      decimal.Decimal `json:"gross"`
	Commission decimal.Decimal `json:"commission"`
	Net        decimal.Decimal `json:"net"`
}

// PostingResult summarizes a payment confirmation.
type PostingResult struct {
	OrderNumber string          `json:"orderNumber"`
	Vendors     []VendorPosting `json:"vendors"`
	Posted      int             `json:"posted"`
	Skipped     int             `json:"skipped"`
}

// PostingService contém a lógica de lançamento de comissões
type PostingService struct {
	orders   orders.Repository
	beginner txn.Beginner
	ledger   *ledger.Service
	settings SettingsSource
	resolver *Resolver
	catalog  catalog.Lookup
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	confirmed metric.Int64Counter
}

// NewPostingService cria uma nova instância de PostingService
func NewPostingService(
	orderRepository orders.Repository,
	beginner txn.Beginner,
	ledgerService *ledger.Service,
	settings SettingsSource,
	resolver *Resolver,
	lookup catalog.Lookup,
	logger *zap.Logger,
	tracer trace.Tracer,
) *PostingService {
	return &PostingService{
		orders:    orderRepository,
		beginner:  beginner,
		ledger:    ledgerService,
		settings:  settings,
		resolver:  resolver,
		catalog:   lookup,
		logger:    logger,
		tracer:    tracer,
		now:       time.Now,
		confirmed: telemetry.Counter("commission", "payments_confirmed_total", "Payment confirmations processed"),
	}
}

// WithClock replaces time.Now.
func (s *PostingService) WithClock(now func() time.Time) *PostingService {
	s.now = now
	return s
}

// ConfirmPayment marks the order paid, stores each line's commission
// breakdown and posts a SALE credit of the net and a COMMISSION debit per
// vendor. Redelivery is harmless: stored breakdowns are reused and entries
// whose reference exists are skipped.
func (s *PostingService) ConfirmPayment(ctx context.Context, orderNumber string) (*PostingResult, error) {
	ctx, span := s.tracer.Start(ctx, "commission.confirm_payment")
	defer span.End()
	span.SetAttributes(attribute.String("order_number", orderNumber))

	if orderNumber == "" {
		return nil, apperr.Validation("orderNumber is required")
	}

	s.logger.Info("➡️ [POSTING] Payment confirmed", zap.String("order_number", orderNumber))

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load commission settings: %w", err)
	}

	tx, err := s.beginner.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := s.orders.GetForUpdate(ctx, tx, orderNumber)
	if err != nil {
		return nil, err
	}
	if err := order.MarkPaid(s.now()); err != nil {
		return nil, err
	}

	vendors, err := s.applyCommissions(ctx, order, settings)
	if err != nil {
		return nil, err
	}

	if err := s.orders.Save(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	result := &PostingResult{OrderNumber: order.OrderNumber, Vendors: vendors}
	for _, v := range vendors {
		for _, params := range vendorEntries(order, v) {
			_, written, err := s.ledger.Post(ctx, tx, params)
			if err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("failed to post %s: %w", params.Reference, err)
			}
			if written {
				result.Posted++
			} else {
				result.Skipped++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit posting: %w", err)
	}

	s.confirmed.Add(ctx, 1)
	span.SetAttributes(attribute.Int("ledger.posted", result.Posted), attribute.Int("ledger.skipped", result.Skipped))
	s.logger.Info("✅ [POSTING] Done",
		zap.String("order_number", order.OrderNumber),
		zap.Int("vendors", len(vendors)),
		zap.Int("posted", result.Posted),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// applyCommissions fills the breakdown of every non-cancelled item and sums
// the rounded item amounts per vendor, in first-seen vendor order.
func (s *PostingService) applyCommissions(ctx context.Context, order *orders.Order, settings Settings) ([]VendorPosting, error) {
	index := make(map[string]int)
	var vendors []VendorPosting

	for i := range order.Items {
		item := &order.Items[i]
		if item.Status == orders.LineCancelled {
			continue
		}

		if item.GrossAmount == nil {
			category, err := s.category(ctx, item.ProductID)
			if err != nil {
				return nil, err
			}
			percent := s.resolver.ResolvePercent(settings, item.VendorID, category)
			b := ComputeLine(item.UnitPrice, item.Quantity, percent)
			item.ApplyCommission(b.Gross, b.Percent, b.Commission, b.Net)
		}

		pos, ok := index[item.VendorID]
		if !ok {
			pos = len(vendors)
			index[item.VendorID] = pos
			vendors = append(vendors, VendorPosting{
				VendorID:   item.VendorID,
				Gross:      decimal.Zero,
				Commission: decimal.Zero,
				Net:        decimal.Zero,
			})
		}
		v := &vendors[pos]
		v.Gross = v.Gross.Add(*item.GrossAmount)
		v.Commission = v.Commission.Add(*item.CommissionAmount)
		v.Net = v.Net.Add(*item.NetAmount)
	}
	return vendors, nil
}

// category resolves a product's category. Only unknown products fall back to
// the default tier; any other lookup failure aborts the posting so a
// redelivery prices the order once the catalog answers.
func (s *PostingService) category(ctx context.Context, productID string) (string, error) {
	product, err := s.catalog.Product(ctx, productID)
	if err == nil {
		return product.Category, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("failed to resolve category of product %s: %w", productID, err)
	}
	s.logger.Warn("⚠️  Product not in catalog, using default commission tier",
		zap.String("product_id", productID),
		zap.Error(err),
	)
	return "", nil
}

func vendorEntries(order *orders.Order, v VendorPosting) []ledger.NewEntryParams {
	return []ledger.NewEntryParams{
		{
			VendorID:    v.VendorID,
			Type:        ledger.TypeSale,
			Direction:   ledger.Credit,
			Amount:      v.Net,
			OrderID:     order.ID,
			Status:      ledger.StatusCompleted,
			Reference:   ledger.SaleCreditReference(order.OrderNumber, v.VendorID),
			Description: fmt.Sprintf("Sale of order %s", order.OrderNumber),
		},
		{
			VendorID:    v.VendorID,
			Type:        ledger.TypeCommission,
			Direction:   ledger.Debit,
			Amount:      v.Commission,
			OrderID:     order.ID,
			Status:      ledger.StatusCompleted,
			Reference:   ledger.CommissionDebitReference(order.OrderNumber, v.VendorID),
			Description: fmt.Sprintf("Platform commission on order %s", order.OrderNumber),
		},
	}
}

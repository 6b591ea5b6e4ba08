package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/catalog"
	"github.com/matheusmosca/marketplace-ledger/internal/inventory"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// StockRestorer gives cancelled quantities back to inventory inside the
// caller's transaction.
type StockRestorer interface {
	RestoreStock(ctx context.Context, tx txn.Tx, req inventory.RestoreRequest) (*inventory.StockChange, error)
	DispatchAlerts(ctx context.Context, change *inventory.StockChange)
}

// UpdateItemStatusRequest moves a vendor's item forward in the fulfilment flow.
type UpdateItemStatusRequest struct {
	VendorID       string
	OrderRef       string
	ProductID      string
	Status         LineStatus
	TrackingNumber string
}

// CancelItemRequest cancels a vendor's item.
type CancelItemRequest struct {
	VendorID  string
	OrderRef  string
	ProductID string
	Reason    string
}

// OrderUseCase contém a lógica de negócio dos pedidos
type OrderUseCase struct {
	repository Repository
	beginner   txn.Beginner
	stock      StockRestorer
	catalog    catalog.Lookup
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(
	repository Repository,
	beginner txn.Beginner,
	stock StockRestorer,
	lookup catalog.Lookup,
	logger *zap.Logger,
	tracer trace.Tracer,
) *OrderUseCase {
	return &OrderUseCase{
		repository: repository,
		beginner:   beginner,
		stock:      stock,
		catalog:    lookup,
		logger:     logger,
		tracer:     tracer,
		now:        time.Now,
	}
}

// WithClock replaces time.Now.
func (uc *OrderUseCase) WithClock(now func() time.Time) *OrderUseCase {
	uc.now = now
	return uc
}

// Get returns the order as seen by vendorID. Orders the vendor has no items
// in are reported as not found.
func (uc *OrderUseCase) Get(ctx context.Context, vendorID, ref string) (*Order, error) {
	order, err := uc.repository.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !order.HasVendor(vendorID) {
		return nil, apperr.NotFound("order", ref)
	}
	return order, nil
}

// UpdateItemStatus drives CONFIRMED, SHIPPED and DELIVERED transitions.
func (uc *OrderUseCase) UpdateItemStatus(ctx context.Context, req UpdateItemStatusRequest) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.update_item_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_ref", req.OrderRef),
		attribute.String("vendor_id", req.VendorID),
		attribute.String("product_id", req.ProductID),
		attribute.String("status", req.Status.String()),
	)

	uc.logger.Info("➡️ [ITEM STATUS]",
		zap.String("order_ref", req.OrderRef),
		zap.String("vendor_id", req.VendorID),
		zap.String("product_id", req.ProductID),
		zap.String("status", req.Status.String()),
	)

	tx, err := uc.beginner.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := uc.repository.GetForUpdate(ctx, tx, req.OrderRef)
	if err != nil {
		return nil, err
	}
	if !order.HasVendor(req.VendorID) {
		return nil, apperr.NotFound("order", req.OrderRef)
	}

	if _, err := order.TransitionItem(req.VendorID, req.ProductID, req.Status, req.TrackingNumber, uc.now()); err != nil {
		uc.logger.Info("❌ Item status rejected", zap.String("order_ref", req.OrderRef), zap.Error(err))
		return nil, err
	}

	if err := uc.repository.Save(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit item status: %w", err)
	}

	uc.logger.Info("✅ Item status updated",
		zap.String("order_number", order.OrderNumber),
		zap.String("aggregate_status", string(order.AggregateStatus)),
	)
	return order, nil
}

// CancelItem cancels the vendor's item, gives tracked stock back and
// recomputes the order, all in one transaction.
func (uc *OrderUseCase) CancelItem(ctx context.Context, req CancelItemRequest) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.cancel_item")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_ref", req.OrderRef),
		attribute.String("vendor_id", req.VendorID),
		attribute.String("product_id", req.ProductID),
	)

	uc.logger.Info("↩️ [CANCEL ITEM]",
		zap.String("order_ref", req.OrderRef),
		zap.String("vendor_id", req.VendorID),
		zap.String("product_id", req.ProductID),
		zap.String("reason", req.Reason),
	)

	tx, err := uc.beginner.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := uc.repository.GetForUpdate(ctx, tx, req.OrderRef)
	if err != nil {
		return nil, err
	}
	if !order.HasVendor(req.VendorID) {
		return nil, apperr.NotFound("order", req.OrderRef)
	}

	item, err := order.CancelItem(req.VendorID, req.ProductID, req.Reason, uc.now())
	if err != nil {
		return nil, err
	}

	var change *inventory.StockChange
	tracked, err := uc.tracksInventory(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if tracked {
		change, err = uc.stock.RestoreStock(ctx, tx, inventory.RestoreRequest{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Qty:       item.Quantity,
			Reason:    fmt.Sprintf("order %s item cancelled: %s", order.OrderNumber, req.Reason),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to restore stock: %w", err)
		}
	}

	if err := uc.repository.Save(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	uc.stock.DispatchAlerts(ctx, change)
	uc.logger.Info("♻️  Item cancelled",
		zap.String("order_number", order.OrderNumber),
		zap.Bool("stock_restored", tracked),
		zap.String("aggregate_status", string(order.AggregateStatus)),
	)
	return order, nil
}

func (uc *OrderUseCase) tracksInventory(ctx context.Context, productID string) (bool, error) {
	product, err := uc.catalog.Product(ctx, productID)
	if errors.Is(err, apperr.ErrNotFound) {
		uc.logger.Warn("⚠️  Product not in catalog, stock not restored", zap.String("product_id", productID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up product: %w", err)
	}
	return product.TrackInventory, nil
}

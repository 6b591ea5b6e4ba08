package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/telemetry"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// Options tunes reservation limits and the sweep.
type Options struct {
	DefaultMinutes int
	MaxMinutes     int
	SweepBatchSize int
}

// ReserveRequest asks to hold stock for a vendor's product.
type ReserveRequest struct {
	VendorID  string
	ProductID string
	SKU       string
	Qty       int
	Minutes   int
}

// Service contém a lógica de negócio do inventário
type Service struct {
	repository Repository
	beginner   txn.Beginner
	publisher  AlertPublisher
	opts       Options
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	reserved metric.Int64Counter
	expired  metric.Int64Counter
	alerted  metric.Int64Counter
}

// NewService cria uma nova instância de Service
func NewService(
	repository Repository,
	beginner txn.Beginner,
	publisher AlertPublisher,
	opts Options,
	logger *zap.Logger,
	tracer trace.Tracer,
) *Service {
	if opts.DefaultMinutes <= 0 {
		opts.DefaultMinutes = 15
	}
	if opts.MaxMinutes <= 0 {
		opts.MaxMinutes = 120
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 500
	}
	return &Service{
		repository: repository,
		beginner:   beginner,
		publisher:  publisher,
		opts:       opts,
		logger:     logger,
		tracer:     tracer,
		now:        time.Now,
		reserved:   telemetry.Counter("inventory", "stock_reservations_created_total", "Stock reservations created"),
		expired:    telemetry.Counter("inventory", "stock_reservations_expired_total", "Stock reservations released by the sweep"),
		alerted:    telemetry.Counter("inventory", "low_stock_alerts_total", "Low stock alerts emitted"),
	}
}

// WithClock replaces time.Now.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Reserve decrements stock and records an ACTIVE reservation in one
// transaction.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("vendor_id", req.VendorID),
		attribute.String("product_id", req.ProductID),
		attribute.String("sku", req.SKU),
		attribute.Int("qty", req.Qty),
	)

	if req.Qty <= 0 {
		return nil, apperr.Validation("qty must be greater than zero")
	}
	if req.Minutes == 0 {
		req.Minutes = s.opts.DefaultMinutes
	}
	if req.Minutes < 1 || req.Minutes > s.opts.MaxMinutes {
		return nil, apperr.Validation("minutes must be between 1 and %d", s.opts.MaxMinutes)
	}

	s.logger.Info("➡️ [RESERVE]",
		zap.String("vendor_id", req.VendorID),
		zap.String("product_id", req.ProductID),
		zap.String("sku", req.SKU),
		zap.Int("qty", req.Qty),
	)

	tx, err := s.beginner.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	level, err := s.repository.GetStockForUpdate(ctx, tx, req.ProductID, req.SKU)
	if err != nil {
		return nil, err
	}
	// another vendor's product is reported as unknown
	if level.VendorID != req.VendorID {
		return nil, apperr.NotFound("product", req.ProductID)
	}
	if !level.TrackInventory {
		return nil, apperr.Validation("product %s does not track inventory", req.ProductID)
	}
	if level.Stock < req.Qty {
		s.logger.Info("❌ RESERVE FAILED: Insufficient stock",
			zap.String("product_id", req.ProductID),
			zap.Int("stock", level.Stock),
			zap.Int("qty", req.Qty),
		)
		return nil, fmt.Errorf("%w: product %s has %d, requested %d", apperr.ErrInsufficientStock, req.ProductID, level.Stock, req.Qty)
	}

	now := s.now()
	change, err := s.applyDelta(ctx, tx, level, -req.Qty, now)
	if err != nil {
		return nil, err
	}

	reservation := NewReservation(req.VendorID, req.ProductID, req.SKU, req.Qty, time.Duration(req.Minutes)*time.Minute, now)
	if err := s.repository.CreateReservation(ctx, tx, reservation); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	s.reserved.Add(ctx, 1)
	s.DispatchAlerts(ctx, change)
	s.logger.Info("✅ [RESERVE] Success",
		zap.String("reservation_id", reservation.ID),
		zap.Time("expires_at", reservation.ExpiresAt),
	)
	return reservation, nil
}

// Consume finalizes an ACTIVE reservation into a sale. Stock was already
// decremented at reservation time and is not touched again.
func (s *Service) Consume(ctx context.Context, vendorID, reservationID string) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.consume")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	tx, err := s.beginner.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reservation, err := s.repository.GetReservationForUpdate(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation.VendorID != vendorID {
		return nil, apperr.NotFound("reservation", reservationID)
	}

	if err := reservation.Transition(ReservationConsumed, s.now()); err != nil {
		return nil, err
	}
	ok, err := s.repository.UpdateReservationStatus(ctx, tx, reservation, ReservationActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition("reservation", ReservationActive, ReservationConsumed)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consume: %w", err)
	}

	s.logger.Info("✅ [CONSUME] Reservation consumed", zap.String("reservation_id", reservationID))
	return reservation, nil
}

// GetReservation returns a vendor's reservation.
func (s *Service) GetReservation(ctx context.Context, vendorID, reservationID string) (*Reservation, error) {
	reservation, err := s.repository.GetReservation(ctx, nil, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation.VendorID != vendorID {
		return nil, apperr.NotFound("reservation", reservationID)
	}
	return reservation, nil
}

// RestoreStock gives qty back to a product or variant inside tx. Both the
// expiry sweep and item cancellation release stock through here. Alerts in
// the returned change must be dispatched after tx commits.
func (s *Service) RestoreStock(ctx context.Context, tx txn.Tx, req RestoreRequest) (*StockChange, error) {
	if req.Qty <= 0 {
		return nil, apperr.Validation("restore qty must be greater than zero")
	}

	level, err := s.repository.GetStockForUpdate(ctx, tx, req.ProductID, req.SKU)
	if err != nil {
		return nil, err
	}

	change, err := s.applyDelta(ctx, tx, level, req.Qty, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("♻️  [RESTORE STOCK]",
		zap.String("product_id", req.ProductID),
		zap.String("sku", req.SKU),
		zap.Int("qty", req.Qty),
		zap.String("reason", req.Reason),
		zap.Int("stock", change.After),
	)
	return change, nil
}

// applyDelta writes level.Stock+delta and evaluates alert subscriptions
// against the change.
func (s *Service) applyDelta(ctx context.Context, tx txn.Tx, level *StockLevel, delta int, now time.Time) (*StockChange, error) {
	before := level.Stock
	after := before + delta
	if after < 0 {
		return nil, fmt.Errorf("%w: product %s would go negative", apperr.ErrInsufficientStock, level.ProductID)
	}

	if err := s.repository.SetStock(ctx, tx, level.ProductID, level.SKU, after); err != nil {
		return nil, err
	}
	level.Stock = after

	subs, err := s.repository.ActiveSubscriptions(ctx, tx, level.VendorID, level.ProductID, level.SKU)
	if err != nil {
		return nil, err
	}

	return &StockChange{
		ProductID: level.ProductID,
		SKU:       level.SKU,
		VendorID:  level.VendorID,
		Before:    before,
		After:     after,
		Alerts:    EvaluateAlerts(subs, *level, before, now),
	}, nil
}

// DispatchAlerts publishes the alerts of a committed change. Publishing is
// best effort: failures are logged, the stock change stands.
func (s *Service) DispatchAlerts(ctx context.Context, change *StockChange) {
	if change == nil {
		return
	}
	for _, alert := range change.Alerts {
		if err := s.publisher.Publish(ctx, alert); err != nil {
			s.logger.Error("❌ Failed to publish low stock alert",
				zap.Error(err),
				zap.String("product_id", alert.ProductID),
				zap.String("subscription_id", alert.SubscriptionID),
			)
			continue
		}
		s.alerted.Add(ctx, 1)
	}
}

// SweepExpired releases every ACTIVE reservation whose deadline has passed.
// Each reservation is claimed under a row lock and re-checked, so concurrent
// sweepers never restore the same hold twice. It returns how many
// reservations this call released.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.sweep_expired")
	defer span.End()

	now := s.now()
	ids, err := s.repository.ExpiredReservationIDs(ctx, now, s.opts.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	s.logger.Info("🧹 [SWEEP] Releasing expired reservations", zap.Int("candidates", len(ids)))

	released := 0
	var errs []error
	for _, id := range ids {
		ok, err := s.expireOne(ctx, id, now)
		if err != nil {
			s.logger.Error("❌ [SWEEP] Failed to release reservation", zap.String("reservation_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			released++
		}
	}

	span.SetAttributes(attribute.Int("released", released))
	s.expired.Add(ctx, int64(released))
	s.logger.Info("✅ [SWEEP] Done", zap.Int("released", released))
	return released, errors.Join(errs...)
}

func (s *Service) expireOne(ctx context.Context, id string, now time.Time) (bool, error) {
	tx, err := s.beginner.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reservation, err := s.repository.GetReservationForUpdate(ctx, tx, id)
	if err != nil {
		return false, err
	}
	// consumed or released by someone else since the listing
	if reservation.Status != ReservationActive || !reservation.Expired(now) {
		return false, nil
	}

	if err := reservation.Transition(ReservationExpired, now); err != nil {
		return false, err
	}
	claimed, err := s.repository.UpdateReservationStatus(ctx, tx, reservation, ReservationActive)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	change, err := s.RestoreStock(ctx, tx, RestoreRequest{
		ProductID: reservation.ProductID,
		SKU:       reservation.SKU,
		Qty:       reservation.Qty,
		Reason:    "reservation " + reservation.ID + " expired",
	})
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit expiry: %w", err)
	}
	s.DispatchAlerts(ctx, change)
	return true, nil
}

// SubscribeRequest registers a low-stock threshold.
type SubscribeRequest struct {
	VendorID  string
	ProductID string
	SKU       string
	Threshold int
}

// Subscribe creates an alert subscription on one of the vendor's products.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*AlertSubscription, error) {
	if req.Threshold <= 0 {
		return nil, apperr.Validation("threshold must be greater than zero")
	}

	level, err := s.repository.GetStockForUpdate(ctx, nil, req.ProductID, req.SKU)
	if err != nil {
		return nil, err
	}
	if level.VendorID != req.VendorID {
		return nil, apperr.NotFound("product", req.ProductID)
	}

	sub := &AlertSubscription{
		ID:        uuid.New().String(),
		VendorID:  req.VendorID,
		ProductID: req.ProductID,
		SKU:       req.SKU,
		Threshold: req.Threshold,
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.repository.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

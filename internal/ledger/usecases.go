package ledger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/telemetry"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// Service contém a lógica de negócio do ledger
type Service struct {
	repository Repository
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	posted     metric.Int64Counter
	duplicates metric.Int64Counter
}

// NewService cria uma nova instância de Service
func NewService(repository Repository, logger *zap.Logger, tracer trace.Tracer) *Service {
	return &Service{
		repository: repository,
		logger:     logger,
		tracer:     tracer,
		now:        time.Now,
		posted:     telemetry.Counter("ledger", "ledger_entries_posted_total", "Ledger entries written"),
		duplicates: telemetry.Counter("ledger", "ledger_entries_duplicate_total", "Ledger posts skipped by idempotency"),
	}
}

// WithClock replaces time.Now.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Post writes an entry unless its reference already exists. It reports
// whether a row was written; an idempotency hit is not an error.
func (s *Service) Post(ctx context.Context, tx txn.Tx, params NewEntryParams) (*Entry, bool, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.post")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.reference", params.Reference),
		attribute.String("vendor_id", params.VendorID),
	)

	exists, err := s.repository.ReferenceExists(ctx, tx, params.Reference)
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("error to check idempotency: %w", err)
	}
	if exists {
		s.skipDuplicate(ctx, params.Reference)
		return nil, false, nil
	}

	entry, err := NewEntry(params, s.now())
	if err != nil {
		return nil, false, err
	}

	if err := s.repository.Insert(ctx, tx, entry); err != nil {
		if apperr.IsDuplicate(err) {
			s.skipDuplicate(ctx, params.Reference)
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, err
	}

	s.posted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(entry.Type))))
	s.logger.Debug("Ledger entry posted",
		zap.String("reference", entry.Reference),
		zap.String("vendor_id", entry.VendorID),
		zap.String("amount", entry.Amount.StringFixed(2)),
	)
	return entry, true, nil
}

func (s *Service) skipDuplicate(ctx context.Context, reference string) {
	s.duplicates.Add(ctx, 1)
	s.logger.Info("ℹ️  [IDEMPOTENCY] Ledger entry already posted", zap.String("reference", reference))
}

// Settle moves a PENDING entry to COMPLETED or FAILED inside tx.
func (s *Service) Settle(ctx context.Context, tx txn.Tx, entryID string, status Status) (*Entry, error) {
	entry, err := s.repository.GetForUpdate(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if err := entry.Transition(status, s.now()); err != nil {
		return nil, err
	}
	if err := s.repository.UpdateStatus(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Summary derives the wallet balances of a vendor. Pass a tx to read inside
// an open transaction, or nil.
func (s *Service) Summary(ctx context.Context, tx txn.Tx, vendorID string) (Summary, error) {
	buckets, err := s.repository.Buckets(ctx, tx, vendorID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(buckets), nil
}

// Transactions lists a vendor's entries, newest first.
func (s *Service) Transactions(ctx context.Context, filter Filter) (*Page, error) {
	if filter.VendorID == "" {
		return nil, apperr.Validation("vendor is required")
	}
	if filter.Page < 1 || filter.Limit < 1 {
		return nil, apperr.Validation("page and limit must be positive")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, apperr.Validation("dateTo must not be before dateFrom")
	}

	page, err := s.repository.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return page, nil
}

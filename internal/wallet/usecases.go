package wallet

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

	"github.com/matheusmosca/marketplace-ledger/internal/config"
	"github.com/matheusmosca/marketplace-ledger/internal/ledger"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/telemetry"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// DecisionRequest is an administrator action on a payout.
type DecisionRequest struct {
	AdminID  string
	VendorID string
	PayoutID string
	Notes    string
}

// PayoutPage is one slice of a vendor's payouts.
type PayoutPage struct {
	Payouts []PayoutRequest `json:"payouts"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

// Service contém a lógica de negócio da carteira do vendedor
type Service struct {
	repository Repository
	beginner   txn.Beginner
	ledger     *ledger.Service
	banking    BankingProvider
	notifier   PayoutNotifier
	policy     string
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	requested metric.Int64Counter
}

// NewService cria uma nova instância de Service
func NewService(
	repository Repository,
	beginner txn.Beginner,
	ledgerService *ledger.Service,
	banking BankingProvider,
	notifier PayoutNotifier,
	policy string,
	logger *zap.Logger,
	tracer trace.Tracer,
) *Service {
	if policy != config.PolicyAvailableOnly {
		policy = config.PolicyReservePending
	}
	return &Service{
		repository: repository,
		beginner:   beginner,
		ledger:     ledgerService,
		banking:    banking,
		notifier:   notifier,
		policy:     policy,
		logger:     logger,
		tracer:     tracer,
		now:        time.Now,
		requested:  telemetry.Counter("wallet", "payouts_requested_total", "Withdrawal requests accepted"),
	}
}

// WithClock replaces time.Now.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Summary returns the vendor's balances and what can be withdrawn now.
func (s *Service) Summary(ctx context.Context, vendorID string) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.summary")
	defer span.End()
	span.SetAttributes(attribute.String("vendor_id", vendorID))

	if vendorID == "" {
		return nil, apperr.Validation("vendor is required")
	}
	balances, err := s.ledger.Summary(ctx, nil, vendorID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to summarize wallet: %w", err)
	}
	return &Summary{Summary: balances, WithdrawableBalance: Withdrawable(balances, s.policy)}, nil
}

// Transactions lists the vendor's ledger entries.
func (s *Service) Transactions(ctx context.Context, filter ledger.Filter) (*ledger.Page, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.transactions")
	defer span.End()
	span.SetAttributes(attribute.String("vendor_id", filter.VendorID))

	return s.ledger.Transactions(ctx, filter)
}

// RequestWithdrawal creates a REQUESTED payout and its PENDING PAYOUT debit
// in one transaction. Requests of the same vendor are serialized so two
// concurrent requests cannot both pass the balance check.
func (s *Service) RequestWithdrawal(ctx context.Context, vendorID string, amount decimal.Decimal) (*PayoutRequest, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.request_withdrawal")
	defer span.End()
	span.SetAttributes(
		attribute.String("vendor_id", vendorID),
		attribute.String("amount", amount.StringFixed(2)),
	)

	s.logger.Info("➡️ [WITHDRAW] Request received",
		zap.String("vendor_id", vendorID),
		zap.String("amount", amount.StringFixed(2)),
	)

	if vendorID == "" {
		return nil, apperr.Validation("vendor is required")
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be positive")
	}
	if amount.Exponent() < -2 {
		return nil, apperr.Validation("amount must have at most two decimal places")
	}

	details, err := s.banking.BankingDetails(ctx, vendorID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load banking details: %w", err)
	}
	if !details.Complete() {
		return nil, fmt.Errorf("%w: vendor %s", apperr.ErrMissingBankingDetails, vendorID)
	}

	tx, err := s.beginner.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.repository.LockVendor(ctx, tx, vendorID); err != nil {
		return nil, err
	}

	balances, err := s.ledger.Summary(ctx, tx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize wallet: %w", err)
	}
	withdrawable := Withdrawable(balances, s.policy)
	if amount.GreaterThan(withdrawable) {
		s.logger.Warn("❌ [WITHDRAW] Insufficient balance",
			zap.String("vendor_id", vendorID),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("withdrawable", withdrawable.StringFixed(2)),
		)
		return nil, fmt.Errorf("%w: requested %s, withdrawable %s",
			apperr.ErrInsufficientBalance, amount.StringFixed(2), withdrawable.StringFixed(2))
	}

	payout := NewPayoutRequest(vendorID, amount, s.now())
	entry, _, err := s.ledger.Post(ctx, tx, ledger.NewEntryParams{
		VendorID:    vendorID,
		Type:        ledger.TypePayout,
		Direction:   ledger.Debit,
		Amount:      amount,
		Metadata:    ledger.Metadata{PayoutRequestID: payout.ID},
		Status:      ledger.StatusPending,
		Reference:   ledger.PayoutDebitReference(payout.ID),
		Description: "Payout request " + payout.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post payout debit: %w", err)
	}
	if entry == nil {
		// fresh uuid, a hit here means the reference scheme is broken
		return nil, fmt.Errorf("payout debit %s already exists", ledger.PayoutDebitReference(payout.ID))
	}
	payout.LedgerEntryID = entry.ID

	if err := s.repository.Create(ctx, tx, payout); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.requested.Add(ctx, 1)
	s.logger.Info("✅ [WITHDRAW] Payout requested",
		zap.String("payout_request_id", payout.ID),
		zap.String("vendor_id", vendorID),
		zap.String("amount", amount.StringFixed(2)),
	)
	return payout, nil
}

// Approve moves a REQUESTED payout to APPROVED.
func (s *Service) Approve(ctx context.Context, req DecisionRequest) (*PayoutRequest, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.approve_payout")
	defer span.End()
	span.SetAttributes(attribute.String("payout_request_id", req.PayoutID))

	return s.decide(ctx, req, PayoutApproved, func(ctx context.Context, tx txn.Tx, p *PayoutRequest) error {
		return nil
	})
}

// Reject moves a REQUESTED or APPROVED payout to REJECTED and fails its
// debit, returning the amount to the available balance.
func (s *Service) Reject(ctx context.Context, req DecisionRequest) (*PayoutRequest, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.reject_payout")
	defer span.End()
	span.SetAttributes(attribute.String("payout_request_id", req.PayoutID))

	return s.decide(ctx, req, PayoutRejected, func(ctx context.Context, tx txn.Tx, p *PayoutRequest) error {
		_, err := s.ledger.Settle(ctx, tx, p.LedgerEntryID, ledger.StatusFailed)
		return err
	})
}

// MarkPaid moves an APPROVED payout to PAID and completes its debit. The
// notification collaborator learns about it through the notifier.
func (s *Service) MarkPaid(ctx context.Context, req DecisionRequest) (*PayoutRequest, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.mark_payout_paid")
	defer span.End()
	span.SetAttributes(attribute.String("payout_request_id", req.PayoutID))

	current, err := s.payoutOf(ctx, req.VendorID, req.PayoutID)
	if err != nil {
		return nil, err
	}
	// checked up front so a replay never opens a second global transaction
	if !current.Status.CanTransitionTo(PayoutPaid) {
		return nil, apperr.InvalidTransition("payout request", current.Status, PayoutPaid)
	}

	var paid *PayoutRequest
	err = s.notifier.PaidAndNotify(ctx, current, func(ctx context.Context) error {
		var err error
		paid, err = s.decide(ctx, req, PayoutPaid, func(ctx context.Context, tx txn.Tx, p *PayoutRequest) error {
			_, err := s.ledger.Settle(ctx, tx, p.LedgerEntryID, ledger.StatusCompleted)
			return err
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("💸 [PAYOUT] Marked paid",
		zap.String("payout_request_id", paid.ID),
		zap.String("vendor_id", paid.VendorID),
		zap.String("amount", paid.Amount.StringFixed(2)),
	)
	return paid, nil
}

func (s *Service) decide(
	ctx context.Context,
	req DecisionRequest,
	next PayoutStatus,
	settle func(ctx context.Context, tx txn.Tx, p *PayoutRequest) error,
) (*PayoutRequest, error) {
	if req.AdminID == "" {
		return nil, apperr.Validation("admin is required")
	}

	tx, err := s.beginner.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payout, err := s.repository.GetForUpdate(ctx, tx, req.PayoutID)
	if err != nil {
		return nil, err
	}
	if payout.VendorID != req.VendorID {
		return nil, apperr.NotFound("payout request", req.PayoutID)
	}
	if err := payout.Transition(next, req.AdminID, req.Notes, s.now()); err != nil {
		return nil, err
	}
	if err := settle(ctx, tx, payout); err != nil {
		return nil, fmt.Errorf("failed to settle payout debit: %w", err)
	}
	if err := s.repository.Update(ctx, tx, payout); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("✅ [PAYOUT] Status changed",
		zap.String("payout_request_id", payout.ID),
		zap.String("status", string(payout.Status)),
		zap.String("admin_id", req.AdminID),
	)
	return payout, nil
}

func (s *Service) payoutOf(ctx context.Context, vendorID, payoutID string) (*PayoutRequest, error) {
	payout, err := s.repository.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.VendorID != vendorID {
		return nil, apperr.NotFound("payout request", payoutID)
	}
	return payout, nil
}

// List returns a vendor's payouts, newest first.
func (s *Service) List(ctx context.Context, vendorID string, page, limit int) (*PayoutPage, error) {
	if vendorID == "" {
		return nil, apperr.Validation("vendor is required")
	}
	payouts, total, err := s.repository.ListByVendor(ctx, vendorID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	if payouts == nil {
		payouts = []PayoutRequest{}
	}
	return &PayoutPage{Payouts: payouts, Total: total, Page: page, Limit: limit}, nil
}

// PayoutStatus answers DTM's query-prepared check for a global transaction.
func (s *Service) PayoutStatus(ctx context.Context, gid string) (PayoutStatus, error) {
	id, ok := PayoutIDFromGID(gid)
	if !ok {
		return "", apperr.Validation("unknown gid %q", gid)
	}
	payout, err := s.repository.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return payout.Status, nil
}

// Package wallet derives vendor balances from the ledger and runs the payout
// flow from withdrawal request to payment.
package wallet

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-ledger/internal/config"
	"github.com/matheusmosca/marketplace-ledger/internal/ledger"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
)

// PayoutStatus is the lifecycle of a withdrawal.
type PayoutStatus string

const (
	PayoutRequested PayoutStatus = "REQUESTED"
	PayoutApproved  PayoutStatus = "APPROVED"
	PayoutPaid      PayoutStatus = "PAID"
	PayoutRejected  PayoutStatus = "REJECTED"
)

func (s PayoutStatus) String() string { return string(s) }

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutRequested: {PayoutApproved, PayoutRejected},
	PayoutApproved:  {PayoutPaid, PayoutRejected},
}

// CanTransitionTo reports whether s may move to next.
func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	for _, allowed := range payoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PayoutRequest representa um pedido de saque do vendedor
type PayoutRequest struct {
	ID            string          `json:"id"`
	VendorID      string          `json:"vendorId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PayoutStatus    `json:"status"`
	RequestedAt   time.Time       `json:"requestedAt"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
	ProcessedBy   string          `json:"processedBy,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	LedgerEntryID string          `json:"ledgerEntryId"`
}

// NewPayoutRequest builds a REQUESTED payout. The ledger entry id is set once
// the PAYOUT debit is posted.
func NewPayoutRequest(vendorID string, amount decimal.Decimal, now time.Time) *PayoutRequest {
	return &PayoutRequest{
		ID:          uuid.New().String(),
		VendorID:    vendorID,
		Amount:      amount,
		Status:      PayoutRequested,
		RequestedAt: now,
	}
}

// Transition applies an administrator decision.
func (p *PayoutRequest) Transition(next PayoutStatus, adminID, notes string, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return apperr.InvalidTransition("payout request", p.Status, next)
	}
	p.Status = next
	p.ProcessedAt = &now
	p.ProcessedBy = adminID
	if notes != "" {
		p.Notes = notes
	}
	return nil
}

// BankingDetails is where a vendor's payouts go.
type BankingDetails struct {
	VendorID      string `json:"vendorId"`
	AccountHolder string `json:"accountHolder"`
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	BranchCode    string `json:"branchCode"`
}

// Complete reports whether a payout can be sent with these details.
func (b *BankingDetails) Complete() bool {
	if b == nil {
		return false
	}
	for _, field := range []string{b.AccountHolder, b.BankName, b.AccountNumber} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

// Summary is the wallet view returned to vendors.
type Summary struct {
	ledger.Summary
	WithdrawableBalance decimal.Decimal `json:"withdrawableBalance"`
}

// Withdrawable applies the withdrawal policy to a ledger summary. Under
// reserve-pending, payouts not yet paid are held back from the available
// balance; under available-only they are not.
func Withdrawable(s ledger.Summary, policy string) decimal.Decimal {
	if policy == config.PolicyAvailableOnly {
		return s.AvailableBalance
	}
	return s.AvailableBalance.Sub(s.OutstandingPayouts)
}

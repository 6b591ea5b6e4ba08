// Package ledger stores vendor financial entries. Balances are always derived
// from entries; nothing else caches a running total.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
)

// EntryType classifies why money moved.
type EntryType string

const (
	TypeSale       EntryType = "SALE"
	TypeCommission EntryType = "COMMISSION"
	TypePayout     EntryType = "PAYOUT"
	TypeRefund     EntryType = "REFUND"
	TypeAdjustment EntryType = "ADJUSTMENT"
)

func (t EntryType) String() string { return string(t) }

// ParseEntryType rejects unknown types.
func ParseEntryType(raw string) (EntryType, error) {
	switch t := EntryType(raw); t {
	case TypeSale, TypeCommission, TypePayout, TypeRefund, TypeAdjustment:
		return t, nil
	}
	return "", apperr.Validation("unknown ledger entry type %q", raw)
}

// Direction is the sign of an entry from the vendor's point of view.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

func (d Direction) String() string { return string(d) }

// Status of an entry. Only PENDING entries can change.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) String() string { return string(s) }

var statusTransitions = map[Status][]Status{
	StatusPending: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Metadata links an entry to records outside the ledger.
type Metadata struct {
	PayoutRequestID string `json:"payout_request_id,omitempty"`
}

// Entry representa um lançamento no ledger do vendedor
type Entry struct {
	ID          string          `json:"id"`
	VendorID    string          `json:"vendorId"`
	Type        EntryType       `json:"type"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	OrderID     string          `json:"orderId,omitempty"`
	Metadata    Metadata        `json:"metadata"`
	Status      Status          `json:"status"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NewEntryParams carries the immutable part of an entry.
type NewEntryParams struct {
	VendorID    string
	Type        EntryType
	Direction   Direction
	Amount      decimal.Decimal
	OrderID     string
	Metadata    Metadata
	Status      Status
	Reference   string
	Description string
}

// NewEntry validates params and builds an entry.
func NewEntry(p NewEntryParams, now time.Time) (*Entry, error) {
	if p.VendorID == "" {
		return nil, apperr.Validation("ledger entry requires a vendor")
	}
	if p.Reference == "" {
		return nil, apperr.Validation("ledger entry requires a reference")
	}
	if _, err := ParseEntryType(string(p.Type)); err != nil {
		return nil, err
	}
	if p.Direction != Credit && p.Direction != Debit {
		return nil, apperr.Validation("unknown ledger direction %q", p.Direction)
	}
	if p.Amount.IsNegative() {
		return nil, apperr.Validation("ledger amount must not be negative")
	}
	if p.Status == "" {
		p.Status = StatusPending
	}

	return &Entry{
		ID:          uuid.New().String(),
		VendorID:    p.VendorID,
		Type:        p.Type,
		Direction:   p.Direction,
		Amount:      p.Amount.Round(2),
		OrderID:     p.OrderID,
		Metadata:    p.Metadata,
		Status:      p.Status,
		Reference:   p.Reference,
		Description: p.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Transition moves a PENDING entry to a terminal status.
func (e *Entry) Transition(next Status, now time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return apperr.InvalidTransition("ledger entry", e.Status, next)
	}
	e.Status = next
	e.UpdatedAt = now
	return nil
}

// SaleCreditReference is the idempotency key of a vendor's sale credit.
func SaleCreditReference(orderNumber, vendorID string) string {
	return fmt.Sprintf("ORDER:%s:VENDOR:%s:SALE_CREDIT", orderNumber, vendorID)
}

// CommissionDebitReference is the idempotency key of a vendor's commission debit.
func CommissionDebitReference(orderNumber, vendorID string) string {
	return fmt.Sprintf("ORDER:%s:VENDOR:%s:COMMISSION_DEBIT", orderNumber, vendorID)
}

// PayoutDebitReference is the idempotency key of a payout debit.
func PayoutDebitReference(payoutRequestID string) string {
	return fmt.Sprintf("PAYOUT:%s:DEBIT", payoutRequestID)
}

// Bucket is the sum of amounts sharing type, direction and status.
type Bucket struct {
	Type      EntryType
	Direction Direction
	Status    Status
	Amount    decimal.Decimal
}

// Summary is the vendor wallet view derived from the ledger.
type Summary struct {
	AvailableBalance   decimal.Decimal `json:"availableBalance"`
	PendingBalance     decimal.Decimal `json:"pendingBalance"`
	TotalPaidOut       decimal.Decimal `json:"totalPaidOut"`
	OutstandingPayouts decimal.Decimal `json:"outstandingPayouts"`
}

// Summarize folds buckets into balances:
//
//	available   = completed credits - completed debits
//	pending     = pending credits
//	paid out    = completed PAYOUT debits
//	outstanding = pending PAYOUT debits
func Summarize(buckets []Bucket) Summary {
	s := Summary{
		AvailableBalance:   decimal.Zero,
		PendingBalance:     decimal.Zero,
		TotalPaidOut:       decimal.Zero,
		OutstandingPayouts: decimal.Zero,
	}

	for _, b := range buckets {
		switch {
		case b.Status == StatusCompleted && b.Direction == Credit:
			s.AvailableBalance = s.AvailableBalance.Add(b.Amount)
		case b.Status == StatusCompleted && b.Direction == Debit:
			s.AvailableBalance = s.AvailableBalance.Sub(b.Amount)
			if b.Type == TypePayout {
				s.TotalPaidOut = s.TotalPaidOut.Add(b.Amount)
			}
		case b.Status == StatusPending && b.Direction == Credit:
			s.PendingBalance = s.PendingBalance.Add(b.Amount)
		case b.Status == StatusPending && b.Direction == Debit && b.Type == TypePayout:
			s.OutstandingPayouts = s.OutstandingPayouts.Add(b.Amount)
		}
	}
	return s
}

// Filter narrows a transaction listing.
type Filter struct {
	VendorID string
	Type     EntryType
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

// Offset is the number of rows skipped for the requested page.
func (f Filter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Page is one slice of a transaction listing.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
}

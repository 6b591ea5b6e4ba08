// Package orders tracks per-vendor line items inside a multi-vendor order and
// derives the whole-order status from them.
package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
)

// LineStatus is the state of one vendor's line item.
type LineStatus string

const (
	LinePending   LineStatus = "PENDING"
	LineConfirmed LineStatus = "CONFIRMED"
	LineShipped   LineStatus = "SHIPPED"
	LineDelivered LineStatus = "DELIVERED"
	LineCancelled LineStatus = "CANCELLED"
)

func (s LineStatus) String() string { return string(s) }

// lineTransitions is the complete item state machine. Cancelling after
// shipment belongs to returns, not to this table.
var lineTransitions = map[LineStatus][]LineStatus{
	LinePending:   {LineConfirmed, LineCancelled},
	LineConfirmed: {LineShipped, LineCancelled},
	LineShipped:   {LineDelivered},
}

// lineRank orders the fulfilment progression.
var lineRank = map[LineStatus]int{
	LinePending:   0,
	LineConfirmed: 1,
	LineShipped:   2,
	LineDelivered: 3,
}

// ParseLineStatus accepts the canonical upper-case names, case-insensitively.
func ParseLineStatus(raw string) (LineStatus, error) {
	s := LineStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case LinePending, LineConfirmed, LineShipped, LineDelivered, LineCancelled:
		return s, nil
	}
	return "", apperr.Validation("unknown line item status %q", raw)
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s LineStatus) CanTransitionTo(next LineStatus) bool {
	for _, allowed := range lineTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Cancellable reports whether the item can still be cancelled.
func (s LineStatus) Cancellable() bool {
	return s.CanTransitionTo(LineCancelled)
}

// AggregateStatus is the whole-order view derived from line items.
type AggregateStatus string

const (
	OrderPending            AggregateStatus = "PENDING"
	OrderConfirmed          AggregateStatus = "CONFIRMED"
	OrderPartiallyShipped   AggregateStatus = "PARTIALLY_SHIPPED"
	OrderShipped            AggregateStatus = "SHIPPED"
	OrderPartiallyDelivered AggregateStatus = "PARTIALLY_DELIVERED"
	OrderDelivered          AggregateStatus = "DELIVERED"
	OrderCancelled          AggregateStatus = "CANCELLED"
)

var legacyStatuses = map[AggregateStatus]string{
	OrderPending:            "pending",
	OrderConfirmed:          "confirmed",
	OrderPartiallyShipped:   "partially_shipped",
	OrderShipped:            "shipped",
	OrderPartiallyDelivered: "partially_delivered",
	OrderDelivered:          "delivered",
	OrderCancelled:          "cancelled",
}

// MapOrderStatusToLegacy translates the aggregate for single-field consumers.
func MapOrderStatusToLegacy(status AggregateStatus) string {
	if legacy, ok := legacyStatuses[status]; ok {
		return legacy
	}
	return strings.ToLower(string(status))
}

// ComputeOverallOrderStatus derives the aggregate from item statuses.
//
// All cancelled gives CANCELLED. Otherwise cancelled items are ignored and
// the rest decide: a single shared status wins; a spread whose furthest item
// is DELIVERED gives PARTIALLY_DELIVERED; a spread whose furthest item is
// SHIPPED gives PARTIALLY_SHIPPED; a PENDING/CONFIRMED spread stays PENDING.
// An order without items is PENDING.
func ComputeOverallOrderStatus(statuses []LineStatus) AggregateStatus {
	if len(statuses) == 0 {
		return OrderPending
	}

	minRank, maxRank := -1, -1
	for _, s := range statuses {
		if s == LineCancelled {
			continue
		}
		r := lineRank[s]
		if minRank == -1 || r < minRank {
			minRank = r
		}
		if r > maxRank {
			maxRank = r
		}
	}

	if maxRank == -1 {
		return OrderCancelled
	}

	if minRank == maxRank {
		switch maxRank {
		case lineRank[LineConfirmed]:
			return OrderConfirmed
		case lineRank[LineShipped]:
			return OrderShipped
		case lineRank[LineDelivered]:
			return OrderDelivered
		default:
			return OrderPending
		}
	}

	switch maxRank {
	case lineRank[LineDelivered]:
		return OrderPartiallyDelivered
	case lineRank[LineShipped]:
		return OrderPartiallyShipped
	default:
		return OrderPending
	}
}

// PaymentStatus is driven by the payment collaborator.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Item representa a parte de um vendedor dentro do pedido
type Item struct {
	ProductID      string          `json:"productId"`
	VendorID       string          `json:"vendorId"`
	SKU            string          `json:"sku,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Status         LineStatus      `json:"lineStatus"`
	TrackingNumber string          `json:"trackingNumber,omitempty"`
	CancelReason   string          `json:"cancelReason,omitempty"`

	// set when the payment is confirmed
	GrossAmount       *decimal.Decimal `json:"grossAmount,omitempty"`
	CommissionPercent *decimal.Decimal `json:"commissionPercent,omitempty"`
	CommissionAmount  *decimal.Decimal `json:"commissionAmount,omitempty"`
	NetAmount         *decimal.Decimal `json:"netAmount,omitempty"`
}

// ApplyCommission stores the computed commission breakdown.
func (i *Item) ApplyCommission(gross, percent, commission, net decimal.Decimal) {
	i.GrossAmount = &gross
	i.CommissionPercent = &percent
	i.CommissionAmount = &commission
	i.NetAmount = &net
}

// Order representa um pedido multi-vendedor
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	Items           []Item          `json:"items"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	AggregateStatus AggregateStatus `json:"aggregateStatus"`
	LegacyStatus    string          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// NewOrder builds a PENDING order with derived statuses already set.
func NewOrder(id, orderNumber string, items []Item, now time.Time) *Order {
	for i := range items {
		if items[i].Status == "" {
			items[i].Status = LinePending
		}
	}
	o := &Order{
		ID:            id,
		OrderNumber:   orderNumber,
		Items:         items,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.Recompute()
	return o
}

// Recompute refreshes the aggregate and legacy statuses. Every mutation of an
// item status calls it before the order is saved.
func (o *Order) Recompute() {
	statuses := make([]LineStatus, len(o.Items))
	for i, item := range o.Items {
		statuses[i] = item.Status
	}
	o.AggregateStatus = ComputeOverallOrderStatus(statuses)
	o.LegacyStatus = MapOrderStatusToLegacy(o.AggregateStatus)
}

// HasVendor reports whether vendorID sells anything in the order.
func (o *Order) HasVendor(vendorID string) bool {
	for _, item := range o.Items {
		if item.VendorID == vendorID {
			return true
		}
	}
	return false
}

// findItem returns the vendor's line for productID, preferring a line that
// is not cancelled.
func (o *Order) findItem(vendorID, productID string) (int, error) {
	found := -1
	for i, item := range o.Items {
		if item.VendorID != vendorID || item.ProductID != productID {
			continue
		}
		if item.Status != LineCancelled {
			return i, nil
		}
		if found == -1 {
			found = i
		}
	}
	if found == -1 {
		return -1, apperr.NotFound("order item", productID)
	}
	return found, nil
}

// TransitionItem moves the vendor's item to next and recomputes the order.
func (o *Order) TransitionItem(vendorID, productID string, next LineStatus, trackingNumber string, now time.Time) (*Item, error) {
	idx, err := o.findItem(vendorID, productID)
	if err != nil {
		return nil, err
	}
	item := &o.Items[idx]

	if next == LineCancelled {
		return nil, apperr.Validation("use the cancel operation to cancel an item")
	}
	if !item.Status.CanTransitionTo(next) {
		return nil, apperr.InvalidTransition("order item", item.Status, next)
	}
	if next == LineShipped && trackingNumber == "" && item.TrackingNumber == "" {
		return nil, apperr.Validation("tracking number is required to ship an item")
	}

	item.Status = next
	if trackingNumber != "" {
		item.TrackingNumber = trackingNumber
	}
	o.touch(now)
	return item, nil
}

// CancelItem cancels the vendor's item. Only PENDING and CONFIRMED items can
// be cancelled.
func (o *Order) CancelItem(vendorID, productID, reason string, now time.Time) (*Item, error) {
	idx, err := o.findItem(vendorID, productID)
	if err != nil {
		return nil, err
	}
	item := &o.Items[idx]

	if !item.Status.Cancellable() {
		return nil, apperr.InvalidTransition("order item", item.Status, LineCancelled)
	}

	item.Status = LineCancelled
	item.CancelReason = reason
	o.touch(now)
	return item, nil
}

// MarkPaid records the payment confirmation. Repeated calls are no-ops.
func (o *Order) MarkPaid(now time.Time) error {
	switch o.PaymentStatus {
	case PaymentPaid:
		return nil
	case PaymentRefunded:
		return apperr.Validation("order %s was refunded", o.OrderNumber)
	}
	o.PaymentStatus = PaymentPaid
	o.UpdatedAt = now
	return nil
}

func (o *Order) touch(now time.Time) {
	o.UpdatedAt = now
	o.Recompute()
}

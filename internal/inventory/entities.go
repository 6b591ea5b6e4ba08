// Package inventory reserves, consumes and releases product stock, and raises
// low-stock alerts when stock crosses a vendor's threshold.
package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
)

// ReservationStatus is the lifecycle of a stock hold.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationExpired  ReservationStatus = "EXPIRED"
	ReservationConsumed ReservationStatus = "CONSUMED"
)

func (s ReservationStatus) String() string { return string(s) }

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationActive: {ReservationExpired, ReservationConsumed},
}

// CanTransitionTo reports whether s may move to next.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Reservation representa uma reserva de estoque com prazo de validade.
// While ACTIVE its quantity is already subtracted from stock.
type Reservation struct {
	ID        string            `json:"id"`
	VendorID  string            `json:"vendorId"`
	ProductID string            `json:"productId"`
	SKU       string            `json:"sku,omitempty"`
	Qty       int               `json:"qty"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// NewReservation builds an ACTIVE reservation expiring ttl from now.
func NewReservation(vendorID, productID, sku string, qty int, ttl time.Duration, now time.Time) *Reservation {
	return &Reservation{
		ID:        uuid.New().String(),
		VendorID:  vendorID,
		ProductID: productID,
		SKU:       sku,
		Qty:       qty,
		ExpiresAt: now.Add(ttl),
		Status:    ReservationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Expired reports whether the hold is past its deadline at now.
func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Transition moves an ACTIVE reservation to a terminal status.
func (r *Reservation) Transition(next ReservationStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return apperr.InvalidTransition("reservation", r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// StockLevel is the stock counter of a product or one of its variants.
type StockLevel struct {
	ProductID      string
	SKU            string
	VendorID       string
	TrackInventory bool
	Stock          int
}

// AlertSubscription asks for a notification when stock drops below Threshold.
type AlertSubscription struct {
	ID        string    `json:"id"`
	VendorID  string    `json:"vendorId"`
	ProductID string    `json:"productId"`
	SKU       string    `json:"sku,omitempty"`
	Threshold int       `json:"threshold"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// LowStockAlert is emitted once per downward crossing of a threshold.
type LowStockAlert struct {
	SubscriptionID string    `json:"subscriptionId"`
	VendorID       string    `json:"vendorId"`
	ProductID      string    `json:"productId"`
	SKU            string    `json:"sku,omitempty"`
	Threshold      int       `json:"threshold"`
	PreviousStock  int       `json:"previousStock"`
	CurrentStock   int       `json:"currentStock"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// CrossedBelow is true only on the mutation that takes stock from at or
// above threshold to below it.
func CrossedBelow(previous, current, threshold int) bool {
	return previous >= threshold && current < threshold
}

// EvaluateAlerts returns one alert per active subscription crossed by the
// change from previous to current.
func EvaluateAlerts(subs []AlertSubscription, level StockLevel, previous int, now time.Time) []LowStockAlert {
	var alerts []LowStockAlert
	for _, sub := range subs {
		if !sub.Active || !CrossedBelow(previous, level.Stock, sub.Threshold) {
			continue
		}
		alerts = append(alerts, LowStockAlert{
			SubscriptionID: sub.ID,
			VendorID:       sub.VendorID,
			ProductID:      level.ProductID,
			SKU:            level.SKU,
			Threshold:      sub.Threshold,
			PreviousStock:  previous,
			CurrentStock:   level.Stock,
			OccurredAt:     now,
		})
	}
	return alerts
}

// RestoreRequest gives stock back to a product or variant.
type RestoreRequest struct {
	ProductID string
	SKU       string
	Qty       int
	Reason    string
}

// StockChange describes one applied stock mutation and the alerts it raised.
// Alerts are published after the surrounding transaction commits.
type StockChange struct {
	ProductID string
	SKU       string
	VendorID  string
	Before    int
	After     int
	Alerts    []LowStockAlert
}

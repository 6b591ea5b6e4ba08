// Package commission resolves the platform's commission rate per sale and
// posts the resulting vendor ledger entries when an order is paid.
package commission

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-ledger/internal/money"
)

// Settings is the singleton commission configuration. Percentages are in
// [0, 100].
type Settings struct {
	DefaultPercent float64            `json:"defaultPercent"`
	PerCategory    map[string]float64 `json:"perCategory"`
	PerVendor      map[string]float64 `json:"perVendor"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Resolver picks the commission rate for a vendor's sale.
type Resolver struct {
	fallback float64
}

// NewResolver cria um Resolver. fallback is used when the stored default is
// not a valid percentage.
func NewResolver(fallback float64) *Resolver {
	if !validPercent(fallback) {
		fallback = 10
	}
	return &Resolver{fallback: fallback}
}

// ResolvePercent returns the vendor override, else the category override,
// else the default. Invalid overrides are skipped.
func (r *Resolver) ResolvePercent(s Settings, vendorID, category string) float64 {
	if p, ok := s.PerVendor[vendorID]; ok && validPercent(p) {
		return p
	}
	if category != "" {
		if p, ok := s.PerCategory[category]; ok && validPercent(p) {
			return p
		}
	}
	if validPercent(s.DefaultPercent) {
		return s.DefaultPercent
	}
	return r.fallback
}

func validPercent(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0 && p <= 100
}

// Breakdown is the commission split of one line item.
type Breakdown struct {
	Gross      decimal.Decimal
	Percent    decimal.Decimal
	Commission decimal.Decimal
	Net        decimal.Decimal
}

// ComputeLine rounds at each step:
//
//	gross      = round2(unitPrice * qty)
//	commission = round2(gross * percent / 100)
//	net        = round2(gross - commission)
func ComputeLine(unitPrice decimal.Decimal, qty int, percent float64) Breakdown {
	gross := money.Round2(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
	pct := decimal.NewFromFloat(percent)
	commission := money.PercentOf(gross, pct)
	return Breakdown{
		Gross:      gross,
		Percent:    pct,
		Commission: commission,
		Net:        money.Round2(gross.Sub(commission)),
	}
}

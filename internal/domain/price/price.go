// Package price resolves the pre-promotion unit price of a line item from
// the catalog base price, quantity tier breakpoints, and customer-specific
// price list overrides.
package price

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Source records which price won the resolution for a line item.
type Source string

const (
	SourceBase     Source = "base"
	SourceTier     Source = "tier"
	SourceCustomer Source = "customer"

	// SourcePromotion marks a line granted by a promotion at zero price
	// rather than resolved from the catalog.
	SourcePromotion Source = "promotion"
)

// TierPrice is a quantity-break price for a product or variant. Breakpoints
// for one product/variant are strictly increasing in QuantityMin.
type TierPrice struct {
	ProductID   string
	VariantID   string
	QuantityMin int
	UnitPrice   decimal.Decimal
}

// CustomerPrice is a price-list override keyed by customer or customer group.
type CustomerPrice struct {
	CustomerID string
	GroupID    string
	ProductID  string
	VariantID  string
	UnitPrice  decimal.Decimal
}

// Catalog provides lookup of price overrides. Implementations return
// (nil, nil) when no override exists.
type Catalog interface {
	// FindTierPrice returns the applicable tier for the requested quantity:
	// the greatest breakpoint not exceeding it.
	FindTierPrice(ctx context.Context, productID, variantID string, quantity int) (*TierPrice, error)
	// FindCustomerPrice returns the override for the customer, falling back
	// to the customer's groups.
	FindCustomerPrice(ctx context.Context, customerID string, groupIDs []string, productID, variantID string) (*CustomerPrice, error)
}

// SelectTier picks the applicable tier from a breakpoint list: the greatest
// QuantityMin not exceeding quantity. It returns nil when no breakpoint
// applies.
func SelectTier(tiers []TierPrice, quantity int) *TierPrice {
	sorted := make([]TierPrice, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].QuantityMin < sorted[j].QuantityMin
	})

	var best *TierPrice
	for i := range sorted {
		if sorted[i].QuantityMin > quantity {
			break
		}
		best = &sorted[i]
	}
	return best
}

// Resolve picks the unit price for a line item. Overrides only ever lower
// the price; when both a tier and a customer price apply below base, the
// lower wins and ties go to the customer price as the more specific source.
func Resolve(base decimal.Decimal, tier *TierPrice, customer *CustomerPrice) (decimal.Decimal, Source) {
	unit, source := base, SourceBase

	if tier != nil && tier.UnitPrice.LessThan(unit) {
		unit, source = tier.UnitPrice, SourceTier
	}
	if customer != nil && customer.UnitPrice.LessThanOrEqual(unit) && customer.UnitPrice.LessThan(base) {
		unit, source = customer.UnitPrice, SourceCustomer
	}
	return unit, source
}

// Package pricing orchestrates price resolution for a cart: catalog base
// prices, tier and customer price overrides, promotion and coupon discounts
// under priority and exclusivity rules, and usage reservation at the end.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercefull/platform-sub011/internal/domain/coupon"
	"github.com/commercefull/platform-sub011/internal/domain/discount"
	"github.com/commercefull/platform-sub011/internal/domain/price"
	"github.com/commercefull/platform-sub011/internal/domain/promotion"
	"github.com/commercefull/platform-sub011/internal/domain/usage"
)

// Item is one cart line entering the pipeline.
type Item struct {
	ID          string
	ProductID   string
	VariantID   string
	CategoryIDs []string
	BasePrice   decimal.Decimal
	Quantity    int
}

// Context is the ephemeral input of one price evaluation. It is owned by a
// single call and never shared across concurrent requests.
type Context struct {
	MerchantID string

	CustomerID         string
	CustomerGroups     []string
	CustomerOrderCount int

	Items []Item

	ShippingAmount  decimal.Decimal
	ShippingMethod  string
	ShippingCountry string
	PaymentMethod   string

	CouponCodes []string

	// Now pins the evaluation timestamp; zero means the wall clock.
	Now time.Time
}

// CandidateKind distinguishes promotions from coupons in the result.
type CandidateKind string

const (
	KindPromotion CandidateKind = "promotion"
	KindCoupon    CandidateKind = "coupon"
)

// Pipeline-level rejection reasons; domain-level reasons pass through from
// the promotion resolver and coupon validator.
const (
	ReasonExclusivityConflict = "exclusivity_conflict"
	ReasonUsageExceeded       = "usage_exceeded"
)

// Applied records one promotion or coupon that contributed to the final
// price.
type Applied struct {
	Kind   CandidateKind
	ID     string
	Code   string
	Name   string
	Amount decimal.Decimal
}

// Rejected records a candidate that was excluded, with the reason, so
// support staff can explain the final price.
type Rejected struct {
	Kind   CandidateKind
	ID     string
	Code   string
	Reason string
}

// Line is the priced outcome of one cart line.
type Line struct {
	ItemID    string
	ProductID string
	VariantID string
	Quantity  int

	// BaseUnitPrice is the catalog price; UnitPrice is after the tier or
	// customer override recorded in PriceSource.
	BaseUnitPrice decimal.Decimal
	UnitPrice     decimal.Decimal
	PriceSource   price.Source

	// OriginalTotal is UnitPrice * Quantity; FinalTotal is after discounts,
	// clamped at zero.
	OriginalTotal decimal.Decimal
	FinalTotal    decimal.Decimal
}

// Result is the auditable outcome of one price evaluation.
type Result struct {
	Lines []Line

	// Subtotal is the sum of line totals after price overrides, before any
	// promotion or coupon discount.
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal

	Shipping     decimal.Decimal
	FreeShipping bool

	Total decimal.Decimal

	Applied  []Applied
	Rejected []Rejected

	FreeItems     []discount.FreeItem
	LoyaltyPoints int64

	// Reservations holds the usage slots acquired for the applied
	// candidates. The caller commits them on order placement or releases
	// them on abandonment; unhandled reservations expire on their own.
	Reservations []*usage.Reservation
}

// promotionFacts projects the context into the promotion package's fact
// snapshot.
func promotionFacts(ctx *Context, subtotal decimal.Decimal, now time.Time) promotion.Facts {
	return promotion.Facts{
		Subtotal:        subtotal,
		TotalQuantity:   totalQuantity(ctx.Items),
		ProductIDs:      productIDs(ctx.Items),
		CategoryIDs:     categoryIDs(ctx.Items),
		CustomerGroups:  ctx.CustomerGroups,
		OrderCount:      ctx.CustomerOrderCount,
		ShippingMethod:  ctx.ShippingMethod,
		PaymentMethod:   ctx.PaymentMethod,
		ShippingCountry: ctx.ShippingCountry,
		CouponCodes:     ctx.CouponCodes,
		Now:             now,
	}
}

// couponFacts projects the context into the coupon package's fact snapshot.
func couponFacts(ctx *Context, subtotal decimal.Decimal, now time.Time) coupon.Facts {
	return coupon.Facts{
		CustomerID:     ctx.CustomerID,
		Subtotal:       subtotal,
		TotalQuantity:  totalQuantity(ctx.Items),
		ProductIDs:     productIDs(ctx.Items),
		CategoryIDs:    categoryIDs(ctx.Items),
		PaymentMethod:  ctx.PaymentMethod,
		ShippingMethod: ctx.ShippingMethod,
		Now:            now,
	}
}

func totalQuantity(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.Quantity
	}
	return total
}

func productIDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

func categoryIDs(items []Item) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, it := range items {
		for _, c := range it.CategoryIDs {
			if !seen[c] {
				seen[c] = true
				ids = append(ids, c)
			}
		}
	}
	return ids
}

// Package discount computes monetary discounts for promotion and coupon
// actions. It is purely computational: callers hand it the action, the
// current (possibly already discounted) line items, and get back the amount
// and the set of lines it touched.
package discount

import (
	"github.com/shopspring/decimal"
)

// ActionType enumerates the supported discount action strategies.
type ActionType string

const (
	// ActionPercentage applies a percentage-based discount to the target subtotal.
	ActionPercentage ActionType = "percentage_discount"
	// ActionFixedAmount applies a fixed monetary discount capped at the target subtotal.
	ActionFixedAmount ActionType = "fixed_amount_discount"
	// ActionFixedPrice replaces the target's unit price when lower than the current price.
	ActionFixedPrice ActionType = "fixed_price"
	// ActionBuyXGetYFree makes the cheapest Y units free per group of X+Y units.
	ActionBuyXGetYFree ActionType = "buy_x_get_y_free"
	// ActionBuyXGetYDiscount discounts the cheapest Y units per group of X+Y units.
	ActionBuyXGetYDiscount ActionType = "buy_x_get_y_discount"
	// ActionFreeShipping zeroes the shipping component of the cart.
	ActionFreeShipping ActionType = "free_shipping"
	// ActionFreeItem adds a zero-price instance of a specified product.
	ActionFreeItem ActionType = "free_item"
	// ActionAdditionalPoints grants loyalty points without a monetary effect.
	ActionAdditionalPoints ActionType = "additional_points"
)

// TargetType enumerates what an action applies to.
type TargetType string

const (
	// TargetCart applies the action across every line item.
	TargetCart TargetType = "cart"
	// TargetProduct applies the action to lines whose product is in TargetIDs.
	TargetProduct TargetType = "product"
	// TargetCategory applies the action to lines sharing a category with TargetIDs.
	TargetCategory TargetType = "category"
)

// Action defines a single discount behaviour attached to a promotion or
// derived from a standalone coupon. A promotion may carry several actions,
// applied in SortOrder.
type Action struct {
	Type  ActionType
	Value decimal.Decimal

	// BuyQuantity and GetQuantity configure the buy-X-get-Y actions.
	BuyQuantity int
	GetQuantity int

	// ProductID and MaxQuantity configure the free_item action. MaxQuantity
	// bounds the promotional quantity; zero means one unit.
	ProductID   string
	MaxQuantity int

	// Points configures the additional_points action.
	Points int64

	TargetType TargetType
	TargetIDs  []string
	SortOrder  int
}

// Item is a line item as seen by the calculator. UnitPrice is the running
// unit price after any earlier adjustments, so sequential stacking acts on
// already-discounted values.
type Item struct {
	ID          string
	ProductID   string
	CategoryIDs []string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// FreeItem is a zero-price line added by a free_item action.
type FreeItem struct {
	ProductID string
	Quantity  int
}

// Result describes the outcome of applying one action.
type Result struct {
	// Amount is the total monetary discount, rounded half-even to cents.
	Amount decimal.Decimal
	// AffectedItemIDs lists the line items the action touched, in input order.
	AffectedItemIDs []string
	// ItemAmounts breaks Amount down per affected line item.
	ItemAmounts map[string]decimal.Decimal
	// FreeShipping is set by the free_shipping action.
	FreeShipping bool
	// FreeItems holds zero-price lines added by the free_item action.
	FreeItems []FreeItem
	// Points holds loyalty points granted by the additional_points action.
	Points int64
}

// Subtotal returns the sum of UnitPrice * Quantity across the given items.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

// TotalQuantity returns the sum of quantities across the given items.
func TotalQuantity(items []Item) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// Targets filters items down to those the action applies to.
func (a Action) Targets(items []Item) []Item {
	switch a.TargetType {
	case TargetProduct:
		return filterItems(items, func(it Item) bool {
			return containsString(a.TargetIDs, it.ProductID)
		})
	case TargetCategory:
		return filterItems(items, func(it Item) bool {
			for _, c := range it.CategoryIDs {
				if containsString(a.TargetIDs, c) {
					return true
				}
			}
			return false
		})
	default: // TargetCart and unset target both mean the whole cart.
		return items
	}
}

func filterItems(items []Item, keep func(Item) bool) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

package discount

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// InvalidActionError reports a misconfigured action: an unknown type or
// parameters that make the action meaningless. It is a configuration error
// and is never swallowed as a zero discount.
type InvalidActionError struct {
	Type   ActionType
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %s: %s", e.Type, e.Reason)
}

// Apply calculates the discount for the given action against the current
// line items. maxDiscount caps the computed amount when positive; pass zero
// for an uncapped action. Monetary amounts are rounded half-even to cents.
//
// An unknown action type is a configuration error, never silently ignored.
func Apply(action Action, items []Item, maxDiscount decimal.Decimal) (Result, error) {
	targets := action.Targets(items)

	switch action.Type {
	case ActionPercentage:
		return applyPercentage(action, targets, maxDiscount), nil
	case ActionFixedAmount:
		return applyFixedAmount(action, targets, maxDiscount), nil
	case ActionFixedPrice:
		return applyFixedPrice(action, targets, maxDiscount), nil
	case ActionBuyXGetYFree:
		return applyBuyXGetY(action, targets, hundred, maxDiscount)
	case ActionBuyXGetYDiscount:
		return applyBuyXGetY(action, targets, action.Value, maxDiscount)
	case ActionFreeShipping:
		return Result{Amount: decimal.Zero, FreeShipping: true}, nil
	case ActionFreeItem:
		return applyFreeItem(action), nil
	case ActionAdditionalPoints:
		return Result{Amount: decimal.Zero, Points: action.Points}, nil
	default:
		return Result{}, &InvalidActionError{Type: action.Type, Reason: "unsupported action type"}
	}
}

func applyPercentage(action Action, targets []Item, maxDiscount decimal.Decimal) Result {
	subtotal := Subtotal(targets)
	amount := subtotal.Mul(action.Value).Div(hundred)
	amount = capAmount(amount, subtotal, maxDiscount)

	return distribute(amount, targets)
}

func applyFixedAmount(action Action, targets []Item, maxDiscount decimal.Decimal) Result {
	subtotal := Subtotal(targets)
	amount := capAmount(action.Value, subtotal, maxDiscount)

	return distribute(amount, targets)
}

// applyFixedPrice lowers each target line to the action's unit price, up to
// the maxDiscount budget. Lines already at or below that price are left
// untouched, so the action can never increase a price.
func applyFixedPrice(action Action, targets []Item, maxDiscount decimal.Decimal) Result {
	budget := newBudget(maxDiscount)
	res := Result{Amount: decimal.Zero, ItemAmounts: make(map[string]decimal.Decimal)}
	for _, it := range targets {
		if action.Value.GreaterThanOrEqual(it.UnitPrice) {
			continue
		}
		saved := it.UnitPrice.Sub(action.Value).
			Mul(decimal.NewFromInt(int64(it.Quantity))).
			RoundBank(2)
		saved = budget.take(saved)
		if budget.exhausted() && saved.IsZero() {
			break
		}
		if saved.IsZero() {
			continue
		}
		res.AffectedItemIDs = append(res.AffectedItemIDs, it.ID)
		res.ItemAmounts[it.ID] = saved
		res.Amount = res.Amount.Add(saved)
	}
	return res
}

// unit is a single physical unit of a target line, used to pick the cheapest
// units for buy-X-get-Y actions.
type unit struct {
	itemID string
	price  decimal.Decimal
	index  int
}

// applyBuyXGetY partitions the target quantity into groups of BuyQuantity +
// GetQuantity units and discounts the GetQuantity cheapest units per complete
// group by pct percent, up to the maxDiscount budget. A remainder smaller
// than a full group is unaffected.
func applyBuyXGetY(action Action, targets []Item, pct, maxDiscount decimal.Decimal) (Result, error) {
	if action.BuyQuantity <= 0 || action.GetQuantity <= 0 {
		return Result{}, &InvalidActionError{
			Type:   action.Type,
			Reason: fmt.Sprintf("requires positive buy (%d) and get (%d) quantities", action.BuyQuantity, action.GetQuantity),
		}
	}

	groupSize := action.BuyQuantity + action.GetQuantity
	totalQty := TotalQuantity(targets)
	groups := totalQty / groupSize
	if groups == 0 {
		return Result{Amount: decimal.Zero}, nil
	}
	discounted := groups * action.GetQuantity

	units := make([]unit, 0, totalQty)
	for i, it := range targets {
		for range it.Quantity {
			units = append(units, unit{itemID: it.ID, price: it.UnitPrice, index: i})
		}
	}
	// Cheapest units receive the discount; input order breaks price ties so
	// the result is deterministic.
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].price.LessThan(units[j].price)
	})

	budget := newBudget(maxDiscount)
	res := Result{Amount: decimal.Zero, ItemAmounts: make(map[string]decimal.Decimal)}
	for _, u := range units[:discounted] {
		saved := u.price.Mul(pct).Div(hundred)
		saved = budget.take(floorAtZero(saved).RoundBank(2))
		if budget.exhausted() && saved.IsZero() {
			break
		}
		if saved.IsZero() {
			continue
		}
		if _, seen := res.ItemAmounts[u.itemID]; !seen {
			res.AffectedItemIDs = append(res.AffectedItemIDs, u.itemID)
			res.ItemAmounts[u.itemID] = decimal.Zero
		}
		res.ItemAmounts[u.itemID] = res.ItemAmounts[u.itemID].Add(saved)
		res.Amount = res.Amount.Add(saved)
	}
	return res, nil
}

func applyFreeItem(action Action) Result {
	qty := action.MaxQuantity
	if qty <= 0 {
		qty = 1
	}
	return Result{
		Amount:    decimal.Zero,
		FreeItems: []FreeItem{{ProductID: action.ProductID, Quantity: qty}},
	}
}

// budget tracks the remaining maxDiscount across the units or lines of one
// action. A non-positive limit means uncapped.
type budget struct {
	capped    bool
	remaining decimal.Decimal
}

func newBudget(maxDiscount decimal.Decimal) *budget {
	return &budget{capped: maxDiscount.IsPositive(), remaining: maxDiscount}
}

func (b *budget) exhausted() bool {
	return b.capped && !b.remaining.IsPositive()
}

// take consumes up to amount from the budget and returns what was granted.
func (b *budget) take(amount decimal.Decimal) decimal.Decimal {
	if !b.capped {
		return amount
	}
	granted := decimal.Min(amount, b.remaining)
	granted = floorAtZero(granted)
	b.remaining = b.remaining.Sub(granted)
	return granted
}

// capAmount clamps amount into [0, subtotal] and, when maxDiscount is
// positive, additionally caps it at maxDiscount. The result is rounded
// half-even to cents.
func capAmount(amount, subtotal, maxDiscount decimal.Decimal) decimal.Decimal {
	amount = decimal.Min(amount, subtotal)
	if maxDiscount.IsPositive() {
		amount = decimal.Min(amount, maxDiscount)
	}
	return floorAtZero(amount).RoundBank(2)
}

// distribute splits amount across the target lines pro rata by line subtotal,
// assigning any rounding remainder to the last line so the parts always sum
// to the whole.
func distribute(amount decimal.Decimal, targets []Item) Result {
	res := Result{Amount: amount, ItemAmounts: make(map[string]decimal.Decimal)}
	if amount.IsZero() || len(targets) == 0 {
		res.Amount = decimal.Zero
		return res
	}

	subtotal := Subtotal(targets)
	if subtotal.IsZero() {
		res.Amount = decimal.Zero
		return res
	}

	allocated := decimal.Zero
	for i, it := range targets {
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		var share decimal.Decimal
		if i == len(targets)-1 {
			share = amount.Sub(allocated)
		} else {
			share = amount.Mul(line).Div(subtotal).RoundBank(2)
		}
		allocated = allocated.Add(share)

		res.AffectedItemIDs = append(res.AffectedItemIDs, it.ID)
		res.ItemAmounts[it.ID] = share
	}
	return res
}

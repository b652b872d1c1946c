package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestApply_Percentage(t *testing.T) {
	tests := []struct {
		name        string
		action      Action
		items       []Item
		maxDiscount decimal.Decimal
		wantAmount  decimal.Decimal
	}{
		{
			name:       "10 percent off 40 dollar cart",
			action:     Action{Type: ActionPercentage, Value: d("10"), TargetType: TargetCart},
			items:      []Item{{ID: "l1", UnitPrice: d("40"), Quantity: 1}},
			wantAmount: d("4"),
		},
		{
			name:        "10 percent off 40 capped at 3",
			action:      Action{Type: ActionPercentage, Value: d("10"), TargetType: TargetCart},
			items:       []Item{{ID: "l1", UnitPrice: d("40"), Quantity: 1}},
			maxDiscount: d("3"),
			wantAmount:  d("3"),
		},
		{
			name:       "100 percent equals subtotal",
			action:     Action{Type: ActionPercentage, Value: d("100"), TargetType: TargetCart},
			items:      []Item{{ID: "l1", UnitPrice: d("12.50"), Quantity: 2}},
			wantAmount: d("25"),
		},
		{
			name:   "half-even rounding on split cents",
			action: Action{Type: ActionPercentage, Value: d("10"), TargetType: TargetCart},
			// 10% of 10.05 = 1.005 -> rounds half-even to 1.00
			items:      []Item{{ID: "l1", UnitPrice: d("10.05"), Quantity: 1}},
			wantAmount: d("1"),
		},
		{
			name:   "product target ignores other lines",
			action: Action{Type: ActionPercentage, Value: d("50"), TargetType: TargetProduct, TargetIDs: []string{"p1"}},
			items: []Item{
				{ID: "l1", ProductID: "p1", UnitPrice: d("20"), Quantity: 1},
				{ID: "l2", ProductID: "p2", UnitPrice: d("100"), Quantity: 1},
			},
			wantAmount: d("10"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Apply(tt.action, tt.items, tt.maxDiscount)
			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(res.Amount),
				"want %s got %s", tt.wantAmount, res.Amount)
		})
	}
}

func TestApply_FixedAmount(t *testing.T) {
	items := []Item{{ID: "l1", UnitPrice: d("15"), Quantity: 1}}

	res, err := Apply(Action{Type: ActionFixedAmount, Value: d("20"), TargetType: TargetCart}, items, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, d("15").Equal(res.Amount), "fixed discount must be capped at subtotal, got %s", res.Amount)

	res, err = Apply(Action{Type: ActionFixedAmount, Value: d("5"), TargetType: TargetCart}, items, d("2"))
	require.NoError(t, err)
	assert.True(t, d("2").Equal(res.Amount), "fixed discount must honor max discount, got %s", res.Amount)
}

func TestApply_FixedAmount_Distribution(t *testing.T) {
	items := []Item{
		{ID: "l1", UnitPrice: d("30"), Quantity: 1},
		{ID: "l2", UnitPrice: d("70"), Quantity: 1},
	}

	res, err := Apply(Action{Type: ActionFixedAmount, Value: d("10"), TargetType: TargetCart}, items, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2"}, res.AffectedItemIDs)
	assert.True(t, d("3").Equal(res.ItemAmounts["l1"]))
	assert.True(t, d("7").Equal(res.ItemAmounts["l2"]))

	sum := res.ItemAmounts["l1"].Add(res.ItemAmounts["l2"])
	assert.True(t, res.Amount.Equal(sum), "per-item amounts must sum to total")
}

func TestApply_FixedPrice(t *testing.T) {
	items := []Item{
		{ID: "l1", ProductID: "p1", UnitPrice: d("10"), Quantity: 2},
		{ID: "l2", ProductID: "p2", UnitPrice: d("4"), Quantity: 1},
	}
	action := Action{Type: ActionFixedPrice, Value: d("6"), TargetType: TargetCart}

	res, err := Apply(action, items, decimal.Zero)
	require.NoError(t, err)
	// l1 drops from 10 to 6 on two units; l2 is already below 6 and must not change.
	assert.True(t, d("8").Equal(res.Amount), "got %s", res.Amount)
	assert.Equal(t, []string{"l1"}, res.AffectedItemIDs)
}

func TestApply_BuyXGetYFree(t *testing.T) {
	// Buy 1 get 1 free with three units priced {10, 8, 6}: one complete group
	// of two units, so exactly the cheapest unit (6) is free.
	items := []Item{
		{ID: "l1", UnitPrice: d("10"), Quantity: 1},
		{ID: "l2", UnitPrice: d("8"), Quantity: 1},
		{ID: "l3", UnitPrice: d("6"), Quantity: 1},
	}
	action := Action{Type: ActionBuyXGetYFree, BuyQuantity: 1, GetQuantity: 1, TargetType: TargetCart}

	res, err := Apply(action, items, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, d("6").Equal(res.Amount), "cheapest unit must be free, got %s", res.Amount)
	assert.Equal(t, []string{"l3"}, res.AffectedItemIDs)
}

func TestApply_BuyXGetYFree_Remainder(t *testing.T) {
	// Buy 2 get 1: five units form one complete group of three; the remaining
	// two units are unaffected.
	items := []Item{{ID: "l1", UnitPrice: d("5"), Quantity: 5}}
	action := Action{Type: ActionBuyXGetYFree, BuyQuantity: 2, GetQuantity: 1, TargetType: TargetCart}

	res, err := Apply(action, items, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, d("5").Equal(res.Amount), "got %s", res.Amount)
}

func TestApply_BuyXGetYDiscount(t *testing.T) {
	// Buy 1 get 1 at 50% off: cheapest of two units is half price.
	items := []Item{
		{ID: "l1", UnitPrice: d("10"), Quantity: 1},
		{ID: "l2", UnitPrice: d("8"), Quantity: 1},
	}
	action := Action{
		Type: ActionBuyXGetYDiscount, Value: d("50"),
		BuyQuantity: 1, GetQuantity: 1, TargetType: TargetCart,
	}

	res, err := Apply(action, items, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, d("4").Equal(res.Amount), "got %s", res.Amount)
}

func TestApply_BuyXGetYFree_HonorsMaxDiscount(t *testing.T) {
	// Buy 1 get 1 free on two $10 units grants $10, but the cap keeps only $5.
	items := []Item{{ID: "l1", UnitPrice: d("10"), Quantity: 2}}
	action := Action{Type: ActionBuyXGetYFree, BuyQuantity: 1, GetQuantity: 1, TargetType: TargetCart}

	res, err := Apply(action, items, d("5"))
	require.NoError(t, err)
	assert.True(t, d("5").Equal(res.Amount), "got %s", res.Amount)
	assert.True(t, d("5").Equal(res.ItemAmounts["l1"]), "per-item amounts must follow the cap")
}

func TestApply_FixedPrice_HonorsMaxDiscount(t *testing.T) {
	// Fixing two $10 lines to $6 saves $8 uncapped; the cap grants the first
	// line its full $4 and leaves only $1 for the second.
	items := []Item{
		{ID: "l1", ProductID: "p1", UnitPrice: d("10"), Quantity: 1},
		{ID: "l2", ProductID: "p2", UnitPrice: d("10"), Quantity: 1},
	}
	action := Action{Type: ActionFixedPrice, Value: d("6"), TargetType: TargetCart}

	res, err := Apply(action, items, d("5"))
	require.NoError(t, err)
	assert.True(t, d("5").Equal(res.Amount), "got %s", res.Amount)
	assert.True(t, d("4").Equal(res.ItemAmounts["l1"]))
	assert.True(t, d("1").Equal(res.ItemAmounts["l2"]))
}

func TestApply_BuyXGetY_InvalidQuantities(t *testing.T) {
	_, err := Apply(Action{Type: ActionBuyXGetYFree, TargetType: TargetCart}, []Item{{ID: "l1", UnitPrice: d("5"), Quantity: 2}}, decimal.Zero)
	require.Error(t, err)
}

func TestApply_FreeShipping(t *testing.T) {
	res, err := Apply(Action{Type: ActionFreeShipping}, nil, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.FreeShipping)
	assert.True(t, res.Amount.IsZero())
}

func TestApply_FreeItem(t *testing.T) {
	res, err := Apply(Action{Type: ActionFreeItem, ProductID: "p9", MaxQuantity: 2}, nil, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, res.FreeItems, 1)
	assert.Equal(t, FreeItem{ProductID: "p9", Quantity: 2}, res.FreeItems[0])

	res, err = Apply(Action{Type: ActionFreeItem, ProductID: "p9"}, nil, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FreeItems[0].Quantity, "unset promotional quantity defaults to one unit")
}

func TestApply_AdditionalPoints(t *testing.T) {
	res, err := Apply(Action{Type: ActionAdditionalPoints, Points: 150}, nil, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Points)
	assert.True(t, res.Amount.IsZero())
}

func TestApply_UnknownType(t *testing.T) {
	_, err := Apply(Action{Type: "mystery"}, nil, decimal.Zero)
	var actionErr *InvalidActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, ActionType("mystery"), actionErr.Type)
}

func TestTargets_Category(t *testing.T) {
	action := Action{TargetType: TargetCategory, TargetIDs: []string{"snacks"}}
	items := []Item{
		{ID: "l1", CategoryIDs: []string{"snacks", "new"}},
		{ID: "l2", CategoryIDs: []string{"drinks"}},
	}

	got := action.Targets(items)
	require.Len(t, got, 1)
	assert.Equal(t, "l1", got[0].ID)
}

package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupons map[string]*Coupon
	err     error
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.coupons[code], nil
}

type mockRedemptions struct {
	prior map[string]bool
	used  map[string]int
	err   error
}

func (m *mockRedemptions) HasPriorRedemption(_ context.Context, entityID, customerID string) (bool, error) {
	return m.prior[entityID+"/"+customerID], m.err
}

func (m *mockRedemptions) CustomerUsage(_ context.Context, entityID, customerID string) (int, error) {
	return m.used[entityID+"/"+customerID], m.err
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	valid := &Coupon{
		ID: "c1", Code: "SAVE10", Active: true,
		Type: TypePercentage, Value: d("10"),
	}

	tests := []struct {
		name            string
		coupon          *Coupon
		code            string
		facts           Facts
		redemptions     *mockRedemptions
		wantKind        ErrorKind
		wantRestriction string
	}{
		{
			name:   "valid coupon passes",
			coupon: valid,
			code:   "SAVE10",
		},
		{
			name:   "code is normalized before lookup",
			coupon: valid,
			code:   "  save10 ",
		},
		{
			name:     "unknown code",
			coupon:   valid,
			code:     "BOGUS",
			wantKind: KindNotFound,
		},
		{
			name: "inactive coupon",
			coupon: &Coupon{
				ID: "c2", Code: "SAVE10", Active: false,
			},
			code:     "SAVE10",
			wantKind: KindInactive,
		},
		{
			name: "not yet redeemable",
			coupon: &Coupon{
				ID: "c3", Code: "SAVE10", Active: true, StartDate: &future,
			},
			code:     "SAVE10",
			wantKind: KindExpired,
		},
		{
			name: "past end date",
			coupon: &Coupon{
				ID: "c4", Code: "SAVE10", Active: true, EndDate: &past,
			},
			code:     "SAVE10",
			wantKind: KindExpired,
		},
		{
			name: "global usage cap reached",
			coupon: &Coupon{
				ID: "c5", Code: "SAVE10", Active: true, MaxUsage: 100, UsageCount: 100,
			},
			code:     "SAVE10",
			wantKind: KindUsageExceeded,
		},
		{
			name: "per-customer cap reached",
			coupon: &Coupon{
				ID: "c6", Code: "SAVE10", Active: true, MaxUsagePerCustomer: 2,
			},
			code:  "SAVE10",
			facts: Facts{CustomerID: "cust-1"},
			redemptions: &mockRedemptions{
				used: map[string]int{"coupon:SAVE10/cust-1": 2},
			},
			wantKind: KindPerCustomerUsageExceeded,
		},
		{
			name: "one-time-use with prior redemption",
			coupon: &Coupon{
				ID: "c7", Code: "SAVE10", Active: true, OneTimeUse: true,
			},
			code:  "SAVE10",
			facts: Facts{CustomerID: "cust-1"},
			redemptions: &mockRedemptions{
				prior: map[string]bool{"coupon:SAVE10/cust-1": true},
			},
			wantKind: KindPerCustomerUsageExceeded,
		},
		{
			name: "minimum order not met",
			coupon: &Coupon{
				ID: "c8", Code: "SAVE10", Active: true, MinOrderAmount: d("50"),
			},
			code:     "SAVE10",
			facts:    Facts{Subtotal: d("49.99")},
			wantKind: KindMinOrderNotMet,
		},
		{
			name: "denied product in cart",
			coupon: &Coupon{
				ID: "c9", Code: "SAVE10", Active: true,
				Restrictions: Restrictions{DeniedProducts: []string{"p2"}},
			},
			code:            "SAVE10",
			facts:           Facts{ProductIDs: []string{"p1", "p2"}},
			wantKind:        KindRestrictionViolated,
			wantRestriction: "denied_products",
		},
		{
			name: "allowed products absent from cart",
			coupon: &Coupon{
				ID: "c10", Code: "SAVE10", Active: true,
				Restrictions: Restrictions{AllowedProducts: []string{"p9"}},
			},
			code:            "SAVE10",
			facts:           Facts{ProductIDs: []string{"p1"}},
			wantKind:        KindRestrictionViolated,
			wantRestriction: "allowed_products",
		},
		{
			name: "minimum quantity restriction",
			coupon: &Coupon{
				ID: "c11", Code: "SAVE10", Active: true,
				Restrictions: Restrictions{MinQuantity: 3},
			},
			code:            "SAVE10",
			facts:           Facts{TotalQuantity: 2},
			wantKind:        KindRestrictionViolated,
			wantRestriction: "min_quantity",
		},
		{
			name: "payment method restriction",
			coupon: &Coupon{
				ID: "c12", Code: "SAVE10", Active: true,
				Restrictions: Restrictions{PaymentMethods: []string{"card"}},
			},
			code:            "SAVE10",
			facts:           Facts{PaymentMethod: "invoice"},
			wantKind:        KindRestrictionViolated,
			wantRestriction: "payment_method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCouponRepo{coupons: map[string]*Coupon{tt.coupon.Code: tt.coupon}}
			redemptions := tt.redemptions
			if redemptions == nil {
				redemptions = &mockRedemptions{}
			}
			v := NewValidator(repo, redemptions)
			v.now = func() time.Time { return fixedNow }

			facts := tt.facts
			got, err := v.Validate(context.Background(), tt.code, facts)

			if tt.wantKind == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.coupon.ID, got.ID)
				return
			}

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantKind, ve.Kind)
			assert.Equal(t, tt.wantRestriction, ve.Restriction)
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}
}

func TestValidator_Validate_CollaboratorError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("catalog down")}
	v := NewValidator(repo, &mockRedemptions{})

	_, err := v.Validate(context.Background(), "SAVE10", Facts{})
	require.Error(t, err)
	assert.Empty(t, KindOf(err), "collaborator failures are not coupon rejections")
}

func TestValidator_Validate_NeverMutates(t *testing.T) {
	c := &Coupon{ID: "c1", Code: "SAVE10", Active: true, MaxUsage: 10, UsageCount: 4}
	repo := &mockCouponRepo{coupons: map[string]*Coupon{"SAVE10": c}}
	v := NewValidator(repo, &mockRedemptions{})

	_, err := v.Validate(context.Background(), "SAVE10", Facts{})
	require.NoError(t, err)
	assert.Equal(t, 4, c.UsageCount, "validation must be side-effect free")
}

package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Facts is the slice of cart and customer data coupon validation needs.
type Facts struct {
	CustomerID     string
	Subtotal       decimal.Decimal
	TotalQuantity  int
	ProductIDs     []string
	CategoryIDs    []string
	PaymentMethod  string
	ShippingMethod string
	Now            time.Time
}

// RedemptionChecker answers usage questions about a coupon without mutating
// any counters. The usage ledger satisfies it.
type RedemptionChecker interface {
	HasPriorRedemption(ctx context.Context, entityID, customerID string) (bool, error)
	CustomerUsage(ctx context.Context, entityID, customerID string) (int, error)
}

// Validator resolves a coupon code against cart facts. Validation never
// increments usage counters; that happens only when the pricing pipeline
// reserves and commits through the usage ledger.
type Validator struct {
	repo        Repository
	redemptions RedemptionChecker
	now         func() time.Time
}

// NewValidator creates a Validator backed by the given catalog repository
// and redemption checker.
func NewValidator(repo Repository, redemptions RedemptionChecker) *Validator {
	return &Validator{repo: repo, redemptions: redemptions, now: time.Now}
}

// Validate resolves code to a coupon and checks status, date window, usage
// caps, and restrictions. Failures are returned as *ValidationError with an
// explicit kind; any other error means a collaborator failed and the whole
// pricing call should be retried.
func (v *Validator) Validate(ctx context.Context, code string, facts Facts) (*Coupon, error) {
	normalized := Normalize(code)

	c, err := v.repo.FindByCode(ctx, normalized)
	if err != nil {
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if c == nil {
		return nil, &ValidationError{Code: normalized, Kind: KindNotFound}
	}

	now := facts.Now
	if now.IsZero() {
		now = v.now()
	}

	if !c.Active {
		return nil, &ValidationError{Code: c.Code, Kind: KindInactive}
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return nil, &ValidationError{Code: c.Code, Kind: KindExpired}
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return nil, &ValidationError{Code: c.Code, Kind: KindExpired}
	}
	if c.MaxUsage > 0 && c.UsageCount >= c.MaxUsage {
		return nil, &ValidationError{Code: c.Code, Kind: KindUsageExceeded}
	}

	if err := v.checkCustomerUsage(ctx, c, facts.CustomerID); err != nil {
		return nil, err
	}

	if c.MinOrderAmount.IsPositive() && facts.Subtotal.LessThan(c.MinOrderAmount) {
		return nil, &ValidationError{Code: c.Code, Kind: KindMinOrderNotMet}
	}

	if violated := checkRestrictions(c.Restrictions, facts); violated != "" {
		return nil, &ValidationError{Code: c.Code, Kind: KindRestrictionViolated, Restriction: violated}
	}

	return c, nil
}

func (v *Validator) checkCustomerUsage(ctx context.Context, c *Coupon, customerID string) error {
	if customerID == "" {
		return nil
	}

	if c.OneTimeUse {
		prior, err := v.redemptions.HasPriorRedemption(ctx, c.UsageKey(), customerID)
		if err != nil {
			return errors.Wrap(err, "check prior redemption")
		}
		if prior {
			return &ValidationError{Code: c.Code, Kind: KindPerCustomerUsageExceeded}
		}
	}

	if c.MaxUsagePerCustomer > 0 {
		used, err := v.redemptions.CustomerUsage(ctx, c.UsageKey(), customerID)
		if err != nil {
			return errors.Wrap(err, "check customer usage")
		}
		if used >= c.MaxUsagePerCustomer {
			return &ValidationError{Code: c.Code, Kind: KindPerCustomerUsageExceeded}
		}
	}
	return nil
}

// checkRestrictions returns the name of the first violated restriction, or
// "" when the cart satisfies them all.
func checkRestrictions(r Restrictions, facts Facts) string {
	if r.MinQuantity > 0 && facts.TotalQuantity < r.MinQuantity {
		return "min_quantity"
	}
	if len(r.DeniedProducts) > 0 && overlaps(facts.ProductIDs, r.DeniedProducts) {
		return "denied_products"
	}
	if len(r.AllowedProducts) > 0 && !overlaps(facts.ProductIDs, r.AllowedProducts) {
		return "allowed_products"
	}
	if len(r.DeniedCategories) > 0 && overlaps(facts.CategoryIDs, r.DeniedCategories) {
		return "denied_categories"
	}
	if len(r.AllowedCategories) > 0 && !overlaps(facts.CategoryIDs, r.AllowedCategories) {
		return "allowed_categories"
	}
	if len(r.PaymentMethods) > 0 && !contains(r.PaymentMethods, facts.PaymentMethod) {
		return "payment_method"
	}
	if len(r.ShippingMethods) > 0 && !contains(r.ShippingMethods, facts.ShippingMethod) {
		return "shipping_method"
	}
	return ""
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

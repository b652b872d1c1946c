// Package coupon holds the coupon model and the side-effect-free validator
// that resolves a submitted code into a redeemable coupon or an explicit
// rejection reason.
package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates standalone coupon discount strategies. A coupon linked to
// a promotion takes its behaviour from the promotion's actions instead.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// Restrictions constrain the carts a coupon can be redeemed against. Deny
// lists always win over allow lists.
type Restrictions struct {
	AllowedProducts   []string
	DeniedProducts    []string
	AllowedCategories []string
	DeniedCategories  []string
	MinQuantity       int
	PaymentMethods    []string
	ShippingMethods   []string
}

// Coupon is a redeemable code. Exactly one of PromotionID or the standalone
// discount fields (Type, Value) drives the computed discount.
type Coupon struct {
	ID          string
	Code        string
	Description string

	// PromotionID links the coupon to a promotion; empty for standalone
	// coupons.
	PromotionID string

	Type  Type
	Value decimal.Decimal

	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount decimal.Decimal

	StartDate *time.Time
	EndDate   *time.Time

	Active     bool
	OneTimeUse bool

	// MaxUsage caps total redemptions; zero means unlimited.
	MaxUsage   int
	UsageCount int
	// MaxUsagePerCustomer caps redemptions per customer; zero means
	// unlimited. OneTimeUse implies an effective per-customer cap of one.
	MaxUsagePerCustomer int

	Restrictions Restrictions

	CreatedAt time.Time
}

// UsageKey is the coupon's identity in the usage ledger.
func (c *Coupon) UsageKey() string {
	return "coupon:" + c.Code
}

// Normalize canonicalizes a submitted code: trimmed and upper-cased, the
// same form codes are stored in.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup of coupons by their normalized code.
// Implementations return (nil, nil) when no coupon matches.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// ErrorKind enumerates the explicit coupon rejection reasons returned to
// callers for user-facing messaging.
type ErrorKind string

const (
	KindNotFound                 ErrorKind = "not_found"
	KindInactive                 ErrorKind = "inactive"
	KindExpired                  ErrorKind = "expired"
	KindUsageExceeded            ErrorKind = "usage_exceeded"
	KindPerCustomerUsageExceeded ErrorKind = "per_customer_usage_exceeded"
	KindMinOrderNotMet           ErrorKind = "min_order_not_met"
	KindRestrictionViolated      ErrorKind = "restriction_violated"
)

// ValidationError reports why a coupon code cannot be redeemed. For
// KindRestrictionViolated, Restriction names the violated restriction.
type ValidationError struct {
	Code        string
	Kind        ErrorKind
	Restriction string
}

func (e *ValidationError) Error() string {
	if e.Restriction != "" {
		return fmt.Sprintf("coupon %s: %s (%s)", e.Code, e.Kind, e.Restriction)
	}
	return fmt.Sprintf("coupon %s: %s", e.Code, e.Kind)
}

// KindOf extracts the rejection kind from err, or "" when err is not a
// coupon validation error.
func KindOf(err error) ErrorKind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

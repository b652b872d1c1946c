// Package promotion holds the promotion catalog model and the eligibility
// machinery: per-rule condition evaluation, AND/OR rule grouping, and the
// candidate resolver that turns the active catalog into an ordered list of
// promotions applicable to a cart.
package promotion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercefull/platform-sub011/internal/domain/discount"
)

// Scope enumerates the entity a promotion targets.
type Scope string

const (
	ScopeCart     Scope = "cart"
	ScopeProduct  Scope = "product"
	ScopeCategory Scope = "category"
	ScopeMerchant Scope = "merchant"
	ScopeShipping Scope = "shipping"
	ScopeGlobal   Scope = "global"
)

// Status enumerates the promotion lifecycle states.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// Promotion is a catalog entry. The engine treats it as read-only; only its
// usage counter moves, and that happens through the usage ledger.
type Promotion struct {
	ID          string
	MerchantID  string
	Name        string
	Description string
	Scope       Scope
	Status      Status

	// Priority orders candidates; higher wins. Ties fall back to CreatedAt
	// ascending so the oldest promotion wins.
	Priority int
	// Exclusive promotions suppress every other candidate when selected.
	Exclusive bool

	StartDate time.Time
	EndDate   *time.Time

	// MaxUsage caps total redemptions; zero means unlimited.
	MaxUsage   int
	UsageCount int
	// MaxUsagePerCustomer caps redemptions per customer; zero means unlimited.
	MaxUsagePerCustomer int

	MinOrderAmount decimal.Decimal
	// MaxDiscountAmount caps the computed discount; zero means uncapped.
	MaxDiscountAmount decimal.Decimal

	// EligibleGroups restricts the promotion to customers in any of these
	// groups when non-empty. ExcludedGroups always wins over eligibility.
	EligibleGroups []string
	ExcludedGroups []string

	Rules   []Rule
	Actions []discount.Action

	CreatedAt time.Time
}

// UsageKey is the promotion's identity in the usage ledger.
func (p *Promotion) UsageKey() string {
	return "promo:" + p.ID
}

// Repository provides read access to the promotion catalog.
type Repository interface {
	// FindActive returns promotions with status=active for the given scope
	// and merchant, including their nested rules and actions.
	FindActive(ctx context.Context, scope Scope, merchantID string) ([]Promotion, error)
	// FindByID returns a single promotion with nested rules and actions, or
	// nil when it does not exist.
	FindByID(ctx context.Context, id string) (*Promotion, error)
}

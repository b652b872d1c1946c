package promotion

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
)

// RejectReason explains why a promotion was excluded from the candidate set.
// Reasons are recorded on the priced result for auditability.
type RejectReason string

const (
	RejectNotStarted    RejectReason = "not_started"
	RejectExpired       RejectReason = "expired"
	RejectInactive      RejectReason = "inactive"
	RejectUsageExceeded RejectReason = "usage_exceeded"
	RejectCustomerGroup RejectReason = "customer_group_not_eligible"
	RejectMinOrder      RejectReason = "min_order_not_met"
	RejectRulesNotMet   RejectReason = "rules_not_met"
)

// Rejection pairs an excluded promotion with the reason it was excluded.
type Rejection struct {
	Promotion Promotion
	Reason    RejectReason
}

// Resolver selects the eligible, ordered promotion candidates for a cart.
// It is a read-only phase: usage counters are never touched here.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver creates a Resolver backed by the given catalog repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// Resolve fetches active promotions for the scope and merchant, filters them
// by date window, usage caps, customer-group eligibility, minimum order
// amount, and rule groups, and returns survivors sorted by priority
// descending with CreatedAt ascending as the stable tie-break (oldest
// promotion wins ties).
func (r *Resolver) Resolve(ctx context.Context, scope Scope, merchantID string, facts Facts) ([]Promotion, []Rejection, error) {
	promos, err := r.repo.FindActive(ctx, scope, merchantID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "find active promotions")
	}

	now := facts.Now
	if now.IsZero() {
		now = r.now()
	}

	var (
		candidates []Promotion
		rejected   []Rejection
	)
	for _, p := range promos {
		if reason, ok := r.screen(p, now, facts); !ok {
			rejected = append(rejected, Rejection{Promotion: p, Reason: reason})
			continue
		}
		eligible, err := IsEligible(&p, facts)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "promotion %s", p.ID)
		}
		if !eligible {
			rejected = append(rejected, Rejection{Promotion: p, Reason: RejectRulesNotMet})
			continue
		}
		candidates = append(candidates, p)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	return candidates, rejected, nil
}

// screen applies the cheap catalog-level filters that precede rule
// evaluation. It returns the rejection reason for the first failing filter.
func (r *Resolver) screen(p Promotion, now time.Time, facts Facts) (RejectReason, bool) {
	if p.Status != StatusActive {
		return RejectInactive, false
	}
	if now.Before(p.StartDate) {
		return RejectNotStarted, false
	}
	if p.EndDate != nil && now.After(*p.EndDate) {
		return RejectExpired, false
	}
	if p.MaxUsage > 0 && p.UsageCount >= p.MaxUsage {
		return RejectUsageExceeded, false
	}
	if len(p.ExcludedGroups) > 0 && lo.Some(p.ExcludedGroups, facts.CustomerGroups) {
		return RejectCustomerGroup, false
	}
	if len(p.EligibleGroups) > 0 && !lo.Some(p.EligibleGroups, facts.CustomerGroups) {
		return RejectCustomerGroup, false
	}
	if p.MinOrderAmount.IsPositive() && facts.Subtotal.LessThan(p.MinOrderAmount) {
		return RejectMinOrder, false
	}
	return "", true
}

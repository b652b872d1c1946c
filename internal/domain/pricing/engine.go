package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/commercefull/platform-sub011/internal/domain/coupon"
	"github.com/commercefull/platform-sub011/internal/domain/discount"
	"github.com/commercefull/platform-sub011/internal/domain/price"
	"github.com/commercefull/platform-sub011/internal/domain/promotion"
	"github.com/commercefull/platform-sub011/internal/domain/usage"
)

// ErrEmptyItems is returned when a context has no line items to price.
var ErrEmptyItems = errors.New("items required")

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ItemID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for item %s", e.ItemID)
}

// PromotionResolver selects ordered, eligible promotion candidates.
type PromotionResolver interface {
	Resolve(ctx context.Context, scope promotion.Scope, merchantID string, facts promotion.Facts) ([]promotion.Promotion, []promotion.Rejection, error)
}

// CouponValidator resolves a coupon code against cart facts.
type CouponValidator interface {
	Validate(ctx context.Context, code string, facts coupon.Facts) (*coupon.Coupon, error)
}

// Policy holds the configurable stacking decisions that are deliberately not
// hard-coded.
type Policy struct {
	// CouponsFirst applies non-exclusive coupons before non-exclusive
	// promotions instead of after them.
	CouponsFirst bool
}

// Engine is the price resolution pipeline. Every evaluation is independent;
// the usage ledger is the only shared state it touches, and only after the
// full discount computation has settled on the winning candidates.
type Engine struct {
	resolver PromotionResolver
	promos   promotion.Repository
	coupons  CouponValidator
	prices   price.Catalog
	ledger   *usage.Ledger
	policy   Policy
	now      func() time.Time
}

// NewEngine creates an Engine with the required collaborators.
func NewEngine(
	resolver PromotionResolver,
	promos promotion.Repository,
	coupons CouponValidator,
	prices price.Catalog,
	ledger *usage.Ledger,
	policy Policy,
) *Engine {
	return &Engine{
		resolver: resolver,
		promos:   promos,
		coupons:  coupons,
		prices:   prices,
		ledger:   ledger,
		policy:   policy,
		now:      time.Now,
	}
}

// pricedScopes are the promotion scopes consulted for every evaluation.
var pricedScopes = []promotion.Scope{
	promotion.ScopeGlobal,
	promotion.ScopeMerchant,
	promotion.ScopeCart,
	promotion.ScopeProduct,
	promotion.ScopeCategory,
	promotion.ScopeShipping,
}

// candidate is a promotion or coupon competing for application. Linked
// coupons carry their promotion so exclusivity and actions come from it.
type candidate struct {
	kind  CandidateKind
	promo *promotion.Promotion
	coup  *coupon.Coupon
}

func (c candidate) exclusive() bool {
	return c.promo != nil && c.promo.Exclusive
}

func (c candidate) priority() int {
	if c.promo != nil {
		return c.promo.Priority
	}
	return 0
}

func (c candidate) createdAt() time.Time {
	if c.promo != nil {
		return c.promo.CreatedAt
	}
	return c.coup.CreatedAt
}

func (c candidate) usageKey() string {
	if c.kind == KindCoupon {
		return c.coup.UsageKey()
	}
	return c.promo.UsageKey()
}

func (c candidate) caps() usage.Caps {
	if c.kind == KindCoupon {
		perCustomer := c.coup.MaxUsagePerCustomer
		if c.coup.OneTimeUse && (perCustomer == 0 || perCustomer > 1) {
			perCustomer = 1
		}
		return usage.Caps{Max: c.coup.MaxUsage, MaxPerCustomer: perCustomer}
	}
	return usage.Caps{Max: c.promo.MaxUsage, MaxPerCustomer: c.promo.MaxUsagePerCustomer}
}

func (c candidate) needsReservation() bool {
	caps := c.caps()
	if c.kind == KindCoupon && c.coup.OneTimeUse {
		return true
	}
	return caps.Max > 0 || caps.MaxPerCustomer > 0
}

func (c candidate) rejected(reason string) Rejected {
	r := Rejected{Kind: c.kind, Reason: reason}
	if c.kind == KindCoupon {
		r.ID = c.coup.ID
		r.Code = c.coup.Code
	} else {
		r.ID = c.promo.ID
	}
	return r
}

func (c candidate) applied(amount decimal.Decimal) Applied {
	a := Applied{Kind: c.kind, Amount: amount}
	if c.kind == KindCoupon {
		a.ID = c.coup.ID
		a.Code = c.coup.Code
		a.Name = c.coup.Description
	} else {
		a.ID = c.promo.ID
		a.Name = c.promo.Name
	}
	return a
}

// PriceCart runs the full pipeline for one cart context and returns the
// auditable priced result. A collaborator failure fails the whole call: a
// partially discounted result is never returned as if it were final.
func (e *Engine) PriceCart(ctx context.Context, pctx *Context) (*Result, error) {
	if len(pctx.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, it := range pctx.Items {
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{ItemID: it.ID}
		}
	}

	now := pctx.Now
	if now.IsZero() {
		now = e.now()
	}

	lines, subtotal, err := e.resolveLines(ctx, pctx)
	if err != nil {
		return nil, err
	}

	candidates, rejected, err := e.collectCandidates(ctx, pctx, subtotal, now)
	if err != nil {
		return nil, err
	}

	// Reservations happen only after the discount computation settles, so a
	// candidate superseded by exclusivity never holds a slot. When a
	// reservation loses the race for the last slot of a capped candidate,
	// the whole selection is recomputed without it.
	excluded := make(map[string]bool)
	for range len(candidates) + 1 {
		pl, err := e.apply(pctx, lines, candidates, excluded)
		if err != nil {
			return nil, err
		}

		reservations, contended, err := e.reserve(ctx, pctx.CustomerID, pl.appliedCands)
		if err != nil {
			return nil, err
		}
		if contended == nil {
			return e.buildResult(pctx, lines, subtotal, pl, append(rejected, pl.rejected...), reservations), nil
		}

		excluded[contended.usageKey()] = true
		rejected = append(rejected, contended.rejected(ReasonUsageExceeded))
	}
	return nil, errors.New("candidate reservation did not converge")
}

// ValidateCoupon checks a coupon code against the cart for immediate caller
// feedback, without computing the full pricing or touching usage counters.
func (e *Engine) ValidateCoupon(ctx context.Context, code string, pctx *Context) (*coupon.Coupon, error) {
	now := pctx.Now
	if now.IsZero() {
		now = e.now()
	}

	_, subtotal, err := e.resolveLines(ctx, pctx)
	if err != nil {
		return nil, err
	}
	return e.coupons.Validate(ctx, code, couponFacts(pctx, subtotal, now))
}

// Commit finalizes every usage reservation held by the result. Call it once
// the order is successfully placed.
func (e *Engine) Commit(ctx context.Context, res *Result) error {
	for _, r := range res.Reservations {
		if err := e.ledger.Commit(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Release returns every usage reservation held by the result, e.g. on cart
// abandonment or order failure.
func (e *Engine) Release(ctx context.Context, res *Result) error {
	for _, r := range res.Reservations {
		if err := e.ledger.Release(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// resolveLines applies the tier/customer price overrides to every item and
// returns the pre-discount lines and their subtotal.
func (e *Engine) resolveLines(ctx context.Context, pctx *Context) ([]Line, decimal.Decimal, error) {
	lines := make([]Line, len(pctx.Items))
	subtotal := decimal.Zero

	for i, it := range pctx.Items {
		tier, err := e.prices.FindTierPrice(ctx, it.ProductID, it.VariantID, it.Quantity)
		if err != nil {
			return nil, decimal.Zero, errors.Wrapf(err, "find tier price for %s", it.ProductID)
		}

		var customerPrice *price.CustomerPrice
		if pctx.CustomerID != "" || len(pctx.CustomerGroups) > 0 {
			customerPrice, err = e.prices.FindCustomerPrice(ctx, pctx.CustomerID, pctx.CustomerGroups, it.ProductID, it.VariantID)
			if err != nil {
				return nil, decimal.Zero, errors.Wrapf(err, "find customer price for %s", it.ProductID)
			}
		}

		unit, source := price.Resolve(it.BasePrice, tier, customerPrice)
		lineTotal := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))

		lines[i] = Line{
			ItemID:        it.ID,
			ProductID:     it.ProductID,
			VariantID:     it.VariantID,
			Quantity:      it.Quantity,
			BaseUnitPrice: it.BasePrice,
			UnitPrice:     unit,
			PriceSource:   source,
			OriginalTotal: lineTotal,
		}
		subtotal = subtotal.Add(lineTotal)
	}
	return lines, subtotal, nil
}

// collectCandidates resolves promotion candidates across all scopes and
// validates submitted coupon codes into one combined candidate list.
func (e *Engine) collectCandidates(ctx context.Context, pctx *Context, subtotal decimal.Decimal, now time.Time) ([]candidate, []Rejected, error) {
	pfacts := promotionFacts(pctx, subtotal, now)

	var (
		promoCands []candidate
		rejected   []Rejected
	)
	for _, scope := range pricedScopes {
		promos, rejections, err := e.resolver.Resolve(ctx, scope, pctx.MerchantID, pfacts)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "resolve %s promotions", scope)
		}
		for _, rej := range rejections {
			rejected = append(rejected, Rejected{
				Kind:   KindPromotion,
				ID:     rej.Promotion.ID,
				Reason: string(rej.Reason),
			})
		}
		for i := range promos {
			promoCands = append(promoCands, candidate{kind: KindPromotion, promo: &promos[i]})
		}
	}
	// Per-scope lists are already ordered; re-sort the merged list so
	// priority ranks across scopes too.
	sort.SliceStable(promoCands, func(i, j int) bool {
		if promoCands[i].priority() != promoCands[j].priority() {
			return promoCands[i].priority() > promoCands[j].priority()
		}
		return promoCands[i].createdAt().Before(promoCands[j].createdAt())
	})

	cfacts := couponFacts(pctx, subtotal, now)
	linked := make(map[string]bool)
	var couponCands []candidate
	for _, code := range pctx.CouponCodes {
		c, err := e.coupons.Validate(ctx, code, cfacts)
		if err != nil {
			var ve *coupon.ValidationError
			if errors.As(err, &ve) {
				rejected = append(rejected, Rejected{Kind: KindCoupon, Code: ve.Code, Reason: string(ve.Kind)})
				continue
			}
			return nil, nil, errors.Wrap(err, "validate coupon")
		}

		cand := candidate{kind: KindCoupon, coup: c}
		if c.PromotionID != "" {
			promo, err := e.promos.FindByID(ctx, c.PromotionID)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "find promotion %s for coupon %s", c.PromotionID, c.Code)
			}
			if promo == nil {
				return nil, nil, errors.Errorf("coupon %s links to unknown promotion %s", c.Code, c.PromotionID)
			}
			cand.promo = promo
			linked[promo.ID] = true
		}
		couponCands = append(couponCands, cand)
	}

	// A coupon carrying a promotion supersedes the resolver's copy of that
	// promotion: the promotion applies once, through the coupon.
	if len(linked) > 0 {
		promoCands = lo.Filter(promoCands, func(c candidate, _ int) bool {
			return !linked[c.promo.ID]
		})
	}
	return append(promoCands, couponCands...), rejected, nil
}

// plan is the outcome of one selection and application pass, before any
// usage reservation.
type plan struct {
	running      []decimal.Decimal
	applied      []Applied
	appliedCands []candidate
	rejected     []Rejected
	freeShipping bool
	freeItems    []discount.FreeItem
	points       int64
}

// apply selects candidates under the exclusivity rule and applies their
// actions sequentially against the running line totals.
func (e *Engine) apply(pctx *Context, lines []Line, candidates []candidate, excluded map[string]bool) (*plan, error) {
	available := lo.Filter(candidates, func(c candidate, _ int) bool {
		return !excluded[c.usageKey()]
	})
	exclusives, combinables := lo.FilterReject(available, func(c candidate, _ int) bool {
		return c.exclusive()
	})

	var selected []candidate
	pl := &plan{running: make([]decimal.Decimal, len(lines))}
	for i, l := range lines {
		pl.running[i] = l.OriginalTotal
	}

	if len(exclusives) > 0 {
		// The single highest-priority exclusive candidate wins; everything
		// else is rejected. Exclusives are already in priority order among
		// promotions; linked coupons may outrank them.
		best := exclusives[0]
		for _, c := range exclusives[1:] {
			if c.priority() > best.priority() ||
				(c.priority() == best.priority() && c.createdAt().Before(best.createdAt())) {
				best = c
			}
		}
		selected = []candidate{best}
		for _, c := range available {
			if c.usageKey() != best.usageKey() {
				pl.rejected = append(pl.rejected, c.rejected(ReasonExclusivityConflict))
			}
		}
	} else {
		promos, coupons := lo.FilterReject(combinables, func(c candidate, _ int) bool {
			return c.kind == KindPromotion
		})
		if e.policy.CouponsFirst {
			selected = append(coupons, promos...)
		} else {
			selected = append(promos, coupons...)
		}
	}

	for _, cand := range selected {
		applied, err := e.applyCandidate(cand, pctx.Items, lines, pl)
		if err != nil {
			return nil, err
		}
		pl.applied = append(pl.applied, applied)
		pl.appliedCands = append(pl.appliedCands, cand)
	}
	return pl, nil
}

// applyCandidate runs all of a candidate's actions, in sort order, against
// the plan's running totals. The candidate's maximum discount amount caps
// the sum across its actions.
func (e *Engine) applyCandidate(cand candidate, items []Item, lines []Line, pl *plan) (Applied, error) {
	actions, maxDiscount, err := candidateActions(cand)
	if err != nil {
		return Applied{}, err
	}

	index := make(map[string]int, len(lines))
	for i, l := range lines {
		index[l.ItemID] = i
	}

	capped := maxDiscount.IsPositive()
	remaining := maxDiscount
	total := decimal.Zero

	for _, action := range actions {
		res, err := discount.Apply(action, runningItems(items, lines, pl.running), remaining)
		if err != nil {
			return Applied{}, errors.Wrapf(err, "apply action for %s", cand.usageKey())
		}

		for _, id := range res.AffectedItemIDs {
			i := index[id]
			pl.running[i] = pl.running[i].Sub(res.ItemAmounts[id])
			if pl.running[i].IsNegative() {
				pl.running[i] = decimal.Zero
			}
		}

		total = total.Add(res.Amount)
		pl.freeShipping = pl.freeShipping || res.FreeShipping
		pl.freeItems = append(pl.freeItems, res.FreeItems...)
		pl.points += res.Points

		if capped {
			remaining = remaining.Sub(res.Amount)
			if !remaining.IsPositive() {
				break
			}
		}
	}
	return cand.applied(total), nil
}

// candidateActions returns the discount actions a candidate contributes:
// the linked promotion's actions, or a synthesized one for standalone
// coupons.
func candidateActions(cand candidate) ([]discount.Action, decimal.Decimal, error) {
	if cand.promo != nil {
		actions := make([]discount.Action, len(cand.promo.Actions))
		copy(actions, cand.promo.Actions)
		sort.SliceStable(actions, func(i, j int) bool {
			return actions[i].SortOrder < actions[j].SortOrder
		})
		maxDiscount := cand.promo.MaxDiscountAmount
		if cand.kind == KindCoupon && cand.coup.MaxDiscountAmount.IsPositive() {
			maxDiscount = cand.coup.MaxDiscountAmount
		}
		return actions, maxDiscount, nil
	}

	var actionType discount.ActionType
	switch cand.coup.Type {
	case coupon.TypePercentage:
		actionType = discount.ActionPercentage
	case coupon.TypeFixed:
		actionType = discount.ActionFixedAmount
	default:
		return nil, decimal.Zero, errors.Errorf("coupon %s has neither a linked promotion nor a discount type", cand.coup.Code)
	}
	action := discount.Action{
		Type:       actionType,
		Value:      cand.coup.Value,
		TargetType: discount.TargetCart,
	}
	return []discount.Action{action}, cand.coup.MaxDiscountAmount, nil
}

// runningItems projects the current running totals back into per-unit
// discount items so each action stacks on the already-discounted values.
func runningItems(items []Item, lines []Line, running []decimal.Decimal) []discount.Item {
	out := make([]discount.Item, len(lines))
	for i, l := range lines {
		out[i] = discount.Item{
			ID:          l.ItemID,
			ProductID:   l.ProductID,
			CategoryIDs: items[i].CategoryIDs,
			UnitPrice:   running[i].Div(decimal.NewFromInt(int64(l.Quantity))),
			Quantity:    l.Quantity,
		}
	}
	return out
}

// reserve acquires usage slots for the applied candidates. On contention it
// releases everything acquired so far and reports the contended candidate so
// the caller can recompute without it.
func (e *Engine) reserve(ctx context.Context, customerID string, cands []candidate) ([]*usage.Reservation, *candidate, error) {
	var acquired []*usage.Reservation

	releaseAll := func() {
		for _, r := range acquired {
			_ = e.ledger.Release(ctx, r)
		}
	}

	for i := range cands {
		c := cands[i]
		if !c.needsReservation() {
			continue
		}
		r, err := e.ledger.Reserve(ctx, c.usageKey(), customerID, c.caps())
		if err != nil {
			releaseAll()
			if errors.Is(err, usage.ErrUsageExceeded) {
				return nil, &c, nil
			}
			return nil, nil, err
		}
		acquired = append(acquired, r)
	}
	return acquired, nil, nil
}

// buildResult assembles the final priced result from the winning plan.
func (e *Engine) buildResult(pctx *Context, lines []Line, subtotal decimal.Decimal, pl *plan, rejected []Rejected, reservations []*usage.Reservation) *Result {
	out := make([]Line, len(lines))
	linesTotal := decimal.Zero
	for i, l := range lines {
		l.OriginalTotal = l.OriginalTotal.Round(2)
		l.FinalTotal = pl.running[i].Round(2)
		out[i] = l
		linesTotal = linesTotal.Add(l.FinalTotal)
	}

	// Granted free items appear as zero-price lines so the line list alone
	// describes the full order contents.
	for _, f := range pl.freeItems {
		out = append(out, Line{
			ItemID:        "free:" + f.ProductID,
			ProductID:     f.ProductID,
			Quantity:      f.Quantity,
			BaseUnitPrice: decimal.Zero,
			UnitPrice:     decimal.Zero,
			PriceSource:   price.SourcePromotion,
			OriginalTotal: decimal.Zero,
			FinalTotal:    decimal.Zero,
		})
	}

	discountTotal := decimal.Zero
	for _, a := range pl.applied {
		discountTotal = discountTotal.Add(a.Amount)
	}

	shipping := pctx.ShippingAmount
	if pl.freeShipping {
		shipping = decimal.Zero
	}

	return &Result{
		Lines:         out,
		Subtotal:      subtotal.Round(2),
		DiscountTotal: discountTotal.Round(2),
		Shipping:      shipping,
		FreeShipping:  pl.freeShipping,
		Total:         linesTotal.Add(shipping).Round(2),
		Applied:       pl.applied,
		Rejected:      rejected,
		FreeItems:     pl.freeItems,
		LoyaltyPoints: pl.points,
		Reservations:  reservations,
	}
}

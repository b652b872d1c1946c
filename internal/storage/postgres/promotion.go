package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/commercefull/platform-sub011/internal/domain/discount"
	"github.com/commercefull/platform-sub011/internal/domain/promotion"
)

const (
	findActivePromotionsSQL = `SELECT p.id, p.merchant_id, p.name, p.description, p.scope, p.status,
		p.priority, p.exclusive, p.start_date, p.end_date,
		p.max_usage, p.max_usage_per_customer, p.min_order_amount, p.max_discount_amount,
		p.eligible_groups, p.excluded_groups, p.created_at, COALESCE(u.count, 0)
		FROM promotions p
		LEFT JOIN usage_counters u ON u.entity_id = 'promo:' || p.id::text
		WHERE p.status = 'active' AND p.scope = $1
		AND (p.merchant_id = $2 OR p.merchant_id = '')
		ORDER BY p.priority DESC, p.created_at ASC`

	findPromotionByIDSQL = `SELECT p.id, p.merchant_id, p.name, p.description, p.scope, p.status,
		p.priority, p.exclusive, p.start_date, p.end_date,
		p.max_usage, p.max_usage_per_customer, p.min_order_amount, p.max_discount_amount,
		p.eligible_groups, p.excluded_groups, p.created_at, COALESCE(u.count, 0)
		FROM promotions p
		LEFT JOIN usage_counters u ON u.entity_id = 'promo:' || p.id::text
		WHERE p.id = $1`

	findPromotionRulesSQL = `SELECT promotion_id, condition_type, operator,
		value_number, value_numbers, value_text, value_set, required, rule_group, sort_order
		FROM promotion_rules WHERE promotion_id = ANY($1)
		ORDER BY promotion_id, sort_order`

	findPromotionActionsSQL = `SELECT promotion_id, action_type, value, buy_quantity, get_quantity,
		product_id, max_quantity, points, target_type, target_ids, sort_order
		FROM promotion_actions WHERE promotion_id = ANY($1)
		ORDER BY promotion_id, sort_order`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
// The usage counter is joined in so UsageCount reflects the ledger at read
// time.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindActive implements promotion.Repository.
func (r *PromotionRepository) FindActive(ctx context.Context, scope promotion.Scope, merchantID string) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, findActivePromotionsSQL, string(scope), merchantID)
	if err != nil {
		return nil, fmt.Errorf("finding active %s promotions: %w", scope, err)
	}

	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("finding active %s promotions: %w", scope, err)
	}
	if len(promos) == 0 {
		return nil, nil
	}

	if err := r.attachRulesAndActions(ctx, promos); err != nil {
		return nil, err
	}
	return promos, nil
}

// FindByID implements promotion.Repository. It returns nil when the
// promotion does not exist.
func (r *PromotionRepository) FindByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, findPromotionByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding promotion %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding promotion %q: %w", id, err)
	}

	promos := []promotion.Promotion{p}
	if err := r.attachRulesAndActions(ctx, promos); err != nil {
		return nil, err
	}
	return &promos[0], nil
}

func (r *PromotionRepository) attachRulesAndActions(ctx context.Context, promos []promotion.Promotion) error {
	ids := make([]string, len(promos))
	index := make(map[string]int, len(promos))
	for i := range promos {
		ids[i] = promos[i].ID
		index[promos[i].ID] = i
	}

	rows, err := r.pool.Query(ctx, findPromotionRulesSQL, ids)
	if err != nil {
		return fmt.Errorf("loading promotion rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanPromotionRule)
	if err != nil {
		return fmt.Errorf("loading promotion rules: %w", err)
	}
	for _, pr := range rules {
		i := index[pr.promotionID]
		promos[i].Rules = append(promos[i].Rules, pr.rule)
	}

	rows, err = r.pool.Query(ctx, findPromotionActionsSQL, ids)
	if err != nil {
		return fmt.Errorf("loading promotion actions: %w", err)
	}
	actions, err := pgx.CollectRows(rows, scanPromotionAction)
	if err != nil {
		return fmt.Errorf("loading promotion actions: %w", err)
	}
	for _, pa := range actions {
		i := index[pa.promotionID]
		promos[i].Actions = append(promos[i].Actions, pa.action)
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p          promotion.Promotion
		scope      string
		status     string
		priority   int32
		endDate    *time.Time
		maxUsage   int32
		maxPerCust int32
		usageCount int32
	)
	err := row.Scan(
		&p.ID, &p.MerchantID, &p.Name, &p.Description, &scope, &status,
		&priority, &p.Exclusive, &p.StartDate, &endDate,
		&maxUsage, &maxPerCust, &p.MinOrderAmount, &p.MaxDiscountAmount,
		&p.EligibleGroups, &p.ExcludedGroups, &p.CreatedAt, &usageCount,
	)
	p.Scope = promotion.Scope(scope)
	p.Status = promotion.Status(status)
	p.Priority = int(priority)
	p.EndDate = endDate
	p.MaxUsage = int(maxUsage)
	p.MaxUsagePerCustomer = int(maxPerCust)
	p.UsageCount = int(usageCount)
	return p, err
}

type promotionRule struct {
	promotionID string
	rule        promotion.Rule
}

func scanPromotionRule(row pgx.CollectableRow) (promotionRule, error) {
	var (
		pr            promotionRule
		conditionType string
		operator      string
		number        decimal.NullDecimal
		sortOrder     int32
	)
	err := row.Scan(
		&pr.promotionID, &conditionType, &operator,
		&number, &pr.rule.Value.Numbers, &pr.rule.Value.Text, &pr.rule.Value.Set,
		&pr.rule.Required, &pr.rule.RuleGroup, &sortOrder,
	)
	pr.rule.ConditionType = promotion.ConditionType(conditionType)
	pr.rule.Operator = promotion.Operator(operator)
	if number.Valid {
		pr.rule.Value.Number = &number.Decimal
	}
	pr.rule.SortOrder = int(sortOrder)
	return pr, err
}

type promotionAction struct {
	promotionID string
	action      discount.Action
}

func scanPromotionAction(row pgx.CollectableRow) (promotionAction, error) {
	var (
		pa          promotionAction
		actionType  string
		buyQuantity int32
		getQuantity int32
		maxQuantity int32
		targetType  string
		sortOrder   int32
	)
	err := row.Scan(
		&pa.promotionID, &actionType, &pa.action.Value, &buyQuantity, &getQuantity,
		&pa.action.ProductID, &maxQuantity, &pa.action.Points,
		&targetType, &pa.action.TargetIDs, &sortOrder,
	)
	pa.action.Type = discount.ActionType(actionType)
	pa.action.BuyQuantity = int(buyQuantity)
	pa.action.GetQuantity = int(getQuantity)
	pa.action.MaxQuantity = int(maxQuantity)
	pa.action.TargetType = discount.TargetType(targetType)
	pa.action.SortOrder = int(sortOrder)
	return pa, err
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercefull/platform-sub011/internal/domain/coupon"
)

const findCouponByCodeSQL = `SELECT c.id, c.code, c.description, c.promotion_id,
	c.discount_type, c.value, c.min_order_amount, c.max_discount_amount,
	c.start_date, c.end_date, c.active, c.one_time_use,
	c.max_usage, c.max_usage_per_customer,
	c.allowed_products, c.denied_products, c.allowed_categories, c.denied_categories,
	c.min_quantity, c.payment_methods, c.shipping_methods,
	c.created_at, COALESCE(u.count, 0)
	FROM coupons c
	LEFT JOIN usage_counters u ON u.entity_id = 'coupon:' || UPPER(c.code)
	WHERE UPPER(c.code) = UPPER($1)`

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive). It returns
// nil when no such coupon exists; lifecycle checks are the validator's job.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		promotionID  *string
		discountType string
		startDate    *time.Time
		endDate      *time.Time
		maxUsage     int32
		maxPerCust   int32
		minQuantity  int32
		usageCount   int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &promotionID,
		&discountType, &c.Value, &c.MinOrderAmount, &c.MaxDiscountAmount,
		&startDate, &endDate, &c.Active, &c.OneTimeUse,
		&maxUsage, &maxPerCust,
		&c.Restrictions.AllowedProducts, &c.Restrictions.DeniedProducts,
		&c.Restrictions.AllowedCategories, &c.Restrictions.DeniedCategories,
		&minQuantity, &c.Restrictions.PaymentMethods, &c.Restrictions.ShippingMethods,
		&c.CreatedAt, &usageCount,
	)
	if promotionID != nil {
		c.PromotionID = *promotionID
	}
	c.Type = coupon.Type(discountType)
	c.StartDate = startDate
	c.EndDate = endDate
	c.MaxUsage = int(maxUsage)
	c.MaxUsagePerCustomer = int(maxPerCust)
	c.Restrictions.MinQuantity = int(minQuantity)
	c.UsageCount = int(usageCount)
	return c, err
}

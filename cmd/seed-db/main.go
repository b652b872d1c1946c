// Command seed-db loads a demo promotion catalog into PostgreSQL: a few
// promotions with rules and actions, coupons, and price overrides. It is
// idempotent, so rerunning it refreshes the same rows.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/commercefull/platform-sub011/internal/storage/postgres"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPromotions(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedPrices(ctx, pool); err != nil {
		return errors.Wrap(err, "seed prices")
	}
	return nil
}

const (
	upsertPromotionSQL = `INSERT INTO promotions
		(id, merchant_id, name, description, scope, status, priority, exclusive,
		max_usage, max_usage_per_customer, min_order_amount, max_discount_amount)
		VALUES ($1, $2, $3, $4, $5, 'active', $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			scope = EXCLUDED.scope, status = 'active',
			priority = EXCLUDED.priority, exclusive = EXCLUDED.exclusive,
			max_usage = EXCLUDED.max_usage,
			max_usage_per_customer = EXCLUDED.max_usage_per_customer,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount_amount = EXCLUDED.max_discount_amount`

	clearRulesSQL   = `DELETE FROM promotion_rules WHERE promotion_id = $1`
	clearActionsSQL = `DELETE FROM promotion_actions WHERE promotion_id = $1`

	insertRuleSQL = `INSERT INTO promotion_rules
		(promotion_id, condition_type, operator, value_number, value_set, required, rule_group, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertActionSQL = `INSERT INTO promotion_actions
		(promotion_id, action_type, value, buy_quantity, get_quantity, target_type, target_ids, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	upsertCouponSQL = `INSERT INTO coupons
		(id, code, description, promotion_id, discount_type, value, min_order_amount,
		max_discount_amount, active, one_time_use, max_usage, max_usage_per_customer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, description = EXCLUDED.description,
			promotion_id = EXCLUDED.promotion_id,
			discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount_amount = EXCLUDED.max_discount_amount,
			active = TRUE, one_time_use = EXCLUDED.one_time_use,
			max_usage = EXCLUDED.max_usage,
			max_usage_per_customer = EXCLUDED.max_usage_per_customer`

	upsertTierPriceSQL = `INSERT INTO tier_prices (product_id, variant_id, quantity_min, unit_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, variant_id, quantity_min)
		DO UPDATE SET unit_price = EXCLUDED.unit_price`
)

// Stable IDs keep reruns idempotent.
const (
	promoHappyHoursID = "5f0f7f60-0000-4000-8000-000000000001"
	promoBulkSnacksID = "5f0f7f60-0000-4000-8000-000000000002"
	couponWelcomeID   = "5f0f7f60-0000-4000-8000-000000000101"
	couponBogoID      = "5f0f7f60-0000-4000-8000-000000000102"
)

func seedPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding promotions")

	// Happy Hours: 18% off the whole cart for orders over $20.
	_, err := pool.Exec(ctx, upsertPromotionSQL,
		promoHappyHoursID, "", "Happy Hours", "18% off entire order",
		"cart", 10, false, 0, 0, decimal.NewFromInt(20), decimal.Zero)
	if err != nil {
		return errors.Wrap(err, "upsert happy hours")
	}
	if _, err := pool.Exec(ctx, clearRulesSQL, promoHappyHoursID); err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, clearActionsSQL, promoHappyHoursID); err != nil {
		return err
	}
	minSubtotal := decimal.NewFromInt(20)
	if _, err := pool.Exec(ctx, insertRuleSQL,
		promoHappyHoursID, "cart_subtotal", "gte", minSubtotal, []string{}, true, "", 0); err != nil {
		return errors.Wrap(err, "insert happy hours rule")
	}
	if _, err := pool.Exec(ctx, insertActionSQL,
		promoHappyHoursID, "percentage_discount", decimal.NewFromInt(18), 0, 0, "cart", []string{}, 0); err != nil {
		return errors.Wrap(err, "insert happy hours action")
	}

	// Bulk snacks: buy 2 get 1 free within the snacks category.
	_, err = pool.Exec(ctx, upsertPromotionSQL,
		promoBulkSnacksID, "", "Bulk Snacks", "Buy two snacks, get one free",
		"category", 5, false, 0, 0, decimal.Zero, decimal.Zero)
	if err != nil {
		return errors.Wrap(err, "upsert bulk snacks")
	}
	if _, err := pool.Exec(ctx, clearRulesSQL, promoBulkSnacksID); err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, clearActionsSQL, promoBulkSnacksID); err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertRuleSQL,
		promoBulkSnacksID, "category_ids", "in", nil, []string{"snacks"}, true, "", 0); err != nil {
		return errors.Wrap(err, "insert bulk snacks rule")
	}
	if _, err := pool.Exec(ctx, insertActionSQL,
		promoBulkSnacksID, "buy_x_get_y_free", decimal.Zero, 2, 1, "category", []string{"snacks"}, 0); err != nil {
		return errors.Wrap(err, "insert bulk snacks action")
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding coupons")

	// WELCOME10: standalone 10% coupon, once per customer, capped at $15.
	_, err := pool.Exec(ctx, upsertCouponSQL,
		couponWelcomeID, "WELCOME10", "10% off your first order", nil,
		"percentage", decimal.NewFromInt(10), decimal.Zero, decimal.NewFromInt(15),
		true, 0, 1)
	if err != nil {
		return errors.Wrap(err, "upsert WELCOME10")
	}

	// BOGOSNACKS: coupon gate for the bulk snacks promotion.
	_, err = pool.Exec(ctx, upsertCouponSQL,
		couponBogoID, "BOGOSNACKS", "Buy two snacks, get one free", promoBulkSnacksID,
		"", decimal.Zero, decimal.Zero, decimal.Zero,
		false, 1000, 0)
	if err != nil {
		return errors.Wrap(err, "upsert BOGOSNACKS")
	}

	return nil
}

func seedPrices(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding price overrides")

	tiers := []struct {
		productID   string
		quantityMin int
		unitPrice   decimal.Decimal
	}{
		{"waffle-berries", 1, decimal.RequireFromString("6.50")},
		{"waffle-berries", 10, decimal.RequireFromString("5.90")},
		{"waffle-berries", 50, decimal.RequireFromString("5.20")},
	}
	for _, tp := range tiers {
		if _, err := pool.Exec(ctx, upsertTierPriceSQL,
			tp.productID, "", tp.quantityMin, tp.unitPrice); err != nil {
			return errors.Wrapf(err, "upsert tier price %s/%d", tp.productID, tp.quantityMin)
		}
	}

	return nil
}

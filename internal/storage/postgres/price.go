package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercefull/platform-sub011/internal/domain/price"
)

const (
	findTierPriceSQL = `SELECT product_id, variant_id, quantity_min, unit_price
		FROM tier_prices
		WHERE product_id = $1 AND variant_id = $2 AND quantity_min <= $3
		ORDER BY quantity_min DESC LIMIT 1`

	findCustomerPriceSQL = `SELECT customer_id, group_id, product_id, variant_id, unit_price
		FROM customer_prices
		WHERE customer_id = $1 AND product_id = $2 AND variant_id = $3
		ORDER BY unit_price ASC LIMIT 1`

	findGroupPriceSQL = `SELECT customer_id, group_id, product_id, variant_id, unit_price
		FROM customer_prices
		WHERE group_id = ANY($1) AND product_id = $2 AND variant_id = $3
		ORDER BY unit_price ASC LIMIT 1`
)

var _ price.Catalog = (*PriceCatalog)(nil)

// PriceCatalog implements price.Catalog backed by PostgreSQL.
type PriceCatalog struct {
	pool *pgxpool.Pool
}

// NewPriceCatalog returns a PriceCatalog that uses the given pool.
func NewPriceCatalog(pool *pgxpool.Pool) *PriceCatalog {
	return &PriceCatalog{pool: pool}
}

// FindTierPrice returns the tier with the greatest breakpoint not exceeding
// the requested quantity, or nil when the product has no applicable tier.
func (c *PriceCatalog) FindTierPrice(ctx context.Context, productID, variantID string, quantity int) (*price.TierPrice, error) {
	rows, err := c.pool.Query(ctx, findTierPriceSQL, productID, variantID, quantity)
	if err != nil {
		return nil, fmt.Errorf("finding tier price for %q: %w", productID, err)
	}

	tier, err := pgx.CollectExactlyOneRow(rows, scanTierPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding tier price for %q: %w", productID, err)
	}
	return &tier, nil
}

// FindCustomerPrice returns the customer-specific override, falling back to
// the cheapest override among the customer's groups. Returns nil when no
// override exists.
func (c *PriceCatalog) FindCustomerPrice(ctx context.Context, customerID string, groupIDs []string, productID, variantID string) (*price.CustomerPrice, error) {
	if customerID != "" {
		cp, err := c.queryCustomerPrice(ctx, findCustomerPriceSQL, customerID, productID, variantID)
		if err != nil {
			return nil, fmt.Errorf("finding customer price for %q: %w", productID, err)
		}
		if cp != nil {
			return cp, nil
		}
	}
	if len(groupIDs) == 0 {
		return nil, nil
	}

	cp, err := c.queryCustomerPrice(ctx, findGroupPriceSQL, groupIDs, productID, variantID)
	if err != nil {
		return nil, fmt.Errorf("finding group price for %q: %w", productID, err)
	}
	return cp, nil
}

func (c *PriceCatalog) queryCustomerPrice(ctx context.Context, sql string, key any, productID, variantID string) (*price.CustomerPrice, error) {
	rows, err := c.pool.Query(ctx, sql, key, productID, variantID)
	if err != nil {
		return nil, err
	}

	cp, err := pgx.CollectExactlyOneRow(rows, scanCustomerPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func scanTierPrice(row pgx.CollectableRow) (price.TierPrice, error) {
	var (
		tier        price.TierPrice
		quantityMin int32
	)
	err := row.Scan(&tier.ProductID, &tier.VariantID, &quantityMin, &tier.UnitPrice)
	tier.QuantityMin = int(quantityMin)
	return tier, err
}

func scanCustomerPrice(row pgx.CollectableRow) (price.CustomerPrice, error) {
	var cp price.CustomerPrice
	err := row.Scan(&cp.CustomerID, &cp.GroupID, &cp.ProductID, &cp.VariantID, &cp.UnitPrice)
	return cp, err
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercefull/platform-sub011/internal/domain/usage"
)

const (
	incrementCounterSQL = `INSERT INTO usage_counters (entity_id, count) VALUES ($1, 1)
		ON CONFLICT (entity_id) DO UPDATE SET count = usage_counters.count + 1
		WHERE $2 <= 0 OR usage_counters.count < $2
		RETURNING count`

	incrementCustomerCounterSQL = `INSERT INTO usage_customer_counters (entity_id, customer_id, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (entity_id, customer_id) DO UPDATE SET count = usage_customer_counters.count + 1
		WHERE $3 <= 0 OR usage_customer_counters.count < $3
		RETURNING count`

	insertReservationSQL = `INSERT INTO usage_reservations (entity_id, customer_id, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		RETURNING id`

	takeReservationSQL = `DELETE FROM usage_reservations WHERE id = $1
		RETURNING entity_id, customer_id`

	insertRedemptionSQL = `INSERT INTO usage_redemptions (entity_id, customer_id) VALUES ($1, $2)`

	decrementCounterSQL = `UPDATE usage_counters SET count = count - 1 WHERE entity_id = $1`

	decrementCustomerCounterSQL = `UPDATE usage_customer_counters SET count = count - 1
		WHERE entity_id = $1 AND customer_id = $2`

	releaseExpiredSQL = `WITH expired AS (
			DELETE FROM usage_reservations WHERE expires_at < now()
			RETURNING entity_id, customer_id
		), dec_global AS (
			UPDATE usage_counters u SET count = u.count - g.n
			FROM (SELECT entity_id, COUNT(*) AS n FROM expired GROUP BY entity_id) g
			WHERE u.entity_id = g.entity_id
		), dec_customer AS (
			UPDATE usage_customer_counters u SET count = u.count - g.n
			FROM (SELECT entity_id, customer_id, COUNT(*) AS n FROM expired
				WHERE customer_id <> '' GROUP BY entity_id, customer_id) g
			WHERE u.entity_id = g.entity_id AND u.customer_id = g.customer_id
		)
		SELECT COUNT(*) FROM expired`

	hasRedemptionSQL = `SELECT EXISTS (
		SELECT 1 FROM usage_redemptions WHERE entity_id = $1 AND customer_id = $2)`

	customerUsageSQL = `SELECT COALESCE(
		(SELECT count FROM usage_customer_counters WHERE entity_id = $1 AND customer_id = $2), 0)`
)

var _ usage.Store = (*UsageStore)(nil)

// UsageStore implements usage.Store backed by PostgreSQL. The conditional
// increment runs in a transaction so the cap check and the counter bump are
// one atomic step under concurrent evaluations.
type UsageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore returns a UsageStore that uses the given pool.
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{pool: pool}
}

// ConditionalIncrement implements usage.Store.
func (s *UsageStore) ConditionalIncrement(ctx context.Context, entityID, customerID string, caps usage.Caps, ttl time.Duration) (string, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("reserving usage for %q: %w", entityID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var count int32
	err = tx.QueryRow(ctx, incrementCounterSQL, entityID, int32(caps.Max)).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reserving usage for %q: %w", entityID, err)
	}

	if customerID != "" {
		err = tx.QueryRow(ctx, incrementCustomerCounterSQL, entityID, customerID, int32(caps.MaxPerCustomer)).Scan(&count)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("reserving usage for %q: %w", entityID, err)
		}
	}

	var reservationID string
	err = tx.QueryRow(ctx, insertReservationSQL, entityID, customerID, ttl.Seconds()).Scan(&reservationID)
	if err != nil {
		return "", false, fmt.Errorf("reserving usage for %q: %w", entityID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("reserving usage for %q: %w", entityID, err)
	}
	return reservationID, true, nil
}

// CommitReservation implements usage.Store. Committing an unknown
// reservation is a no-op: it was already committed, released, or reaped.
func (s *UsageStore) CommitReservation(ctx context.Context, reservationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("committing reservation %q: %w", reservationID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var entityID, customerID string
	err = tx.QueryRow(ctx, takeReservationSQL, reservationID).Scan(&entityID, &customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("committing reservation %q: %w", reservationID, err)
	}

	if customerID != "" {
		if _, err := tx.Exec(ctx, insertRedemptionSQL, entityID, customerID); err != nil {
			return fmt.Errorf("committing reservation %q: %w", reservationID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing reservation %q: %w", reservationID, err)
	}
	return nil
}

// ReleaseReservation implements usage.Store. Releasing an unknown
// reservation is a no-op.
func (s *UsageStore) ReleaseReservation(ctx context.Context, reservationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("releasing reservation %q: %w", reservationID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var entityID, customerID string
	err = tx.QueryRow(ctx, takeReservationSQL, reservationID).Scan(&entityID, &customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("releasing reservation %q: %w", reservationID, err)
	}

	if _, err := tx.Exec(ctx, decrementCounterSQL, entityID); err != nil {
		return fmt.Errorf("releasing reservation %q: %w", reservationID, err)
	}
	if customerID != "" {
		if _, err := tx.Exec(ctx, decrementCustomerCounterSQL, entityID, customerID); err != nil {
			return fmt.Errorf("releasing reservation %q: %w", reservationID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("releasing reservation %q: %w", reservationID, err)
	}
	return nil
}

// ReleaseExpired implements usage.Store.
func (s *UsageStore) ReleaseExpired(ctx context.Context) (int, error) {
	var released int32
	if err := s.pool.QueryRow(ctx, releaseExpiredSQL).Scan(&released); err != nil {
		return 0, fmt.Errorf("releasing expired reservations: %w", err)
	}
	return int(released), nil
}

// HasPriorRedemption implements usage.Store.
func (s *UsageStore) HasPriorRedemption(ctx context.Context, entityID, customerID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, hasRedemptionSQL, entityID, customerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking redemption for %q: %w", entityID, err)
	}
	return exists, nil
}

// CustomerUsage implements usage.Store.
func (s *UsageStore) CustomerUsage(ctx context.Context, entityID, customerID string) (int, error) {
	var count int32
	if err := s.pool.QueryRow(ctx, customerUsageSQL, entityID, customerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("reading customer usage for %q: %w", entityID, err)
	}
	return int(count), nil
}

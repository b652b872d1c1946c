// Package usage tracks promotion and coupon redemption counters. It is the
// only shared mutable state in the pricing engine: everything else is pure,
// and all counter movement goes through the Ledger so two requests racing
// for the last unit of a capped promotion cannot both win.
package usage

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrUsageExceeded is returned when a reservation cannot be acquired because
// a global or per-customer cap is already reached.
var ErrUsageExceeded = errors.New("usage cap reached")

// Caps bounds a reservation. Zero values mean unlimited.
type Caps struct {
	Max            int
	MaxPerCustomer int
}

// Store is the persistence collaborator behind the ledger. Increment must be
// a single atomic conditional operation: exactly one of two concurrent calls
// racing for the last slot may succeed.
type Store interface {
	// ConditionalIncrement reserves one usage slot for the entity (and the
	// customer, when a per-customer cap applies). It returns the reservation
	// id and ok=true on success, or ok=false when a cap is reached. The
	// reservation expires after ttl unless committed or released.
	ConditionalIncrement(ctx context.Context, entityID, customerID string, caps Caps, ttl time.Duration) (reservationID string, ok bool, err error)
	// CommitReservation finalizes a reservation, recording the redemption.
	CommitReservation(ctx context.Context, reservationID string) error
	// ReleaseReservation undoes a reservation, decrementing the counters.
	ReleaseReservation(ctx context.Context, reservationID string) error
	// ReleaseExpired releases every reservation past its deadline and
	// returns how many were reclaimed.
	ReleaseExpired(ctx context.Context) (int, error)
	// HasPriorRedemption reports whether the customer has a committed
	// redemption of the entity (used for one-time-use coupon codes).
	HasPriorRedemption(ctx context.Context, entityID, customerID string) (bool, error)
	// CustomerUsage returns the customer's current usage count for the
	// entity, including uncommitted reservations.
	CustomerUsage(ctx context.Context, entityID, customerID string) (int, error)
}

// Reservation is a provisional claim on a usage slot. It must be committed
// on successful order placement or released on abandonment; otherwise the
// store expires it after the ledger's TTL.
type Reservation struct {
	ID         string
	EntityID   string
	CustomerID string
}

// Ledger wraps a Store with bounded retries and reservation TTL policy.
type Ledger struct {
	store       Store
	ttl         time.Duration
	maxAttempts int
}

// NewLedger creates a Ledger. Reservations expire after ttl; transient store
// errors during Reserve are retried up to three attempts, never indefinitely.
func NewLedger(store Store, ttl time.Duration) *Ledger {
	return &Ledger{store: store, ttl: ttl, maxAttempts: 3}
}

// Reserve acquires one usage slot for the entity. It returns ErrUsageExceeded
// when a cap is already reached, which the pricing pipeline treats as a
// signal to recompute without the contended candidate.
func (l *Ledger) Reserve(ctx context.Context, entityID, customerID string, caps Caps) (*Reservation, error) {
	var lastErr error
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		id, ok, err := l.store.ConditionalIncrement(ctx, entityID, customerID, caps, l.ttl)
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			return nil, ErrUsageExceeded
		}
		return &Reservation{ID: id, EntityID: entityID, CustomerID: customerID}, nil
	}
	return nil, errors.Wrapf(lastErr, "reserve %s", entityID)
}

// Commit finalizes the reservation after successful order placement.
func (l *Ledger) Commit(ctx context.Context, r *Reservation) error {
	if err := l.store.CommitReservation(ctx, r.ID); err != nil {
		return errors.Wrapf(err, "commit reservation %s", r.ID)
	}
	return nil
}

// Release returns the reservation's slot, e.g. on cart abandonment or when a
// later exclusivity decision supersedes the candidate.
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	if err := l.store.ReleaseReservation(ctx, r.ID); err != nil {
		return errors.Wrapf(err, "release reservation %s", r.ID)
	}
	return nil
}

// HasPriorRedemption reports whether the customer already committed a
// redemption of the entity.
func (l *Ledger) HasPriorRedemption(ctx context.Context, entityID, customerID string) (bool, error) {
	return l.store.HasPriorRedemption(ctx, entityID, customerID)
}

// CustomerUsage returns the customer's current usage count for the entity.
func (l *Ledger) CustomerUsage(ctx context.Context, entityID, customerID string) (int, error) {
	return l.store.CustomerUsage(ctx, entityID, customerID)
}

// ReapExpired releases every expired reservation. The application runs this
// periodically so abandoned carts cannot starve capped promotions.
func (l *Ledger) ReapExpired(ctx context.Context) (int, error) {
	return l.store.ReleaseExpired(ctx)
}

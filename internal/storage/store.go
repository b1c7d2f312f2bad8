package storage

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNotFound is returned for unknown ride or owner ids.
var ErrNotFound = errors.New("not found")

// RideUpdate carries the optional fields written together with a status
// transition. Nil fields are left untouched.
type RideUpdate struct {
	DriverID     *string
	Commission   *float64
	DriverAmount *float64
}

// Store is the durable persistence collaborator. Implementations must
// make ConditionalUpdateRideStatus a single atomic operation: the
// status check and the write may not be separable, because acceptance
// arbitration depends on it.
type Store interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// ConditionalUpdateRideStatus applies the update only if the ride
	// currently has the expected status, and reports how many rows were
	// affected (0 or 1). Zero rows is a normal outcome, not an error.
	ConditionalUpdateRideStatus(ctx context.Context, id string, expected, next models.RideStatus, extra RideUpdate) (int64, error)

	// RecordRefusal bumps the durable refusal counter for observability.
	RecordRefusal(ctx context.Context, rideID, driverID string) error

	GetOrCreateBalance(ctx context.Context, ownerID string) (models.Balance, error)
	UpdateBalance(ctx context.Context, ownerID string, amount float64) error
	AppendTransaction(ctx context.Context, tx models.Transaction) error

	// TransactionExists reports whether an entry with the given
	// reference and category was already appended. Settlement uses it
	// to stay idempotent across retries.
	TransactionExists(ctx context.Context, reference, category string) (bool, error)
}

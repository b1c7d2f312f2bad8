package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate executes a migration script verbatim.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(
		id, passenger_id, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
		pickup_address, dropoff_address, distance_m, price, status,
		refusal_count, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.PassengerID, r.DriverID, r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng,
		r.PickupAddress, r.DropoffAddress, r.DistanceM, r.Price, r.Status,
		r.RefusalCount, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT
		id, passenger_id, COALESCE(driver_id,''), pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
		pickup_address, dropoff_address, distance_m, price, status,
		refusal_count, COALESCE(last_refused_by,''), commission, driver_amount, created_at, updated_at
		FROM rides WHERE id=$1`, id).Scan(
		&r.ID, &r.PassengerID, &r.DriverID, &r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng,
		&r.PickupAddress, &r.DropoffAddress, &r.DistanceM, &r.Price, &status,
		&r.RefusalCount, &r.LastRefusedBy, &r.Commission, &r.DriverAmount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RideStatus(status)
	return &r, nil
}

// ConditionalUpdateRideStatus is the arbitration primitive: a single
// UPDATE guarded by the expected status, so concurrent callers race on
// the row lock and exactly one observes an affected row.
func (p *PostgresStore) ConditionalUpdateRideStatus(ctx context.Context, id string, expected, next models.RideStatus, extra RideUpdate) (int64, error) {
	q := `UPDATE rides SET status=$1, updated_at=$2`
	args := []any{string(next), time.Now()}
	if extra.DriverID != nil {
		args = append(args, *extra.DriverID)
		q += fmt.Sprintf(", driver_id=$%d", len(args))
	}
	if extra.Commission != nil {
		args = append(args, *extra.Commission)
		q += fmt.Sprintf(", commission=$%d", len(args))
	}
	if extra.DriverAmount != nil {
		args = append(args, *extra.DriverAmount)
		q += fmt.Sprintf(", driver_amount=$%d", len(args))
	}
	args = append(args, id)
	q += fmt.Sprintf(" WHERE id=$%d", len(args))
	args = append(args, string(expected))
	q += fmt.Sprintf(" AND status=$%d", len(args))

	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresStore) RecordRefusal(ctx context.Context, rideID, driverID string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE rides
		SET refusal_count = refusal_count + 1, last_refused_by = $2, updated_at = $3
		WHERE id = $1`, rideID, driverID, time.Now())
	return err
}

func (p *PostgresStore) GetOrCreateBalance(ctx context.Context, ownerID string) (models.Balance, error) {
	_, err := p.db.ExecContext(ctx, `INSERT INTO balances(owner_id, amount, updated_at)
		VALUES($1, 0, $2) ON CONFLICT (owner_id) DO NOTHING`, ownerID, time.Now())
	if err != nil {
		return models.Balance{}, err
	}
	var b models.Balance
	err = p.db.QueryRowContext(ctx, `SELECT owner_id, amount, updated_at FROM balances WHERE owner_id=$1`, ownerID).
		Scan(&b.OwnerID, &b.Amount, &b.UpdatedAt)
	return b, err
}

func (p *PostgresStore) UpdateBalance(ctx context.Context, ownerID string, amount float64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE balances SET amount=$2, updated_at=$3 WHERE owner_id=$1`,
		ownerID, amount, time.Now())
	return err
}

func (p *PostgresStore) TransactionExists(ctx context.Context, reference, category string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE reference=$1 AND category=$2)`,
		reference, category).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) AppendTransaction(ctx context.Context, tx models.Transaction) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO transactions(
		owner_id, direction, amount, category, prior_balance, new_balance, reference, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		tx.OwnerID, string(tx.Direction), tx.Amount, tx.Category,
		tx.PriorBalance, tx.NewBalance, tx.Reference, tx.CreatedAt)
	return err
}

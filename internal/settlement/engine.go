package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Engine performs the financial bookkeeping for a completed ride: it
// splits the agreed price into platform commission and driver net
// amount, credits the driver's balance and writes immutable transaction
// records. Balance updates are serialized per owner so rides completing
// concurrently for the same driver never lose an update.
type Engine struct {
	Store  storage.Store
	Rate   float64 // commission rate, e.g. 0.20
	Logger *slog.Logger

	locks sync.Map // ownerID -> *sync.Mutex
}

// Result reports the settlement split for one ride.
type Result struct {
	Commission   float64
	DriverAmount float64
	PriorBalance float64
	NewBalance   float64
}

// Settle credits the driver for one ride. It is idempotent per ride:
// the credit transaction is keyed by the ride id, and a ride that
// already has one is never paid again, so a finish retried after a
// partial failure cannot double-credit.
func (e *Engine) Settle(ctx context.Context, ride *models.Ride) (Result, error) {
	if ride.DriverID == "" {
		return Result{}, fmt.Errorf("ride %s has no driver to settle", ride.ID)
	}

	commission := ride.Price * e.Rate
	net := ride.Price - commission

	mu := e.ownerLock(ride.DriverID)
	mu.Lock()
	defer mu.Unlock()

	settled, err := e.Store.TransactionExists(ctx, ride.ID, "ride_earnings")
	if err != nil {
		return Result{}, fmt.Errorf("check prior settlement: %w", err)
	}

	bal, err := e.Store.GetOrCreateBalance(ctx, ride.DriverID)
	if err != nil {
		return Result{}, fmt.Errorf("load balance: %w", err)
	}

	if settled {
		if e.Logger != nil {
			e.Logger.Info("ride already settled, skipping credit", "ride_id", ride.ID, "driver_id", ride.DriverID)
		}
		return Result{
			Commission:   commission,
			DriverAmount: net,
			PriorBalance: bal.Amount - net,
			NewBalance:   bal.Amount,
		}, nil
	}

	prior := bal.Amount
	updated := prior + net

	now := time.Now()
	credit := models.Transaction{
		OwnerID:      ride.DriverID,
		Direction:    models.TxCredit,
		Amount:       net,
		Category:     "ride_earnings",
		PriorBalance: &prior,
		NewBalance:   &updated,
		Reference:    ride.ID,
		CreatedAt:    now,
	}
	if err := e.Store.AppendTransaction(ctx, credit); err != nil {
		return Result{}, fmt.Errorf("append credit: %w", err)
	}
	if err := e.Store.UpdateBalance(ctx, ride.DriverID, updated); err != nil {
		return Result{}, fmt.Errorf("update balance: %w", err)
	}

	// The commission is retained by the platform, not paid to any
	// in-system balance; the debit entry exists for audit only.
	audit := models.Transaction{
		OwnerID:   ride.DriverID,
		Direction: models.TxDebit,
		Amount:    commission,
		Category:  "commission",
		Reference: ride.ID,
		CreatedAt: now,
	}
	if err := e.Store.AppendTransaction(ctx, audit); err != nil {
		return Result{}, fmt.Errorf("append commission audit: %w", err)
	}

	if e.Logger != nil {
		e.Logger.Info("ride settled",
			"ride_id", ride.ID,
			"driver_id", ride.DriverID,
			"price", ride.Price,
			"commission", commission,
			"driver_amount", net,
			"new_balance", updated,
		)
	}
	return Result{Commission: commission, DriverAmount: net, PriorBalance: prior, NewBalance: updated}, nil
}

func (e *Engine) ownerLock(ownerID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(ownerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

// transition applies one lifecycle edge through the store's conditional
// update. Callers hold the per-ride lock. Zero affected rows is mapped
// to NotFound or InvalidTransition by re-reading the authoritative
// status.
func (s *Service) transition(ctx context.Context, rideID string, from, to models.RideStatus, extra storage.RideUpdate) (*models.Ride, error) {
	if err := rides.CheckTransition(from, to); err != nil {
		return nil, err
	}

	affected, err := s.Store.ConditionalUpdateRideStatus(ctx, rideID, from, to, extra)
	if err != nil {
		return nil, wrapStore("update ride status", err)
	}
	if affected == 0 {
		current, err := s.Store.GetRide(ctx, rideID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		if err != nil {
			return nil, wrapStore("load ride", err)
		}
		return nil, fmt.Errorf("%w: %s -> %s", rides.ErrInvalidTransition, current.Status, to)
	}

	s.Ledger.SetStatus(rideID, to)

	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, wrapStore("load ride", err)
	}
	return ride, nil
}

// currentStatus prefers the in-memory ledger and falls back to the
// durable record.
func (s *Service) currentStatus(ctx context.Context, rideID string) (models.RideStatus, error) {
	if st, ok := s.Ledger.Snapshot(rideID); ok {
		return st.Ride.Status, nil
	}
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return "", wrapStore("load ride", err)
	}
	return ride.Status, nil
}

// HandleArrived marks the driver at the pickup point and tells the
// passenger.
func (s *Service) HandleArrived(ctx context.Context, rideID, driverID string) error {
	mu := s.rideLock(rideID)
	mu.Lock()
	defer mu.Unlock()

	ride, err := s.transition(ctx, rideID, models.StatusAccepted, models.StatusArrived, storage.RideUpdate{})
	if err != nil {
		return err
	}

	s.Logger.Info("driver arrived", "ride_id", rideID, "driver_id", driverID)
	s.emitRideEvent(ctx, ride)
	s.sendToPassenger(rideID, ride.PassengerID, EvtRideArrived, map[string]any{"ride_id": rideID})
	return nil
}

// HandleStart begins the trip.
func (s *Service) HandleStart(ctx context.Context, rideID, driverID string) error {
	mu := s.rideLock(rideID)
	mu.Lock()
	defer mu.Unlock()

	ride, err := s.transition(ctx, rideID, models.StatusArrived, models.StatusInProgress, storage.RideUpdate{})
	if err != nil {
		return err
	}

	s.Logger.Info("ride started", "ride_id", rideID, "driver_id", driverID)
	s.emitRideEvent(ctx, ride)
	s.sendToPassenger(rideID, ride.PassengerID, EvtRideInProgress, map[string]any{"ride_id": rideID})
	return nil
}

// HandleFinish completes the trip. Settlement runs under the per-ride
// lock as part of completion: the lifecycle table makes a second
// in_progress -> completed attempt fail, so settlement runs exactly
// once per ride.
func (s *Service) HandleFinish(ctx context.Context, rideID, driverID string) error {
	mu := s.rideLock(rideID)
	mu.Lock()
	defer mu.Unlock()

	status, err := s.currentStatus(ctx, rideID)
	if err != nil {
		return err
	}
	if err := rides.CheckTransition(status, models.StatusCompleted); err != nil {
		return err
	}

	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return wrapStore("load ride", err)
	}

	res, err := s.Settle.Settle(ctx, ride)
	if err != nil {
		return fmt.Errorf("settle ride %s: %w", rideID, err)
	}

	updated, err := s.transition(ctx, rideID, models.StatusInProgress, models.StatusCompleted, storage.RideUpdate{
		Commission:   &res.Commission,
		DriverAmount: &res.DriverAmount,
	})
	if err != nil {
		return err
	}

	s.Presence.Release(updated.DriverID)
	s.Ledger.Remove(rideID)

	observability.RidesSettled.Inc()
	s.Logger.Info("ride completed",
		"ride_id", rideID, "driver_id", updated.DriverID,
		"price", updated.Price, "driver_amount", res.DriverAmount)
	s.emitRideEvent(ctx, updated)
	s.sendToPassenger(rideID, updated.PassengerID, EvtRideCompleted, map[string]any{
		"ride_id": rideID, "price": updated.Price,
	})
	return nil
}

// HandleCancel cancels a ride that has not started yet and notifies the
// counterparty. cancelledBy is "passenger", "driver" or "system".
func (s *Service) HandleCancel(ctx context.Context, rideID, cancelledBy, reason string) error {
	mu := s.rideLock(rideID)
	mu.Lock()
	defer mu.Unlock()

	status, err := s.currentStatus(ctx, rideID)
	if err != nil {
		return err
	}
	if !rides.Cancellable(status) {
		return fmt.Errorf("%w: %s -> %s", rides.ErrInvalidTransition, status, models.StatusCancelled)
	}

	ride, err := s.transition(ctx, rideID, status, models.StatusCancelled, storage.RideUpdate{})
	if err != nil {
		return err
	}

	if ride.DriverID != "" {
		s.Presence.Release(ride.DriverID)
		if cancelledBy != "driver" {
			s.sendToDriver(ride.DriverID, EvtRideCancelled, map[string]any{
				"ride_id": rideID, "cancelled_by": cancelledBy, "reason": reason,
			})
		}
	}
	if cancelledBy != "passenger" {
		s.sendToPassenger(rideID, ride.PassengerID, EvtRideCancelled, map[string]any{
			"ride_id": rideID, "cancelled_by": cancelledBy, "reason": reason,
		})
	}

	s.Ledger.Remove(rideID)
	observability.RidesCancelled.Inc()
	s.Logger.Info("ride cancelled", "ride_id", rideID, "by", cancelledBy, "reason", reason)
	s.emitRideEvent(ctx, ride)
	return nil
}

// ConfirmPayment charges the passenger for a completed ride and marks
// it paid. Re-confirming an already-paid ride is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, rideID, paymentMethodRef string) error {
	mu := s.rideLock(rideID)
	mu.Lock()
	defer mu.Unlock()

	ride, err := s.Store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return wrapStore("load ride", err)
	}
	if ride.Status == models.StatusPaid {
		return nil
	}
	if err := rides.CheckTransition(ride.Status, models.StatusPaid); err != nil {
		return err
	}

	if s.Charger != nil {
		if err := s.Charger.Charge(ctx, ride.Price, s.Currency, paymentMethodRef); err != nil {
			// The ride stays completed; the charge may be retried.
			return err
		}
	}

	updated, err := s.transition(ctx, rideID, models.StatusCompleted, models.StatusPaid, storage.RideUpdate{})
	if err != nil {
		return err
	}

	s.Logger.Info("ride paid", "ride_id", rideID, "price", updated.Price)
	s.emitRideEvent(ctx, updated)
	s.sendToPassenger(rideID, updated.PassengerID, EvtRidePaid, map[string]any{"ride_id": rideID})
	if updated.DriverID != "" {
		s.sendToDriver(updated.DriverID, EvtRidePaid, map[string]any{"ride_id": rideID})
	}
	return nil
}

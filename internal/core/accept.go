package core

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// AcceptOutcome is the result of an acceptance attempt. AlreadyTaken is
// a normal concurrent-loss outcome, not a fault.
type AcceptOutcome int

const (
	Accepted AcceptOutcome = iota
	AlreadyTaken
	NotFound
	DriverBusy
)

func (o AcceptOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyTaken:
		return "already_taken"
	case DriverBusy:
		return "driver_busy"
	default:
		return "not_found"
	}
}

// AttemptAccept converts "first driver to accept" into a durable,
// exclusive claim. The arbitration is a single conditional update
// against the store — status is checked and written in one atomic
// statement, so for any number of concurrent attempts exactly one
// observes an affected row. Reading and then writing in two steps would
// reintroduce the race and is deliberately absent here.
func (s *Service) AttemptAccept(ctx context.Context, rideID, driverID string) (AcceptOutcome, error) {
	mu := s.rideLock(rideID)
	mu.Lock()
	defer mu.Unlock()

	// One driver handles at most one active ride at a time.
	if d, ok := s.Presence.Driver(driverID); ok && d.CurrentRideID != "" && d.CurrentRideID != rideID {
		s.Logger.Info("accept rejected, driver busy",
			"ride_id", rideID, "driver_id", driverID, "current_ride", d.CurrentRideID)
		return DriverBusy, nil
	}

	affected, err := s.Store.ConditionalUpdateRideStatus(ctx, rideID,
		models.StatusRequested, models.StatusAccepted,
		storage.RideUpdate{DriverID: &driverID})
	if err != nil {
		return NotFound, wrapStore("accept ride", err)
	}
	if affected == 0 {
		if _, err := s.Store.GetRide(ctx, rideID); errors.Is(err, storage.ErrNotFound) {
			return NotFound, nil
		} else if err != nil {
			return NotFound, wrapStore("load ride", err)
		}
		observability.AcceptConflicts.Inc()
		s.Logger.Info("accept lost race", "ride_id", rideID, "driver_id", driverID)
		return AlreadyTaken, nil
	}

	// Winner: reflect the claim in memory and fan out notifications.
	s.Ledger.SetStatus(rideID, models.StatusAccepted)
	s.Ledger.SetDriver(rideID, driverID)
	s.Presence.Assign(driverID, rideID)

	d, _ := s.Presence.Driver(driverID)
	if d.ID != "" {
		s.Ledger.SetDriverLocation(rideID, d.Location)
	}

	st, ok := s.Ledger.Snapshot(rideID)
	ride := st.Ride
	if !ok {
		// Ledger can be behind the durable store after a restart; the
		// store stays authoritative for the ride itself.
		if r, err := s.Store.GetRide(ctx, rideID); err == nil {
			ride = *r
		}
	}

	observability.AcceptWins.Inc()
	s.Logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)
	s.emitRideEvent(ctx, &ride)

	s.sendToPassenger(rideID, ride.PassengerID, EvtRideAccepted, map[string]any{
		"ride_id":         rideID,
		"driver_id":       driverID,
		"driver_name":     d.Name,
		"driver_location": d.Location,
	})

	// Previously offered drivers learn the ride is gone; the losing
	// side of the race gets its own reply from the transport layer.
	for _, other := range st.OfferedTo {
		if other == driverID {
			continue
		}
		s.sendToDriver(other, EvtRideUnavailable, map[string]any{"ride_id": rideID})
	}

	s.sendToDriver(driverID, EvtRideConfirmed, map[string]any{
		"ride_id": rideID,
		"pickup":  ride.Pickup,
		"dropoff": ride.Dropoff,
		"price":   ride.Price,
	})

	return Accepted, nil
}

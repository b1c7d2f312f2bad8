package core

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

// HandleRideRequest creates the durable ride, seeds the in-memory offer
// state and starts the offer cycle. The passenger gets a confirmation
// whether or not a driver is currently available; with no candidate the
// ride simply stays requested until one comes online.
func (s *Service) HandleRideRequest(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	est := s.Fare.Estimate(req.Pickup, req.Dropoff)

	now := time.Now()
	ride := models.Ride{
		ID:             newID(),
		PassengerID:    req.PassengerID,
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		DistanceM:      est.DistanceM,
		Price:          est.Price,
		Status:         models.StatusRequested,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreateRide(ctx, &ride); err != nil {
		return models.Ride{}, wrapStore("create ride", err)
	}

	passengerSess, _ := s.Presence.PassengerSession(req.PassengerID)
	s.Ledger.Create(ride, passengerSess)

	observability.RidesRequested.Inc()
	s.Logger.Info("ride requested",
		"ride_id", ride.ID, "passenger_id", ride.PassengerID,
		"distance_m", ride.DistanceM, "price", ride.Price)
	s.emitRideEvent(ctx, &ride)

	s.sendToPassenger(ride.ID, ride.PassengerID, EvtRideRequested, map[string]any{
		"ride_id": ride.ID, "price": ride.Price, "distance_m": ride.DistanceM,
	})

	s.offerNext(ride.ID)
	return ride, nil
}

// offerNext picks the next candidate for a pending ride and delivers
// the offer to that driver only. Candidates are scanned in registration
// order; drivers already offered the ride or who refused it are
// excluded for its whole lifetime. MarkOffered arbitrates concurrent
// cycles: whichever cycle adds the driver first owns the send, any
// other backs off. No candidate means no active offer: the scheduler
// is re-invoked on refusal and on drivers coming online.
func (s *Service) offerNext(rideID string) (string, bool) {
	st, ok := s.Ledger.Snapshot(rideID)
	if !ok || st.Ride.Status != models.StatusRequested {
		return "", false
	}

	for _, d := range s.Presence.OnlineDrivers() {
		if !d.Available || d.CurrentRideID != "" {
			continue
		}
		if st.Excluded(d.ID) {
			continue
		}
		if !s.Ledger.MarkOffered(rideID, d.ID) {
			return "", false
		}
		offer := models.RideOffer{
			RideID:         st.Ride.ID,
			PassengerID:    st.Ride.PassengerID,
			Pickup:         st.Ride.Pickup,
			Dropoff:        st.Ride.Dropoff,
			PickupAddress:  st.Ride.PickupAddress,
			DropoffAddress: st.Ride.DropoffAddress,
			DistanceM:      st.Ride.DistanceM,
			Price:          st.Ride.Price,
		}
		s.sendToDriver(d.ID, EvtNewRideOffer, offer)
		observability.OffersSent.Inc()
		s.Logger.Info("ride offered", "ride_id", rideID, "driver_id", d.ID)
		return d.ID, true
	}

	s.Logger.Info("no eligible driver for ride", "ride_id", rideID)
	return "", false
}

// HandleRefuse records the refusal durably, tells the passenger and
// moves on to the next candidate. The ride status never leaves
// requested on refusal.
func (s *Service) HandleRefuse(ctx context.Context, rideID, driverID string) error {
	mu := s.rideLock(rideID)
	mu.Lock()
	defer mu.Unlock()

	st, ok := s.Ledger.Snapshot(rideID)
	if !ok {
		return storage.ErrNotFound
	}
	if st.Ride.Status != models.StatusRequested {
		return fmt.Errorf("%w: refuse while %s", rides.ErrInvalidTransition, st.Ride.Status)
	}

	if err := s.Store.RecordRefusal(ctx, rideID, driverID); err != nil {
		return wrapStore("record refusal", err)
	}
	s.Ledger.MarkRefused(rideID, driverID)

	observability.OffersRefused.Inc()
	s.Logger.Info("offer refused", "ride_id", rideID, "driver_id", driverID)

	s.sendToPassenger(rideID, st.Ride.PassengerID, EvtRideRefused, map[string]any{
		"ride_id": rideID, "driver_id": driverID,
	})

	s.offerNext(rideID)
	return nil
}

// HandleDriverOnline registers presence and replays every pending ride
// the driver is not excluded from through the scheduler, so a ride left
// waiting with no candidates gets a fresh chance. A driver returning
// with an open ride is bound back to it first: the presence record does
// not survive a transport disconnect, but the ride does, and the driver
// must come back busy, not free.
func (s *Service) HandleDriverOnline(driverID, name string, loc models.Coord, sess dispatch.Sender) {
	s.Presence.MarkOnline(driverID, name, loc, sess)
	observability.DriversOnline.Set(float64(s.Presence.OnlineCount()))
	s.Logger.Info("driver online", "driver_id", driverID, "online", s.Presence.OnlineCount())

	if st, ok := s.Ledger.ActiveForDriver(driverID); ok {
		s.Presence.Assign(driverID, st.Ride.ID)
		s.Logger.Info("driver rebound to open ride", "driver_id", driverID, "ride_id", st.Ride.ID)
		return
	}

	for _, st := range s.Ledger.Pending() {
		if st.Excluded(driverID) {
			continue
		}
		s.offerNext(st.Ride.ID)
	}
}

// HandleDriverOffline removes presence on an explicit offline signal.
// Unknown drivers are a no-op.
func (s *Service) HandleDriverOffline(driverID string) {
	s.Presence.MarkOffline(driverID)
	observability.DriversOnline.Set(float64(s.Presence.OnlineCount()))
	s.Logger.Info("driver offline", "driver_id", driverID, "online", s.Presence.OnlineCount())
}

// HandlePassengerOnline binds the passenger's live connection and
// re-binds it to any open rides so relayed positions reach the new
// session after a reconnect.
func (s *Service) HandlePassengerOnline(passengerID string, sess dispatch.Sender) {
	s.Presence.RegisterPassenger(passengerID, sess)
	s.Ledger.RebindPassenger(passengerID, sess)
}

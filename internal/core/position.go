package core

import (
	"context"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// HandlePositionUpdate records the driver's position, relays it to the
// assigned passenger and fires the geofence check against the pickup
// point. Unknown drivers are ignored.
func (s *Service) HandlePositionUpdate(ctx context.Context, driverID string, loc models.Coord) {
	d, ok := s.Presence.UpdateLocation(driverID, loc)
	if !ok {
		return
	}

	update := models.PositionUpdate{
		DriverID: driverID,
		RideID:   d.CurrentRideID,
		Location: loc,
		At:       time.Now(),
	}
	if s.Stream != nil {
		if err := s.Stream.PublishPosition(update); err != nil {
			s.Logger.Debug("position publish failed", "driver_id", driverID, "error", err)
		}
	}

	if d.CurrentRideID == "" {
		return
	}
	rideID := d.CurrentRideID
	s.Ledger.SetDriverLocation(rideID, loc)

	st, ok := s.Ledger.Snapshot(rideID)
	if !ok {
		return
	}

	s.sendToPassenger(rideID, st.Ride.PassengerID, EvtDriverPosition, update)

	distM := geo.Haversine(loc.Lat, loc.Lng, st.Ride.Pickup.Lat, st.Ride.Pickup.Lng)
	if distM < s.ArrivalRadiusM && s.Ledger.MarkArrivingNotified(rideID) {
		observability.ArrivingEvents.Inc()
		s.Logger.Info("driver arriving", "ride_id", rideID, "driver_id", driverID, "distance_m", distM)
		s.sendToPassenger(rideID, st.Ride.PassengerID, EvtDriverArriving, map[string]any{
			"ride_id": rideID, "distance_m": distM,
		})
	}
}

// HandleDisconnect applies the disconnect policy when a transport
// connection is lost. A driver assigned to a ride that has not started
// causes the system to cancel the ride and notify the passenger; a trip
// already in progress is left running so the driver can reconnect and
// finish it. Idle drivers and passengers only lose their presence
// entries.
func (s *Service) HandleDisconnect(ctx context.Context, sess dispatch.Sender) {
	s.Hub.Remove(sess)
	drivers, passengers := s.Presence.Unregister(sess)
	observability.DriversOnline.Set(float64(s.Presence.OnlineCount()))

	for _, d := range drivers {
		s.Logger.Info("driver disconnected", "driver_id", d.ID, "current_ride", d.CurrentRideID)
		if d.CurrentRideID == "" {
			continue
		}
		if err := s.HandleCancel(ctx, d.CurrentRideID, "system", "driver disconnected"); err != nil {
			s.Logger.Warn("disconnect cancel skipped", "ride_id", d.CurrentRideID, "error", err)
		}
	}
	for _, pid := range passengers {
		s.Logger.Info("passenger disconnected", "passenger_id", pid)
	}
}

package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/settlement"
	"github.com/example/ride-dispatch/internal/storage"
)

// Realtime event names consumed by driver and passenger apps.
const (
	EvtNewRideOffer    = "new-ride-offer"
	EvtRideRequested   = "ride-requested"
	EvtRideAccepted    = "ride-accepted"
	EvtRideConfirmed   = "ride-confirmed"
	EvtRideUnavailable = "ride-unavailable"
	EvtRideRefused     = "ride-refused"
	EvtRideArrived     = "ride-arrived"
	EvtRideInProgress  = "ride-in-progress"
	EvtRideCompleted   = "ride-completed"
	EvtRideCancelled   = "ride-cancelled"
	EvtRidePaid        = "ride-paid"
	EvtDriverPosition  = "driver-position-update"
	EvtDriverArriving  = "driver-arriving"
	EvtPresenceChanged = "presence-changed"
)

// ErrPersistence marks a durable store failure. In-memory state has not
// been mutated when this is returned; the caller may retry the whole
// operation.
var ErrPersistence = errors.New("persistence unavailable")

// PositionStream receives every driver position sample, best effort.
type PositionStream interface {
	PublishPosition(models.PositionUpdate) error
}

// EventSink receives ride lifecycle events for back-office consumers.
type EventSink interface {
	PublishRideEvent(ctx context.Context, ev events.RideEvent)
}

// Settler runs the financial bookkeeping at completion.
type Settler interface {
	Settle(ctx context.Context, ride *models.Ride) (settlement.Result, error)
}

// Service is the dispatch core: every inbound realtime event lands in
// one of its handlers. Cross-ride state lives in the presence registry
// and ride ledger; transitions for a single ride are totally ordered by
// a per-ride lock, while unrelated rides proceed concurrently.
type Service struct {
	Presence *presence.Registry
	Ledger   *rides.Ledger
	Store    storage.Store
	Settle   Settler
	Fare     *fare.Estimator
	Hub      *dispatch.Hub
	Charger  payments.Charger // optional
	Stream   PositionStream   // optional
	Events   EventSink        // optional
	Logger   *slog.Logger

	ArrivalRadiusM float64
	Currency       string

	rideLocks sync.Map // rideID -> *sync.Mutex
}

func (s *Service) rideLock(rideID string) *sync.Mutex {
	v, _ := s.rideLocks.LoadOrStore(rideID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) emitRideEvent(ctx context.Context, r *models.Ride) {
	if s.Events == nil {
		return
	}
	s.Events.PublishRideEvent(ctx, events.RideEvent{
		RideID:      r.ID,
		PassengerID: r.PassengerID,
		DriverID:    r.DriverID,
		Status:      r.Status,
		Price:       r.Price,
		At:          r.UpdatedAt,
	})
}

// sendToDriver delivers an event to one online driver, best effort.
func (s *Service) sendToDriver(driverID, event string, payload any) {
	d, ok := s.Presence.Driver(driverID)
	if !ok || d.Session == nil {
		return
	}
	if err := d.Session.Send(event, payload); err != nil {
		s.Logger.Debug("driver send failed", "driver_id", driverID, "event", event, "error", err)
	}
}

// sendToPassenger prefers the session captured on the ride, falling
// back to the presence table.
func (s *Service) sendToPassenger(rideID, passengerID, event string, payload any) {
	var sess dispatch.Sender
	if st, ok := s.Ledger.Snapshot(rideID); ok && st.PassengerSession != nil {
		sess = st.PassengerSession
	} else if ps, ok := s.Presence.PassengerSession(passengerID); ok {
		sess = ps
	}
	if sess == nil {
		return
	}
	if err := sess.Send(event, payload); err != nil {
		s.Logger.Debug("passenger send failed", "passenger_id", passengerID, "event", event, "error", err)
	}
}

// wrapStore classifies durable-store failures for the transport layer.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }

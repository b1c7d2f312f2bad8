package rides

import (
	"sync"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
)

// State is the in-flight offer state of one ride. It mirrors, but is
// independent from, the durable record: the store is authoritative for
// status, the ledger is authoritative for who has been offered or has
// refused, which is ephemeral.
type State struct {
	Ride             models.Ride
	PassengerSession dispatch.Sender
	OfferedTo        []string // in offer order
	RefusedBy        []string
	DriverLocation   models.Coord
	HasDriverLoc     bool
	ArrivingNotified bool
}

// Excluded reports whether the driver has already been offered this
// ride or refused it.
func (s *State) Excluded(driverID string) bool {
	return contains(s.OfferedTo, driverID) || contains(s.RefusedBy, driverID)
}

// Ledger is the in-memory table of in-flight rides. Mutations are
// synchronous under a single mutex and never suspend; durable work
// happens outside, under the per-ride locks owned by the core.
type Ledger struct {
	mu    sync.RWMutex
	rides map[string]*State
}

func NewLedger() *Ledger {
	return &Ledger{rides: make(map[string]*State)}
}

func (l *Ledger) Create(ride models.Ride, passengerSess dispatch.Sender) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rides[ride.ID]; ok {
		return
	}
	l.rides[ride.ID] = &State{Ride: ride, PassengerSession: passengerSess}
}

// Snapshot returns a deep copy of the ride's offer state.
func (l *Ledger) Snapshot(rideID string) (State, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.rides[rideID]
	if !ok {
		return State{}, false
	}
	out := *s
	out.OfferedTo = append([]string(nil), s.OfferedTo...)
	out.RefusedBy = append([]string(nil), s.RefusedBy...)
	return out, true
}

// MarkOffered records that the ride was offered to the driver, growing
// the exclusion set. Returns true only when the driver was newly added,
// so concurrent offer cycles resolve to a single owner of the send.
func (l *Ledger) MarkOffered(rideID, driverID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.rides[rideID]
	if !ok || contains(s.OfferedTo, driverID) {
		return false
	}
	s.OfferedTo = append(s.OfferedTo, driverID)
	return true
}

// MarkRefused moves the driver into the refused set. Refusal is
// monotone: a refused driver is never offered this ride again.
func (l *Ledger) MarkRefused(rideID, driverID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.rides[rideID]
	if !ok {
		return false
	}
	if !contains(s.RefusedBy, driverID) {
		s.RefusedBy = append(s.RefusedBy, driverID)
	}
	return true
}

func (l *Ledger) SetStatus(rideID string, status models.RideStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.rides[rideID]; ok {
		s.Ride.Status = status
	}
}

func (l *Ledger) SetDriver(rideID, driverID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.rides[rideID]; ok {
		s.Ride.DriverID = driverID
	}
}

func (l *Ledger) SetPassengerSession(rideID string, sess dispatch.Sender) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.rides[rideID]; ok {
		s.PassengerSession = sess
	}
}

// RebindPassenger points every open ride of the passenger at a new
// session, used after a reconnect.
func (l *Ledger) RebindPassenger(passengerID string, sess dispatch.Sender) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.rides {
		if s.Ride.PassengerID == passengerID {
			s.PassengerSession = sess
		}
	}
}

func (l *Ledger) SetDriverLocation(rideID string, loc models.Coord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.rides[rideID]; ok {
		s.DriverLocation = loc
		s.HasDriverLoc = true
	}
}

// MarkArrivingNotified flips the geofence latch; returns true only the
// first time so the arriving event fires once per ride.
func (l *Ledger) MarkArrivingNotified(rideID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.rides[rideID]
	if !ok || s.ArrivingNotified {
		return false
	}
	s.ArrivingNotified = true
	return true
}

// Remove drops a ride that reached a terminal state. The durable record
// persists; only the offer state is discarded.
func (l *Ledger) Remove(rideID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rides, rideID)
}

// Pending returns snapshots of all rides still waiting for a driver.
func (l *Ledger) Pending() []State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]State, 0)
	for _, s := range l.rides {
		if s.Ride.Status != models.StatusRequested {
			continue
		}
		c := *s
		c.OfferedTo = append([]string(nil), s.OfferedTo...)
		c.RefusedBy = append([]string(nil), s.RefusedBy...)
		out = append(out, c)
	}
	return out
}

// ActiveForDriver returns the ride currently assigned to the driver.
func (l *Ledger) ActiveForDriver(driverID string) (State, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.rides {
		if s.Ride.DriverID == driverID && !s.Ride.Status.Terminal() {
			c := *s
			c.OfferedTo = append([]string(nil), s.OfferedTo...)
			c.RefusedBy = append([]string(nil), s.RefusedBy...)
			return c, true
		}
	}
	return State{}, false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

package presence

import (
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
)

// Driver is the presence record for one online driver.
// Invariant: CurrentRideID != "" implies Available == false.
type Driver struct {
	ID            string
	Name          string
	Session       dispatch.Sender
	Location      models.Coord
	Available     bool
	CurrentRideID string

	seq uint64 // registration order, first online first offered
}

// Registry is the process-wide table of online drivers and passengers.
// It is constructed once and injected into handlers; all operations are
// idempotent upserts and unknown ids are treated as no-ops.
type Registry struct {
	mu         sync.RWMutex
	drivers    map[string]*Driver
	passengers map[string]dispatch.Sender
	nextSeq    uint64

	// notify receives a presence snapshot after every state change.
	// It is invoked outside the registry lock on its own goroutine and
	// must never be able to block a mutation.
	notify func(models.DriverSnapshot)
}

func NewRegistry(notify func(models.DriverSnapshot)) *Registry {
	return &Registry{
		drivers:    make(map[string]*Driver),
		passengers: make(map[string]dispatch.Sender),
		notify:     notify,
	}
}

// MarkOnline upserts the driver record. An existing record keeps its
// assignment and stays unavailable; a record lost to a transport
// disconnect comes back free, and rebinding the driver to an open ride
// is the scheduler's job.
func (r *Registry) MarkOnline(id, name string, loc models.Coord, sess dispatch.Sender) {
	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok {
		r.nextSeq++
		d = &Driver{ID: id, seq: r.nextSeq}
		r.drivers[id] = d
	}
	d.Name = name
	d.Location = loc
	d.Session = sess
	d.Available = d.CurrentRideID == ""
	snap := snapshot(d, true)
	r.mu.Unlock()

	r.emit(snap)
}

func (r *Registry) MarkOffline(id string) {
	r.mu.Lock()
	d, ok := r.drivers[id]
	var snap models.DriverSnapshot
	if ok {
		snap = snapshot(d, false)
		delete(r.drivers, id)
	}
	r.mu.Unlock()

	if ok {
		r.emit(snap)
	}
}

// UpdateLocation records the driver's last known position and returns
// the updated record. Unknown drivers are ignored.
func (r *Registry) UpdateLocation(id string, loc models.Coord) (Driver, bool) {
	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok {
		r.mu.Unlock()
		return Driver{}, false
	}
	d.Location = loc
	out := *d
	snap := snapshot(d, true)
	r.mu.Unlock()

	r.emit(snap)
	return out, true
}

func (r *Registry) RegisterPassenger(id string, sess dispatch.Sender) {
	r.mu.Lock()
	r.passengers[id] = sess
	r.mu.Unlock()
}

func (r *Registry) PassengerSession(id string) (dispatch.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.passengers[id]
	return s, ok
}

// Assign marks the driver busy with the given ride.
func (r *Registry) Assign(driverID, rideID string) bool {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	var snap models.DriverSnapshot
	if ok {
		d.CurrentRideID = rideID
		d.Available = false
		snap = snapshot(d, true)
	}
	r.mu.Unlock()

	if ok {
		r.emit(snap)
	}
	return ok
}

// Release returns the driver to the available pool.
func (r *Registry) Release(driverID string) {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	var snap models.DriverSnapshot
	if ok {
		d.CurrentRideID = ""
		d.Available = true
		snap = snapshot(d, true)
	}
	r.mu.Unlock()

	if ok {
		r.emit(snap)
	}
}

func (r *Registry) Driver(id string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	if !ok {
		return Driver{}, false
	}
	return *d, true
}

// OnlineDrivers returns copies of all driver records in registration
// order (first-come-first-offered).
func (r *Registry) OnlineDrivers() []Driver {
	r.mu.RLock()
	out := make([]Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

// Unregister removes every presence entry bound to the given session
// and reports what was removed so the caller can apply its disconnect
// policy. Called by the transport layer on connection loss.
func (r *Registry) Unregister(sess dispatch.Sender) (drivers []Driver, passengerIDs []string) {
	r.mu.Lock()
	var snaps []models.DriverSnapshot
	for id, d := range r.drivers {
		if d.Session == sess {
			drivers = append(drivers, *d)
			snaps = append(snaps, snapshot(d, false))
			delete(r.drivers, id)
		}
	}
	for id, s := range r.passengers {
		if s == sess {
			passengerIDs = append(passengerIDs, id)
			delete(r.passengers, id)
		}
	}
	r.mu.Unlock()

	for _, snap := range snaps {
		r.emit(snap)
	}
	return drivers, passengerIDs
}

func (r *Registry) emit(snap models.DriverSnapshot) {
	if r.notify == nil {
		return
	}
	go r.notify(snap)
}

func snapshot(d *Driver, online bool) models.DriverSnapshot {
	return models.DriverSnapshot{
		DriverID:      d.ID,
		Name:          d.Name,
		Location:      d.Location,
		Available:     d.Available && online,
		CurrentRideID: d.CurrentRideID,
		Online:        online,
	}
}

package presence

import (
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeSender struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSender) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func TestMarkOnlinePreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.MarkOnline("b", "Beth", models.Coord{}, &fakeSender{})
	r.MarkOnline("a", "Ana", models.Coord{}, &fakeSender{})
	r.MarkOnline("c", "Cid", models.Coord{}, &fakeSender{})

	got := r.OnlineDrivers()
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d drivers, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestReconnectKeepsAssignment(t *testing.T) {
	r := NewRegistry(nil)
	r.MarkOnline("d1", "Dan", models.Coord{}, &fakeSender{})
	r.Assign("d1", "ride-1")

	r.MarkOnline("d1", "Dan", models.Coord{Lat: 1}, &fakeSender{})

	d, ok := r.Driver("d1")
	if !ok {
		t.Fatal("driver missing after reconnect")
	}
	if d.CurrentRideID != "ride-1" {
		t.Fatalf("assignment lost on reconnect: %q", d.CurrentRideID)
	}
	if d.Available {
		t.Fatal("assigned driver must not be available")
	}
}

func TestAssignAndRelease(t *testing.T) {
	r := NewRegistry(nil)
	r.MarkOnline("d1", "Dan", models.Coord{}, &fakeSender{})

	if !r.Assign("d1", "ride-1") {
		t.Fatal("assign failed for online driver")
	}
	d, _ := r.Driver("d1")
	if d.Available || d.CurrentRideID != "ride-1" {
		t.Fatalf("unexpected state after assign: %+v", d)
	}

	r.Release("d1")
	d, _ = r.Driver("d1")
	if !d.Available || d.CurrentRideID != "" {
		t.Fatalf("unexpected state after release: %+v", d)
	}

	if r.Assign("ghost", "ride-2") {
		t.Fatal("assign must fail for unknown driver")
	}
}

func TestUnregisterBySession(t *testing.T) {
	r := NewRegistry(nil)
	shared := &fakeSender{}
	other := &fakeSender{}
	r.MarkOnline("d1", "Dan", models.Coord{}, shared)
	r.MarkOnline("d2", "Eva", models.Coord{}, other)
	r.RegisterPassenger("p1", shared)

	drivers, passengers := r.Unregister(shared)
	if len(drivers) != 1 || drivers[0].ID != "d1" {
		t.Fatalf("expected d1 removed, got %+v", drivers)
	}
	if len(passengers) != 1 || passengers[0] != "p1" {
		t.Fatalf("expected p1 removed, got %v", passengers)
	}
	if r.OnlineCount() != 1 {
		t.Fatalf("expected 1 driver left, got %d", r.OnlineCount())
	}
	if _, ok := r.PassengerSession("p1"); ok {
		t.Fatal("passenger session should be gone")
	}
}

func TestNotifyFiresOnPresenceChange(t *testing.T) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var snaps []models.DriverSnapshot

	wg.Add(2)
	r := NewRegistry(func(s models.DriverSnapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
		wg.Done()
	})

	r.MarkOnline("d1", "Dan", models.Coord{Lat: 1}, &fakeSender{})
	r.MarkOffline("d1")
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	online, offline := 0, 0
	for _, s := range snaps {
		if s.DriverID != "d1" {
			t.Fatalf("unexpected driver in snapshot: %s", s.DriverID)
		}
		if s.Online {
			online++
		} else {
			offline++
		}
	}
	if online != 1 || offline != 1 {
		t.Fatalf("expected one online and one offline snapshot, got %d/%d", online, offline)
	}
}

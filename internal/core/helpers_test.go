package core

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/settlement"
	"github.com/example/ride-dispatch/internal/storage"
)

type sentMsg struct {
	Event   string
	Payload any
}

// fakeConn records everything sent to it, standing in for a websocket
// session.
type fakeConn struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (f *fakeConn) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{Event: event, Payload: payload})
	return nil
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.Event
	}
	return out
}

func (f *fakeConn) count(event string) int {
	n := 0
	for _, e := range f.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (f *fakeConn) has(event string) bool { return f.count(event) > 0 }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService wires a full core against the in-memory store with a
// flat fare so prices are predictable in assertions.
func newTestService(t *testing.T, price float64) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := discardLogger()
	svc := &Service{
		Presence: presence.NewRegistry(nil),
		Ledger:   rides.NewLedger(),
		Store:    store,
		Settle:   &settlement.Engine{Store: store, Rate: 0.20},
		Fare:     &fare.Estimator{Rates: fare.Rates{Base: price, DefaultSpeedMps: 10}},
		Hub:      dispatch.NewHub(logger),
		Logger:   logger,

		ArrivalRadiusM: 200,
		Currency:       "usd",
	}
	return svc, store
}

func driverOnline(s *Service, id string) *fakeConn {
	c := &fakeConn{}
	s.HandleDriverOnline(id, "Driver "+id, models.Coord{}, c)
	return c
}

func passengerOnline(s *Service, id string) *fakeConn {
	c := &fakeConn{}
	s.HandlePassengerOnline(id, c)
	return c
}

func testRequest(passengerID string) models.RideRequest {
	return models.RideRequest{
		PassengerID: passengerID,
		Pickup:      models.Coord{Lat: 0, Lng: 0},
		Dropoff:     models.Coord{Lat: 0.05, Lng: 0},
	}
}

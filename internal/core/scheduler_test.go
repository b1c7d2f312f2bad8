package core

import (
	"context"
	"testing"
)

func TestRideRequestOffersFirstFreeDriver(t *testing.T) {
	svc, _ := newTestService(t, 10.0)
	ctx := context.Background()

	a := driverOnline(svc, "A")
	b := driverOnline(svc, "B")
	p := passengerOnline(svc, "p1")

	ride, err := svc.HandleRideRequest(ctx, testRequest("p1"))
	if err != nil {
		t.Fatal(err)
	}

	if !p.has(EvtRideRequested) {
		t.Fatal("passenger did not get the request confirmation")
	}
	if !a.has(EvtNewRideOffer) {
		t.Fatal("first registered driver did not get the offer")
	}
	if b.has(EvtNewRideOffer) {
		t.Fatal("second driver must not be offered while the first decides")
	}

	st, ok := svc.Ledger.Snapshot(ride.ID)
	if !ok || len(st.OfferedTo) != 1 || st.OfferedTo[0] != "A" {
		t.Fatalf("unexpected offer state: %+v", st.OfferedTo)
	}
}

func TestRequestWithNoDriversStaysPending(t *testing.T) {
	svc, store := newTestService(t, 10.0)
	ctx := context.Background()
	passengerOnline(svc, "p1")

	ride, err := svc.HandleRideRequest(ctx, testRequest("p1"))
	if err != nil {
		t.Fatal(err)
	}

	r, err := store.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != "requested" {
		t.Fatalf("expected requested, got %s", r.Status)
	}

	// A driver coming online replays the pending ride.
	a := driverOnline(svc, "A")
	if !a.has(EvtNewRideOffer) {
		t.Fatal("pending ride was not replayed to the new driver")
	}
}

func TestRefusalMovesToNextDriver(t *testing.T) {
	svc, store := newTestService(t, 10.0)
	ctx := context.Background()

	a := driverOnline(svc, "A")
	b := driverOnline(svc, "B")
	p := passengerOnline(svc, "p1")

	ride, _ := svc.HandleRideRequest(ctx, testRequest("p1"))

	if err := svc.HandleRefuse(ctx, ride.ID, "A"); err != nil {
		t.Fatal(err)
	}

	if !p.has(EvtRideRefused) {
		t.Fatal("passenger was not told about the refusal")
	}
	if !b.has(EvtNewRideOffer) {
		t.Fatal("next driver did not get the offer after refusal")
	}

	r, _ := store.GetRide(ctx, ride.ID)
	if r.RefusalCount != 1 || r.LastRefusedBy != "A" {
		t.Fatalf("refusal not recorded durably: %+v", r)
	}

	// The refusing driver must never see this ride again, even when
	// they go offline and come back.
	svc.HandleDriverOffline("A")
	a2 := driverOnline(svc, "A")
	if a2.has(EvtNewRideOffer) {
		t.Fatal("refused driver was re-offered the ride")
	}
	if got := a.count(EvtNewRideOffer); got != 1 {
		t.Fatalf("expected only the original offer on the first session, got %d", got)
	}
}

func TestAllDriversRefused(t *testing.T) {
	svc, _ := newTestService(t, 10.0)
	ctx := context.Background()

	driverOnline(svc, "A")
	driverOnline(svc, "B")
	passengerOnline(svc, "p1")

	ride, _ := svc.HandleRideRequest(ctx, testRequest("p1"))
	if err := svc.HandleRefuse(ctx, ride.ID, "A"); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleRefuse(ctx, ride.ID, "B"); err != nil {
		t.Fatal(err)
	}

	st, ok := svc.Ledger.Snapshot(ride.ID)
	if !ok {
		t.Fatal("ride left the ledger")
	}
	if st.Ride.Status != "requested" {
		t.Fatalf("ride must stay requested with no candidates, got %s", st.Ride.Status)
	}

	// A fresh driver still gets the offer.
	c := driverOnline(svc, "C")
	if !c.has(EvtNewRideOffer) {
		t.Fatal("fresh driver did not get the exhausted ride")
	}
}

func TestBusyDriverIsSkipped(t *testing.T) {
	svc, _ := newTestService(t, 10.0)
	ctx := context.Background()

	a := driverOnline(svc, "A")
	b := driverOnline(svc, "B")
	passengerOnline(svc, "p1")

	ride1, _ := svc.HandleRideRequest(ctx, testRequest("p1"))
	if outcome, err := svc.AttemptAccept(ctx, ride1.ID, "A"); err != nil || outcome != Accepted {
		t.Fatalf("accept failed: %v %v", outcome, err)
	}

	passengerOnline(svc, "p2")
	svc.HandleRideRequest(ctx, testRequest("p2"))

	if got := a.count(EvtNewRideOffer); got != 1 {
		t.Fatalf("busy driver received a second offer (%d offers)", got)
	}
	if !b.has(EvtNewRideOffer) {
		t.Fatal("free driver did not get the second ride")
	}
}

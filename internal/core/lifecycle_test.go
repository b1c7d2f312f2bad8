package core

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

// Full happy path: two drivers, one refusal, one acceptance, pickup,
// trip, completion with settlement, then payment.
func TestFullRideLifecycle(t *testing.T) {
	svc, store := newTestService(t, 20.0)
	ctx := context.Background()

	a := driverOnline(svc, "A")
	b := driverOnline(svc, "B")
	p := passengerOnline(svc, "p1")

	ride, err := svc.HandleRideRequest(ctx, testRequest("p1"))
	if err != nil {
		t.Fatal(err)
	}
	if ride.Price != 20.0 {
		t.Fatalf("expected flat price 20.0, got %f", ride.Price)
	}
	if b.has(EvtNewRideOffer) {
		t.Fatal("second driver must not be offered before the first refuses")
	}

	if err := svc.HandleRefuse(ctx, ride.ID, "A"); err != nil {
		t.Fatal(err)
	}
	if outcome, err := svc.AttemptAccept(ctx, ride.ID, "B"); err != nil || outcome != Accepted {
		t.Fatalf("accept: %v %v", outcome, err)
	}
	if !a.has(EvtRideUnavailable) {
		t.Fatal("refusing driver was not told the ride is gone")
	}
	if err := svc.HandleArrived(ctx, ride.ID, "B"); err != nil {
		t.Fatal(err)
	}
	if !p.has(EvtRideArrived) {
		t.Fatal("passenger missed the arrival")
	}
	if err := svc.HandleStart(ctx, ride.ID, "B"); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleFinish(ctx, ride.ID, "B"); err != nil {
		t.Fatal(err)
	}

	r, err := store.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", r.Status)
	}
	if r.Commission != 4.0 || r.DriverAmount != 16.0 {
		t.Fatalf("unexpected split on the record: %+v", r)
	}

	bal, _ := store.GetOrCreateBalance(ctx, "B")
	if bal.Amount != 16.0 {
		t.Fatalf("driver balance: expected 16.0, got %f", bal.Amount)
	}
	if balA, _ := store.GetOrCreateBalance(ctx, "A"); balA.Amount != 0 {
		t.Fatalf("refusing driver must earn nothing, got %f", balA.Amount)
	}

	if !p.has(EvtRideCompleted) {
		t.Fatal("passenger missed completion")
	}

	// The driver is free again.
	d, _ := svc.Presence.Driver("B")
	if !d.Available || d.CurrentRideID != "" {
		t.Fatalf("driver not released: %+v", d)
	}

	// Payment, then an idempotent re-confirmation.
	if err := svc.ConfirmPayment(ctx, ride.ID, "pm_test"); err != nil {
		t.Fatal(err)
	}
	r, _ = store.GetRide(ctx, ride.ID)
	if r.Status != models.StatusPaid {
		t.Fatalf("expected paid, got %s", r.Status)
	}
	if err := svc.ConfirmPayment(ctx, ride.ID, "pm_test"); err != nil {
		t.Fatalf("re-confirming a paid ride must be a no-op, got %v", err)
	}
}

func TestLifecycleRejectsSkippedSteps(t *testing.T) {
	svc, _ := newTestService(t, 10.0)
	ctx := context.Background()

	driverOnline(svc, "A")
	passengerOnline(svc, "p1")
	ride, _ := svc.HandleRideRequest(ctx, testRequest("p1"))

	// Can't start or finish a ride nobody accepted.
	if err := svc.HandleStart(ctx, ride.ID, "A"); !errors.Is(err, rides.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := svc.HandleFinish(ctx, ride.ID, "A"); !errors.Is(err, rides.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	svc.AttemptAccept(ctx, ride.ID, "A")

	// Accepted but not arrived: start is premature.
	if err := svc.HandleStart(ctx, ride.ID, "A"); !errors.Is(err, rides.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	// Arriving twice is rejected.
	if err := svc.HandleArrived(ctx, ride.ID, "A"); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleArrived(ctx, ride.ID, "A"); !errors.Is(err, rides.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestCancelRules(t *testing.T) {
	svc, store := newTestService(t, 10.0)
	ctx := context.Background()

	driverOnline(svc, "A")
	p := passengerOnline(svc, "p1")
	ride, _ := svc.HandleRideRequest(ctx, testRequest("p1"))
	svc.AttemptAccept(ctx, ride.ID, "A")
	svc.HandleArrived(ctx, ride.ID, "A")
	svc.HandleStart(ctx, ride.ID, "A")

	// A trip underway cannot be cancelled.
	if err := svc.HandleCancel(ctx, ride.ID, "passenger", "changed my mind"); !errors.Is(err, rides.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if p.has(EvtRideCancelled) {
		t.Fatal("rejected cancellation must not notify anyone")
	}

	// A ride still waiting can.
	passengerOnline(svc, "p2")
	ride2, _ := svc.HandleRideRequest(ctx, testRequest("p2"))
	if err := svc.HandleCancel(ctx, ride2.ID, "passenger", "waited too long"); err != nil {
		t.Fatal(err)
	}
	r2, _ := store.GetRide(ctx, ride2.ID)
	if r2.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", r2.Status)
	}
}

func TestCancelReleasesDriverAndNotifiesCounterparty(t *testing.T) {
	svc, _ := newTestService(t, 10.0)
	ctx := context.Background()

	a := driverOnline(svc, "A")
	passengerOnline(svc, "p1")
	ride, _ := svc.HandleRideRequest(ctx, testRequest("p1"))
	svc.AttemptAccept(ctx, ride.ID, "A")

	if err := svc.HandleCancel(ctx, ride.ID, "passenger", "no longer needed"); err != nil {
		t.Fatal(err)
	}
	if !a.has(EvtRideCancelled) {
		t.Fatal("driver was not told about the cancellation")
	}
	d, _ := svc.Presence.Driver("A")
	if !d.Available || d.CurrentRideID != "" {
		t.Fatalf("driver not released: %+v", d)
	}
}

func TestSecondFinishFails(t *testing.T) {
	svc, store := newTestService(t, 10.0)
	ctx := context.Background()

	driverOnline(svc, "A")
	passengerOnline(svc, "p1")
	ride, _ := svc.HandleRideRequest(ctx, testRequest("p1"))
	svc.AttemptAccept(ctx, ride.ID, "A")
	svc.HandleArrived(ctx, ride.ID, "A")
	svc.HandleStart(ctx, ride.ID, "A")

	if err := svc.HandleFinish(ctx, ride.ID, "A"); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleFinish(ctx, ride.ID, "A"); !errors.Is(err, rides.ErrInvalidTransition) {
		t.Fatalf("second completion must fail, got %v", err)
	}

	// Settlement ran exactly once: one credit plus one audit entry.
	if got := len(store.Transactions()); got != 2 {
		t.Fatalf("expected 2 transactions, got %d", got)
	}
}

type failingCharger struct {
	fail  bool
	calls int
}

func (f *failingCharger) Charge(ctx context.Context, amount float64, currency, ref string) error {
	f.calls++
	if f.fail {
		return payments.ErrPaymentFailed
	}
	return nil
}

func TestPaymentFailureLeavesRideCompleted(t *testing.T) {
	svc, store := newTestService(t, 10.0)
	ch := &failingCharger{fail: true}
	svc.Charger = ch
	ctx := context.Background()

	driverOnline(svc, "A")
	passengerOnline(svc, "p1")
	ride, _ := svc.HandleRideRequest(ctx, testRequest("p1"))
	svc.AttemptAccept(ctx, ride.ID, "A")
	svc.HandleArrived(ctx, ride.ID, "A")
	svc.HandleStart(ctx, ride.ID, "A")
	svc.HandleFinish(ctx, ride.ID, "A")

	if err := svc.ConfirmPayment(ctx, ride.ID, "pm_bad"); !errors.Is(err, payments.ErrPaymentFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	r, _ := store.GetRide(ctx, ride.ID)
	if r.Status != models.StatusCompleted {
		t.Fatalf("failed charge must not move the ride, got %s", r.Status)
	}

	// Retry with a working card.
	ch.fail = false
	if err := svc.ConfirmPayment(ctx, ride.ID, "pm_good"); err != nil {
		t.Fatal(err)
	}
	r, _ = store.GetRide(ctx, ride.ID)
	if r.Status != models.StatusPaid {
		t.Fatalf("expected paid, got %s", r.Status)
	}
	if ch.calls != 2 {
		t.Fatalf("expected 2 charge attempts, got %d", ch.calls)
	}
}

func TestConfirmPaymentUnknownRide(t *testing.T) {
	svc, _ := newTestService(t, 10.0)
	if err := svc.ConfirmPayment(context.Background(), "ghost", "pm"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

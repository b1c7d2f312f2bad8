package rides

import (
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func newTestRide(id string) models.Ride {
	return models.Ride{ID: id, PassengerID: "p1", Status: models.StatusRequested}
}

func TestExclusionGrowsWithOffersAndRefusals(t *testing.T) {
	l := NewLedger()
	l.Create(newTestRide("r1"), nil)

	l.MarkOffered("r1", "d1")
	l.MarkRefused("r1", "d1")
	l.MarkOffered("r1", "d2")

	st, ok := l.Snapshot("r1")
	if !ok {
		t.Fatal("ride missing")
	}
	if !st.Excluded("d1") || !st.Excluded("d2") {
		t.Fatal("offered and refused drivers must both be excluded")
	}
	if st.Excluded("d3") {
		t.Fatal("fresh driver must not be excluded")
	}
}

func TestMarkOfferedReportsFirstAddOnly(t *testing.T) {
	l := NewLedger()
	l.Create(newTestRide("r1"), nil)

	if !l.MarkOffered("r1", "d1") {
		t.Fatal("first offer to a fresh driver must win")
	}
	if l.MarkOffered("r1", "d1") {
		t.Fatal("repeated offer to the same driver must lose")
	}
	if l.MarkOffered("missing", "d1") {
		t.Fatal("unknown ride must not accept offers")
	}

	st, _ := l.Snapshot("r1")
	if len(st.OfferedTo) != 1 {
		t.Fatalf("driver recorded %d times, want 1", len(st.OfferedTo))
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	l := NewLedger()
	l.Create(newTestRide("r1"), nil)
	l.MarkOffered("r1", "d1")

	st, _ := l.Snapshot("r1")
	st.OfferedTo[0] = "mutated"

	fresh, _ := l.Snapshot("r1")
	if fresh.OfferedTo[0] != "d1" {
		t.Fatal("snapshot mutation leaked into the ledger")
	}
}

func TestArrivingLatchFiresOnce(t *testing.T) {
	l := NewLedger()
	l.Create(newTestRide("r1"), nil)

	if !l.MarkArrivingNotified("r1") {
		t.Fatal("first latch must succeed")
	}
	if l.MarkArrivingNotified("r1") {
		t.Fatal("latch must fire only once")
	}
	if l.MarkArrivingNotified("ghost") {
		t.Fatal("unknown ride must not latch")
	}
}

func TestPendingFiltersByStatus(t *testing.T) {
	l := NewLedger()
	l.Create(newTestRide("r1"), nil)
	l.Create(newTestRide("r2"), nil)
	l.SetStatus("r2", models.StatusAccepted)

	pending := l.Pending()
	if len(pending) != 1 || pending[0].Ride.ID != "r1" {
		t.Fatalf("expected only r1 pending, got %+v", pending)
	}
}

func TestActiveForDriver(t *testing.T) {
	l := NewLedger()
	l.Create(newTestRide("r1"), nil)
	l.SetDriver("r1", "d1")
	l.SetStatus("r1", models.StatusAccepted)

	st, ok := l.ActiveForDriver("d1")
	if !ok || st.Ride.ID != "r1" {
		t.Fatalf("expected r1 active for d1, got %+v ok=%v", st, ok)
	}

	l.SetStatus("r1", models.StatusCompleted)
	if _, ok := l.ActiveForDriver("d1"); ok {
		t.Fatal("terminal ride must not be active")
	}
}

func TestRemoveDropsOfferState(t *testing.T) {
	l := NewLedger()
	l.Create(newTestRide("r1"), nil)
	l.Remove("r1")
	if _, ok := l.Snapshot("r1"); ok {
		t.Fatal("removed ride still present")
	}
}

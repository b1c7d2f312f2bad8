package rides

import (
	"errors"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrInvalidTransition reports a lifecycle violation. The ride is left
// untouched; callers treat this as expected control flow, not a fault.
var ErrInvalidTransition = errors.New("invalid ride status transition")

// transitions is the full lifecycle edge list. Cancellation is only
// reachable before the trip is underway; a ride in progress runs to
// completion, and paid is reachable only from completed.
var transitions = map[models.RideStatus][]models.RideStatus{
	models.StatusRequested:  {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:   {models.StatusArrived, models.StatusCancelled},
	models.StatusArrived:    {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted},
	models.StatusCompleted:  {models.StatusPaid},
	models.StatusCancelled:  {},
	models.StatusPaid:       {},
}

func CanTransition(from, to models.RideStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition (wrapped with the edge)
// when the move is not in the lifecycle table.
func CheckTransition(from, to models.RideStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Cancellable reports whether a ride in the given status may still be
// cancelled by either party.
func Cancellable(s models.RideStatus) bool {
	return CanTransition(s, models.StatusCancelled)
}

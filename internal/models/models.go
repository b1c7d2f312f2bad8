package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RideStatus is the single source of truth for which operations are
// legal on a ride. The durable store owns the authoritative value.
type RideStatus string

const (
	StatusRequested  RideStatus = "requested"
	StatusAccepted   RideStatus = "accepted"
	StatusArrived    RideStatus = "arrived"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
	StatusPaid       RideStatus = "paid"
)

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusPaid
}

// RideRequest is the inbound payload that creates a ride.
type RideRequest struct {
	PassengerID    string `json:"passenger_id"`
	Pickup         Coord  `json:"pickup"`
	Dropoff        Coord  `json:"dropoff"`
	PickupAddress  string `json:"pickup_address,omitempty"`
	DropoffAddress string `json:"dropoff_address,omitempty"`
}

// Ride is the durable record. The dispatch core reads and writes the
// dispatch-relevant fields; the persistence layer owns the rest.
type Ride struct {
	ID             string
	PassengerID    string
	DriverID       string // empty until accepted
	Pickup         Coord
	Dropoff        Coord
	PickupAddress  string
	DropoffAddress string
	DistanceM      float64
	Price          float64
	Status         RideStatus
	RefusalCount   int
	LastRefusedBy  string
	Commission     float64
	DriverAmount   float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Balance is a per-owner ledger balance, zero-initialized on first use.
type Balance struct {
	OwnerID   string
	Amount    float64
	UpdatedAt time.Time
}

type TxDirection string

const (
	TxCredit TxDirection = "credit"
	TxDebit  TxDirection = "debit"
)

// Transaction is an append-only ledger entry. Prior/New are nil for
// audit-only entries that do not touch any in-system balance.
type Transaction struct {
	OwnerID      string
	Direction    TxDirection
	Amount       float64
	Category     string
	PriorBalance *float64
	NewBalance   *float64
	Reference    string // ride id
	CreatedAt    time.Time
}

// RideOffer is delivered to exactly one driver at a time.
type RideOffer struct {
	RideID         string  `json:"ride_id"`
	PassengerID    string  `json:"passenger_id"`
	Pickup         Coord   `json:"pickup"`
	Dropoff        Coord   `json:"dropoff"`
	PickupAddress  string  `json:"pickup_address,omitempty"`
	DropoffAddress string  `json:"dropoff_address,omitempty"`
	DistanceM      float64 `json:"distance_m"`
	Price          float64 `json:"price"`
}

// DriverSnapshot is the presence payload broadcast to observers.
type DriverSnapshot struct {
	DriverID      string `json:"driver_id"`
	Name          string `json:"name"`
	Location      Coord  `json:"location"`
	Available     bool   `json:"available"`
	CurrentRideID string `json:"current_ride_id,omitempty"`
	Online        bool   `json:"online"`
}

// PositionUpdate is the driver location sample relayed to the assigned
// passenger and published to the position stream.
type PositionUpdate struct {
	DriverID string    `json:"driver_id"`
	RideID   string    `json:"ride_id,omitempty"`
	Location Coord     `json:"location"`
	At       time.Time `json:"at"`
}

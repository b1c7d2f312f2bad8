package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore implements Store with the same conditional-update
// semantics as Postgres, for tests and setup-free local runs.
type MemoryStore struct {
	mu       sync.Mutex
	rides    map[string]*models.Ride
	balances map[string]*models.Balance
	txs      []models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		balances: make(map[string]*models.Balance),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.rides[r.ID] = &c
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *MemoryStore) ConditionalUpdateRideStatus(_ context.Context, id string, expected, next models.RideStatus, extra RideUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok || r.Status != expected {
		return 0, nil
	}
	r.Status = next
	if extra.DriverID != nil {
		r.DriverID = *extra.DriverID
	}
	if extra.Commission != nil {
		r.Commission = *extra.Commission
	}
	if extra.DriverAmount != nil {
		r.DriverAmount = *extra.DriverAmount
	}
	r.UpdatedAt = time.Now()
	return 1, nil
}

func (m *MemoryStore) RecordRefusal(_ context.Context, rideID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	r.RefusalCount++
	r.LastRefusedBy = driverID
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetOrCreateBalance(_ context.Context, ownerID string) (models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[ownerID]
	if !ok {
		b = &models.Balance{OwnerID: ownerID, UpdatedAt: time.Now()}
		m.balances[ownerID] = b
	}
	return *b, nil
}

func (m *MemoryStore) UpdateBalance(_ context.Context, ownerID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[ownerID]
	if !ok {
		return ErrNotFound
	}
	b.Amount = amount
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendTransaction(_ context.Context, tx models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
	return nil
}

func (m *MemoryStore) TransactionExists(_ context.Context, reference, category string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.Reference == reference && tx.Category == category {
			return true, nil
		}
	}
	return false, nil
}

// Transactions returns a copy of the append-only log, oldest first.
func (m *MemoryStore) Transactions() []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Transaction(nil), m.txs...)
}

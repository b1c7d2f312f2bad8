package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ride-dispatch/internal/models"
)

// Publisher fans ride lifecycle events out to back-office consumers
// (analytics, billing reconciliation) through a topic exchange. The
// dispatch core publishes best-effort; a broker outage never blocks a
// lifecycle transition.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

func NewPublisher(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// RideEvent is the envelope published per lifecycle transition.
type RideEvent struct {
	RideID      string            `json:"ride_id"`
	PassengerID string            `json:"passenger_id,omitempty"`
	DriverID    string            `json:"driver_id,omitempty"`
	Status      models.RideStatus `json:"status"`
	Price       float64           `json:"price,omitempty"`
	At          time.Time         `json:"at"`
}

func (p *Publisher) PublishRideEvent(ctx context.Context, ev RideEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal ride event", "error", err)
		return
	}
	key := "ride." + string(ev.Status)

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("publish ride event failed", "ride_id", ev.RideID, "routing_key", key, "error", err)
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

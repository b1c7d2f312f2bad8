// Command consumer mirrors the driver position stream into Redis so
// map and admin readers can query nearby drivers without touching the
// dispatch process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	positionsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Subsystem: "consumer",
		Name: "positions_consumed_total", Help: "Position samples read from the stream",
	})
	positionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Subsystem: "consumer",
		Name: "positions_dropped_total", Help: "Samples dropped after exhausting mirror retries",
	})
	mirrorRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Subsystem: "consumer",
		Name: "mirror_retries_total", Help: "Redis mirror write retries",
	})
)

// positionMirror is the subset of the Redis mirror the consumer needs.
type positionMirror interface {
	Upsert(ctx context.Context, id string, loc models.Coord, available bool) error
}

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Component(logging.NewLogger(cfg.LogLevel), "consumer")
	slog.SetDefault(logger)

	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		logger.Error("KAFKA_BROKERS and REDIS_ADDR are required")
		os.Exit(1)
	}

	mirror := geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	defer mirror.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mirror.Ping(ctx); err != nil {
		logger.Error("redis unreachable", "error", err)
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: "position-mirror",
	})
	defer reader.Close()

	addr := os.Getenv("CONSUMER_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	go serveOps(addr, mirror, logger)

	logger.Info("consuming positions", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	run(ctx, reader, mirror, logger)
}

func run(ctx context.Context, reader *kafka.Reader, mirror positionMirror, logger *slog.Logger) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("consumer stopped")
				return
			}
			logger.Warn("read failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		var u models.PositionUpdate
		if err := json.Unmarshal(msg.Value, &u); err != nil {
			logger.Warn("malformed position sample, skipping", "error", err, "offset", msg.Offset)
			continue
		}
		positionsConsumed.Inc()

		if err := mirrorWithRetry(ctx, mirror, u, 3, 200*time.Millisecond); err != nil {
			positionsDropped.Inc()
			logger.Warn("mirror write dropped", "driver_id", u.DriverID, "error", err)
		}
	}
}

// mirrorWithRetry attempts the Redis write up to attempts times with a
// fixed backoff. The stream is high frequency so a dropped sample is
// acceptable; the next sample heals the mirror.
func mirrorWithRetry(ctx context.Context, mirror positionMirror, u models.PositionUpdate, attempts int, backoff time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			mirrorRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if lastErr = mirror.Upsert(ctx, u.DriverID, u.Location, true); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func serveOps(addr string, mirror *geo.RedisMirror, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := mirror.Ping(r.Context()); err != nil {
			http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("ops server failed", "error", err)
	}
}

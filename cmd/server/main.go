package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/core"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/settlement"
	"github.com/example/ride-dispatch/internal/storage"
)

const migrationFile = "migrations/001_init.sql"

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	hub := dispatch.NewHub(logging.Component(logger, "hub"))
	registry := presence.NewRegistry(func(snap models.DriverSnapshot) {
		hub.Broadcast(core.EvtPresenceChanged, snap)
	})

	est := &fare.Estimator{
		Rates: fare.Rates{
			Base:            cfg.BaseFare,
			PerKm:           cfg.FarePerKm,
			PerMin:          cfg.FarePerMin,
			DefaultSpeedMps: cfg.DefaultSpeedMps,
		},
		Cache: fare.NewCache(5 * time.Minute),
	}
	if ep := os.Getenv("OSRM_ENDPOINT"); ep != "" {
		est.Routing = fare.NewOSRMClient(ep)
	}

	svc := &core.Service{
		Presence: registry,
		Ledger:   rides.NewLedger(),
		Store:    store,
		Settle: &settlement.Engine{
			Store:  store,
			Rate:   cfg.CommissionRate,
			Logger: logging.Component(logger, "settlement"),
		},
		Fare:           est,
		Hub:            hub,
		Logger:         logging.Component(logger, "core"),
		ArrivalRadiusM: cfg.ArrivalRadiusM,
		Currency:       cfg.Currency,
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		svc.Stream = producer
		logger.Info("position stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.AMQPURL != "" {
		pub, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logging.Component(logger, "events"))
		if err != nil {
			logger.Warn("event publisher disabled", "error", err)
		} else {
			defer pub.Close()
			svc.Events = pub
			logger.Info("event publisher enabled", "exchange", cfg.AMQPExchange)
		}
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		svc.Charger = payments.NewStripeCharger()
		logger.Info("card payments enabled")
	}

	api := httpapi.NewServer(svc, hub, auth.NewVerifier(cfg.JWTSecret), logging.Component(logger, "http"))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

func openStore(cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func() error, error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory store")
		return storage.NewMemoryStore(), func() error { return nil }, nil
	}

	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		script, err := os.ReadFile(migrationFile)
		if err != nil {
			pg.Close()
			return nil, nil, err
		}
		if err := pg.Migrate(context.Background(), string(script)); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied", "file", migrationFile)
	}
	return pg, pg.Close, nil
}

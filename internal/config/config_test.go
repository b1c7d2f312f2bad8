package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.CommissionRate != 0.20 {
		t.Errorf("unexpected commission rate %f", cfg.CommissionRate)
	}
	if cfg.ArrivalRadiusM != 200 {
		t.Errorf("unexpected arrival radius %f", cfg.ArrivalRadiusM)
	}
	if cfg.KafkaTopic != "driver-positions" {
		t.Errorf("unexpected topic %q", cfg.KafkaTopic)
	}
	if cfg.Currency != "usd" {
		t.Errorf("unexpected currency %q", cfg.Currency)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HTTP_READ_TIMEOUT", "30s")
	t.Setenv("COMMISSION_RATE", "0.15")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MIGRATE", "true")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("unexpected read timeout %v", cfg.ReadTimeout)
	}
	if cfg.CommissionRate != 0.15 {
		t.Errorf("unexpected commission rate %f", cfg.CommissionRate)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("unexpected log level %q", cfg.LogLevel)
	}
	if !cfg.RunMigrations {
		t.Error("MIGRATE=true not honored")
	}
}

func TestLoadServerConfigValidation(t *testing.T) {
	t.Setenv("COMMISSION_RATE", "1.5")
	t.Setenv("ARRIVAL_RADIUS_M", "-1")
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")

	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected validation errors")
	}
}

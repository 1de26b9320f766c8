package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/swarmbet")
	t.Setenv("GO_ENV", "test")
	t.Setenv("STORE_DRIVER", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected empty STORE_DRIVER to be rejected")
	}

	t.Setenv("STORE_DRIVER", "postgres")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.PollWindow != 24*time.Hour {
		t.Fatalf("expected default poll window 24h, got %s", cfg.Engine.PollWindow)
	}
	if cfg.Polymarket.GammaURL != "https://gamma-api.polymarket.com" {
		t.Fatalf("unexpected gamma url: %s", cfg.Polymarket.GammaURL)
	}
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("GO_ENV", "test")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing DATABASE_URL to fail")
	}
}

func TestLoadMemoryDriver(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("GO_ENV", "test")
	t.Setenv("POLL_WINDOW", "2h")
	t.Setenv("SWEEP_CONCURRENCY", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DB.Driver != StoreDriverMemory {
		t.Fatalf("expected memory driver, got %s", cfg.DB.Driver)
	}
	if cfg.Engine.PollWindow != 2*time.Hour {
		t.Fatalf("expected 2h window, got %s", cfg.Engine.PollWindow)
	}
	if cfg.Engine.SweepConcurrency != 1 {
		t.Fatalf("expected concurrency clamped to 1, got %d", cfg.Engine.SweepConcurrency)
	}

	t.Setenv("GO_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected memory driver to be rejected in production")
	}
}

package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MANIFEST_DRIVER", "memory")
	t.Setenv("BACKEND_TIMEOUT_MS", "")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.BackendURL != "http://127.0.0.1:9090" {
		t.Fatalf("unexpected backend url: %s", cfg.BackendURL)
	}
	if cfg.BackendTimeout != 5*time.Second {
		t.Fatalf("unexpected backend timeout: %s", cfg.BackendTimeout)
	}
}

func TestLoadConfigInvalidTimeout(t *testing.T) {
	t.Setenv("MANIFEST_DRIVER", "memory")
	t.Setenv("BACKEND_TIMEOUT_MS", "not-a-number")

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error for invalid BACKEND_TIMEOUT_MS")
	}
}

func TestLoadConfigPostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("MANIFEST_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigUnknownDriver(t *testing.T) {
	t.Setenv("MANIFEST_DRIVER", "etcd")

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error for unknown MANIFEST_DRIVER")
	}
}

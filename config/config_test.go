package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"restaurant-orders-api/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8000" || cfg.DBDriver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.WebhookTimeout != 5*time.Second {
		t.Fatalf("expected 5s webhook timeout, got %s", cfg.WebhookTimeout)
	}
	if cfg.ExternalOriginMarker != "kyte" {
		t.Fatalf("expected default origin marker kyte, got %q", cfg.ExternalOriginMarker)
	}
	if cfg.LegacyTransitions {
		t.Fatalf("expected strict transitions by default")
	}
}

func TestLoadHonorsEnv(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("KYTE_BACKEND_URL", "http://backend:8001")
	t.Setenv("WEBHOOK_TIMEOUT", "2s")
	t.Setenv("LEGACY_TRANSITIONS", "true")
	t.Setenv("NOTIFY_WORKERS", "8")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "9001" {
		t.Fatalf("expected port 9001, got %s", cfg.Port)
	}
	if cfg.FulfillmentBackendURL != "http://backend:8001" {
		t.Fatalf("expected legacy backend url fallback, got %q", cfg.FulfillmentBackendURL)
	}
	if cfg.WebhookTimeout != 2*time.Second {
		t.Fatalf("expected 2s, got %s", cfg.WebhookTimeout)
	}
	if !cfg.LegacyTransitions || cfg.NotifyWorkers != 8 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadParsesYamlThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.TrimSpace(`
port: "7000"
db_driver: sqlite
fulfillment_backend_url: http://yaml-backend
webhook_timeout: 3s
async_notifications: true
notify_queue_size: 32
`)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7100")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "7100" {
		t.Fatalf("expected env to win over yaml, got %s", cfg.Port)
	}
	if cfg.FulfillmentBackendURL != "http://yaml-backend" || cfg.WebhookTimeout != 3*time.Second {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if !cfg.AsyncNotifications || cfg.NotifyQueueSize != 32 {
		t.Fatalf("yaml notification settings not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
	t.Setenv("WEBHOOK_TIMEOUT", "")
	t.Setenv("DB_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenDBMigratesSqlite(t *testing.T) {
	cfg := Default()
	cfg.DBDSN = filepath.Join(t.TempDir(), "orders.db")
	db, err := OpenDB(cfg)
	if err != nil {
		t.Fatalf("OpenDB returned error: %v", err)
	}
	for _, table := range []string{"orders", "order_items"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after migration", table)
		}
	}
	if !db.Migrator().HasIndex("orders", "idx_orders_open_display_number") {
		t.Fatalf("expected partial unique index on display_number")
	}
}

func TestOpenDBIndexCoversOpenOrdersOnly(t *testing.T) {
	cfg := Default()
	cfg.DBDSN = filepath.Join(t.TempDir(), "orders.db")
	db, err := OpenDB(cfg)
	if err != nil {
		t.Fatalf("OpenDB returned error: %v", err)
	}
	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	insert := func(id string, status models.OrderStatus) error {
		return db.Create(&models.Order{
			ID:            id,
			DisplayNumber: 100,
			CustomerName:  "n",
			CustomerPhone: "1",
			Status:        status,
			CreatedAt:     now,
			UpdatedAt:     now,
			Version:       1,
		}).Error
	}

	if err := insert("done", models.StatusCompleted); err != nil {
		t.Fatalf("insert completed: %v", err)
	}
	if err := insert("cancelled", models.StatusCancelled); err != nil {
		t.Fatalf("insert cancelled: %v", err)
	}
	if err := insert("open", models.StatusPending); err != nil {
		t.Fatalf("terminal orders must not hold the number: %v", err)
	}
	if err := insert("second", models.StatusAccepted); err == nil {
		t.Fatalf("expected two open orders sharing #100 to be rejected")
	}
}

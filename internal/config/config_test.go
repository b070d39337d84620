//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfig_YAMLAndDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	p := writeConfig(t, `
database:
  url: postgres://yaml
mpesa:
  consumer_key: k
  consumer_secret: s
  shortcode: "174379"
  passkey: pk
sweeper:
  stale_after: 5m
`)
	cfg, err := LoadConfig(p, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.URL != "postgres://yaml" {
		t.Errorf("database.url = %q", cfg.Database.URL)
	}
	if !cfg.Mpesa.Enabled() {
		t.Error("mpesa should be enabled with full credentials")
	}
	if cfg.Sweeper.StaleAfter != 5*time.Minute {
		t.Errorf("stale_after = %v", cfg.Sweeper.StaleAfter)
	}
	if cfg.HTTP.Port != 8080 || cfg.Billing.Currency != "KES" || cfg.Billing.DurationDays != 30 {
		t.Errorf("defaults not applied: %+v %+v", cfg.HTTP, cfg.Billing)
	}
	if cfg.Mpesa.CountryCode != "254" || cfg.Sweeper.UnlinkedTTL != 15*time.Minute || cfg.Redis.TTL != time.Hour {
		t.Errorf("defaults not applied: %+v %+v", cfg.Mpesa, cfg.Sweeper)
	}
	if len(cfg.Billing.Features) == 0 {
		t.Error("features default missing")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	p := writeConfig(t, "database:\n  url: postgres://yaml\n")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("ADMIN_JWT_SECRET", "shh")
	t.Setenv("PORT", "9090")
	t.Setenv("MPESA_CONSUMER_KEY", "")

	cfg, err := LoadConfig(p, true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.URL != "postgres://env" || cfg.Admin.JWTSecret != "shh" || cfg.HTTP.Port != 9090 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if !cfg.Runtime.Dev {
		t.Error("dev flag not carried")
	}
	if cfg.Mpesa.Enabled() {
		t.Error("mpesa should be disabled without credentials")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("missing database.url should fail")
	}
	if _, err := LoadConfig(writeConfig(t, "http: [not a map"), false); err == nil {
		t.Error("malformed yaml should fail")
	}
}

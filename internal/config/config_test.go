package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Calendar.StaleAfter != 30*time.Minute {
		t.Errorf("Expected stale_after 30m, got %v", cfg.Calendar.StaleAfter)
	}
	if cfg.Calendar.FetchTimeout != 10*time.Second {
		t.Errorf("Expected fetch_timeout 10s, got %v", cfg.Calendar.FetchTimeout)
	}
	if cfg.Calendar.ExpandRecurring {
		t.Error("Expected recurrence expansion to be off by default")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected config file to be written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600 perms, got %v", info.Mode().Perm())
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("Expected reload to succeed, got: %v", err)
	}
	if again.Cache.Key != cfg.Cache.Key || len(again.Categories) != len(cfg.Categories) {
		t.Errorf("Expected reloaded config to match defaults, got %+v", again)
	}
}

func TestLoadPartialConfigIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
calendar:
  ics_url: https://example.com/basic.ics
  proxies:
    - "https://corsproxy.example/?url="
    - "https://cors.example/https://"
  stale_after: 45m
categories:
  - key: Kids
    keywords: [KIDS, Familie]
default_category: KIDS
cache:
  backend: bogus
`
	if err := os.WriteFile(path, []byte(yamlData), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Calendar.ICSURL != "https://example.com/basic.ics" {
		t.Errorf("Expected ics_url to be read, got %s", cfg.Calendar.ICSURL)
	}
	if len(cfg.Calendar.Proxies) != 2 {
		t.Fatalf("Expected 2 proxies, got %d", len(cfg.Calendar.Proxies))
	}
	if cfg.Calendar.StaleAfter != 45*time.Minute {
		t.Errorf("Expected stale_after 45m, got %v", cfg.Calendar.StaleAfter)
	}
	if cfg.Calendar.FetchTimeout != 10*time.Second {
		t.Errorf("Expected default fetch timeout, got %v", cfg.Calendar.FetchTimeout)
	}
	if len(cfg.Categories) != 1 || cfg.Categories[0].Key != "kids" {
		t.Fatalf("Expected one lowercased category, got %+v", cfg.Categories)
	}
	if cfg.Categories[0].Keywords[1] != "familie" {
		t.Errorf("Expected lowercased keyword, got %s", cfg.Categories[0].Keywords[1])
	}
	if cfg.DefaultCategory != "kids" {
		t.Errorf("Expected default category kids, got %s", cfg.DefaultCategory)
	}
	if cfg.Cache.Backend != "file" {
		t.Errorf("Expected unknown backend to fall back to file, got %s", cfg.Cache.Backend)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestLocationFallback(t *testing.T) {
	cfg := &Config{Timezone: "Not/AZone"}
	if cfg.Location() != time.Local {
		t.Error("Expected time.Local for an invalid timezone")
	}
}

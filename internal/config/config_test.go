package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.LedgerPath != "data/ledger.json" {
		t.Errorf("Unexpected default ledger path: %s", cfg.Storage.LedgerPath)
	}
	if cfg.Storage.BackupRetentionDays != 7 {
		t.Errorf("Expected retention 7 days, got %d", cfg.Storage.BackupRetentionDays)
	}
	if cfg.Economy.DailyBaseAmount != 100 {
		t.Errorf("Expected daily base 100, got %d", cfg.Economy.DailyBaseAmount)
	}
	if cfg.Economy.TradeTTLMinutes != 5 {
		t.Errorf("Expected trade TTL 5 minutes, got %d", cfg.Economy.TradeTTLMinutes)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected log defaults: %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Bot.Prefix != "!" {
		t.Errorf("Expected default prefix '!', got %q", cfg.Bot.Prefix)
	}
}

func TestLoad(t *testing.T) {
	raw := `
server:
  port: 9090
  api_token: sekrit
storage:
  ledger_path: /tmp/test-ledger.json
economy:
  daily_base_amount: 50
  admin_ids:
    - "100000000000000001"
log:
  level: debug
  format: json
bot:
  enabled: true
  prefix: "$"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.APIToken != "sekrit" {
		t.Errorf("Expected api token from file, got %q", cfg.Server.APIToken)
	}
	if cfg.Storage.LedgerPath != "/tmp/test-ledger.json" {
		t.Errorf("Unexpected ledger path: %s", cfg.Storage.LedgerPath)
	}
	if cfg.Economy.DailyBaseAmount != 50 {
		t.Errorf("Expected daily base 50, got %d", cfg.Economy.DailyBaseAmount)
	}
	if len(cfg.Economy.AdminIDs) != 1 || cfg.Economy.AdminIDs[0] != "100000000000000001" {
		t.Errorf("Unexpected admin ids: %v", cfg.Economy.AdminIDs)
	}
	if !cfg.Bot.Enabled || cfg.Bot.Prefix != "$" {
		t.Errorf("Unexpected bot settings: enabled=%v prefix=%q", cfg.Bot.Enabled, cfg.Bot.Prefix)
	}

	// Unset fields still pick up defaults
	if cfg.Storage.TransactionLogPath != "data/transactions.db" {
		t.Errorf("Expected default transaction log path, got %s", cfg.Storage.TransactionLogPath)
	}
	if cfg.Scheduler.TradeSweep != "0 * * * * *" {
		t.Errorf("Expected default sweep schedule, got %q", cfg.Scheduler.TradeSweep)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

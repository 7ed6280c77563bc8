package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Economy   EconomyConfig   `yaml:"economy"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
	Bot       BotConfig       `yaml:"bot"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	APIToken string `yaml:"api_token"`
}

// StorageConfig contains ledger persistence settings
type StorageConfig struct {
	LedgerPath          string `yaml:"ledger_path"`
	TransactionLogPath  string `yaml:"transaction_log_path"`
	BackupRetentionDays int    `yaml:"backup_retention_days"`
}

// EconomyConfig contains tunables for the currency engine
type EconomyConfig struct {
	DailyBaseAmount     int64    `yaml:"daily_base_amount"`
	DailyStreakBonus    int64    `yaml:"daily_streak_bonus"`
	DailyStreakBonusCap int64    `yaml:"daily_streak_bonus_cap"`
	TradeTTLMinutes     int      `yaml:"trade_ttl_minutes"`
	CommandCooldownSecs int      `yaml:"command_cooldown_seconds"`
	AdminIDs            []string `yaml:"admin_ids"`
}

// SchedulerConfig contains cron expressions for maintenance jobs
// (seconds-precision, UTC)
type SchedulerConfig struct {
	TradeSweep  string `yaml:"trade_sweep"`
	BackupPrune string `yaml:"backup_prune"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// BotConfig contains Discord bot settings
type BotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// Default returns a configuration with sensible defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.LedgerPath == "" {
		c.Storage.LedgerPath = "data/ledger.json"
	}
	if c.Storage.TransactionLogPath == "" {
		c.Storage.TransactionLogPath = "data/transactions.db"
	}
	if c.Storage.BackupRetentionDays == 0 {
		c.Storage.BackupRetentionDays = 7
	}
	if c.Economy.DailyBaseAmount == 0 {
		c.Economy.DailyBaseAmount = 100
	}
	if c.Economy.DailyStreakBonus == 0 {
		c.Economy.DailyStreakBonus = 10
	}
	if c.Economy.DailyStreakBonusCap == 0 {
		c.Economy.DailyStreakBonusCap = 200
	}
	if c.Economy.TradeTTLMinutes == 0 {
		c.Economy.TradeTTLMinutes = 5
	}
	if c.Economy.CommandCooldownSecs == 0 {
		c.Economy.CommandCooldownSecs = 3
	}
	if c.Scheduler.TradeSweep == "" {
		c.Scheduler.TradeSweep = "0 * * * * *"
	}
	if c.Scheduler.BackupPrune == "" {
		c.Scheduler.BackupPrune = "0 0 4 * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Bot.Prefix == "" {
		c.Bot.Prefix = "!"
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"economybot/internal/auth"
	"economybot/internal/bot"
	"economybot/internal/config"
	"economybot/internal/handlers"
	"economybot/internal/logger"
	"economybot/internal/service"
	"economybot/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)

	// Durable state: the ledger document and the transaction log
	store, err := storage.NewStore(cfg.Storage.LedgerPath)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		os.Exit(1)
	}
	txlog, err := storage.OpenTxLog(cfg.Storage.TransactionLogPath)
	if err != nil {
		logger.Error("failed to open transaction log", "error", err)
		os.Exit(1)
	}
	defer txlog.Close()

	// Engine services
	ledger := service.NewLedger(store, txlog)
	ledger.Daily.Base = cfg.Economy.DailyBaseAmount
	ledger.Daily.StreakStep = cfg.Economy.DailyStreakBonus
	ledger.Daily.StepCap = cfg.Economy.DailyStreakBonusCap

	shop := service.NewShop(ledger)
	trades := service.NewTradeManager(ledger, time.Duration(cfg.Economy.TradeTTLMinutes)*time.Minute)
	stats := service.NewStats(ledger, trades)
	limiter := service.NewRateLimiter(4096, 24*time.Hour)

	retention := time.Duration(cfg.Storage.BackupRetentionDays) * 24 * time.Hour
	maintenance, err := service.NewMaintenance(trades, store, cfg.Scheduler.TradeSweep, cfg.Scheduler.BackupPrune, retention)
	if err != nil {
		logger.Error("failed to set up maintenance scheduler", "error", err)
		os.Exit(1)
	}
	maintenance.Start()
	defer maintenance.Stop()

	// Chat-command layer
	if cfg.Bot.Enabled {
		token := os.Getenv("DISCORD_BOT_TOKEN")
		b, err := bot.New(bot.Options{
			Token:    token,
			Prefix:   cfg.Bot.Prefix,
			Cooldown: time.Duration(cfg.Economy.CommandCooldownSecs) * time.Second,
			AdminIDs: cfg.Economy.AdminIDs,
			Ledger:   ledger,
			Shop:     shop,
			Trades:   trades,
			Stats:    stats,
			Limiter:  limiter,
		})
		if err != nil {
			logger.Error("failed to create bot", "error", err)
			os.Exit(1)
		}
		if err := b.Start(); err != nil {
			logger.Error("failed to start bot", "error", err)
			os.Exit(1)
		}
		defer b.Stop()
	}

	// Read-only reporting API
	mux := http.NewServeMux()
	handlers.New(stats).Register(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: auth.Middleware(cfg.Server.APIToken, mux),
	}

	go func() {
		logger.Info("server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
}

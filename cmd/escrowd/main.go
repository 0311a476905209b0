package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"escrowd/config"
	"escrowd/core/events"
	"escrowd/native/escrow"
	"escrowd/observability"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/state"
	"escrowd/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESCROWD_ENV"))
	logger := logging.Setup("escrowd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	owner, err := cfg.OwnerAddress()
	if err != nil {
		logger.Error("Invalid operator address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := manager.Migrate(state.Migrations()); err != nil {
		logger.Error("State migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := manager.Bootstrap(owner, cfg.EscrowIntervalSeconds); err != nil {
		logger.Error("State bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	eventLog := events.NewLog(cfg.EventLogSize)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetAssets(manager)
	engine.SetEmitter(events.Fan{eventLog, observability.NewEventRecorder(logger)})

	server := rpc.NewServer(engine, manager, eventLog)
	logger.Info("Starting JSON-RPC server",
		slog.String("address", cfg.ListenAddress),
		slog.Uint64("engineVersion", engine.Version()),
	)
	if err := server.Start(cfg.ListenAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

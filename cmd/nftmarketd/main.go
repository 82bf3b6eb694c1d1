package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"nftmarketd/config"
	"nftmarketd/core/events"
	"nftmarketd/native/settlement"
	"nftmarketd/observability/logging"
	"nftmarketd/rpc"
	"nftmarketd/storage"
)

const (
	envEnvironment = "NFTMARKET_ENV"
	envAuthToken   = "NFTMARKET_RPC_TOKEN"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv(envEnvironment))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("nftmarketd", env, cfg.LogFile)

	db, err := storage.NewLevelDB(filepath.Clean(cfg.DataDir))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	state := storage.NewSettlementState(db)
	ledger := storage.NewBalanceLedger(db)
	assets := storage.NewAssetBook(db)
	recorder := events.NewRecorder(0)

	vault, err := cfg.VaultAddr()
	if err != nil {
		logger.Error("Invalid vault address", slog.Any("error", err))
		os.Exit(1)
	}

	engine := settlement.NewEngine()
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetVault(vault)
	engine.SetAssets(assets)
	engine.SetEmitter(recorder)
	if cfg.ExtensionWindow > 0 {
		engine.SetExtensionWindow(cfg.ExtensionWindow)
	}

	if err := initializeEngine(engine, cfg, logger); err != nil {
		logger.Error("Failed to initialize settlement engine", slog.Any("error", err))
		os.Exit(1)
	}

	authToken := strings.TrimSpace(os.Getenv(envAuthToken))
	if authToken == "" {
		authToken = cfg.RPCAuthToken
	}
	server := rpc.NewServer(engine, recorder, logger, authToken)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("address", cfg.RPCAddress), slog.String("network", cfg.NetworkName))
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// initializeEngine seeds the admin, fee policy and default currency on first
// start; a store that already carries an admin is left untouched.
func initializeEngine(engine *settlement.Engine, cfg *config.Config, logger *slog.Logger) error {
	admin, err := cfg.AdminAddr()
	if err != nil {
		return err
	}
	feeCfg, err := cfg.FeeConfig()
	if err != nil {
		return err
	}
	err = engine.Initialize(admin, feeCfg, cfg.DefaultCurrency)
	if errors.Is(err, settlement.ErrAlreadyExists) {
		logger.Info("Settlement state already initialized")
		return nil
	}
	if err == nil {
		logger.Info("Settlement state initialized", slog.String("currency", cfg.DefaultCurrency))
	}
	return err
}

// cmd/bot/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/bot"
	"github.com/rovshanmuradov/katz-bot/internal/config"
	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file (empty for env only)")
	envFile := flag.String("env", ".env", "Dotenv file loaded before the config")
	userID := flag.String("user", "", "Start FlipperMode for this user on launch")
	walletAddr := flag.String("wallet", "", "Wallet address used with -user")
	tokens := flag.String("tokens", "", "Comma separated token addresses to evaluate after start")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.Log, nil)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = appLogger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Starting KATZ trading core",
		zap.String("config", *configPath),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("network", cfg.Flipper.Network))

	app, err := bot.NewApp(ctx, cfg, appLogger.Logger)
	if err != nil {
		appLogger.Error("Failed to initialize", zap.Error(err))
		os.Exit(1)
	}

	if *userID != "" {
		if err := app.Commands.Send(ctx, bot.StartFlipperCommand{UserID: *userID, WalletAddress: *walletAddr}); err != nil {
			appLogger.Error("Failed to start FlipperMode", zap.Error(err))
		} else if *tokens != "" {
			go discover(ctx, app, appLogger.Logger, *tokens)
		}
	}

	runErr := app.Run(ctx)
	if runErr != nil {
		appLogger.Error("Application stopped with error", zap.Error(runErr))
	}

	appLogger.Info("Shutting down")
	if err := app.Close(); err != nil {
		appLogger.Error("Shutdown completed with errors", zap.Error(err))
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func discover(ctx context.Context, app *bot.App, logger *zap.Logger, list string) {
	network := app.Engine.Status().Wallet.Network
	for _, addr := range strings.Split(list, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		accepted, err := app.DiscoverAddress(ctx, network, addr)
		if err != nil {
			logger.Warn("Token evaluation failed",
				zap.String("token", addr),
				zap.String("reason", domain.UserMessage(err)),
				zap.Error(err))
			continue
		}
		logger.Info("Token evaluated", zap.String("token", addr), zap.Bool("accepted", accepted))
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/bot"
	"github.com/rovshanmuradov/katz-bot/internal/config"
	"github.com/rovshanmuradov/katz-bot/internal/logger"
	"github.com/rovshanmuradov/katz-bot/internal/ui"
)

const logBufferSize = 1000

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file (empty for env only)")
	envFile := flag.String("env", ".env", "Dotenv file loaded before the config")
	userID := flag.String("user", "", "Operator user id; FlipperMode starts when -wallet is set too")
	walletAddr := flag.String("wallet", "", "Wallet address used with -user")
	refresh := flag.Duration("refresh", time.Second, "Dashboard refresh interval")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The dashboard owns the terminal; logs go to the file and the buffer.
	buffer := logger.NewBuffer(logBufferSize)
	cfg.Log.Quiet = true
	appLogger, err := logger.New(cfg.Log, buffer)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = appLogger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bot.NewApp(ctx, cfg, appLogger.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	if *userID != "" && *walletAddr != "" {
		if err := app.Commands.Send(ctx, bot.StartFlipperCommand{UserID: *userID, WalletAddress: *walletAddr}); err != nil {
			appLogger.Error("Failed to start FlipperMode", zap.Error(err))
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- app.Run(runCtx) }()

	bridge := ui.NewEventBridge(app.Bus, 256, appLogger.Logger)
	recovery := ui.NewRecoveryHandler(appLogger.Logger, func() (tea.Model, []tea.ProgramOption) {
		model := ui.New(app, app.Commands, buffer, bridge.C(), ui.Options{
			UserID:  *userID,
			Refresh: *refresh,
		})
		return model, []tea.ProgramOption{tea.WithAltScreen(), tea.WithoutSignalHandler()}
	})
	go func() {
		<-ctx.Done()
		recovery.Stop()
	}()

	if err := recovery.Run(); err != nil {
		appLogger.Error("Dashboard stopped with error", zap.Error(err))
	}

	_ = bridge.Close()
	cancelRun()
	if err := <-runDone; err != nil {
		appLogger.Error("Application stopped with error", zap.Error(err))
	}
	if err := app.Close(); err != nil {
		appLogger.Error("Shutdown completed with errors", zap.Error(err))
	}
}

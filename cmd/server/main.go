package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"domainwarden/internal/config"
	"domainwarden/internal/engine"
	"domainwarden/internal/handlers"
	"domainwarden/internal/logging"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	logger := logging.New("main")

	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)

	// 2. Open stores and build jobs
	eng, err := engine.New(cfg)
	if err != nil {
		logger.Fatalf("Failed to init engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize NS status and start the scheduler
	if err := eng.Start(ctx); err != nil {
		eng.Stop()
		logger.Fatalf("Failed to start engine: %v", err)
	}

	// 4. Ops API
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	handlers.RegisterRoutes(e, eng)

	go func() {
		logger.Infof("DomainWarden starting on %s...", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown: %v", err)
	}
	eng.Stop()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/duel-arena/backend/internal/config"
	"github.com/zhouzirui/duel-arena/backend/internal/handler"
	"github.com/zhouzirui/duel-arena/backend/internal/service/broadcast"
	"github.com/zhouzirui/duel-arena/backend/internal/service/duel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := cfg.Server.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}

	dispatcher := broadcast.New(logger.Named("broadcast"))
	registry := duel.NewRegistry(dispatcher,
		duel.WithRules(cfg.Duel.Rules()),
		duel.WithIdleGrace(cfg.Duel.IdleGrace),
		duel.WithLogger(logger.Named("registry")),
	)

	router := handler.NewRouter(cfg.Server, registry, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return registry.Run(gctx, cfg.Duel.SweepInterval)
	})
	g.Go(func() error {
		logger.Info("duel arena listening",
			zap.String("addr", srv.Addr),
			zap.Int("start_health", cfg.Duel.StartHealth),
			zap.Int("damage", cfg.Duel.Damage),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("duel arena stopped")
	return nil
}

// Package main запускает HTTP-сервер сервиса bchgate.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/bchgate-system/internal/bch"
	"github.com/mmeshcher/bchgate-system/internal/config"
	"github.com/mmeshcher/bchgate-system/internal/handler"
	"github.com/mmeshcher/bchgate-system/internal/middleware"
	"github.com/mmeshcher/bchgate-system/internal/price"
	"github.com/mmeshcher/bchgate-system/internal/pricing"
	"github.com/mmeshcher/bchgate-system/internal/repository"
	"github.com/mmeshcher/bchgate-system/internal/service"
	"github.com/mmeshcher/bchgate-system/internal/token"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.JWTSecret == "" {
		sugar.Fatalw("JWT secret is required")
	}

	seed, err := hex.DecodeString(cfg.WalletSeed)
	if err != nil || len(seed) == 0 {
		sugar.Fatalw("wallet seed must be a non-empty hex string", "error", err)
	}

	keyRing, err := bch.NewKeyRing(seed, &chaincfg.MainNetParams)
	if err != nil {
		sugar.Fatalw("key ring initialization error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	bchClient := bch.NewClient(cfg.BlockbookAddress)
	priceClient := price.NewClient(cfg.PriceFeedAddress)
	signer := token.NewSigner(cfg.JWTSecret)

	var sweeper service.DepositSweeper
	if cfg.CompanyAddress != "" {
		sweeper = bch.NewSweeper(bchClient, keyRing, cfg.CompanyAddress)
	}

	svc := service.NewService(repo, bchClient, priceClient, keyRing, sweeper,
		pricing.Default(), signer, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(signer)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting bchgate server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ec-consistency/internal/api"
	"github.com/example/ec-consistency/internal/app"
	"github.com/example/ec-consistency/internal/config"
	"github.com/example/ec-consistency/internal/domain/inventory"
	"github.com/example/ec-consistency/internal/domain/product"
	"github.com/example/ec-consistency/internal/messaging"
	"github.com/example/ec-consistency/internal/observability"
)

func main() {
	cfg := config.Load("product-service")
	logger := observability.NewLogger(cfg.ServiceName, observability.ParseLevel(cfg.LogLevel))
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("product service stopped", zap.Error(err))
	}
	logger.Info("product service stopped")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Error("failed to set up tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracing", zap.Error(err))
		}
	}()

	infra, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	products := infra.ProductStore(cfg.Store)
	ledger, err := infra.Ledger(ctx, cfg.Ledger)
	if err != nil {
		return err
	}

	productSvc := product.NewService(products, infra.Bus, cfg.Bus.ProductsExchange, logger)
	reconciler := inventory.NewReconciler(products, ledger, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewProductRouter(api.NewProductHandlers(productSvc, logger), cfg.ServiceName, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting order event consumers",
			zap.String("exchange", cfg.Bus.OrdersExchange),
			zap.String("ledger", cfg.Ledger.Driver))
		return messaging.Run(gctx, infra.Bus, reconciler.Bindings(cfg.Bus.OrdersExchange)...)
	})
	g.Go(func() error {
		logger.Info("http server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

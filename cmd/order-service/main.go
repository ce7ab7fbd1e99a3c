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
	"github.com/example/ec-consistency/internal/domain/order"
	"github.com/example/ec-consistency/internal/messaging"
	"github.com/example/ec-consistency/internal/observability"
	"github.com/example/ec-consistency/internal/projection"
	"github.com/example/ec-consistency/internal/remote"
	"github.com/example/ec-consistency/internal/resilience"
)

func main() {
	cfg := config.Load("order-service")
	logger := observability.NewLogger(cfg.ServiceName, observability.ParseLevel(cfg.LogLevel))
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("order service stopped", zap.Error(err))
	}
	logger.Info("order service stopped")
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

	refCache, err := infra.Cache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	orders := infra.OrderStore(cfg.Store)

	registry := resilience.NewDefaultRegistry(cfg.Resilience, logger)
	hc := &http.Client{Timeout: cfg.Remote.ClientTimeout}
	products := remote.NewProductClient(cfg.Remote.ProductsBaseURL, hc, refCache, registry.MustPolicy(resilience.DependencyProducts), logger)
	users := remote.NewUserClient(cfg.Remote.UsersBaseURL, hc, refCache, registry.MustPolicy(resilience.DependencyUsers), logger)

	orderSvc := order.NewService(orders, products, users, infra.Bus, cfg.Bus.OrdersExchange, logger)
	projector := projection.NewProductProjector(orders, refCache, cfg.NameSyncScanLimit, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewOrderRouter(api.NewOrderHandlers(orderSvc, logger), cfg.ServiceName, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting product event consumers", zap.String("exchange", cfg.Bus.ProductsExchange))
		return messaging.Run(gctx, infra.Bus, projector.Bindings(cfg.Bus.ProductsExchange)...)
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

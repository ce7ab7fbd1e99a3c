// Package app opens the infrastructure a service process runs on, choosing
// drivers from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/example/ec-consistency/internal/cache"
	"github.com/example/ec-consistency/internal/config"
	"github.com/example/ec-consistency/internal/infrastructure/kafka"
	"github.com/example/ec-consistency/internal/infrastructure/rabbitmq"
	"github.com/example/ec-consistency/internal/infrastructure/store"
	"github.com/example/ec-consistency/internal/messaging"
)

// Infrastructure holds the long-lived connections of a process.
type Infrastructure struct {
	Bus messaging.Bus
	// DB is nil when the memory store driver is selected.
	DB *sql.DB

	logger  *zap.Logger
	closers []func() error
}

// Open connects the bus and, for the postgres driver, the database.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{logger: logger}

	bus, err := OpenBus(cfg.Bus, logger)
	if err != nil {
		return nil, err
	}
	infra.Bus = bus
	infra.closers = append(infra.closers, bus.Close)

	if cfg.Store.Driver == "postgres" || cfg.Ledger.Driver == "postgres" {
		db, err := store.ConnectPostgres(cfg.Store.DatabaseURL)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		infra.DB = db
		infra.closers = append(infra.closers, db.Close)
		if err := store.EnsureSchema(ctx, db); err != nil {
			infra.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("connected to postgres")
	}
	return infra, nil
}

func OpenBus(cfg config.BusConfig, logger *zap.Logger) (messaging.Bus, error) {
	switch cfg.Driver {
	case config.BusRabbitMQ:
		bus, err := rabbitmq.Dial(cfg.RabbitURL, cfg.ManualAck(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		logger.Info("connected to rabbitmq", zap.Bool("manual_ack", cfg.ManualAck()))
		return bus, nil
	case config.BusKafka:
		logger.Info("using kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.Bool("manual_ack", cfg.ManualAck()))
		return kafka.NewBus(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, cfg.ManualAck(), logger), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

func (i *Infrastructure) OrderStore(cfg config.StoreConfig) store.OrderStore {
	if i.DB != nil && cfg.Driver == "postgres" {
		return store.NewPostgresOrderStore(i.DB)
	}
	return store.NewMemoryOrderStore()
}

func (i *Infrastructure) ProductStore(cfg config.StoreConfig) store.ProductStore {
	if i.DB != nil && cfg.Driver == "postgres" {
		return store.NewPostgresProductStore(i.DB)
	}
	return store.NewMemoryProductStore()
}

// Ledger returns the adjustment ledger, or nil when deduplication is off.
func (i *Infrastructure) Ledger(ctx context.Context, cfg config.LedgerConfig) (store.Ledger, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresLedger(i.DB), nil
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return store.NewDynamoLedger(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable), nil
	case "memory":
		return store.NewMemoryLedger(), nil
	case "none":
		i.logger.Warn("stock adjustment deduplication disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

func (i *Infrastructure) Cache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Driver {
	case "redis":
		r := cache.NewRedis(cfg.RedisAddr)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		i.closers = append(i.closers, r.Close)
		i.logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		return r, nil
	case "memory":
		return cache.NewMemory(cfg.Size), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// Close releases resources in reverse order of acquisition.
func (i *Infrastructure) Close() error {
	var err error
	for j := len(i.closers) - 1; j >= 0; j-- {
		err = errors.Join(err, i.closers[j]())
	}
	i.closers = nil
	if err != nil {
		i.logger.Error("failed to close infrastructure", zap.Error(err))
	}
	return err
}

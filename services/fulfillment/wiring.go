package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/catalog"
	"github.com/matheusmosca/marketplace-ledger/internal/commission"
	"github.com/matheusmosca/marketplace-ledger/internal/config"
	"github.com/matheusmosca/marketplace-ledger/internal/inventory"
	"github.com/matheusmosca/marketplace-ledger/internal/ledger"
	"github.com/matheusmosca/marketplace-ledger/internal/orders"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/kafka"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/postgres"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/scheduler"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
	"github.com/matheusmosca/marketplace-ledger/internal/wallet"
)

// stores groups the persistence side of one storage driver.
type stores struct {
	beginner   txn.Beginner
	ledger     ledger.Repository
	orders     orders.Repository
	inventory  inventory.Repository
	wallet     wallet.Repository
	settings   commission.SettingsRepository
	catalog    catalog.Lookup
	cached     *catalog.CachedLookup
	banking    wallet.BankingProvider
	locker     scheduler.Locker
	pool       *pgxpool.Pool
	closeFuncs []func()
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("⚠️  Using in-memory storage, data is lost on restart and failed operations are not rolled back")
		s := &stores{
			beginner:  txn.NewLocal(),
			ledger:    ledger.NewMemoryRepository(),
			orders:    orders.NewMemoryRepository(),
			inventory: inventory.NewMemoryRepository(),
			wallet:    wallet.NewMemoryRepository(),
			settings:  commission.NewMemorySettingsRepository(),
			catalog:   catalog.NewMemoryLookup(),
			banking:   wallet.NewMemoryBanking(),
			locker:    scheduler.LocalLocker{},
		}
		s.useHTTPCollaborators(cfg)
		return s, nil
	}

	pool, err := postgres.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	s := &stores{
		beginner:   postgres.NewBeginner(pool),
		ledger:     ledger.NewPostgresRepository(pool),
		orders:     orders.NewPostgresRepository(pool),
		inventory:  inventory.NewPostgresRepository(pool),
		wallet:     wallet.NewPostgresRepository(pool),
		settings:   commission.NewPostgresSettingsRepository(pool),
		catalog:    catalog.NewPostgresLookup(pool),
		banking:    wallet.NewPostgresBanking(pool),
		locker:     scheduler.LocalLocker{},
		pool:       pool,
		closeFuncs: []func(){pool.Close},
	}

	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			s.close()
			return nil, err
		}
		logger.Info("✅ Schema applied")
	}

	if cfg.Inventory.LeaderElection {
		sqlDB, err := postgres.OpenSQL(cfg.Database)
		if err != nil {
			s.close()
			return nil, err
		}
		s.locker = scheduler.NewPostgresLocker(sqlDB)
		s.closeFuncs = append(s.closeFuncs, func() { _ = sqlDB.Close() })
	}

	s.useHTTPCollaborators(cfg)
	return s, nil
}

func (s *stores) useHTTPCollaborators(cfg *config.Config) {
	if cfg.Catalog.Source == config.SourceHTTP {
		s.catalog = catalog.NewHTTPLookup(cfg.Catalog.BaseURL, cfg.Catalog.Timeout.Duration)
	}
	if cfg.Banking.Source == config.SourceHTTP {
		s.banking = wallet.NewHTTPBanking(cfg.Banking.BaseURL, cfg.Banking.Timeout.Duration)
	}
	s.cached = catalog.NewCachedLookup(s.catalog, cfg.Catalog.CacheTTL.Duration)
	s.catalog = s.cached
}

func (s *stores) close() {
	for i := len(s.closeFuncs) - 1; i >= 0; i-- {
		s.closeFuncs[i]()
	}
}

// services holds every use case the router and background workers need.
type services struct {
	inventory  *inventory.Service
	orders     *orders.OrderUseCase
	posting    *commission.PostingService
	settings   *commission.SettingsProvider
	wallet     *wallet.Service
	consumer   *commission.PaymentConsumer
	scheduler  *scheduler.Scheduler
	closeFuncs []func() error
}

func buildServices(cfg *config.Config, st *stores, tp trace.TracerProvider, logger *zap.Logger) (*services, error) {
	tracer := tp.Tracer(config.ServiceName)
	svc := &services{}

	var publisher inventory.AlertPublisher = inventory.NewLogAlertPublisher(logger)
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka, cfg.Kafka.AlertTopic, tp)
		if err != nil {
			return nil, fmt.Errorf("failed to create alert producer: %w", err)
		}
		publisher = inventory.NewKafkaAlertPublisher(producer, logger)
		svc.closeFuncs = append(svc.closeFuncs, producer.Close)
	}

	ledgerService := ledger.NewService(st.ledger, logger, tracer)

	svc.inventory = inventory.NewService(st.inventory, st.beginner, publisher, inventory.Options{
		DefaultMinutes: cfg.Inventory.DefaultReservationMinutes,
		MaxMinutes:     cfg.Inventory.MaxReservationMinutes,
		SweepBatchSize: cfg.Inventory.SweepBatchSize,
	}, logger, tracer)

	svc.orders = orders.NewOrderUseCase(st.orders, st.beginner, svc.inventory, st.catalog, logger, tracer)

	svc.settings = commission.NewSettingsProvider(st.settings, cfg.Commission.DefaultPercent, cfg.Commission.SettingsTTL.Duration, logger)
	svc.posting = commission.NewPostingService(
		st.orders,
		st.beginner,
		ledgerService,
		svc.settings,
		commission.NewResolver(cfg.Commission.DefaultPercent),
		st.catalog,
		logger,
		tracer,
	)

	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.PaymentTopic)
		if err != nil {
			svc.close(logger)
			return nil, fmt.Errorf("failed to create payment consumer: %w", err)
		}
		svc.consumer = commission.NewPaymentConsumer(consumer, svc.posting, logger)
		svc.closeFuncs = append(svc.closeFuncs, consumer.Close)
	}

	var notifier wallet.PayoutNotifier
	if cfg.DTM.Enabled {
		notifier = wallet.NewDTMNotifier(cfg.DTM.Server, cfg.DTM.ServiceURL, cfg.DTM.NotifyURL, logger)
	} else {
		notifier = wallet.NewDirectNotifier(cfg.DTM.NotifyURL, cfg.Banking.Timeout.Duration, logger)
	}
	svc.wallet = wallet.NewService(st.wallet, st.beginner, ledgerService, st.banking, notifier,
		cfg.Wallet.WithdrawalPolicy, logger, tracer)

	svc.scheduler = scheduler.New(st.locker, logger)
	svc.scheduler.Add(scheduler.Task{
		Name:     "inventory-reservation-sweep",
		Interval: cfg.Inventory.SweepInterval.Duration,
		Run: func(ctx context.Context) error {
			_, err := svc.inventory.SweepExpired(ctx)
			return err
		},
	})
	svc.scheduler.Add(scheduler.Task{
		Name:       "catalog-cache-purge",
		Interval:   cfg.Catalog.CacheTTL.Duration,
		PerReplica: true,
		Run: func(ctx context.Context) error {
			if n := st.cached.Purge(); n > 0 {
				logger.Debug("Catalog cache purged", zap.Int("removed", n))
			}
			return nil
		},
	})

	return svc, nil
}

func (s *services) close(logger *zap.Logger) {
	for _, fn := range s.closeFuncs {
		if err := fn(); err != nil {
			logger.Warn("Error closing resource", zap.Error(err))
		}
	}
}

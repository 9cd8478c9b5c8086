package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mubai-gl/monoshop/internal/domain"
	healthcheck "github.com/mubai-gl/monoshop/internal/health"
	"github.com/mubai-gl/monoshop/internal/storage/memory"
	"github.com/mubai-gl/monoshop/internal/storage/postgres"
)

// runtimeDependencies собирает хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	orders       domain.OrderRepository
	products     domain.ProductRepository
	stock        domain.InventoryRepository
	payments     domain.PaymentRepository
	outboxRepo   domain.OutboxRepository
	timelineRepo domain.TimelineRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		deps := &runtimeDependencies{
			orders:       memory.NewOrderRepository(),
			products:     memory.NewProductRepository(),
			stock:        memory.NewInventoryRepository(),
			payments:     memory.NewPaymentRepository(),
			outboxRepo:   memory.NewOutboxRepository(),
			timelineRepo: memory.NewTimelineRepository(),
			storageChecker: healthcheck.NewSimpleChecker("memory", func() error {
				return nil
			}),
		}
		if err := seedDemoCatalog(ctx, deps, logger); err != nil {
			return nil, fmt.Errorf("seed demo catalog: %w", err)
		}
		logger.Info("in-memory хранилище инициализировано")
		return deps, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage driver requires MONOSHOP_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("ensure postgres schema: %w", err)
			}
		}

		deps := &runtimeDependencies{
			orders:       postgres.NewOrderRepository(store),
			products:     postgres.NewProductRepository(store),
			stock:        postgres.NewInventoryRepository(store),
			payments:     postgres.NewPaymentRepository(store),
			outboxRepo:   postgres.NewOutboxRepository(store),
			timelineRepo: postgres.NewTimelineRepository(store),
			storageChecker: healthcheck.NewSimpleChecker("postgres", func() error {
				pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return store.Ping(pingCtx)
			}),
			closeFn: store.Close,
		}
		logger.Info("postgres хранилище инициализировано")
		return deps, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

// seedDemoCatalog наполняет in-memory каталог: без него свежий процесс
// не принял бы ни одного заказа.
func seedDemoCatalog(ctx context.Context, deps *runtimeDependencies, logger *log.Entry) error {
	now := time.Now().UTC()
	demo := []struct {
		product domain.Product
		onHand  int64
	}{
		{product: domain.Product{ID: "demo-kettle", Name: "Чайник", PriceMinor: 4990, Currency: "CNY"}, onHand: 25},
		{product: domain.Product{ID: "demo-mug", Name: "Кружка", PriceMinor: 990, Currency: "CNY"}, onHand: 100},
		{product: domain.Product{ID: "demo-teapot", Name: "Заварочный чайник", PriceMinor: 7490, Currency: "CNY"}, onHand: 10},
	}

	for _, item := range demo {
		product := item.product
		product.CreatedAt = now
		product.UpdatedAt = now
		if err := deps.products.Create(ctx, product); err != nil {
			return err
		}
		if err := deps.stock.Create(ctx, domain.InventoryRecord{
			ProductID:      product.ID,
			QuantityOnHand: item.onHand,
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
	}

	logger.WithField("products", len(demo)).Info("демо-каталог загружен")
	return nil
}

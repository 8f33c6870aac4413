package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/health"
	"github.com/vladislavdragonenkov/oms-console/internal/storage/memory"
	"github.com/vladislavdragonenkov/oms-console/internal/storage/postgres"
)

type runtimeDependencies struct {
	repo           domain.OrderRepository
	storageChecker health.Checker
	closeFn        func() error
}

// initRuntimeDependencies открывает хранилище stub-сервера по StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg StubConfig, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory order storage")
		return &runtimeDependencies{
			repo: memory.NewOrderRepository(),
			storageChecker: health.NewSimpleChecker("storage", func() error {
				return nil
			}),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, ErrPostgresDSNRequired
		}
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		store, err := postgres.Open(openCtx, postgres.Config{DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(openCtx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		return &runtimeDependencies{
			repo:           postgres.NewOrderRepository(store),
			storageChecker: health.NewContextChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStorage, cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/visitbook/libs/config"
	"github.com/md-rashed-zaman/visitbook/libs/db"
	"github.com/md-rashed-zaman/visitbook/libs/runtime"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/booking"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/reconcile"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage/gormstore"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage/memstore"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/migrations"
)

const (
	driverMemory       = "memory"
	driverPostgres     = "postgres"
	driverSQLite       = "sqlite"
	driverGormPostgres = "gorm-postgres"

	// reconcileLockKey identifies the sweep's advisory lock.
	reconcileLockKey int64 = 0x76697369
)

// backend bundles the stores selected by STORE_DRIVER with what the process
// needs around them.
type backend struct {
	driver string
	slots  booking.SlotStore
	visits booking.VisitStore
	events booking.EventSink
	locker reconcile.Locker
	checks []runtime.ReadyCheck
	start  func(context.Context)
	close  func()
}

func storeDriver() string {
	driver := strings.ToLower(strings.TrimSpace(config.String("STORE_DRIVER", "")))
	if driver != "" {
		return driver
	}
	if config.String("DATABASE_URL", "") != "" {
		return driverPostgres
	}
	return driverMemory
}

func openBackend(ctx context.Context, logger *slog.Logger) (*backend, error) {
	driver := storeDriver()
	switch driver {
	case driverMemory:
		store := memstore.New()
		return &backend{
			driver: driver,
			slots:  store,
			visits: store,
			events: outbox.NewLogSink(logger),
			start:  func(context.Context) {},
			close:  func() {},
		}, nil
	case driverPostgres:
		return openPostgres(ctx, logger)
	case driverSQLite, driverGormPostgres:
		return openGorm(logger, driver)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}
}

func openPostgres(ctx context.Context, logger *slog.Logger) (*backend, error) {
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if config.Bool("DB_AUTO_MIGRATE", true) {
		applied, err := pool.Migrate(ctx, migrations.FS)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", "count", applied)
	}

	outboxRepo := outbox.NewRepository(pool)
	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})

	return &backend{
		driver: driverPostgres,
		slots:  storage.NewSlotRepository(pool),
		visits: storage.NewVisitRepository(pool),
		events: outboxRepo,
		locker: reconcile.NewAdvisoryLock(pool, reconcileLockKey),
		checks: []runtime.ReadyCheck{
			{Name: "db", Check: db.ReadyCheck(pool)},
			{Name: "outbox", Check: outboxRepo.ReadyCheck},
		},
		start: func(ctx context.Context) { go publisher.Run(ctx) },
		close: pool.Close,
	}, nil
}

func openGorm(logger *slog.Logger, driver string) (*backend, error) {
	gormDriver := gormstore.DriverSQLite
	dsn := config.String("SQLITE_PATH", "file:visits.db?_busy_timeout=5000")
	if driver == driverGormPostgres {
		gormDriver = gormstore.DriverPostgres
		var err error
		if dsn, err = config.RequiredString("DATABASE_URL"); err != nil {
			return nil, err
		}
	}
	gdb, err := gormstore.Open(gormDriver, dsn)
	if err != nil {
		return nil, err
	}
	if err := gormstore.Migrate(gdb); err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	store := gormstore.New(gdb)
	return &backend{
		driver: driver,
		slots:  store,
		visits: store,
		events: outbox.NewLogSink(logger),
		checks: []runtime.ReadyCheck{{Name: "db", Check: sqlDB.PingContext}},
		start:  func(context.Context) {},
		close:  func() { _ = sqlDB.Close() },
	}, nil
}

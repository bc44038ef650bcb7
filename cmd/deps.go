package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"

	"github.com/frahmantamala/spotpay-billing/internal"
	billingPostgres "github.com/frahmantamala/spotpay-billing/internal/billing/postgres"
	providerDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/internal/core/datastore"
	"github.com/frahmantamala/spotpay-billing/internal/core/events"
	"github.com/frahmantamala/spotpay-billing/internal/fulfillment"
	fulfillmentPostgres "github.com/frahmantamala/spotpay-billing/internal/fulfillment/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/hotspot"
	hotspotPostgres "github.com/frahmantamala/spotpay-billing/internal/hotspot/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/inventory"
	inventoryPostgres "github.com/frahmantamala/spotpay-billing/internal/inventory/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/ledger"
	ledgerPostgres "github.com/frahmantamala/spotpay-billing/internal/ledger/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/notification"
	notificationPostgres "github.com/frahmantamala/spotpay-billing/internal/notification/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
	paymentCache "github.com/frahmantamala/spotpay-billing/internal/payment/cache"
	paymentPostgres "github.com/frahmantamala/spotpay-billing/internal/payment/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/provider"
	providerPostgres "github.com/frahmantamala/spotpay-billing/internal/provider/postgres"
	"github.com/frahmantamala/spotpay-billing/internal/provider/sandbox"
	"github.com/frahmantamala/spotpay-billing/pkg/logger"
)

// forwardedEvents go to the audit topic when Kafka is configured.
var forwardedEvents = []string{
	events.EventTypePaymentSucceeded,
	events.EventTypePaymentFailed,
	events.EventTypeFulfillmentCompleted,
	events.EventTypeFulfillmentFailed,
	events.EventTypeSMSTopupPaid,
}

// Dependencies is the billing core wired for one process.
type Dependencies struct {
	Config *internal.Config
	Logger *slog.Logger

	SQL *sqlx.DB
	DB  *gorm.DB
	Tx  *datastore.Runner

	Bus     *events.EventBus
	Kafka   *kafka.Writer
	Redis   *redis.Client
	NATS    *nats.Conn
	Sandbox *sandbox.Client

	Providers   provider.RepositoryAPI
	Selector    *provider.Selector
	Catalog     *hotspot.Service
	Stock       *inventory.Service
	Wallets     *ledger.Service
	Notifier    *notification.Service
	Fulfillment *fulfillment.Service
	Payments    *payment.Service
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()

	sqlDB, gormDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: lg,
		SQL:    sqlDB,
		DB:     gormDB,
		Tx:     datastore.NewRunner(gormDB, cfg.Database.LockTimeout, cfg.Database.TxTimeout),
		Bus:    events.NewEventBus(lg),
	}

	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		deps.Kafka = events.NewKafkaWriter(brokers, cfg.Kafka.Topic)
		events.NewKafkaForwarder(deps.Kafka, lg).Register(deps.Bus, forwardedEvents...)
		lg.Info("forwarding billing events to kafka", "brokers", brokers, "topic", cfg.Kafka.Topic)
	}

	var statusCache payment.StatusCache
	if cfg.Redis.Addr != "" {
		deps.Redis, err = paymentCache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			deps.Close()
			return nil, err
		}
		statusCache = paymentCache.NewRedisStatusCache(deps.Redis, cfg.Redis.TTL, lg)
	}

	var sender notification.Sender = notification.NewLogSender(lg)
	if cfg.Notification.NATSURL != "" {
		deps.NATS, err = nats.Connect(cfg.Notification.NATSURL, nats.Name("spotpay-billing"))
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connect nats %s: %w", cfg.Notification.NATSURL, err)
		}
		sender = notification.NewNATSSender(deps.NATS, cfg.Notification.Subject, cfg.Notification.RequestTimeout)
	} else {
		lg.Warn("no sms service configured, voucher messages are only logged")
	}

	sb := cfg.Payment.Sandbox
	deps.Sandbox = sandbox.NewClient(sandbox.Config{
		CallbackURL:    cfg.Payment.CallbackURL,
		SuccessRate:    sb.SuccessRate,
		MaxDelay:       sb.MaxDelay,
		MaxWorkers:     sb.MaxWorkers,
		JobQueueSize:   sb.JobQueueSize,
		WorkerPoolSize: sb.WorkerPoolSize,
		CallbackSecret: sb.CallbackSecret,
	}, lg)
	registry := provider.NewRegistry(provider.Deps{
		HTTPClient: &http.Client{Timeout: cfg.Payment.ChargeTimeout},
		Logger:     lg,
	})
	registry.Register(providerDatamodel.TypeSandbox, sandbox.Factory(deps.Sandbox))

	deps.Providers = providerPostgres.NewProviderRepository(gormDB)
	deps.Selector = provider.NewSelector(deps.Providers, registry, lg)
	if err := deps.Selector.Refresh(ctx); err != nil {
		lg.Warn("failed to load active payment provider", "error", err)
	}

	deps.Catalog = hotspot.NewService(hotspotPostgres.NewHotspotRepository(gormDB), deps.Tx, lg)
	deps.Stock = inventory.NewService(inventoryPostgres.NewVoucherRepository(gormDB), deps.Tx, lg)
	deps.Wallets = ledger.NewService(
		ledgerPostgres.NewWalletRepository(gormDB),
		ledgerPostgres.NewStatementReader(sqlDB),
		deps.Tx, lg, cfg.Security.BCryptCost)
	deps.Notifier = notification.NewService(
		notificationPostgres.NewNotificationRepository(gormDB), sender, lg, cfg.Notification.MaxAttempts)

	paymentRepo := paymentPostgres.NewPaymentRepository(gormDB)
	deps.Fulfillment = fulfillment.NewService(fulfillment.Dependencies{
		Repo:      fulfillmentPostgres.NewFulfillmentRepository(gormDB),
		Payments:  paymentRepo,
		Splits:    billingPostgres.NewFeeSplitRepository(gormDB),
		Inventory: deps.Stock,
		Wallets:   deps.Wallets,
		Locations: deps.Catalog,
		Notifier:  deps.Notifier,
		Events:    deps.Bus,
		Tx:        deps.Tx,
		Logger:    lg,
	})
	deps.Payments = payment.NewService(payment.Dependencies{
		Repo:      paymentRepo,
		Tx:        deps.Tx,
		Catalog:   deps.Catalog,
		Stock:     deps.Stock,
		Selector:  deps.Selector,
		Fulfiller: deps.Fulfillment,
		Events:    deps.Bus,
		Cache:     statusCache,
		Logger:    lg,
	}, payment.Options{
		Currency:            cfg.Payment.Currency,
		CallbackURL:         cfg.Payment.CallbackURL,
		BaseURL:             cfg.Server.BaseURL,
		ChargeTimeout:       cfg.Payment.ChargeTimeout,
		UnreferencedTimeout: cfg.Payment.UnreferencedTimeout,
		PendingTimeout:      cfg.Payment.PendingTimeout,
	})

	return deps, nil
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() {
	if d.Sandbox != nil {
		d.Sandbox.Shutdown()
	}
	if d.Bus != nil {
		d.Bus.Drain()
	}
	if d.Kafka != nil {
		if err := d.Kafka.Close(); err != nil {
			d.Logger.Error("kafka writer close error", "error", err)
		}
	}
	if d.NATS != nil {
		if err := d.NATS.Drain(); err != nil {
			d.Logger.Error("nats drain error", "error", err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("redis close error", "error", err)
		}
	}
	if d.SQL != nil {
		if err := d.SQL.Close(); err != nil {
			d.Logger.Error("database close error", "error", err)
		}
	}
}

// initDB opens one pool shared by sqlx and gorm. A sqlite:// source runs the
// whole core on a local file for demos.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, *gorm.DB, error) {
	if strings.HasPrefix(cfg.Source, datastore.SQLitePrefix) {
		gormDB, err := datastore.OpenSQLite(cfg.Source)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		conn, err := gormDB.DB()
		if err != nil {
			return nil, nil, err
		}
		return sqlx.NewDb(conn, "sqlite3"), gormDB, nil
	}

	const driver = "pgx"
	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormDB, err := datastore.OpenPostgres(dbConn.DB)
	if err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return dbConn, gormDB, nil
}

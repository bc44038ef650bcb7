package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/spotpay-billing/internal"
	"github.com/frahmantamala/spotpay-billing/internal/core/datamodel/billing"
	"github.com/frahmantamala/spotpay-billing/internal/core/datamodel/hotspot"
	"github.com/frahmantamala/spotpay-billing/internal/core/datamodel/ledger"
	"github.com/frahmantamala/spotpay-billing/internal/core/datamodel/notification"
	"github.com/frahmantamala/spotpay-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/spotpay-billing/internal/core/datamodel/provider"
	"github.com/frahmantamala/spotpay-billing/internal/core/datamodel/voucher"
	"github.com/frahmantamala/spotpay-billing/pkg/metrics"
)

const SQLitePrefix = "sqlite://"

// pg error codes that mean "gave up waiting", not "business failure"
var retryableCodes = map[string]struct{}{
	"55P03": {}, // lock_not_available
	"57014": {}, // query_canceled
	"40P01": {}, // deadlock_detected
	"40001": {}, // serialization_failure
}

// Row-lock clauses. The SQLite dialect drops them; single-connection SQLite
// serializes transactions instead.
var (
	ForUpdate           = clause.Locking{Strength: "UPDATE"}
	ForUpdateSkipLocked = clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}
)

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Runner opens transactions with bounded lock waits.
type Runner struct {
	db          *gorm.DB
	lockTimeout time.Duration
	txTimeout   time.Duration
}

func NewRunner(db *gorm.DB, lockTimeout, txTimeout time.Duration) *Runner {
	return &Runner{db: db, lockTimeout: lockTimeout, txTimeout: txTimeout}
}

func (r *Runner) DB() *gorm.DB {
	return r.db
}

// WithTx runs fn in one transaction. Lock waits beyond the configured bound
// surface as internal.ErrLockTimeout.
func (r *Runner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if r.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.txTimeout)
		defer cancel()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.lockTimeout > 0 && tx.Dialector.Name() == "postgres" {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return TranslateError(err)
}

func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if IsLockTimeout(err) {
		metrics.LockTimeouts.Inc()
		return internal.ErrLockTimeout.WithCause(err)
	}
	return err
}

func IsLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableCodes[pgErr.Code]
		return ok
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func Config() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// OpenPostgres wraps an existing pool so sqlx and gorm share connections.
func OpenPostgres(conn *sql.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: conn}), Config())
}

// OpenSQLite opens a single-connection SQLite database. Used by the local
// sandbox mode and by tests; row locks degrade to whole-database serialization.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimPrefix(dsn, SQLitePrefix)
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), Config())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Models() []interface{} {
	return []interface{}{
		&payment.Payment{},
		&voucher.Voucher{},
		&voucher.Fulfillment{},
		&ledger.Wallet{},
		&ledger.Entry{},
		&billing.FeeSplit{},
		&provider.Provider{},
		&provider.Selection{},
		&hotspot.Location{},
		&hotspot.BillingProfile{},
		&hotspot.Package{},
		&notification.Notification{},
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

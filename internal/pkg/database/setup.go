package database

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/miketere/businesscard-sub001/app/models"
	"github.com/miketere/businesscard-sub001/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

var DB *gorm.DB

// Config selects the SQL backend. MySQL is used in production, SQLite for
// local development and tests.
type Config struct {
	Driver string
	DSN    string
	Debug  bool
}

// ConfigFromEnv builds the database config from DB_* variables.
func ConfigFromEnv() Config {
	driver := strings.ToLower(env.GetEnv("DB_DRIVER", DriverMySQL))
	if driver == DriverSQLite {
		return Config{Driver: driver, DSN: env.GetEnv("DB_PATH", "cardfox.db"), Debug: env.IsDev()}
	}
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
	return Config{Driver: DriverMySQL, DSN: dsn, Debug: env.IsDev()}
}

// newLogger reports slow queries and errors. A missing row is the normal
// answer for users on the implicit free tier and is not logged.
func newLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Open connects to the configured backend without migrating.
func Open(cfg Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if !cfg.Debug {
		gormCfg.Logger = newLogger(stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags))
	}

	switch cfg.Driver {
	case DriverSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite serializes writers anyway; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case DriverMySQL, "":
		return gorm.Open(mysql.New(mysql.Config{
			DSN:                       cfg.DSN,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate creates or updates the schema of all billing tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Plan{},
		&models.Subscription{},
		&models.Invoice{},
		&models.BillingWebhookEvent{},
		&models.SubscriptionAudit{},
		&models.Card{},
		&models.Contact{},
	)
}

// SetupDatabase opens the global connection, retrying while the database
// container is still starting, then migrates and seeds the plan catalog.
func SetupDatabase() {
	cfg := ConfigFromEnv()

	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = Open(cfg)
		if err == nil {
			if err = Migrate(DB); err != nil {
				panic(err)
			}
			if err = SeedPlans(DB); err != nil {
				panic(err)
			}
			return
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	panic(err)
}

// GetDB returns the global connection set up by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// IsSQLite reports whether db talks to SQLite, which lacks row-level locking.
func IsSQLite(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == DriverSQLite
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/malaysiangroceries/kopikopi-be/internal/config"
	"github.com/malaysiangroceries/kopikopi-be/internal/logger"
	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

const ensureDatabaseTimeout = 10 * time.Second

// Connect opens the Postgres pool sized from configuration and runs migrations.
func Connect(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	if err := ensureDatabase(cfg.DatabaseURL, log.Named("database")); err != nil {
		return nil, fmt.Errorf("ensure database: %w", err)
	}

	conn, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.New(logger.NewPrintfAdapter(log.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	ConfigurePool(sqlDB, cfg.DBPoolSize, cfg.DBConnMaxLifetime)

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return conn, nil
}

// ConfigurePool bounds the number of concurrent connections, and therefore of
// in-flight transactions, to size.
func ConfigurePool(sqlDB *sql.DB, size int, maxLifetime time.Duration) {
	if size < 1 {
		size = 1
	}
	sqlDB.SetMaxOpenConns(size)
	sqlDB.SetMaxIdleConns(size)
	if maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
}

// Migrate creates or updates the tables used by the ordering flow.
func Migrate(conn *gorm.DB) error {
	migrations := []interface{}{
		&models.MenuItem{},
		&models.Customer{},
		&models.OtpChallenge{},
		&models.Order{},
	}

	for _, migration := range migrations {
		if err := conn.AutoMigrate(migration); err != nil {
			return err
		}
	}

	return nil
}

// maintenanceDSN splits a Postgres URL into the application database name and
// a URL pointing at the postgres maintenance database on the same server.
// Key=value DSNs and URLs without a database name are not handled.
func maintenanceDSN(dsn string) (dbName, adminDSN string, ok bool) {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return "", "", false
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", "", false
	}
	dbName = strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" || dbName == "postgres" {
		return "", "", false
	}
	parsed.Path = "/postgres"
	return dbName, parsed.String(), true
}

// ensureDatabase creates the kopikopi database on first boot so a fresh
// Postgres server needs no manual setup.
func ensureDatabase(dsn string, log *zap.Logger) error {
	dbName, adminDSN, ok := maintenanceDSN(dsn)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ensureDatabaseTimeout)
	defer cancel()

	admin, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return err
	}
	defer admin.Close()

	if err := admin.PingContext(ctx); err != nil {
		return fmt.Errorf("reach postgres maintenance database: %w", err)
	}

	var exists bool
	if err := admin.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists); err != nil {
		return fmt.Errorf("look up database %q: %w", dbName, err)
	}
	if exists {
		log.Debug("database present", zap.String("database", dbName))
		return nil
	}

	log.Info("creating database", zap.String("database", dbName))
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

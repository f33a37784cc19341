// Package mysql wraps a GORM MySQL connection with retrying dial logic and
// pool configuration. The ledger keeps explicit transaction control, so the
// default per-statement transaction is disabled.
package mysql

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	dialRetries   = 10
	retryInterval = 2 * time.Second
)

// Client wraps the GORM DB handle. It is constructed once by the caller that
// assembles the system and passed by reference to whatever needs it.
type Client struct {
	db *gorm.DB
}

// NewClient dials MySQL, retrying while the server comes up, and applies the
// pool settings from cfg.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 newLogger(cfg.LogLevel),
	}

	var db *gorm.DB
	var err error
	for i := 0; i < dialRetries; i++ {
		db, err = gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
		if err == nil {
			rawDB, pingErr := db.DB()
			if pingErr == nil {
				if err = rawDB.Ping(); err == nil {
					break
				}
			} else {
				err = pingErr
			}
		}
		if i < dialRetries-1 {
			time.Sleep(retryInterval)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to mysql after %d attempts: %w", dialRetries, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Client{db: db}, nil
}

// DB exposes the underlying *gorm.DB for the store adapter.
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close closes the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newLogger(level string) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error
	}
	return logger.Default.LogMode(logLevel)
}

// Package mysql stores the saga's ledgers, orders and payments in MySQL
// through gorm. Every repository reads the transaction from the context, so
// the same value works both inside and outside TxManager.Do.
package mysql

import (
	"fmt"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LockWaitTimeout becomes the session's innodb_lock_wait_timeout, rounded
	// up to whole seconds.
	LockWaitTimeout time.Duration
}

// SessionDSN returns c.DSN with the session parameters the repositories rely on.
func (c Config) SessionDSN() (string, error) {
	parsed, err := driver.ParseDSN(c.DSN)
	if err != nil {
		return "", fmt.Errorf("mysql: parse dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	if parsed.Params == nil {
		parsed.Params = map[string]string{}
	}
	if c.LockWaitTimeout > 0 {
		secs := int((c.LockWaitTimeout + time.Second - 1) / time.Second)
		parsed.Params["innodb_lock_wait_timeout"] = strconv.Itoa(secs)
	}
	return parsed.FormatDSN(), nil
}

func Open(cfg Config) (*gorm.DB, error) {
	dsn, err := cfg.SessionDSN()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql: pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

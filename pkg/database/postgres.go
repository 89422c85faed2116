package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/xp-ledger/pkg/config"
)

// DSN renders cfg as a lib/pq keyword/value connection string. A lock_timeout makes a
// transaction queued behind another writer of the same user fail with 55P03, which the
// ledger store treats as a retryable conflict.
func DSN(cfg config.DatabaseConfig) string {
	params := []string{
		"host=" + quoteValue(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + quoteValue(cfg.User),
		"password=" + quoteValue(cfg.Password),
		"dbname=" + quoteValue(cfg.Name),
		"sslmode=" + quoteValue(cfg.SSLMode),
	}
	if cfg.AppName != "" {
		params = append(params, "application_name="+quoteValue(cfg.AppName))
	}
	if cfg.LockTimeout > 0 {
		params = append(params, fmt.Sprintf("lock_timeout=%d", cfg.LockTimeout.Milliseconds()))
	}
	return strings.Join(params, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// NewPostgres opens and verifies the pool backing the ledger store.
func NewPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s@%s:%d/%s: %w", cfg.User, cfg.Host, cfg.Port, cfg.Name, err)
	}

	return db, nil
}

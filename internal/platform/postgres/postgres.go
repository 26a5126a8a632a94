// Package postgres opens the engine database and applies its schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	// registers the "pgx" database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"dossier/internal/platform/config"
)

// Open connects to cfg.DSN through the pgx stdlib driver and pings it.
func Open(ctx context.Context, cfg config.Postgres) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// Health returns a check bound to db.
func Health(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// Package postgres owns the connection pool, the embedded schema migrations, and the small helpers the repositories
// share.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley-server/internal/postgres/migrations"
)

// Connect builds a pgx pool for dsn, bounded by the configured connection limits, and pings it before returning.
func Connect(ctx context.Context, dsn string, maxConns, minConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	cfg.MaxConns = int32(maxConns)
	cfg.MinConns = int32(minConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate applies every pending migration from the embedded SQL files. goose needs database/sql, so this opens a
// short-lived pgx/stdlib connection separate from the pool.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(migrateLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrateLogger routes goose output through zerolog. goose's Fatalf is demoted to an error: Migrate reports the
// failure through its return value and the caller decides whether to exit.
type migrateLogger struct{}

func (migrateLogger) Fatalf(format string, v ...any) { log.Error().Msgf(format, v...) }
func (migrateLogger) Printf(format string, v ...any) { log.Info().Msgf(format, v...) }

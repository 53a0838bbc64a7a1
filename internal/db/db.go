// Package db embeds the Postgres schema migrations and connects the
// durable-store pool. Grounded on
// randomtoy-random-chess-backend/internal/db/db.go for the
// //go:embed migrations/*.sql plus goose wiring pattern.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
)

//go:embed migrations/*.sql
var Migrations embed.FS

// Connect opens a pgxpool.Pool against url.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return pool, nil
}

// Migrate applies every pending embedded migration to url using goose's
// database/sql-based runner (pgx's stdlib compatibility shim, since goose
// drives schema_migrations through the standard library interface, not
// pgxpool).
func Migrate(ctx context.Context, url string) error {
	goose.SetBaseFS(Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("db: set dialect: %w", err)
	}

	conn, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("db: open: %w", err)
	}
	defer conn.Close()

	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		return fmt.Errorf("db: migrate up: %w", err)
	}
	return nil
}

// Package db opens the postgres connection and brings the schema up to date.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// NewDB connects to postgres, verifies the connection and applies any
// outstanding goose migrations from migrationsDir.
func NewDB(dsn, migrationsDir string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := goose.Up(conn, migrationsDir); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return conn, nil
}

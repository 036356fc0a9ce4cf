// Package database provides database access for the round journal
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate creates all required tables
func (db *DB) Migrate() error {
	schema := `
	-- One row per completed controller operation
	CREATE TABLE IF NOT EXISTS round_events (
		id UUID PRIMARY KEY,
		operation VARCHAR(50) NOT NULL,
		phase VARCHAR(20) NOT NULL,
		session_id TEXT NOT NULL,
		round_id TEXT,
		balance_amount BIGINT,
		currency VARCHAR(10),
		payout_multiplier DOUBLE PRECISION,
		unsettled BOOLEAN NOT NULL DEFAULT FALSE,
		error TEXT,
		snapshot JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_round_events_created ON round_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_round_events_session ON round_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_round_events_round ON round_events(round_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Reset drops all tables (for testing)
func (db *DB) Reset() error {
	_, err := db.Exec(`DROP TABLE IF EXISTS round_events CASCADE;`)
	return err
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData() error {
	_, err := db.Exec(`TRUNCATE TABLE round_events;`)
	return err
}

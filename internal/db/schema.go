package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Portable DDL for sqlite and PostgreSQL. Timestamps are unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS stops (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		seq INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bus_state (
		bus_id TEXT PRIMARY KEY,
		stop_index INTEGER NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		updated_at BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		location_source TEXT NOT NULL DEFAULT '',
		location_accuracy DOUBLE PRECISION,
		last_arrival_at BIGINT,
		last_departure_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS user_locations (
		bus_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		accuracy DOUBLE PRECISION NOT NULL,
		reported_at BIGINT NOT NULL,
		PRIMARY KEY (bus_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_locations_recent ON user_locations (bus_id, reported_at)`,
	`CREATE TABLE IF NOT EXISTS confirmations (
		id TEXT PRIMARY KEY,
		bus_id TEXT NOT NULL,
		stop_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		user_id TEXT NOT NULL,
		confirmed_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_confirmations_bus_stop ON confirmations (bus_id, stop_id)`,
	`CREATE TABLE IF NOT EXISTS location_clusters (
		bus_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		radius DOUBLE PRECISION NOT NULL,
		point_count INTEGER NOT NULL,
		total_points INTEGER NOT NULL,
		source TEXT NOT NULL,
		is_majority INTEGER NOT NULL,
		computed_at BIGINT NOT NULL,
		PRIMARY KEY (bus_id, ordinal)
	)`,
}

// InitSchema creates the tables if they do not exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit: %w", err)
	}
	return nil
}

package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS parking_sessions (
		id              UUID PRIMARY KEY,
		plate           TEXT NOT NULL,
		entry_time      TIMESTAMPTZ NOT NULL,
		exit_time       TIMESTAMPTZ,
		slot            TEXT,
		amount          BIGINT NOT NULL DEFAULT 0,
		paid            BOOLEAN NOT NULL DEFAULT FALSE,
		payment_link_id TEXT,
		status          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_sessions_plate ON parking_sessions(plate);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_sessions_entry_time ON parking_sessions(entry_time);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_sessions_open ON parking_sessions(plate) WHERE exit_time IS NULL;`,
	`CREATE TABLE IF NOT EXISTS slot_states (
		slot_name       TEXT PRIMARY KEY,
		occupying_plate TEXT,
		first_seen      TIMESTAMPTZ,
		last_seen       TIMESTAMPTZ,
		mapped          BOOLEAN NOT NULL DEFAULT FALSE
	);`,
	`CREATE TABLE IF NOT EXISTS payment_attempts (
		id          UUID PRIMARY KEY,
		session_id  UUID NOT NULL REFERENCES parking_sessions(id),
		method      TEXT NOT NULL,
		status      TEXT NOT NULL,
		amount      BIGINT NOT NULL,
		link_id     TEXT,
		short_url   TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_attempts_session ON payment_attempts(session_id);`,
	`CREATE INDEX IF NOT EXISTS idx_payment_attempts_link ON payment_attempts(link_id);`,
	`CREATE TABLE IF NOT EXISTS confirmed_events (
		id          BIGSERIAL PRIMARY KEY,
		plate       TEXT NOT NULL,
		camera_id   TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		event_time  TIMESTAMPTZ NOT NULL,
		raw_payload JSONB,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_confirmed_events_plate ON confirmed_events(plate);`,
	`CREATE INDEX IF NOT EXISTS idx_confirmed_events_event_time ON confirmed_events(event_time);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

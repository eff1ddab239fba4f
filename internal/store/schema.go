package store

import (
	"database/sql"
	"fmt"

	"econoclass/internal/logging"
)

// Schema versions:
// v1: Source tables + six stage result tables + classifications + executions
// v2: Added magnitude_suspicious to validation_results
// v3: Added reviewed_by to classifications
const CurrentSchemaVersion = 3

// sqliteTables is the idempotent DDL applied at initialization on SQLite.
var sqliteTables = []string{
	`CREATE TABLE IF NOT EXISTS source_indicators (
		indicator_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		units TEXT DEFAULT '',
		periodicity TEXT DEFAULT '',
		category_group TEXT DEFAULT '',
		topic TEXT DEFAULT '',
		aggregation_method TEXT DEFAULT '',
		scale TEXT DEFAULT '',
		currency_code TEXT DEFAULT '',
		dataset TEXT DEFAULT '',
		description TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_source_name ON source_indicators(name);`,

	`CREATE TABLE IF NOT EXISTS source_country_indicators (
		indicator_id TEXT NOT NULL,
		date TEXT NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY(indicator_id, date)
	);
	CREATE INDEX IF NOT EXISTS idx_series_indicator ON source_country_indicators(indicator_id);`,

	`CREATE TABLE IF NOT EXISTS router_results (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		family TEXT NOT NULL,
		confidence_family REAL NOT NULL,
		reasoning TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_router_execution ON router_results(execution_id);`,

	`CREATE TABLE IF NOT EXISTS specialist_results (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		family TEXT NOT NULL,
		indicator_type TEXT NOT NULL,
		indicator_category TEXT DEFAULT '',
		temporal_aggregation TEXT NOT NULL,
		is_currency_denominated INTEGER NOT NULL DEFAULT 0,
		confidence_cls REAL NOT NULL,
		reasoning TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_specialist_execution ON specialist_results(execution_id);`,

	`CREATE TABLE IF NOT EXISTS validation_results (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		is_cumulative INTEGER NOT NULL DEFAULT 0,
		cumulative_confidence REAL NOT NULL DEFAULT 0,
		suggested_temporal TEXT DEFAULT '',
		validation_reasoning TEXT DEFAULT '',
		analyzed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_validation_execution ON validation_results(execution_id);`,

	`CREATE TABLE IF NOT EXISTS orientation_results (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		heat_map_orientation TEXT NOT NULL,
		confidence_orient REAL NOT NULL,
		reasoning TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_orientation_execution ON orientation_results(execution_id);`,

	`CREATE TABLE IF NOT EXISTS flagging_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		flag_type TEXT NOT NULL,
		flag_reason TEXT DEFAULT '',
		current_value TEXT DEFAULT '',
		expected_value TEXT DEFAULT '',
		severity TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(execution_id, indicator_id, flag_type)
	);
	CREATE INDEX IF NOT EXISTS idx_flagging_execution ON flagging_results(execution_id);
	CREATE INDEX IF NOT EXISTS idx_flagging_severity ON flagging_results(severity);`,

	`CREATE TABLE IF NOT EXISTS review_decisions (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target_field TEXT DEFAULT '',
		old_value TEXT DEFAULT '',
		new_value TEXT DEFAULT '',
		reasoning TEXT DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_review_execution ON review_decisions(execution_id);`,

	`CREATE TABLE IF NOT EXISTS classifications (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		name TEXT NOT NULL,
		family TEXT NOT NULL,
		indicator_type TEXT NOT NULL,
		indicator_category TEXT DEFAULT '',
		temporal_aggregation TEXT NOT NULL,
		is_currency_denominated INTEGER NOT NULL DEFAULT 0,
		heat_map_orientation TEXT NOT NULL,
		confidence_family REAL NOT NULL DEFAULT 0,
		confidence_cls REAL NOT NULL DEFAULT 0,
		confidence_orient REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_classifications_execution ON classifications(execution_id);`,

	`CREATE TABLE IF NOT EXISTS pipeline_executions (
		execution_id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		stage_counts TEXT DEFAULT '{}',
		api_calls INTEGER NOT NULL DEFAULT 0,
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		cost_estimate REAL NOT NULL DEFAULT 0
	);`,
}

// postgresTables mirrors sqliteTables with Postgres column types.
var postgresTables = []string{
	`CREATE TABLE IF NOT EXISTS source_indicators (
		indicator_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		units TEXT DEFAULT '',
		periodicity TEXT DEFAULT '',
		category_group TEXT DEFAULT '',
		topic TEXT DEFAULT '',
		aggregation_method TEXT DEFAULT '',
		scale TEXT DEFAULT '',
		currency_code TEXT DEFAULT '',
		dataset TEXT DEFAULT '',
		description TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_source_name ON source_indicators(name);`,

	`CREATE TABLE IF NOT EXISTS source_country_indicators (
		indicator_id TEXT NOT NULL,
		date TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY(indicator_id, date)
	);
	CREATE INDEX IF NOT EXISTS idx_series_indicator ON source_country_indicators(indicator_id);`,

	`CREATE TABLE IF NOT EXISTS router_results (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		family TEXT NOT NULL,
		confidence_family DOUBLE PRECISION NOT NULL,
		reasoning TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT now(),
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_router_execution ON router_results(execution_id);`,

	`CREATE TABLE IF NOT EXISTS specialist_results (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		family TEXT NOT NULL,
		indicator_type TEXT NOT NULL,
		indicator_category TEXT DEFAULT '',
		temporal_aggregation TEXT NOT NULL,
		is_currency_denominated BOOLEAN NOT NULL DEFAULT FALSE,
		confidence_cls DOUBLE PRECISION NOT NULL,
		reasoning TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT now(),
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_specialist_execution ON specialist_results(execution_id);`,

	`CREATE TABLE IF NOT EXISTS validation_results (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		is_cumulative BOOLEAN NOT NULL DEFAULT FALSE,
		cumulative_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		suggested_temporal TEXT DEFAULT '',
		validation_reasoning TEXT DEFAULT '',
		analyzed BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_validation_execution ON validation_results(execution_id);`,

	`CREATE TABLE IF NOT EXISTS orientation_results (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		heat_map_orientation TEXT NOT NULL,
		confidence_orient DOUBLE PRECISION NOT NULL,
		reasoning TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT now(),
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_orientation_execution ON orientation_results(execution_id);`,

	`CREATE TABLE IF NOT EXISTS flagging_results (
		id BIGSERIAL PRIMARY KEY,
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		flag_type TEXT NOT NULL,
		flag_reason TEXT DEFAULT '',
		current_value TEXT DEFAULT '',
		expected_value TEXT DEFAULT '',
		severity TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT now(),
		UNIQUE(execution_id, indicator_id, flag_type)
	);
	CREATE INDEX IF NOT EXISTS idx_flagging_execution ON flagging_results(execution_id);
	CREATE INDEX IF NOT EXISTS idx_flagging_severity ON flagging_results(severity);`,

	`CREATE TABLE IF NOT EXISTS review_decisions (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target_field TEXT DEFAULT '',
		old_value TEXT DEFAULT '',
		new_value TEXT DEFAULT '',
		reasoning TEXT DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT now(),
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_review_execution ON review_decisions(execution_id);`,

	`CREATE TABLE IF NOT EXISTS classifications (
		execution_id TEXT NOT NULL,
		indicator_id TEXT NOT NULL,
		name TEXT NOT NULL,
		family TEXT NOT NULL,
		indicator_type TEXT NOT NULL,
		indicator_category TEXT DEFAULT '',
		temporal_aggregation TEXT NOT NULL,
		is_currency_denominated BOOLEAN NOT NULL DEFAULT FALSE,
		heat_map_orientation TEXT NOT NULL,
		confidence_family DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence_cls DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence_orient DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT now(),
		PRIMARY KEY(execution_id, indicator_id)
	);
	CREATE INDEX IF NOT EXISTS idx_classifications_execution ON classifications(execution_id);`,

	`CREATE TABLE IF NOT EXISTS pipeline_executions (
		execution_id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		stage_counts TEXT DEFAULT '{}',
		api_calls BIGINT NOT NULL DEFAULT 0,
		tokens_in BIGINT NOT NULL DEFAULT 0,
		tokens_out BIGINT NOT NULL DEFAULT 0,
		cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0
	);`,
}

// Migration defines a column addition for databases created before the
// column existed.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all schema migrations to apply. These handle
// cases where tables exist but are missing newer columns.
var pendingMigrations = []Migration{
	// v2: magnitude check evidence published by Validation
	{"validation_results", "magnitude_suspicious", "INTEGER NOT NULL DEFAULT 0"},
	// v3: review provenance on the merged row
	{"classifications", "reviewed_by", "TEXT DEFAULT ''"},
}

// initialize creates the required tables and applies column migrations.
func (s *SQLStore) initialize() error {
	tables := sqliteTables
	if s.dialect == dialectPostgres {
		tables = postgresTables
	}
	for _, ddl := range tables {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", classify(err))
		}
	}
	if err := s.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logging.StoreDebug("Schema initialized (version %d)", CurrentSchemaVersion)
	return nil
}

// runMigrations applies column additions for existing databases.
func (s *SQLStore) runMigrations() error {
	applied := 0
	for _, m := range pendingMigrations {
		def := m.Def
		if s.dialect == dialectPostgres {
			// SQLite stores booleans as INTEGER; Postgres has a real type.
			if m.Column == "magnitude_suspicious" {
				def = "BOOLEAN NOT NULL DEFAULT FALSE"
			}
		}
		if s.columnExists(m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, def)
		if _, err := s.db.Exec(query); err != nil {
			// Column may already exist in a different form.
			logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		applied++
	}
	logging.StoreDebug("Schema migrations complete: applied=%d", applied)
	return nil
}

// columnExists checks whether a column exists in a table.
func (s *SQLStore) columnExists(table, column string) bool {
	if s.dialect == dialectPostgres {
		var one int
		err := s.db.QueryRow(
			`SELECT 1 FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
			table, column).Scan(&one)
		return err == nil
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

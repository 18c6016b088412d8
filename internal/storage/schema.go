package storage

import (
	"database/sql"
	"fmt"
)

// currentSchemaVersion is written into every snapshot. Readers refuse
// snapshots with a different version.
const currentSchemaVersion = 2

var schemaStatements = []string{
	`CREATE TABLE schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE entities (
		rowid INTEGER PRIMARY KEY,
		id TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		provenance TEXT NOT NULL,
		title TEXT NOT NULL,
		path TEXT NOT NULL,
		attrs TEXT NOT NULL,
		search_text TEXT NOT NULL,
		fold_text TEXT NOT NULL
	)`,
	`CREATE INDEX idx_entities_type ON entities(type)`,
	`CREATE INDEX idx_entities_provenance ON entities(provenance)`,
	`CREATE TABLE edges (
		source TEXT NOT NULL REFERENCES entities(id),
		kind TEXT NOT NULL,
		target TEXT NOT NULL REFERENCES entities(id),
		PRIMARY KEY (source, kind, target)
	) WITHOUT ROWID`,
	`CREATE INDEX idx_edges_target ON edges(target, kind)`,
}

// initializeSchema creates every table of an empty snapshot file.
func initializeSchema(tx *sql.Tx) error {
	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if err := initFTS(tx); err != nil {
		return err
	}
	return setSchemaVersion(tx, currentSchemaVersion)
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func (db *DB) getSchemaVersion() (int, error) {
	var version int
	if err := db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// migration adds one column to an existing table. Databases created by
// older builds get the newer columns without losing data.
type migration struct {
	table  string
	column string
	def    string
}

// pendingMigrations lists columns added after the initial schema.
var pendingMigrations = []migration{
	// Reasoning and alternatives were added once the semantic pass
	// started reporting them.
	{"course_records", "mapping_reasoning", "TEXT NOT NULL DEFAULT ''"},
	{"course_records", "mapping_alternatives", "TEXT NOT NULL DEFAULT '[]'"},
	{"course_records", "mapped_at", "DATETIME"},
	// Source file tracking for multi-document catalogs.
	{"extractions", "source_file", "TEXT NOT NULL DEFAULT ''"},
}

func runMigrations(db *sql.DB, logger *zap.Logger) error {
	for _, m := range pendingMigrations {
		if !tableExists(db, m.table) {
			continue
		}
		if columnExists(db, m.table, m.column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("adding %s.%s: %w", m.table, m.column, err)
		}
		logger.Debug("schema migration applied",
			zap.String("table", m.table),
			zap.String("column", m.column))
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

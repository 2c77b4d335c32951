// Package store persists catalogs, extractions, and mapping outcomes in
// SQLite. Extracted course fields are written once and never rewritten;
// the mapping stage only touches the mapping_* columns.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"coursemap/internal/catalog"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLStore is the concrete record store backed by a single SQLite file.
// A single connection with WAL keeps writes serialized without busy
// retries in the callers.
type SQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// Open initializes the SQLite database at the given path, creating the
// parent directory and schema as needed. Use ":memory:" for tests.
func Open(path string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set journal_mode=WAL", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logger.Debug("failed to set synchronous=NORMAL", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logger.Debug("failed to enable foreign_keys", zap.Error(err))
	}

	s := &SQLStore{db: db, dbPath: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("store ready", zap.String("path", path))
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS master_catalog (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		program_area TEXT NOT NULL DEFAULT '',
		grade_level TEXT NOT NULL DEFAULT '',
		duration TEXT NOT NULL DEFAULT '',
		credit TEXT NOT NULL DEFAULT '',
		imported_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS extractions (
		id TEXT PRIMARY KEY,
		source_file TEXT NOT NULL DEFAULT '',
		record_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS course_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		extraction_id TEXT NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
		record_key TEXT NOT NULL,
		category TEXT NOT NULL,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		grade_level TEXT NOT NULL,
		length TEXT NOT NULL,
		prerequisite TEXT NOT NULL,
		credit TEXT NOT NULL,
		details TEXT NOT NULL,
		description TEXT NOT NULL,
		source_file TEXT NOT NULL,
		mapping_status TEXT NOT NULL DEFAULT 'unmapped',
		mapped_code TEXT NOT NULL DEFAULT '',
		mapped_program_area TEXT NOT NULL DEFAULT '',
		mapping_method TEXT NOT NULL DEFAULT '',
		mapping_confidence INTEGER NOT NULL DEFAULT 0,
		mapping_reasoning TEXT NOT NULL DEFAULT '',
		mapping_alternatives TEXT NOT NULL DEFAULT '[]',
		mapped_at DATETIME,
		UNIQUE(extraction_id, record_key)
	);
	CREATE INDEX IF NOT EXISTS idx_records_extraction ON course_records(extraction_id);
	CREATE INDEX IF NOT EXISTS idx_records_status ON course_records(extraction_id, mapping_status);

	CREATE TABLE IF NOT EXISTS mapping_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		extraction_id TEXT NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
		stats TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_extraction ON mapping_sessions(extraction_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ImportCatalog replaces the master catalog wholesale. The catalog is
// reference data supplied per run; partial merges are never wanted.
func (s *SQLStore) ImportCatalog(ctx context.Context, entries []catalog.MasterCatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning catalog import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM master_catalog"); err != nil {
		return fmt.Errorf("clearing master catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO master_catalog (code, name, title, category, program_area, grade_level, duration, credit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing catalog insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.Code == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, e.Code, e.Name, e.Title, e.Category,
			e.ProgramArea, e.GradeLevel, e.Duration, e.Credit); err != nil {
			return fmt.Errorf("inserting catalog entry %s: %w", e.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing catalog import: %w", err)
	}
	s.logger.Info("master catalog imported", zap.Int("entries", len(entries)))
	return nil
}

// ListCatalog returns the full master catalog snapshot.
func (s *SQLStore) ListCatalog(ctx context.Context) ([]catalog.MasterCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, title, category, program_area, grade_level, duration, credit
		FROM master_catalog ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("querying master catalog: %w", err)
	}
	defer rows.Close()

	var entries []catalog.MasterCatalogEntry
	for rows.Next() {
		var e catalog.MasterCatalogEntry
		if err := rows.Scan(&e.Code, &e.Name, &e.Title, &e.Category,
			&e.ProgramArea, &e.GradeLevel, &e.Duration, &e.Credit); err != nil {
			return nil, fmt.Errorf("scanning catalog entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveExtraction writes a fresh extraction and its records. Record
// fields are pristine from here on; only ApplyMapping writes to these
// rows afterward, and only the mapping columns.
func (s *SQLStore) SaveExtraction(ctx context.Context, extractionID, sourceFile string, records []catalog.CourseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning extraction save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO extractions (id, source_file, record_count) VALUES (?, ?, ?)`,
		extractionID, sourceFile, len(records)); err != nil {
		return fmt.Errorf("inserting extraction %s: %w", extractionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO course_records
			(extraction_id, record_key, category, name, code, grade_level,
			 length, prerequisite, credit, details, description, source_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(extraction_id, record_key) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing record insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, extractionID, r.Key(), r.Category, r.Name,
			r.Code, r.GradeLevel, r.Length, r.Prerequisite, r.Credit,
			r.Details, r.Description, r.SourceFile); err != nil {
			return fmt.Errorf("inserting record %q: %w", r.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing extraction save: %w", err)
	}
	s.logger.Info("extraction saved",
		zap.String("extraction_id", extractionID),
		zap.Int("records", len(records)))
	return nil
}

// GetExtractionRecords returns the pristine records of an extraction.
func (s *SQLStore) GetExtractionRecords(ctx context.Context, extractionID string) ([]catalog.CourseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, name, code, grade_level, length, prerequisite,
		       credit, details, description, source_file
		FROM course_records WHERE extraction_id = ? ORDER BY id`, extractionID)
	if err != nil {
		return nil, fmt.Errorf("querying extraction records: %w", err)
	}
	defer rows.Close()

	var records []catalog.CourseRecord
	for rows.Next() {
		var r catalog.CourseRecord
		if err := rows.Scan(&r.Category, &r.Name, &r.Code, &r.GradeLevel, &r.Length,
			&r.Prerequisite, &r.Credit, &r.Details, &r.Description, &r.SourceFile); err != nil {
			return nil, fmt.Errorf("scanning course record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ApplyMapping writes one validated mapping onto its record. The update
// is keyed by record identity and touches mapping columns only.
func (s *SQLStore) ApplyMapping(ctx context.Context, extractionID string, result catalog.MappingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alternatives, err := json.Marshal(result.Alternatives)
	if err != nil {
		return fmt.Errorf("encoding alternatives: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE course_records SET
			mapping_status = ?,
			mapped_code = ?,
			mapped_program_area = ?,
			mapping_method = ?,
			mapping_confidence = ?,
			mapping_reasoning = ?,
			mapping_alternatives = ?,
			mapped_at = ?
		WHERE extraction_id = ? AND record_key = ?`,
		string(result.Status), result.Code, result.ProgramArea, string(result.Method),
		result.Confidence, result.Reasoning, string(alternatives), time.Now().UTC(),
		extractionID, result.RecordKey)
	if err != nil {
		return fmt.Errorf("updating mapping for %s: %w", result.RecordKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking mapping update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no record with key %s in extraction %s", result.RecordKey, extractionID)
	}
	return nil
}

// ResetMappings returns every record of an extraction to the unmapped
// state. A refine run calls this first, so a record the new run
// declines to map does not keep a result from an earlier run or an
// earlier catalog import. Pristine record fields are untouched.
func (s *SQLStore) ResetMappings(ctx context.Context, extractionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE course_records SET
			mapping_status = 'unmapped',
			mapped_code = '',
			mapped_program_area = '',
			mapping_method = '',
			mapping_confidence = 0,
			mapping_reasoning = '',
			mapping_alternatives = '[]',
			mapped_at = NULL
		WHERE extraction_id = ?`, extractionID); err != nil {
		return fmt.Errorf("resetting mappings for %s: %w", extractionID, err)
	}
	return nil
}

// SaveSessionStats appends one mapping session outcome. Sessions are
// kept, not overwritten, so re-refines leave an audit trail.
func (s *SQLStore) SaveSessionStats(ctx context.Context, extractionID string, stats catalog.MappingStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding session stats: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO mapping_sessions (extraction_id, stats) VALUES (?, ?)`,
		extractionID, string(encoded)); err != nil {
		return fmt.Errorf("inserting session stats: %w", err)
	}
	return nil
}

// SessionRecord is one persisted mapping session.
type SessionRecord struct {
	ID           int64
	ExtractionID string
	Stats        catalog.MappingStats
	CreatedAt    time.Time
}

// ListSessions returns the mapping sessions for an extraction, newest
// first.
func (s *SQLStore) ListSessions(ctx context.Context, extractionID string) ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, extraction_id, stats, created_at
		FROM mapping_sessions WHERE extraction_id = ? ORDER BY id DESC`, extractionID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var encoded string
		if err := rows.Scan(&rec.ID, &rec.ExtractionID, &encoded, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &rec.Stats); err != nil {
			return nil, fmt.Errorf("decoding session stats: %w", err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// ExtractionSummary is the listing shape for stored extractions.
type ExtractionSummary struct {
	ID          string
	SourceFile  string
	RecordCount int
	CreatedAt   time.Time
}

// ListExtractions returns stored extractions, newest first.
func (s *SQLStore) ListExtractions(ctx context.Context) ([]ExtractionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_file, record_count, created_at
		FROM extractions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying extractions: %w", err)
	}
	defer rows.Close()

	var out []ExtractionSummary
	for rows.Next() {
		var e ExtractionSummary
		if err := rows.Scan(&e.ID, &e.SourceFile, &e.RecordCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning extraction: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MappedRecord joins a pristine record with its mapping columns, for
// reporting.
type MappedRecord struct {
	Record       catalog.CourseRecord
	Status       catalog.MappingStatus
	MappedCode   string
	ProgramArea  string
	Method       catalog.MatchMethod
	Confidence   int
	Reasoning    string
	Alternatives []string
}

// ListMappedRecords returns every record of an extraction with its
// current mapping state.
func (s *SQLStore) ListMappedRecords(ctx context.Context, extractionID string) ([]MappedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, name, code, grade_level, length, prerequisite,
		       credit, details, description, source_file,
		       mapping_status, mapped_code, mapped_program_area,
		       mapping_method, mapping_confidence, mapping_reasoning,
		       mapping_alternatives
		FROM course_records WHERE extraction_id = ? ORDER BY id`, extractionID)
	if err != nil {
		return nil, fmt.Errorf("querying mapped records: %w", err)
	}
	defer rows.Close()

	var out []MappedRecord
	for rows.Next() {
		var m MappedRecord
		var status, method, alternatives string
		if err := rows.Scan(&m.Record.Category, &m.Record.Name, &m.Record.Code,
			&m.Record.GradeLevel, &m.Record.Length, &m.Record.Prerequisite,
			&m.Record.Credit, &m.Record.Details, &m.Record.Description,
			&m.Record.SourceFile, &status, &m.MappedCode, &m.ProgramArea,
			&method, &m.Confidence, &m.Reasoning, &alternatives); err != nil {
			return nil, fmt.Errorf("scanning mapped record: %w", err)
		}
		m.Status = catalog.MappingStatus(status)
		m.Method = catalog.MatchMethod(method)
		if alternatives != "" && alternatives != "[]" {
			if err := json.Unmarshal([]byte(alternatives), &m.Alternatives); err != nil {
				return nil, fmt.Errorf("decoding alternatives: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

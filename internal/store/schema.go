package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// schemaVersionLatest is the target schema version. Each migration step is
// additive and independently safe to re-run; the stored marker only moves
// forward.
const schemaVersionLatest = 3

// migrate brings the schema up to schemaVersionLatest without destroying
// existing rows.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for v := current + 1; v <= schemaVersionLatest; v++ {
		step, ok := migrations[v]
		if !ok {
			return fmt.Errorf("no migration registered for version %d", v)
		}
		if err := step(s.db); err != nil {
			return fmt.Errorf("migration to v%d: %w", v, err)
		}
		if err := s.setSchemaVersion(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) setSchemaVersion(v int) error {
	res, err := s.db.Exec("UPDATE schema_version SET version = ?", v)
	if err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
	}
	return nil
}

var migrations = map[int]func(db *sql.DB) error{
	1: migrateV1BaseTables,
	2: migrateV2SyncLedger,
	3: migrateV3OutcomeColumns,
}

// migrateV1BaseTables creates the four record tables: full record JSON in a
// blob column plus indexed scalars for filtering.
func migrateV1BaseTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS genes (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			record TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS capsules (
			id TEXT PRIMARY KEY,
			gene TEXT NOT NULL DEFAULT '',
			asset_id TEXT NOT NULL,
			record TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS failed_capsules (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			gene TEXT NOT NULL DEFAULT '',
			record TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS evolution_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			parent TEXT NOT NULL DEFAULT '',
			intent TEXT NOT NULL DEFAULT '',
			asset_id TEXT NOT NULL,
			record TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_genes_category ON genes(category)`,
		`CREATE INDEX IF NOT EXISTS idx_genes_asset_id ON genes(asset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_capsules_gene ON capsules(gene)`,
		`CREATE INDEX IF NOT EXISTS idx_capsules_asset_id ON capsules(asset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_intent ON evolution_events(intent)`,
		`CREATE INDEX IF NOT EXISTS idx_failed_gene ON failed_capsules(gene)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2SyncLedger adds the pending-sync ledger.
func migrateV2SyncLedger(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_status (
			asset_type TEXT NOT NULL,
			local_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (asset_type, local_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_status ON sync_status(status)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV3OutcomeColumns adds outcome-status scalar columns so capsules and
// events can be filtered without decoding the record blob.
func migrateV3OutcomeColumns(db *sql.DB) error {
	if err := addColumnIfMissing(db, "capsules", "status", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "evolution_events", "status", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// addColumnIfMissing is the guarded form of ALTER TABLE ADD COLUMN used by
// additive migrations; re-running it is a no-op.
func addColumnIfMissing(db *sql.DB, table, column, definition string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

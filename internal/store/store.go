// Package store persists genes, capsules, failed capsules, and evolution
// events in a single SQLite database, along with the pending-sync ledger.
// It owns schema creation and migration and never refuses to start because
// of a corrupt file: corruption is backed up, repaired when possible, and
// otherwise set aside for a fresh database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// ErrNotFound is returned when a record id or identity has no row.
var ErrNotFound = fmt.Errorf("record not found")

// execer is satisfied by both *sql.DB and *sql.Tx so writes can run inside
// or outside a transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Store is the SQLite-backed repository for all record kinds.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path, applies pragmas, verifies
// integrity, and migrates the schema to the current version. A corrupt
// existing file is repaired or set aside; Open fails only on genuine I/O
// errors after the repair path is exhausted.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := openVerified(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// openVerified opens the file, applies pragmas, and runs an integrity check
// when the file already existed. On integrity failure it backs the file up,
// attempts a native VACUUM INTO repair, and falls back to a fresh database.
func openVerified(path string) (*sql.DB, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	db, err := openRaw(path)
	if err != nil {
		if !existed {
			return nil, err
		}
		// An existing file that cannot even be opened is corrupt.
		log.Warn("database could not be opened, attempting repair", "path", path, "err", err)
		return repair(path)
	}
	if existed {
		if checkErr := integrityCheck(db); checkErr != nil {
			log.Warn("database failed integrity check, attempting repair", "path", path, "err", checkErr)
			_ = db.Close()
			return repair(path)
		}
	}
	return db, nil
}

func openRaw(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// applyPragmas configures durability and performance once at startup:
// WAL journaling, relaxed synchronous commit, memory-mapped reads, and a
// dedicated page cache.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA mmap_size=67108864",
		"PRAGMA cache_size=-8000",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func integrityCheck(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if !strings.EqualFold(result, "ok") {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

// repair backs up the corrupt file, tries to salvage it with VACUUM INTO,
// and falls back to renaming it aside and starting empty. Data loss is
// accepted only once both paths are exhausted, and always logged.
func repair(path string) (*sql.DB, error) {
	stamp := time.Now().UTC().Format("20060102T150405")
	backup := fmt.Sprintf("%s.corrupt-%s", path, stamp)
	if err := copyFile(path, backup); err != nil {
		log.Error("could not back up corrupt database", "path", path, "err", err)
	} else {
		log.Info("corrupt database backed up", "backup", backup)
	}

	salvaged := path + ".salvage"
	if err := salvageInto(path, salvaged); err == nil {
		if err := os.Rename(salvaged, path); err == nil {
			if db, openErr := openRaw(path); openErr == nil {
				if integrityCheck(db) == nil {
					log.Info("database repaired from salvage", "path", path)
					return db, nil
				}
				_ = db.Close()
			}
		}
	}
	_ = os.Remove(salvaged)

	// Salvage failed: set the original aside and start empty.
	aside := fmt.Sprintf("%s.broken-%s", path, stamp)
	if err := os.Rename(path, aside); err != nil {
		return nil, fmt.Errorf("set aside corrupt database: %w", err)
	}
	// WAL sidecars belong to the broken file.
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
	log.Warn("database could not be repaired, starting empty", "moved_to", aside)
	return openRaw(path)
}

// salvageInto streams every readable page into a fresh file using the
// engine's native backup statement.
func salvageInto(src, dst string) error {
	_ = os.Remove(dst)
	db, err := sql.Open("sqlite", src)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec("VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is usable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Stats summarizes record counts per kind plus pending sync entries.
type Stats struct {
	Genes          int `json:"genes"`
	Capsules       int `json:"capsules"`
	FailedCapsules int `json:"failed_capsules"`
	Events         int `json:"events"`
	PendingSync    int `json:"pending_sync"`
}

// GetStats counts records of every kind.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM genes", &st.Genes},
		{"SELECT COUNT(*) FROM capsules", &st.Capsules},
		{"SELECT COUNT(*) FROM failed_capsules", &st.FailedCapsules},
		{"SELECT COUNT(*) FROM evolution_events", &st.Events},
		{"SELECT COUNT(*) FROM sync_status WHERE status = 'pending'", &st.PendingSync},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return st, fmt.Errorf("count: %w", err)
		}
	}
	return st, nil
}

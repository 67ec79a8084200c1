package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/canonical"
)

// CapsuleFilter narrows ListCapsules results.
type CapsuleFilter struct {
	Gene   *string
	Status *string
}

// UpsertCapsule inserts or updates a capsule keyed by id, recomputing its
// identity from content. Capsules are immutable once written except for
// superseding writes carrying the same id.
func (s *Store) UpsertCapsule(c asset.Capsule) (asset.Capsule, error) {
	return upsertCapsule(s.db, c)
}

func upsertCapsule(ex execer, c asset.Capsule) (asset.Capsule, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	c.Type = asset.KindCapsule

	m, err := asset.ToMap(c)
	if err != nil {
		return c, err
	}
	c.AssetID = canonical.ComputeIdentity(m)

	record, err := json.Marshal(c)
	if err != nil {
		return c, fmt.Errorf("marshal capsule: %w", err)
	}

	_, err = ex.Exec(`INSERT INTO capsules (id, gene, status, asset_id, record, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			gene = excluded.gene,
			status = excluded.status,
			asset_id = excluded.asset_id,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		c.ID, c.Gene, c.Outcome.Status, c.AssetID, record, nowStamp())
	if err != nil {
		return c, fmt.Errorf("upsert capsule %s: %w", c.ID, err)
	}
	return c, nil
}

// GetCapsule returns a capsule by id.
func (s *Store) GetCapsule(id string) (*asset.Capsule, error) {
	return s.scanCapsule(s.db.QueryRow("SELECT record FROM capsules WHERE id = ?", id))
}

// GetCapsuleByIdentity returns a capsule by its content hash.
func (s *Store) GetCapsuleByIdentity(assetID string) (*asset.Capsule, error) {
	return s.scanCapsule(s.db.QueryRow("SELECT record FROM capsules WHERE asset_id = ?", assetID))
}

func (s *Store) scanCapsule(row *sql.Row) (*asset.Capsule, error) {
	var record string
	if err := row.Scan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan capsule: %w", err)
	}
	var c asset.Capsule
	if err := json.Unmarshal([]byte(record), &c); err != nil {
		return nil, fmt.Errorf("decode capsule record: %w", err)
	}
	return &c, nil
}

// ListCapsules returns capsules matching the filter, newest first, up to
// limit (0 = no limit).
func (s *Store) ListCapsules(f CapsuleFilter, limit int) ([]asset.Capsule, error) {
	query := "SELECT record FROM capsules"
	var (
		clauses []string
		args    []any
	)
	if f.Gene != nil {
		clauses = append(clauses, "gene = ?")
		args = append(args, *f.Gene)
	}
	if f.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *f.Status)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list capsules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var capsules []asset.Capsule
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan capsule: %w", err)
		}
		var c asset.Capsule
		if err := json.Unmarshal([]byte(record), &c); err != nil {
			return nil, fmt.Errorf("decode capsule record: %w", err)
		}
		capsules = append(capsules, c)
	}
	return capsules, rows.Err()
}

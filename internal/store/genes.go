package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/canonical"
)

// GeneFilter narrows ListGenes results.
type GeneFilter struct {
	Category *asset.Category
}

// UpsertGene inserts or updates a gene keyed by id. The identity hash is
// recomputed from content on every write, so the stored asset_id always
// reflects the stored record.
func (s *Store) UpsertGene(g asset.Gene) (asset.Gene, error) {
	return upsertGene(s.db, g)
}

func upsertGene(ex execer, g asset.Gene) (asset.Gene, error) {
	if err := g.Validate(); err != nil {
		return g, err
	}
	g.Type = asset.KindGene

	m, err := asset.ToMap(g)
	if err != nil {
		return g, err
	}
	g.AssetID = canonical.ComputeIdentity(m)

	record, err := json.Marshal(g)
	if err != nil {
		return g, fmt.Errorf("marshal gene: %w", err)
	}

	_, err = ex.Exec(`INSERT INTO genes (id, category, asset_id, record, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			asset_id = excluded.asset_id,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		g.ID, string(g.Category), g.AssetID, record, nowStamp())
	if err != nil {
		return g, fmt.Errorf("upsert gene %s: %w", g.ID, err)
	}
	return g, nil
}

// GetGene returns a gene by id.
func (s *Store) GetGene(id string) (*asset.Gene, error) {
	return s.scanGene(s.db.QueryRow("SELECT record FROM genes WHERE id = ?", id))
}

// GetGeneByIdentity returns a gene by its content hash.
func (s *Store) GetGeneByIdentity(assetID string) (*asset.Gene, error) {
	return s.scanGene(s.db.QueryRow("SELECT record FROM genes WHERE asset_id = ?", assetID))
}

func (s *Store) scanGene(row *sql.Row) (*asset.Gene, error) {
	var record string
	if err := row.Scan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan gene: %w", err)
	}
	var g asset.Gene
	if err := json.Unmarshal([]byte(record), &g); err != nil {
		return nil, fmt.Errorf("decode gene record: %w", err)
	}
	return &g, nil
}

// ListGenes returns genes matching the filter, up to limit (0 = no limit),
// ordered by id for stable results.
func (s *Store) ListGenes(f GeneFilter, limit int) ([]asset.Gene, error) {
	query := "SELECT record FROM genes"
	var args []any
	if f.Category != nil {
		query += " WHERE category = ?"
		args = append(args, string(*f.Category))
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list genes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var genes []asset.Gene
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan gene: %w", err)
		}
		var g asset.Gene
		if err := json.Unmarshal([]byte(record), &g); err != nil {
			return nil, fmt.Errorf("decode gene record: %w", err)
		}
		genes = append(genes, g)
	}
	return genes, rows.Err()
}

// DeleteGene removes a gene by id. Genes are the only record kind that
// supports deletion.
func (s *Store) DeleteGene(id string) error {
	res, err := s.db.Exec("DELETE FROM genes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete gene %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedGenes loads the built-in gene set if the genes table is empty. This is
// a one-time idempotent bootstrap: a store that has ever held genes is never
// reseeded. It returns the number of genes written.
func (s *Store) SeedGenes() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM genes").Scan(&count); err != nil {
		return 0, fmt.Errorf("count genes: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	for _, g := range BuiltinGenes() {
		if _, err := s.UpsertGene(g); err != nil {
			return 0, fmt.Errorf("seed gene %s: %w", g.ID, err)
		}
	}
	return len(BuiltinGenes()), nil
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

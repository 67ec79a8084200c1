package store

import (
	"encoding/json"
	"fmt"

	"github.com/evolab/helix/internal/asset"
)

// AppendFailure records a failed attempt. Failures are append-only and feed
// the selector's ban logic; they carry no identity hash.
func (s *Store) AppendFailure(f asset.FailedCapsule) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f.Type = asset.KindFailedCapsule

	record, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal failed capsule: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO failed_capsules (id, gene, record, created_at)
		VALUES (?, ?, ?, ?)`,
		f.ID, f.Gene, record, nowStamp())
	if err != nil {
		return fmt.Errorf("append failed capsule %s: %w", f.ID, err)
	}
	return nil
}

// ListRecentFailures returns the most recent failures in chronological order.
func (s *Store) ListRecentFailures(limit int) ([]asset.FailedCapsule, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT record FROM (
			SELECT seq, record FROM failed_capsules ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed capsules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var failures []asset.FailedCapsule
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan failed capsule: %w", err)
		}
		var f asset.FailedCapsule
		if err := json.Unmarshal([]byte(record), &f); err != nil {
			return nil, fmt.Errorf("decode failed capsule record: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

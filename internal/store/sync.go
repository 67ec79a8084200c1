package store

import (
	"fmt"

	"github.com/evolab/helix/internal/asset"
)

// MarkPending records that an asset awaits external sync. Re-marking an
// already-tracked asset resets it to pending with the new identity.
func (s *Store) MarkPending(kind asset.Kind, localID, assetID string) error {
	return markPending(s.db, kind, localID, assetID)
}

func markPending(ex execer, kind asset.Kind, localID, assetID string) error {
	_, err := ex.Exec(`INSERT INTO sync_status (asset_type, local_id, asset_id, status, updated_at)
		VALUES (?, ?, ?, 'pending', ?)
		ON CONFLICT(asset_type, local_id) DO UPDATE SET
			asset_id = excluded.asset_id,
			status = 'pending',
			updated_at = excluded.updated_at`,
		string(kind), localID, assetID, nowStamp())
	if err != nil {
		return fmt.Errorf("mark pending %s/%s: %w", kind, localID, err)
	}
	return nil
}

// MarkSynced flips a ledger entry to synced. The sync client calls this
// after a successful push.
func (s *Store) MarkSynced(kind asset.Kind, localID string) error {
	res, err := s.db.Exec(`UPDATE sync_status SET status = 'synced', updated_at = ?
		WHERE asset_type = ? AND local_id = ?`,
		nowStamp(), string(kind), localID)
	if err != nil {
		return fmt.Errorf("mark synced %s/%s: %w", kind, localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending returns all ledger entries still awaiting sync.
func (s *Store) ListPending() ([]asset.SyncStatus, error) {
	rows, err := s.db.Query(`SELECT asset_type, local_id, asset_id, status
		FROM sync_status WHERE status = 'pending' ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []asset.SyncStatus
	for rows.Next() {
		var (
			e         asset.SyncStatus
			kind, sta string
		)
		if err := rows.Scan(&kind, &e.LocalID, &e.AssetID, &sta); err != nil {
			return nil, fmt.Errorf("scan sync status: %w", err)
		}
		e.AssetType = asset.Kind(kind)
		e.Status = asset.SyncState(sta)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

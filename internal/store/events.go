package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/canonical"
)

// AppendEvent writes an evolution event to the append-only audit chain and
// returns it with its identity computed.
func (s *Store) AppendEvent(e asset.Event) (asset.Event, error) {
	return appendEvent(s.db, e)
}

func appendEvent(ex execer, e asset.Event) (asset.Event, error) {
	if err := e.Validate(); err != nil {
		return e, err
	}
	e.Type = asset.KindEvent

	m, err := asset.ToMap(e)
	if err != nil {
		return e, err
	}
	e.AssetID = canonical.ComputeIdentity(m)

	record, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("marshal event: %w", err)
	}

	_, err = ex.Exec(`INSERT INTO evolution_events (id, parent, intent, status, asset_id, record, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Parent, e.Intent, e.Outcome.Status, e.AssetID, record, nowStamp())
	if err != nil {
		return e, fmt.Errorf("append event %s: %w", e.ID, err)
	}
	return e, nil
}

// GetEvent returns an event by id.
func (s *Store) GetEvent(id string) (*asset.Event, error) {
	var record string
	err := s.db.QueryRow("SELECT record FROM evolution_events WHERE id = ?", id).Scan(&record)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	var e asset.Event
	if err := json.Unmarshal([]byte(record), &e); err != nil {
		return nil, fmt.Errorf("decode event record: %w", err)
	}
	return &e, nil
}

// ListRecentEvents returns the most recent events in chronological order
// (oldest of the window first).
func (s *Store) ListRecentEvents(limit int) ([]asset.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT record FROM (
			SELECT seq, record FROM evolution_events ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []asset.Event
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e asset.Event
		if err := json.Unmarshal([]byte(record), &e); err != nil {
			return nil, fmt.Errorf("decode event record: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastEventID returns the id of the most recently appended event, or empty
// when the chain is empty. Solidify uses it as the parent pointer for the
// next event.
func (s *Store) LastEventID() (string, error) {
	var id string
	err := s.db.QueryRow("SELECT id FROM evolution_events ORDER BY seq DESC LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last event id: %w", err)
	}
	return id, nil
}

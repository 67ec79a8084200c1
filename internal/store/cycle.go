package store

import (
	"fmt"

	"github.com/evolab/helix/internal/asset"
)

// CycleWrite is the set of records one solidify cycle produces. Event is
// mandatory; Gene and Capsule are written when present.
type CycleWrite struct {
	Event   asset.Event
	Gene    *asset.Gene
	Capsule *asset.Capsule

	// MarkPending enqueues produced genes and capsules on the sync ledger.
	MarkPending bool
}

// CycleResult holds the written records with their computed identities.
type CycleResult struct {
	Event   asset.Event
	Gene    *asset.Gene
	Capsule *asset.Capsule
}

// WriteCycle commits an event, an optional gene, and an optional capsule in
// a single transaction, plus the sync ledger marks. Either everything lands
// or nothing does.
func (s *Store) WriteCycle(w CycleWrite) (*CycleResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin cycle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := &CycleResult{}

	res.Event, err = appendEvent(tx, w.Event)
	if err != nil {
		return nil, err
	}

	if w.Gene != nil {
		g, err := upsertGene(tx, *w.Gene)
		if err != nil {
			return nil, err
		}
		res.Gene = &g
		if w.MarkPending {
			if err := markPending(tx, asset.KindGene, g.ID, g.AssetID); err != nil {
				return nil, err
			}
		}
	}

	if w.Capsule != nil {
		c, err := upsertCapsule(tx, *w.Capsule)
		if err != nil {
			return nil, err
		}
		res.Capsule = &c
		if w.MarkPending {
			if err := markPending(tx, asset.KindCapsule, c.ID, c.AssetID); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cycle: %w", err)
	}
	return res, nil
}

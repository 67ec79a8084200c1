// Package asset defines the four persistent record kinds the engine works
// with: Genes (reusable strategy templates), Capsules (recorded successful
// outcomes), FailedCapsules (recorded failed attempts), and EvolutionEvents
// (the audit chain of selection-and-apply cycles).
package asset

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates record types on the wire and in storage.
type Kind string

const (
	KindGene          Kind = "gene"
	KindCapsule       Kind = "capsule"
	KindFailedCapsule Kind = "failed_capsule"
	KindEvent         Kind = "evolution_event"
)

// Category classifies what a gene is for.
type Category string

const (
	CategoryRepair   Category = "repair"
	CategoryOptimize Category = "optimize"
	CategoryInnovate Category = "innovate"
)

// ValidCategories contains the recognized gene categories.
var ValidCategories = map[Category]bool{
	CategoryRepair:   true,
	CategoryOptimize: true,
	CategoryInnovate: true,
}

// DefaultMaxFiles bounds a gene's blast radius when its constraints leave
// max_files unset.
const DefaultMaxFiles = 25

// Constraints limit how widely a gene's strategy may reach.
type Constraints struct {
	MaxFiles       int      `json:"max_files,omitempty"`
	ForbiddenPaths []string `json:"forbidden_paths,omitempty"`
}

// BlastRadius is the declared size of a change.
type BlastRadius struct {
	Files int `json:"files"`
	Lines int `json:"lines"`
}

// Outcome records how an applied strategy ended up.
type Outcome struct {
	Status string  `json:"status"` // "success", "partial", "failed"
	Score  float64 `json:"score"`
}

// Gene is a reusable, matchable strategy template.
type Gene struct {
	Type         Kind        `json:"type"`
	ID           string      `json:"id"`
	Category     Category    `json:"category"`
	SignalsMatch []string    `json:"signals_match"`
	Strategy     []string    `json:"strategy"`
	Constraints  Constraints `json:"constraints"`
	Validation   []string    `json:"validation,omitempty"`
	AssetID      string      `json:"asset_id,omitempty"`
}

// MaxFiles returns the gene's file ceiling, falling back to DefaultMaxFiles.
func (g Gene) MaxFiles() int {
	if g.Constraints.MaxFiles > 0 {
		return g.Constraints.MaxFiles
	}
	return DefaultMaxFiles
}

// Capsule is a recorded snapshot of a successful strategy application.
type Capsule struct {
	Type          Kind        `json:"type"`
	ID            string      `json:"id"`
	Trigger       []string    `json:"trigger"`
	Gene          string      `json:"gene"`
	Summary       string      `json:"summary"`
	Confidence    float64     `json:"confidence"`
	BlastRadius   BlastRadius `json:"blast_radius"`
	Outcome       Outcome     `json:"outcome"`
	SuccessStreak int         `json:"success_streak,omitempty"`
	Content       string      `json:"content,omitempty"`
	Environment   any         `json:"environment,omitempty"`
	AssetID       string      `json:"asset_id,omitempty"`
}

// FailedCapsule is a recorded failed attempt, used to suppress genes that
// keep failing under near-identical conditions.
type FailedCapsule struct {
	Type          Kind     `json:"type"`
	ID            string   `json:"id"`
	Gene          string   `json:"gene"`
	Trigger       []string `json:"trigger"`
	FailureReason string   `json:"failure_reason"`
	DiffSnapshot  string   `json:"diff_snapshot,omitempty"`
}

// Event is one link in the audit chain: a selection-and-apply cycle.
type Event struct {
	Type        Kind        `json:"type"`
	ID          string      `json:"id"`
	Parent      string      `json:"parent,omitempty"`
	Intent      string      `json:"intent"`
	Signals     []string    `json:"signals"`
	GenesUsed   []string    `json:"genes_used"`
	BlastRadius BlastRadius `json:"blast_radius"`
	Outcome     Outcome     `json:"outcome"`
	Environment any         `json:"environment,omitempty"`
	AssetID     string      `json:"asset_id,omitempty"`
}

// SyncState marks an asset's position in the external sync pipeline.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// SyncStatus is one row of the pending-sync ledger.
type SyncStatus struct {
	AssetType Kind      `json:"asset_type"`
	LocalID   string    `json:"local_id"`
	AssetID   string    `json:"asset_id"`
	Status    SyncState `json:"status"`
}

// Validate checks the fields every stored gene must carry.
func (g Gene) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("gene missing id")
	}
	if g.Type != "" && g.Type != KindGene {
		return fmt.Errorf("gene %s has wrong type %q", g.ID, g.Type)
	}
	if !ValidCategories[g.Category] {
		return fmt.Errorf("gene %s has unknown category %q", g.ID, g.Category)
	}
	return nil
}

// Validate checks the fields every stored capsule must carry.
func (c Capsule) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("capsule missing id")
	}
	if c.Type != "" && c.Type != KindCapsule {
		return fmt.Errorf("capsule %s has wrong type %q", c.ID, c.Type)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("capsule %s confidence %v out of range", c.ID, c.Confidence)
	}
	return nil
}

// Validate checks the fields every stored failure must carry.
func (f FailedCapsule) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("failed capsule missing id")
	}
	if f.Type != "" && f.Type != KindFailedCapsule {
		return fmt.Errorf("failed capsule %s has wrong type %q", f.ID, f.Type)
	}
	return nil
}

// Validate checks the fields every stored event must carry.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if e.Type != "" && e.Type != KindEvent {
		return fmt.Errorf("event %s has wrong type %q", e.ID, e.Type)
	}
	return nil
}

// ToMap round-trips a record through JSON into the map form the canonicalizer
// consumes. The JSON field names are the canonical wire names, so identity
// computation sees exactly what external consumers see.
func ToMap(record any) (map[string]any, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return m, nil
}

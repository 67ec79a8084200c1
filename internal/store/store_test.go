package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/canonical"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "helix.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testGene(id string) asset.Gene {
	return asset.Gene{
		ID:           id,
		Category:     asset.CategoryRepair,
		SignalsMatch: []string{"error_detected"},
		Strategy:     []string{"find it", "fix it"},
		Constraints:  asset.Constraints{MaxFiles: 10},
	}
}

func TestOpenCreatesAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "helix.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v, err := s.schemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != schemaVersionLatest {
		t.Errorf("schema version = %d, want %d", v, schemaVersionLatest)
	}
	_ = s.Close()

	// Reopening must be a no-op, not a re-migration failure.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = s2.Close()
}

func TestOpenRepairsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helix.db")
	if err := os.WriteFile(path, []byte("this is not a database"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open must survive a corrupt file: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := s.UpsertGene(testGene("g-after-repair")); err != nil {
		t.Errorf("store unusable after repair: %v", err)
	}

	// The corrupt original must have been preserved somewhere.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	backedUp := false
	for _, e := range entries {
		name := e.Name()
		if len(name) > len("helix.db") && name[:len("helix.db")] == "helix.db" {
			backedUp = true
		}
	}
	if !backedUp {
		t.Error("corrupt file should be backed up, not silently discarded")
	}
}

func TestGeneRoundTrip(t *testing.T) {
	s := openTestStore(t)

	written, err := s.UpsertGene(testGene("g-1"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if written.AssetID == "" {
		t.Fatal("upsert should compute an identity")
	}

	got, err := s.GetGene("g-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// Recomputing identity from the retrieved copy must reproduce the hash.
	m, err := asset.ToMap(*got)
	if err != nil {
		t.Fatal(err)
	}
	if canonical.ComputeIdentity(m) != written.AssetID {
		t.Error("retrieved gene does not reproduce its identity hash")
	}
	if !canonical.VerifyIdentity(m) {
		t.Error("retrieved gene should verify")
	}

	byID, err := s.GetGeneByIdentity(written.AssetID)
	if err != nil {
		t.Fatalf("get by identity: %v", err)
	}
	if byID.ID != "g-1" {
		t.Errorf("lookup by identity returned %s", byID.ID)
	}
}

func TestUpsertGeneRecomputesIdentity(t *testing.T) {
	s := openTestStore(t)

	first, err := s.UpsertGene(testGene("g-1"))
	if err != nil {
		t.Fatal(err)
	}

	changed := testGene("g-1")
	changed.Strategy = append(changed.Strategy, "verify it")
	second, err := s.UpsertGene(changed)
	if err != nil {
		t.Fatal(err)
	}
	if first.AssetID == second.AssetID {
		t.Error("content change should change the identity hash")
	}

	genes, err := s.ListGenes(GeneFilter{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(genes) != 1 {
		t.Errorf("upsert should replace, not duplicate: %d rows", len(genes))
	}
}

func TestUpsertGeneRejectsMalformed(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.UpsertGene(asset.Gene{Category: asset.CategoryRepair}); err == nil {
		t.Error("gene without id should be rejected")
	}
	if _, err := s.UpsertGene(asset.Gene{ID: "g-x", Category: "bogus"}); err == nil {
		t.Error("gene with unknown category should be rejected")
	}
	st, _ := s.GetStats()
	if st.Genes != 0 {
		t.Error("rejected upserts must write nothing")
	}
}

func TestListGenesFilterAndLimit(t *testing.T) {
	s := openTestStore(t)
	_, _ = s.UpsertGene(testGene("g-1"))
	opt := testGene("g-2")
	opt.Category = asset.CategoryOptimize
	_, _ = s.UpsertGene(opt)

	cat := asset.CategoryOptimize
	genes, err := s.ListGenes(GeneFilter{Category: &cat}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(genes) != 1 || genes[0].ID != "g-2" {
		t.Errorf("category filter returned %v", genes)
	}

	genes, err = s.ListGenes(GeneFilter{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(genes) != 1 {
		t.Errorf("limit ignored: %d rows", len(genes))
	}
}

func TestDeleteGene(t *testing.T) {
	s := openTestStore(t)
	_, _ = s.UpsertGene(testGene("g-1"))

	if err := s.DeleteGene("g-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetGene("g-1"); err != ErrNotFound {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteGene("g-1"); err != ErrNotFound {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestCapsuleRoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := asset.Capsule{
		ID:          asset.NewCapsuleID(time.Now()),
		Trigger:     []string{"error_detected"},
		Gene:        "g-1",
		Summary:     "fixed null deref in parser",
		Confidence:  0.9,
		BlastRadius: asset.BlastRadius{Files: 2, Lines: 40},
		Outcome:     asset.Outcome{Status: "success", Score: 0.9},
	}
	written, err := s.UpsertCapsule(c)
	if err != nil {
		t.Fatalf("upsert capsule: %v", err)
	}

	got, err := s.GetCapsule(written.ID)
	if err != nil {
		t.Fatalf("get capsule: %v", err)
	}
	if got.Summary != c.Summary || got.Outcome.Status != "success" {
		t.Errorf("capsule round trip mangled record: %+v", got)
	}

	byID, err := s.GetCapsuleByIdentity(written.AssetID)
	if err != nil || byID.ID != written.ID {
		t.Errorf("get by identity: %v %v", byID, err)
	}

	gene := "g-1"
	list, err := s.ListCapsules(CapsuleFilter{Gene: &gene}, 0)
	if err != nil || len(list) != 1 {
		t.Errorf("list by gene: %v %v", list, err)
	}
}

func TestEventsAppendOnlyChronological(t *testing.T) {
	s := openTestStore(t)

	ids := []string{"evt-1", "evt-2", "evt-3"}
	parent := ""
	for _, id := range ids {
		_, err := s.AppendEvent(asset.Event{ID: id, Parent: parent, Intent: "repair"})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
		parent = id
	}

	last, err := s.LastEventID()
	if err != nil || last != "evt-3" {
		t.Errorf("last event id = %q, %v", last, err)
	}

	events, err := s.ListRecentEvents(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].ID != "evt-2" || events[1].ID != "evt-3" {
		t.Errorf("recent events should be chronological: %+v", events)
	}

	// Appending the same id twice must fail: events are append-only.
	if _, err := s.AppendEvent(asset.Event{ID: "evt-1", Intent: "repair"}); err == nil {
		t.Error("duplicate event id should be rejected")
	}
}

func TestLastEventIDEmptyChain(t *testing.T) {
	s := openTestStore(t)
	last, err := s.LastEventID()
	if err != nil {
		t.Fatal(err)
	}
	if last != "" {
		t.Errorf("empty chain last id = %q", last)
	}
}

func TestFailuresAppendAndList(t *testing.T) {
	s := openTestStore(t)

	for i, id := range []string{"fail-1", "fail-2"} {
		err := s.AppendFailure(asset.FailedCapsule{
			ID:            id,
			Gene:          "g-1",
			Trigger:       []string{"error_detected"},
			FailureReason: "tests still red",
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	failures, err := s.ListRecentFailures(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 2 || failures[0].ID != "fail-1" {
		t.Errorf("failures = %+v", failures)
	}
}

func TestSyncLedger(t *testing.T) {
	s := openTestStore(t)

	if err := s.MarkPending(asset.KindGene, "g-1", "sha256:abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkPending(asset.KindCapsule, "cap-1", "sha256:def"); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	if err := s.MarkSynced(asset.KindGene, "g-1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = s.ListPending()
	if len(pending) != 1 || pending[0].LocalID != "cap-1" {
		t.Errorf("after sync, pending = %+v", pending)
	}

	if err := s.MarkSynced(asset.KindGene, "never-tracked"); err != ErrNotFound {
		t.Errorf("marking unknown entry = %v, want ErrNotFound", err)
	}
}

func TestSeedGenesOnce(t *testing.T) {
	s := openTestStore(t)

	n, err := s.SeedGenes()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != len(BuiltinGenes()) {
		t.Errorf("seeded %d genes, want %d", n, len(BuiltinGenes()))
	}

	// Second run is a no-op, even if genes were edited in between.
	g, _ := s.GetGene("fix-recurring-error")
	g.Strategy = []string{"customized"}
	_, _ = s.UpsertGene(*g)

	n, err = s.SeedGenes()
	if err != nil || n != 0 {
		t.Errorf("reseed = %d, %v; want 0, nil", n, err)
	}
	g2, _ := s.GetGene("fix-recurring-error")
	if len(g2.Strategy) != 1 || g2.Strategy[0] != "customized" {
		t.Error("reseed overwrote local edits")
	}
}

func TestGetStats(t *testing.T) {
	s := openTestStore(t)
	_, _ = s.UpsertGene(testGene("g-1"))
	_, _ = s.AppendEvent(asset.Event{ID: "evt-1", Intent: "repair"})
	_ = s.AppendFailure(asset.FailedCapsule{ID: "fail-1", Gene: "g-1"})
	_ = s.MarkPending(asset.KindGene, "g-1", "sha256:abc")

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Genes != 1 || st.Events != 1 || st.FailedCapsules != 1 || st.PendingSync != 1 || st.Capsules != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestWriteCycleAtomic(t *testing.T) {
	s := openTestStore(t)

	g := testGene("g-1")
	c := asset.Capsule{ID: "cap-1", Gene: "g-1", Confidence: 0.8, Outcome: asset.Outcome{Status: "success", Score: 0.8}}
	res, err := s.WriteCycle(CycleWrite{
		Event:       asset.Event{ID: "evt-1", Intent: "repair", GenesUsed: []string{"g-1"}},
		Gene:        &g,
		Capsule:     &c,
		MarkPending: true,
	})
	if err != nil {
		t.Fatalf("write cycle: %v", err)
	}
	if res.Event.AssetID == "" || res.Gene.AssetID == "" || res.Capsule.AssetID == "" {
		t.Error("cycle write should compute identities for all records")
	}

	st, _ := s.GetStats()
	if st.Genes != 1 || st.Capsules != 1 || st.Events != 1 || st.PendingSync != 2 {
		t.Errorf("stats after cycle = %+v", st)
	}

	// A failing member must roll back the whole cycle: reuse the event id.
	g2 := testGene("g-2")
	_, err = s.WriteCycle(CycleWrite{
		Event: asset.Event{ID: "evt-1", Intent: "repair"},
		Gene:  &g2,
	})
	if err == nil {
		t.Fatal("duplicate event id should fail the cycle")
	}
	if _, err := s.GetGene("g-2"); err != ErrNotFound {
		t.Error("failed cycle must not leave partial writes")
	}
}

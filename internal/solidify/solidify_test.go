package solidify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/canonical"
	"github.com/evolab/helix/internal/envinfo"
	"github.com/evolab/helix/internal/runtime"
	"github.com/evolab/helix/internal/store"
)

type fakeRunner struct {
	exit     int
	timedOut bool
	commands []string
}

func (f *fakeRunner) Run(_ context.Context, command string) (runtime.Result, error) {
	f.commands = append(f.commands, command)
	return runtime.Result{Command: command, ExitCode: f.exit, TimedOut: f.timedOut}, nil
}

func newTestEngine(t *testing.T, runner Runner, markPending bool) (*Engine, *store.Store) {
	t.Helper()
	home := t.TempDir()
	st, err := store.Open(filepath.Join(home, "helix.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, envinfo.NewProvider(home), runner, markPending), st
}

func testGene(id string) *asset.Gene {
	return &asset.Gene{
		Type:         asset.KindGene,
		ID:           id,
		Category:     asset.CategoryRepair,
		SignalsMatch: []string{"error_detected"},
		Strategy:     []string{"isolate", "fix", "verify"},
	}
}

func TestBlastRadiusRejection(t *testing.T) {
	eng, st := newTestEngine(t, &fakeRunner{}, false)
	before, _ := st.GetStats()

	for _, br := range []asset.BlastRadius{
		{Files: 61, Lines: 100},
		{Files: 1, Lines: 20001},
	} {
		res, err := eng.Solidify(context.Background(), Request{
			Intent:      "repair",
			Tags:        []string{"error_detected"},
			BlastRadius: br,
		})
		if err != nil {
			t.Fatalf("Solidify: %v", err)
		}
		if res.Accepted || len(res.Violations) == 0 {
			t.Errorf("radius %+v should be rejected: %+v", br, res)
		}
	}

	after, _ := st.GetStats()
	if after != before {
		t.Errorf("rejected requests wrote records: %+v -> %+v", before, after)
	}
}

func TestGeneMaxFilesViolation(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeRunner{}, false)

	// 30 files clears the hard ceiling but not the gene's default 25.
	res, err := eng.Solidify(context.Background(), Request{
		Intent:      "repair",
		Gene:        testGene("fixer"),
		BlastRadius: asset.BlastRadius{Files: 30, Lines: 100},
	})
	if err != nil {
		t.Fatalf("Solidify: %v", err)
	}
	if res.Accepted {
		t.Fatal("gene limit breach accepted")
	}
	if len(res.Violations) != 1 || res.Violations[0].Rule != "gene_max_files" {
		t.Errorf("violations = %+v", res.Violations)
	}
}

func TestSolidifyWritesCycle(t *testing.T) {
	eng, st := newTestEngine(t, &fakeRunner{}, false)

	g := testGene("fixer")
	res, err := eng.Solidify(context.Background(), Request{
		Intent:      "repair",
		Summary:     "patched the parser",
		Tags:        []string{"error_detected"},
		Gene:        g,
		Capsule:     &asset.Capsule{Confidence: 0.9},
		BlastRadius: asset.BlastRadius{Files: 2, Lines: 40},
	})
	if err != nil {
		t.Fatalf("Solidify: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("rejected: %+v", res.Violations)
	}
	if res.Outcome.Status != StatusSuccess {
		t.Errorf("outcome = %+v", res.Outcome)
	}

	// Everything landed with identities computed.
	if res.Event == nil || res.Event.AssetID == "" {
		t.Fatalf("event = %+v", res.Event)
	}
	if res.Gene == nil || res.Gene.AssetID == "" {
		t.Fatalf("gene = %+v", res.Gene)
	}
	if res.Capsule == nil || res.Capsule.AssetID == "" {
		t.Fatalf("capsule = %+v", res.Capsule)
	}
	if res.Capsule.Gene != "fixer" || res.Capsule.Summary != "patched the parser" {
		t.Errorf("capsule defaults not filled: %+v", res.Capsule)
	}

	stored, err := st.GetEvent(res.Event.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	m, err := asset.ToMap(stored)
	if err != nil {
		t.Fatalf("ToMap: %v", err)
	}
	if !canonical.VerifyIdentity(m) {
		t.Error("stored event fails identity verification")
	}

	// The next event links to this one.
	res2, err := eng.Solidify(context.Background(), Request{
		Intent:      "optimize",
		Tags:        []string{"performance_bottleneck"},
		BlastRadius: asset.BlastRadius{Files: 1, Lines: 5},
	})
	if err != nil {
		t.Fatalf("second Solidify: %v", err)
	}
	if res2.Event.Parent != res.Event.ID {
		t.Errorf("parent = %q, want %q", res2.Event.Parent, res.Event.ID)
	}
}

func TestValidationWarningsDowngrade(t *testing.T) {
	runner := &fakeRunner{exit: 2}
	eng, st := newTestEngine(t, runner, false)

	g := testGene("fixer")
	g.Validation = []string{"php -l test.php", "phpunit"}

	res, err := eng.Solidify(context.Background(), Request{
		Intent:      "repair",
		Tags:        []string{"error_detected"},
		Gene:        g,
		BlastRadius: asset.BlastRadius{Files: 1, Lines: 10},
	})
	if err != nil {
		t.Fatalf("Solidify: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("warnings must not block the write: %+v", res)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("warnings = %+v", res.Warnings)
	}
	if res.Outcome.Status != StatusPartial || res.Outcome.Score >= scoreSuccess {
		t.Errorf("outcome not downgraded: %+v", res.Outcome)
	}
	if len(runner.commands) != 2 {
		t.Errorf("commands run = %v", runner.commands)
	}

	stored, err := st.GetEvent(res.Event.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.Outcome.Status != StatusPartial {
		t.Errorf("persisted outcome = %+v", stored.Outcome)
	}
}

func TestDisallowedValidationCommandIsWarning(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultRunner(), false)

	g := testGene("fixer")
	g.Validation = []string{"curl http://x"}

	res, err := eng.Solidify(context.Background(), Request{
		Intent:      "repair",
		Tags:        []string{"error_detected"},
		Gene:        g,
		BlastRadius: asset.BlastRadius{Files: 1, Lines: 10},
	})
	if err != nil {
		t.Fatalf("Solidify: %v", err)
	}
	if !res.Accepted {
		t.Fatal("allow-list rejection must downgrade, not block")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %+v", res.Warnings)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	runner := &fakeRunner{exit: 1}
	eng, st := newTestEngine(t, runner, false)
	before, _ := st.GetStats()

	g := testGene("fixer")
	g.Validation = []string{"php -l test.php"}

	res, err := eng.Solidify(context.Background(), Request{
		Intent:      "repair",
		Tags:        []string{"error_detected"},
		Gene:        g,
		Capsule:     &asset.Capsule{},
		BlastRadius: asset.BlastRadius{Files: 1, Lines: 10},
		DryRun:      true,
	})
	if err != nil {
		t.Fatalf("Solidify: %v", err)
	}
	if !res.Accepted || !res.DryRun {
		t.Fatalf("res = %+v", res)
	}
	if res.Event == nil || res.Gene == nil || res.Capsule == nil {
		t.Error("dry run should still assemble the records")
	}
	if len(runner.commands) != 0 {
		t.Errorf("dry run executed commands: %v", runner.commands)
	}

	after, _ := st.GetStats()
	if after != before {
		t.Errorf("dry run wrote records: %+v -> %+v", before, after)
	}
}

func TestSyncMarksPending(t *testing.T) {
	eng, st := newTestEngine(t, &fakeRunner{}, true)

	res, err := eng.Solidify(context.Background(), Request{
		Intent:      "repair",
		Tags:        []string{"error_detected"},
		Gene:        testGene("fixer"),
		Capsule:     &asset.Capsule{},
		BlastRadius: asset.BlastRadius{Files: 1, Lines: 10},
	})
	if err != nil {
		t.Fatalf("Solidify: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("rejected: %+v", res)
	}

	pending, err := st.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %+v, want gene and capsule", pending)
	}
}

func TestRecordFailure(t *testing.T) {
	eng, st := newTestEngine(t, &fakeRunner{}, false)

	f, err := eng.RecordFailure("fixer", []string{"error_detected"}, "patch did not apply", "diff --git a b")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if f.ID == "" || f.Gene != "fixer" {
		t.Errorf("failure = %+v", f)
	}

	failures, err := st.ListRecentFailures(10)
	if err != nil {
		t.Fatalf("ListRecentFailures: %v", err)
	}
	if len(failures) != 1 || failures[0].FailureReason != "patch did not apply" {
		t.Errorf("failures = %+v", failures)
	}
}

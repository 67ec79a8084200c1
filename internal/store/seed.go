package store

import "github.com/evolab/helix/internal/asset"

// BuiltinGenes is the fixed strategy set loaded into an empty store on first
// run. Ids are stable; identity hashes are computed at seed time.
func BuiltinGenes() []asset.Gene {
	return []asset.Gene{
		{
			ID:           "fix-recurring-error",
			Category:     asset.CategoryRepair,
			SignalsMatch: []string{"error_detected", "recurring_error"},
			Strategy: []string{
				"Locate the most frequent error signature in recent logs",
				"Trace the signature to its origin and fix the root cause, not the symptom",
				"Add a regression guard covering the failing path",
			},
			Constraints: asset.Constraints{MaxFiles: 10, ForbiddenPaths: []string{"vendor/", "node_modules/"}},
			Validation:  []string{"git diff --stat"},
		},
		{
			ID:           "restore-missing-resource",
			Category:     asset.CategoryRepair,
			SignalsMatch: []string{"missing_resource", "error_sig"},
			Strategy: []string{
				"Identify the file, key, or config entry the failure references",
				"Recreate it from the nearest template or default",
				"Verify every consumer of the resource resolves it again",
			},
			Constraints: asset.Constraints{MaxFiles: 5},
		},
		{
			ID:           "break-repair-loop",
			Category:     asset.CategoryInnovate,
			SignalsMatch: []string{"repair_loop", "force_innovation", "oscillation"},
			Strategy: []string{
				"Stop patching: write down what the last three repairs changed and why they did not hold",
				"Reframe the problem one level up and redesign the failing component",
				"Replace the repeated fix site with the redesigned version in one change",
			},
			Constraints: asset.Constraints{MaxFiles: 20},
		},
		{
			ID:           "optimize-hot-path",
			Category:     asset.CategoryOptimize,
			SignalsMatch: []string{"performance_bottleneck"},
			Strategy: []string{
				"Measure before touching anything and record the baseline",
				"Optimize the single hottest path only",
				"Re-measure and keep the change only if the numbers moved",
			},
			Constraints: asset.Constraints{MaxFiles: 8},
			Validation:  []string{"git diff --stat"},
		},
		{
			ID:           "consolidate-stable-ground",
			Category:     asset.CategoryOptimize,
			SignalsMatch: []string{"stability_plateau", "stagnation"},
			Strategy: []string{
				"Tighten tests around behavior that is currently stable",
				"Remove dead code and collapse duplicated logic",
				"Document the invariants the stable behavior relies on",
			},
			Constraints: asset.Constraints{MaxFiles: 15},
		},
		{
			ID:           "deliver-requested-capability",
			Category:     asset.CategoryInnovate,
			SignalsMatch: []string{"feature_request", "capability_gap", "improvement_suggestion"},
			Strategy: []string{
				"Restate the requested capability as a concrete acceptance criterion",
				"Implement the smallest version that satisfies it end to end",
				"Wire it into the existing surface without breaking current behavior",
			},
			Constraints: asset.Constraints{MaxFiles: 25},
		},
	}
}

// Package selector matches genes and capsules against a signal tag set
// and picks the strategy for the next cycle. Selection is greedy by score
// with an optional stochastic "drift" that trades determinism for escaping
// local optima and banned-gene deadlocks.
package selector

import (
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/evolab/helix/internal/asset"
)

const (
	// distilledPenalty down-weights auto-compressed genes so an original
	// gene wins ties against its derived copy.
	distilledPenalty = 0.8
	// driftFloor is the base drift intensity when drift is explicitly on.
	driftFloor = 0.7
	// driftActivation is the threshold above which intensity, not the
	// boolean flag, turns exploration on.
	driftActivation = 0.15

	maxAlternatives = 4

	// banOverlap and banFailures define when past failures ban a gene: a
	// failure counts when at least banOverlap of the current tags appear
	// in its trigger, and banFailures such failures ban the gene.
	banOverlap  = 0.6
	banFailures = 2
)

// distilledPrefixes mark gene ids produced by automatic compression of
// older genes.
var distilledPrefixes = []string{"distilled-", "distilled_"}

// Options tune a single SelectGene call. Rand is the randomness source
// for drift; leaving it nil gets a time-seeded source, tests inject a
// fixed seed instead.
type Options struct {
	BannedIDs      []string
	PreferredID    string
	DriftEnabled   bool
	PopulationSize int
	Rand           *rand.Rand
}

// Selection is the outcome of a SelectGene call. Selected is nil when no
// gene scored, or when banning filtered out every candidate; in the
// latter case Alternatives still lists what was excluded.
type Selection struct {
	Selected       *asset.Gene
	Alternatives   []asset.Gene
	DriftIntensity float64
}

type scoredGene struct {
	gene   asset.Gene
	weight float64
}

// ScoreGene counts how many of the gene's match patterns hit the tag set.
// A gene with an unrecognized category or no patterns scores 0.
func ScoreGene(g asset.Gene, tags []string) int {
	if !asset.ValidCategories[g.Category] || len(g.SignalsMatch) == 0 {
		return 0
	}
	score := 0
	for _, pattern := range g.SignalsMatch {
		if patternHits(pattern, tags) {
			score++
		}
	}
	return score
}

// patternHits reports whether a pattern matches any tag. Patterns written
// as /body/flags are regexes (i and m flags honored); anything else, or a
// body the regex engine rejects, is a case-insensitive substring.
func patternHits(pattern string, tags []string) bool {
	if re := compileDelimited(pattern); re != nil {
		for _, tag := range tags {
			if re.MatchString(tag) {
				return true
			}
		}
		return false
	}
	needle := strings.ToLower(pattern)
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func compileDelimited(pattern string) *regexp.Regexp {
	if len(pattern) < 2 || pattern[0] != '/' {
		return nil
	}
	end := strings.LastIndex(pattern[1:], "/") + 1
	if end < 1 {
		return nil
	}
	body := pattern[1:end]
	var flags string
	for _, f := range pattern[end+1:] {
		switch f {
		case 'i', 'm':
			flags += string(f)
		default:
			return nil
		}
	}
	expr := body
	if flags != "" {
		expr = "(?" + flags + ")" + body
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	return re
}

// DriftIntensity computes the exploration pressure in [0,1]. Explicitly
// enabled drift starts at the floor and rises with small populations; a
// known population alone produces ambient drift that activates on its own
// once it exceeds the activation threshold.
func DriftIntensity(enabled bool, populationSize int) float64 {
	if enabled {
		intensity := driftFloor
		if populationSize > 1 {
			intensity += 1 / math.Sqrt(float64(populationSize))
		}
		return math.Min(intensity, 1)
	}
	if populationSize > 0 {
		return math.Min(1/math.Sqrt(float64(populationSize)), 1)
	}
	return 0
}

// SelectGene scores the genes against the tags and picks one. Zero-score
// genes are discarded; distilled genes carry a penalty; banned genes are
// excluded unless drift is active; a preferred gene that still scores wins
// outright. With drift active the pick is occasionally drawn uniformly
// from the top slice of candidates instead of rank 0.
func SelectGene(genes []asset.Gene, tags []string, opts Options) Selection {
	var scored []scoredGene
	for _, g := range genes {
		s := ScoreGene(g, tags)
		if s == 0 {
			continue
		}
		w := float64(s)
		if isDistilled(g.ID) {
			w *= distilledPenalty
		}
		scored = append(scored, scoredGene{gene: g, weight: w})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].weight > scored[j].weight
	})

	sel := Selection{DriftIntensity: DriftIntensity(opts.DriftEnabled, opts.PopulationSize)}
	if len(scored) == 0 {
		return sel
	}
	driftActive := sel.DriftIntensity > driftActivation

	banned := map[string]bool{}
	for _, id := range opts.BannedIDs {
		banned[id] = true
	}

	if opts.PreferredID != "" {
		for _, c := range scored {
			if c.gene.ID != opts.PreferredID {
				continue
			}
			if banned[c.gene.ID] && !driftActive {
				break
			}
			g := c.gene
			sel.Selected = &g
			sel.Alternatives = runnersUp(scored, g.ID)
			return sel
		}
	}

	candidates := scored
	if !driftActive {
		candidates = candidates[:0:0]
		for _, c := range scored {
			if !banned[c.gene.ID] {
				candidates = append(candidates, c)
			}
		}
	}
	if len(candidates) == 0 {
		// Everything was banned. Surface what was excluded so the
		// caller can see why nothing got picked.
		sel.Alternatives = runnersUp(scored, "")
		return sel
	}

	idx := 0
	if driftActive && len(candidates) > 1 {
		rng := opts.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		if rng.Float64() < sel.DriftIntensity {
			pool := int(math.Ceil(float64(len(candidates)) * sel.DriftIntensity))
			if pool < 2 {
				pool = 2
			}
			if pool > len(candidates) {
				pool = len(candidates)
			}
			idx = rng.Intn(pool)
		}
	}

	g := candidates[idx].gene
	sel.Selected = &g
	sel.Alternatives = runnersUp(candidates, g.ID)
	return sel
}

func runnersUp(scored []scoredGene, selectedID string) []asset.Gene {
	var out []asset.Gene
	for _, c := range scored {
		if c.gene.ID == selectedID {
			continue
		}
		out = append(out, c.gene)
		if len(out) == maxAlternatives {
			break
		}
	}
	return out
}

func isDistilled(id string) bool {
	for _, p := range distilledPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// BanGenesFromFailures extends the ban set with genes whose recorded
// failures triggered under conditions close to the current ones. A
// failure qualifies when at least 60% of the current tags appear in its
// trigger (case-insensitive exact match); two qualifying failures ban the
// gene.
func BanGenesFromFailures(failures []asset.FailedCapsule, tags []string, existing []string) []string {
	out := append([]string(nil), existing...)
	have := map[string]bool{}
	for _, id := range existing {
		have[id] = true
	}
	if len(tags) == 0 {
		return out
	}

	counts := map[string]int{}
	var order []string
	for _, f := range failures {
		if f.Gene == "" || tagOverlap(tags, f.Trigger) < banOverlap {
			continue
		}
		if counts[f.Gene] == 0 {
			order = append(order, f.Gene)
		}
		counts[f.Gene]++
	}
	for _, gene := range order {
		if counts[gene] >= banFailures && !have[gene] {
			have[gene] = true
			out = append(out, gene)
		}
	}
	return out
}

// tagOverlap returns the fraction of tags that appear in trigger.
func tagOverlap(tags, trigger []string) float64 {
	set := map[string]bool{}
	for _, t := range trigger {
		set[strings.ToLower(t)] = true
	}
	matched := 0
	for _, t := range tags {
		if set[strings.ToLower(t)] {
			matched++
		}
	}
	return float64(matched) / float64(len(tags))
}

// SelectCapsule returns the capsule whose trigger best matches the tags,
// or nil when nothing matches. Triggers use the same pattern rules as
// gene scoring; ties keep original order.
func SelectCapsule(capsules []asset.Capsule, tags []string) *asset.Capsule {
	best := -1
	bestScore := 0
	for i, c := range capsules {
		score := 0
		for _, trigger := range c.Trigger {
			if patternHits(trigger, tags) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	c := capsules[best]
	return &c
}

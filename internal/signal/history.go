package signal

import (
	"strings"

	"github.com/evolab/helix/internal/asset"
)

const (
	// historyWindow is how many recent events the diagnostics examine.
	historyWindow = 10
	// frequencyWindow is the narrower window for tag/gene frequency and
	// failure-ratio analysis.
	frequencyWindow = 8

	repairLoopThreshold      = 3
	forceInnovationThreshold = 5
	stagnationThreshold      = 3
	suppressionThreshold     = 3
	highFailureRatio         = 0.6

	// oscillationSpread is the minimum distance between a recurring
	// item's first and last occurrence for it to count as oscillating.
	oscillationSpread = 2
	// oscillationItems is how many such recurring items it takes.
	oscillationItems = 2
)

// diagnosticTags are meta-signals produced by this analysis. They exist to
// break loops, so frequency suppression never applies to them.
var diagnosticTags = map[string]bool{
	TagRepairLoop:      true,
	TagForceInnovation: true,
	TagStagnation:      true,
	TagHighFailureRate: true,
	TagOscillation:     true,
}

type historyDiagnostics struct {
	repairRun    int
	emptyRun     int
	failureRatio float64
	oscillating  bool
	suppressed   map[string]bool
}

// analyzeHistory inspects the most recent events for loops, stagnation,
// failure pressure, oscillation, and overexposed signals.
func analyzeHistory(events []asset.Event) historyDiagnostics {
	if len(events) > historyWindow {
		events = events[len(events)-historyWindow:]
	}

	d := historyDiagnostics{suppressed: map[string]bool{}}

	// Trailing runs count backwards from the most recent event.
	for i := len(events) - 1; i >= 0; i-- {
		if strings.EqualFold(events[i].Intent, "repair") {
			d.repairRun++
		} else {
			break
		}
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].BlastRadius.Files == 0 && events[i].BlastRadius.Lines == 0 {
			d.emptyRun++
		} else {
			break
		}
	}

	window := events
	if len(window) > frequencyWindow {
		window = window[len(window)-frequencyWindow:]
	}

	// Tag and gene frequency over the narrow window. Signature variants
	// collapse to a shared bucket so one unresolved error does not hide
	// behind slightly different text each cycle.
	freq := map[string]int{}
	failed := 0
	for _, e := range window {
		perEvent := map[string]bool{}
		for _, tag := range e.Signals {
			perEvent[bucketFor(tag)] = true
		}
		for _, gene := range e.GenesUsed {
			perEvent[gene] = true
		}
		for item := range perEvent {
			freq[item]++
		}
		if e.Outcome.Status == "failed" {
			failed++
		}
	}
	for item, n := range freq {
		if n >= suppressionThreshold && !diagnosticTags[item] {
			d.suppressed[item] = true
		}
	}
	if len(window) > 0 {
		d.failureRatio = float64(failed) / float64(len(window))
	}

	d.oscillating = detectOscillation(events)
	return d
}

// detectOscillation reports whether at least two distinct signals recur
// with their first and last appearances spread across the window: the
// signature of flip-flopping between unresolved states rather than steady
// progress on one.
func detectOscillation(events []asset.Event) bool {
	first := map[string]int{}
	last := map[string]int{}
	count := map[string]int{}

	for i, e := range events {
		perEvent := map[string]bool{}
		for _, tag := range e.Signals {
			perEvent[bucketFor(tag)] = true
		}
		for item := range perEvent {
			if _, ok := first[item]; !ok {
				first[item] = i
			}
			last[item] = i
			count[item]++
		}
	}

	recurring := 0
	for item, n := range count {
		if n >= 2 && last[item]-first[item] >= oscillationSpread {
			recurring++
		}
	}
	return recurring >= oscillationItems
}

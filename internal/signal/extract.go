// Package signal derives categorical tags from raw context text and recent
// event history. Tags name conditions (errors, missing resources, feature
// requests) and loop diagnostics (repair loops, stagnation, oscillation)
// that drive gene selection downstream.
package signal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evolab/helix/internal/asset"
)

// Tag vocabulary. Signature and recurring-error tags carry a payload after
// their prefix; everything else is a bare marker.
const (
	TagError           = "error_detected"
	TagMissingResource = "missing_resource"
	TagRecurringError  = "recurring_error"
	TagFeatureRequest  = "feature_request"
	TagImprovement     = "improvement_suggestion"
	TagPerformance     = "performance_bottleneck"
	TagCapabilityGap   = "capability_gap"
	TagStability       = "stability_plateau"
	TagRepairLoop      = "repair_loop"
	TagForceInnovation = "force_innovation"
	TagStagnation      = "stagnation"
	TagHighFailureRate = "high_failure_rate"
	TagOscillation     = "oscillation"

	ErrorSigPrefix       = "error_sig:"
	RecurringErrorPrefix = "recurring_error:"
)

// errorSigMaxLen bounds the text carried by an error-signature tag.
const errorSigMaxLen = 120

// recurThreshold is how often a JSON error fragment must repeat before it
// counts as recurring.
const recurThreshold = 3

// Input carries the raw text fields to analyze. All checks run against the
// lower-cased concatenation of both fields.
type Input struct {
	Context string
	Logs    string
}

var (
	errorMarkers = []string{
		"[error]",
		"error:",
		"exception:",
		`"error"`,
		`"status":"error"`,
		`"status":"failed"`,
		`"status": "error"`,
		`"status": "failed"`,
	}

	missingResourceMarkers = []string{
		"no such file",
		"file not found",
		"file does not exist",
		"missing file",
		"missing config",
		"undefined index",
		"undefined key",
		"key not found",
		"config not found",
	}

	// errorSigRe picks the first line that looks like an actual error
	// report, which is stricter than the generic markers above.
	errorSigRe = regexp.MustCompile(`(?i)^.*\b(fatal|error|exception|failure|panic)\b\s*[:\]].*$`)

	// jsonErrorRe captures JSON-shaped error fragments for recurrence
	// counting.
	jsonErrorRe = regexp.MustCompile(`"(?:error|message|exception)"\s*:\s*"([^"]{1,80})"`)

	featureRequestRe = regexp.MustCompile(`(?i)(feature request|would be (nice|great|useful)|can (you|we) add|please add|add support for|implement (a |an )?new)`)
	improvementRe    = regexp.MustCompile(`(?i)(could be (better|improved|simpler)|should be (improved|refactored|cleaned)|suggest(ion|ed)? (to )?improv)`)
	performanceRe    = regexp.MustCompile(`(?i)(too slow|bottleneck|takes too long|high latency|perform(ance|s) (is |issue|problem)|memory usage|cpu usage)`)
	capabilityGapRe  = regexp.MustCompile(`(?i)(not (yet )?supported|unsupported|cannot handle|can't handle|no way to|lacks (the )?(ability|support))`)
	stabilityRe      = regexp.MustCompile(`(?i)(all tests pass(ing)?|everything (is )?(green|stable)|no regressions|\bstable\b)`)
)

// Extract runs the full tag pipeline: defensive tags, missing-resource
// tags, recurrence detection, opportunity tags, and history diagnostics.
// The result preserves insertion order with duplicates removed. Absent or
// empty input yields an empty set, never an error.
func Extract(in Input, history []asset.Event) []string {
	text := strings.ToLower(in.Context + "\n" + in.Logs)
	set := newTagSet()

	if strings.TrimSpace(text) != "" {
		extractDefensive(text, set)
		extractMissingResource(text, set)
		extractRecurring(text, set)
		extractOpportunity(text, set)
	}

	if len(history) > 0 {
		h := analyzeHistory(history)
		set.suppress(h.suppressed)
		if h.repairRun >= repairLoopThreshold {
			set.add(TagRepairLoop)
		}
		if h.repairRun >= forceInnovationThreshold {
			set.add(TagForceInnovation)
		}
		if h.emptyRun >= stagnationThreshold {
			set.add(TagStagnation)
		}
		if h.failureRatio > highFailureRatio {
			set.add(TagHighFailureRate)
		}
		if h.oscillating {
			set.add(TagOscillation)
		}
	}

	return set.list()
}

func extractDefensive(text string, set *tagSet) {
	for _, marker := range errorMarkers {
		if strings.Contains(text, marker) {
			set.add(TagError)
			break
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if errorSigRe.MatchString(line) {
			if len(line) > errorSigMaxLen {
				line = line[:errorSigMaxLen]
			}
			set.add(ErrorSigPrefix + line)
			break
		}
	}
}

func extractMissingResource(text string, set *tagSet) {
	for _, marker := range missingResourceMarkers {
		if strings.Contains(text, marker) {
			set.add(TagMissingResource)
			return
		}
	}
}

func extractRecurring(text string, set *tagSet) {
	counts := map[string]int{}
	for _, m := range jsonErrorRe.FindAllStringSubmatch(text, -1) {
		counts[m[1]]++
	}

	topFragment, topCount := "", 0
	for frag, n := range counts {
		if n > topCount || (n == topCount && frag < topFragment) {
			topFragment, topCount = frag, n
		}
	}
	if topCount >= recurThreshold {
		set.add(TagRecurringError)
		set.add(fmt.Sprintf("%s%s x%d", RecurringErrorPrefix, topFragment, topCount))
	}
}

func extractOpportunity(text string, set *tagSet) {
	if featureRequestRe.MatchString(text) {
		set.add(TagFeatureRequest)
	}
	// A bug report phrased politely is not a suggestion; skip when an
	// error already fired.
	if !set.has(TagError) && improvementRe.MatchString(text) {
		set.add(TagImprovement)
	}
	if performanceRe.MatchString(text) {
		set.add(TagPerformance)
	}
	if !set.has(TagMissingResource) && capabilityGapRe.MatchString(text) {
		set.add(TagCapabilityGap)
	}
	if stabilityRe.MatchString(text) {
		set.add(TagStability)
	}
}

// tagSet is an insertion-ordered set with a suppression list. Suppressed
// tags never make it into the output, whether added before or after the
// suppression was applied.
type tagSet struct {
	order      []string
	seen       map[string]bool
	suppressed map[string]bool
}

func newTagSet() *tagSet {
	return &tagSet{seen: map[string]bool{}, suppressed: map[string]bool{}}
}

func (s *tagSet) add(tag string) {
	if tag == "" || s.seen[tag] {
		return
	}
	s.seen[tag] = true
	s.order = append(s.order, tag)
}

func (s *tagSet) has(tag string) bool {
	return s.seen[tag]
}

// suppress removes matching tags already collected and blocks future adds.
// Suppressing the signature bucket removes every per-instance variant.
func (s *tagSet) suppress(buckets map[string]bool) {
	for b := range buckets {
		s.suppressed[b] = true
	}
}

func (s *tagSet) list() []string {
	var out []string
	for _, tag := range s.order {
		if s.suppressed[tag] || s.suppressed[bucketFor(tag)] {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// bucketFor collapses per-instance tag variants to a shared bucket so
// frequency counting treats every error signature as one signal.
func bucketFor(tag string) string {
	if strings.HasPrefix(tag, ErrorSigPrefix) {
		return strings.TrimSuffix(ErrorSigPrefix, ":")
	}
	if strings.HasPrefix(tag, RecurringErrorPrefix) {
		return TagRecurringError
	}
	return tag
}

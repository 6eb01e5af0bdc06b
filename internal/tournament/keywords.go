package tournament

import "strings"

// The evidence and categorization heuristics live here as plain data so
// they can be tuned and tested without touching the scheduler.

// supportingWords mark a response line as evidence for the hypothesis.
var supportingWords = []string{
	"confirm", "validate", "support", "consistent with", "aligns with",
	"indicates", "found", "discovered", "identified", "observed",
}

// contradictingWords mark a response line as evidence against it.
var contradictingWords = []string{
	"contradict", "disprove", "inconsistent", "rules out", "unlikely",
	"no evidence", "not found", "absence of",
}

// strengthWords map hedging language onto evidence confidence. Lines
// with no strength word default to 0.5.
var strengthWords = []struct {
	words      []string
	confidence float64
}{
	{[]string{"certainly", "definitely", "clearly", "conclusively"}, 0.85},
	{[]string{"likely", "probably"}, 0.6},
	{[]string{"possibly", "might", "perhaps", "may be"}, 0.3},
}

const defaultEvidenceConfidence = 0.5

// categoryKeywords assign a hypothesis category from its text. Checked
// in this order; the first hit wins.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryPerformance, []string{"performance", "slow", "latency", "n+1", "bottleneck", "throughput", "memory", "cpu"}},
	{CategorySecurity, []string{"security", "injection", "auth", "vulnerab", "credential", "escalation"}},
	{CategoryIntegration, []string{"integration", "boundary", "contract", "upstream", "downstream", "version mismatch"}},
	{CategoryArchitecture, []string{"architecture", "design", "coupling", "layering", "structure"}},
	{CategoryBug, []string{"bug", "error", "crash", "exception", "race", "incorrect", "off-by-one"}},
}

// pollinationWords gate which insights count as pattern-level and are
// worth sharing across sessions.
var pollinationWords = []string{"pattern", "common", "related", "system-wide"}

// reproductionSuccessWords decide whether a reproduction request
// actually produced usable steps.
var reproductionSuccessWords = []string{
	"reproduce", "reproduction", "steps to", "run the following",
	"reliably triggers", "to trigger",
}

// severeFindingWords bump a serendipitous finding to high severity.
var severeFindingWords = []string{"security", "data loss", "corruption", "crash"}

func containsAny(s string, words []string) bool {
	lower := strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// strengthConfidence derives evidence confidence from hedging language.
func strengthConfidence(line string) float64 {
	lower := strings.ToLower(line)
	for _, sw := range strengthWords {
		for _, w := range sw.words {
			if strings.Contains(lower, w) {
				return sw.confidence
			}
		}
	}
	return defaultEvidenceConfidence
}

// categorize assigns the first matching category, defaulting to bug.
func categorize(text string) Category {
	for _, ck := range categoryKeywords {
		if containsAny(text, ck.words) {
			return ck.category
		}
	}
	return CategoryBug
}

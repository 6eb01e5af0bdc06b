package tournament

import (
	"math"
	"testing"
	"time"

	"reasongate/internal/types"
)

func ev(p Polarity, conf float64) Evidence {
	return Evidence{Polarity: p, Confidence: conf, FoundAt: time.Now()}
}

func TestScoreEvidence(t *testing.T) {
	tests := []struct {
		name     string
		evidence []Evidence
		insights int
		want     float64
	}{
		{"all supporting", []Evidence{ev(Supporting, 0.8), ev(Supporting, 0.5)}, 0, 1.0},
		{"all contradicting", []Evidence{ev(Contradicting, 0.7)}, 0, 0.0},
		{"mixed", []Evidence{ev(Supporting, 0.6), ev(Contradicting, 0.2)}, 0, 0.75},
		{"neutral ignored", []Evidence{ev(Neutral, 0.9), ev(Supporting, 0.5)}, 0, 1.0},
		{"empty with insights", nil, 2, 0.5},
		{"empty without insights", nil, 0, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoreEvidence(tt.evidence, tt.insights)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLessTieBreaks(t *testing.T) {
	base := func(ord int, conf float64, supporting int) ExplorationResult {
		r := ExplorationResult{
			Hypothesis: Hypothesis{ID: "H", Ordinal: ord},
			Confidence: conf,
		}
		for i := 0; i < supporting; i++ {
			r.Evidence = append(r.Evidence, ev(Supporting, 0.5))
		}
		return r
	}

	if !less(base(2, 0.8, 0), base(1, 0.6, 5)) {
		t.Fatal("higher confidence must win regardless of evidence count")
	}
	if !less(base(2, 0.7, 3), base(1, 0.7, 1)) {
		t.Fatal("equal confidence: more supporting evidence must win")
	}
	if !less(base(1, 0.7, 2), base(2, 0.7, 2)) {
		t.Fatal("full tie: lower ordinal must win")
	}
	if !less(base(1, 0.7+1e-8, 2), base(2, 0.7, 2)) {
		t.Fatal("confidences within epsilon must fall through to tie-breaks")
	}
}

func TestExtractEvidence(t *testing.T) {
	resp := "Observed clearly elevated wait times at pool.go:42.\n" +
		"Plain narration with no classification words at all.\n" +
		"There is no evidence of DNS slowness."
	got := extractEvidence(resp, time.Now())
	if len(got) != 2 {
		t.Fatalf("evidence = %+v, want 2 entries", got)
	}
	if got[0].Polarity != Supporting || got[0].Confidence != 0.85 {
		t.Fatalf("first evidence = %+v", got[0])
	}
	if got[0].Location == nil || got[0].Location.File != "pool.go" || got[0].Location.Line != 42 {
		t.Fatalf("location = %+v", got[0].Location)
	}
	if got[1].Polarity != Contradicting {
		t.Fatalf("second evidence = %+v", got[1])
	}
}

func TestStrengthConfidence(t *testing.T) {
	tests := []struct {
		line string
		want float64
	}{
		{"this definitely confirms it", 0.85},
		{"this likely explains it", 0.6},
		{"this might be related", 0.3},
		{"the handler returns early", 0.5},
	}
	for _, tt := range tests {
		if got := strengthConfidence(tt.line); got != tt.want {
			t.Fatalf("strengthConfidence(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"the query has an N+1 access pattern", CategoryPerformance},
		{"possible SQL injection in the filter", CategorySecurity},
		{"contract drift with the upstream service", CategoryIntegration},
		{"excessive coupling between layers", CategoryArchitecture},
		{"an off-by-one in the pagination", CategoryBug},
		{"something else entirely", CategoryBug},
	}
	for _, tt := range tests {
		if got := categorize(tt.text); got != tt.want {
			t.Fatalf("categorize(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestParseHypothesisLabeled(t *testing.T) {
	h := parseHypothesis(2, "Theory: the pool is exhausted under load. Approach: check pool metrics. Category: performance. Priority: 0.8")
	if h.ID != "H2" || h.Ordinal != 2 {
		t.Fatalf("identity = %+v", h)
	}
	if h.Theory != "the pool is exhausted under load" {
		t.Fatalf("theory = %q", h.Theory)
	}
	if h.Approach != "check pool metrics" {
		t.Fatalf("approach = %q", h.Approach)
	}
	if h.Category != CategoryPerformance {
		t.Fatalf("category = %s", h.Category)
	}
	if h.Priority != 0.8 {
		t.Fatalf("priority = %v", h.Priority)
	}
}

func TestParseHypothesisBare(t *testing.T) {
	h := parseHypothesis(1, "the cache likely serves stale entries after deploys")
	if h.Theory != "the cache likely serves stale entries after deploys" {
		t.Fatalf("theory = %q", h.Theory)
	}
	if h.Category != CategoryBug {
		t.Fatalf("category = %s, want the bug fallback", h.Category)
	}
	if h.Priority != 0.6 { // "likely"
		t.Fatalf("priority = %v", h.Priority)
	}
}

func TestCauseToFinding(t *testing.T) {
	hyp := Hypothesis{Category: CategorySecurity}

	f := causeToFinding(types.RootCause{
		Type:        "security",
		Description: "token logged in plain text",
		Evidence:    []string{"auth.go:7"},
		Confidence:  0.2,
	}, hyp)
	if f.Kind != types.FindingSecurity {
		t.Fatalf("kind = %s", f.Kind)
	}
	if f.Severity != types.SeverityHigh {
		t.Fatalf("severity = %s, want high for a security finding", f.Severity)
	}
	if f.Location.File != "auth.go" || f.Location.Line != 7 {
		t.Fatalf("location = %+v", f.Location)
	}

	mild := causeToFinding(types.RootCause{
		Type:        "style",
		Description: "inconsistent naming",
		Confidence:  0.05,
	}, Hypothesis{Category: CategoryBug})
	if mild.Severity != types.SeverityLow {
		t.Fatalf("severity = %s, want low", mild.Severity)
	}
}

// Package tournament schedules parallel hypothesis exploration: several
// sessions test competing root-cause theories in rounds, weak theories
// are eliminated, strong sessions share insights with struggling ones,
// and the field converges on a ranked winner.
package tournament

import (
	"math"
	"time"

	"reasongate/internal/types"
)

// Category classifies a hypothesis.
type Category string

const (
	CategoryPerformance  Category = "performance"
	CategoryBug          Category = "bug"
	CategorySecurity     Category = "security"
	CategoryArchitecture Category = "architecture"
	CategoryIntegration  Category = "integration"
)

// Hypothesis is one competing theory about the root cause.
type Hypothesis struct {
	ID       string   `json:"id"`
	Ordinal  int      `json:"-"`
	Theory   string   `json:"theory"`
	Approach string   `json:"test_approach"`
	Category Category `json:"category"`
	Priority float64  `json:"priority"`
}

// Polarity says which way a piece of evidence points.
type Polarity string

const (
	Supporting    Polarity = "supporting"
	Contradicting Polarity = "contradicting"
	Neutral       Polarity = "neutral"
)

// Evidence is one classified observation from an exploration response.
type Evidence struct {
	Polarity    Polarity            `json:"polarity"`
	Description string              `json:"description"`
	Location    *types.CodeLocation `json:"location,omitempty"`
	Confidence  float64             `json:"confidence"`
	FoundAt     time.Time           `json:"found_at"`
}

// ExplorationResult is the outcome of testing one hypothesis.
type ExplorationResult struct {
	Hypothesis   Hypothesis      `json:"hypothesis"`
	SessionID    string          `json:"session_id"`
	Evidence     []Evidence      `json:"evidence"`
	Confidence   float64         `json:"confidence"`
	Depth        int             `json:"exploration_depth"`
	Insights     []string        `json:"key_insights,omitempty"`
	Reproduction []string        `json:"reproduction_steps,omitempty"`
	Related      []types.Finding `json:"related_findings,omitempty"`
}

// supportingCount is the tie-break signal after confidence.
func (r ExplorationResult) supportingCount() int {
	n := 0
	for _, e := range r.Evidence {
		if e.Polarity == Supporting {
			n++
		}
	}
	return n
}

// Round records one elimination pass.
type Round struct {
	Number     int                 `json:"round"`
	Hypotheses []Hypothesis        `json:"hypotheses"`
	Results    []ExplorationResult `json:"results"`
	Eliminated []string            `json:"eliminated,omitempty"`
	Insights   []string            `json:"cross_round_insights,omitempty"`
}

// Result is the full tournament outcome.
type Result struct {
	Status             string              `json:"status"`
	Issue              string              `json:"issue"`
	TotalHypotheses    int                 `json:"total_hypotheses"`
	Rounds             []Round             `json:"rounds"`
	Winner             *ExplorationResult  `json:"winner,omitempty"`
	RunnerUp           *ExplorationResult  `json:"runner_up,omitempty"`
	Findings           []types.Finding     `json:"findings,omitempty"`
	Primary            []types.Action      `json:"primary_actions,omitempty"`
	Secondary          []types.Action      `json:"secondary_actions,omitempty"`
	DurationMS         int64               `json:"duration_ms"`
	ParallelEfficiency float64             `json:"parallel_efficiency"`
}

// Config tunes one tournament run. Zero numeric fields select the
// defaults; construct from DefaultConfig to keep cross-pollination on.
type Config struct {
	MaxHypotheses        int
	MaxRounds            int
	EliminationThreshold float64
	Parallelism          int
	CrossPollination     bool
	Budget               time.Duration
}

// DefaultConfig returns the standard tournament parameters.
func DefaultConfig() Config {
	return Config{
		MaxHypotheses:        6,
		MaxRounds:            3,
		EliminationThreshold: 0.3,
		Parallelism:          4,
		CrossPollination:     true,
		Budget:               300 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxHypotheses <= 0 {
		c.MaxHypotheses = d.MaxHypotheses
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = d.MaxRounds
	}
	if c.EliminationThreshold <= 0 {
		c.EliminationThreshold = d.EliminationThreshold
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	if c.Budget <= 0 {
		c.Budget = d.Budget
	}
	return c
}

// confidenceEpsilon is the equality window for tie-breaking.
const confidenceEpsilon = 1e-6

// less orders exploration results best-first: higher confidence, then
// more supporting evidence, then lower hypothesis ordinal.
func less(a, b ExplorationResult) bool {
	if math.Abs(a.Confidence-b.Confidence) > confidenceEpsilon {
		return a.Confidence > b.Confidence
	}
	if sa, sb := a.supportingCount(), b.supportingCount(); sa != sb {
		return sa > sb
	}
	return a.Hypothesis.Ordinal < b.Hypothesis.Ordinal
}

// scoreEvidence folds an evidence list into [0,1]. Supporting entries
// pull toward 1 and contradicting toward 0, weighted by their own
// confidence. Empty evidence scores 0.5 when the exploration at least
// produced insights, otherwise 0.
func scoreEvidence(evidence []Evidence, insightCount int) float64 {
	var signed, total float64
	for _, e := range evidence {
		switch e.Polarity {
		case Supporting:
			signed += e.Confidence
			total += e.Confidence
		case Contradicting:
			signed -= e.Confidence
			total += e.Confidence
		}
	}
	if total == 0 {
		if insightCount > 0 {
			return 0.5
		}
		return 0
	}
	return (total + signed) / (2 * total)
}

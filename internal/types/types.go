// Package types holds the request and result shapes shared between the
// MCP tool surface and the analysis core.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// FindingKind tags a validated finding.
type FindingKind string

const (
	FindingBug          FindingKind = "bug"
	FindingPerformance  FindingKind = "performance"
	FindingArchitecture FindingKind = "architecture"
	FindingSecurity     FindingKind = "security"
)

// Severity orders findings for reporting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank maps severities onto a comparable scale.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// CodeLocation points at a position in a project file.
type CodeLocation struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	FunctionName string `json:"function_name,omitempty"`
}

func (l CodeLocation) String() string {
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// Finding is one validated analysis observation supplied by the caller
// or produced by the core.
type Finding struct {
	Kind        FindingKind  `json:"type"`
	Severity    Severity     `json:"severity"`
	Location    CodeLocation `json:"location"`
	Description string       `json:"description"`
	Evidence    []string     `json:"evidence,omitempty"`
}

// Valid reports whether the finding carries a known kind and severity,
// a non-negative line, and a description.
func (f Finding) Valid() bool {
	switch f.Kind {
	case FindingBug, FindingPerformance, FindingArchitecture, FindingSecurity:
	default:
		return false
	}
	if _, ok := severityRank[f.Severity]; !ok {
		return false
	}
	return f.Location.Line >= 0 && f.Description != ""
}

// CodeScope names the files the caller wants analyzed.
type CodeScope struct {
	Files        []string       `json:"files"`
	EntryPoints  []CodeLocation `json:"entry_points,omitempty"`
	ServiceNames []string       `json:"service_names,omitempty"`
}

// RequestContext is the internal form of the claude_context parameter.
// Invalid partial findings are never guessed at; they are preserved in
// Quarantined so nothing the caller sent is silently dropped.
type RequestContext struct {
	AttemptedApproaches []string
	PartialFindings     []Finding
	Quarantined         []json.RawMessage
	StuckPoints         []string
	FocusArea           CodeScope
	BudgetSeconds       int
}

// ParseFindings splits raw finding blobs into validated findings and a
// quarantine list of entries that failed validation or decoding.
func ParseFindings(raw []json.RawMessage) (valid []Finding, quarantined []json.RawMessage) {
	for _, blob := range raw {
		var f Finding
		if err := json.Unmarshal(blob, &f); err != nil || !f.Valid() {
			quarantined = append(quarantined, blob)
			continue
		}
		valid = append(valid, f)
	}
	return valid, quarantined
}

// RootCause is one entry in the structured synthesis the remote service
// returns at finalization.
type RootCause struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
	Confidence  float64  `json:"confidence"`
	FixStrategy string   `json:"fix_strategy,omitempty"`
}

// Action is a prioritized recommendation surfaced to the caller.
type Action struct {
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

// ResultMetadata describes the session that produced a result.
type ResultMetadata struct {
	SessionID      string   `json:"session_id"`
	TurnCount      int      `json:"turn_count"`
	DurationMS     int64    `json:"duration_ms"`
	CompletedSteps []string `json:"completed_steps,omitempty"`
}

// AnalysisResult is the structured outcome of a dialogue or one-shot
// analysis. Status is "success" or "partial" (budget expiry).
type AnalysisResult struct {
	Status                 string         `json:"status"`
	RootCauses             []RootCause    `json:"root_causes,omitempty"`
	ImmediateActions       []Action       `json:"immediate_actions,omitempty"`
	InvestigationNextSteps []string       `json:"investigation_next_steps,omitempty"`
	RuledOutApproaches     []string       `json:"ruled_out_approaches,omitempty"`
	Insights               []string       `json:"insights,omitempty"`
	Recommendations        []string       `json:"recommendations,omitempty"`
	Findings               []Finding      `json:"findings,omitempty"`
	Metadata               ResultMetadata `json:"metadata"`
}

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
)

// PartialResult builds the budget-expiry shape: everything gathered so
// far plus an advisory entry describing the shortfall. The attempted
// approaches are reported back as ruled out so the caller does not
// repeat them.
func PartialResult(reqCtx RequestContext, elapsed time.Duration, gathered AnalysisResult) AnalysisResult {
	gathered.Status = StatusPartial
	gathered.RuledOutApproaches = append([]string(nil), reqCtx.AttemptedApproaches...)
	gathered.InvestigationNextSteps = append(gathered.InvestigationNextSteps,
		fmt.Sprintf("analysis stopped after %s when the time budget expired; re-run with a larger time_budget_seconds to continue", elapsed.Round(time.Millisecond)))
	return gathered
}

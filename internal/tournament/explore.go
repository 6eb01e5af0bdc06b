package tournament

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"reasongate/internal/dialogue"
	"reasongate/internal/faults"
	"reasongate/internal/session"
	"reasongate/internal/types"
)

// reproductionAskConfidence is the evidence score above which the
// explorer asks for concrete reproduction steps.
const reproductionAskConfidence = 0.5

// relatedFindingConfidence marks a finalized root cause as a
// serendipitous discovery rather than support for the theory.
const relatedFindingConfidence = 0.3

// evidenceLocRe finds file:line references inside evidence lines.
var evidenceLocRe = regexp.MustCompile(`([\w/.-]+\.\w+):(\d+)`)

// roundContext carries what later rounds know that round one did not.
type roundContext struct {
	eliminated []string // ruled-out theories
	insights   []string // cross-round insights from pollination
}

// explore runs the full per-hypothesis protocol: open a dedicated
// session, gather evidence from the initial exchange, chase
// reproduction steps when the theory looks strong, and finalize into an
// actionable result.
func (s *Scheduler) explore(ctx context.Context, hyp Hypothesis, reqCtx types.RequestContext, issue string, files map[string]string, rc roundContext) (ExplorationResult, error) {
	sessCtx := reqCtx
	sessCtx.StuckPoints = append(append([]string(nil), reqCtx.StuckPoints...), "Testing: "+hyp.Theory)
	id := s.sessions.Create(sessCtx)

	out := ExplorationResult{Hypothesis: hyp, SessionID: id}

	if !s.sessions.AcquireLock(id) {
		return out, faults.Newf(faults.SessionLocked, "hypothesis %s: fresh session unexpectedly locked", hyp.ID)
	}
	defer s.sessions.ReleaseLock(id)

	start, err := s.adapter.Start(ctx, dialogue.StartRequest{
		Context:  sessCtx,
		Kind:     "hypothesis_test",
		Question: explorationQuestion(issue, hyp, rc),
		Files:    files,
	})
	if err != nil {
		return out, faults.Classify(err).WithContext("hypothesis " + hyp.ID)
	}
	if err := s.sessions.SetChat(id, start.Chat); err != nil {
		return out, err
	}
	s.addTurn(id, session.RoleRemote, start.Response, &session.TurnMeta{AnalysisKind: "hypothesis_test", FollowUps: start.FollowUps})

	out.Evidence = extractEvidence(start.Response, s.now())
	out.Insights = append(out.Insights, start.FollowUps...)

	if scoreEvidence(out.Evidence, len(out.Insights)) > reproductionAskConfidence {
		repro, err := start.Chat.Send(ctx, "Give concrete steps to reproduce this behavior, as a numbered list. If it cannot be reproduced deterministically, say so explicitly.")
		if err != nil {
			return out, faults.Classify(err).WithContext("hypothesis " + hyp.ID)
		}
		s.addTurn(id, session.RoleRemote, repro, nil)
		out.Evidence = append(out.Evidence, extractEvidence(repro, s.now())...)
		if containsAny(repro, reproductionSuccessWords) {
			out.Reproduction = dialogue.ParseListItems(repro)
		}
	}

	final, err := s.adapter.Finalize(ctx, start.Chat, dialogue.FormatActionable)
	if err != nil {
		// Keep the evidence gathered so far; a synthesis parse failure
		// should not zero out a whole exploration.
		s.log.Debug("exploration finalize failed",
			zap.String("hypothesis", hyp.ID), zap.Error(err))
	} else {
		out.Insights = append(out.Insights, final.Insights...)
		for _, cause := range final.RootCauses {
			if cause.Confidence < relatedFindingConfidence {
				out.Related = append(out.Related, causeToFinding(cause, hyp))
				continue
			}
			out.Evidence = append(out.Evidence, Evidence{
				Polarity:    Supporting,
				Description: cause.Description,
				Location:    locationFromEvidence(cause.Evidence),
				Confidence:  cause.Confidence,
				FoundAt:     s.now(),
			})
		}
	}

	out.Confidence = scoreEvidence(out.Evidence, len(out.Insights))
	if info, err := s.sessions.Snapshot(id); err == nil {
		out.Depth = info.TurnCount
	}
	return out, nil
}

// explorationQuestion assembles the untrusted portion of the initial
// prompt: the issue and theory under test, plus what prior rounds
// learned.
func explorationQuestion(issue string, hyp Hypothesis, rc roundContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue: %s\n", issue)
	fmt.Fprintf(&b, "Hypothesis under test: %s\n", hyp.Theory)
	fmt.Fprintf(&b, "Test approach: %s\n", hyp.Approach)
	fmt.Fprintf(&b, "Category: %s", hyp.Category)
	if len(rc.eliminated) > 0 {
		b.WriteString("\nAlready ruled out:")
		for _, theory := range rc.eliminated {
			b.WriteString("\n- " + theory)
		}
	}
	if len(rc.insights) > 0 {
		b.WriteString("\nInsights from parallel investigations:")
		for _, insight := range rc.insights {
			b.WriteString("\n- " + insight)
		}
	}
	return b.String()
}

// extractEvidence scans a response line by line and classifies each
// line's polarity, confidence, and code reference.
func extractEvidence(response string, now time.Time) []Evidence {
	var out []Evidence
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var polarity Polarity
		switch {
		case containsAny(line, contradictingWords):
			polarity = Contradicting
		case containsAny(line, supportingWords):
			polarity = Supporting
		default:
			continue
		}
		out = append(out, Evidence{
			Polarity:    polarity,
			Description: line,
			Location:    locationFromLine(line),
			Confidence:  strengthConfidence(line),
			FoundAt:     now,
		})
	}
	return out
}

func locationFromLine(line string) *types.CodeLocation {
	m := evidenceLocRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	n, _ := strconv.Atoi(m[2])
	return &types.CodeLocation{File: m[1], Line: n}
}

func locationFromEvidence(evidence []string) *types.CodeLocation {
	for _, e := range evidence {
		if loc := locationFromLine(e); loc != nil {
			return loc
		}
	}
	return nil
}

// causeToFinding converts a low-confidence root cause into a
// serendipitous finding. Severity is low unless the description names
// something that cannot wait.
func causeToFinding(cause types.RootCause, hyp Hypothesis) types.Finding {
	severity := types.SeverityLow
	if cause.Confidence >= 0.15 {
		severity = types.SeverityMedium
	}
	if containsAny(cause.Type+" "+cause.Description, severeFindingWords) {
		severity = types.SeverityHigh
	}
	kind := types.FindingBug
	switch hyp.Category {
	case CategoryPerformance:
		kind = types.FindingPerformance
	case CategorySecurity:
		kind = types.FindingSecurity
	case CategoryArchitecture:
		kind = types.FindingArchitecture
	}
	f := types.Finding{
		Kind:        kind,
		Severity:    severity,
		Description: cause.Description,
		Evidence:    cause.Evidence,
	}
	if loc := locationFromEvidence(cause.Evidence); loc != nil {
		f.Location = *loc
	}
	return f
}

// failedExploration is the synthetic stand-in when one exploration
// errors: low-confidence, contradicting, and unable to win.
func failedExploration(hyp Hypothesis, sessionID string, err error, now time.Time) ExplorationResult {
	return ExplorationResult{
		Hypothesis: hyp,
		SessionID:  sessionID,
		Evidence: []Evidence{{
			Polarity:    Contradicting,
			Description: "exploration failed: " + err.Error(),
			Confidence:  1,
			FoundAt:     now,
		}},
		Confidence: 0.1,
	}
}

// addTurn records a turn, tolerating cap rejection: a full log must not
// abort an exploration mid-flight.
func (s *Scheduler) addTurn(id string, role session.Role, content string, meta *session.TurnMeta) {
	if _, err := s.sessions.AddTurn(id, role, content, meta); err != nil {
		s.log.Debug("turn not recorded", zap.String("session_id", id), zap.Error(err))
	}
}

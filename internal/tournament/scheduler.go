package tournament

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reasongate/internal/dialogue"
	"reasongate/internal/faults"
	"reasongate/internal/reader"
	"reasongate/internal/session"
	"reasongate/internal/types"
)

// strugglingConfidence marks a surviving session as worth pollinating.
const strugglingConfidence = 0.5

// significantConfidence gates whose insights are shared.
const significantConfidence = 0.6

// Scheduler runs hypothesis tournaments on top of the session manager
// and the dialogue adapter.
type Scheduler struct {
	sessions *session.Manager
	adapter  *dialogue.Adapter
	files    *reader.Reader
	log      *zap.Logger
	now      func() time.Time
}

// New creates a Scheduler.
func New(sessions *session.Manager, adapter *dialogue.Adapter, files *reader.Reader, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		sessions: sessions,
		adapter:  adapter,
		files:    files,
		log:      log,
		now:      time.Now,
	}
}

// Run executes a full tournament: generate hypotheses, explore them in
// elimination rounds, and rank the survivors. Budget expiry closes the
// tournament early with a partial result; exploration sessions are left
// active so diagnostic queries stay valid.
func (s *Scheduler) Run(ctx context.Context, reqCtx types.RequestContext, issue string, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	started := s.now()
	ctx, cancel := context.WithTimeout(ctx, cfg.Budget)
	defer cancel()

	files, err := s.files.ReadAll(reqCtx.FocusArea.Files)
	if err != nil {
		return nil, faults.Classify(err)
	}

	hyps, err := s.generate(ctx, reqCtx, issue, cfg.MaxHypotheses)
	if err != nil {
		if ctx.Err() != nil {
			res := &Result{Status: types.StatusPartial, Issue: issue}
			res.Primary = append(res.Primary, types.Action{
				Priority:    "high",
				Description: "the time budget expired during hypothesis generation; re-run with a larger time_budget_seconds",
			})
			res.DurationMS = s.now().Sub(started).Milliseconds()
			return res, nil
		}
		return nil, err
	}

	res := &Result{
		Status:          types.StatusSuccess,
		Issue:           issue,
		TotalHypotheses: len(hyps),
	}
	s.log.Info("tournament started",
		zap.Int("hypotheses", len(hyps)),
		zap.Int("max_rounds", cfg.MaxRounds),
		zap.Int("parallelism", cfg.Parallelism))

	// latest holds each hypothesis's most recent exploration result;
	// ordered tracks first-seen order for deterministic aggregation.
	latest := make(map[string]ExplorationResult)
	ordered := make([]string, 0, len(hyps))

	survivors := hyps
	rc := roundContext{}
	for k := 1; k <= cfg.MaxRounds; k++ {
		round, next := s.runRound(ctx, k, survivors, reqCtx, issue, files, rc, cfg)
		res.Rounds = append(res.Rounds, round)
		for _, r := range round.Results {
			if _, ok := latest[r.Hypothesis.ID]; !ok {
				ordered = append(ordered, r.Hypothesis.ID)
			}
			latest[r.Hypothesis.ID] = r
		}
		rc.eliminated = append(rc.eliminated, eliminatedTheories(round, next)...)
		rc.insights = append(rc.insights, round.Insights...)
		survivors = next

		if ctx.Err() != nil {
			res.Status = types.StatusPartial
			break
		}
		if len(survivors) <= 1 {
			break
		}
	}

	// Final standings: the last round's results ranked best-first, so a
	// runner-up exists even when elimination kept only one survivor.
	var standings []ExplorationResult
	if n := len(res.Rounds); n > 0 {
		standings = append(standings, res.Rounds[n-1].Results...)
	}
	sort.Slice(standings, func(i, j int) bool { return less(standings[i], standings[j]) })
	if len(standings) > 0 {
		winner := standings[0]
		res.Winner = &winner
	}
	if len(standings) > 1 {
		runnerUp := standings[1]
		res.RunnerUp = &runnerUp
	}

	for _, id := range ordered {
		res.Findings = append(res.Findings, latest[id].Related...)
	}

	res.DurationMS = s.now().Sub(started).Milliseconds()
	if rounds := len(res.Rounds); rounds > 0 {
		res.ParallelEfficiency = float64(res.TotalHypotheses) / float64(rounds)
	}
	s.recommend(res)
	if res.Status == types.StatusPartial {
		res.Primary = append(res.Primary, types.Action{
			Priority: "high",
			Description: fmt.Sprintf("exploration stopped after %d of %d rounds when the time budget expired; "+
				"re-run with a larger time_budget_seconds to finish the elimination", len(res.Rounds), cfg.MaxRounds),
		})
	}

	if res.Status == types.StatusSuccess {
		for _, id := range ordered {
			s.sessions.MarkCompleted(latest[id].SessionID)
		}
	}
	s.log.Info("tournament finished",
		zap.String("status", res.Status),
		zap.Int("rounds", len(res.Rounds)),
		zap.Int64("duration_ms", res.DurationMS))
	return res, nil
}

// runRound explores every hypothesis with bounded parallelism, then
// applies threshold and top-half elimination and cross-pollination.
// Failed explorations are isolated as synthetic low-confidence results.
func (s *Scheduler) runRound(ctx context.Context, number int, hyps []Hypothesis, reqCtx types.RequestContext, issue string, files map[string]string, rc roundContext, cfg Config) (Round, []Hypothesis) {
	round := Round{Number: number, Hypotheses: hyps}
	results := make([]ExplorationResult, len(hyps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for i, hyp := range hyps {
		g.Go(func() error {
			r, err := s.explore(gctx, hyp, reqCtx, issue, files, rc)
			if err != nil {
				s.log.Warn("exploration failed; isolating",
					zap.String("hypothesis", hyp.ID), zap.Error(err))
				r = failedExploration(hyp, r.SessionID, err, s.now())
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	round.Results = results

	// Threshold first, then keep the top half of the field.
	passing := make([]ExplorationResult, 0, len(results))
	for _, r := range results {
		if r.Confidence >= cfg.EliminationThreshold {
			passing = append(passing, r)
		}
	}
	sort.Slice(passing, func(i, j int) bool { return less(passing[i], passing[j]) })
	if keep := (len(hyps) + 1) / 2; len(passing) > keep {
		passing = passing[:keep]
	}

	survivors := make([]Hypothesis, 0, len(passing))
	kept := make(map[string]bool, len(passing))
	for _, r := range passing {
		survivors = append(survivors, r.Hypothesis)
		kept[r.Hypothesis.ID] = true
	}
	for _, h := range hyps {
		if !kept[h.ID] {
			round.Eliminated = append(round.Eliminated, h.ID)
		}
	}

	if cfg.CrossPollination && len(passing) >= 2 {
		round.Insights = significantInsights(results)
		if len(round.Insights) > 0 {
			for _, r := range passing {
				if r.Confidence < strugglingConfidence {
					s.pollinate(ctx, r.SessionID, round.Insights)
				}
			}
		}
	}
	return round, survivors
}

// significantInsights collects pattern-level insights from finalized
// results confident enough to be worth listening to.
func significantInsights(results []ExplorationResult) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, r := range results {
		if r.Confidence <= significantConfidence {
			continue
		}
		for _, insight := range r.Insights {
			if !containsAny(insight, pollinationWords) {
				continue
			}
			if _, ok := seen[insight]; ok {
				continue
			}
			seen[insight] = struct{}{}
			out = append(out, insight)
		}
	}
	return out
}

// pollinate feeds shared insights into a struggling session as one
// follow-up exchange. Failures are logged and ignored; pollination is
// advisory.
func (s *Scheduler) pollinate(ctx context.Context, id string, insights []string) {
	if !s.sessions.AcquireLock(id) {
		s.log.Debug("pollination skipped; session not lockable", zap.String("session_id", id))
		return
	}
	defer s.sessions.ReleaseLock(id)

	chat, err := s.sessions.Chat(id)
	if err != nil {
		return
	}
	msg := "Parallel investigations of the same issue surfaced these observations:\n- " +
		strings.Join(insights, "\n- ") +
		"\nReassess your hypothesis in light of them."
	s.addTurn(id, session.RoleSystem, msg, nil)
	resp, err := chat.Send(ctx, msg)
	if err != nil {
		s.log.Debug("pollination send failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	s.addTurn(id, session.RoleRemote, resp, nil)
}

// eliminatedTheories lists the ruled-out theory texts for later-round
// prompts.
func eliminatedTheories(round Round, survivors []Hypothesis) []string {
	kept := make(map[string]bool, len(survivors))
	for _, h := range survivors {
		kept[h.ID] = true
	}
	var out []string
	for _, h := range round.Hypotheses {
		if !kept[h.ID] {
			out = append(out, h.Theory)
		}
	}
	return out
}

// generate asks the remote for competing theories inside a scratch
// session and parses the numbered list it returns.
func (s *Scheduler) generate(ctx context.Context, reqCtx types.RequestContext, issue string, n int) ([]Hypothesis, error) {
	id := s.sessions.Create(reqCtx)
	ask := fmt.Sprintf("Propose exactly %d distinct, competing hypotheses for the root cause of the issue described by the caller. "+
		"Return a numbered list. For each item give: Theory: <one sentence>. Approach: <how to test it>. "+
		"Category: one of performance, bug, security, architecture, integration. Priority: <0..1>.", n)

	start, err := s.adapter.Start(ctx, dialogue.StartRequest{
		Context:  reqCtx,
		Kind:     "hypothesis_test",
		Ask:      ask,
		Question: issue,
	})
	if err != nil {
		s.sessions.Abandon(id)
		return nil, faults.Classify(err).WithContext("hypothesis generation")
	}
	s.addTurn(id, session.RoleRemote, start.Response, nil)
	s.sessions.MarkCompleted(id)

	items := dialogue.ParseListItems(start.Response)
	hyps := make([]Hypothesis, 0, n)
	for i, item := range items {
		if len(hyps) == n {
			break
		}
		hyps = append(hyps, parseHypothesis(i+1, item))
	}
	if len(hyps) == 0 {
		return nil, faults.New(faults.APIParseError, "remote response contained no extractable hypotheses")
	}
	return hyps, nil
}

var (
	labelRe    = regexp.MustCompile(`(?i)\b(theory|test approach|approach|category|priority)\s*:\s*`)
	priorityRe = regexp.MustCompile(`(?i)priority\s*:\s*(0?\.\d+|[01](?:\.\d+)?)`)
)

// parseHypothesis turns one list item into a Hypothesis. Labeled fields
// are honored when present; otherwise the whole item is the theory and
// category and priority fall back to keyword heuristics.
func parseHypothesis(ordinal int, item string) Hypothesis {
	h := Hypothesis{
		ID:      fmt.Sprintf("H%d", ordinal),
		Ordinal: ordinal,
		Theory:  item,
	}

	fields, head := splitLabeled(item)
	if v, ok := fields["theory"]; ok {
		h.Theory = v
	} else if head != "" {
		h.Theory = head
	}
	if v, ok := fields["approach"]; ok {
		h.Approach = v
	}
	if v, ok := fields["category"]; ok {
		h.Category = parseCategory(v)
	} else {
		h.Category = categorize(item)
	}
	if m := priorityRe.FindStringSubmatch(item); m != nil {
		if p, err := strconv.ParseFloat(m[1], 64); err == nil {
			h.Priority = p
		}
	} else {
		h.Priority = strengthConfidence(item)
	}
	return h
}

// splitLabeled carves "Label: text" runs out of item. head is any text
// before the first label.
func splitLabeled(item string) (fields map[string]string, head string) {
	fields = make(map[string]string)
	locs := labelRe.FindAllStringSubmatchIndex(item, -1)
	if len(locs) == 0 {
		return fields, ""
	}
	head = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(item[:locs[0][0]]), ".;,"))
	for i, loc := range locs {
		label := strings.ToLower(item[loc[2]:loc[3]])
		if label == "test approach" {
			label = "approach"
		}
		end := len(item)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		fields[label] = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(item[loc[1]:end]), ".;,"))
	}
	return fields, head
}

func parseCategory(v string) Category {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return CategoryBug
	}
	switch Category(strings.ToLower(fields[0])) {
	case CategoryPerformance:
		return CategoryPerformance
	case CategoryBug:
		return CategoryBug
	case CategorySecurity:
		return CategorySecurity
	case CategoryArchitecture:
		return CategoryArchitecture
	case CategoryIntegration:
		return CategoryIntegration
	}
	return categorize(v)
}

// recommend fills the primary and secondary action lists from the final
// standings.
func (s *Scheduler) recommend(res *Result) {
	w := res.Winner
	if w == nil {
		return
	}
	switch {
	case w.Confidence > 0.7:
		res.Primary = append(res.Primary, types.Action{
			Priority:    "critical",
			Description: "fix the confirmed root cause: " + w.Hypothesis.Theory,
		})
		if len(w.Reproduction) > 0 {
			res.Primary = append(res.Primary, types.Action{
				Priority:    "high",
				Description: "verify the fix against the recorded reproduction steps",
			})
		}
	case w.Confidence >= 0.3:
		res.Primary = append(res.Primary, types.Action{
			Priority:    "high",
			Description: "investigate further: " + w.Hypothesis.Theory,
		})
	}
	if ru := res.RunnerUp; ru != nil && ru.Confidence > 0.5 {
		res.Primary = append(res.Primary, types.Action{
			Priority:    "medium",
			Description: "also consider: " + ru.Hypothesis.Theory,
		})
	}
	if w.Hypothesis.Category == CategoryPerformance {
		res.Primary = append(res.Primary, types.Action{
			Priority:    "medium",
			Description: "set up monitoring for the affected code path before and after the fix",
		})
	}
	for _, f := range res.Findings {
		if f.Severity.AtLeast(types.SeverityHigh) {
			res.Secondary = append(res.Secondary, types.Action{
				Priority:    "medium",
				Description: "unrelated issue discovered during exploration: " + f.Description,
			})
		}
	}
}

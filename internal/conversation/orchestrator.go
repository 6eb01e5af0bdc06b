// Package conversation binds one session to one remote chat and
// enforces the session contracts around every public operation: lock
// acquisition before any adapter call, lock release on every exit path,
// and completion bookkeeping.
package conversation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"reasongate/internal/dialogue"
	"reasongate/internal/faults"
	"reasongate/internal/reader"
	"reasongate/internal/session"
	"reasongate/internal/types"
)

// DefaultBudget bounds a one-shot analysis when the caller gives none.
const DefaultBudget = 60 * time.Second

// Orchestrator wires the session manager, the dialogue adapter, and the
// secure reader behind the conversation operations.
type Orchestrator struct {
	sessions *session.Manager
	adapter  *dialogue.Adapter
	files    *reader.Reader
	log      *zap.Logger
}

// New creates an Orchestrator.
func New(sessions *session.Manager, adapter *dialogue.Adapter, files *reader.Reader, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{sessions: sessions, adapter: adapter, files: files, log: log}
}

// StartOutput is the response to start_conversation.
type StartOutput struct {
	SessionID       string         `json:"session_id"`
	InitialResponse string         `json:"initial_response"`
	FollowUps       []string       `json:"suggested_follow_ups"`
	Status          session.Status `json:"status"`
}

// Start opens a new session bound to a fresh remote chat and returns
// the first response. Focus-area files are read before the session is
// created so file errors never leave an orphan session behind.
func (o *Orchestrator) Start(ctx context.Context, reqCtx types.RequestContext, kind, question string) (*StartOutput, error) {
	files, err := o.files.ReadAll(reqCtx.FocusArea.Files)
	if err != nil {
		return nil, faults.Classify(err)
	}

	id := o.sessions.Create(reqCtx)
	res, err := o.adapter.Start(ctx, dialogue.StartRequest{
		Context:  reqCtx,
		Kind:     kind,
		Question: question,
		Files:    files,
	})
	if err != nil {
		o.sessions.Abandon(id)
		return nil, faults.Classify(err).WithContext("session " + id)
	}

	if err := o.sessions.SetChat(id, res.Chat); err != nil {
		return nil, err
	}
	meta := &session.TurnMeta{AnalysisKind: kind, FollowUps: res.FollowUps}
	if _, err := o.sessions.AddTurn(id, session.RoleRemote, res.Response, meta); err != nil {
		return nil, err
	}

	o.log.Info("conversation started", zap.String("session_id", id), zap.String("kind", kind))
	return &StartOutput{
		SessionID:       id,
		InitialResponse: res.Response,
		FollowUps:       res.FollowUps,
		Status:          session.StatusActive,
	}, nil
}

// ContinueOutput is the response to continue_conversation.
type ContinueOutput struct {
	Response    string         `json:"response"`
	Progress    float64        `json:"analysis_progress"`
	CanFinalize bool           `json:"can_finalize"`
	Status      session.Status `json:"status"`
}

// Continue appends one caller turn and one remote turn under the
// session lock. The lock is released on every exit path, including
// adapter failure and caller cancellation, leaving the session active
// so the caller may retry.
func (o *Orchestrator) Continue(ctx context.Context, id, msg string, includeSnippets bool) (*ContinueOutput, error) {
	if err := o.lock(id); err != nil {
		return nil, err
	}
	defer o.sessions.ReleaseLock(id)

	reqCtx, err := o.sessions.Context(id)
	if err != nil {
		return nil, err
	}
	chat, err := o.sessions.Chat(id)
	if err != nil {
		return nil, err
	}
	if _, err := o.sessions.AddTurn(id, session.RoleCaller, msg, nil); err != nil {
		return nil, err
	}

	res, err := o.adapter.Continue(ctx, chat, reqCtx, msg, includeSnippets)
	if err != nil {
		return nil, faults.Classify(err).WithContext("session " + id)
	}

	followUps := dialogue.ExtractFollowUps(res.Response, 3)
	if _, err := o.sessions.AddTurn(id, session.RoleRemote, res.Response, &session.TurnMeta{FollowUps: followUps}); err != nil {
		// Turn cap reached on the caller turn; the response still reaches
		// the caller, who must finalize next.
		o.log.Debug("remote turn not recorded", zap.String("session_id", id), zap.Error(err))
	}
	if err := o.sessions.UpdateProgress(id, session.ProgressDelta{
		Confidence:    res.Progress,
		HasConfidence: true,
	}); err != nil {
		return nil, err
	}

	o.sessions.ReleaseLock(id)
	info, err := o.sessions.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return &ContinueOutput{
		Response:    res.Response,
		Progress:    res.Progress,
		CanFinalize: res.Finalizable || o.sessions.ShouldComplete(id),
		Status:      info.Status,
	}, nil
}

// Finalize synthesizes the dialogue into a structured result and marks
// the session completed. The session is not destroyed: status queries
// stay answerable until the sweeper reclaims it.
func (o *Orchestrator) Finalize(ctx context.Context, id string, format dialogue.Format) (types.AnalysisResult, error) {
	if err := o.lock(id); err != nil {
		return types.AnalysisResult{}, err
	}
	defer o.sessions.ReleaseLock(id)

	chat, err := o.sessions.Chat(id)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	result, err := o.adapter.Finalize(ctx, chat, format)
	if err != nil {
		return types.AnalysisResult{}, faults.Classify(err).WithContext("session " + id)
	}

	extracted, err := o.sessions.ExtractResults(id)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	result.Insights = append(result.Insights, extracted.Insights...)
	result.Recommendations = append(result.Recommendations, extracted.Recommendations...)
	result.Findings = append(result.Findings, extracted.Findings...)
	result.Metadata = extracted.Metadata

	o.sessions.MarkCompleted(id)
	o.log.Info("conversation finalized", zap.String("session_id", id), zap.String("format", string(format)))
	return result, nil
}

// StatusOutput is the response to get_conversation_status. It never
// takes the session lock.
type StatusOutput struct {
	SessionID    string           `json:"session_id"`
	Status       session.Status   `json:"status"`
	TurnCount    int              `json:"turn_count"`
	LastActivity time.Time        `json:"last_activity"`
	Progress     session.Progress `json:"progress"`
	CanFinalize  bool             `json:"can_finalize"`
}

// Status reports observable session state without locking.
func (o *Orchestrator) Status(id string) (*StatusOutput, error) {
	info, err := o.sessions.Snapshot(id)
	if err != nil {
		return nil, err
	}
	reqCtx, err := o.sessions.Context(id)
	if err != nil {
		return nil, err
	}
	_, finalizable := dialogue.Progress(reqCtx)
	return &StatusOutput{
		SessionID:    info.ID,
		Status:       info.Status,
		TurnCount:    info.TurnCount,
		LastActivity: info.LastActivity,
		Progress:     info.Progress,
		CanFinalize:  finalizable || o.sessions.ShouldComplete(id),
	}, nil
}

// OneShotRequest describes a single bounded analysis (escalate_analysis
// and the heuristic-tool escalations).
type OneShotRequest struct {
	Context  types.RequestContext
	Kind     string
	Question string
	Budget   time.Duration
}

// OneShot runs start-then-finalize inside one private session under a
// time budget. Budget expiry yields a partial result carrying whatever
// was gathered; the session stays active so diagnostic queries remain
// valid.
func (o *Orchestrator) OneShot(ctx context.Context, req OneShotRequest) (types.AnalysisResult, error) {
	if req.Budget <= 0 {
		req.Budget = DefaultBudget
	}
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, req.Budget)
	defer cancel()

	files, err := o.files.ReadAll(req.Context.FocusArea.Files)
	if err != nil {
		return types.AnalysisResult{}, faults.Classify(err)
	}

	id := o.sessions.Create(req.Context)
	res, err := o.adapter.Start(ctx, dialogue.StartRequest{
		Context:  req.Context,
		Kind:     req.Kind,
		Question: req.Question,
		Files:    files,
	})
	if err != nil {
		if expired(err) {
			return o.partial(id, req.Context, started, types.AnalysisResult{}), nil
		}
		o.sessions.Abandon(id)
		return types.AnalysisResult{}, faults.Classify(err).WithContext("session " + id)
	}
	if _, err := o.sessions.AddTurn(id, session.RoleRemote, res.Response,
		&session.TurnMeta{AnalysisKind: req.Kind, FollowUps: res.FollowUps}); err != nil {
		return types.AnalysisResult{}, err
	}

	result, err := o.adapter.Finalize(ctx, res.Chat, dialogue.FormatDetailed)
	if err != nil {
		if expired(err) {
			gathered := types.AnalysisResult{Insights: res.FollowUps}
			return o.partial(id, req.Context, started, gathered), nil
		}
		return types.AnalysisResult{}, faults.Classify(err).WithContext("session " + id)
	}

	extracted, eerr := o.sessions.ExtractResults(id)
	if eerr == nil {
		result.Insights = append(result.Insights, extracted.Insights...)
		result.Metadata = extracted.Metadata
	}
	o.sessions.MarkCompleted(id)
	return result, nil
}

// partial assembles the budget-expiry result. Findings supplied by the
// caller are preserved; the session is left active, never abandoned.
func (o *Orchestrator) partial(id string, reqCtx types.RequestContext, started time.Time, gathered types.AnalysisResult) types.AnalysisResult {
	gathered.Findings = append(gathered.Findings, reqCtx.PartialFindings...)
	out := types.PartialResult(reqCtx, time.Since(started), gathered)
	out.Metadata.SessionID = id
	out.Metadata.DurationMS = time.Since(started).Milliseconds()
	o.log.Warn("analysis budget expired", zap.String("session_id", id))
	return out
}

// expired reports whether err is the budget deadline firing.
func expired(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// lock acquires the session lock or explains why it cannot.
func (o *Orchestrator) lock(id string) error {
	if o.sessions.AcquireLock(id) {
		return nil
	}
	info, err := o.sessions.Snapshot(id)
	if err != nil {
		return err
	}
	switch info.Status {
	case session.StatusProcessing:
		return faults.Newf(faults.SessionLocked, "session %s is processing another operation", id)
	default:
		return faults.Newf(faults.SessionTimeout, "session %s is %s; start a new conversation to continue", id, info.Status)
	}
}

package session

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reasongate/internal/bus"
	"reasongate/internal/faults"
	"reasongate/internal/remote"
	"reasongate/internal/types"
)

const (
	// DefaultIdleTimeout reclaims sessions with no activity.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultMaxTurns caps the conversation length; reaching it moves
	// the session to completing.
	DefaultMaxTurns = 50
	// completionConfidence moves a session to completing.
	completionConfidence = 0.9
)

// recommendationRe mines recommendation lines out of remote turns.
var recommendationRe = regexp.MustCompile(`(?im)^.*\brecommends?:\s*(.+)$`)

// Manager owns the session map. A single short-held mutex guards map
// mutations and id generation; it never wraps remote calls. Mutual
// exclusion per session is the processing flag, so a losing caller
// observes SESSION_LOCKED immediately instead of blocking.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*state

	idleTimeout   time.Duration
	sweepInterval time.Duration
	maxTurns      int

	events *bus.Bus
	log    *zap.Logger
	clock  func() time.Time

	stop chan struct{}
	done chan struct{}
}

// Option tunes a Manager; used by tests to shorten timers.
type Option func(*Manager)

// WithIdleTimeout overrides the 30-minute idle timeout.
func WithIdleTimeout(d time.Duration) Option { return func(m *Manager) { m.idleTimeout = d } }

// WithSweepInterval overrides the 5-minute sweep interval.
func WithSweepInterval(d time.Duration) Option { return func(m *Manager) { m.sweepInterval = d } }

// WithMaxTurns overrides the 50-turn cap.
func WithMaxTurns(n int) Option { return func(m *Manager) { m.maxTurns = n } }

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option { return func(m *Manager) { m.clock = clock } }

// NewManager creates a Manager and starts its background sweeper.
func NewManager(events *bus.Bus, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		sessions:      make(map[string]*state),
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		maxTurns:      DefaultMaxTurns,
		events:        events,
		log:           log,
		clock:         time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweeper()
	return m
}

// Create registers a new active session and returns its id.
func (m *Manager) Create(reqCtx types.RequestContext) string {
	now := m.clock()
	s := &state{
		id:           uuid.NewString(),
		createdAt:    now,
		lastActivity: now,
		status:       StatusActive,
		reqCtx:       reqCtx,
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.publish(s.id, "session_created", "")
	m.log.Debug("session created", zap.String("session_id", s.id))
	return s.id
}

// get returns the live state for id, treating idle-expired sessions as
// gone. Caller must hold m.mu.
func (m *Manager) get(id string) (*state, *faults.Error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, faults.Newf(faults.SessionNotFound, "session %s not found", id)
	}
	if !s.terminal() && m.clock().Sub(s.lastActivity) > m.idleTimeout {
		s.status = StatusAbandoned
		s.locked = false
		m.publish(id, "session_abandoned", "idle timeout")
		return nil, faults.Newf(faults.SessionNotFound, "session %s expired after inactivity", id)
	}
	return s, nil
}

// Snapshot returns a read-only view of the session.
func (m *Manager) Snapshot(id string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return Info{}, ferr
	}
	return Info{
		ID:           s.id,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		TurnCount:    len(s.turns),
		Progress:     copyProgress(s.progress),
	}, nil
}

// AcquireLock atomically moves an active or completing, unexpired
// session to processing. Completing sessions stay lockable so
// finalization can serialize against concurrent continues. It returns
// false when the session is absent, locked, or not in a lockable state;
// it never blocks.
func (m *Manager) AcquireLock(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return false
	}
	if s.locked || (s.status != StatusActive && s.status != StatusCompleting) {
		return false
	}
	s.resume = s.status
	s.status = StatusProcessing
	s.locked = true
	s.touch(m.clock())
	return true
}

// ReleaseLock returns a processing session to the status it was locked
// from. Any other state is a no-op; ReleaseLock never blocks and never
// fails.
func (m *Manager) ReleaseLock(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.status != StatusProcessing {
		return
	}
	s.status = s.resume
	if s.status == "" {
		s.status = StatusActive
	}
	s.locked = false
	s.touch(m.clock())
}

// AddTurn appends a turn while the session is active or processing.
// Reaching the turn cap moves the session to completing; the next
// append is rejected.
func (m *Manager) AddTurn(id string, role Role, content string, meta *TurnMeta) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return 0, ferr
	}
	if s.status != StatusActive && s.status != StatusProcessing {
		return 0, faults.Newf(faults.SessionTimeout, "session %s is %s; no further turns accepted", id, s.status)
	}
	if len(s.turns) >= m.maxTurns {
		return 0, faults.Newf(faults.SessionTimeout, "session %s reached the %d-turn cap", id, m.maxTurns)
	}
	turn := Turn{
		ID:        len(s.turns) + 1,
		Role:      role,
		Content:   content,
		Timestamp: m.clock(),
		Meta:      meta,
	}
	s.turns = append(s.turns, turn)
	s.touch(m.clock())
	if len(s.turns) >= m.maxTurns {
		m.markCompleting(s, id, "turn cap reached")
	}
	return turn.ID, nil
}

// markCompleting moves the session toward completing without dropping a
// held lock: a processing session keeps its lock and lands on
// completing at ReleaseLock. Caller must hold m.mu.
func (m *Manager) markCompleting(s *state, id, detail string) {
	if s.status == StatusProcessing {
		if s.resume != StatusCompleting {
			s.resume = StatusCompleting
			m.publish(id, "session_completing", detail)
		}
		return
	}
	if s.status != StatusCompleting {
		s.status = StatusCompleting
		m.publish(id, "session_completing", detail)
	}
}

// Turns returns a copy of the session's turn log.
func (m *Manager) Turns(id string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return nil, ferr
	}
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

// Context returns the request context the session was created with.
func (m *Manager) Context(id string) (types.RequestContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return types.RequestContext{}, ferr
	}
	return s.reqCtx, nil
}

// SetChat binds the remote chat handle to the session. The handle is
// owned by the session and never shared.
func (m *Manager) SetChat(id string, chat remote.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return ferr
	}
	s.chat = chat
	s.touch(m.clock())
	return nil
}

// Chat returns the session's remote chat handle.
func (m *Manager) Chat(id string) (remote.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return nil, ferr
	}
	if s.chat == nil {
		return nil, faults.Newf(faults.SessionNotFound, "session %s has no active chat", id)
	}
	return s.chat, nil
}

// UpdateProgress merges delta into the session's progress record.
// Confidence at or above 0.9 moves the session to completing.
func (m *Manager) UpdateProgress(id string, delta ProgressDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return ferr
	}
	if s.terminal() {
		return faults.Newf(faults.SessionTimeout, "session %s is %s; progress frozen", id, s.status)
	}
	p := &s.progress
	p.CompletedSteps = append(p.CompletedSteps, delta.AddCompletedSteps...)
	if delta.SetPendingQuestions != nil {
		p.PendingQuestions = dedupe(delta.SetPendingQuestions)
	}
	if len(delta.AddPendingQuestions) > 0 {
		p.PendingQuestions = dedupe(append(p.PendingQuestions, delta.AddPendingQuestions...))
	}
	p.KeyFindings = append(p.KeyFindings, delta.AddKeyFindings...)
	if delta.HasConfidence {
		p.Confidence = delta.Confidence
	}
	s.touch(m.clock())
	if p.Confidence >= completionConfidence {
		m.markCompleting(s, id, "high confidence")
	}
	return nil
}

// ShouldComplete reports whether any completion condition holds:
// completing status, no pending questions, confidence at the
// threshold, or the turn cap.
func (m *Manager) ShouldComplete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return false
	}
	return s.status == StatusCompleting ||
		len(s.progress.PendingQuestions) == 0 ||
		s.progress.Confidence >= completionConfidence ||
		len(s.turns) >= m.maxTurns
}

// MarkCompleted finalizes the session. Completed sessions stay
// queryable until the sweeper reclaims them.
func (m *Manager) MarkCompleted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.status == StatusAbandoned {
		return
	}
	s.status = StatusCompleted
	s.locked = false
	s.touch(m.clock())
	m.publish(id, "session_completed", "")
}

// Abandon terminally abandons the session.
func (m *Manager) Abandon(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.terminal() {
		return
	}
	s.status = StatusAbandoned
	s.locked = false
	m.publish(id, "session_abandoned", "explicit")
}

// ExtractResults composes an analysis snapshot from the session's
// observable state: insights mined from turn metadata and
// recommendation lines mined from remote turns.
func (m *Manager) ExtractResults(id string) (types.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ferr := m.get(id)
	if ferr != nil {
		return types.AnalysisResult{}, ferr
	}

	var insights []string
	var recommendations []string
	var findings []types.Finding
	for _, turn := range s.turns {
		if turn.Meta != nil {
			insights = append(insights, turn.Meta.FollowUps...)
			findings = append(findings, turn.Meta.Findings...)
		}
		if turn.Role != RoleRemote {
			continue
		}
		for _, match := range recommendationRe.FindAllStringSubmatch(turn.Content, -1) {
			recommendations = append(recommendations, strings.TrimSpace(match[1]))
		}
	}

	return types.AnalysisResult{
		Status:          types.StatusSuccess,
		Insights:        insights,
		Recommendations: recommendations,
		Findings:        findings,
		Metadata: types.ResultMetadata{
			SessionID:      s.id,
			TurnCount:      len(s.turns),
			DurationMS:     m.clock().Sub(s.createdAt).Milliseconds(),
			CompletedSteps: append([]string(nil), s.progress.CompletedSteps...),
		},
	}, nil
}

// Destroy stops the sweeper and drops all sessions. Test hook.
func (m *Manager) Destroy() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
	m.mu.Lock()
	m.sessions = make(map[string]*state)
	m.mu.Unlock()
}

// sweeper deletes sessions whose last activity exceeds the idle
// timeout. Abandonment happens first so subscribers observe the
// transition before deletion.
func (m *Manager) sweeper() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := m.clock()
	m.mu.Lock()
	var reclaimed []string
	for id, s := range m.sessions {
		if now.Sub(s.lastActivity) > m.idleTimeout {
			if !s.terminal() {
				s.status = StatusAbandoned
				s.locked = false
			}
			delete(m.sessions, id)
			reclaimed = append(reclaimed, id)
		}
	}
	m.mu.Unlock()
	for _, id := range reclaimed {
		m.publish(id, "session_reclaimed", "idle timeout")
	}
	if len(reclaimed) > 0 {
		m.log.Info("sessions reclaimed", zap.Int("count", len(reclaimed)))
	}
}

func (m *Manager) publish(id, kind, detail string) {
	if m.events == nil {
		return
	}
	m.events.Publish(bus.Event{
		Time:      m.clock(),
		Kind:      kind,
		SessionID: id,
		Detail:    detail,
	})
}

func copyProgress(p Progress) Progress {
	return Progress{
		CompletedSteps:   append([]string(nil), p.CompletedSteps...),
		PendingQuestions: append([]string(nil), p.PendingQuestions...),
		KeyFindings:      append([]types.Finding(nil), p.KeyFindings...),
		Confidence:       p.Confidence,
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

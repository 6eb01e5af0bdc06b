// Package session owns all reasoning-session state. Sessions are
// reachable only by id through the Manager; no other component holds a
// reference to the mutable state between calls.
package session

import (
	"time"

	"reasongate/internal/remote"
	"reasongate/internal/types"
)

// Status is the lifecycle state of a session. Transitions are monotone
// except active<->processing; completed and abandoned are absorbing.
type Status string

const (
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleting Status = "completing"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleCaller Role = "caller"
	RoleRemote Role = "remote"
	RoleSystem Role = "system"
)

// TurnMeta carries optional annotations on a turn.
type TurnMeta struct {
	AnalysisKind string          `json:"analysis_kind,omitempty"`
	FollowUps    []string        `json:"follow_ups,omitempty"`
	Findings     []types.Finding `json:"findings,omitempty"`
}

// Turn is one appended utterance. Turn ids are dense and strictly
// increasing from 1 within a session.
type Turn struct {
	ID        int       `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Meta      *TurnMeta `json:"meta,omitempty"`
}

// Progress is the deterministic progress record governing
// finalizability.
type Progress struct {
	CompletedSteps   []string        `json:"completed_steps"`
	PendingQuestions []string        `json:"pending_questions"`
	KeyFindings      []types.Finding `json:"key_findings"`
	Confidence       float64         `json:"confidence"`
}

// ProgressDelta merges into a Progress on named fields only; unset
// fields leave the existing values alone.
type ProgressDelta struct {
	AddCompletedSteps   []string
	SetPendingQuestions []string
	AddPendingQuestions []string
	AddKeyFindings      []types.Finding
	Confidence          float64
	HasConfidence       bool
}

// state is one owned session. All fields are guarded by the Manager's
// lock; the locked flag is true iff status is processing.
type state struct {
	id           string
	createdAt    time.Time
	lastActivity time.Time
	status       Status
	reqCtx       types.RequestContext
	turns        []Turn
	progress     Progress
	chat         remote.Chat
	locked       bool
	// resume is the status restored on lock release: active, or
	// completing when the lock was taken to finalize.
	resume Status
}

// Info is a read-only snapshot surfaced to callers.
type Info struct {
	ID           string    `json:"session_id"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	TurnCount    int       `json:"turn_count"`
	Progress     Progress  `json:"progress"`
}

func (s *state) terminal() bool {
	return s.status == StatusCompleted || s.status == StatusAbandoned
}

func (s *state) touch(now time.Time) {
	s.lastActivity = now
}

// Package session models one workflow run as a strict four-stage state
// machine: requirement → implementation → testing → completed. Advance is the
// only transition; stages cannot be skipped or revisited, and completed is
// terminal.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/devflowhq/devflow/internal/classify"
)

// Stage is a phase of the workflow.
type Stage string

const (
	StageRequirement    Stage = "requirement"
	StageImplementation Stage = "implementation"
	StageTesting        Stage = "testing"
	StageCompleted      Stage = "completed"
)

// stageOrder is the only legal progression.
var stageOrder = []Stage{StageRequirement, StageImplementation, StageTesting, StageCompleted}

// ErrInvalidTransition signals caller misuse of the state machine, such as
// advancing a completed session.
var ErrInvalidTransition = errors.New("invalid stage transition")

// Index returns the ordinal position of a stage, or -1 for an unknown stage.
func Index(s Stage) int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Stages returns the full ordered stage list.
func Stages() []Stage {
	return append([]Stage(nil), stageOrder...)
}

// Note records the outcome of one collaborator invocation, attached to the
// stage it ran for. Failures live here as data; they never force a
// transition.
type Note struct {
	Stage   Stage     `json:"stage"`
	Agent   string    `json:"agent"`
	Success bool      `json:"success"`
	Output  string    `json:"output,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Session is one active workflow run. It is owned exclusively by the
// orchestrator; the profile store only ever receives derived summaries at
// completion.
type Session struct {
	ID                       string
	Description              string
	Category                 classify.Category
	Complexity               classify.Complexity
	PredictedDurationMinutes int
	TechStack                []string
	RiskNotes                []string // populated at creation, immutable afterward
	Stage                    Stage
	StartedAt                time.Time
	LastActivityAt           time.Time
	StageNotes               []Note
}

// New creates a session in the requirement stage.
func New(id, description string, category classify.Category, complexity classify.Complexity, predictedMinutes int, techStack, riskNotes []string, now time.Time) *Session {
	return &Session{
		ID:                       id,
		Description:              description,
		Category:                 category,
		Complexity:               complexity,
		PredictedDurationMinutes: predictedMinutes,
		TechStack:                techStack,
		RiskNotes:                riskNotes,
		Stage:                    StageRequirement,
		StartedAt:                now,
		LastActivityAt:           now,
	}
}

// Advance moves the session to the next stage and stamps the activity time.
// Advancing a completed session (or one in an unknown stage) returns
// ErrInvalidTransition and leaves the session unchanged.
func (s *Session) Advance(now time.Time) error {
	idx := Index(s.Stage)
	if idx < 0 {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, s.Stage)
	}
	if s.Stage == StageCompleted {
		return fmt.Errorf("%w: session %s is already completed", ErrInvalidTransition, s.ID)
	}

	s.Stage = stageOrder[idx+1]
	s.LastActivityAt = now
	return nil
}

// Completed reports whether the session reached its terminal stage.
func (s *Session) Completed() bool {
	return s.Stage == StageCompleted
}

// ActualDuration is the wall-clock span between start and last activity.
func (s *Session) ActualDuration() time.Duration {
	return s.LastActivityAt.Sub(s.StartedAt)
}

// Touch updates the activity timestamp without a transition.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// AddNote appends a collaborator result for the current stage.
func (s *Session) AddNote(n Note) {
	s.StageNotes = append(s.StageNotes, n)
}

// NotesFor returns the notes recorded for a given stage.
func (s *Session) NotesFor(stage Stage) []Note {
	var out []Note
	for _, n := range s.StageNotes {
		if n.Stage == stage {
			out = append(out, n)
		}
	}
	return out
}

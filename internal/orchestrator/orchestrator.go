// Package orchestrator drives whole workflow sessions: it classifies the
// incoming description, builds the initial prediction from the profile,
// delegates stage work to agents, and feeds completed sessions back into the
// profile so the next prediction is better.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/devflowhq/devflow/internal/agent"
	"github.com/devflowhq/devflow/internal/allocator"
	"github.com/devflowhq/devflow/internal/classify"
	"github.com/devflowhq/devflow/internal/patterns"
	"github.com/devflowhq/devflow/internal/profile"
	"github.com/devflowhq/devflow/internal/session"
	"github.com/devflowhq/devflow/internal/storage"
)

var (
	// ErrNoActiveSession is returned by operations that need a session in
	// flight when there is none.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionActive is returned by Start when a live session already
	// exists; only one session runs at a time.
	ErrSessionActive = errors.New("a session is already active")
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config tunes orchestrator behavior.
type Config struct {
	// SessionTTL is how long an active session may sit idle before Start
	// reclaims it as abandoned. Zero means the 24h default.
	SessionTTL time.Duration

	// Participants maps each workflow stage to the agents that run when the
	// session advances out of it. Nil means DefaultParticipants.
	Participants map[session.Stage][]string

	// DefaultSatisfaction is the score recorded on completion when the user
	// gives none. Zero means 5.
	DefaultSatisfaction int
}

// DefaultSessionTTL is the idle window after which a stale session is
// reclaimed.
const DefaultSessionTTL = 24 * time.Hour

// DefaultParticipants assigns one agent per working stage.
func DefaultParticipants() map[session.Stage][]string {
	return map[session.Stage][]string{
		session.StageRequirement:    {"requirements-analyst"},
		session.StageImplementation: {"code-implementer"},
		session.StageTesting:        {"test-runner"},
	}
}

func (c *Config) normalize() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.Participants == nil {
		c.Participants = DefaultParticipants()
	}
	if c.DefaultSatisfaction <= 0 {
		c.DefaultSatisfaction = 5
	}
}

// Orchestrator coordinates the session store, developer profile, allocator
// and agent executor. It is the only writer of session state.
type Orchestrator struct {
	sessions *storage.Store
	profiles *profile.Store
	patterns *patterns.Log
	executor agent.Executor
	clock    Clock
	dataDir  string
	cfg      Config
}

// New wires an orchestrator. dataDir hosts the allocator cache document.
func New(sessions *storage.Store, profiles *profile.Store, log *patterns.Log, executor agent.Executor, dataDir string, cfg Config) *Orchestrator {
	cfg.normalize()
	if executor == nil {
		executor = agent.NopExecutor{}
	}
	return &Orchestrator{
		sessions: sessions,
		profiles: profiles,
		patterns: log,
		executor: executor,
		clock:    realClock{},
		dataDir:  dataDir,
		cfg:      cfg,
	}
}

// WithClock swaps the time source (tests only).
func (o *Orchestrator) WithClock(c Clock) *Orchestrator {
	o.clock = c
	return o
}

// Start classifies the description, predicts the session shape from the
// profile, persists the new session and caches its adaptive allocation.
// An existing active session blocks Start unless it has been idle past the
// TTL, in which case it is reclaimed as abandoned first.
func (o *Orchestrator) Start(ctx context.Context, description string) (*session.Session, allocator.Config, error) {
	now := o.clock.Now()

	if rec, err := o.sessions.ActiveSession(); err == nil {
		if now.Sub(rec.LastActivityAt) <= o.cfg.SessionTTL {
			return nil, allocator.Config{}, fmt.Errorf("%w: %s", ErrSessionActive, rec.ID)
		}
		slog.Info("reclaiming stale session", "id", rec.ID, "idle", now.Sub(rec.LastActivityAt))
		rec.Status = storage.StatusAbandoned
		rec.ActualMinutes = rec.LastActivityAt.Sub(rec.StartedAt).Minutes()
		if err := o.sessions.SaveSession(rec); err != nil {
			return nil, allocator.Config{}, fmt.Errorf("reclaiming stale session: %w", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, allocator.Config{}, fmt.Errorf("checking active session: %w", err)
	}

	category, complexity := classify.Classify(description)
	prof := o.profiles.Get()

	historicalAvg := 0.0
	if stats := prof.Stats(category); stats != nil {
		historicalAvg = stats.AvgDurationMinutes
	}
	predicted := classify.EstimateDuration(category, complexity, historicalAvg)

	sess := session.New(
		uuid.NewString(),
		description,
		category,
		complexity,
		predicted,
		o.techStackFor(category, prof),
		o.riskNotesFor(category, prof),
		now,
	)

	if err := o.sessions.SaveSession(toRecord(sess, storage.StatusActive)); err != nil {
		return nil, allocator.Config{}, fmt.Errorf("persisting session: %w", err)
	}

	alloc := allocator.Compute(category, complexity, prof, now)
	if focus := o.patterns.CommonQualityFocus(category); focus != "" && !slices.Contains(alloc.QualityFocusAreas, focus) {
		alloc.QualityFocusAreas = append(alloc.QualityFocusAreas, focus)
	}
	allocator.WriteCache(o.dataDir, alloc)

	slog.Info("session started",
		"id", sess.ID,
		"category", category,
		"complexity", complexity,
		"predicted_minutes", predicted,
	)
	return sess, alloc, nil
}

// techStackFor prefers technologies the developer has actually used for the
// category, falling back to the category default.
func (o *Orchestrator) techStackFor(category classify.Category, prof profile.Profile) []string {
	if stats := prof.Stats(category); stats != nil && len(stats.SeenTechnologies) > 0 {
		seen := stats.SeenTechnologies
		if len(seen) > 3 {
			seen = seen[:3]
		}
		return append([]string(nil), seen...)
	}
	return classify.DefaultStack(category)
}

// riskNotesFor blends the developer's recorded pain points with the
// category's common risks, two of each, deduplicated.
func (o *Orchestrator) riskNotesFor(category classify.Category, prof profile.Profile) []string {
	var notes []string
	seen := make(map[string]bool)
	add := func(items []string, max int) {
		n := 0
		for _, item := range items {
			if n >= max {
				return
			}
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			notes = append(notes, item)
			n++
		}
	}
	add(prof.WorkPatterns.CommonPainPoints, 2)
	add(classify.CommonRisks(category), 2)
	return notes
}

// Advance runs the current stage's agents and, when all succeed, moves the
// session to the next stage. Agent failures are recorded as stage notes and
// leave the stage unchanged; the returned bool reports whether a transition
// happened. Reaching the completed stage feeds the session back into the
// profile and success-pattern log.
func (o *Orchestrator) Advance(ctx context.Context) (*session.Session, bool, error) {
	rec, err := o.sessions.ActiveSession()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, ErrNoActiveSession
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading active session: %w", err)
	}

	sess, err := fromRecord(rec)
	if err != nil {
		return nil, false, fmt.Errorf("decoding session %s: %w", rec.ID, err)
	}

	now := o.clock.Now()
	allOK := true
	for _, name := range o.cfg.Participants[sess.Stage] {
		res := o.executor.Execute(ctx, name, sess.Description)
		sess.AddNote(session.Note{
			Stage:   sess.Stage,
			Agent:   name,
			Success: res.Success,
			Output:  res.Output,
			Error:   res.Error,
			At:      now,
		})
		if !res.Success {
			slog.Warn("agent failed", "session", sess.ID, "stage", sess.Stage, "agent", name, "error", res.Error)
			allOK = false
		}
	}

	if !allOK {
		sess.Touch(now)
		if err := o.sessions.SaveSession(toRecord(sess, storage.StatusActive)); err != nil {
			return nil, false, fmt.Errorf("persisting session: %w", err)
		}
		return sess, false, nil
	}

	if err := sess.Advance(now); err != nil {
		return nil, false, err
	}

	if sess.Completed() {
		if err := o.finalize(sess); err != nil {
			return nil, false, err
		}
		return sess, true, nil
	}

	if err := o.sessions.SaveSession(toRecord(sess, storage.StatusActive)); err != nil {
		return nil, false, fmt.Errorf("persisting session: %w", err)
	}
	slog.Info("session advanced", "id", sess.ID, "stage", sess.Stage)
	return sess, true, nil
}

// finalize closes out a completed session: marks the record, folds the actual
// duration and technologies into the profile, records the satisfaction score
// and, when it clears the bar, logs the configuration as a success pattern.
func (o *Orchestrator) finalize(sess *session.Session) error {
	actualMinutes := sess.ActualDuration().Minutes()

	rec := toRecord(sess, storage.StatusCompleted)
	rec.ActualMinutes = actualMinutes
	if err := o.sessions.SaveSession(rec); err != nil {
		return fmt.Errorf("persisting completed session: %w", err)
	}

	o.profiles.RecordCompletion(sess.Category, actualMinutes)
	for _, tech := range sess.TechStack {
		o.profiles.RecordTechnology(sess.Category, tech)
	}

	score := o.cfg.DefaultSatisfaction
	o.profiles.RecordSatisfaction(sess.Category, sess.Complexity, score, sess.LastActivityAt)

	if score >= 4 {
		alloc, ok := allocator.ReadCache(o.dataDir)
		if !ok {
			alloc = allocator.Compute(sess.Category, sess.Complexity, o.profiles.Get(), sess.LastActivityAt)
		}
		weights := make(map[string]float64, len(alloc.StepWeights))
		for key, w := range alloc.StepWeights {
			weights[string(key)] = w
		}
		entry := patterns.Entry{
			ProjectType:  sess.Category,
			Complexity:   sess.Complexity,
			StepWeights:  weights,
			QualityFocus: alloc.QualityFocusAreas,
			Timestamp:    sess.LastActivityAt,
		}
		if err := o.patterns.Append(entry); err != nil {
			slog.Warn("could not record success pattern", "session", sess.ID, "error", err)
		}
	}

	slog.Info("session completed",
		"id", sess.ID,
		"actual_minutes", actualMinutes,
		"predicted_minutes", sess.PredictedDurationMinutes,
	)
	return nil
}

// Abandon marks the active session abandoned. Abandoned sessions leave no
// trace in the profile.
func (o *Orchestrator) Abandon(ctx context.Context) (*session.Session, error) {
	rec, err := o.sessions.ActiveSession()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("loading active session: %w", err)
	}

	sess, err := fromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", rec.ID, err)
	}

	now := o.clock.Now()
	sess.Touch(now)
	out := toRecord(sess, storage.StatusAbandoned)
	out.ActualMinutes = sess.ActualDuration().Minutes()
	if err := o.sessions.SaveSession(out); err != nil {
		return nil, fmt.Errorf("persisting abandoned session: %w", err)
	}

	slog.Info("session abandoned", "id", sess.ID, "stage", sess.Stage)
	return sess, nil
}

// StatusReport is a read-only snapshot of the active session.
type StatusReport struct {
	ID               string              `json:"id"`
	Description      string              `json:"description"`
	Category         classify.Category   `json:"category"`
	Complexity       classify.Complexity `json:"complexity"`
	Stage            session.Stage       `json:"stage"`
	ElapsedMinutes   float64             `json:"elapsed_minutes"`
	PredictedMinutes int                 `json:"predicted_minutes"`
	Progress         float64             `json:"progress"`
	TechStack        []string            `json:"tech_stack"`
	RiskNotes        []string            `json:"risk_notes"`
	StageNotes       []session.Note      `json:"stage_notes,omitempty"`
}

// Status reports on the active session, including a weight-based progress
// fraction in [0,1].
func (o *Orchestrator) Status(ctx context.Context) (StatusReport, error) {
	rec, err := o.sessions.ActiveSession()
	if errors.Is(err, storage.ErrNotFound) {
		return StatusReport{}, ErrNoActiveSession
	}
	if err != nil {
		return StatusReport{}, fmt.Errorf("loading active session: %w", err)
	}

	sess, err := fromRecord(rec)
	if err != nil {
		return StatusReport{}, fmt.Errorf("decoding session %s: %w", rec.ID, err)
	}

	alloc, ok := allocator.ReadCache(o.dataDir)
	if !ok {
		alloc = allocator.Compute(sess.Category, sess.Complexity, o.profiles.Get(), o.clock.Now())
	}

	return StatusReport{
		ID:               sess.ID,
		Description:      sess.Description,
		Category:         sess.Category,
		Complexity:       sess.Complexity,
		Stage:            sess.Stage,
		ElapsedMinutes:   o.clock.Now().Sub(sess.StartedAt).Minutes(),
		PredictedMinutes: sess.PredictedDurationMinutes,
		Progress:         progress(sess.Stage, alloc),
		TechStack:        sess.TechStack,
		RiskNotes:        sess.RiskNotes,
		StageNotes:       sess.StageNotes,
	}, nil
}

// progress sums the weights of completed steps. The requirement stage covers
// the analysis and design planning steps, so both count once the session
// leaves it.
func progress(stage session.Stage, alloc allocator.Config) float64 {
	switch stage {
	case session.StageRequirement:
		return 0
	case session.StageImplementation:
		return alloc.StepWeights[allocator.StepRequirement] + alloc.StepWeights[allocator.StepDesign]
	case session.StageTesting:
		return alloc.StepWeights[allocator.StepRequirement] +
			alloc.StepWeights[allocator.StepDesign] +
			alloc.StepWeights[allocator.StepImplementation]
	case session.StageCompleted:
		return 1.0
	}
	return 0
}

// History lists recent sessions of any status, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return o.sessions.RecentSessions(limit)
}

// CategoryCounts returns completed-session counts per category.
func (o *Orchestrator) CategoryCounts(ctx context.Context) (map[string]int, error) {
	return o.sessions.CategoryCounts()
}

func toRecord(sess *session.Session, status string) storage.SessionRecord {
	return storage.SessionRecord{
		ID:               sess.ID,
		Description:      sess.Description,
		Category:         string(sess.Category),
		Complexity:       string(sess.Complexity),
		PredictedMinutes: sess.PredictedDurationMinutes,
		Stage:            string(sess.Stage),
		Status:           status,
		TechStack:        mustJSON(sess.TechStack),
		RiskNotes:        mustJSON(sess.RiskNotes),
		StageNotes:       mustJSON(sess.StageNotes),
		StartedAt:        sess.StartedAt,
		LastActivityAt:   sess.LastActivityAt,
	}
}

func fromRecord(rec storage.SessionRecord) (*session.Session, error) {
	sess := &session.Session{
		ID:                       rec.ID,
		Description:              rec.Description,
		Category:                 classify.Category(rec.Category),
		Complexity:               classify.Complexity(rec.Complexity),
		PredictedDurationMinutes: rec.PredictedMinutes,
		Stage:                    session.Stage(rec.Stage),
		StartedAt:                rec.StartedAt,
		LastActivityAt:           rec.LastActivityAt,
	}
	if err := json.Unmarshal([]byte(rec.TechStack), &sess.TechStack); err != nil {
		return nil, fmt.Errorf("tech stack: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.RiskNotes), &sess.RiskNotes); err != nil {
		return nil, fmt.Errorf("risk notes: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.StageNotes), &sess.StageNotes); err != nil {
		return nil, fmt.Errorf("stage notes: %w", err)
	}
	return sess, nil
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	if string(data) == "null" {
		return "[]"
	}
	return string(data)
}

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devflowhq/devflow/internal/agent"
	"github.com/devflowhq/devflow/internal/classify"
	"github.com/devflowhq/devflow/internal/patterns"
	"github.com/devflowhq/devflow/internal/profile"
	"github.com/devflowhq/devflow/internal/session"
	"github.com/devflowhq/devflow/internal/storage"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type scriptedExecutor struct {
	failing map[string]bool
	calls   []string
}

func (e *scriptedExecutor) Execute(_ context.Context, name, task string) agent.Result {
	e.calls = append(e.calls, name)
	if e.failing[name] {
		return agent.Result{Success: false, Error: "scripted failure"}
	}
	return agent.Result{Success: true, Output: "done: " + task}
}

type fixture struct {
	orch     *Orchestrator
	clock    *fakeClock
	exec     *scriptedExecutor
	profiles *profile.Store
	store    *storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dataDir := t.TempDir()
	profiles := profile.Open(dataDir)
	log := patterns.NewLog(dataDir)
	exec := &scriptedExecutor{failing: map[string]bool{}}
	clock := &fakeClock{t: time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)}

	orch := New(store, profiles, log, exec, dataDir, Config{}).WithClock(clock)
	return &fixture{orch: orch, clock: clock, exec: exec, profiles: profiles, store: store}
}

func TestStart_NewSession(t *testing.T) {
	f := newFixture(t)

	sess, alloc, err := f.orch.Start(context.Background(), "开发一个电商网站")
	if err != nil {
		t.Fatalf("starting session: %v", err)
	}

	if sess.Category != classify.CategoryWebApp {
		t.Errorf("category = %s, want web_app", sess.Category)
	}
	if sess.Stage != session.StageRequirement {
		t.Errorf("new session must start in requirement, got %s", sess.Stage)
	}
	if sess.PredictedDurationMinutes != 144 {
		t.Errorf("predicted = %d, want 144 (medium base × web multiplier)", sess.PredictedDurationMinutes)
	}
	if len(sess.TechStack) == 0 {
		t.Error("empty profile should fall back to the default stack")
	}
	if len(sess.RiskNotes) == 0 {
		t.Error("risk notes should carry the category's common risks")
	}
	if sum := alloc.WeightSum(); sum < 0.999 || sum > 1.001 {
		t.Errorf("allocation weights sum to %v, want 1.0", sum)
	}

	rec, err := f.store.ActiveSession()
	if err != nil {
		t.Fatalf("session was not persisted: %v", err)
	}
	if rec.ID != sess.ID {
		t.Errorf("persisted ID = %s, want %s", rec.ID, sess.ID)
	}
}

func TestStart_BlockedByActiveSession(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.orch.Start(context.Background(), "build a web shop"); err != nil {
		t.Fatal(err)
	}

	f.clock.advance(time.Hour)
	_, _, err := f.orch.Start(context.Background(), "another project")
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("err = %v, want ErrSessionActive", err)
	}
}

func TestStart_ReclaimsStaleSession(t *testing.T) {
	f := newFixture(t)

	first, _, err := f.orch.Start(context.Background(), "build a web shop")
	if err != nil {
		t.Fatal(err)
	}

	f.clock.advance(25 * time.Hour)
	second, _, err := f.orch.Start(context.Background(), "write a deploy script")
	if err != nil {
		t.Fatalf("stale session should be reclaimed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh session after reclamation")
	}

	old, err := f.store.GetSession(first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.Status != storage.StatusAbandoned {
		t.Errorf("stale session status = %s, want abandoned", old.Status)
	}
}

func TestStart_UsesProfileHistory(t *testing.T) {
	f := newFixture(t)

	f.profiles.RecordCompletion(classify.CategoryWebApp, 200)
	f.profiles.RecordTechnology(classify.CategoryWebApp, "Svelte")

	sess, _, err := f.orch.Start(context.Background(), "build a web shop")
	if err != nil {
		t.Fatal(err)
	}
	if sess.PredictedDurationMinutes != 200 {
		t.Errorf("predicted = %d, want historical average 200", sess.PredictedDurationMinutes)
	}
	if len(sess.TechStack) != 1 || sess.TechStack[0] != "Svelte" {
		t.Errorf("tech stack = %v, want profile technologies", sess.TechStack)
	}
}

func TestAdvance_FullRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, _, err := f.orch.Start(ctx, "build a web shop")
	if err != nil {
		t.Fatal(err)
	}

	wantStages := []session.Stage{session.StageImplementation, session.StageTesting, session.StageCompleted}
	for _, want := range wantStages {
		f.clock.advance(30 * time.Minute)
		got, advanced, err := f.orch.Advance(ctx)
		if err != nil {
			t.Fatalf("advancing to %s: %v", want, err)
		}
		if !advanced {
			t.Fatalf("expected a transition to %s", want)
		}
		if got.Stage != want {
			t.Fatalf("stage = %s, want %s", got.Stage, want)
		}
	}

	// One agent per working stage ran.
	if len(f.exec.calls) != 3 {
		t.Errorf("agent calls = %v, want one per working stage", f.exec.calls)
	}

	rec, err := f.store.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if rec.ActualMinutes != 90 {
		t.Errorf("actual minutes = %v, want 90", rec.ActualMinutes)
	}

	prof := f.profiles.Get()
	stats := prof.Stats(classify.CategoryWebApp)
	if stats == nil || stats.Frequency != 1 {
		t.Fatal("completion must increment the category frequency")
	}
	if stats.AvgDurationMinutes != 90 {
		t.Errorf("avg duration = %v, want 90", stats.AvgDurationMinutes)
	}
	if len(stats.SeenTechnologies) == 0 {
		t.Error("completion must record the session technologies")
	}
	if len(prof.WorkPatterns.SatisfactionScores) != 1 {
		t.Error("completion must record a satisfaction score")
	}
}

func TestAdvance_RecordsSuccessPattern(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.orch.Start(ctx, "build a web shop"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		f.clock.advance(20 * time.Minute)
		if _, _, err := f.orch.Advance(ctx); err != nil {
			t.Fatal(err)
		}
	}

	log := patterns.NewLog(f.orch.dataDir)
	entries := log.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d pattern entries, want 1", len(entries))
	}
	if entries[0].ProjectType != classify.CategoryWebApp {
		t.Errorf("pattern project type = %s, want web_app", entries[0].ProjectType)
	}
}

func TestAdvance_AgentFailureHoldsStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.exec.failing["requirements-analyst"] = true

	if _, _, err := f.orch.Start(ctx, "build a web shop"); err != nil {
		t.Fatal(err)
	}

	got, advanced, err := f.orch.Advance(ctx)
	if err != nil {
		t.Fatalf("agent failure must not be an error: %v", err)
	}
	if advanced {
		t.Fatal("session must not advance past a failed agent")
	}
	if got.Stage != session.StageRequirement {
		t.Errorf("stage = %s, want requirement", got.Stage)
	}

	notes := got.NotesFor(session.StageRequirement)
	if len(notes) != 1 || notes[0].Success {
		t.Fatalf("failure must be recorded as a stage note, got %+v", notes)
	}

	// The failure note survives persistence and the stage can still be
	// retried once the agent recovers.
	f.exec.failing["requirements-analyst"] = false
	got, advanced, err = f.orch.Advance(ctx)
	if err != nil || !advanced {
		t.Fatalf("retry after recovery should advance, got advanced=%v err=%v", advanced, err)
	}
	if len(got.NotesFor(session.StageRequirement)) != 2 {
		t.Error("both the failed and successful attempts should be on record")
	}
}

func TestAdvance_NoActiveSession(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.orch.Advance(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, _, err := f.orch.Start(ctx, "build a web shop")
	if err != nil {
		t.Fatal(err)
	}

	f.clock.advance(40 * time.Minute)
	if _, err := f.orch.Abandon(ctx); err != nil {
		t.Fatal(err)
	}

	rec, err := f.store.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.StatusAbandoned {
		t.Errorf("status = %s, want abandoned", rec.Status)
	}
	if rec.ActualMinutes != 40 {
		t.Errorf("actual minutes = %v, want 40", rec.ActualMinutes)
	}

	// Abandoned work leaves the profile untouched.
	if f.profiles.Get().TotalProjects() != 0 {
		t.Error("abandon must not record a completion")
	}

	if _, err := f.orch.Abandon(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("second abandon: err = %v, want ErrNoActiveSession", err)
	}
}

func TestStatus_Progress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.orch.Start(ctx, "build a web shop"); err != nil {
		t.Fatal(err)
	}

	st, err := f.orch.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Progress != 0 {
		t.Errorf("requirement-stage progress = %v, want 0", st.Progress)
	}

	f.clock.advance(30 * time.Minute)
	if _, _, err := f.orch.Advance(ctx); err != nil {
		t.Fatal(err)
	}

	st, err = f.orch.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Analysis (0.25) + design (0.15) of the base table.
	if st.Progress < 0.39 || st.Progress > 0.41 {
		t.Errorf("implementation-stage progress = %v, want ≈0.4", st.Progress)
	}
	if st.ElapsedMinutes != 30 {
		t.Errorf("elapsed = %v, want 30", st.ElapsedMinutes)
	}
}

func TestHistoryAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.orch.Start(ctx, "build a web shop"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		f.clock.advance(10 * time.Minute)
		if _, _, err := f.orch.Advance(ctx); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := f.orch.History(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist))
	}

	counts, err := f.orch.CategoryCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["web_app"] != 1 {
		t.Errorf("counts = %v, want web_app:1", counts)
	}
}

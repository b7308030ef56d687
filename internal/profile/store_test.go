package profile

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devflowhq/devflow/internal/classify"
)

func TestOpen_MissingFile(t *testing.T) {
	s := Open(t.TempDir())
	p := s.Get()
	if len(p.CategoryStats) != 0 {
		t.Errorf("expected empty profile, got %d categories", len(p.CategoryStats))
	}
}

func TestOpen_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	// Truncated JSON must degrade to an empty default, never an error.
	if err := os.WriteFile(filepath.Join(dir, profileFileName), []byte(`{"category_stats": {"web_app"`), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Open(dir)
	p := s.Get()
	if len(p.CategoryStats) != 0 {
		t.Errorf("corrupt file should yield zero categories, got %d", len(p.CategoryStats))
	}
}

func TestRecordCompletion_EMA(t *testing.T) {
	s := Open(t.TempDir())

	// 60 → 60*0.7+80*0.3=66 → 66*0.7+100*0.3=76.2
	for _, d := range []float64{60, 80, 100} {
		s.RecordCompletion(classify.CategoryCLITool, d)
	}

	stats := s.Get().Stats(classify.CategoryCLITool)
	if stats == nil {
		t.Fatal("expected stats for cli_tool")
	}
	if math.Abs(stats.AvgDurationMinutes-76.2) > 1e-9 {
		t.Errorf("avg = %v, want 76.2", stats.AvgDurationMinutes)
	}
	if stats.Frequency != 3 {
		t.Errorf("frequency = %d, want 3", stats.Frequency)
	}
}

func TestRecordCompletion_EMAConverges(t *testing.T) {
	s := Open(t.TempDir())

	const k = 42.0
	for i := 0; i < 50; i++ {
		s.RecordCompletion(classify.CategoryWebApp, k)
	}

	avg := s.Get().Stats(classify.CategoryWebApp).AvgDurationMinutes
	if math.Abs(avg-k) > 1e-6 {
		t.Errorf("repeated identical observations should converge to %v, got %v", k, avg)
	}
}

func TestRecordCompletion_MonotonicFrequency(t *testing.T) {
	s := Open(t.TempDir())

	prev := 0
	for i := 1; i <= 10; i++ {
		s.RecordCompletion(classify.CategoryAutomation, 30)
		freq := s.Get().Stats(classify.CategoryAutomation).Frequency
		if freq != i {
			t.Fatalf("after %d completions frequency = %d", i, freq)
		}
		if freq <= prev {
			t.Fatalf("frequency must strictly increase: %d then %d", prev, freq)
		}
		prev = freq
	}
}

func TestRecordTechnology_NoDuplicates(t *testing.T) {
	s := Open(t.TempDir())

	s.RecordTechnology(classify.CategoryWebApp, "React")
	s.RecordTechnology(classify.CategoryWebApp, "TypeScript")
	s.RecordTechnology(classify.CategoryWebApp, "React")

	techs := s.Get().Stats(classify.CategoryWebApp).SeenTechnologies
	if len(techs) != 2 {
		t.Errorf("expected 2 technologies, got %v", techs)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := Open(dir)
	s.RecordCompletion(classify.CategoryAPIService, 90)
	s.RecordTechnology(classify.CategoryAPIService, "FastAPI")
	s.SetQualityFocus([]string{"security", "performance"})
	s.SetPreferredWorkSessions("morning")
	s.AddPainPoint("requirement churn")
	s.SetOptimization(classify.CategoryAPIService, Optimization{Note: "timebox design"})
	s.RecordSatisfaction(classify.CategoryAPIService, classify.ComplexityMedium, 4, time.Now())

	// A fresh store must see everything the first one persisted.
	reloaded := Open(dir).Get()

	stats := reloaded.Stats(classify.CategoryAPIService)
	if stats == nil || stats.Frequency != 1 || stats.AvgDurationMinutes != 90 {
		t.Fatalf("unexpected stats after reload: %+v", stats)
	}
	if len(stats.SeenTechnologies) != 1 || stats.SeenTechnologies[0] != "FastAPI" {
		t.Errorf("technologies not persisted: %v", stats.SeenTechnologies)
	}
	if len(reloaded.QualityFocusAreas) != 2 {
		t.Errorf("quality focus not persisted: %v", reloaded.QualityFocusAreas)
	}
	if reloaded.WorkPatterns.PreferredWorkSessions != "morning" {
		t.Errorf("work sessions not persisted: %q", reloaded.WorkPatterns.PreferredWorkSessions)
	}
	if len(reloaded.WorkPatterns.CommonPainPoints) != 1 {
		t.Errorf("pain points not persisted: %v", reloaded.WorkPatterns.CommonPainPoints)
	}
	if _, ok := reloaded.LearnedOptimizations[classify.CategoryAPIService]; !ok {
		t.Error("optimization not persisted")
	}
	if len(reloaded.WorkPatterns.SatisfactionScores) != 1 {
		t.Errorf("satisfaction log not persisted: %v", reloaded.WorkPatterns.SatisfactionScores)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := Open(t.TempDir())
	s.RecordTechnology(classify.CategoryCLITool, "Go")

	p := s.Get()
	p.Stats(classify.CategoryCLITool).SeenTechnologies[0] = "mutated"
	p.QualityFocusAreas = append(p.QualityFocusAreas, "x")

	fresh := s.Get()
	if fresh.Stats(classify.CategoryCLITool).SeenTechnologies[0] != "Go" {
		t.Error("Get must return a deep copy")
	}
}

func TestTotalProjects(t *testing.T) {
	s := Open(t.TempDir())
	s.RecordCompletion(classify.CategoryWebApp, 10)
	s.RecordCompletion(classify.CategoryWebApp, 20)
	s.RecordCompletion(classify.CategoryCLITool, 30)

	if got := s.Get().TotalProjects(); got != 3 {
		t.Errorf("TotalProjects = %d, want 3", got)
	}
}

package allocator

import (
	"math"
	"testing"
	"time"

	"github.com/devflowhq/devflow/internal/classify"
	"github.com/devflowhq/devflow/internal/profile"
)

// noon is outside every time-of-day nudge window.
var noon = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func emptyProfile() profile.Profile {
	return profile.Profile{
		CategoryStats:        map[classify.Category]*profile.CategoryStats{},
		LearnedOptimizations: map[classify.Category]profile.Optimization{},
	}
}

func TestCompute_BaseTable(t *testing.T) {
	cfg := Compute(classify.CategoryWebApp, classify.ComplexityMedium, emptyProfile(), noon)

	if got := cfg.TotalMinutes(); got != 95 {
		t.Errorf("base total = %d minutes, want 95", got)
	}
	if cfg.StepDurations[StepImplementation] != 30 {
		t.Errorf("implementation duration = %d, want 30", cfg.StepDurations[StepImplementation])
	}
	if math.Abs(cfg.WeightSum()-1.0) > 1e-9 {
		t.Errorf("base weights sum = %v, want 1.0", cfg.WeightSum())
	}
	if cfg.PersonalizationLevel != 0 {
		t.Errorf("empty profile personalization = %v, want 0", cfg.PersonalizationLevel)
	}
}

func TestCompute_HistoryRescalesProportionally(t *testing.T) {
	p := emptyProfile()
	p.CategoryStats[classify.CategoryWebApp] = &profile.CategoryStats{
		Frequency:          3,
		AvgDurationMinutes: 190, // exactly 2x the 95-minute base
	}

	cfg := Compute(classify.CategoryWebApp, classify.ComplexityMedium, p, noon)

	want := map[StepKey]int{
		StepRequirement:    50,
		StepDesign:         30,
		StepImplementation: 60,
		StepTesting:        50,
	}
	for key, minutes := range want {
		if cfg.StepDurations[key] != minutes {
			t.Errorf("%s duration = %d, want %d", key, cfg.StepDurations[key], minutes)
		}
	}
}

func TestCompute_HistoryOtherCategoryIgnored(t *testing.T) {
	p := emptyProfile()
	p.CategoryStats[classify.CategoryCLITool] = &profile.CategoryStats{Frequency: 5, AvgDurationMinutes: 400}

	cfg := Compute(classify.CategoryWebApp, classify.ComplexityMedium, p, noon)
	if cfg.TotalMinutes() != 95 {
		t.Errorf("history for another category must not rescale: total = %d", cfg.TotalMinutes())
	}
}

func TestCompute_LearnedWeightsOverride(t *testing.T) {
	p := emptyProfile()
	p.LearnedOptimizations[classify.CategoryAPIService] = profile.Optimization{
		StageWeights: map[string]float64{string(StepTesting): 0.5},
	}

	cfg := Compute(classify.CategoryAPIService, classify.ComplexityMedium, p, noon)

	// Override replaces testing's 0.25 with 0.5 before normalization:
	// weights become {0.25, 0.15, 0.35, 0.5} → testing normalizes to 0.4.
	if math.Abs(cfg.StepWeights[StepTesting]-0.4) > 1e-9 {
		t.Errorf("testing weight = %v, want 0.4", cfg.StepWeights[StepTesting])
	}
	if math.Abs(cfg.WeightSum()-1.0) > 1e-9 {
		t.Errorf("weights sum = %v, want 1.0", cfg.WeightSum())
	}
}

func TestCompute_PainPointNudges(t *testing.T) {
	p := emptyProfile()
	p.WorkPatterns.CommonPainPoints = []string{"requirement churn"}

	cfg := Compute(classify.CategoryWebApp, classify.ComplexityMedium, p, noon)

	// Requirement duration gets ×1.3: 25 → 32.
	if cfg.StepDurations[StepRequirement] != 32 {
		t.Errorf("requirement duration = %d, want 32", cfg.StepDurations[StepRequirement])
	}
	// Its weight was nudged ×1.1; after renormalization it must exceed the
	// untouched implementation-relative baseline.
	base := Compute(classify.CategoryWebApp, classify.ComplexityMedium, emptyProfile(), noon)
	if cfg.StepWeights[StepRequirement] <= base.StepWeights[StepRequirement] {
		t.Errorf("requirement weight should grow: %v vs base %v",
			cfg.StepWeights[StepRequirement], base.StepWeights[StepRequirement])
	}
}

func TestCompute_TimeOfDayNudge(t *testing.T) {
	p := emptyProfile()
	p.WorkPatterns.PreferredWorkSessions = "morning"

	morning := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	cfg := Compute(classify.CategoryWebApp, classify.ComplexityMedium, p, morning)
	base := Compute(classify.CategoryWebApp, classify.ComplexityMedium, emptyProfile(), morning)

	if cfg.StepWeights[StepRequirement] <= base.StepWeights[StepRequirement] {
		t.Error("morning session at 10:00 should boost the requirement weight")
	}

	// Same profile outside the window: no nudge.
	cfgNoon := Compute(classify.CategoryWebApp, classify.ComplexityMedium, p, noon)
	if math.Abs(cfgNoon.StepWeights[StepRequirement]-base.StepWeights[StepRequirement]) > 1e-9 {
		t.Error("no nudge expected outside the preferred window")
	}
}

// Weight conservation: whatever combination of nudges fires, the normalized
// weights always sum to 1.
func TestCompute_WeightConservation(t *testing.T) {
	p := emptyProfile()
	p.WorkPatterns.PreferredWorkSessions = "morning,evening"
	p.WorkPatterns.CommonPainPoints = []string{"需求不清晰", "测试覆盖不足", "架构设计返工"}
	p.CategoryStats[classify.CategoryMobileApp] = &profile.CategoryStats{Frequency: 7, AvgDurationMinutes: 300}
	p.LearnedOptimizations[classify.CategoryMobileApp] = profile.Optimization{
		StageWeights: map[string]float64{string(StepImplementation): 0.6},
	}

	for hour := 0; hour < 24; hour++ {
		now := time.Date(2025, 3, 1, hour, 30, 0, 0, time.UTC)
		cfg := Compute(classify.CategoryMobileApp, classify.ComplexityComplex, p, now)
		if math.Abs(cfg.WeightSum()-1.0) > 1e-9 {
			t.Fatalf("hour %d: weights sum = %v, want 1.0", hour, cfg.WeightSum())
		}
	}
}

func TestPersonalizationLevel(t *testing.T) {
	p := emptyProfile()
	p.CategoryStats[classify.CategoryWebApp] = &profile.CategoryStats{Frequency: 5}
	p.LearnedOptimizations[classify.CategoryWebApp] = profile.Optimization{Note: "x"}
	p.QualityFocusAreas = []string{"security", "performance", "docs"}

	cfg := Compute(classify.CategoryWebApp, classify.ComplexityMedium, p, noon)

	// factors: 5/10=0.5, 1/5=0.2, 3/3=1.0 → mean ≈ 0.5667
	want := (0.5 + 0.2 + 1.0) / 3
	if math.Abs(cfg.PersonalizationLevel-want) > 1e-9 {
		t.Errorf("personalization = %v, want %v", cfg.PersonalizationLevel, want)
	}
}

func TestPersonalizationLevel_Saturates(t *testing.T) {
	p := emptyProfile()
	p.CategoryStats[classify.CategoryWebApp] = &profile.CategoryStats{Frequency: 100}

	cfg := Compute(classify.CategoryWebApp, classify.ComplexityMedium, p, noon)
	if cfg.PersonalizationLevel != 1.0 {
		t.Errorf("personalization = %v, want saturation at 1.0", cfg.PersonalizationLevel)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Compute(classify.CategoryWebApp, classify.ComplexityMedium, emptyProfile(), noon)
	WriteCache(dir, cfg)

	loaded, ok := ReadCache(dir)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if loaded.TotalMinutes() != cfg.TotalMinutes() {
		t.Errorf("cache round trip changed totals: %d vs %d", loaded.TotalMinutes(), cfg.TotalMinutes())
	}
}

func TestReadCache_Missing(t *testing.T) {
	if _, ok := ReadCache(t.TempDir()); ok {
		t.Error("expected cache miss on empty dir")
	}
}

// Package allocator derives per-step time and weight allocations from the
// developer profile and a few heuristic rules. The computation is pure
// arithmetic over a snapshot of the profile; a missing profile entry always
// degrades to the base table.
package allocator

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devflowhq/devflow/internal/classify"
	"github.com/devflowhq/devflow/internal/profile"
)

// StepKey identifies one planning step of the workflow. The design step is an
// allocator-internal refinement of the requirement phase; the session state
// machine itself stays four stages.
type StepKey string

const (
	StepRequirement    StepKey = "requirement_analysis"
	StepDesign         StepKey = "technical_design"
	StepImplementation StepKey = "core_implementation"
	StepTesting        StepKey = "testing_validation"
)

// StepOrder is the planning order of the steps.
var StepOrder = []StepKey{StepRequirement, StepDesign, StepImplementation, StepTesting}

// baseStep holds the fixed starting allocation for one step.
type baseStep struct {
	minutes int
	weight  float64
}

// baseTable sums to 95 minutes; weights sum to 1.0 by construction.
var baseTable = map[StepKey]baseStep{
	StepRequirement:    {25, 0.25},
	StepDesign:         {15, 0.15},
	StepImplementation: {30, 0.35},
	StepTesting:        {25, 0.25},
}

// Config is the adaptive allocation for one category-in-progress. Weights are
// renormalized to sum 1.0 after all heuristic nudges, so they can be read as
// progress fractions.
type Config struct {
	StepDurations        map[StepKey]int     `json:"step_durations"`
	StepWeights          map[StepKey]float64 `json:"step_weights"`
	QualityFocusAreas    []string            `json:"quality_focus_areas"`
	PreferredApproaches  map[string]string   `json:"preferred_approaches"`
	RiskFactors          []string            `json:"risk_factors"`
	PersonalizationLevel float64             `json:"personalization_level"`
}

// Compute builds the allocation for a category/complexity pair from the
// profile snapshot. now feeds the time-of-day heuristic.
func Compute(category classify.Category, complexity classify.Complexity, p profile.Profile, now time.Time) Config {
	cfg := baseConfig()

	adjustFromHistory(&cfg, category, p)
	adjustFromPreferences(&cfg, p, now)
	normalizeWeights(&cfg)

	cfg.QualityFocusAreas = append([]string(nil), p.QualityFocusAreas...)
	cfg.RiskFactors = append([]string(nil), p.WorkPatterns.CommonPainPoints...)
	if opt, ok := p.LearnedOptimizations[category]; ok && opt.Note != "" {
		cfg.PreferredApproaches[string(category)] = opt.Note
	}
	cfg.PersonalizationLevel = personalizationLevel(p)

	return cfg
}

func baseConfig() Config {
	cfg := Config{
		StepDurations:       make(map[StepKey]int, len(baseTable)),
		StepWeights:         make(map[StepKey]float64, len(baseTable)),
		PreferredApproaches: make(map[string]string),
	}
	for key, step := range baseTable {
		cfg.StepDurations[key] = step.minutes
		cfg.StepWeights[key] = step.weight
	}
	return cfg
}

// adjustFromHistory rescales all step durations uniformly toward the
// category's observed average, preserving relative proportions, and applies
// any learned stage-weight override as a direct replacement.
func adjustFromHistory(cfg *Config, category classify.Category, p profile.Profile) {
	stats := p.Stats(category)
	if stats != nil && stats.Frequency > 0 && stats.AvgDurationMinutes > 0 {
		total := 0
		for _, d := range cfg.StepDurations {
			total += d
		}
		if total > 0 {
			factor := stats.AvgDurationMinutes / float64(total)
			for key := range cfg.StepDurations {
				cfg.StepDurations[key] = int(float64(cfg.StepDurations[key]) * factor)
			}
		}
	}

	if opt, ok := p.LearnedOptimizations[category]; ok {
		for key, w := range opt.StageWeights {
			cfg.StepWeights[StepKey(key)] = w
		}
	}
}

func adjustFromPreferences(cfg *Config, p profile.Profile, now time.Time) {
	if sessions := p.WorkPatterns.PreferredWorkSessions; sessions != "" {
		adjustForWorkSession(cfg, sessions, now.Hour())
	}
	for _, point := range p.WorkPatterns.CommonPainPoints {
		adjustForPainPoint(cfg, point)
	}
}

// adjustForWorkSession nudges step weights when the current hour falls inside
// one of the user's preferred sessions: mornings favor analysis and design,
// afternoons implementation, evenings testing.
func adjustForWorkSession(cfg *Config, preferred string, hour int) {
	switch {
	case strings.Contains(preferred, "morning") && hour >= 9 && hour <= 11:
		cfg.StepWeights[StepRequirement] *= 1.2
		cfg.StepWeights[StepDesign] *= 1.1
	case strings.Contains(preferred, "afternoon") && hour >= 14 && hour <= 16:
		cfg.StepWeights[StepImplementation] *= 1.2
	case strings.Contains(preferred, "evening") && hour >= 19 && hour <= 21:
		cfg.StepWeights[StepTesting] *= 1.2
	}
}

// adjustForPainPoint strengthens the step a recorded pain point maps to:
// more time (×1.3) and more weight (×1.1).
func adjustForPainPoint(cfg *Config, point string) {
	lower := strings.ToLower(point)
	switch {
	case strings.Contains(lower, "需求") || strings.Contains(lower, "requirement"):
		bumpStep(cfg, StepRequirement)
	case strings.Contains(lower, "测试") || strings.Contains(lower, "质量") ||
		strings.Contains(lower, "test") || strings.Contains(lower, "quality"):
		bumpStep(cfg, StepTesting)
	case strings.Contains(lower, "架构") || strings.Contains(lower, "设计") ||
		strings.Contains(lower, "architecture") || strings.Contains(lower, "design"):
		bumpStep(cfg, StepDesign)
	}
}

func bumpStep(cfg *Config, key StepKey) {
	cfg.StepDurations[key] = int(float64(cfg.StepDurations[key]) * 1.3)
	cfg.StepWeights[key] *= 1.1
}

// normalizeWeights restores the sum-to-one invariant after multiplicative
// nudges. The nudges act as relative priority multipliers; renormalizing
// keeps the weights usable as progress fractions.
func normalizeWeights(cfg *Config) {
	total := 0.0
	for _, w := range cfg.StepWeights {
		total += w
	}
	if total <= 0 {
		return
	}
	for key := range cfg.StepWeights {
		cfg.StepWeights[key] /= total
	}
}

// personalizationLevel scores how much history backs this allocation, in
// [0,1]: the mean of three saturating factors — completed projects (full at
// 10), learned optimizations (full at 5), and quality focus areas (full at 3).
func personalizationLevel(p profile.Profile) float64 {
	var factors []float64

	if total := p.TotalProjects(); total > 0 {
		factors = append(factors, saturate(float64(total)/10))
	}
	if n := len(p.LearnedOptimizations); n > 0 {
		factors = append(factors, saturate(float64(n)/5))
	}
	if n := len(p.QualityFocusAreas); n > 0 {
		factors = append(factors, saturate(float64(n)/3))
	}

	if len(factors) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range factors {
		sum += f
	}
	return sum / float64(len(factors))
}

func saturate(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// TotalMinutes sums the step durations.
func (c Config) TotalMinutes() int {
	total := 0
	for _, d := range c.StepDurations {
		total += d
	}
	return total
}

// WeightSum is the current step-weight total (≈1.0 after Compute).
func (c Config) WeightSum() float64 {
	sum := 0.0
	for _, w := range c.StepWeights {
		sum += w
	}
	return sum
}

const cacheFileName = "adaptive_config.json"

// WriteCache persists the config document to dataDir. Best effort: failures
// are logged, not returned, since the cache carries no invariant-bearing
// state.
func WriteCache(dataDir string, cfg Config) {
	path := filepath.Join(dataDir, cacheFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		slog.Warn("could not serialize adaptive config", "error", err)
		return
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Warn("could not create data dir for adaptive config", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("could not write adaptive config cache", "path", path, "error", err)
	}
}

// ReadCache loads the cached config document. Missing or corrupt cache
// returns ok=false.
func ReadCache(dataDir string) (Config, bool) {
	data, err := os.ReadFile(filepath.Join(dataDir, cacheFileName))
	if err != nil {
		return Config{}, false
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Warn("corrupt adaptive config cache, ignoring", "error", err)
		return Config{}, false
	}
	return cfg, true
}

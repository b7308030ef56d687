package profile

import (
	"time"

	"github.com/devflowhq/devflow/internal/classify"
)

// Profile is the long-lived record of a developer's project history and
// preferences. It is advisory data: every consumer must tolerate an empty
// profile.
type Profile struct {
	CategoryStats        map[classify.Category]*CategoryStats `json:"category_stats"`
	WorkPatterns         WorkPatterns                         `json:"work_patterns"`
	LearnedOptimizations map[classify.Category]Optimization   `json:"learned_optimizations"`
	QualityFocusAreas    []string                             `json:"quality_focus_areas"`
}

// CategoryStats accumulates per-category completion statistics.
// Frequency only ever increases; AvgDurationMinutes is updated exclusively
// through the EMA rule on session completion.
type CategoryStats struct {
	Frequency          int      `json:"frequency"`
	AvgDurationMinutes float64  `json:"avg_duration_minutes"`
	SeenTechnologies   []string `json:"seen_technologies"`
}

// WorkPatterns collects observed behavioral signals. Written by the user
// (directly or via the API surface), read by the adaptive allocator.
type WorkPatterns struct {
	PreferredWorkSessions string              `json:"preferred_work_sessions,omitempty"`
	CommonPainPoints      []string            `json:"common_pain_points,omitempty"`
	SatisfactionScores    []SatisfactionEntry `json:"satisfaction_scores,omitempty"`
}

// SatisfactionEntry records one post-completion satisfaction score.
type SatisfactionEntry struct {
	Timestamp  time.Time           `json:"timestamp"`
	Category   classify.Category   `json:"category"`
	Complexity classify.Complexity `json:"complexity"`
	Score      int                 `json:"score"`
}

// Optimization is a per-category tuning record maintained by the user, not
// derived algorithmically. StageWeights, when present, replaces the
// allocator's computed weights for that category outright.
type Optimization struct {
	Note         string             `json:"note,omitempty"`
	StageWeights map[string]float64 `json:"stage_weights,omitempty"`
}

// New returns an empty profile with all maps allocated.
func New() *Profile {
	return &Profile{
		CategoryStats:        make(map[classify.Category]*CategoryStats),
		LearnedOptimizations: make(map[classify.Category]Optimization),
	}
}

// normalize allocates any nil maps on a profile deserialized from disk.
func (p *Profile) normalize() {
	if p.CategoryStats == nil {
		p.CategoryStats = make(map[classify.Category]*CategoryStats)
	}
	if p.LearnedOptimizations == nil {
		p.LearnedOptimizations = make(map[classify.Category]Optimization)
	}
}

// Stats returns the stats for a category, or nil when the category has no
// recorded history.
func (p Profile) Stats(category classify.Category) *CategoryStats {
	return p.CategoryStats[category]
}

// TotalProjects is the sum of per-category completion counts.
func (p Profile) TotalProjects() int {
	total := 0
	for _, s := range p.CategoryStats {
		total += s.Frequency
	}
	return total
}

func deepCopy(p *Profile) Profile {
	cp := Profile{
		WorkPatterns:      p.WorkPatterns,
		QualityFocusAreas: append([]string(nil), p.QualityFocusAreas...),
	}

	cp.CategoryStats = make(map[classify.Category]*CategoryStats, len(p.CategoryStats))
	for cat, s := range p.CategoryStats {
		stats := *s
		stats.SeenTechnologies = append([]string(nil), s.SeenTechnologies...)
		cp.CategoryStats[cat] = &stats
	}

	cp.LearnedOptimizations = make(map[classify.Category]Optimization, len(p.LearnedOptimizations))
	for cat, opt := range p.LearnedOptimizations {
		var weights map[string]float64
		if opt.StageWeights != nil {
			weights = make(map[string]float64, len(opt.StageWeights))
			for k, v := range opt.StageWeights {
				weights[k] = v
			}
		}
		cp.LearnedOptimizations[cat] = Optimization{Note: opt.Note, StageWeights: weights}
	}

	cp.WorkPatterns.CommonPainPoints = append([]string(nil), p.WorkPatterns.CommonPainPoints...)
	cp.WorkPatterns.SatisfactionScores = append([]SatisfactionEntry(nil), p.WorkPatterns.SatisfactionScores...)

	return cp
}

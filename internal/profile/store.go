package profile

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/devflowhq/devflow/internal/classify"
)

const profileFileName = "developer_profile.json"

// EMA smoothing factors for the rolling average duration:
// new = old*emaOld + observed*emaNew.
const (
	emaOld = 0.7
	emaNew = 0.3
)

// Store owns the persisted developer profile. It is the single writer of
// category stats; other components only read snapshots. Persistence is
// best-effort: an I/O failure is logged and swallowed so a flaky disk never
// terminates a workflow mid-session.
type Store struct {
	path    string
	profile *Profile
}

// Open loads the profile document from dataDir. A missing or corrupt file is
// treated as "no history" and yields an empty default profile; load never
// propagates a failure.
func Open(dataDir string) *Store {
	s := &Store{path: filepath.Join(dataDir, profileFileName)}
	s.profile = s.load()
	return s
}

func (s *Store) load() *Profile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read profile, starting empty", "path", s.path, "error", err)
		}
		return New()
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("corrupt profile document, starting empty", "path", s.path, "error", err)
		return New()
	}
	p.normalize()
	return &p
}

// Get returns a deep copy of the current profile.
func (s *Store) Get() Profile {
	return deepCopy(s.profile)
}

// Save serializes the full profile. Returns false on any I/O failure; the
// failure is logged but never raised to mid-session callers.
func (s *Store) Save() bool {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		slog.Warn("could not create profile directory", "error", err)
		return false
	}
	data, err := json.MarshalIndent(s.profile, "", "  ")
	if err != nil {
		slog.Warn("could not serialize profile", "error", err)
		return false
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		slog.Warn("could not write profile", "path", s.path, "error", err)
		return false
	}
	return true
}

// RecordCompletion increments the category's frequency and folds the observed
// duration into the rolling average via the EMA rule. This is the sole
// feedback path that lets predictions learn.
func (s *Store) RecordCompletion(category classify.Category, durationMinutes float64) {
	stats := s.ensureStats(category)
	stats.Frequency++

	if stats.AvgDurationMinutes == 0 {
		stats.AvgDurationMinutes = durationMinutes
	} else {
		stats.AvgDurationMinutes = stats.AvgDurationMinutes*emaOld + durationMinutes*emaNew
	}

	s.Save()
}

// RecordTechnology adds a technology to the category's seen set. Duplicates
// are ignored.
func (s *Store) RecordTechnology(category classify.Category, tech string) {
	if tech == "" {
		return
	}
	stats := s.ensureStats(category)
	if slices.Contains(stats.SeenTechnologies, tech) {
		return
	}
	stats.SeenTechnologies = append(stats.SeenTechnologies, tech)
	s.Save()
}

// RecordSatisfaction appends a post-completion satisfaction score to the work
// patterns log.
func (s *Store) RecordSatisfaction(category classify.Category, complexity classify.Complexity, score int, at time.Time) {
	s.profile.WorkPatterns.SatisfactionScores = append(s.profile.WorkPatterns.SatisfactionScores, SatisfactionEntry{
		Timestamp:  at,
		Category:   category,
		Complexity: complexity,
		Score:      score,
	})
	s.Save()
}

// SetQualityFocus replaces the quality focus area tags.
func (s *Store) SetQualityFocus(areas []string) {
	s.profile.QualityFocusAreas = append([]string(nil), areas...)
	s.Save()
}

// SetPreferredWorkSessions records the user's preferred time-of-day label
// (e.g. "morning", "afternoon,evening").
func (s *Store) SetPreferredWorkSessions(sessions string) {
	s.profile.WorkPatterns.PreferredWorkSessions = sessions
	s.Save()
}

// AddPainPoint appends a pain-point tag, ignoring duplicates.
func (s *Store) AddPainPoint(point string) {
	if point == "" || slices.Contains(s.profile.WorkPatterns.CommonPainPoints, point) {
		return
	}
	s.profile.WorkPatterns.CommonPainPoints = append(s.profile.WorkPatterns.CommonPainPoints, point)
	s.Save()
}

// SetOptimization stores a per-category tuning record.
func (s *Store) SetOptimization(category classify.Category, opt Optimization) {
	s.profile.LearnedOptimizations[category] = opt
	s.Save()
}

// Replace swaps in a whole profile document (used by `profile restore`).
func (s *Store) Replace(p Profile) bool {
	cp := deepCopy(&p)
	cp.normalize()
	s.profile = &cp
	return s.Save()
}

func (s *Store) ensureStats(category classify.Category) *CategoryStats {
	stats, ok := s.profile.CategoryStats[category]
	if !ok {
		stats = &CategoryStats{}
		s.profile.CategoryStats[category] = stats
	}
	return stats
}

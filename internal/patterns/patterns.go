// Package patterns keeps the append-only log of workflow configurations that
// ended in a satisfied completion. The log is a capped JSON array document;
// only the most recent entries survive, and a corrupt document is treated as
// an empty log.
package patterns

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/devflowhq/devflow/internal/classify"
)

const (
	logFileName = "success_patterns.json"

	// maxEntries caps the log; the oldest entry is evicted on append.
	maxEntries = 20

	// recentWindow bounds how many matching entries feed recommendations.
	recentWindow = 5
)

// Entry is one recorded success pattern.
type Entry struct {
	ProjectType  classify.Category   `json:"project_type"`
	Complexity   classify.Complexity `json:"complexity"`
	StepWeights  map[string]float64  `json:"step_weights"`
	QualityFocus []string            `json:"quality_focus"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Log is the persisted success-pattern document.
type Log struct {
	path string
}

// NewLog returns a log backed by success_patterns.json in dataDir.
func NewLog(dataDir string) *Log {
	return &Log{path: filepath.Join(dataDir, logFileName)}
}

// Entries loads the current log. Missing or corrupt documents yield an empty
// slice, never an error.
func (l *Log) Entries() []Entry {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("corrupt success-pattern log, starting empty", "path", l.path, "error", err)
		return nil
	}
	return entries
}

// Append adds an entry, evicting the oldest past the cap.
func (l *Log) Append(e Entry) error {
	entries := append(l.Entries(), e)
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o644)
}

// CommonQualityFocus returns the most frequent quality-focus tag among the
// last few entries matching the category, or "" when there is no signal.
func (l *Log) CommonQualityFocus(category classify.Category) string {
	var matching []Entry
	for _, e := range l.Entries() {
		if e.ProjectType == category {
			matching = append(matching, e)
		}
	}
	if len(matching) > recentWindow {
		matching = matching[len(matching)-recentWindow:]
	}

	counts := make(map[string]int)
	for _, e := range matching {
		for _, focus := range e.QualityFocus {
			counts[focus]++
		}
	}

	best := ""
	bestCount := 0
	for focus, n := range counts {
		if n > bestCount || (n == bestCount && focus < best) {
			best = focus
			bestCount = n
		}
	}
	return best
}

package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session lifecycle statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// SessionRecord is the persisted form of a workflow session. Slice-valued
// fields are stored as JSON text columns.
type SessionRecord struct {
	ID               string
	Description      string
	Category         string
	Complexity       string
	PredictedMinutes int
	ActualMinutes    float64
	Stage            string
	Status           string
	TechStack        string // JSON array stored as text
	RiskNotes        string // JSON array stored as text
	StageNotes       string // JSON array stored as text
	StartedAt        time.Time
	LastActivityAt   time.Time
}

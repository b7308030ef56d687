// Package api exposes the workflow tracker over HTTP (chi router) and MCP.
// Both surfaces are thin translations over the orchestrator and profile
// store; no workflow logic lives here.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/devflowhq/devflow/internal/classify"
	"github.com/devflowhq/devflow/internal/orchestrator"
	"github.com/devflowhq/devflow/internal/profile"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds dependencies for the HTTP surface.
type AppDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Profile      *profile.Store
}

// NewAppHandler builds the HTTP router.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/session", handleGetSession(deps))
	r.Post("/session", handleStartSession(deps))
	r.Post("/session/advance", handleAdvanceSession(deps))
	r.Post("/session/abandon", handleAbandonSession(deps))
	r.Get("/profile", handleGetProfile(deps))
	r.Patch("/profile", handlePatchProfile(deps))
	r.Get("/history", handleHistory(deps))
	r.Get("/categories", handleCategories(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Orchestrator.Status(r.Context())
		if errors.Is(err, orchestrator.ErrNoActiveSession) {
			httpError(w, http.StatusNotFound, "not_found", "no active session")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

type startSessionRequest struct {
	Description string `json:"description"`
}

func handleStartSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req startSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Description == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "description is required")
			return
		}

		sess, alloc, err := deps.Orchestrator.Start(r.Context(), req.Description)
		if errors.Is(err, orchestrator.ErrSessionActive) {
			httpError(w, http.StatusConflict, "conflict", "a session is already active")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":                sess.ID,
			"category":          sess.Category,
			"complexity":        sess.Complexity,
			"stage":             sess.Stage,
			"predicted_minutes": sess.PredictedDurationMinutes,
			"tech_stack":        sess.TechStack,
			"risk_notes":        sess.RiskNotes,
			"allocation":        alloc,
		})
	}
}

func handleAdvanceSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, advanced, err := deps.Orchestrator.Advance(r.Context())
		if errors.Is(err, orchestrator.ErrNoActiveSession) {
			httpError(w, http.StatusNotFound, "not_found", "no active session")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to advance session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          sess.ID,
			"stage":       sess.Stage,
			"advanced":    advanced,
			"completed":   sess.Completed(),
			"stage_notes": sess.NotesFor(sess.Stage),
		})
	}
}

func handleAbandonSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Orchestrator.Abandon(r.Context())
		if errors.Is(err, orchestrator.ErrNoActiveSession) {
			httpError(w, http.StatusNotFound, "not_found", "no active session")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to abandon session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": sess.ID, "status": "abandoned"})
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Profile.Get())
	}
}

type patchProfileRequest struct {
	QualityFocusAreas     []string           `json:"quality_focus_areas,omitempty"`
	PreferredWorkSessions string             `json:"preferred_work_sessions,omitempty"`
	PainPoint             string             `json:"pain_point,omitempty"`
	Optimization          *optimizationPatch `json:"optimization,omitempty"`
}

type optimizationPatch struct {
	Category     string             `json:"category"`
	Note         string             `json:"note,omitempty"`
	StageWeights map[string]float64 `json:"stage_weights,omitempty"`
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req patchProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.QualityFocusAreas != nil {
			deps.Profile.SetQualityFocus(req.QualityFocusAreas)
		}
		if req.PreferredWorkSessions != "" {
			deps.Profile.SetPreferredWorkSessions(req.PreferredWorkSessions)
		}
		if req.PainPoint != "" {
			deps.Profile.AddPainPoint(req.PainPoint)
		}
		if req.Optimization != nil {
			cat := classify.Category(req.Optimization.Category)
			if !classify.Valid(cat) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown category %q", req.Optimization.Category)
				return
			}
			deps.Profile.SetOptimization(cat, profile.Optimization{
				Note:         req.Optimization.Note,
				StageWeights: req.Optimization.StageWeights,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)

		records, err := deps.Orchestrator.History(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}

		type historyEntry struct {
			ID               string  `json:"id"`
			Description      string  `json:"description"`
			Category         string  `json:"category"`
			Complexity       string  `json:"complexity"`
			Stage            string  `json:"stage"`
			Status           string  `json:"status"`
			PredictedMinutes int     `json:"predicted_minutes"`
			ActualMinutes    float64 `json:"actual_minutes"`
			StartedAt        string  `json:"started_at"`
		}

		entries := make([]historyEntry, len(records))
		for i, rec := range records {
			entries[i] = historyEntry{
				ID:               rec.ID,
				Description:      rec.Description,
				Category:         rec.Category,
				Complexity:       rec.Complexity,
				Stage:            rec.Stage,
				Status:           rec.Status,
				PredictedMinutes: rec.PredictedMinutes,
				ActualMinutes:    rec.ActualMinutes,
				StartedAt:        rec.StartedAt.Format("2006-01-02 15:04"),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

func handleCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Orchestrator.CategoryCounts(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count categories: %v", err)
			return
		}

		// Zero counts are included so clients see the full category set.
		out := make(map[string]int, len(classify.Categories()))
		for _, c := range classify.Categories() {
			out[string(c)] = counts[string(c)]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

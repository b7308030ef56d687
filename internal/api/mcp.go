package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/devflowhq/devflow/internal/orchestrator"
	"github.com/devflowhq/devflow/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Profile      *profile.Store
}

// NewMCPServer creates an MCP server with all devflow tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"devflow",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("devflow — personalized workflow tracker that classifies projects, plans stage time from your history, and learns from completed sessions."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("start_workflow",
			mcp.WithDescription("Classify a project description and start a tracked workflow session with a personalized time prediction."),
			mcp.WithString("description", mcp.Description("What you are about to build"), mcp.Required()),
		),
		mcpStartWorkflow(deps),
	)

	s.AddTool(
		mcp.NewTool("advance_stage",
			mcp.WithDescription("Run the current stage's agents and move the active session to the next workflow stage when they succeed."),
		),
		mcpAdvanceStage(deps),
	)

	s.AddTool(
		mcp.NewTool("workflow_status",
			mcp.WithDescription("Report the active session: stage, elapsed time, prediction and weighted progress."),
		),
		mcpWorkflowStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("abandon_workflow",
			mcp.WithDescription("Abandon the active session without feeding it into the learned profile."),
		),
		mcpAbandonWorkflow(deps),
	)

	s.AddTool(
		mcp.NewTool("record_focus",
			mcp.WithDescription("Update profile preferences: quality focus areas, preferred work sessions, or a recurring pain point."),
			mcp.WithArray("quality_focus", mcp.Description("Quality focus area tags, replacing the current set")),
			mcp.WithString("work_sessions", mcp.Description("Preferred time-of-day label, e.g. morning or afternoon,evening")),
			mcp.WithString("pain_point", mcp.Description("A recurring pain point to record")),
		),
		mcpRecordFocus(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"devflow://profile",
			"Developer Profile",
			mcp.WithResourceDescription("Learned developer profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"devflow://history",
			"Session History",
			mcp.WithResourceDescription("Last 10 workflow sessions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpStartWorkflow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		sess, alloc, err := deps.Orchestrator.Start(ctx, description)
		if errors.Is(err, orchestrator.ErrSessionActive) {
			return mcpError("a session is already active; advance or abandon it first"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start workflow: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"id":                sess.ID,
			"category":          sess.Category,
			"complexity":        sess.Complexity,
			"stage":             sess.Stage,
			"predicted_minutes": sess.PredictedDurationMinutes,
			"tech_stack":        sess.TechStack,
			"risk_notes":        sess.RiskNotes,
			"allocation":        alloc,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAdvanceStage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, advanced, err := deps.Orchestrator.Advance(ctx)
		if errors.Is(err, orchestrator.ErrNoActiveSession) {
			return mcpError("no active session"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to advance: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"id":          sess.ID,
			"stage":       sess.Stage,
			"advanced":    advanced,
			"completed":   sess.Completed(),
			"stage_notes": sess.StageNotes,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpWorkflowStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := deps.Orchestrator.Status(ctx)
		if errors.Is(err, orchestrator.ErrNoActiveSession) {
			return mcpText(`{"active": false}`), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAbandonWorkflow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := deps.Orchestrator.Abandon(ctx)
		if errors.Is(err, orchestrator.ErrNoActiveSession) {
			return mcpError("no active session"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to abandon: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Abandoned session %s at stage %s", sess.ID, sess.Stage)), nil
	}
}

func mcpRecordFocus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		focus := req.GetStringSlice("quality_focus", nil)
		workSessions := req.GetString("work_sessions", "")
		painPoint := req.GetString("pain_point", "")

		if focus == nil && workSessions == "" && painPoint == "" {
			return mcpError("provide at least one of quality_focus, work_sessions or pain_point"), nil
		}

		if focus != nil {
			deps.Profile.SetQualityFocus(focus)
		}
		if workSessions != "" {
			deps.Profile.SetPreferredWorkSessions(workSessions)
		}
		if painPoint != "" {
			deps.Profile.AddPainPoint(painPoint)
		}

		return mcpText("Profile preferences updated"), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Profile.Get())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Orchestrator.History(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list history: %w", err)
		}

		type sessionSummary struct {
			ID               string  `json:"id"`
			Description      string  `json:"description"`
			Category         string  `json:"category"`
			Status           string  `json:"status"`
			PredictedMinutes int     `json:"predicted_minutes"`
			ActualMinutes    float64 `json:"actual_minutes"`
		}

		summaries := make([]sessionSummary, len(records))
		for i, rec := range records {
			summaries[i] = sessionSummary{
				ID:               rec.ID,
				Description:      rec.Description,
				Category:         rec.Category,
				Status:           rec.Status,
				PredictedMinutes: rec.PredictedMinutes,
				ActualMinutes:    rec.ActualMinutes,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

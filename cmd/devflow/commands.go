package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devflowhq/devflow/internal/agent"
	"github.com/devflowhq/devflow/internal/allocator"
	"github.com/devflowhq/devflow/internal/classify"
	"github.com/devflowhq/devflow/internal/config"
	"github.com/devflowhq/devflow/internal/orchestrator"
	"github.com/devflowhq/devflow/internal/patterns"
	"github.com/devflowhq/devflow/internal/profile"
	"github.com/devflowhq/devflow/internal/session"
	"github.com/devflowhq/devflow/internal/storage"
)

// app bundles the opened stores and orchestrator for one CLI invocation.
// Commands operate directly on local state; no server needs to be running.
type app struct {
	cfg      config.Config
	store    *storage.Store
	profiles *profile.Store
	orch     *orchestrator.Orchestrator
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	profiles := profile.Open(cfg.Storage.DataDir)
	log := patterns.NewLog(cfg.Storage.DataDir)

	var executor agent.Executor = agent.NopExecutor{}
	if cfg.Agent.BinPath != "" {
		executor = agent.NewCommandExecutor(cfg.Agent.BinPath, cfg.AgentTimeout())
	}

	orch := orchestrator.New(store, profiles, log, executor, cfg.Storage.DataDir, orchestrator.Config{
		SessionTTL:          cfg.SessionTTL(),
		DefaultSatisfaction: satisfactionScore,
	})

	return &app{cfg: cfg, store: store, profiles: profiles, orch: orch}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// --- start ---

var startCmd = &cobra.Command{
	Use:   "start <description>",
	Short: "Start a tracked workflow session",
	Long: `Start a tracked workflow session.

The description is classified into a project category and complexity, the
predicted duration comes from your completion history, and the stage plan is
personalized from your profile.

Examples:
  devflow start "build an e-commerce site with React"
  devflow start 开发一个电商网站`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description := strings.Join(args, " ")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		sess, alloc, err := a.orch.Start(cmd.Context(), description)
		if err != nil {
			return err
		}

		printSuccess("Started session %s", sess.ID[:8])
		printStatus("Category", "%s (%s)", sess.Category, sess.Complexity)
		printStatus("Predicted", "%d minutes", sess.PredictedDurationMinutes)
		printStatus("Tech stack", "%s", strings.Join(sess.TechStack, ", "))
		if len(sess.RiskNotes) > 0 {
			printStatus("Watch out", "%s", strings.Join(sess.RiskNotes, "; "))
		}

		printStep("Stage plan (%d min total, personalization %.0f%%)",
			alloc.TotalMinutes(), alloc.PersonalizationLevel*100)
		for _, key := range allocator.StepOrder {
			printStatus(string(key), "%d min (weight %.2f)",
				alloc.StepDurations[key], alloc.StepWeights[key])
		}
		return nil
	},
}

// --- advance ---

// satisfactionScore is recorded if this advance completes the session.
var satisfactionScore int

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Run the current stage's agents and move to the next stage",
	Long: `Run the current stage's agents and move to the next stage.

When the final stage completes the session, the --satisfaction score (1-5) is
recorded; scores of 4 or higher log the session's configuration as a success
pattern.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		before, err := a.orch.Status(cmd.Context())
		if err != nil {
			return err
		}
		printStep("Running stage %s...", before.Stage)

		sess, advanced, err := a.orch.Advance(cmd.Context())
		if err != nil {
			return err
		}

		if !advanced {
			printWarning("Stage %s is not done yet:", sess.Stage)
			for _, n := range sess.NotesFor(sess.Stage) {
				if !n.Success {
					printError("%s: %s", n.Agent, n.Error)
				}
			}
			return nil
		}

		if sess.Completed() {
			printSuccess("Session completed in %.0f minutes (predicted %d)",
				sess.ActualDuration().Minutes(), sess.PredictedDurationMinutes)
			return nil
		}

		printSuccess("Advanced to stage %s", sess.Stage)
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.orch.Status(cmd.Context())
		if err != nil {
			return err
		}

		printStatus("Session", "%s", report.ID[:8])
		printStatus("Project", "%s", report.Description)
		printStatus("Category", "%s (%s)", report.Category, report.Complexity)
		printStatus("Stage", "%s", report.Stage)
		printStatus("Progress", "%.0f%%", report.Progress*100)
		printStatus("Elapsed", "%.0f of %d predicted minutes",
			report.ElapsedMinutes, report.PredictedMinutes)

		if failures := countFailures(report.StageNotes); failures > 0 {
			printWarning("%d failed agent run(s) on record", failures)
		}
		return nil
	},
}

func countFailures(notes []session.Note) int {
	n := 0
	for _, note := range notes {
		if !note.Success {
			n++
		}
	}
	return n
}

// --- abandon ---

var abandonCmd = &cobra.Command{
	Use:   "abandon",
	Short: "Abandon the active session",
	Long:  "Abandon the active session. Abandoned sessions are kept in history but never feed the learned profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		sess, err := a.orch.Abandon(cmd.Context())
		if err != nil {
			return err
		}

		printSuccess("Abandoned session %s at stage %s", sess.ID[:8], sess.Stage)
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.orch.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No sessions yet.")
			return nil
		}

		for _, rec := range records {
			desc := rec.Description
			if len(desc) > 60 {
				desc = desc[:60] + "..."
			}
			fmt.Printf("%s  %s  %-10s %-9s  %s\n",
				colorize(colorCyan, rec.ID[:8]),
				rec.StartedAt.Format("2006-01-02 15:04"),
				rec.Category,
				rec.Status,
				desc,
			)
		}
		return nil
	},
}

// --- categories ---

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Show completed-session counts per project category",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		counts, err := a.orch.CategoryCounts(cmd.Context())
		if err != nil {
			return err
		}

		prof := a.profiles.Get()
		for _, cat := range classify.Categories() {
			avg := 0.0
			if stats := prof.Stats(cat); stats != nil {
				avg = stats.AvgDurationMinutes
			}
			printStatus(string(cat), "%d completed, avg %.0f min", counts[string(cat)], avg)
		}
		return nil
	},
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and edit the learned developer profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.profiles.Get())
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile preference",
	Long: `Set a profile preference.

Keys:
  work_sessions   preferred time-of-day label (morning, afternoon, evening)
  pain_point      add a recurring pain point
  quality_focus   comma-separated quality focus areas (replaces the set)`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		switch key {
		case "work_sessions":
			a.profiles.SetPreferredWorkSessions(value)
		case "pain_point":
			a.profiles.AddPainPoint(value)
		case "quality_focus":
			areas := strings.Split(value, ",")
			for i := range areas {
				areas[i] = strings.TrimSpace(areas[i])
			}
			a.profiles.SetQualityFocus(areas)
		default:
			return fmt.Errorf("unknown profile key %q (want work_sessions, pain_point or quality_focus)", key)
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var profileDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the profile JSON to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(a.profiles.Get()); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Profile written to %s", output)
		}
		return nil
	},
}

var profileRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the profile with a previously dumped JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading profile file: %w", err)
		}

		var p profile.Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("invalid profile JSON: %w", err)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if !a.profiles.Replace(p) {
			return fmt.Errorf("could not persist restored profile")
		}
		printSuccess("Profile restored from %s", args[0])
		return nil
	},
}

func init() {
	advanceCmd.Flags().IntVar(&satisfactionScore, "satisfaction", 5, "satisfaction score recorded on completion (1-5)")
	historyCmd.Flags().Int("limit", 10, "maximum number of sessions to list")
	profileDumpCmd.Flags().String("output", "", "output file path (default: stdout)")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileDumpCmd)
	profileCmd.AddCommand(profileRestoreCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

package main

import (
	"testing"
	"time"

	"github.com/devflowhq/devflow/internal/session"
	"github.com/devflowhq/devflow/internal/storage"
)

func TestColorize(t *testing.T) {
	noColor = false
	got := colorize(colorGreen, "ok")
	if got != colorGreen+"ok"+colorReset {
		t.Errorf("colorize = %q", got)
	}

	noColor = true
	defer func() { noColor = false }()
	if got := colorize(colorGreen, "ok"); got != "ok" {
		t.Errorf("colorize with --no-color = %q, want plain text", got)
	}
}

func TestCountFailures(t *testing.T) {
	notes := []session.Note{
		{Agent: "a", Success: true, At: time.Now()},
		{Agent: "b", Success: false, At: time.Now()},
		{Agent: "c", Success: false, At: time.Now()},
	}
	if n := countFailures(notes); n != 2 {
		t.Errorf("countFailures = %d, want 2", n)
	}
	if n := countFailures(nil); n != 0 {
		t.Errorf("countFailures(nil) = %d, want 0", n)
	}
}

// run executes the root command with args against isolated config and data
// directories.
func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func setupDirs(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DEVFLOW_STORAGE_DATA_DIR", dataDir)
	return dataDir
}

func TestWorkflowCommands_EndToEnd(t *testing.T) {
	dataDir := setupDirs(t)

	if err := run(t, "start", "build a web shop"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := run(t, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}

	// Starting again while a session is active must fail.
	if err := run(t, "start", "another project"); err == nil {
		t.Fatal("second start should be rejected")
	}

	for i := 0; i < 3; i++ {
		if err := run(t, "advance"); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}

	// No active session remains after completion.
	if err := run(t, "status"); err == nil {
		t.Fatal("status after completion should report no active session")
	}

	if err := run(t, "history"); err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := run(t, "categories"); err != nil {
		t.Fatalf("categories: %v", err)
	}

	store, err := storage.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	records, err := store.RecentSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != storage.StatusCompleted {
		t.Errorf("records = %+v, want one completed session", records)
	}
}

func TestAbandonCommand(t *testing.T) {
	setupDirs(t)

	if err := run(t, "abandon"); err == nil {
		t.Fatal("abandon with no session should fail")
	}

	if err := run(t, "start", "build a web shop"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, "abandon"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	// The slot is free again.
	if err := run(t, "start", "another project"); err != nil {
		t.Errorf("start after abandon: %v", err)
	}
}

func TestProfileCommands(t *testing.T) {
	setupDirs(t)

	if err := run(t, "profile", "set", "work_sessions", "morning"); err != nil {
		t.Fatalf("profile set: %v", err)
	}
	if err := run(t, "profile", "set", "quality_focus", "performance, security"); err != nil {
		t.Fatalf("profile set quality_focus: %v", err)
	}
	if err := run(t, "profile", "set", "bogus", "x"); err == nil {
		t.Fatal("unknown profile key should fail")
	}
	if err := run(t, "profile", "show"); err != nil {
		t.Fatalf("profile show: %v", err)
	}
}

func TestConfigCommands(t *testing.T) {
	setupDirs(t)

	if err := run(t, "config", "set", "log.level", "debug"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if err := run(t, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if err := run(t, "config", "set", "bogus.key", "x"); err == nil {
		t.Fatal("unknown config key should fail")
	}
}

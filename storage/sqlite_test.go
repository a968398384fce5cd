package storage

import (
	"path/filepath"
	"testing"
	"time"

	"carwatch/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := testStore(t)

	run := &models.CrawlRun{
		SourceTag: "avito",
		StartedAt: time.Now().Truncate(time.Second),
		Status:    models.RunStatusRunning,
	}
	id, err := store.CreateRun(run)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	run.ID = id

	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	run.ListingsSeen = 42
	run.MarkedRemoved = 3
	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	last, err := store.GetLastRunTime("avito")
	if err != nil {
		t.Fatalf("GetLastRunTime: %v", err)
	}
	if last.IsZero() {
		t.Fatal("expected a recorded run time")
	}

	if last, _ := store.GetLastRunTime("nope"); !last.IsZero() {
		t.Fatalf("unknown source should have zero run time, got %v", last)
	}
}

func TestCommandQueue(t *testing.T) {
	store := testStore(t)

	if err := store.EnqueueCommand(models.CmdCrawlSource, &models.CommandParams{Source: "avito"}); err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	if err := store.EnqueueCommand(models.CmdPause, nil); err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}

	pending, err := store.GetPendingCommands()
	if err != nil {
		t.Fatalf("GetPendingCommands: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending commands, got %d", len(pending))
	}

	params, err := store.ParseCommandParams(&pending[0])
	if err != nil {
		t.Fatalf("ParseCommandParams: %v", err)
	}
	if params.Source != "avito" {
		t.Fatalf("params.Source = %q", params.Source)
	}

	if err := store.MarkCommandProcessed(pending[0].ID); err != nil {
		t.Fatalf("MarkCommandProcessed: %v", err)
	}
	pending, _ = store.GetPendingCommands()
	if len(pending) != 1 || pending[0].Command != models.CmdPause {
		t.Fatalf("expected only the pause command pending, got %+v", pending)
	}
}

func TestLogWithoutRun(t *testing.T) {
	store := testStore(t)
	if err := store.Log(nil, models.LogLevelInfo, "status sweep: 5 checked", ""); err != nil {
		t.Fatalf("Log: %v", err)
	}
}

func TestSourceStatsUpsert(t *testing.T) {
	store := testStore(t)
	run := &models.CrawlRun{SourceTag: "avito", StartedAt: time.Now(), Status: models.RunStatusCompleted}

	if err := store.UpdateSourceStats("avito", run); err != nil {
		t.Fatalf("UpdateSourceStats: %v", err)
	}
	// second write for the same source must replace, not fail
	run.Status = models.RunStatusFailed
	if err := store.UpdateSourceStats("avito", run); err != nil {
		t.Fatalf("UpdateSourceStats upsert: %v", err)
	}
}

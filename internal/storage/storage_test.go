package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/justmebob123/autonomy-sub000/internal/events"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEmitAndListEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e1 := events.New(events.EventTaskStarted, "refactor_0001", "refactoring", "started")
	e2 := events.New(events.EventTaskCompleted, "refactor_0001", "refactoring", "done").
		WithData("resolution", "merged")
	e3 := events.New(events.EventPhaseStarted, "", "coding", "coding begins")

	for _, e := range []*events.Event{e1, e2, e3} {
		if err := store.Emit(e); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	got, err := store.ListEvents(ctx, EventFilter{TaskID: "refactor_0001"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events for task: %d", len(got))
	}

	got, err = store.ListEvents(ctx, EventFilter{Type: events.EventTaskCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Data["resolution"] != "merged" {
		t.Fatalf("completed events: %+v", got)
	}

	got, err = store.ListEvents(ctx, EventFilter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task := types.NewTask("refactor_0042", types.IssueDeadCode, types.PriorityMedium,
		"Remove orphan helpers", []string{"internal/x/helpers.go"})
	task.Start()
	task.Complete("removed 3 helpers")

	if err := store.ArchiveTask(ctx, task); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, err := store.GetArchivedTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != task.ID || got.Status != types.StatusCompleted ||
		got.Resolution != "removed 3 helpers" {
		t.Fatalf("archived task: %+v", got)
	}

	missing, err := store.GetArchivedTask(ctx, "refactor_9999")
	if err != nil || missing != nil {
		t.Fatalf("missing task: %v %v", missing, err)
	}

	counts, err := store.CountArchivedByStatus(ctx)
	if err != nil || counts[types.StatusCompleted] != 1 {
		t.Fatalf("counts: %v %v", counts, err)
	}
}

func TestExclusiveLock(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), ".autonomy")

	lockPath, err := AcquireExclusiveLock(stateDir, "test")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A second acquisition by a live process must fail.
	if _, err := AcquireExclusiveLock(stateDir, "test"); err == nil {
		t.Fatal("second acquire should fail while lock is held")
	}

	if err := ReleaseExclusiveLock(lockPath); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := AcquireExclusiveLock(stateDir, "test"); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

package reader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/liseuse/dbopen"
	"github.com/hazyhaar/liseuse/store"
)

func testService(t *testing.T, d *fakeDriver) (*Service, *store.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.NewStore(db)
	svc := NewService(st, Config{}, discardLogger())
	svc.factory = func() (Driver, error) { return d, nil }
	return svc, st
}

func seedQueuedBook(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := st.PutSetting(ctx, store.SettingIdentifier, "123456sp"); err != nil {
		t.Fatal(err)
	}
	if err := st.PutSetting(ctx, store.SettingSecret, "s3cret"); err != nil {
		t.Fatal(err)
	}
	err := st.AddQueueEntry(ctx, &store.QueueEntry{
		ID:            "q1",
		BookReference: "123-dom-casmurro",
		BookTitle:     "Dom Casmurro",
	})
	if err != nil {
		t.Fatal(err)
	}
}

// A scheduled launch reads credentials from settings, runs headless, and
// lands its outcome in the queue and history tables.
func TestLaunchQueuedRunsToCompletion(t *testing.T) {
	d := &fakeDriver{title: "Dom Casmurro"}
	svc, st := testService(t, d)
	seedQueuedBook(t, st)
	ctx := context.Background()

	if err := svc.LaunchQueued(ctx, "q1"); err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitFor(t, func() bool { return svc.ActiveRuns() == 0 })

	entry, err := st.GetQueueEntry(ctx, "q1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != store.StatusCompleted {
		t.Fatalf("queue status = %q, want %q", entry.Status, store.StatusCompleted)
	}

	hist, err := st.ListHistory(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("history has %d entries, want 1", len(hist))
	}
	if hist[0].Outcome != store.OutcomeCompleted || hist[0].QueueEntryID != "q1" {
		t.Fatalf("history entry = %+v", hist[0])
	}
	if hist[0].Identifier != "123456sp" {
		t.Fatalf("history identifier = %q", hist[0].Identifier)
	}
}

func TestLaunchQueuedUnknownEntry(t *testing.T) {
	svc, _ := testService(t, &fakeDriver{})

	err := svc.LaunchQueued(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchQueuedRequiresCredentials(t *testing.T) {
	svc, st := testService(t, &fakeDriver{})
	ctx := context.Background()
	if err := st.AddQueueEntry(ctx, &store.QueueEntry{ID: "q1", BookReference: "b"}); err != nil {
		t.Fatal(err)
	}

	err := svc.LaunchQueued(ctx, "q1")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestLaunchQueuedRejectsDuplicateRun(t *testing.T) {
	d := &fakeDriver{connectGate: make(chan struct{})}
	svc, st := testService(t, d)
	seedQueuedBook(t, st)
	ctx := context.Background()

	if err := svc.LaunchQueued(ctx, "q1"); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	err := svc.LaunchQueued(ctx, "q1")
	if err == nil || !strings.Contains(err.Error(), "already has a run") {
		t.Fatalf("second launch err = %v", err)
	}

	close(d.connectGate)
	waitFor(t, func() bool { return svc.ActiveRuns() == 0 })
}

// The runs view is the only window into a schedule-triggered run, which
// has no push channel behind it.
func TestRunsReportsInFlight(t *testing.T) {
	d := &fakeDriver{connectGate: make(chan struct{})}
	svc, st := testService(t, d)
	seedQueuedBook(t, st)

	if got := svc.Runs(); len(got) != 0 {
		t.Fatalf("idle service reports %d runs", len(got))
	}

	if err := svc.LaunchQueued(context.Background(), "q1"); err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitFor(t, func() bool {
		runs := svc.Runs()
		return len(runs) == 1 && runs[0].State == StateConnecting && len(runs[0].RecentLogs) > 0
	})

	runs := svc.Runs()
	if runs[0].QueueEntryID != "q1" {
		t.Errorf("queue entry = %q, want q1", runs[0].QueueEntryID)
	}

	close(d.connectGate)
	waitFor(t, func() bool { return svc.ActiveRuns() == 0 })
}

func TestServiceCloseStopsRuns(t *testing.T) {
	d := &fakeDriver{connectGate: make(chan struct{})}
	svc, st := testService(t, d)
	seedQueuedBook(t, st)

	if err := svc.LaunchQueued(context.Background(), "q1"); err != nil {
		t.Fatalf("launch: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Close()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	waitFor(t, func() bool { return svc.ActiveRuns() == 0 })
}

// End to end through the schedule sweep: a due schedule launches the run,
// recurrence applies, and the outcome is persisted.
func TestServiceSchedulerTriggersRun(t *testing.T) {
	d := &fakeDriver{title: "Dom Casmurro"}
	svc, st := testService(t, d)
	seedQueuedBook(t, st)
	ctx := context.Background()

	err := st.AddSchedule(ctx, &store.Schedule{
		ID:            "s1",
		QueueEntryID:  "q1",
		ScheduledTime: time.Now().Add(-time.Minute).UnixMilli(),
		RepeatType:    store.RepeatOnce,
		IsActive:      true,
	})
	if err != nil {
		t.Fatal(err)
	}

	svc.Scheduler(SchedulerConfig{}).sweep(ctx)
	waitFor(t, func() bool { return svc.ActiveRuns() == 0 })

	sc, err := st.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sc.IsActive {
		t.Fatal("once schedule still active after trigger")
	}

	hist, err := st.ListHistory(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Outcome != store.OutcomeCompleted {
		t.Fatalf("history = %+v", hist)
	}
}

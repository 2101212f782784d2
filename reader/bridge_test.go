package reader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/liseuse/store"
)

type queueCall struct {
	id    string
	pages int
	total int
	secs  int
}

type memBridgeStore struct {
	mu           sync.Mutex
	progress     []queueCall
	completed    []queueCall
	history      []store.HistoryEntry
	failProgress error
}

func (m *memBridgeStore) UpdateProgress(_ context.Context, id string, pagesRead, totalPages, timeSpentSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failProgress != nil {
		return m.failProgress
	}
	m.progress = append(m.progress, queueCall{id, pagesRead, totalPages, timeSpentSeconds})
	return nil
}

func (m *memBridgeStore) MarkCompleted(_ context.Context, id string, pagesRead, totalPages, timeSpentSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, queueCall{id, pagesRead, totalPages, timeSpentSeconds})
	return nil
}

func (m *memBridgeStore) AppendHistory(_ context.Context, e *store.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *e)
	return nil
}

func testSummary(queueID string) *RunSummary {
	return &RunSummary{
		QueueEntryID:     queueID,
		BookReference:    "abc-123",
		BookTitle:        "Dom Casmurro",
		Identifier:       "12345sp",
		PagesRead:        40,
		TotalPages:       40,
		TimeSpentSeconds: 90,
		StartedAt:        time.UnixMilli(1_700_000_000_000),
		FinishedAt:       time.UnixMilli(1_700_000_090_000),
	}
}

// Every event reaches the wire sink regardless of whether the store cares
// about its kind.
func TestBridgeForwardsEveryEvent(t *testing.T) {
	st := &memBridgeStore{}
	var forwarded []EventKind
	b := NewBridge(st, func(ev Event) { forwarded = append(forwarded, ev.Kind) }, discardLogger())

	b.OnEvent(Event{Kind: KindState, State: StateConnecting})
	b.OnEvent(Event{Kind: KindLog, Severity: SeverityInfo, Message: "hello"})
	b.OnEvent(Event{Kind: KindError, Message: "boom"})
	b.OnEvent(Event{Kind: KindProgress})

	if len(forwarded) != 4 {
		t.Fatalf("forwarded %d events, want 4", len(forwarded))
	}
	if len(st.progress)+len(st.completed)+len(st.history) != 0 {
		t.Fatalf("store written for non-persistent events: %+v", st)
	}
}

func TestBridgePersistsQueueProgress(t *testing.T) {
	st := &memBridgeStore{}
	b := NewBridge(st, nil, discardLogger())

	b.OnEvent(Event{
		Kind:         KindProgress,
		QueueEntryID: "q1",
		Progress:     &Progress{CurrentPage: 7, TotalPages: 40, ElapsedSeconds: 12.8},
	})
	// Ad-hoc runs have no queue entry; nothing to update.
	b.OnEvent(Event{
		Kind:     KindProgress,
		Progress: &Progress{CurrentPage: 8, TotalPages: 40, ElapsedSeconds: 14.1},
	})

	if len(st.progress) != 1 {
		t.Fatalf("UpdateProgress called %d times, want 1", len(st.progress))
	}
	got := st.progress[0]
	want := queueCall{id: "q1", pages: 7, total: 40, secs: 12}
	if got != want {
		t.Fatalf("progress call = %+v, want %+v", got, want)
	}
}

func TestBridgeRecordsCompletedRunOnce(t *testing.T) {
	st := &memBridgeStore{}
	b := NewBridge(st, nil, discardLogger())

	b.OnEvent(Event{Kind: KindState, State: StateConnecting})
	done := Event{Kind: KindCompleted, Summary: testSummary("q1")}
	b.OnEvent(done)
	b.OnEvent(done) // a repeated terminal must not double-record

	if len(st.completed) != 1 {
		t.Fatalf("MarkCompleted called %d times, want 1", len(st.completed))
	}
	if st.completed[0] != (queueCall{id: "q1", pages: 40, total: 40, secs: 90}) {
		t.Fatalf("completion call = %+v", st.completed[0])
	}
	if len(st.history) != 1 {
		t.Fatalf("history has %d entries, want 1", len(st.history))
	}
	h := st.history[0]
	if h.Outcome != store.OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", h.Outcome, store.OutcomeCompleted)
	}
	if h.ID == "" {
		t.Fatal("history entry has no id")
	}
	if h.StartedAt != 1_700_000_000_000 || h.FinishedAt != 1_700_000_090_000 {
		t.Fatalf("timestamps = %d..%d", h.StartedAt, h.FinishedAt)
	}
	if h.BookTitle != "Dom Casmurro" || h.Identifier != "12345sp" {
		t.Fatalf("history entry = %+v", h)
	}
}

func TestBridgeRecordsStoppedRun(t *testing.T) {
	st := &memBridgeStore{}
	b := NewBridge(st, nil, discardLogger())

	sum := testSummary("q1")
	sum.Stopped = true
	sum.PagesRead = 12
	b.OnEvent(Event{Kind: KindState, State: StateConnecting})
	b.OnEvent(Event{Kind: KindState, State: StateIdle, Summary: sum})

	if len(st.completed) != 0 {
		t.Fatalf("stopped run must not mark the queue entry completed, got %d calls", len(st.completed))
	}
	if len(st.history) != 1 {
		t.Fatalf("history has %d entries, want 1", len(st.history))
	}
	if st.history[0].Outcome != store.OutcomeStopped {
		t.Fatalf("outcome = %q, want %q", st.history[0].Outcome, store.OutcomeStopped)
	}
	if st.history[0].PagesRead != 12 {
		t.Fatalf("pages read = %d, want 12", st.history[0].PagesRead)
	}
}

// The exactly-once guard is per run, not per bridge lifetime: a new
// connecting transition re-arms it.
func TestBridgeGuardResetsPerRun(t *testing.T) {
	st := &memBridgeStore{}
	b := NewBridge(st, nil, discardLogger())

	b.OnEvent(Event{Kind: KindState, State: StateConnecting})
	b.OnEvent(Event{Kind: KindCompleted, Summary: testSummary("q1")})
	b.OnEvent(Event{Kind: KindState, State: StateConnecting})
	b.OnEvent(Event{Kind: KindCompleted, Summary: testSummary("q2")})

	if len(st.history) != 2 {
		t.Fatalf("history has %d entries, want 2", len(st.history))
	}
	if st.history[0].QueueEntryID != "q1" || st.history[1].QueueEntryID != "q2" {
		t.Fatalf("history queue ids = %q, %q", st.history[0].QueueEntryID, st.history[1].QueueEntryID)
	}
}

// Ad-hoc runs still land in history; only the queue mutation is skipped.
func TestBridgeHistoryWithoutQueueEntry(t *testing.T) {
	st := &memBridgeStore{}
	b := NewBridge(st, nil, discardLogger())

	b.OnEvent(Event{Kind: KindState, State: StateConnecting})
	b.OnEvent(Event{Kind: KindCompleted, Summary: testSummary("")})

	if len(st.completed) != 0 {
		t.Fatalf("MarkCompleted called %d times, want 0", len(st.completed))
	}
	if len(st.history) != 1 {
		t.Fatalf("history has %d entries, want 1", len(st.history))
	}
}

func TestBridgeToleratesStoreFailures(t *testing.T) {
	st := &memBridgeStore{failProgress: errors.New("disk full")}
	var forwarded int
	b := NewBridge(st, func(Event) { forwarded++ }, discardLogger())

	b.OnEvent(Event{
		Kind:         KindProgress,
		QueueEntryID: "q1",
		Progress:     &Progress{CurrentPage: 1, TotalPages: 2, ElapsedSeconds: 1},
	})

	if forwarded != 1 {
		t.Fatalf("forwarded %d events, want 1", forwarded)
	}
}

func TestBridgeWithoutStoreForwardsOnly(t *testing.T) {
	var forwarded int
	b := NewBridge(nil, func(Event) { forwarded++ }, discardLogger())

	b.OnEvent(Event{Kind: KindCompleted, Summary: testSummary("q1")})
	if forwarded != 1 {
		t.Fatalf("forwarded %d events, want 1", forwarded)
	}
}

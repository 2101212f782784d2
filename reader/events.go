package reader

import (
	"sync"
	"time"
)

// State is the engine's lifecycle position. Exactly one engine owns the
// value at a time; changes are emitted as events, never polled.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateLoggingIn   State = "logging_in"
	StateLoadingBook State = "loading_book"
	StateReading     State = "reading"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// Severity of a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// EventKind discriminates engine events.
type EventKind string

const (
	KindState     EventKind = "state"
	KindProgress  EventKind = "progress"
	KindLog       EventKind = "log"
	KindError     EventKind = "error"
	KindCompleted EventKind = "completed"
)

// LogEntry is one run-scoped log line, append-only in emission order.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// RunSummary travels on terminal events (completed, or the idle transition
// after an operator stop) so subscribers can persist the outcome without
// reaching back into the engine.
type RunSummary struct {
	QueueEntryID     string `json:"queueEntryId,omitempty"`
	BookReference    string `json:"bookReference"`
	BookTitle        string `json:"bookTitle,omitempty"`
	Identifier       string `json:"identifier"`
	PagesRead        int    `json:"pagesRead"`
	TotalPages       int    `json:"totalPages,omitempty"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	StartedAt        time.Time
	FinishedAt       time.Time
	Stopped          bool
}

// Event is one telemetry emission. Which fields are set depends on Kind:
// state events carry State plus book/identifier context, progress events a
// Progress snapshot, log events a severity and message, error events a
// message, and terminal events a RunSummary.
type Event struct {
	Kind         EventKind
	At           time.Time
	State        State
	BookTitle    string
	Identifier   string
	QueueEntryID string
	Progress     *Progress
	Severity     Severity
	Message      string
	Summary      *RunSummary
}

// Subscriber receives events synchronously on the emitting goroutine.
// Implementations hand off to their own buffering if they can block.
type Subscriber interface {
	OnEvent(Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) OnEvent(ev Event) { f(ev) }

type emitter struct {
	mu   sync.Mutex
	subs []Subscriber
}

func (m *emitter) subscribe(s Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, s)
}

// emit delivers to a snapshot of the subscriber list so a subscriber may
// subscribe others without deadlocking.
func (m *emitter) emit(ev Event) {
	m.mu.Lock()
	subs := make([]Subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, s := range subs {
		s.OnEvent(ev)
	}
}

// logWindow bounds how many run log entries the engine retains for late
// joiners; older entries fall off but were already emitted as events.
const logWindow = 200

type logRing struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (r *logRing) append(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > logWindow {
		r.entries = r.entries[len(r.entries)-logWindow:]
	}
}

func (r *logRing) snapshot() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *logRing) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

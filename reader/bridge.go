package reader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/liseuse/idgen"
	"github.com/hazyhaar/liseuse/store"
)

// BridgeStore is the slice of the relational store the telemetry bridge
// writes to.
type BridgeStore interface {
	UpdateProgress(ctx context.Context, id string, pagesRead, totalPages, timeSpentSeconds int) error
	MarkCompleted(ctx context.Context, id string, pagesRead, totalPages, timeSpentSeconds int) error
	AppendHistory(ctx context.Context, e *store.HistoryEntry) error
}

// Bridge subscribes to one engine and does two jobs: forward every event
// to the wire sink as soon as it is emitted, and persist progress and run
// outcomes. Queue progress follows each progress event; the history entry
// and queue completion are written exactly once per run, guarded against
// repeated terminal events.
type Bridge struct {
	forward func(Event)
	store   BridgeStore
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	finalized bool
}

// NewBridge wires a bridge to a store and a wire sink; either may be nil
// when only the other is wanted.
func NewBridge(st BridgeStore, forward func(Event), logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if forward == nil {
		forward = func(Event) {}
	}
	return &Bridge{
		forward: forward,
		store:   st,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// OnEvent implements Subscriber. It runs on the engine goroutine, so store
// writes are bounded by a timeout rather than the engine's lifetime.
func (b *Bridge) OnEvent(ev Event) {
	b.forward(ev)
	if b.store == nil {
		return
	}

	switch ev.Kind {
	case KindState:
		if ev.State == StateConnecting {
			// A new run begins; arm the exactly-once outcome guard again.
			b.mu.Lock()
			b.finalized = false
			b.mu.Unlock()
		}
		if ev.State == StateIdle && ev.Summary != nil {
			b.recordOutcome(ev.Summary, store.OutcomeStopped)
		}
	case KindProgress:
		if ev.QueueEntryID == "" || ev.Progress == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		err := b.store.UpdateProgress(ctx, ev.QueueEntryID,
			ev.Progress.CurrentPage, ev.Progress.TotalPages, int(ev.Progress.ElapsedSeconds))
		if err != nil {
			b.logger.Warn("bridge: update progress", "queueEntry", ev.QueueEntryID, "error", err)
		}
	case KindCompleted:
		if ev.Summary != nil {
			b.recordOutcome(ev.Summary, store.OutcomeCompleted)
		}
	}
}

func (b *Bridge) recordOutcome(sum *RunSummary, outcome string) {
	b.mu.Lock()
	if b.finalized {
		b.mu.Unlock()
		return
	}
	b.finalized = true
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if sum.QueueEntryID != "" && outcome == store.OutcomeCompleted {
		err := b.store.MarkCompleted(ctx, sum.QueueEntryID, sum.PagesRead, sum.TotalPages, sum.TimeSpentSeconds)
		if err != nil {
			b.logger.Warn("bridge: mark completed", "queueEntry", sum.QueueEntryID, "error", err)
		}
	}

	entry := &store.HistoryEntry{
		ID:               idgen.New(),
		QueueEntryID:     sum.QueueEntryID,
		BookReference:    sum.BookReference,
		BookTitle:        sum.BookTitle,
		Identifier:       sum.Identifier,
		PagesRead:        sum.PagesRead,
		TotalPages:       sum.TotalPages,
		TimeSpentSeconds: sum.TimeSpentSeconds,
		Outcome:          outcome,
		StartedAt:        sum.StartedAt.UnixMilli(),
		FinishedAt:       sum.FinishedAt.UnixMilli(),
	}
	if err := b.store.AppendHistory(ctx, entry); err != nil {
		b.logger.Warn("bridge: append history", "error", err)
	}
}

package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/liseuse/idgen"
)

// errStopRequested threads an operator stop through the run's error path so
// it can be told apart from real failures at the single exit point.
var errStopRequested = errors.New("reader: stop requested")

// Engine is the per-session reading automation state machine. One run at a
// time: Start launches a goroutine that connects, logs in, opens the book
// and turns pages at the configured cadence until end-of-book, an
// unrecoverable error, or an operator stop. Telemetry flows to subscribers;
// nothing is polled.
type Engine struct {
	factory DriverFactory
	logger  *slog.Logger
	emitter emitter
	logs    logRing

	// now is swapped out by tests that exercise elapsed-time accounting.
	now func() time.Time
	// backoff is the pause after a transient page-turn failure.
	backoff time.Duration

	mu          sync.Mutex
	state       State
	running     bool
	cfg         RunConfig
	bookTitle   string
	currentPage int
	totalPages  int
	lastPercent float64
	startedAt   time.Time
	pausedAt    time.Time
	pausedAccum time.Duration
	// pauseCh is non-nil exactly while paused; Resume closes it to release
	// a parked reading loop.
	pauseCh chan struct{}
	// stopCh is created per run and closed at most once via stopOnce.
	stopCh   chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
}

// NewEngine builds an idle engine. Runs obtain a fresh Driver from factory.
func NewEngine(factory DriverFactory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		factory: factory,
		logger:  logger,
		now:     time.Now,
		backoff: 2 * time.Second,
		state:   StateIdle,
	}
}

// Subscribe registers a telemetry subscriber. Delivery is synchronous on
// the engine goroutine; slow consumers must buffer on their side.
func (e *Engine) Subscribe(s Subscriber) {
	e.emitter.subscribe(s)
}

// State reports the current lifecycle position.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Logs returns the retained window of run log entries.
func (e *Engine) Logs() []LogEntry {
	return e.logs.snapshot()
}

// Progress reports a live snapshot of the current run.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot(e.currentPage, e.totalPages, e.elapsedLocked(), e.lastPercent)
}

// Start validates the configuration and launches the run goroutine.
// Returns ErrRunActive while a previous run is still underway.
func (e *Engine) Start(cfg RunConfig) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}
	identity := DecomposeIdentifier(cfg.Identifier)

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrRunActive
	}
	e.running = true
	e.state = StateIdle
	e.cfg = cfg
	e.bookTitle = ""
	e.currentPage = 0
	e.totalPages = 0
	e.lastPercent = 0
	e.startedAt = e.now()
	e.pausedAt = time.Time{}
	e.pausedAccum = 0
	e.pauseCh = nil
	e.stopCh = make(chan struct{})
	e.stopOnce = new(sync.Once)
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	e.logs.reset()
	go e.run(cfg, identity, done)
	return nil
}

// Pause suspends page turning. It records the pause start immediately, so
// time spent paused never counts as reading time even when the loop is mid
// interaction. No-op unless currently reading.
func (e *Engine) Pause() {
	e.mu.Lock()
	if !e.running || e.pauseCh != nil || e.state != StateReading {
		e.mu.Unlock()
		return
	}
	e.pauseCh = make(chan struct{})
	e.pausedAt = e.now()
	e.mu.Unlock()

	e.setState(StatePaused)
}

// Resume releases a pause, folding the paused span into the accumulated
// paused time. No-op when not paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.running || e.pauseCh == nil {
		e.mu.Unlock()
		return
	}
	close(e.pauseCh)
	e.pauseCh = nil
	e.pausedAccum += e.now().Sub(e.pausedAt)
	e.pausedAt = time.Time{}
	e.mu.Unlock()

	e.setState(StateReading)
}

// Stop requests termination. Idempotent; the loop observes it at the next
// boundary and in-flight browser work is cancelled promptly. Run teardown
// still completes asynchronously; use Done to await it.
func (e *Engine) Stop() {
	e.mu.Lock()
	running := e.running
	once := e.stopOnce
	ch := e.stopCh
	e.mu.Unlock()

	if !running || once == nil {
		return
	}
	once.Do(func() { close(ch) })
}

// Done reports the completion channel of the current or last run; closed
// when the run goroutine has fully exited, browser teardown included. Nil
// when no run was ever started.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *Engine) run(cfg RunConfig, identity Identity, done chan struct{}) {
	defer close(done)

	// An operator stop cancels in-flight browser work instead of letting a
	// slow navigation run its full timeout.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch := make(chan struct{})
	defer close(watch)
	stop := e.stopCh
	go func() {
		select {
		case <-stop:
			cancel()
		case <-watch:
		}
	}()

	driver, err := e.factory()
	if err == nil {
		err = e.perform(ctx, cfg, identity, driver)
		if cerr := driver.Close(); cerr != nil {
			e.logger.Warn("reader: browser teardown", "error", cerr)
		}
	}

	// A stop issued mid-step surfaces as a cancellation error from whatever
	// browser call was in flight. That is still an operator stop, not a failure.
	if err != nil && !errors.Is(err, errStopRequested) && e.stopRequested() {
		err = errStopRequested
	}

	e.finish(err)
}

func (e *Engine) perform(ctx context.Context, cfg RunConfig, identity Identity, driver Driver) error {
	e.setState(StateConnecting)
	e.log(SeverityInfo, "launching browser session")
	if err := driver.Connect(ctx); err != nil {
		return err
	}
	if e.stopRequested() {
		return errStopRequested
	}

	e.setState(StateLoggingIn)
	e.log(SeverityInfo, "logging in as "+cfg.Identifier)
	if err := driver.Login(ctx, identity, cfg.Secret); err != nil {
		return err
	}
	if e.stopRequested() {
		return errStopRequested
	}

	e.setState(StateLoadingBook)
	e.log(SeverityInfo, "opening book "+cfg.BookReference)
	title, err := driver.OpenBook(ctx, cfg.BookReference)
	if err != nil {
		return err
	}
	if title != "" {
		e.mu.Lock()
		e.bookTitle = title
		e.mu.Unlock()
	}

	if cur, total, ok := driver.PageCount(ctx); ok {
		e.mu.Lock()
		e.totalPages = total
		if cur > 0 {
			// The site resumes a book wherever it was left; counting from
			// there keeps percentage and ETA honest.
			e.currentPage = cur
		}
		e.mu.Unlock()
		e.log(SeverityInfo, fmt.Sprintf("page counter found: %d of %d", cur, total))
	} else {
		e.log(SeverityWarning, "no page counter found, reading without totals")
	}
	if e.stopRequested() {
		return errStopRequested
	}

	e.setState(StateReading)
	e.log(SeveritySuccess, "reading started")
	e.emitProgress()

	return e.readLoop(ctx, driver, cfg.Interval())
}

// readLoop turns pages until end-of-book, a stop, or the context dies.
// Transient turn failures are logged and retried after a short backoff,
// never fatal.
func (e *Engine) readLoop(ctx context.Context, driver Driver, interval time.Duration) error {
	for {
		if e.stopRequested() {
			return errStopRequested
		}

		e.mu.Lock()
		gate := e.pauseCh
		stop := e.stopCh
		e.mu.Unlock()
		if gate != nil {
			select {
			case <-stop:
				return errStopRequested
			case <-gate:
				continue
			}
		}

		res, err := driver.TurnPage(ctx)
		if err != nil {
			e.log(SeverityWarning, "page turn failed, retrying: "+err.Error())
			if err := e.sleep(e.backoff); err != nil {
				return err
			}
			continue
		}
		if res == TurnEndOfBook {
			return nil
		}

		e.mu.Lock()
		e.currentPage++
		page := e.currentPage
		total := e.totalPages
		e.mu.Unlock()
		e.emitProgress()

		if total == 0 {
			if _, probed, ok := driver.PageCount(ctx); ok {
				e.mu.Lock()
				e.totalPages = probed
				total = probed
				e.mu.Unlock()
				e.log(SeverityInfo, fmt.Sprintf("total pages detected: %d", probed))
				e.emitProgress()
			}
		}
		if total > 0 && page >= total {
			return nil
		}

		if err := e.sleep(interval); err != nil {
			return err
		}
	}
}

// finish emits the run's terminal events and releases the run slot. Called
// exactly once per run, after browser teardown.
func (e *Engine) finish(err error) {
	e.mu.Lock()
	summary := RunSummary{
		QueueEntryID:     e.cfg.QueueEntryID,
		BookReference:    e.cfg.BookReference,
		BookTitle:        e.bookTitle,
		Identifier:       e.cfg.Identifier,
		PagesRead:        e.currentPage,
		TotalPages:       e.totalPages,
		TimeSpentSeconds: int(e.elapsedLocked().Seconds()),
		StartedAt:        e.startedAt,
		FinishedAt:       e.now(),
	}
	e.mu.Unlock()

	switch {
	case err == nil:
		e.setState(StateCompleted)
		e.log(SeveritySuccess, "book finished")
		e.emitter.emit(Event{Kind: KindCompleted, At: e.now(), QueueEntryID: summary.QueueEntryID, Summary: &summary})
	case errors.Is(err, errStopRequested):
		summary.Stopped = true
		e.log(SeverityInfo, "run stopped")
		e.emitState(StateIdle, &summary)
	default:
		e.log(SeverityError, err.Error())
		e.setState(StateError)
		e.emitter.emit(Event{Kind: KindError, At: e.now(), Message: err.Error(), QueueEntryID: summary.QueueEntryID})
	}

	e.mu.Lock()
	e.running = false
	e.pauseCh = nil
	e.pausedAt = time.Time{}
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.emitState(s, nil)
}

func (e *Engine) emitState(s State, summary *RunSummary) {
	e.mu.Lock()
	e.state = s
	title := e.bookTitle
	identifier := e.cfg.Identifier
	qid := e.cfg.QueueEntryID
	e.mu.Unlock()

	e.emitter.emit(Event{
		Kind:         KindState,
		At:           e.now(),
		State:        s,
		BookTitle:    title,
		Identifier:   identifier,
		QueueEntryID: qid,
		Summary:      summary,
	})
}

func (e *Engine) emitProgress() {
	e.mu.Lock()
	p := Snapshot(e.currentPage, e.totalPages, e.elapsedLocked(), e.lastPercent)
	if e.totalPages > 0 {
		e.lastPercent = p.Percentage
	}
	qid := e.cfg.QueueEntryID
	e.mu.Unlock()

	e.emitter.emit(Event{Kind: KindProgress, At: e.now(), Progress: &p, QueueEntryID: qid})
}

// log records a run log entry, mirrors it to the service logger and emits
// it as an event.
func (e *Engine) log(sev Severity, msg string) {
	entry := LogEntry{
		ID:        idgen.New(),
		Timestamp: e.now(),
		Severity:  sev,
		Message:   msg,
	}
	e.logs.append(entry)

	switch sev {
	case SeverityWarning:
		e.logger.Warn("reader: " + msg)
	case SeverityError:
		e.logger.Error("reader: " + msg)
	default:
		e.logger.Info("reader: " + msg)
	}

	e.mu.Lock()
	qid := e.cfg.QueueEntryID
	e.mu.Unlock()
	e.emitter.emit(Event{Kind: KindLog, At: entry.Timestamp, Severity: sev, Message: msg, QueueEntryID: qid})
}

// elapsedLocked computes reading time net of paused spans; while paused the
// value is frozen at the pause start. Callers hold e.mu.
func (e *Engine) elapsedLocked() time.Duration {
	if e.startedAt.IsZero() {
		return 0
	}
	end := e.now()
	if !e.pausedAt.IsZero() {
		end = e.pausedAt
	}
	elapsed := end.Sub(e.startedAt) - e.pausedAccum
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (e *Engine) stopRequested() bool {
	e.mu.Lock()
	ch := e.stopCh
	e.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (e *Engine) sleep(d time.Duration) error {
	e.mu.Lock()
	stop := e.stopCh
	e.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return errStopRequested
	case <-timer.C:
		return nil
	}
}

package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/liseuse/store"
)

// Service runs the engines that have no push channel behind them:
// schedule-triggered reading runs and the one-shot catalog browse.
// Channel-driven sessions go through Registry and ChannelServer instead.
type Service struct {
	store   *store.Store
	cfg     Config
	factory DriverFactory
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]*Engine
}

// NewService wires a service to the relational store and the site the
// drivers will puppet.
func NewService(st *store.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		cfg:     cfg,
		factory: func() (Driver, error) { return NewDriver(cfg, logger), nil },
		logger:  logger,
		running: make(map[string]*Engine),
	}
}

// Factory exposes the service's driver factory so the channel registry can
// share the same browser stack.
func (s *Service) Factory() DriverFactory { return s.factory }

// Browse logs in with the given credentials and scrapes the catalog.
// Single-shot; the browser is torn down before it returns.
func (s *Service) Browse(ctx context.Context, identifier, secret string) ([]BookCategory, error) {
	return Browse(ctx, s.factory, s.logger, identifier, secret)
}

// Scheduler builds the schedule sweep wired to this service's store and
// run launcher.
func (s *Service) Scheduler(cfg SchedulerConfig) *Scheduler {
	return NewScheduler(s.store.DueSchedules, s.store.AdvanceSchedule, s.LaunchQueued, cfg, s.logger)
}

// LaunchQueued starts a headless reading run for a queue entry, using the
// operator credentials from settings. At most one run per entry at a time;
// telemetry goes to the store and the service log only.
func (s *Service) LaunchQueued(ctx context.Context, queueEntryID string) error {
	entry, err := s.store.GetQueueEntry(ctx, queueEntryID)
	if err != nil {
		return fmt.Errorf("reader: launch queued: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("reader: launch queued: queue entry %q not found", queueEntryID)
	}

	cfg, err := s.queuedRunConfig(ctx, entry)
	if err != nil {
		return err
	}

	logger := s.logger.With("queueEntry", entry.ID)
	engine := NewEngine(s.factory, logger)
	engine.Subscribe(NewBridge(s.store, nil, logger))

	s.mu.Lock()
	if _, busy := s.running[entry.ID]; busy {
		s.mu.Unlock()
		return fmt.Errorf("reader: launch queued: entry %q already has a run", entry.ID)
	}
	s.running[entry.ID] = engine
	s.mu.Unlock()

	if err := engine.Start(cfg); err != nil {
		s.mu.Lock()
		delete(s.running, entry.ID)
		s.mu.Unlock()
		return fmt.Errorf("reader: launch queued: %w", err)
	}

	go func() {
		<-engine.Done()
		s.mu.Lock()
		delete(s.running, entry.ID)
		s.mu.Unlock()
		logger.Info("reader: scheduled run finished", "state", string(engine.State()))
	}()
	return nil
}

// ActiveRuns reports how many headless runs are in flight.
func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// RunStatus is a point-in-time view of one headless run.
type RunStatus struct {
	QueueEntryID string     `json:"queueEntryId"`
	State        State      `json:"state"`
	Progress     Progress   `json:"progress"`
	RecentLogs   []LogEntry `json:"recentLogs"`
}

// Runs lists every headless run in flight with its progress and recent
// log window, ordered by queue entry id. Channel-driven sessions are not
// included; their telemetry already streams to the channel.
func (s *Service) Runs() []RunStatus {
	s.mu.Lock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	engines := make([]*Engine, 0, len(ids))
	sort.Strings(ids)
	for _, id := range ids {
		engines = append(engines, s.running[id])
	}
	s.mu.Unlock()

	out := make([]RunStatus, len(ids))
	for i, e := range engines {
		out[i] = RunStatus{
			QueueEntryID: ids[i],
			State:        e.State(),
			Progress:     e.Progress(),
			RecentLogs:   e.Logs(),
		}
	}
	return out
}

// Close force-stops every headless run and waits, bounded, for their
// browser teardowns.
func (s *Service) Close() {
	s.mu.Lock()
	engines := make([]*Engine, 0, len(s.running))
	for _, e := range s.running {
		engines = append(engines, e)
	}
	s.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
	deadline := time.After(closeWait)
	for _, e := range engines {
		done := e.Done()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-deadline:
			s.logger.Warn("reader: service close timed out waiting for runs")
			return
		}
	}
}

func (s *Service) queuedRunConfig(ctx context.Context, entry *store.QueueEntry) (RunConfig, error) {
	identifier, err := s.store.GetSetting(ctx, store.SettingIdentifier)
	if err != nil {
		return RunConfig{}, fmt.Errorf("reader: launch queued: read settings: %w", err)
	}
	secret, err := s.store.GetSetting(ctx, store.SettingSecret)
	if err != nil {
		return RunConfig{}, fmt.Errorf("reader: launch queued: read settings: %w", err)
	}
	if identifier == "" || secret == "" {
		return RunConfig{}, &ConfigurationError{Field: "settings", Reason: "identifier and secret settings are required for scheduled runs"}
	}

	interval := 0
	if v, err := s.store.GetSetting(ctx, store.SettingInterval); err == nil && v != "" {
		interval, _ = strconv.Atoi(v)
	}

	return RunConfig{
		Identifier:      identifier,
		Secret:          secret,
		BookReference:   entry.BookReference,
		IntervalSeconds: interval,
		QueueEntryID:    entry.ID,
	}, nil
}

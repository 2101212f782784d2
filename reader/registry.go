package reader

import (
	"log/slog"
	"sync"
	"time"
)

// closeWait bounds how long a session close waits for engine teardown so a
// wedged browser cannot hang the channel-close handler forever.
const closeWait = 30 * time.Second

// Registry maps opaque session ids to engines, at most one engine per id.
// A session is opened when its push channel connects and closed, force
// stopping the engine, when the channel goes away.
type Registry struct {
	factory DriverFactory
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Engine
}

// NewRegistry builds an empty registry whose engines draw drivers from
// factory.
func NewRegistry(factory DriverFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory:  factory,
		logger:   logger,
		sessions: make(map[string]*Engine),
	}
}

// Open registers a fresh engine under sessionID. ErrSessionExists when the
// id is already taken.
func (r *Registry) Open(sessionID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return nil, ErrSessionExists
	}
	e := NewEngine(r.factory, r.logger.With("session", sessionID))
	r.sessions[sessionID] = e
	r.logger.Info("reader: session opened", "session", sessionID, "open", len(r.sessions))
	return e, nil
}

// Get returns the engine registered under sessionID.
func (r *Registry) Get(sessionID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the session's engine, awaits its teardown, then frees the
// slot. The slot stays taken until teardown finishes so a reconnect cannot
// race a browser that is still shutting down. Unknown ids are a no-op.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.Stop()
	if done := e.Done(); done != nil {
		select {
		case <-done:
		case <-time.After(closeWait):
			r.logger.Warn("reader: session close timed out waiting for teardown", "session", sessionID)
		}
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	r.logger.Info("reader: session closed", "session", sessionID)
}

// CloseAll tears down every open session, used at service shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Close(id)
	}
}

package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/hazyhaar/liseuse/idgen"
	"github.com/hazyhaar/liseuse/kit"
)

const (
	wireSendBuffer  = 64
	wireWriteWait   = 15 * time.Second
	pingInterval    = 20 * time.Second
	pingWait        = 5 * time.Second
	maxCommandBytes = 16 << 10
)

// Command is one inbound channel frame. Type selects the operation; start
// additionally carries the run configuration.
type Command struct {
	Type   string     `json:"type"`
	Config *RunConfig `json:"config,omitempty"`
}

// wireMessage is one outbound channel frame. Type discriminates which of
// the optional payload fields are set.
type wireMessage struct {
	Type       string      `json:"type"`
	SessionID  string      `json:"sessionId,omitempty"`
	State      State       `json:"state,omitempty"`
	BookTitle  string      `json:"bookTitle,omitempty"`
	Identifier string      `json:"userIdentifier,omitempty"`
	Progress   *Progress   `json:"progress,omitempty"`
	Severity   Severity    `json:"severity,omitempty"`
	Message    string      `json:"message,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
}

// translateEvent maps an engine event onto its wire frame.
func translateEvent(ev Event) (wireMessage, bool) {
	switch ev.Kind {
	case KindState:
		return wireMessage{Type: "state_update", State: ev.State, BookTitle: ev.BookTitle, Identifier: ev.Identifier}, true
	case KindProgress:
		return wireMessage{Type: "progress_update", Progress: ev.Progress}, true
	case KindLog:
		return wireMessage{Type: "log", Severity: ev.Severity, Message: ev.Message}, true
	case KindError:
		return wireMessage{Type: "error", Message: ev.Message}, true
	case KindCompleted:
		return wireMessage{Type: "completed", Summary: ev.Summary}, true
	}
	return wireMessage{}, false
}

// wireConn is the slice of *websocket.Conn the channel needs, split out so
// the protocol can run against a fake in tests.
type wireConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// ChannelServer upgrades HTTP requests to per-session push channels. Each
// accepted connection owns exactly one engine for its lifetime; the engine
// is force-stopped and its browser torn down when the connection goes away.
type ChannelServer struct {
	registry *Registry
	store    BridgeStore
	origins  []string
	logger   *slog.Logger
}

// NewChannelServer wires the channel endpoint to a registry and the store
// the telemetry bridge persists into. origins is passed through to the
// websocket origin check; empty means same-origin only.
func NewChannelServer(reg *Registry, st BridgeStore, origins []string, logger *slog.Logger) *ChannelServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelServer{registry: reg, store: st, origins: origins, logger: logger}
}

func (s *ChannelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Warn("ws: accept", "error", err)
		return
	}
	conn.SetReadLimit(maxCommandBytes)
	s.serve(r.Context(), conn)
}

// serve runs one session: open a registry slot, pump events out and
// commands in, and on disconnect stop the engine and wait for its teardown
// before releasing the slot.
func (s *ChannelServer) serve(parent context.Context, conn wireConn) {
	sessionID := idgen.New()
	engine, err := s.registry.Open(sessionID)
	if err != nil {
		s.logger.Error("ws: open session", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger := s.logger.With("session", sessionID)
	if tid := kit.GetTraceID(parent); tid != "" {
		logger = logger.With("trace_id", tid)
	}
	ch := &channel{
		conn:   conn,
		out:    make(chan wireMessage, wireSendBuffer),
		logger: logger,
	}

	bridge := NewBridge(s.store, func(ev Event) {
		if msg, ok := translateEvent(ev); ok {
			ch.enqueue(msg)
		}
	}, s.logger)
	engine.Subscribe(bridge)

	ch.enqueue(wireMessage{Type: "connected", SessionID: sessionID})

	go s.ping(ctx, conn)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := ch.writeLoop(ctx); err != nil && ctx.Err() == nil {
			ch.logger.Warn("ws: write loop", "error", err)
			cancel()
		}
	}()

	s.readCommands(ctx, conn, engine, ch)

	cancel()
	<-writeDone
	s.registry.Close(sessionID)
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	s.logger.Info("ws: channel closed", "session", sessionID)
}

// readCommands decodes inbound frames until the connection fails. Malformed
// frames answer with an error frame and the session continues.
func (s *ChannelServer) readCommands(ctx context.Context, conn wireConn, engine *Engine, ch *channel) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			ch.enqueue(wireMessage{Type: "error", Message: "malformed command payload"})
			continue
		}

		switch cmd.Type {
		case "start":
			if cmd.Config == nil {
				ch.enqueue(wireMessage{Type: "error", Message: "start command requires a config"})
				continue
			}
			if err := engine.Start(*cmd.Config); err != nil {
				ch.enqueue(wireMessage{Type: "error", Message: err.Error()})
			}
		case "pause":
			engine.Pause()
		case "resume":
			engine.Resume()
		case "stop":
			engine.Stop()
		default:
			ch.enqueue(wireMessage{Type: "error", Message: fmt.Sprintf("unknown command %q", cmd.Type)})
		}
	}
}

func (s *ChannelServer) ping(ctx context.Context, conn wireConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingWait)
			_ = conn.Ping(pingCtx)
			cancel()
		}
	}
}

// channel owns the outbound half of one connection: a bounded queue in
// front of the socket write. Enqueue never blocks the engine goroutine; a
// stalled client loses frames rather than wedging the run, and the store
// already holds the durable record.
type channel struct {
	conn    wireConn
	out     chan wireMessage
	logger  *slog.Logger
	dropped atomic.Int64
}

func (c *channel) enqueue(msg wireMessage) {
	select {
	case c.out <- msg:
	default:
		if c.dropped.Add(1) == 1 {
			c.logger.Warn("ws: slow consumer, dropping frames")
		}
	}
}

func (c *channel) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.out:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wireWriteWait)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

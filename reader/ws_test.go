package reader

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeWireConn scripts the client side of a channel: inbound frames are
// fed through a buffered chan, outbound frames are decoded and recorded.
type fakeWireConn struct {
	inbound chan []byte

	mu      sync.Mutex
	written []wireMessage
	pings   int
	closes  int
}

func newFakeWireConn() *fakeWireConn {
	return &fakeWireConn{inbound: make(chan []byte, 8)}
}

func (f *fakeWireConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return 0, nil, errors.New("client went away")
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeWireConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.mu.Lock()
	f.written = append(f.written, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeWireConn) Ping(context.Context) error {
	f.mu.Lock()
	f.pings++
	f.mu.Unlock()
	return nil
}

func (f *fakeWireConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeWireConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	f.inbound <- data
}

func (f *fakeWireConn) sendRaw(data string) { f.inbound <- []byte(data) }

func (f *fakeWireConn) frames(typ string) []wireMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wireMessage
	for _, m := range f.written {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeWireConn) waitFrame(t *testing.T, typ string) wireMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ms := f.frames(typ); len(ms) > 0 {
			return ms[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q frame arrived", typ)
	return wireMessage{}
}

func (f *fakeWireConn) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range f.frames("state_update") {
			if m.State == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no state_update frame with state %q arrived", want)
}

type channelFixture struct {
	conn   *fakeWireConn
	driver *fakeDriver
	store  *memBridgeStore
	reg    *Registry
	done   chan struct{}
}

func openChannel(t *testing.T, d *fakeDriver) *channelFixture {
	t.Helper()
	reg := NewRegistry(func() (Driver, error) { return d, nil }, discardLogger())
	st := &memBridgeStore{}
	srv := NewChannelServer(reg, st, nil, discardLogger())
	conn := newFakeWireConn()

	fx := &channelFixture{conn: conn, driver: d, store: st, reg: reg, done: make(chan struct{})}
	go func() {
		defer close(fx.done)
		srv.serve(context.Background(), conn)
	}()
	conn.waitFrame(t, "connected")
	return fx
}

func (fx *channelFixture) closeClient(t *testing.T) {
	t.Helper()
	close(fx.conn.inbound)
	select {
	case <-fx.done:
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after disconnect")
	}
}

func TestChannelHandshake(t *testing.T) {
	fx := openChannel(t, &fakeDriver{})

	if got := fx.conn.frames("connected")[0].SessionID; got == "" {
		t.Fatal("connected frame carries no session id")
	}
	if fx.reg.Len() != 1 {
		t.Fatalf("registry has %d sessions, want 1", fx.reg.Len())
	}

	fx.closeClient(t)
	if fx.reg.Len() != 0 {
		t.Fatalf("registry still has %d sessions after disconnect", fx.reg.Len())
	}
}

// A full command round trip: the start command drives the engine through a
// run, telemetry comes back as frames, and the outcome lands in the store.
func TestChannelStartRunsToCompletion(t *testing.T) {
	fx := openChannel(t, &fakeDriver{title: "Dom Casmurro"})
	defer fx.closeClient(t)

	fx.conn.send(t, Command{Type: "start", Config: ptrCfg(validCfg())})

	done := fx.conn.waitFrame(t, "completed")
	if done.Summary == nil || done.Summary.BookReference != "123-dom-casmurro" {
		t.Fatalf("completed frame summary = %+v", done.Summary)
	}
	fx.conn.waitState(t, StateReading)
	fx.conn.waitState(t, StateCompleted)

	waitFor(t, func() bool {
		fx.store.mu.Lock()
		defer fx.store.mu.Unlock()
		return len(fx.store.history) == 1
	})
}

func TestChannelPauseResumeStop(t *testing.T) {
	d := &fakeDriver{
		title:      "Dom Casmurro",
		probeTotal: 500,
		probeOK:    true,
		script:     manyAdvances(400),
	}
	fx := openChannel(t, d)
	defer fx.closeClient(t)

	fx.conn.send(t, Command{Type: "start", Config: ptrCfg(validCfg())})
	fx.conn.waitState(t, StateReading)

	fx.conn.send(t, Command{Type: "pause"})
	fx.conn.waitState(t, StatePaused)

	fx.conn.send(t, Command{Type: "resume"})
	waitFor(t, func() bool {
		states := fx.conn.frames("state_update")
		return len(states) > 0 && states[len(states)-1].State == StateReading
	})

	fx.conn.send(t, Command{Type: "stop"})
	fx.conn.waitState(t, StateIdle)
}

// Garbage on the wire answers with an error frame; the session keeps
// serving afterwards.
func TestChannelMalformedCommand(t *testing.T) {
	fx := openChannel(t, &fakeDriver{})
	defer fx.closeClient(t)

	fx.conn.sendRaw("{not json")
	msg := fx.conn.waitFrame(t, "error")
	if msg.Message != "malformed command payload" {
		t.Fatalf("error frame message = %q", msg.Message)
	}

	fx.conn.send(t, Command{Type: "start", Config: ptrCfg(validCfg())})
	fx.conn.waitFrame(t, "completed")
}

func TestChannelUnknownCommand(t *testing.T) {
	fx := openChannel(t, &fakeDriver{})
	defer fx.closeClient(t)

	fx.conn.send(t, Command{Type: "eject"})
	msg := fx.conn.waitFrame(t, "error")
	if msg.Message != `unknown command "eject"` {
		t.Fatalf("error frame message = %q", msg.Message)
	}
}

func TestChannelStartWithoutConfig(t *testing.T) {
	fx := openChannel(t, &fakeDriver{})
	defer fx.closeClient(t)

	fx.conn.send(t, Command{Type: "start"})
	msg := fx.conn.waitFrame(t, "error")
	if msg.Message != "start command requires a config" {
		t.Fatalf("error frame message = %q", msg.Message)
	}
}

// Invalid configs are rejected before any state transition; the run never
// starts and nothing is persisted.
func TestChannelStartRejectsBadConfig(t *testing.T) {
	fx := openChannel(t, &fakeDriver{})
	defer fx.closeClient(t)

	cfg := validCfg()
	cfg.Identifier = ""
	fx.conn.send(t, Command{Type: "start", Config: &cfg})

	fx.conn.waitFrame(t, "error")
	if n := len(fx.conn.frames("state_update")); n != 0 {
		t.Fatalf("saw %d state frames for a rejected start", n)
	}
	fx.store.mu.Lock()
	records := len(fx.store.history) + len(fx.store.progress)
	fx.store.mu.Unlock()
	if records != 0 {
		t.Fatalf("store written for a rejected start")
	}
}

// Disconnecting mid-run force-stops the engine and waits for the browser
// teardown before the registry slot frees.
func TestChannelDisconnectStopsRun(t *testing.T) {
	d := &fakeDriver{
		title:      "Dom Casmurro",
		probeTotal: 500,
		probeOK:    true,
		script:     manyAdvances(400),
	}
	fx := openChannel(t, d)

	fx.conn.send(t, Command{Type: "start", Config: ptrCfg(validCfg())})
	fx.conn.waitState(t, StateReading)

	fx.closeClient(t)

	if fx.reg.Len() != 0 {
		t.Fatalf("registry has %d sessions after disconnect", fx.reg.Len())
	}
	if d.closeCount() != 1 {
		t.Fatalf("driver closed %d times, want 1", d.closeCount())
	}
}

func TestTranslateEvent(t *testing.T) {
	prog := &Progress{CurrentPage: 3, TotalPages: 9}
	sum := &RunSummary{BookReference: "b"}
	cases := []struct {
		in   Event
		typ  string
		skip bool
	}{
		{in: Event{Kind: KindState, State: StateReading, BookTitle: "T", Identifier: "i"}, typ: "state_update"},
		{in: Event{Kind: KindProgress, Progress: prog}, typ: "progress_update"},
		{in: Event{Kind: KindLog, Severity: SeverityWarning, Message: "m"}, typ: "log"},
		{in: Event{Kind: KindError, Message: "boom"}, typ: "error"},
		{in: Event{Kind: KindCompleted, Summary: sum}, typ: "completed"},
		{in: Event{Kind: EventKind("future")}, skip: true},
	}
	for _, tc := range cases {
		msg, ok := translateEvent(tc.in)
		if tc.skip {
			if ok {
				t.Fatalf("kind %q should not translate", tc.in.Kind)
			}
			continue
		}
		if !ok || msg.Type != tc.typ {
			t.Fatalf("kind %q: got (%q, %v), want type %q", tc.in.Kind, msg.Type, ok, tc.typ)
		}
	}

	msg, _ := translateEvent(Event{Kind: KindState, State: StateReading, BookTitle: "T", Identifier: "i"})
	if msg.State != StateReading || msg.BookTitle != "T" || msg.Identifier != "i" {
		t.Fatalf("state frame = %+v", msg)
	}
}

// A saturated outbound queue sheds frames instead of blocking the engine.
func TestChannelShedsFramesWhenSaturated(t *testing.T) {
	ch := &channel{
		conn:   newFakeWireConn(),
		out:    make(chan wireMessage, 1),
		logger: discardLogger(),
	}
	for i := 0; i < 5; i++ {
		ch.enqueue(wireMessage{Type: "log"})
	}
	if got := ch.dropped.Load(); got != 4 {
		t.Fatalf("dropped %d frames, want 4", got)
	}
	if len(ch.out) != 1 {
		t.Fatalf("queue holds %d frames, want 1", len(ch.out))
	}
}

func ptrCfg(cfg RunConfig) *RunConfig { return &cfg }

func manyAdvances(n int) []turnStep {
	steps := make([]turnStep, n)
	for i := range steps {
		steps[i] = turnStep{res: TurnAdvanced}
	}
	return steps
}

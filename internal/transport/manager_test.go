package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opsdesk/chatd/internal/bus"
	"github.com/opsdesk/chatd/internal/protocol"
	"github.com/opsdesk/chatd/internal/status"
	"go.uber.org/zap"
)

// fakeBackend is a websocket server that answers Ping with PONG and
// lets tests push frames and sever connections.
type fakeBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	dials int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{t: t}
	fb.srv = httptest.NewServer(http.HandlerFunc(fb.handle))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fb.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fb.mu.Lock()
	fb.conns = append(fb.conns, conn)
	fb.dials++
	fb.mu.Unlock()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Event == protocol.CmdPing {
			_ = conn.WriteJSON(protocol.Envelope{Event: protocol.EvtPong})
		}
	}
}

func (fb *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBackend) push(env protocol.Envelope) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.conns) == 0 {
		fb.t.Fatal("no active connection")
	}
	_ = fb.conns[len(fb.conns)-1].WriteJSON(env)
}

func (fb *fakeBackend) severLatest() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.conns) > 0 {
		_ = fb.conns[len(fb.conns)-1].Close()
	}
}

func (fb *fakeBackend) dialCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dials
}

func testOptions() Options {
	return Options{
		Keepalive:     50 * time.Millisecond,
		PongWatchdog:  200 * time.Millisecond,
		ReconnectBase: 20 * time.Millisecond,
		ReconnectCap:  100 * time.Millisecond,
	}
}

func waitState(t *testing.T, ch <-chan bus.Event, want status.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind != "conn.state_changed" {
				continue
			}
			if change, ok := evt.Payload.(status.StatusChange); ok && change.To == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %s", want)
		}
	}
}

func TestConnectAndReceiveFrame(t *testing.T) {
	fb := newFakeBackend(t)
	b := bus.New()
	machine := status.NewMachine(b)
	m := NewManager(fb.wsURL(), testOptions(), b, machine, zap.NewNop())

	stateCh, unsubState := b.Subscribe("conn.state_changed", 32)
	defer unsubState()
	frameCh, unsubFrames := b.Subscribe("wire.", 32)
	defer unsubFrames()

	m.Connect()
	defer m.Disconnect()
	waitState(t, stateCh, status.Open)

	env, err := protocol.NewEnvelope(protocol.EvtNewMessage, protocol.Message{
		ID: "m1", ChatID: "c1", Type: "text", Timestamp: 1700000000, Text: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	fb.push(env)

	select {
	case evt := <-frameCh:
		frame, ok := evt.Payload.(protocol.Envelope)
		if !ok {
			t.Fatalf("payload type %T", evt.Payload)
		}
		if frame.Event != protocol.EvtNewMessage {
			t.Errorf("frame event = %q", frame.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for wire frame")
	}
}

func TestPongIsNotForwarded(t *testing.T) {
	fb := newFakeBackend(t)
	b := bus.New()
	machine := status.NewMachine(b)
	m := NewManager(fb.wsURL(), testOptions(), b, machine, zap.NewNop())

	stateCh, unsubState := b.Subscribe("conn.state_changed", 32)
	defer unsubState()
	frameCh, unsubFrames := b.Subscribe("wire.", 32)
	defer unsubFrames()

	m.Connect()
	defer m.Disconnect()
	waitState(t, stateCh, status.Open)

	// Give the keepalive at least one ping/pong round.
	time.Sleep(150 * time.Millisecond)

	select {
	case evt := <-frameCh:
		t.Errorf("unexpected frame on bus: %v", evt.Payload)
	default:
	}
}

func TestReconnectAfterSever(t *testing.T) {
	fb := newFakeBackend(t)
	b := bus.New()
	machine := status.NewMachine(b)
	m := NewManager(fb.wsURL(), testOptions(), b, machine, zap.NewNop())

	stateCh, unsub := b.Subscribe("conn.state_changed", 64)
	defer unsub()

	m.Connect()
	defer m.Disconnect()
	waitState(t, stateCh, status.Open)

	fb.severLatest()
	waitState(t, stateCh, status.Reconnecting)
	waitState(t, stateCh, status.Open)

	if fb.dialCount() < 2 {
		t.Errorf("dials = %d, want >= 2", fb.dialCount())
	}
}

func TestSendWhileClosed(t *testing.T) {
	b := bus.New()
	machine := status.NewMachine(b)
	m := NewManager("ws://127.0.0.1:1/ws", testOptions(), b, machine, zap.NewNop())

	err := m.Send(protocol.CmdGetChats, nil)
	if err != ErrNotOpen {
		t.Errorf("Send while closed = %v, want ErrNotOpen", err)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	fb := newFakeBackend(t)
	b := bus.New()
	machine := status.NewMachine(b)
	m := NewManager(fb.wsURL(), testOptions(), b, machine, zap.NewNop())

	stateCh, unsub := b.Subscribe("conn.state_changed", 64)
	defer unsub()

	m.Connect()
	waitState(t, stateCh, status.Open)

	m.Disconnect()
	waitState(t, stateCh, status.Disconnected)

	dials := fb.dialCount()
	time.Sleep(300 * time.Millisecond)
	if fb.dialCount() != dials {
		t.Errorf("dials grew after Disconnect: %d -> %d", dials, fb.dialCount())
	}
	if machine.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", machine.Current())
	}
}

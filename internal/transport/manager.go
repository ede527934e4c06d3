package transport

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opsdesk/chatd/internal/bus"
	"github.com/opsdesk/chatd/internal/protocol"
	"github.com/opsdesk/chatd/internal/status"
	"go.uber.org/zap"
)

// ErrNotOpen is returned by Send when the connection is not open.
// Callers that must not lose the action queue it through the outbox.
var ErrNotOpen = errors.New("connection not open")

// ErrSendBufferFull is returned when the outbound write buffer is full.
var ErrSendBufferFull = errors.New("send buffer full")

// Options holds the connection timers.
type Options struct {
	Keepalive     time.Duration
	PongWatchdog  time.Duration
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
}

// Manager owns the single websocket connection to the messaging
// backend. It hides drops and retries from the rest of the engine:
// any close short of an explicit Disconnect leads to a reconnect with
// exponential backoff.
type Manager struct {
	url     string
	opts    Options
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	dialer  *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	sendCh    chan protocol.Envelope
	stop      chan struct{}
	manual    bool
	attempt   int
	reconnect *time.Timer
	rng       *rand.Rand
}

// NewManager creates a connection manager. Connect must be called to
// establish the connection.
func NewManager(url string, opts Options, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Manager {
	return &Manager{
		url:     url,
		opts:    opts,
		bus:     b,
		machine: machine,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Connect opens the connection. No-op if already Open or Connecting.
func (m *Manager) Connect() {
	m.mu.Lock()
	current := m.machine.Current()
	if current == status.Open || current == status.Connecting {
		m.mu.Unlock()
		return
	}
	m.manual = false
	m.mu.Unlock()

	if err := m.machine.Transition(status.Connecting); err != nil {
		m.logger.Warn("connect skipped", zap.Error(err))
		return
	}
	go m.dial()
}

// Disconnect tears the connection down and suppresses auto-reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		// Close unblocks the read pump; teardown completes there.
		_ = conn.Close()
		return
	}
	if m.machine.Current() != status.Disconnected {
		_ = m.machine.Transition(status.Disconnected)
	}
}

// Send serializes payload into an envelope and queues it on the wire.
// Returns ErrNotOpen when the connection is down.
func (m *Manager) Send(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return m.enqueue(env)
}

// SendRaw sends a pre-marshaled payload; used by the outbox when
// flushing persisted actions.
func (m *Manager) SendRaw(event string, data json.RawMessage) error {
	return m.enqueue(protocol.Envelope{Event: event, Data: data})
}

func (m *Manager) enqueue(env protocol.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil || m.machine.Current() != status.Open {
		return ErrNotOpen
	}
	select {
	case m.sendCh <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (m *Manager) dial() {
	conn, _, err := m.dialer.Dial(m.url, nil)
	if err != nil {
		m.logger.Warn("dial failed", zap.String("url", m.url), zap.Error(err))
		_ = m.machine.Transition(status.Reconnecting)
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.sendCh = make(chan protocol.Envelope, 64)
	m.stop = make(chan struct{})
	m.attempt = 0
	sendCh, stop := m.sendCh, m.stop
	m.mu.Unlock()

	if err := m.machine.Transition(status.Open); err != nil {
		// Disconnect raced the dial; drop the fresh connection.
		_ = conn.Close()
		return
	}
	m.logger.Info("connection open", zap.String("url", m.url))
	m.bus.Publish(bus.Event{Kind: "conn.open", Timestamp: time.Now()})

	pongCh := make(chan struct{}, 1)
	go m.readPump(conn, pongCh)
	go m.writePump(conn, sendCh, stop)
	go m.keepalive(conn, sendCh, pongCh, stop)
}

func (m *Manager) readPump(conn *websocket.Conn, pongCh chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.connClosed(conn, err)
			return
		}

		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if env.Event == protocol.EvtPong {
			select {
			case pongCh <- struct{}{}:
			default:
			}
			continue
		}
		m.bus.Publish(bus.Event{Kind: "wire.frame", Timestamp: time.Now(), Payload: env})
	}
}

func (m *Manager) writePump(conn *websocket.Conn, sendCh chan protocol.Envelope, stop chan struct{}) {
	for {
		select {
		case env := <-sendCh:
			if err := conn.WriteJSON(env); err != nil {
				m.logger.Warn("write failed", zap.String("event", env.Event), zap.Error(err))
				m.connClosed(conn, err)
				return
			}
		case <-stop:
			return
		}
	}
}

// keepalive sends an application-level Ping every interval and arms a
// watchdog; a missed PONG force-closes the connection, which the read
// pump treats like any network close.
func (m *Manager) keepalive(conn *websocket.Conn, sendCh chan protocol.Envelope, pongCh, stop chan struct{}) {
	ticker := time.NewTicker(m.opts.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Discard any pong left over from a previous round.
			select {
			case <-pongCh:
			default:
			}

			select {
			case sendCh <- protocol.Envelope{Event: protocol.CmdPing}:
			default:
				m.logger.Warn("keepalive skipped, send buffer full")
				continue
			}

			watchdog := time.NewTimer(m.opts.PongWatchdog)
			select {
			case <-pongCh:
				watchdog.Stop()
			case <-watchdog.C:
				m.logger.Warn("pong watchdog fired, closing connection")
				_ = conn.Close()
				return
			case <-stop:
				watchdog.Stop()
				return
			}
		case <-stop:
			return
		}
	}
}

// connClosed runs the per-connection teardown exactly once and decides
// between explicit shutdown and auto-reconnect.
func (m *Manager) connClosed(conn *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	close(m.stop)
	manual := m.manual
	m.mu.Unlock()

	_ = conn.Close()
	m.logger.Info("connection closed", zap.Error(cause), zap.Bool("manual", manual))
	m.bus.Publish(bus.Event{Kind: "conn.closed", Timestamp: time.Now()})

	if manual {
		_ = m.machine.Transition(status.Disconnected)
		return
	}
	_ = m.machine.Transition(status.Reconnecting)
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.manual {
		return
	}
	delay := nextDelay(m.rng, m.opts.ReconnectBase, m.opts.ReconnectCap, m.attempt)
	m.attempt++
	m.logger.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", m.attempt))
	m.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		manual := m.manual
		m.mu.Unlock()
		if manual {
			return
		}
		m.Connect()
	})
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opsdesk/chatd/internal/bus"
	"github.com/opsdesk/chatd/internal/chat"
	"github.com/opsdesk/chatd/internal/status"
	"github.com/opsdesk/chatd/internal/store"
	"go.uber.org/zap"
)

type nullSender struct{}

func (nullSender) Send(event string, payload any) error { return nil }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	b := bus.New()
	machine := status.NewMachine(b)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	engine := chat.NewEngine(chat.Options{
		PageSize:       30,
		MaxTextLen:     4095,
		TypingTTL:      5 * time.Second,
		SearchDebounce: 10 * time.Millisecond,
		QueueCapacity:  4,
	}, nullSender{}, db, b, machine,
		func(ctx context.Context) (chat.Participant, error) {
			return chat.Participant{ID: "me"}, nil
		},
		func(ctx context.Context, req chat.UploadRequest) error { return nil },
		zap.NewNop())
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	s := NewServer("127.0.0.1:0", engine, db, b, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.hub.run(ctx)
	go s.forward(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestStateEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/state")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var snap chat.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ConnState != status.Disconnected {
		t.Errorf("conn state = %s", snap.ConnState)
	}
}

func TestWebsocketSnapshotAndCommand(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first notification
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "snapshot" || first.State == nil {
		t.Fatalf("first frame = %+v", first)
	}

	// A send without an open conversation surfaces as an action result.
	if err := conn.WriteJSON(map[string]string{"action": "send", "text": "hi"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var n notification
		if err := conn.ReadJSON(&n); err != nil {
			t.Fatal(err)
		}
		if n.Type != "action" {
			continue
		}
		var res chat.ActionResult
		if err := json.Unmarshal(n.Data, &res); err != nil {
			t.Fatal(err)
		}
		if res.Op != "send" || res.Status != "error" {
			t.Fatalf("result = %+v", res)
		}
		return
	}
	t.Fatal("no action result received")
}

func TestUnknownCommandIgnored(t *testing.T) {
	s, _ := newTestServer(t)
	// Must not panic or emit anything.
	s.handleCommand([]byte(`{"action":"bogus"}`))
	s.handleCommand([]byte(`not json`))
}

func TestHubStopsOnContextCancel(t *testing.T) {
	h := newHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		h.run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub loop did not stop")
	}

	// Late unregisters from closing sockets must not block either.
	done := make(chan struct{})
	go func() {
		c := &client{hub: h, send: make(chan []byte, 1)}
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister blocked after hub stop")
	}
}

func TestTemplateSearchEndpoint(t *testing.T) {
	s, ts := newTestServer(t)
	if err := s.db.ReplaceTemplates([]store.Template{
		{ID: "t1", Title: "Greeting", Body: "Hello, how can I help?"},
		{ID: "t2", Title: "Closing", Body: "Thanks for reaching out"},
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/v1/templates/search?q=help")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var matches []store.TemplateMatch
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Template.ID != "t1" {
		t.Fatalf("matches = %+v", matches)
	}

	resp2, err := http.Get(ts.URL + "/v1/templates/search")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("missing query status = %d", resp2.StatusCode)
	}
}

// Package gateway exposes the engine to local collaborators: a
// websocket that streams state change notifications and accepts
// commands, plus a plain JSON endpoint for one-shot state reads.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/opsdesk/chatd/internal/bus"
	"github.com/opsdesk/chatd/internal/chat"
	"github.com/opsdesk/chatd/internal/store"
	"go.uber.org/zap"
)

// notification is the frame pushed to collaborators on every state
// change: the change kind plus a full snapshot, so clients never need
// to patch state incrementally.
type notification struct {
	Type  string          `json:"type"`
	Kind  string          `json:"kind,omitempty"`
	State *chat.Snapshot  `json:"state,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// commandFrame is the inbound collaborator command.
type commandFrame struct {
	Action     string `json:"action"`
	ChatID     string `json:"chatId,omitempty"`
	Text       string `json:"text,omitempty"`
	Query      string `json:"query,omitempty"`
	Typing     bool   `json:"typing,omitempty"`
	TemplateID string `json:"templateId,omitempty"`
	Title      string `json:"title,omitempty"`
	Body       string `json:"body,omitempty"`
	To         []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"to,omitempty"`
}

// Server serves the collaborator surface on the loopback listener.
type Server struct {
	engine   *chat.Engine
	bus      *bus.Bus
	db       *store.DB
	logger   *zap.Logger
	hub      *hub
	upgrader websocket.Upgrader
	srv      *http.Server
	cancel   context.CancelFunc
}

// NewServer creates the gateway for the given listen address.
func NewServer(addr string, engine *chat.Engine, db *store.DB, b *bus.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		bus:    b,
		db:     db,
		logger: logger,
		hub:    newHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Loopback-only listener; browser origin checks do not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/v1/templates/search", s.handleTemplateSearch)
	mux.HandleFunc("/v1/ws", s.handleWS)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the hub, the bus forwarder and the HTTP listener.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.hub.run(ctx)
	go s.forward(ctx)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway listener failed", zap.Error(err))
		}
	}()
	s.logger.Info("gateway listening", zap.String("addr", s.srv.Addr))
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// forward relays engine and connection events to collaborator sockets.
func (s *Server) forward(ctx context.Context) {
	chatCh, unsubChat := s.bus.Subscribe("chat.", 128)
	actionCh, unsubAction := s.bus.Subscribe("action.", 64)
	connCh, unsubConn := s.bus.Subscribe("conn.", 64)
	defer unsubChat()
	defer unsubAction()
	defer unsubConn()

	for {
		select {
		case evt := <-chatCh:
			s.push(notification{Type: "update", Kind: evt.Kind, State: s.engine.Snapshot()})
		case evt := <-actionCh:
			if res, ok := evt.Payload.(chat.ActionResult); ok {
				data, err := json.Marshal(res)
				if err != nil {
					continue
				}
				s.push(notification{Type: "action", Kind: evt.Kind, Data: data})
			}
		case evt := <-connCh:
			s.push(notification{Type: "conn", Kind: evt.Kind, State: s.engine.Snapshot()})
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) push(n notification) {
	msg, err := json.Marshal(n)
	if err != nil {
		s.logger.Warn("notification marshal failed", zap.Error(err))
		return
	}
	select {
	case s.hub.broadcast <- msg:
	default:
		s.logger.Warn("gateway broadcast backlog, dropping notification", zap.String("kind", n.Kind))
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.engine.Snapshot()); err != nil {
		s.logger.Warn("state write failed", zap.Error(err))
	}
}

// handleTemplateSearch serves full-text search over the local template
// cache, so collaborators can filter canned replies without a backend
// round trip.
func (s *Server) handleTemplateSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing query", http.StatusBadRequest)
		return
	}
	matches, err := s.db.SearchTemplates(query, 20)
	if err != nil {
		s.logger.Warn("template search failed", zap.String("query", query), zap.Error(err))
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if matches == nil {
		matches = []store.TemplateMatch{}
	}
	if err := json.NewEncoder(w).Encode(matches); err != nil {
		s.logger.Warn("template search write failed", zap.Error(err))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, clientSendBuf), srv: s}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		_ = conn.Close()
		return
	}

	// Every new collaborator starts from a full snapshot.
	if initial, err := json.Marshal(notification{Type: "snapshot", State: s.engine.Snapshot()}); err == nil {
		c.send <- initial
	}

	go c.writePump()
	go c.readPump()
}

// handleCommand maps one collaborator command onto the engine facade.
// Validation errors surface back through action results on the bus.
func (s *Server) handleCommand(raw []byte) {
	var cmd commandFrame
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.logger.Warn("bad collaborator command", zap.Error(err))
		return
	}

	var err error
	switch cmd.Action {
	case "open":
		err = s.engine.OpenConversation(cmd.ChatID)
	case "close":
		s.engine.CloseConversation()
	case "loadMore":
		s.engine.LoadMore()
	case "send":
		err = s.engine.SendText(cmd.Text)
	case "sendTemplate":
		err = s.engine.SendTemplate(cmd.TemplateID)
	case "typing":
		s.engine.Typing(cmd.Typing)
	case "searchChats":
		s.engine.SearchConversations(cmd.Query)
	case "searchContacts":
		s.engine.SearchContacts(cmd.Query)
	case "markAllRead":
		s.engine.MarkAllRead()
	case "createTemplate":
		err = s.engine.CreateTemplate(cmd.Title, cmd.Body)
	case "updateTemplate":
		err = s.engine.UpdateTemplate(cmd.TemplateID, cmd.Title, cmd.Body)
	case "deleteTemplate":
		err = s.engine.DeleteTemplate(cmd.TemplateID)
	case "transfer":
		to := make([]chat.Participant, len(cmd.To))
		for i, u := range cmd.To {
			to[i] = chat.Participant{ID: u.ID, Name: u.Name}
		}
		err = s.engine.Transfer(cmd.ChatID, to)
	default:
		s.logger.Debug("unknown collaborator command", zap.String("action", cmd.Action))
		return
	}

	if err != nil {
		s.logger.Debug("command rejected",
			zap.String("action", cmd.Action),
			zap.Error(err))
		if data, merr := json.Marshal(chat.ActionResult{
			Op:       cmd.Action,
			Status:   "error",
			Severity: "warning",
			Message:  err.Error(),
		}); merr == nil {
			s.push(notification{Type: "action", Kind: "action.result", Data: data})
		}
	}
}

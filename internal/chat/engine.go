package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/opsdesk/chatd/internal/bus"
	"github.com/opsdesk/chatd/internal/protocol"
	"github.com/opsdesk/chatd/internal/status"
	"github.com/opsdesk/chatd/internal/store"
	"github.com/opsdesk/chatd/internal/transport"
	"go.uber.org/zap"
)

// Facade validation errors. These are the only errors that cross the
// operation boundary; everything else surfaces as ActionResult events.
var (
	ErrTextTooLong  = errors.New("message exceeds maximum length")
	ErrEmptyInput   = errors.New("empty input")
	ErrNoRecipients = errors.New("transfer needs at least one recipient")
)

// Sender hands an outbound event to the transport. Implementations
// return transport.ErrNotOpen while the connection is down.
type Sender interface {
	Send(event string, payload any) error
}

// IdentityFunc fetches this agent's identity out of band; the engine
// only requests conversation lists once it has it.
type IdentityFunc func(ctx context.Context) (Participant, error)

// UploadRequest describes an out-of-band file send. The transfer goes
// through a plain upload endpoint, not the multiplexed connection.
type UploadRequest struct {
	ChatID   string
	Author   Participant
	FileName string
	Content  io.Reader
	Caption  string
}

// UploadFunc performs the out-of-band upload.
type UploadFunc func(ctx context.Context, req UploadRequest) error

// Options holds engine tunables.
type Options struct {
	PageSize       int
	MaxTextLen     int
	TypingTTL      time.Duration
	SearchDebounce time.Duration
	QueueCapacity  int
}

type command struct {
	fn   func()
	done chan struct{}
}

type pendingSend struct {
	ChatID   string
	Text     string
	IssuedAt time.Time
}

// Engine is the chat synchronization actor. It owns all published
// state; inbound frames, facade commands and janitor ticks are
// serialized through its run loop, so reducers never race.
type Engine struct {
	opts     Options
	bus      *bus.Bus
	machine  *status.Machine
	sender   Sender
	db       *store.DB
	logger   *zap.Logger
	identity IdentityFunc
	upload   UploadFunc

	cmds     chan command
	ctx      context.Context
	cancel   context.CancelFunc
	snapshot atomic.Pointer[Snapshot]
	reducers map[string]func(protocol.Envelope)

	// State below is owned by the run goroutine.
	me             *Participant
	directory      *Directory
	timeline       *Timeline
	typing         *TypingTracker
	pending        map[string]pendingSend
	templates      []Template
	searchConvs    []*Summary
	searchContacts []Participant
	searchQueries  map[string]string
	searchTimers   map[string]*time.Timer
}

// NewEngine creates the engine. Start must be called before use.
func NewEngine(opts Options, sender Sender, db *store.DB, b *bus.Bus, machine *status.Machine, identity IdentityFunc, upload UploadFunc, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		opts:          opts,
		bus:           b,
		machine:       machine,
		sender:        sender,
		db:            db,
		logger:        logger,
		identity:      identity,
		upload:        upload,
		cmds:          make(chan command, 128),
		ctx:           context.Background(),
		directory:     NewDirectory(),
		timeline:      NewTimeline(opts.PageSize),
		typing:        NewTypingTracker(opts.TypingTTL),
		pending:       make(map[string]pendingSend),
		searchQueries: make(map[string]string),
		searchTimers:  make(map[string]*time.Timer),
	}
	e.reducers = e.buildReducers()
	e.snapshot.Store(&Snapshot{ConnState: machine.Current()})
	return e
}

// Start runs the engine loop until the context is canceled or Stop is
// called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.ctx = ctx
	wireCh, unsubWire := e.bus.Subscribe("wire.", 256)
	connCh, unsubConn := e.bus.Subscribe("conn.", 64)

	go func() {
		defer unsubWire()
		defer unsubConn()

		e.loadCache()
		e.publish("chat.directory", "chat.templates")

		janitor := time.NewTicker(time.Second)
		defer janitor.Stop()

		for {
			select {
			case cmd := <-e.cmds:
				cmd.fn()
				if cmd.done != nil {
					close(cmd.done)
				}
			case evt := <-wireCh:
				if env, ok := evt.Payload.(protocol.Envelope); ok {
					e.dispatch(env)
				}
			case evt := <-connCh:
				e.handleConn(ctx, evt)
			case <-janitor.C:
				e.expireTyping(time.Now())
			case <-ctx.Done():
				for _, timer := range e.searchTimers {
					timer.Stop()
				}
				return
			}
		}
	}()
}

// Stop stops the engine loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Snapshot returns the latest published state. Never nil.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// post hands a command to the run goroutine. After Stop the command is
// discarded instead of blocking the caller on a full channel.
func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- command{fn: fn}:
	case <-e.ctx.Done():
	}
}

// barrier blocks until all previously posted commands have run.
func (e *Engine) barrier() {
	done := make(chan struct{})
	select {
	case e.cmds <- command{fn: func() {}, done: done}:
	case <-e.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-e.ctx.Done():
	}
}

// dispatch routes an inbound envelope to its reducer. Unknown tags
// are ignored.
func (e *Engine) dispatch(env protocol.Envelope) {
	reducer, ok := e.reducers[env.Event]
	if !ok {
		e.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
		return
	}
	reducer(env)
}

func (e *Engine) handleConn(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "conn.open":
		go e.bootstrap(ctx)
	case "conn.state_changed", "conn.closed":
		e.publish("chat.conn")
	}
}

// bootstrap fetches the agent identity out of band, then requests the
// directory snapshots. Runs off the engine goroutine; results are
// posted back as commands.
func (e *Engine) bootstrap(ctx context.Context) {
	var me Participant
	for {
		var err error
		me, err = e.identity(ctx)
		if err == nil {
			break
		}
		e.logger.Warn("identity fetch failed", zap.Error(err))
		select {
		case <-time.After(3 * time.Second):
		case <-ctx.Done():
			return
		}
		if e.machine.Current() != status.Open {
			return
		}
	}

	e.post(func() {
		e.me = &me
		e.sendNow(protocol.CmdGetChats, nil)
		e.sendNow(protocol.CmdGetWorkAppeals, nil)
		e.sendNow(protocol.CmdGetTemplates, nil)
		e.publish("chat.identity")
	})
}

// OpenConversation makes the target the open conversation: zero its
// unread count, emit a read receipt and request its first page.
func (e *Engine) OpenConversation(id string) error {
	if id == "" {
		return ErrEmptyInput
	}
	e.post(func() {
		if e.timeline.ChatID() == id {
			return
		}
		if prev := e.timeline.ChatID(); prev != "" {
			e.typing.ClearChat(prev)
		}
		e.timeline.Open(id)
		e.directory.ClearUnread(id)
		e.warmTimeline(id)
		e.sendNow(protocol.CmdReadMessages, protocol.ReadMessagesRequest{ChatID: id})
		e.sendNow(protocol.CmdGetMessages, protocol.GetMessagesRequest{ChatID: id, Limit: e.timeline.Limit()})
		e.publish("chat.timeline", "chat.directory")
	})
	return nil
}

// CloseConversation detaches the timeline.
func (e *Engine) CloseConversation() {
	e.post(func() {
		if id := e.timeline.ChatID(); id != "" {
			e.typing.ClearChat(id)
		}
		e.timeline.Close()
		e.publish("chat.timeline")
	})
}

// LoadMore widens the open conversation's page window by one page and
// re-issues the fetch. The stale-response guard makes retries safe.
func (e *Engine) LoadMore() {
	e.post(func() {
		id := e.timeline.ChatID()
		if id == "" {
			return
		}
		limit := e.timeline.GrowLimit()
		e.sendNow(protocol.CmdGetMessages, protocol.GetMessagesRequest{ChatID: id, Limit: limit})
	})
}

// SendText sends a text message to the open conversation. Oversize
// text is rejected before any transport send.
func (e *Engine) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	if utf8.RuneCountInString(text) > e.opts.MaxTextLen {
		return ErrTextTooLong
	}
	e.post(func() {
		chatID := e.timeline.ChatID()
		if chatID == "" {
			e.result("send", "error", "warning", "no open conversation")
			return
		}
		key := uuid.NewString()
		e.pending[key] = pendingSend{ChatID: chatID, Text: text, IssuedAt: time.Now()}
		e.sendOrQueue("send", protocol.CmdSendMessage, protocol.SendMessageRequest{
			ChatID:    chatID,
			Type:      MsgText,
			Text:      text,
			SecretKey: key,
		}, key)
	})
	return nil
}

// SendTemplate sends a canned reply to the open conversation.
func (e *Engine) SendTemplate(templateID string) error {
	if templateID == "" {
		return ErrEmptyInput
	}
	e.post(func() {
		chatID := e.timeline.ChatID()
		if chatID == "" {
			e.result("send", "error", "warning", "no open conversation")
			return
		}
		key := uuid.NewString()
		e.pending[key] = pendingSend{ChatID: chatID, IssuedAt: time.Now()}
		e.sendOrQueue("send", protocol.CmdSendMessage, protocol.SendMessageRequest{
			ChatID:     chatID,
			Type:       MsgTemplate,
			TemplateID: templateID,
			SecretKey:  key,
		}, key)
	})
	return nil
}

// SendFile uploads a file out of band; conversation and author travel
// alongside the multipart body. The resulting message arrives later as
// a regular push event.
func (e *Engine) SendFile(name string, content io.Reader, caption string) error {
	if name == "" || content == nil {
		return ErrEmptyInput
	}
	e.post(func() {
		chatID := e.timeline.ChatID()
		if chatID == "" {
			e.result("send_file", "error", "warning", "no open conversation")
			return
		}
		if e.me == nil {
			e.result("send_file", "error", "warning", "identity not loaded")
			return
		}
		req := UploadRequest{
			ChatID:   chatID,
			Author:   *e.me,
			FileName: name,
			Content:  content,
			Caption:  caption,
		}
		go func() {
			if err := e.upload(context.Background(), req); err != nil {
				e.logger.Warn("file upload failed", zap.String("file", name), zap.Error(err))
				e.post(func() { e.result("send_file", "error", "error", err.Error()) })
				return
			}
			e.post(func() { e.result("send_file", "ok", "info", "") })
		}()
	})
	return nil
}

// Typing reports this agent's typing state for the open conversation.
// Debouncing is the collaborator's concern.
func (e *Engine) Typing(active bool) {
	e.post(func() {
		id := e.timeline.ChatID()
		if id == "" {
			return
		}
		e.sendNow(protocol.CmdTyping, protocol.TypingRequest{ChatID: id, Typing: active})
	})
}

// SearchConversations issues a debounced server-side conversation
// search. An empty query clears the working list.
func (e *Engine) SearchConversations(query string) {
	e.search("conversations", protocol.CmdSearchChats, query)
}

// SearchContacts issues a debounced server-side contact search.
func (e *Engine) SearchContacts(query string) {
	e.search("contacts", protocol.CmdSearchContacts, query)
}

func (e *Engine) search(kind, cmd, query string) {
	e.post(func() {
		if t := e.searchTimers[kind]; t != nil {
			t.Stop()
		}
		if strings.TrimSpace(query) == "" {
			delete(e.searchQueries, kind)
			if kind == "conversations" {
				e.searchConvs = nil
			} else {
				e.searchContacts = nil
			}
			e.publish("chat.search")
			return
		}
		e.searchQueries[kind] = query
		e.searchTimers[kind] = time.AfterFunc(e.opts.SearchDebounce, func() {
			e.post(func() {
				q, ok := e.searchQueries[kind]
				if !ok {
					return
				}
				e.sendNow(cmd, protocol.SearchRequest{Query: q})
			})
		})
	})
}

// MarkAllRead asks the backend to clear every unread counter; local
// state resets on its confirmation event.
func (e *Engine) MarkAllRead() {
	e.post(func() {
		e.sendOrQueue("mark_all_read", protocol.CmdMarkAllRead, protocol.StatusEvent{}, uuid.NewString())
	})
}

// CreateTemplate sends a template creation request.
func (e *Engine) CreateTemplate(title, body string) error {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return ErrEmptyInput
	}
	e.post(func() {
		e.sendOrQueue("template_create", protocol.CmdCreateTemplate,
			protocol.TemplateRequest{Title: title, Body: body}, uuid.NewString())
	})
	return nil
}

// UpdateTemplate sends a template update request.
func (e *Engine) UpdateTemplate(id, title, body string) error {
	if id == "" {
		return ErrEmptyInput
	}
	e.post(func() {
		e.sendOrQueue("template_update", protocol.CmdUpdateTemplate,
			protocol.TemplateRequest{ID: id, Title: title, Body: body}, uuid.NewString())
	})
	return nil
}

// DeleteTemplate sends a template deletion request.
func (e *Engine) DeleteTemplate(id string) error {
	if id == "" {
		return ErrEmptyInput
	}
	e.post(func() {
		e.sendOrQueue("template_delete", protocol.CmdDeleteTemplate,
			protocol.TemplateRequest{ID: id}, uuid.NewString())
	})
	return nil
}

// Transfer initiates a handoff of the conversation to the candidate
// recipient set, carrying the latest message as context.
func (e *Engine) Transfer(chatID string, to []Participant) error {
	if chatID == "" {
		return ErrEmptyInput
	}
	if len(to) == 0 {
		return ErrNoRecipients
	}
	e.post(func() {
		s := e.directory.Get(chatID)
		if s == nil {
			e.result("transfer", "error", "warning", "unknown conversation")
			return
		}
		var from Participant
		if e.me != nil {
			from = *e.me
		}
		s.PendingTransfer = &Transfer{ChatID: chatID, From: from, To: to, Message: s.Last}
		e.sendOrQueue("transfer", protocol.CmdTransferChat, protocol.TransferRequest{
			ChatID:  chatID,
			To:      toWireUsers(to),
			Message: toWireMessage(s.Last),
		}, uuid.NewString())
		e.publish("chat.directory")
	})
	return nil
}

// sendNow fires an ephemeral event directly; failures are logged only,
// since these requests are re-issued on the next reconnect.
func (e *Engine) sendNow(event string, payload any) {
	if err := e.sender.Send(event, payload); err != nil {
		e.logger.Debug("send skipped", zap.String("event", event), zap.Error(err))
	}
}

// sendOrQueue sends an action, falling back to the persistent outbound
// queue while the connection is down. A full queue surfaces as a
// visible result instead of a silent drop.
func (e *Engine) sendOrQueue(op, event string, payload any, key string) {
	err := e.sender.Send(event, payload)
	if err == nil {
		return
	}
	if !errors.Is(err, transport.ErrNotOpen) {
		e.result(op, "error", "error", err.Error())
		return
	}

	raw, merr := json.Marshal(payload)
	if merr != nil {
		e.result(op, "error", "error", merr.Error())
		return
	}
	qerr := e.db.EnqueueAction(key, event, raw, e.opts.QueueCapacity)
	switch {
	case errors.Is(qerr, store.ErrQueueFull):
		e.result(op, "error", "warning", "offline queue full, action dropped")
	case qerr != nil:
		e.result(op, "error", "error", qerr.Error())
	default:
		e.result(op, "ok", "info", "queued until reconnect")
	}
}

func (e *Engine) result(op, resultStatus, severity, message string) {
	e.bus.Publish(bus.Event{
		Kind:      "action.result",
		Timestamp: time.Now(),
		Payload:   ActionResult{Op: op, Status: resultStatus, Severity: severity, Message: message},
	})
}

// publish rebuilds the snapshot and announces the change kinds.
func (e *Engine) publish(kinds ...string) {
	e.snapshot.Store(e.buildSnapshot())
	now := time.Now()
	for _, kind := range kinds {
		e.bus.Publish(bus.Event{Kind: kind, Timestamp: now})
	}
}

func (e *Engine) expireTyping(now time.Time) {
	expired := e.typing.Expire(now)
	if len(expired) == 0 {
		return
	}
	for _, key := range expired {
		e.directory.SetTyping(key.ChatID, key.UserID, false)
	}
	e.publish("chat.typing")
}

// warmTimeline pre-fills a freshly opened conversation from the local
// cache while the authoritative page fetch is in flight.
func (e *Engine) warmTimeline(id string) {
	if e.db == nil {
		return
	}
	cached, err := e.db.RecentMessages(id, e.timeline.Limit())
	if err != nil || len(cached) == 0 {
		return
	}
	msgs := make([]*Message, 0, len(cached))
	for _, c := range cached {
		var m Message
		if jerr := json.Unmarshal(c.Payload, &m); jerr != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	e.timeline.Replace(id, msgs, len(msgs))
}

// loadCache restores directory summaries and templates for warm start.
func (e *Engine) loadCache() {
	if e.db == nil {
		return
	}
	for _, kind := range []Kind{KindClient, KindColleague} {
		cached, err := e.db.ListChats(string(kind))
		if err != nil {
			e.logger.Warn("chat cache load failed", zap.Error(err))
			continue
		}
		for _, c := range cached {
			s := &Summary{ID: c.ID, Kind: kind, Unread: c.Unread}
			if len(c.LastMessage) > 0 {
				var m Message
				if jerr := json.Unmarshal(c.LastMessage, &m); jerr == nil && m.ID != "" {
					s.Last = &m
				}
			}
			if len(c.Members) > 0 {
				_ = json.Unmarshal(c.Members, &s.Members)
			}
			e.directory.Upsert(s)
		}
	}

	templates, err := e.db.ListTemplates()
	if err != nil {
		e.logger.Warn("template cache load failed", zap.Error(err))
		return
	}
	for _, t := range templates {
		e.templates = append(e.templates, Template{ID: t.ID, Title: t.Title, Body: t.Body})
	}
}

func (e *Engine) persistChat(s *Summary) {
	if e.db == nil {
		return
	}
	c := &store.CachedChat{ID: s.ID, Kind: string(s.Kind), Unread: s.Unread}
	if s.Last != nil {
		if raw, err := json.Marshal(s.Last); err == nil {
			c.LastMessage = raw
		}
	}
	if len(s.Members) > 0 {
		if raw, err := json.Marshal(s.Members); err == nil {
			c.Members = raw
		}
	}
	if err := e.db.UpsertChat(c); err != nil {
		e.logger.Warn("chat cache write failed", zap.String("chat", s.ID), zap.Error(err))
	}
}

func (e *Engine) persistMessages(msgs ...*Message) {
	if e.db == nil || len(msgs) == 0 {
		return
	}
	cached := make([]store.CachedMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		raw, err := json.Marshal(m)
		if err != nil {
			continue
		}
		cached = append(cached, store.CachedMessage{
			ChatID:    m.ChatID,
			MsgID:     m.ID,
			Payload:   raw,
			Timestamp: m.Timestamp,
		})
	}
	if err := e.db.UpsertMessages(cached); err != nil {
		e.logger.Warn("message cache write failed", zap.Error(err))
	}
}
